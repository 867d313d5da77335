package inference

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"math/rand"
	"strings"
)

// LocalEngine is the in-process fallback used for development and tests when
// no model sidecar is configured, mirroring the mock prediction path the
// hosted models fall back to. Output is deterministic for a given input and
// parameter tuple, which keeps it consistent with content-addressed caching.
type LocalEngine struct{}

// NewLocalEngine returns the heuristic engine.
func NewLocalEngine() *LocalEngine {
	return &LocalEngine{}
}

// Infer dispatches on operation.
func (e *LocalEngine) Infer(ctx context.Context, op Operation, text string, params Params) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	switch op {
	case OpDetect:
		return e.detect(text), nil
	case OpParaphrase:
		return e.paraphrase(text, params)
	default:
		return nil, fmt.Errorf("%w: unknown operation %q", ErrModel, op)
	}
}

// detect scores text with two cheap stylometric signals: sentence-length
// burstiness (humans vary more) and type-token ratio (humans repeat less).
// Uniform sentence lengths plus low vocabulary diversity reads as machine
// generated.
func (e *LocalEngine) detect(text string) *Result {
	words := strings.Fields(text)
	if len(words) == 0 {
		return &Result{Label: LabelHuman, Probability: 0.99}
	}

	sentences := splitSentences(text)
	var lengths []float64
	for _, s := range sentences {
		if n := len(strings.Fields(s)); n > 0 {
			lengths = append(lengths, float64(n))
		}
	}

	burstiness := coefficientOfVariation(lengths)

	unique := make(map[string]struct{}, len(words))
	for _, w := range words {
		unique[strings.ToLower(strings.Trim(w, ".,!?;:\"'"))] = struct{}{}
	}
	ttr := float64(len(unique)) / float64(len(words))

	// Map the signals into an "AI likelihood" in [0,1].
	score := clamp01(0.9 - burstiness - (ttr-0.5)*0.6)

	label := LabelHuman
	probability := 1 - score
	if score >= 0.5 {
		label = LabelAI
		probability = score
	}

	tokens := len(words)
	return &Result{
		Label:       label,
		Probability: round4(probability),
		InputTokens: tokens,
		TotalTokens: tokens,
	}
}

var contractions = map[string]string{
	"don't":   "do not",
	"doesn't": "does not",
	"didn't":  "did not",
	"can't":   "cannot",
	"won't":   "will not",
	"isn't":   "is not",
	"aren't":  "are not",
	"it's":    "it is",
	"that's":  "that is",
	"you're":  "you are",
	"we're":   "we are",
	"i'm":     "I am",
	"i've":    "I have",
	"they're": "they are",
}

var fillers = map[string]struct{}{
	"very": {}, "really": {}, "just": {}, "actually": {},
	"basically": {}, "quite": {}, "simply": {}, "rather": {},
}

var synonyms = map[string][]string{
	"big":       {"large", "substantial", "considerable"},
	"small":     {"little", "compact", "modest"},
	"good":      {"solid", "strong", "sound"},
	"bad":       {"poor", "weak", "flawed"},
	"fast":      {"quick", "rapid", "swift"},
	"slow":      {"sluggish", "gradual", "unhurried"},
	"important": {"significant", "essential", "critical"},
	"use":       {"employ", "apply", "utilize"},
	"show":      {"demonstrate", "reveal", "indicate"},
	"help":      {"assist", "aid", "support"},
	"make":      {"create", "produce", "build"},
	"think":     {"believe", "consider", "reckon"},
}

func (e *LocalEngine) paraphrase(text string, params Params) (*Result, error) {
	mode := params.Mode
	if mode == "" {
		mode = "standard"
	}
	if !validMode(mode) {
		return nil, fmt.Errorf("%w: unknown mode %q", ErrModel, mode)
	}

	words := strings.Fields(text)
	inputTokens := len(words)

	// The generator is seeded from the input and temperature so identical
	// requests produce identical output, matching cache semantics.
	seed := fnv.New64a()
	seed.Write([]byte(text))
	rng := rand.New(rand.NewSource(int64(seed.Sum64()) ^ int64(params.Temperature*1000)))

	out := make([]string, 0, len(words))
	for _, w := range words {
		lower := strings.ToLower(w)

		switch mode {
		case "formal":
			if expanded, ok := contractions[lower]; ok {
				out = append(out, expanded)
				continue
			}
		case "concise":
			if _, ok := fillers[lower]; ok {
				continue
			}
		}

		if alts, ok := synonyms[strings.Trim(lower, ".,!?;:")]; ok {
			pick := 0
			if mode == "creative" && params.Temperature > 0 {
				pick = rng.Intn(len(alts))
			}
			out = append(out, withCasing(w, alts[pick]))
			continue
		}

		out = append(out, w)
	}

	if params.MaxLength > 0 && len(out) > params.MaxLength {
		out = out[:params.MaxLength]
	}

	rewritten := strings.Join(out, " ")
	outputTokens := len(out)
	return &Result{
		ParaphrasedText: rewritten,
		Mode:            mode,
		InputTokens:     inputTokens,
		OutputTokens:    outputTokens,
		TotalTokens:     inputTokens + outputTokens,
	}, nil
}

func validMode(mode string) bool {
	for _, m := range ParaphraseModes {
		if m == mode {
			return true
		}
	}
	return false
}

// withCasing carries the original token's leading capital and trailing
// punctuation over to the replacement.
func withCasing(original, replacement string) string {
	if original == "" {
		return replacement
	}
	trailing := ""
	trimmed := strings.TrimRight(original, ".,!?;:")
	if len(trimmed) < len(original) {
		trailing = original[len(trimmed):]
	}
	if trimmed != "" && trimmed[0] >= 'A' && trimmed[0] <= 'Z' && replacement != "" {
		replacement = strings.ToUpper(replacement[:1]) + replacement[1:]
	}
	return replacement + trailing
}

func splitSentences(text string) []string {
	return strings.FieldsFunc(text, func(r rune) bool {
		return r == '.' || r == '!' || r == '?'
	})
}

func coefficientOfVariation(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	mean := sum / float64(len(values))
	if mean == 0 {
		return 0
	}
	var variance float64
	for _, v := range values {
		variance += (v - mean) * (v - mean)
	}
	variance /= float64(len(values))
	return math.Sqrt(variance) / mean
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}

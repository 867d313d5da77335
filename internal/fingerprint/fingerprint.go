// Package fingerprint derives content-addressed cache keys for inference
// requests. Identical input and parameters always map to the same key, no
// matter which user submitted them, so cached results are shared.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"regexp"
	"strings"
)

var (
	spaceRuns    = regexp.MustCompile(`[ \t]+`)
	newlineSpace = regexp.MustCompile("[ \t]*\n[ \t]*")
	blankRuns    = regexp.MustCompile(`\n\s*\n`)
	excessLines  = regexp.MustCompile(`\n{3,}`)
	controlRuns  = regexp.MustCompile("[\x00-\x08\x0b\x0c\x0e-\x1f\x7f]")
)

// canonical is the tuple hashed into a key. Field order is fixed and the
// encoder sorts nothing at runtime, so the byte stream is deterministic.
// User identity is deliberately absent.
type canonical struct {
	Text        string  `json:"text"`
	Mode        string  `json:"mode"`
	Temperature float64 `json:"temperature"`
	MaxLength   int     `json:"max_length"`
}

// Normalize cleans request text the same way the preprocessing pipeline
// does: collapse space runs, normalise blank-line runs, strip control
// characters, trim. Normalised text feeds both the word counter and the key.
func Normalize(text string) string {
	text = strings.TrimSpace(text)
	text = spaceRuns.ReplaceAllString(text, " ")
	text = newlineSpace.ReplaceAllString(text, "\n")
	text = blankRuns.ReplaceAllString(text, "\n\n")
	text = excessLines.ReplaceAllString(text, "\n\n")
	text = controlRuns.ReplaceAllString(text, "")
	return text
}

// Key computes the fixed-length, collision-resistant cache key for a request:
// "<op>:<sha256 hex>" over the canonical encoding of the normalised text and
// every output-affecting parameter.
func Key(operation, text, mode string, temperature float64, maxLength int) string {
	payload, _ := json.Marshal(canonical{
		Text:        Normalize(text),
		Mode:        mode,
		Temperature: temperature,
		MaxLength:   maxLength,
	})

	sum := sha256.Sum256(payload)
	return operation + ":" + hex.EncodeToString(sum[:])
}

// WordCount reports whitespace-delimited words in text, the unit the quota
// ledger meters.
func WordCount(text string) int64 {
	return int64(len(strings.Fields(text)))
}

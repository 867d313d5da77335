// Package inference defines the contract with the model collaborator. The
// gateway treats an Engine as a black box from input parameters to a result;
// model loading and tuning live elsewhere.
package inference

import (
	"context"
	"errors"
)

// Operation selects which model family handles a request.
type Operation string

const (
	OpDetect     Operation = "detect"
	OpParaphrase Operation = "paraphrase"
)

// Valid reports whether op names a known operation.
func (op Operation) Valid() bool {
	return op == OpDetect || op == OpParaphrase
}

// Paraphrase modes accepted by the engines.
var ParaphraseModes = []string{"standard", "formal", "casual", "creative", "concise"}

// Params carries every knob that affects model output. All of them feed the
// content fingerprint.
type Params struct {
	Mode        string  `json:"mode"`
	Temperature float64 `json:"temperature"`
	MaxLength   int     `json:"max_length"`
}

// Detection labels.
const (
	LabelAI    = "ai"
	LabelHuman = "human"
)

// Result is the payload returned by an engine. Detection fills Label and
// Probability; paraphrasing fills ParaphrasedText and Mode. Token counts are
// populated for both and feed job records.
type Result struct {
	Label       string  `json:"label,omitempty"`
	Probability float64 `json:"probability,omitempty"`

	ParaphrasedText string `json:"paraphrased_text,omitempty"`
	Mode            string `json:"mode,omitempty"`

	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

// ErrModel marks a model-side failure. The gateway surfaces it as a generic
// internal error and never caches the request.
var ErrModel = errors.New("inference: model error")

// Engine is the collaborator contract. Implementations must honour ctx
// cancellation; the gateway applies per-operation timeouts through it.
type Engine interface {
	Infer(ctx context.Context, op Operation, text string, params Params) (*Result, error)
}

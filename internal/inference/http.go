package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// HTTPEngine calls a model sidecar over REST. One POST per operation:
// {base}/detect and {base}/paraphrase. Timeouts are enforced by the caller's
// context; the client timeout is only a safety net.
type HTTPEngine struct {
	baseURL string
	client  *http.Client
}

// NewHTTPEngine builds a client for the sidecar at baseURL.
func NewHTTPEngine(baseURL string, clientTimeout time.Duration) (*HTTPEngine, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, errors.New("inference: sidecar base url is required")
	}
	if clientTimeout <= 0 {
		clientTimeout = 60 * time.Second
	}
	return &HTTPEngine{
		baseURL: baseURL,
		client:  &http.Client{Timeout: clientTimeout},
	}, nil
}

type sidecarRequest struct {
	Text        string  `json:"text"`
	Mode        string  `json:"mode,omitempty"`
	Temperature float64 `json:"temperature,omitempty"`
	MaxLength   int     `json:"max_length,omitempty"`
}

// Infer posts the request to the sidecar and decodes the result.
func (e *HTTPEngine) Infer(ctx context.Context, op Operation, text string, params Params) (*Result, error) {
	if !op.Valid() {
		return nil, fmt.Errorf("%w: unknown operation %q", ErrModel, op)
	}

	body, err := json.Marshal(sidecarRequest{
		Text:        text,
		Mode:        params.Mode,
		Temperature: params.Temperature,
		MaxLength:   params.MaxLength,
	})
	if err != nil {
		return nil, fmt.Errorf("inference: encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/"+string(op), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("inference: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		// Preserve cancellation/deadline errors so the gateway can tell a
		// timeout apart from a model fault.
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("%w: %v", ErrModel, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return nil, fmt.Errorf("%w: sidecar returned %d: %s", ErrModel, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	var result Result
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("%w: decode response: %v", ErrModel, err)
	}
	return &result, nil
}

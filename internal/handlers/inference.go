package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/rewriteguard/rewriteguard/internal/gateway"
	"github.com/rewriteguard/rewriteguard/internal/inference"
	"github.com/rewriteguard/rewriteguard/internal/quota"
	"github.com/rewriteguard/rewriteguard/pkg/response"
)

// InferenceHandler exposes the two metered operations.
type InferenceHandler struct {
	gw *gateway.Gateway
}

// NewInferenceHandler wires the gateway into HTTP.
func NewInferenceHandler(gw *gateway.Gateway) *InferenceHandler {
	return &InferenceHandler{gw: gw}
}

type detectRequest struct {
	Text string `json:"text" validate:"required,max=20000"`
}

type paraphraseRequest struct {
	Text        string  `json:"text" validate:"required,max=10000"`
	Mode        string  `json:"mode" validate:"omitempty,oneof=standard formal casual creative concise"`
	Temperature float64 `json:"temperature" validate:"gte=0,lte=2"`
	MaxLength   int     `json:"max_length" validate:"omitempty,gte=1,lte=4096"`
}

// Detect classifies text as AI or human generated.
func (h *InferenceHandler) Detect(c *gin.Context) {
	user, ok := requireUser(c)
	if !ok {
		return
	}

	var req detectRequest
	if !bindAndValidate(c, &req) {
		return
	}

	h.process(c, gateway.Request{
		UserID:     user.ID,
		PlanTier:   user.PlanTier,
		DailyLimit: user.DailyLimit,
		Operation:  inference.OpDetect,
		Text:       req.Text,
	})
}

// Paraphrase rewrites text in the requested mode.
func (h *InferenceHandler) Paraphrase(c *gin.Context) {
	user, ok := requireUser(c)
	if !ok {
		return
	}

	var req paraphraseRequest
	if !bindAndValidate(c, &req) {
		return
	}
	if req.Mode == "" {
		req.Mode = "standard"
	}

	h.process(c, gateway.Request{
		UserID:     user.ID,
		PlanTier:   user.PlanTier,
		DailyLimit: user.DailyLimit,
		Operation:  inference.OpParaphrase,
		Text:       req.Text,
		Params: inference.Params{
			Mode:        req.Mode,
			Temperature: req.Temperature,
			MaxLength:   req.MaxLength,
		},
	})
}

func (h *InferenceHandler) process(c *gin.Context, req gateway.Request) {
	result, err := h.gw.Process(c.Request.Context(), req)
	if err != nil {
		// Quota rejections carry the balance so clients can show what is
		// left without a second round trip.
		var exceeded *quota.QuotaExceededError
		if errors.As(err, &exceeded) {
			response.ErrorWithDetails(c, err, map[string]interface{}{
				"plan_type":       exceeded.Tier,
				"daily_limit":     exceeded.Limit,
				"words_used":      exceeded.Used,
				"words_requested": exceeded.Requested,
				"words_remaining": exceeded.Remaining,
			})
			return
		}
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, result)
}

package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/rewriteguard/rewriteguard/internal/fingerprint"
	"github.com/rewriteguard/rewriteguard/internal/quota"
	"github.com/rewriteguard/rewriteguard/internal/services"
	apperrors "github.com/rewriteguard/rewriteguard/pkg/errors"
	"github.com/rewriteguard/rewriteguard/pkg/response"
)

// QuotaHandler exposes read-only usage views and the plan catalogue, plus the
// tier-change hook a billing system would call.
type QuotaHandler struct {
	ledger *quota.Ledger
	users  *services.UserService
}

// NewQuotaHandler wires the ledger and user service into HTTP.
func NewQuotaHandler(ledger *quota.Ledger, users *services.UserService) *QuotaHandler {
	return &QuotaHandler{ledger: ledger, users: users}
}

// Usage returns the caller's consumption for today.
func (h *QuotaHandler) Usage(c *gin.Context) {
	user, ok := requireUser(c)
	if !ok {
		return
	}

	limit := quota.LimitFor(user.PlanTier, user.DailyLimit)
	usage, err := h.ledger.UsageFor(c.Request.Context(), user.ID, quota.Today(), user.PlanTier, limit)
	if err != nil {
		response.Error(c, apperrors.ErrQuotaStoreUnavailable.WithInternal(err))
		return
	}

	response.Success(c, http.StatusOK, usage)
}

type checkResponse struct {
	WordCount      int64  `json:"word_count"`
	WordsRemaining int64  `json:"words_remaining"`
	DailyLimit     int64  `json:"daily_limit"`
	WouldExceed    bool   `json:"would_exceed"`
	PlanTier       string `json:"plan_type"`
}

// Check answers "would this request be admitted" without charging anything.
// The answer is advisory; admission is only decided atomically at reserve
// time. Callers pass either text or a word count.
func (h *QuotaHandler) Check(c *gin.Context) {
	user, ok := requireUser(c)
	if !ok {
		return
	}

	var words int64
	if raw := strings.TrimSpace(c.Query("words")); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || parsed < 0 {
			response.Error(c, apperrors.NewBadRequest("words must be a non-negative integer"))
			return
		}
		words = parsed
	} else if text := c.Query("text"); text != "" {
		words = fingerprint.WordCount(fingerprint.Normalize(text))
	}

	limit := quota.LimitFor(user.PlanTier, user.DailyLimit)
	usage, err := h.ledger.UsageFor(c.Request.Context(), user.ID, quota.Today(), user.PlanTier, limit)
	if err != nil {
		response.Error(c, apperrors.ErrQuotaStoreUnavailable.WithInternal(err))
		return
	}

	response.Success(c, http.StatusOK, checkResponse{
		WordCount:      words,
		WordsRemaining: usage.WordsRemaining,
		DailyLimit:     limit,
		WouldExceed:    usage.WordsUsedToday+words > limit,
		PlanTier:       user.PlanTier,
	})
}

// Plans lists the subscription catalogue.
func (h *QuotaHandler) Plans(c *gin.Context) {
	response.Success(c, http.StatusOK, gin.H{"plans": quota.Plans()})
}

type upgradeRequest struct {
	PlanTier string `json:"plan_type" validate:"required,oneof=free premium"`
}

// Upgrade applies a tier change for the caller. In production this is driven
// by billing events; the endpoint keeps the flow testable end to end. The new
// limit applies from the caller's next request.
func (h *QuotaHandler) Upgrade(c *gin.Context) {
	user, ok := requireUser(c)
	if !ok {
		return
	}

	var req upgradeRequest
	if !bindAndValidate(c, &req) {
		return
	}

	updated, err := h.users.SetPlan(c.Request.Context(), user.ID, req.PlanTier)
	if err != nil {
		response.Error(c, apperrors.Wrap(err, "failed to change plan"))
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"plan_type":   updated.PlanTier,
		"daily_limit": quota.LimitFor(updated.PlanTier, updated.DailyLimit),
	})
}

package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/rewriteguard/rewriteguard/internal/services"
	apperrors "github.com/rewriteguard/rewriteguard/pkg/errors"
	"github.com/rewriteguard/rewriteguard/pkg/response"
)

// JobsHandler exposes the caller's recent request history.
type JobsHandler struct {
	jobs *services.JobService
}

// NewJobsHandler wires the job service into HTTP.
func NewJobsHandler(jobs *services.JobService) *JobsHandler {
	return &JobsHandler{jobs: jobs}
}

// Recent lists the caller's newest job records.
func (h *JobsHandler) Recent(c *gin.Context) {
	user, ok := requireUser(c)
	if !ok {
		return
	}

	limit := 10
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			response.Error(c, apperrors.NewBadRequest("limit must be a positive integer"))
			return
		}
		limit = parsed
	}

	records, err := h.jobs.Recent(c.Request.Context(), user.ID, limit)
	if err != nil {
		response.Error(c, apperrors.Wrap(err, "failed to list jobs"))
		return
	}

	response.SuccessWithMeta(c, http.StatusOK, gin.H{"jobs": records}, &response.Meta{
		PerPage: limit,
		Total:   len(records),
	})
}

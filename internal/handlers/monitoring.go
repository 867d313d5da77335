package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/rewriteguard/rewriteguard/internal/monitoring"
	"github.com/rewriteguard/rewriteguard/pkg/response"
)

// MonitoringHandler surfaces aggregated service metrics for administrators.
type MonitoringHandler struct {
	monitor *monitoring.Aggregator
}

// NewMonitoringHandler constructs a monitoring handler. Returns nil when the
// aggregator is disabled.
func NewMonitoringHandler(monitor *monitoring.Aggregator) *MonitoringHandler {
	if monitor == nil {
		return nil
	}
	return &MonitoringHandler{monitor: monitor}
}

// Summary returns the dashboard snapshot: request counts, latency
// distribution, detection tallies and recent errors.
func (h *MonitoringHandler) Summary(c *gin.Context) {
	snapshot := h.monitor.Snapshot()
	response.Success(c, http.StatusOK, gin.H{
		"summary": snapshot,
		"prometheus": gin.H{
			"endpoint": "/metrics",
		},
	})
}

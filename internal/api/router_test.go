package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/rewriteguard/rewriteguard/internal/app"
	"github.com/rewriteguard/rewriteguard/internal/cache"
	"github.com/rewriteguard/rewriteguard/internal/database/testutil"
	"github.com/rewriteguard/rewriteguard/internal/gateway"
	"github.com/rewriteguard/rewriteguard/internal/inference"
	"github.com/rewriteguard/rewriteguard/internal/models"
	"github.com/rewriteguard/rewriteguard/internal/monitoring"
	"github.com/rewriteguard/rewriteguard/internal/quota"
	"github.com/rewriteguard/rewriteguard/internal/services"
)

func newTestRouter(t *testing.T) (*gin.Engine, *gorm.DB) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())

	ledger, err := quota.NewLedger(db)
	require.NoError(t, err)
	userSvc, err := services.NewUserService(db)
	require.NoError(t, err)
	jobSvc, err := services.NewJobService(db)
	require.NoError(t, err)

	results := cache.NewResultStore(cache.NewDatabaseStore(db), time.Hour, 0)
	monitor := monitoring.NewAggregator()

	gw, err := gateway.New(ledger, results, inference.NewLocalEngine(), jobSvc, monitor)
	require.NoError(t, err)

	cfg := &app.Config{}
	cfg.Server.Port = 8000
	cfg.Monitoring.Prometheus.Enabled = true
	cfg.Monitoring.Prometheus.Endpoint = "/metrics"

	router, err := NewRouter(Deps{
		DB:      db,
		Config:  cfg,
		Gateway: gw,
		Ledger:  ledger,
		Users:   userSvc,
		Jobs:    jobSvc,
		Monitor: monitor,
	})
	require.NoError(t, err)

	return router, db
}

func doJSON(r *gin.Engine, method, path, userID string, body any) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body != nil {
		payload, _ := json.Marshal(body)
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if userID != "" {
		req.Header.Set("X-User-ID", userID)
	}

	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestHealthEndpoint(t *testing.T) {
	r, _ := newTestRouter(t)

	w := doJSON(r, http.MethodGet, "/health", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), `"status":"ok"`)
}

func TestMetricsEndpointExposed(t *testing.T) {
	r, _ := newTestRouter(t)

	w := doJSON(r, http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
}

func TestUnknownRouteReturnsJSON404(t *testing.T) {
	r, _ := newTestRouter(t)

	w := doJSON(r, http.MethodGet, "/nope", "", nil)
	require.Equal(t, http.StatusNotFound, w.Code)
	require.Contains(t, w.Body.String(), "NOT_FOUND")
}

func TestDetectRequiresIdentity(t *testing.T) {
	r, _ := newTestRouter(t)

	w := doJSON(r, http.MethodPost, "/api/v1/detect", "", gin.H{"text": "hello world"})
	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestDetectEndToEnd(t *testing.T) {
	r, _ := newTestRouter(t)

	w := doJSON(r, http.MethodPost, "/api/v1/detect", "user-1", gin.H{
		"text": "The cat sat on the mat. The dog sat on the mat.",
	})
	require.Equal(t, http.StatusOK, w.Code)

	var envelope struct {
		Success bool `json:"success"`
		Data    struct {
			Result struct {
				Label       string  `json:"label"`
				Probability float64 `json:"probability"`
			} `json:"result"`
			CacheHit  bool  `json:"cache_hit"`
			WordCount int64 `json:"word_count"`
			Remaining int64 `json:"words_remaining"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &envelope))
	require.True(t, envelope.Success)
	require.Contains(t, []string{"ai", "human"}, envelope.Data.Result.Label)
	require.Equal(t, int64(12), envelope.Data.WordCount)
	require.Equal(t, int64(988), envelope.Data.Remaining)
}

func TestDetectValidation(t *testing.T) {
	r, _ := newTestRouter(t)

	w := doJSON(r, http.MethodPost, "/api/v1/detect", "user-1", gin.H{})
	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Contains(t, w.Body.String(), "VALIDATION_ERROR")
	require.Contains(t, w.Body.String(), "text is required")
}

func TestDetectRejectsOversizedText(t *testing.T) {
	r, db := newTestRouter(t)

	oversized := strings.Repeat("word ", 4100)
	w := doJSON(r, http.MethodPost, "/api/v1/detect", "user-1", gin.H{"text": oversized})
	require.Equal(t, http.StatusBadRequest, w.Code)

	// Rejected before the ledger is touched.
	var usageRows int64
	require.NoError(t, db.Model(&models.DailyUsage{}).Count(&usageRows).Error)
	require.Equal(t, int64(0), usageRows)
}

func TestParaphraseEndToEnd(t *testing.T) {
	r, _ := newTestRouter(t)

	w := doJSON(r, http.MethodPost, "/api/v1/paraphrase", "user-1", gin.H{
		"text": "don't stop now",
		"mode": "formal",
	})
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), "do not")
}

func TestParaphraseRejectsUnknownMode(t *testing.T) {
	r, _ := newTestRouter(t)

	w := doJSON(r, http.MethodPost, "/api/v1/paraphrase", "user-1", gin.H{
		"text": "some text",
		"mode": "sarcastic",
	})
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestQuotaExceededOverHTTP(t *testing.T) {
	r, db := newTestRouter(t)

	// Shrink the user's allowance so one request exhausts it.
	require.NoError(t, db.Create(&models.User{ID: "user-1", PlanTier: models.PlanFree, DailyLimit: 5}).Error)

	w := doJSON(r, http.MethodPost, "/api/v1/detect", "user-1", gin.H{"text": "one two three four five"})
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(r, http.MethodPost, "/api/v1/detect", "user-1", gin.H{"text": "and one more request"})
	require.Equal(t, http.StatusTooManyRequests, w.Code)
	require.Contains(t, w.Body.String(), "QUOTA_EXCEEDED")
	require.Contains(t, w.Body.String(), `"words_remaining":0`)
}

func TestQuotaUsageEndpoint(t *testing.T) {
	r, _ := newTestRouter(t)

	w := doJSON(r, http.MethodPost, "/api/v1/detect", "user-1", gin.H{"text": "five little words right here"})
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(r, http.MethodGet, "/api/v1/quota/usage", "user-1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), `"words_used_today":5`)
	require.Contains(t, w.Body.String(), `"daily_limit":1000`)
}

func TestQuotaCheckEndpoint(t *testing.T) {
	r, _ := newTestRouter(t)

	w := doJSON(r, http.MethodGet, "/api/v1/quota/check?words=600", "user-1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), `"would_exceed":false`)

	w = doJSON(r, http.MethodGet, "/api/v1/quota/check?words=1200", "user-1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), `"would_exceed":true`)
}

func TestPlansEndpoint(t *testing.T) {
	r, _ := newTestRouter(t)

	w := doJSON(r, http.MethodGet, "/api/v1/quota/plans", "user-1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), `"free"`)
	require.Contains(t, w.Body.String(), `"premium"`)
}

func TestUpgradeEndpoint(t *testing.T) {
	r, _ := newTestRouter(t)

	w := doJSON(r, http.MethodPost, "/api/v1/quota/upgrade", "user-1", gin.H{"plan_type": "premium"})
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), `"daily_limit":10000`)

	// The higher allowance applies to the next usage read.
	w = doJSON(r, http.MethodGet, "/api/v1/quota/usage", "user-1", nil)
	require.Contains(t, w.Body.String(), `"daily_limit":10000`)
}

func TestRecentJobsEndpoint(t *testing.T) {
	r, _ := newTestRouter(t)

	for i := 0; i < 3; i++ {
		w := doJSON(r, http.MethodPost, "/api/v1/detect", "user-1", gin.H{
			"text": fmt.Sprintf("request number %d text", i),
		})
		require.Equal(t, http.StatusOK, w.Code)
	}

	w := doJSON(r, http.MethodGet, "/api/v1/jobs/recent?limit=2", "user-1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), `"per_page":2`)
	require.Contains(t, w.Body.String(), `"total":2`)
}

func TestAdminMetricsRequiresAdmin(t *testing.T) {
	r, db := newTestRouter(t)

	w := doJSON(r, http.MethodGet, "/api/v1/admin/metrics", "user-1", nil)
	require.Equal(t, http.StatusForbidden, w.Code)

	require.NoError(t, db.Model(&models.User{}).Where("id = ?", "user-1").Update("is_admin", true).Error)

	w = doJSON(r, http.MethodGet, "/api/v1/admin/metrics", "user-1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), "endpoint_breakdown")
}

package response

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	appErrors "github.com/rewriteguard/rewriteguard/pkg/errors"
)

func record(handler gin.HandlerFunc) *httptest.ResponseRecorder {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
	handler(c)
	return w
}

func TestSuccessEnvelope(t *testing.T) {
	w := record(func(c *gin.Context) {
		Success(c, http.StatusOK, gin.H{"value": 42})
	})

	require.Equal(t, http.StatusOK, w.Code)

	var body Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.True(t, body.Success)
	require.Nil(t, body.Error)
}

func TestSuccessWithMetaIncludesPagination(t *testing.T) {
	w := record(func(c *gin.Context) {
		SuccessWithMeta(c, http.StatusOK, gin.H{"items": []int{1, 2}}, &Meta{PerPage: 2, Total: 2})
	})

	var body Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.NotNil(t, body.Meta)
	require.Equal(t, 2, body.Meta.PerPage)
	require.Equal(t, 2, body.Meta.Total)
}

func TestErrorEnvelopeFromAppError(t *testing.T) {
	w := record(func(c *gin.Context) {
		Error(c, appErrors.ErrQuotaExceeded)
	})

	require.Equal(t, http.StatusTooManyRequests, w.Code)

	var body Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.False(t, body.Success)
	require.Equal(t, "QUOTA_EXCEEDED", body.Error.Code)
}

func TestErrorEnvelopeFromGenericError(t *testing.T) {
	w := record(func(c *gin.Context) {
		Error(c, errors.New("surprise"))
	})

	require.Equal(t, http.StatusInternalServerError, w.Code)
	require.Contains(t, w.Body.String(), "INTERNAL_SERVER_ERROR")
}

func TestErrorWithDetails(t *testing.T) {
	w := record(func(c *gin.Context) {
		ErrorWithDetails(c, appErrors.ErrQuotaExceeded, map[string]interface{}{
			"words_remaining": 12,
		})
	})

	var body Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.EqualValues(t, 12, body.Error.Details["words_remaining"])
}

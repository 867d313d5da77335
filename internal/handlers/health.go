package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/rewriteguard/rewriteguard/pkg/response"
)

// Health returns a status payload useful for readiness checks. The database
// is pinged with a short deadline so a stuck store degrades the report
// instead of hanging it.
func Health(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		dbStatus := "ok"
		if db != nil {
			if err := pingDatabase(c.Request.Context(), db); err != nil {
				dbStatus = "unavailable"
			}
		}

		status := http.StatusOK
		overall := "ok"
		if dbStatus != "ok" {
			status = http.StatusServiceUnavailable
			overall = "degraded"
		}

		response.Success(c, status, gin.H{
			"status":   overall,
			"database": dbStatus,
			"time":     time.Now().UTC().Format(time.RFC3339),
		})
	}
}

func pingDatabase(ctx context.Context, db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return sqlDB.PingContext(pingCtx)
}

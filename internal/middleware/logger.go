package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/rewriteguard/rewriteguard/pkg/logger"
)

// Logger writes a concise structured access log for each request. User
// identity is logged only as a hash; request bodies are never logged here.
func Logger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		method := c.Request.Method

		c.Next()

		duration := time.Since(start)
		status := c.Writer.Status()

		fields := []zap.Field{
			zap.String("method", method),
			zap.String("path", path),
			zap.Int("status", status),
			zap.Duration("duration", duration),
			zap.String("client_ip", c.ClientIP()),
		}
		if userID := c.GetHeader(UserIDHeader); userID != "" {
			fields = append(fields, logger.UserHash(userID))
		}

		logger.WithModule("http").Info("request", fields...)
	}
}

package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/rewriteguard/rewriteguard/internal/models"
	"github.com/rewriteguard/rewriteguard/internal/services"
	apperrors "github.com/rewriteguard/rewriteguard/pkg/errors"
	"github.com/rewriteguard/rewriteguard/pkg/logger"
	"github.com/rewriteguard/rewriteguard/pkg/response"
)

const (
	// UserIDHeader carries the caller identity asserted by the upstream
	// authenticating proxy. The gateway trusts it as-is.
	UserIDHeader = "X-User-ID"

	// ContextUserKey is where the resolved user row is stashed for handlers.
	ContextUserKey = "current_user"
)

// Identity resolves the upstream-asserted user id into a user row and aborts
// requests that carry no identity at all.
func Identity(users *services.UserService) gin.HandlerFunc {
	log := logger.WithModule("identity")

	return func(c *gin.Context) {
		userID := strings.TrimSpace(c.GetHeader(UserIDHeader))
		if userID == "" {
			response.Error(c, apperrors.ErrUnauthorized.WithMessage("missing "+UserIDHeader+" header"))
			c.Abort()
			return
		}

		user, err := users.GetOrCreate(c.Request.Context(), userID)
		if err != nil {
			log.Error("failed to resolve user", logger.UserHash(userID), zap.Error(err))
			response.Error(c, apperrors.ErrInternalServer)
			c.Abort()
			return
		}

		c.Set(ContextUserKey, user)
		c.Next()
	}
}

// RequireAdmin gates operator endpoints on the user's admin flag. It must run
// after Identity.
func RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		user, ok := CurrentUser(c)
		if !ok || !user.IsAdmin {
			response.Error(c, apperrors.ErrForbidden)
			c.Abort()
			return
		}
		c.Next()
	}
}

// CurrentUser returns the user row resolved by Identity, if any.
func CurrentUser(c *gin.Context) (*models.User, bool) {
	value, exists := c.Get(ContextUserKey)
	if !exists {
		return nil, false
	}
	user, ok := value.(*models.User)
	return user, ok
}

package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/rewriteguard/rewriteguard/internal/middleware"
	"github.com/rewriteguard/rewriteguard/internal/models"
	apperrors "github.com/rewriteguard/rewriteguard/pkg/errors"
	"github.com/rewriteguard/rewriteguard/pkg/response"
)

// requireUser fetches the identity resolved by the middleware or writes a 401
// and reports failure.
func requireUser(c *gin.Context) (*models.User, bool) {
	user, ok := middleware.CurrentUser(c)
	if !ok || user == nil {
		response.Error(c, apperrors.ErrUnauthorized)
		return nil, false
	}
	return user, true
}

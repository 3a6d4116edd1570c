package handler

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/campus-feed-engine/internal/middleware"
	"github.com/noah-isme/campus-feed-engine/internal/models"
	appErrors "github.com/noah-isme/campus-feed-engine/pkg/errors"
)

func claimsFromContext(c *gin.Context) *models.JWTClaims {
	value, exists := c.Get(middleware.ContextUserKey)
	if !exists {
		return nil
	}
	claims, ok := value.(*models.JWTClaims)
	if !ok {
		return nil
	}
	return claims
}

// requestUser returns the caller's claims. An explicit user_id query parameter
// must name the caller.
func requestUser(c *gin.Context) (*models.JWTClaims, error) {
	claims := claimsFromContext(c)
	if claims == nil || claims.UserID == "" {
		return nil, appErrors.ErrUnauthorized
	}
	if requested := strings.TrimSpace(c.Query("user_id")); requested != "" && requested != claims.UserID {
		return nil, appErrors.Clone(appErrors.ErrPermissionDenied, "cannot access another user's feed")
	}
	return claims, nil
}

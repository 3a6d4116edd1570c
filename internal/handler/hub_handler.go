package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/campus-feed-engine/internal/dto"
	"github.com/noah-isme/campus-feed-engine/internal/middleware"
	"github.com/noah-isme/campus-feed-engine/internal/models"
	"github.com/noah-isme/campus-feed-engine/internal/service"
	appErrors "github.com/noah-isme/campus-feed-engine/pkg/errors"
	"github.com/noah-isme/campus-feed-engine/pkg/response"
)

type hubService interface {
	BuildDigest(ctx context.Context, req service.HubRequest) (*dto.HubFeedResponse, bool, error)
}

// HubHandler serves the dashboard "today" digest.
type HubHandler struct {
	service hubService
}

// NewHubHandler constructs the handler.
func NewHubHandler(svc hubService) *HubHandler {
	return &HubHandler{service: svc}
}

// Digest godoc
// @Summary Hub digest
// @Description Role-aware digest of assignments, announcements, study groups, events and notifications.
// @Tags Hub
// @Produce json
// @Param user_id query string false "Must match the authenticated user"
// @Param role query string false "Defaults to the token role"
// @Param department query string false "Must match the token department"
// @Param year query string false "Must match the token year"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /hub [get]
func (h *HubHandler) Digest(c *gin.Context) {
	if h.service == nil {
		response.Error(c, appErrors.ErrInternal)
		return
	}
	claims, err := requestUser(c)
	if err != nil {
		response.Error(c, err)
		return
	}

	role := string(claims.Role)
	if raw := strings.TrimSpace(c.Query("role")); raw != "" {
		parsed, ok := models.ParseRole(raw)
		if !ok {
			response.Error(c, appErrors.Clone(appErrors.ErrValidation, "unknown role"))
			return
		}
		if parsed != claims.Role {
			response.Error(c, appErrors.Clone(appErrors.ErrPermissionDenied, "role does not match token"))
			return
		}
		role = string(parsed)
	}

	if raw, ok := c.GetQuery("department"); ok && !sameDepartment(raw, claims.Department) {
		response.Error(c, appErrors.Clone(appErrors.ErrPermissionDenied, "department does not match token"))
		return
	}
	if raw, ok := c.GetQuery("year"); ok && !sameYear(raw, claims.Year) {
		response.Error(c, appErrors.Clone(appErrors.ErrPermissionDenied, "year does not match token"))
		return
	}

	req := service.HubRequest{
		UserID:     claims.UserID,
		Role:       role,
		Department: claims.Department,
		Year:       claims.Year,
	}
	digest, cacheHit, err := h.service.BuildDigest(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	middleware.SetCacheHit(c, cacheHit)
	response.JSON(c, http.StatusOK, digest, nil, middleware.ExtractMeta(c))
}

func sameDepartment(query, token string) bool {
	q, t := models.NormalizeDepartment(&query), models.NormalizeDepartment(&token)
	if q == nil || t == nil {
		return q == nil && t == nil
	}
	return *q == *t
}

func sameYear(query, token string) bool {
	q, qok := models.CanonicalYear(query)
	t, tok := models.CanonicalYear(token)
	if qok && tok {
		return q == t
	}
	return strings.EqualFold(strings.TrimSpace(query), strings.TrimSpace(token))
}

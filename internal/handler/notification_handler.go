package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/campus-feed-engine/internal/dto"
	"github.com/noah-isme/campus-feed-engine/internal/middleware"
	"github.com/noah-isme/campus-feed-engine/internal/models"
	appErrors "github.com/noah-isme/campus-feed-engine/pkg/errors"
	"github.com/noah-isme/campus-feed-engine/pkg/response"
)

type notificationService interface {
	List(ctx context.Context, userID string, unreadOnly bool, limit int) ([]models.Notification, int, error)
	CountUnread(ctx context.Context, userID string) (int, error)
	MarkRead(ctx context.Context, requesterID string, req dto.NotificationMutationRequest) (*dto.NotificationMutationResponse, error)
	Delete(ctx context.Context, requesterID string, req dto.NotificationMutationRequest) (*dto.NotificationMutationResponse, error)
}

// NotificationHandler serves the per-user notification inbox.
type NotificationHandler struct {
	service notificationService
}

// NewNotificationHandler constructs the handler.
func NewNotificationHandler(svc notificationService) *NotificationHandler {
	return &NotificationHandler{service: svc}
}

// List godoc
// @Summary List notifications
// @Description Newest first. meta.unread_count carries the unread total of the caller.
// @Tags Notifications
// @Produce json
// @Param user_id query string false "Must match the authenticated user"
// @Param unread_only query bool false "Only unread notifications"
// @Param limit query int false "Page size"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /notifications [get]
func (h *NotificationHandler) List(c *gin.Context) {
	if h.service == nil {
		response.Error(c, appErrors.ErrInternal)
		return
	}
	claims, err := requestUser(c)
	if err != nil {
		response.Error(c, err)
		return
	}

	unreadOnly := false
	if raw := c.Query("unread_only"); raw != "" {
		unreadOnly, err = strconv.ParseBool(raw)
		if err != nil {
			response.Error(c, appErrors.Clone(appErrors.ErrValidation, "unread_only must be a boolean"))
			return
		}
	}
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		limit, err = strconv.Atoi(raw)
		if err != nil {
			response.Error(c, appErrors.Clone(appErrors.ErrValidation, "limit must be an integer"))
			return
		}
	}

	items, unread, err := h.service.List(c.Request.Context(), claims.UserID, unreadOnly, limit)
	if err != nil {
		response.Error(c, err)
		return
	}
	middleware.SetMeta(c, "unread_count", unread)
	response.JSON(c, http.StatusOK, items, nil, middleware.ExtractMeta(c))
}

// UnreadCount godoc
// @Summary Unread notification count
// @Tags Notifications
// @Produce json
// @Param user_id query string false "Must match the authenticated user"
// @Success 200 {object} response.Envelope
// @Router /notifications/unread-count [get]
func (h *NotificationHandler) UnreadCount(c *gin.Context) {
	if h.service == nil {
		response.Error(c, appErrors.ErrInternal)
		return
	}
	claims, err := requestUser(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	count, err := h.service.CountUnread(c.Request.Context(), claims.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, dto.UnreadCountResponse{UserID: claims.UserID, UnreadCount: count}, nil)
}

// MarkRead godoc
// @Summary Mark notifications read
// @Tags Notifications
// @Accept json
// @Produce json
// @Param payload body dto.NotificationMutationRequest true "ids or mark_all"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /notifications [put]
func (h *NotificationHandler) MarkRead(c *gin.Context) {
	h.mutate(c, func(ctx context.Context, userID string, req dto.NotificationMutationRequest) (*dto.NotificationMutationResponse, error) {
		return h.service.MarkRead(ctx, userID, req)
	})
}

// Delete godoc
// @Summary Delete notifications
// @Tags Notifications
// @Accept json
// @Produce json
// @Param payload body dto.NotificationMutationRequest true "ids or delete_all"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /notifications [delete]
func (h *NotificationHandler) Delete(c *gin.Context) {
	h.mutate(c, func(ctx context.Context, userID string, req dto.NotificationMutationRequest) (*dto.NotificationMutationResponse, error) {
		return h.service.Delete(ctx, userID, req)
	})
}

type mutationFunc func(ctx context.Context, userID string, req dto.NotificationMutationRequest) (*dto.NotificationMutationResponse, error)

func (h *NotificationHandler) mutate(c *gin.Context, run mutationFunc) {
	if h.service == nil {
		response.Error(c, appErrors.ErrInternal)
		return
	}
	claims, err := requestUser(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	var req dto.NotificationMutationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid payload"))
		return
	}
	result, err := run(c.Request.Context(), claims.UserID, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

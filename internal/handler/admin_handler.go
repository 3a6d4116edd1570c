package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/noah-isme/campus-feed-engine/internal/service"
	appErrors "github.com/noah-isme/campus-feed-engine/pkg/errors"
	"github.com/noah-isme/campus-feed-engine/pkg/logger"
	"github.com/noah-isme/campus-feed-engine/pkg/response"
)

type reconcileRunner interface {
	RunOnce(ctx context.Context) (service.ReconcileSummary, error)
}

// AdminHandler exposes operator actions.
type AdminHandler struct {
	reconciler reconcileRunner
	logger     *zap.Logger
}

// NewAdminHandler constructs the handler.
func NewAdminHandler(reconciler reconcileRunner, logger *zap.Logger) *AdminHandler {
	return &AdminHandler{reconciler: reconciler, logger: logger}
}

// Reconcile godoc
// @Summary Run a reconciliation sweep
// @Description Re-dispatches recently changed content and incomplete fan-outs.
// @Tags Admin
// @Produce json
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /admin/reconcile [post]
func (h *AdminHandler) Reconcile(c *gin.Context) {
	if h.reconciler == nil {
		response.Error(c, appErrors.ErrInternal)
		return
	}
	summary, err := h.reconciler.RunOnce(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	logger.FromContext(c.Request.Context(), h.logger).Info("manual reconcile finished",
		zap.Int("items", summary.Items),
		zap.Int("created", summary.Created),
		zap.Int("failed", summary.Failed),
	)
	response.JSON(c, http.StatusOK, summary, nil)
}

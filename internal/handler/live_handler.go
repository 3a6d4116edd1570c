package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/noah-isme/campus-feed-engine/internal/service"
	appErrors "github.com/noah-isme/campus-feed-engine/pkg/errors"
	"github.com/noah-isme/campus-feed-engine/pkg/middleware/cors"
	"github.com/noah-isme/campus-feed-engine/pkg/response"
)

const liveReadLimit = 512

type liveBroker interface {
	Register(ctx context.Context, userID string) (*service.LiveSession, error)
	Unregister(session *service.LiveSession)
}

// LiveHandlerConfig tunes the websocket keepalive.
type LiveHandlerConfig struct {
	PingInterval time.Duration
	WriteTimeout time.Duration
}

// LiveHandler streams change signals to connected dashboards over a websocket.
type LiveHandler struct {
	broker   liveBroker
	upgrader websocket.Upgrader
	cfg      LiveHandlerConfig
	logger   *zap.Logger
}

// NewLiveHandler constructs the handler. Origins are checked against policy.
func NewLiveHandler(broker liveBroker, policy *cors.Policy, cfg LiveHandlerConfig, logger *zap.Logger) *LiveHandler {
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 30 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LiveHandler{
		broker: broker,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return policy.Allowed(r.Header.Get("Origin"))
			},
		},
		cfg:    cfg,
		logger: logger,
	}
}

// Stream godoc
// @Summary Live change signals
// @Description Upgrades to a websocket that emits content_changed and full_resync frames.
// @Tags Live
// @Param access_token query string false "Bearer token for clients that cannot set headers"
// @Success 101
// @Failure 401 {object} response.Envelope
// @Router /live [get]
func (h *LiveHandler) Stream(c *gin.Context) {
	if h.broker == nil {
		response.Error(c, appErrors.ErrInternal)
		return
	}
	claims := claimsFromContext(c)
	if claims == nil || claims.UserID == "" {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Debug("live upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	session, err := h.broker.Register(ctx, claims.UserID)
	if err != nil {
		h.closeWith(conn, websocket.ClosePolicyViolation, err.Error())
		return
	}
	defer h.broker.Unregister(session)

	go h.readLoop(conn, cancel)

	ticker := time.NewTicker(h.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case sig, ok := <-session.C():
			if !ok {
				h.closeWith(conn, websocket.CloseGoingAway, "session closed")
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(h.cfg.WriteTimeout))
			if err := conn.WriteJSON(sig); err != nil {
				h.logger.Debug("live write failed", zap.String("session_id", session.ID), zap.Error(err))
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(h.cfg.WriteTimeout)); err != nil {
				return
			}
		}
	}
}

// readLoop consumes client frames so pongs and close messages are processed.
func (h *LiveHandler) readLoop(conn *websocket.Conn, cancel context.CancelFunc) {
	defer cancel()
	wait := h.cfg.PingInterval + h.cfg.WriteTimeout
	conn.SetReadLimit(liveReadLimit)
	_ = conn.SetReadDeadline(time.Now().Add(wait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *LiveHandler) closeWith(conn *websocket.Conn, code int, reason string) {
	msg := websocket.FormatCloseMessage(code, reason)
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(h.cfg.WriteTimeout))
}

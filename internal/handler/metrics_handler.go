package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/campus-feed-engine/internal/service"
)

// FeedStatus is the view of a change feed subscriber the readiness probe needs.
type FeedStatus interface {
	Table() string
	State() service.SubscriberState
}

type pinger interface {
	PingContext(ctx context.Context) error
}

// MetricsHandler exposes observability endpoints.
type MetricsHandler struct {
	metrics     *service.MetricsService
	db          pinger
	subscribers []FeedStatus
}

// NewMetricsHandler constructs a metrics handler.
func NewMetricsHandler(metrics *service.MetricsService) *MetricsHandler {
	return &MetricsHandler{metrics: metrics}
}

// WithReadiness attaches the dependencies Ready reports on.
func (h *MetricsHandler) WithReadiness(db pinger, subscribers ...FeedStatus) *MetricsHandler {
	h.db = db
	h.subscribers = subscribers
	return h
}

// Prometheus serves the Prometheus metrics endpoint.
func (h *MetricsHandler) Prometheus(c *gin.Context) {
	if h.metrics == nil {
		c.AbortWithStatus(http.StatusServiceUnavailable)
		return
	}
	h.metrics.Handler().ServeHTTP(c.Writer, c.Request)
}

// Health responds with a generic OK payload for liveness usage.
func (h *MetricsHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Ready reports database reachability and the state of every change feed.
// Any disconnected feed or a failed ping answers 503.
func (h *MetricsHandler) Ready(c *gin.Context) {
	ready := true
	body := gin.H{}

	if h.db != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := h.db.PingContext(ctx); err != nil {
			ready = false
			body["database"] = "unreachable"
		} else {
			body["database"] = "ok"
		}
	}

	feeds := make(map[string]string, len(h.subscribers))
	for _, sub := range h.subscribers {
		state := sub.State()
		feeds[sub.Table()] = state.String()
		if state == service.StateDisconnected {
			ready = false
		}
	}
	body["change_feeds"] = feeds

	status := http.StatusOK
	body["status"] = "ready"
	if !ready {
		status = http.StatusServiceUnavailable
		body["status"] = "degraded"
	}
	c.JSON(status, body)
}

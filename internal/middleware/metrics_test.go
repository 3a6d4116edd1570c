package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"github.com/noah-isme/campus-feed-engine/internal/service"
)

func TestMetricsLabelsByRouteTemplate(t *testing.T) {
	gin.SetMode(gin.TestMode)
	metrics := service.NewMetricsService()
	router := gin.New()
	router.Use(Metrics(metrics, "/api/v1/live"))
	router.GET("/api/v1/notifications/:id", func(c *gin.Context) { c.Status(http.StatusNoContent) })
	router.GET("/api/v1/live", func(c *gin.Context) { c.Status(http.StatusOK) })

	for _, target := range []string{"/api/v1/notifications/n-1", "/api/v1/notifications/n-2", "/api/v1/live", "/scan/wp-admin.php", "/scan/.env"} {
		router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, target, nil))
	}

	rec := httptest.NewRecorder()
	metrics.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body := rec.Body.String()

	assert.Contains(t, body, `http_requests_total{method="GET",path="/api/v1/notifications/:id",status="204"} 2`)
	assert.Contains(t, body, `http_requests_total{method="GET",path="unmatched",status="404"} 2`)
	assert.NotContains(t, body, "wp-admin")
	assert.NotContains(t, body, `path="/api/v1/live"`)
}

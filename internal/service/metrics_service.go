package service

import (
	"fmt"
	"net/http"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsService encapsulates Prometheus instrumentation. Every method is safe on a nil receiver.
type MetricsService struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec
	cacheLatency    prometheus.Histogram
	cacheHitRatio   prometheus.Gauge
	cacheHits       prometheus.Counter
	cacheMisses     prometheus.Counter

	notifications    *prometheus.CounterVec
	dispatchDuration *prometheus.HistogramVec
	dispatchSkipped  *prometheus.CounterVec
	liveSessions     prometheus.Gauge
	liveOverflows    prometheus.Counter
	liveSignals      prometheus.Counter
	feedEvents       *prometheus.CounterVec
	feedState        *prometheus.GaugeVec
	reconcileRuns    *prometheus.CounterVec

	cacheHitCount  uint64
	cacheMissCount uint64
}

// NewMetricsService registers the service collectors on a private registry.
func NewMetricsService() *MetricsService {
	registry := prometheus.NewRegistry()

	m := &MetricsService{
		registry: registry,
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path", "status"}),
		requestTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "path", "status"}),
		cacheLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "cache_latency_seconds",
			Help:    "Latency for cache lookups",
			Buckets: prometheus.DefBuckets,
		}),
		cacheHitRatio: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "cache_hit_ratio",
			Help: "Ratio of cache hits to total cache lookups",
		}),
		cacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cache_hits_total",
			Help: "Total cache hits",
		}),
		cacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cache_misses_total",
			Help: "Total cache misses",
		}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "notifications_fanout_total",
			Help: "Notification create attempts by content type and outcome",
		}, []string{"content_type", "outcome"}),
		dispatchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "fanout_dispatch_duration_seconds",
			Help:    "Duration of one dispatch pass",
			Buckets: prometheus.DefBuckets,
		}, []string{"content_type"}),
		dispatchSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fanout_dispatch_skipped_total",
			Help: "Dispatches that skipped the create walk because the audience was unchanged",
		}, []string{"content_type"}),
		liveSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "live_sessions",
			Help: "Connected live dashboard sessions",
		}),
		liveOverflows: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "live_queue_overflows_total",
			Help: "Session queues coalesced into a full resync",
		}),
		liveSignals: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "live_signals_enqueued_total",
			Help: "Signals enqueued to live sessions",
		}),
		feedEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "changefeed_events_total",
			Help: "Change feed rows processed by table and source",
		}, []string{"table", "source"}),
		feedState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "changefeed_state",
			Help: "Subscriber state per table (0 disconnected, 1 catching up, 2 live)",
		}, []string{"table"}),
		reconcileRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "reconcile_runs_total",
			Help: "Reconciliation sweeps by outcome",
		}, []string{"outcome"}),
	}

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(
		m.requestDuration, m.requestTotal, m.cacheLatency, m.cacheHitRatio, m.cacheHits, m.cacheMisses,
		m.notifications, m.dispatchDuration, m.dispatchSkipped, m.liveSessions, m.liveOverflows, m.liveSignals,
		m.feedEvents, m.feedState, m.reconcileRuns, goroutines,
	)
	m.handler = promhttp.HandlerFor(registry, promhttp.HandlerOpts{})

	return m
}

// Registry exposes the underlying registry.
func (m *MetricsService) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler exposes the Prometheus HTTP handler.
func (m *MetricsService) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// ObserveHTTPRequest records request metrics.
func (m *MetricsService) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labelStatus := fmt.Sprintf("%d", status)
	m.requestDuration.WithLabelValues(method, path, labelStatus).Observe(duration.Seconds())
	m.requestTotal.WithLabelValues(method, path, labelStatus).Inc()
}

// RecordCacheOperation records cache hit/miss metrics and updates hit ratio.
func (m *MetricsService) RecordCacheOperation(hit bool, duration time.Duration) {
	if m == nil {
		return
	}
	m.cacheLatency.Observe(duration.Seconds())
	if hit {
		m.cacheHits.Inc()
		atomic.AddUint64(&m.cacheHitCount, 1)
	} else {
		m.cacheMisses.Inc()
		atomic.AddUint64(&m.cacheMissCount, 1)
	}
	hits := atomic.LoadUint64(&m.cacheHitCount)
	total := hits + atomic.LoadUint64(&m.cacheMissCount)
	if total > 0 {
		m.cacheHitRatio.Set(float64(hits) / float64(total))
	}
}

// Notification outcomes.
const (
	OutcomeCreated   = "created"
	OutcomeDuplicate = "duplicate"
	OutcomeFailed    = "failed"
)

// RecordNotification counts one create attempt.
func (m *MetricsService) RecordNotification(contentType, outcome string) {
	if m == nil {
		return
	}
	m.notifications.WithLabelValues(contentType, outcome).Inc()
}

// ObserveDispatch records a dispatch pass.
func (m *MetricsService) ObserveDispatch(contentType string, duration time.Duration, skipped bool) {
	if m == nil {
		return
	}
	m.dispatchDuration.WithLabelValues(contentType).Observe(duration.Seconds())
	if skipped {
		m.dispatchSkipped.WithLabelValues(contentType).Inc()
	}
}

// SessionOpened increments the live session gauge.
func (m *MetricsService) SessionOpened() {
	if m == nil {
		return
	}
	m.liveSessions.Inc()
}

// SessionClosed decrements the live session gauge.
func (m *MetricsService) SessionClosed() {
	if m == nil {
		return
	}
	m.liveSessions.Dec()
}

// RecordSignal counts an enqueued live signal.
func (m *MetricsService) RecordSignal(overflow bool) {
	if m == nil {
		return
	}
	m.liveSignals.Inc()
	if overflow {
		m.liveOverflows.Inc()
	}
}

// RecordFeedEvent counts a change feed row by source: catchup, stream or stale.
func (m *MetricsService) RecordFeedEvent(table, source string) {
	if m == nil {
		return
	}
	m.feedEvents.WithLabelValues(table, source).Inc()
}

// SetFeedState publishes the subscriber state of a table.
func (m *MetricsService) SetFeedState(table string, state SubscriberState) {
	if m == nil {
		return
	}
	m.feedState.WithLabelValues(table).Set(float64(state))
}

// RecordReconcile counts a reconciliation sweep.
func (m *MetricsService) RecordReconcile(outcome string) {
	if m == nil {
		return
	}
	m.reconcileRuns.WithLabelValues(outcome).Inc()
}

package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "connectnow",
		Name:      "http_requests_total",
		Help:      "HTTP requests by route and status.",
	}, []string{"method", "route", "status"})

	httpLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "connectnow",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request latency.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "route"})

	// Operations counts domain operations (follow, like, message, ...) by outcome.
	Operations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "connectnow",
		Name:      "operations_total",
		Help:      "Domain operations by name and result.",
	}, []string{"op", "result"})

	// AICallDuration observes latency of calls to the generation service.
	AICallDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "connectnow",
		Name:      "ai_call_duration_seconds",
		Help:      "Latency of generation service calls.",
		Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300},
	}, []string{"call", "result"})

	// LiveDropped counts live-query signals dropped because the queue was full.
	LiveDropped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "connectnow",
		Name:      "live_signals_dropped_total",
		Help:      "Live query signals dropped on a full queue.",
	})

	// NotificationsMaterialized counts outbox events turned into notifications.
	NotificationsMaterialized = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "connectnow",
		Name:      "notifications_materialized_total",
		Help:      "Outbox events processed by the notification worker.",
	}, []string{"kind", "result"})
)

// Observe records an operation outcome.
func Observe(op string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	Operations.WithLabelValues(op, result).Inc()
}

// Middleware records request count and latency per matched route.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		httpRequests.WithLabelValues(c.Request.Method, route, strconv.Itoa(c.Writer.Status())).Inc()
		httpLatency.WithLabelValues(c.Request.Method, route).Observe(time.Since(start).Seconds())
	}
}

// Handler exposes the default registry.
func Handler() gin.HandlerFunc {
	return gin.WrapH(promhttp.Handler())
}

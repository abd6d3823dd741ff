// Package metrics exposes the engine's prometheus collectors.
package metrics

import (
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	RequestCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "proctor_http_requests_total",
			Help: "Total number of local API requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "proctor_http_request_duration_seconds",
			Help:    "Duration of local API requests",
			Buckets: []float64{0.005, 0.05, 0.1, 0.5, 1, 5},
		},
		[]string{"method", "endpoint"},
	)

	Violations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "proctor_security_violations_total",
			Help: "Security violations recorded, by type",
		},
		[]string{"type"},
	)

	LockDownEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "proctor_lockdown_events_total",
			Help: "Lock-down monitor outcomes: confirmed, declined, timeout, recovered, lost",
		},
		[]string{"outcome"},
	)

	SessionTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "proctor_session_transitions_total",
			Help: "Exam session state transitions, by target state",
		},
		[]string{"state"},
	)

	Submissions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "proctor_submissions_total",
			Help: "Submission attempts against the grading API, by source and result",
		},
		[]string{"source", "result"},
	)

	QueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "proctor_submission_queue_depth",
			Help: "Unsent attempts waiting in the offline queue",
		},
	)

	GradingAPIUp = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "proctor_grading_api_up",
			Help: "1 when the grading API answered the last health check",
		},
	)
)

var registerOnce sync.Once

// Init registers all collectors with the default registry.
func Init() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			RequestCounter,
			RequestDuration,
			Violations,
			LockDownEvents,
			SessionTransitions,
			Submissions,
			QueueDepth,
			GradingAPIUp,
		)
	})
}

// Middleware records request counts and latencies.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		RequestCounter.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			strconv.Itoa(c.Writer.Status()),
		).Inc()

		RequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
		).Observe(time.Since(start).Seconds())
	}
}

// Handler serves the prometheus exposition format.
func Handler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

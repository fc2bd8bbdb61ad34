package monitoring

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
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: []float64{0.1, 0.5, 1, 2, 5},
		},
		[]string{"method", "endpoint"},
	)

	// 评测单元结果：scored / awaiting_review / failed / timeout
	EvaluationUnits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "evaluation_units_total",
			Help: "Evaluation units processed, by method and outcome",
		},
		[]string{"method", "outcome"},
	)

	EvaluationUnitDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "evaluation_unit_duration_seconds",
			Help:    "Duration of a single evaluation unit including retries",
			Buckets: []float64{0.01, 0.1, 0.5, 1, 5, 15, 60},
		},
		[]string{"method"},
	)

	EvaluationRetries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "evaluation_unit_retries_total",
			Help: "Retries of evaluation units after transient failures",
		},
		[]string{"method"},
	)

	BatchRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "evaluation_batches_total",
			Help: "Finished evaluation batch runs, by final status",
		},
		[]string{"status"},
	)

	BatchesInProgress = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "evaluation_batches_in_progress",
			Help: "Evaluation batches currently executing in this process",
		},
	)

	ProgressSubscribers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "evaluation_progress_subscribers",
			Help: "Open websocket subscriptions to batch progress",
		},
	)

	registerOnce sync.Once
)

func Init() {
	registerOnce.Do(func() {
		prometheus.MustRegister(RequestCounter)
		prometheus.MustRegister(RequestDuration)
		prometheus.MustRegister(EvaluationUnits)
		prometheus.MustRegister(EvaluationUnitDuration)
		prometheus.MustRegister(EvaluationRetries)
		prometheus.MustRegister(BatchRuns)
		prometheus.MustRegister(BatchesInProgress)
		prometheus.MustRegister(ProgressSubscribers)
	})
}

func MetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		duration := time.Since(start).Seconds()
		status := c.Writer.Status()

		endpoint := c.FullPath()
		if endpoint == "" {
			endpoint = "unmatched"
		}

		RequestCounter.WithLabelValues(
			c.Request.Method,
			endpoint,
			strconv.Itoa(status),
		).Inc()

		RequestDuration.WithLabelValues(
			c.Request.Method,
			endpoint,
		).Observe(duration)
	}
}

// ObserveUnit 记录一个评测单元的结果与耗时
func ObserveUnit(method, outcome string, elapsed time.Duration) {
	EvaluationUnits.WithLabelValues(method, outcome).Inc()
	EvaluationUnitDuration.WithLabelValues(method).Observe(elapsed.Seconds())
}

func PrometheusHandler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

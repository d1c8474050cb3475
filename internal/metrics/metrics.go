package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the stockroom's Prometheus collectors
type Metrics struct {
	RequestsCreated   prometheus.Counter
	RequestsProcessed *prometheus.CounterVec // label: decision
	RequestsRejected  *prometheus.CounterVec // label: reason (insufficient_stock, conflict)
	StockDeducted     prometheus.Counter
	HTTPDuration      *prometheus.HistogramVec
}

// New creates the collectors and registers them with reg
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RequestsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "stockroom",
			Name:      "material_requests_created_total",
			Help:      "Material requests filed by staff.",
		}),
		RequestsProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "stockroom",
			Name:      "material_requests_processed_total",
			Help:      "Material requests resolved by an admin, by decision.",
		}, []string{"decision"}),
		RequestsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "stockroom",
			Name:      "material_requests_process_failures_total",
			Help:      "Process attempts refused by the workflow, by reason.",
		}, []string{"reason"}),
		StockDeducted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "stockroom",
			Name:      "stock_units_deducted_total",
			Help:      "Material units deducted by approved requests.",
		}),
		HTTPDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "stockroom",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route and status.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
	}

	reg.MustRegister(m.RequestsCreated, m.RequestsProcessed, m.RequestsRejected, m.StockDeducted, m.HTTPDuration)
	return m
}

// GinMiddleware observes request latency labelled by the matched route pattern
func (m *Metrics) GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		m.HTTPDuration.
			WithLabelValues(c.Request.Method, route, strconv.Itoa(c.Writer.Status())).
			Observe(time.Since(start).Seconds())
	}
}

// Package metrics holds the Prometheus collectors for the laundry service and
// the gin glue that exposes them.
package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "laundry"

var (
	// RequestDuration tracks HTTP latency by method, route and status.
	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "route", "status"},
	)

	// CSRFRejections counts refused unsafe requests, by reason
	// ("missing", "mismatch", "expired").
	CSRFRejections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "csrf",
			Name:      "rejections_total",
			Help:      "Unsafe requests rejected by the CSRF guard.",
		},
		[]string{"reason"},
	)

	CSRFSwept = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "csrf",
		Name:      "swept_tokens_total",
		Help:      "Expired CSRF tokens removed by the background sweep.",
	})

	// AccessDenied counts gateway refusals ("unauthorized", "forbidden").
	AccessDenied = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "auth",
			Name:      "denied_total",
			Help:      "Requests refused for a missing principal or role.",
		},
		[]string{"reason"},
	)

	OrderTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "orders",
			Name:      "transitions_total",
			Help:      "Accepted order status transitions by new status.",
		},
		[]string{"status"},
	)

	// AuditFailures counts transitions whose tracking record could not be
	// appended. Any non-zero value needs an operator.
	AuditFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "orders",
		Name:      "audit_failures_total",
		Help:      "Order transitions whose tracking record append failed.",
	})

	StorageCorruptions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "corrupt_collections_total",
			Help:      "Times a collection was found unparseable and quarantined.",
		},
		[]string{"collection"},
	)
)

// Registry is the registry served on /metrics.
var Registry = prometheus.NewRegistry()

func init() {
	Registry.MustRegister(collectors.NewGoCollector())
	Registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	Registry.MustRegister(
		RequestDuration,
		CSRFRejections,
		CSRFSwept,
		AccessDenied,
		OrderTransitions,
		AuditFailures,
		StorageCorruptions,
	)
}

// Middleware records request duration for every request. Routes are labelled
// by their registered pattern to keep cardinality bounded.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		RequestDuration.
			WithLabelValues(c.Request.Method, route, strconv.Itoa(c.Writer.Status())).
			Observe(time.Since(start).Seconds())
	}
}

// Handler serves the registry in the Prometheus exposition format.
func Handler() gin.HandlerFunc {
	h := promhttp.HandlerFor(Registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
	return gin.WrapH(h)
}

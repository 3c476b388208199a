package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// HTTPRequestDuration tracks HTTP request latency across all routes.
var HTTPRequestDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "llmgate",
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "HTTP request duration in seconds.",
		Buckets:   prometheus.DefBuckets,
	},
	[]string{"method", "path", "status"},
)

// QueueDepth reports the current number of jobs waiting in the dispatch queue.
var QueueDepth = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "llmgate",
		Subsystem: "queue",
		Name:      "depth",
		Help:      "Current number of jobs waiting in the dispatch queue.",
	},
)

// InFlightUpstream reports the number of requests currently executing
// against the upstream inference server.
var InFlightUpstream = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "llmgate",
		Subsystem: "dispatcher",
		Name:      "in_flight_upstream",
		Help:      "Number of requests currently in flight against the upstream server.",
	},
)

// QueueRejectedTotal counts admissions rejected because the queue was full.
var QueueRejectedTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: "llmgate",
		Subsystem: "queue",
		Name:      "rejected_total",
		Help:      "Total number of requests rejected due to queue backpressure.",
	},
)

// RateLimitExceededTotal counts requests denied by the per-key rate limiter.
var RateLimitExceededTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: "llmgate",
		Subsystem: "ratelimit",
		Name:      "exceeded_total",
		Help:      "Total number of requests denied by the rate limiter.",
	},
)

// QuotaExceededTotal counts requests denied by the organization quota guard.
var QuotaExceededTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: "llmgate",
		Subsystem: "quota",
		Name:      "exceeded_total",
		Help:      "Total number of requests denied by the organization quota guard.",
	},
)

// UpstreamErrorsTotal counts failed upstream calls: unary calls answered with
// an HTTP error status ("http") and calls that failed in transport ("transport").
var UpstreamErrorsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "llmgate",
		Subsystem: "upstream",
		Name:      "errors_total",
		Help:      "Total number of upstream call failures, by failure class (http or transport).",
	},
	[]string{"class"},
)

// AccountingFailuresTotal counts accounting writes that failed and were
// logged-and-swallowed per spec.md §4.8.
var AccountingFailuresTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: "llmgate",
		Subsystem: "accounting",
		Name:      "failures_total",
		Help:      "Total number of accounting writes that failed and were dropped.",
	},
)

// All returns the gateway's own collectors, for registration alongside the
// shared HTTPRequestDuration metric.
func All() []prometheus.Collector {
	return []prometheus.Collector{
		QueueDepth,
		InFlightUpstream,
		QueueRejectedTotal,
		RateLimitExceededTotal,
		QuotaExceededTotal,
		UpstreamErrorsTotal,
		AccountingFailuresTotal,
	}
}

// NewMetricsRegistry creates a Prometheus registry with Go/process
// collectors, the shared HTTPRequestDuration metric, and any additional
// service-specific collectors passed as arguments.
func NewMetricsRegistry(extra ...prometheus.Collector) *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		HTTPRequestDuration,
	)
	for _, c := range extra {
		reg.MustRegister(c)
	}
	return reg
}

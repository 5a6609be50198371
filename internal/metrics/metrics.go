// Package metrics provides gateway metrics collection. It wraps Prometheus
// collectors on a private registry so several gateways can coexist in tests.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder is the metrics surface the gateway depends on.
type Recorder interface {
	RecordRequest(method, channel string)
	RecordRejected(method, kind string)
	RecordResponse(method, channel, outcome string)
	RecordPresented(category string)
	RecordPending(category string, pending bool)
	RecordReconciliation(outcome string)
	RecordDispatch(channel string, duration time.Duration, err error)
	RecordRateLimited(channel string)
}

// Collector provides gateway metrics collection.
type Collector struct {
	registry *prometheus.Registry

	requests        *prometheus.CounterVec
	rejected        *prometheus.CounterVec
	responses       *prometheus.CounterVec
	presented       *prometheus.CounterVec
	pending         *prometheus.GaugeVec
	reconciliations *prometheus.CounterVec
	dispatchTotal   *prometheus.CounterVec
	dispatchLatency *prometheus.HistogramVec
	rateLimited     *prometheus.CounterVec
}

var _ Recorder = (*Collector)(nil)

// NewCollector creates a collector. namespace defaults to "dapp_gateway".
func NewCollector(namespace string) *Collector {
	if namespace == "" {
		namespace = "dapp_gateway"
	}

	c := &Collector{registry: prometheus.NewRegistry()}

	c.requests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "requests",
			Name:      "total",
			Help:      "Requests received, by method and channel",
		},
		[]string{"method", "channel"},
	)

	c.rejected = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "requests",
			Name:      "rejected_total",
			Help:      "Requests answered with an error before any surface was shown",
		},
		[]string{"method", "kind"},
	)

	c.responses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "responses",
			Name:      "total",
			Help:      "Responses sent, by outcome",
		},
		[]string{"method", "channel", "outcome"},
	)

	c.presented = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "surface",
			Name:      "presented_total",
			Help:      "Requests presented on an approval surface",
		},
		[]string{"category"},
	)

	c.pending = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "surface",
			Name:      "pending",
			Help:      "Whether a surface currently holds a request awaiting the user (0/1)",
		},
		[]string{"category"},
	)

	c.reconciliations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reconciliation",
			Name:      "total",
			Help:      "Reconciliation flows by outcome",
		},
		[]string{"outcome"},
	)

	c.dispatchTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "total",
			Help:      "Response deliveries by channel and result",
		},
		[]string{"channel", "result"},
	)

	c.dispatchLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "duration_seconds",
			Help:      "Time taken to hand a response to its transport",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 12), // 0.5ms to ~1s
		},
		[]string{"channel"},
	)

	c.rateLimited = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "requests",
			Name:      "rate_limited_total",
			Help:      "Requests refused by the per-origin limiter",
		},
		[]string{"channel"},
	)

	c.registry.MustRegister(
		c.requests,
		c.rejected,
		c.responses,
		c.presented,
		c.pending,
		c.reconciliations,
		c.dispatchTotal,
		c.dispatchLatency,
		c.rateLimited,
	)
	return c
}

// Registry returns the Prometheus registry.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

func (c *Collector) RecordRequest(method, channel string) {
	c.requests.WithLabelValues(method, channel).Inc()
}

func (c *Collector) RecordRejected(method, kind string) {
	c.rejected.WithLabelValues(method, kind).Inc()
}

func (c *Collector) RecordResponse(method, channel, outcome string) {
	c.responses.WithLabelValues(method, channel, outcome).Inc()
}

func (c *Collector) RecordPresented(category string) {
	c.presented.WithLabelValues(category).Inc()
}

func (c *Collector) RecordPending(category string, pending bool) {
	v := 0.0
	if pending {
		v = 1
	}
	c.pending.WithLabelValues(category).Set(v)
}

func (c *Collector) RecordReconciliation(outcome string) {
	c.reconciliations.WithLabelValues(outcome).Inc()
}

func (c *Collector) RecordDispatch(channel string, duration time.Duration, err error) {
	result := "success"
	if err != nil {
		result = "error"
	}
	c.dispatchTotal.WithLabelValues(channel, result).Inc()
	c.dispatchLatency.WithLabelValues(channel).Observe(duration.Seconds())
}

func (c *Collector) RecordRateLimited(channel string) {
	c.rateLimited.WithLabelValues(channel).Inc()
}

// Reset clears every series.
func (c *Collector) Reset() {
	c.requests.Reset()
	c.rejected.Reset()
	c.responses.Reset()
	c.presented.Reset()
	c.pending.Reset()
	c.reconciliations.Reset()
	c.dispatchTotal.Reset()
	c.dispatchLatency.Reset()
	c.rateLimited.Reset()
}

// NoOpCollector discards all metrics.
type NoOpCollector struct{}

var _ Recorder = (*NoOpCollector)(nil)

// NewNoOpCollector returns a collector that records nothing.
func NewNoOpCollector() *NoOpCollector {
	return &NoOpCollector{}
}

func (*NoOpCollector) RecordRequest(method, channel string)                             {}
func (*NoOpCollector) RecordRejected(method, kind string)                               {}
func (*NoOpCollector) RecordResponse(method, channel, outcome string)                   {}
func (*NoOpCollector) RecordPresented(category string)                                  {}
func (*NoOpCollector) RecordPending(category string, pending bool)                      {}
func (*NoOpCollector) RecordReconciliation(outcome string)                              {}
func (*NoOpCollector) RecordDispatch(channel string, duration time.Duration, err error) {}
func (*NoOpCollector) RecordRateLimited(channel string)                                 {}

// Package metrics exposes prometheus collectors for the allocation engine.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector records engine outcomes. It owns its registry so tests can build
// as many as they like.
type Collector struct {
	registry   *prometheus.Registry
	operations *prometheus.CounterVec
	retries    *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	freedBeds  prometheus.Counter
}

// New creates a Collector with the Go runtime and process collectors attached.
func New() *Collector {
	reg := prometheus.NewRegistry()
	c := &Collector{
		registry: reg,
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hostel",
			Subsystem: "allocation",
			Name:      "operations_total",
			Help:      "Allocation engine operations by outcome.",
		}, []string{"operation", "result"}),
		retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hostel",
			Subsystem: "allocation",
			Name:      "retries_total",
			Help:      "Transactions retried after a serialization failure or deadlock.",
		}, []string{"operation"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "hostel",
			Subsystem: "allocation",
			Name:      "operation_duration_seconds",
			Help:      "Wall time of allocation engine operations including retries.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
		freedBeds: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "hostel",
			Subsystem: "allocation",
			Name:      "freed_beds_total",
			Help:      "Beds released by vacate or transfer.",
		}),
	}
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		c.operations, c.retries, c.duration, c.freedBeds,
	)
	return c
}

// ObserveOperation records one finished engine call.
func (c *Collector) ObserveOperation(operation, result string, elapsed time.Duration) {
	c.operations.WithLabelValues(operation, result).Inc()
	c.duration.WithLabelValues(operation).Observe(elapsed.Seconds())
}

// ObserveRetry records one retried transaction.
func (c *Collector) ObserveRetry(operation string) {
	c.retries.WithLabelValues(operation).Inc()
}

// ObserveFreedBed records one released bed.
func (c *Collector) ObserveFreedBed() {
	c.freedBeds.Inc()
}

// Handler serves the registry in the prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

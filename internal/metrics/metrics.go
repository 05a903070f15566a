// Package metrics exposes Prometheus counters for annotation-store activity.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Collector holds the Prometheus instruments. A nil *Collector is a valid
// no-op receiver, so callers never need to guard metric calls.
type Collector struct {
	registry    *prometheus.Registry
	writesTotal *prometheus.CounterVec
	mergesTotal *prometheus.CounterVec
	syncsTotal  *prometheus.CounterVec
}

// NewCollector creates a collector with its own registry.
func NewCollector() *Collector {
	registry := prometheus.NewRegistry()

	writesTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ansuz_writes_total",
			Help: "Head-advancing writes by namespace and kind (appended, adopted, merged).",
		},
		[]string{"namespace", "kind"},
	)

	mergesTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ansuz_merge_resolutions_total",
			Help: "Resolver outcomes by namespace and action (none, fast_forward, merge).",
		},
		[]string{"namespace", "action"},
	)

	syncsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ansuz_syncs_total",
			Help: "Fetch/push attempts by remote, operation, and status.",
		},
		[]string{"remote", "operation", "status"},
	)

	registry.MustRegister(writesTotal)
	registry.MustRegister(mergesTotal)
	registry.MustRegister(syncsTotal)

	return &Collector{
		registry:    registry,
		writesTotal: writesTotal,
		mergesTotal: mergesTotal,
		syncsTotal:  syncsTotal,
	}
}

// Registry returns the registry for the /metrics handler.
func (c *Collector) Registry() *prometheus.Registry {
	if c == nil {
		return nil
	}
	return c.registry
}

// RecordWrite counts a head change.
func (c *Collector) RecordWrite(namespace, kind string) {
	if c == nil {
		return
	}
	c.writesTotal.WithLabelValues(namespace, kind).Inc()
}

// RecordResolution counts a resolver decision.
func (c *Collector) RecordResolution(namespace, action string) {
	if c == nil {
		return
	}
	c.mergesTotal.WithLabelValues(namespace, action).Inc()
}

// RecordSync counts one fetch or push attempt.
func (c *Collector) RecordSync(remote, operation, status string) {
	if c == nil {
		return
	}
	c.syncsTotal.WithLabelValues(remote, operation, status).Inc()
}

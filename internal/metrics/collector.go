// Package metrics exposes node lifecycle metrics in Prometheus format.
//
// A Collector is registered as a node event handler and turns events into
// counters, a readiness histogram and a running gauge. Handler serves the
// collector's registry on /metrics.
package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nerrad567/nodekeeper/internal/node"
)

const namespace = "nodekeeper"

// Spawn outcomes.
const (
	OutcomeReady   = "ready"
	OutcomeTimeout = "timeout"
	OutcomeFailed  = "failed"
)

// readinessBuckets covers the 50ms poll interval up to the 5s default
// timeout.
var readinessBuckets = []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 3, 5, 10}

// Collector holds the lifecycle metrics of one node.
type Collector struct {
	registry *prometheus.Registry

	events        *prometheus.CounterVec
	spawns        *prometheus.CounterVec
	exits         *prometheus.CounterVec
	readiness     prometheus.Histogram
	running       prometheus.Gauge
	storageResets prometheus.Counter
}

// New creates a collector on a fresh registry that also carries the Go
// runtime and process collectors.
func New() *Collector {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return NewWithRegistry(reg)
}

// NewWithRegistry creates a collector registered on reg.
func NewWithRegistry(reg *prometheus.Registry) *Collector {
	c := &Collector{
		registry: reg,
		events: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "node_events_total",
				Help:      "Node lifecycle events by type",
			},
			[]string{"node", "type"},
		),
		spawns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "node_spawns_total",
				Help:      "Spawn attempts by outcome",
			},
			[]string{"node", "outcome"},
		),
		exits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "node_exits_total",
				Help:      "Process exits, split by whether a kill was requested",
			},
			[]string{"node", "requested"},
		),
		readiness: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "node_readiness_seconds",
				Help:      "Time from spawn until the health endpoint answered 200",
				Buckets:   readinessBuckets,
			},
		),
		running: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "node_running",
				Help:      "1 while the node is running and ready",
			},
		),
		storageResets: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "node_storage_resets_total",
				Help:      "Storage directory resets",
			},
		),
	}

	reg.MustRegister(c.events, c.spawns, c.exits, c.readiness, c.running, c.storageResets)
	return c
}

// HandleEvent updates the metrics for ev. It is a node.EventHandler.
func (c *Collector) HandleEvent(ev node.Event) {
	c.events.WithLabelValues(ev.Node, string(ev.Type)).Inc()

	switch ev.Type {
	case node.EventReady:
		c.spawns.WithLabelValues(ev.Node, OutcomeReady).Inc()
		c.readiness.Observe(ev.Elapsed.Seconds())
		c.running.Set(1)
	case node.EventReadyTimeout:
		c.spawns.WithLabelValues(ev.Node, OutcomeTimeout).Inc()
		c.running.Set(0)
	case node.EventSpawnFailed:
		c.spawns.WithLabelValues(ev.Node, OutcomeFailed).Inc()
	case node.EventKilled:
		c.running.Set(0)
	case node.EventProcessExited:
		requested, _ := ev.Details["requested"].(bool)
		c.exits.WithLabelValues(ev.Node, strconv.FormatBool(requested)).Inc()
		c.running.Set(0)
	case node.EventStorageRemoved:
		c.storageResets.Inc()
	}
}

// Registry returns the registry the collector is registered on.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

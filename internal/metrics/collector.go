// Package metrics exposes Prometheus instrumentation for the refresh
// pipeline.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pulsecache/pulsecache/pkg/types"
)

// Collector registers and updates the pipeline's Prometheus metrics on a
// private registry.
type Collector struct {
	registry *prometheus.Registry

	runsTotal   prometheus.Counter
	runDuration prometheus.Histogram
	tasksTotal  *prometheus.CounterVec
	cacheOps    *prometheus.CounterVec
	evictions   prometheus.Counter
}

// NewCollector creates a collector with all metrics registered.
func NewCollector() *Collector {
	registry := prometheus.NewRegistry()

	c := &Collector{
		registry: registry,
		runsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "pulsecache",
			Name:      "runs_total",
			Help:      "Total number of pipeline runs",
		}),
		runDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "pulsecache",
			Name:      "run_duration_seconds",
			Help:      "Wall time of pipeline runs",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
		}),
		tasksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pulsecache",
			Name:      "tasks_total",
			Help:      "Per-task outcomes by status",
		}, []string{"status"}),
		cacheOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pulsecache",
			Name:      "cache_operations_total",
			Help:      "Cache backend calls by operation and outcome",
		}, []string{"operation", "outcome"}),
		evictions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "pulsecache",
			Name:      "evictions_total",
			Help:      "Out-of-window keys deleted",
		}),
	}

	registry.MustRegister(c.runsTotal, c.runDuration, c.tasksTotal, c.cacheOps, c.evictions)
	return c
}

// ObserveRun records one completed pipeline run.
func (c *Collector) ObserveRun(d time.Duration) {
	c.runsTotal.Inc()
	c.runDuration.Observe(d.Seconds())
}

// RecordTask records a task outcome.
func (c *Collector) RecordTask(status types.TaskStatus) {
	c.tasksTotal.WithLabelValues(string(status)).Inc()
}

// RecordCacheOp records a backend call outcome.
func (c *Collector) RecordCacheOp(operation string, ok bool) {
	outcome := "ok"
	if !ok {
		outcome = "error"
	}
	c.cacheOps.WithLabelValues(operation, outcome).Inc()
}

// RecordEviction records one out-of-window delete.
func (c *Collector) RecordEviction() {
	c.evictions.Inc()
}

// Handler returns the HTTP handler serving the registry.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// Package metrics exposes Prometheus metrics for pool occupancy and call
// throughput, the same RED/USE-style instrumentation the teacher's queue
// carries for its own job pipeline, re-themed here for worker calls instead
// of enqueued jobs.
//
// Metric categories:
//
//  1. Call counters (monotonic):
//     - workerpool_calls_dispatched_total
//     - workerpool_calls_completed_total
//     - workerpool_calls_failed_total
//     - workerpool_calls_oomed_total
//
//  2. Latency (histogram):
//     - workerpool_call_latency_seconds
//
//  3. Occupancy (gauge):
//     - workerpool_workers_busy
//     - workerpool_workers_idle
//     - workerpool_workers_force_quit
package metrics

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector collects Prometheus metrics for one pool.
type Collector struct {
	callsDispatched prometheus.Counter
	callsCompleted  prometheus.Counter
	callsFailed     prometheus.Counter
	callsOOMed      prometheus.Counter

	callLatency prometheus.Histogram

	workersBusy      prometheus.Gauge
	workersIdle      prometheus.Gauge
	workersForceQuit prometheus.Gauge
}

// NewCollector builds and registers a fresh Collector against reg. Passing
// a dedicated registry (rather than prometheus.MustRegister against the
// global default) lets tests construct more than one Collector without
// colliding on metric names.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		callsDispatched: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "workerpool_calls_dispatched_total",
			Help: "Total number of calls dispatched to a worker",
		}),
		callsCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "workerpool_calls_completed_total",
			Help: "Total number of calls that completed successfully",
		}),
		callsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "workerpool_calls_failed_total",
			Help: "Total number of calls that failed (excluding OOM)",
		}),
		callsOOMed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "workerpool_calls_oomed_total",
			Help: "Total number of calls whose worker was OOM-killed",
		}),
		callLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "workerpool_call_latency_seconds",
			Help:    "Call dispatch-to-result latency in seconds",
			Buckets: prometheus.DefBuckets,
		}),
		workersBusy: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "workerpool_workers_busy",
			Help: "Current number of workers executing a call",
		}),
		workersIdle: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "workerpool_workers_idle",
			Help: "Current number of idle, callable workers",
		}),
		workersForceQuit: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "workerpool_workers_force_quit",
			Help: "Current number of workers in the terminal force-quit state",
		}),
	}

	reg.MustRegister(
		c.callsDispatched,
		c.callsCompleted,
		c.callsFailed,
		c.callsOOMed,
		c.callLatency,
		c.workersBusy,
		c.workersIdle,
		c.workersForceQuit,
	)

	return c
}

// RecordDispatch records one call being sent to a worker.
func (c *Collector) RecordDispatch() { c.callsDispatched.Inc() }

// RecordCompleted records a successful call and its latency.
func (c *Collector) RecordCompleted(latencySeconds float64) {
	c.callsCompleted.Inc()
	c.callLatency.Observe(latencySeconds)
}

// RecordFailed records a call that failed for a reason other than OOM.
func (c *Collector) RecordFailed() { c.callsFailed.Inc() }

// RecordOOMed records a call whose worker was OOM-killed.
func (c *Collector) RecordOOMed() { c.callsOOMed.Inc() }

// UpdateOccupancy sets the point-in-time worker occupancy gauges.
func (c *Collector) UpdateOccupancy(busy, idle, forceQuit int) {
	c.workersBusy.Set(float64(busy))
	c.workersIdle.Set(float64(idle))
	c.workersForceQuit.Set(float64(forceQuit))
}

// StartServer serves gatherer's metrics on /metrics at the given port,
// blocking until the HTTP server exits. gatherer is the same registry
// NewCollector was given; promhttp.Handler() alone would instead serve
// the process-global DefaultGatherer, which never sees a Collector
// registered against a dedicated registry.
func StartServer(port int, gatherer prometheus.Gatherer) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	addr := fmt.Sprintf(":%d", port)
	return http.ListenAndServe(addr, mux)
}

// Package metrics exposes Prometheus instrumentation for the node service
// (SPEC_FULL.md §10). It is grounded on the teacher's internal/metrics:
// the same counter/histogram/gauge shape, generalized from one global
// queue's statistics to per-app statistics via a Prometheus label, since
// this module runs one queue and one slave pool per app rather than one
// global queue.
package metrics

import (
	"net/http"
	"strings"

	"github.com/cocaine-go/cocained/internal/engine"
	"github.com/cocaine-go/cocained/pkg/types"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector holds every metric this process exposes, labeled by app name
// where a single node can run more than one app concurrently.
type Collector struct {
	jobsEnqueued   *prometheus.CounterVec
	jobsDispatched *prometheus.CounterVec
	jobsCompleted  *prometheus.CounterVec
	jobsFailed     *prometheus.CounterVec
	jobsCancelled  *prometheus.CounterVec
	jobsExpired    *prometheus.CounterVec

	jobLatency *prometheus.HistogramVec

	slavesIdle        *prometheus.GaugeVec
	slavesBusy        *prometheus.GaugeVec
	slavesSpawning    *prometheus.GaugeVec
	slavesTerminating *prometheus.GaugeVec
	queueDepth        *prometheus.GaugeVec
}

// NewCollector builds and registers every metric against the default
// Prometheus registry.
func NewCollector() *Collector {
	c := &Collector{
		jobsEnqueued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cocained_jobs_enqueued_total",
			Help: "Total number of jobs enqueued, by app",
		}, []string{"app"}),
		jobsDispatched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cocained_jobs_dispatched_total",
			Help: "Total number of jobs dispatched to a slave, by app",
		}, []string{"app"}),
		jobsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cocained_jobs_completed_total",
			Help: "Total number of jobs completed successfully, by app",
		}, []string{"app"}),
		jobsFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cocained_jobs_failed_total",
			Help: "Total number of jobs failed, by app",
		}, []string{"app"}),
		jobsCancelled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cocained_jobs_cancelled_total",
			Help: "Total number of jobs cancelled, by app",
		}, []string{"app"}),
		jobsExpired: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cocained_jobs_deadline_exceeded_total",
			Help: "Total number of jobs dropped for a passed deadline, by app",
		}, []string{"app"}),
		jobLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "cocained_job_latency_seconds",
			Help:    "Job processing latency in seconds, by app",
			Buckets: prometheus.DefBuckets,
		}, []string{"app"}),
		slavesIdle: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "cocained_slaves_idle",
			Help: "Current number of idle slaves, by app",
		}, []string{"app"}),
		slavesBusy: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "cocained_slaves_busy",
			Help: "Current number of busy slaves, by app",
		}, []string{"app"}),
		slavesSpawning: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "cocained_slaves_spawning",
			Help: "Current number of spawning slaves, by app",
		}, []string{"app"}),
		slavesTerminating: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "cocained_slaves_terminating",
			Help: "Current number of terminating slaves, by app",
		}, []string{"app"}),
		queueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "cocained_queue_depth",
			Help: "Current number of pending jobs, by app",
		}, []string{"app"}),
	}

	prometheus.MustRegister(
		c.jobsEnqueued,
		c.jobsDispatched,
		c.jobsCompleted,
		c.jobsFailed,
		c.jobsCancelled,
		c.jobsExpired,
		c.jobLatency,
		c.slavesIdle,
		c.slavesBusy,
		c.slavesSpawning,
		c.slavesTerminating,
		c.queueDepth,
	)

	return c
}

func (c *Collector) RecordEnqueue(app string)   { c.jobsEnqueued.WithLabelValues(app).Inc() }
func (c *Collector) RecordDispatch(app string)  { c.jobsDispatched.WithLabelValues(app).Inc() }
func (c *Collector) RecordFailed(app string)    { c.jobsFailed.WithLabelValues(app).Inc() }
func (c *Collector) RecordCancelled(app string) { c.jobsCancelled.WithLabelValues(app).Inc() }
func (c *Collector) RecordExpired(app string)   { c.jobsExpired.WithLabelValues(app).Inc() }

func (c *Collector) RecordCompleted(app string, latencySeconds float64) {
	c.jobsCompleted.WithLabelValues(app).Inc()
	c.jobLatency.WithLabelValues(app).Observe(latencySeconds)
}

// Sample feeds one engine's point-in-time Info snapshot into the gauges.
// Intended to be called on a fixed cadence (the teacher's snapshotLoop,
// generalized here into a stats-sampling loop since there is no
// persistent queue to snapshot).
func (c *Collector) Sample(appName string, info engine.Info) {
	c.slavesIdle.WithLabelValues(appName).Set(float64(info.Slaves.Idle))
	c.slavesBusy.WithLabelValues(appName).Set(float64(info.Slaves.Busy))
	c.slavesSpawning.WithLabelValues(appName).Set(float64(info.Slaves.Spawning))
	c.slavesTerminating.WithLabelValues(appName).Set(float64(info.Slaves.Terminating))
	c.queueDepth.WithLabelValues(appName).Set(float64(info.QueueDepth))
}

// Record implements internal/engine.AuditSink, so a Collector can be
// wired in directly as an engine's audit sink alongside (or instead of) a
// dedicated internal/walaudit.Log. jobID is unused here: Prometheus
// counters are aggregate, not per-job.
func (c *Collector) Record(app string, event string, jobID types.JobID) {
	switch {
	case event == "enqueued":
		c.RecordEnqueue(app)
	case event == "dispatched":
		c.RecordDispatch(app)
	case event == string(types.StatusCompleted):
		c.RecordCompleted(app, 0)
	case event == "cancelled":
		c.RecordCancelled(app)
	case event == "deadline_exceeded":
		c.RecordExpired(app)
	case event == string(types.StatusFailed), strings.HasPrefix(event, "failed:"):
		c.RecordFailed(app)
	}
}

// Handler returns the Prometheus scrape endpoint handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

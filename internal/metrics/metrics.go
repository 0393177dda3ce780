// Package metrics exposes pool and scheduler state to Prometheus.
//
// Gauges are read from component snapshots at scrape time. Counters and
// histograms are fed from the event bus by Run.
package metrics

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"workyard/internal/eventbus"
	"workyard/internal/task/schedule"
	"workyard/internal/task/work"
)

const namespace = "workyard"

type PoolSource interface{ Snapshot() work.Snapshot }

type ScheduleSource interface{ Snapshot() schedule.Snapshot }

type Metrics struct {
	reg *prometheus.Registry

	jobsStarted   prometheus.Counter
	jobsFinished  prometheus.Counter
	jobsFailed    prometheus.Counter
	jobsPanicked  prometheus.Counter
	jobDuration   prometheus.Histogram
	queueDelay    prometheus.Histogram
	workerChanges *prometheus.CounterVec
	entries       *prometheus.CounterVec
}

// New builds a private registry with Go/process collectors plus gauges over
// pool and sched. Either source may be nil.
func New(pool PoolSource, sched ScheduleSource) *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		jobsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "jobs", Name: "started_total",
			Help: "Jobs picked up by a worker.",
		}),
		jobsFinished: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "jobs", Name: "finished_total",
			Help: "Jobs that returned without error.",
		}),
		jobsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "jobs", Name: "failed_total",
			Help: "Jobs that returned an error or panicked.",
		}),
		jobsPanicked: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "jobs", Name: "panicked_total",
			Help: "Jobs that panicked.",
		}),
		jobDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "jobs", Name: "duration_seconds",
			Help:    "Job run time.",
			Buckets: prometheus.ExponentialBuckets(0.001, 4, 10),
		}),
		queueDelay: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "jobs", Name: "queue_delay_seconds",
			Help:    "Time between enqueue and pickup.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 4, 10),
		}),
		workerChanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "pool", Name: "worker_changes_total",
			Help: "Workers added and retired.",
		}, []string{"change"}),
		entries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "schedule", Name: "occurrences_total",
			Help: "Schedule occurrences by outcome.",
		}, []string{"outcome"}),
	}

	m.reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.jobsStarted, m.jobsFinished, m.jobsFailed, m.jobsPanicked,
		m.jobDuration, m.queueDelay, m.workerChanges, m.entries,
	)

	if pool != nil {
		gauge := func(name, help string, f func(work.Snapshot) float64) {
			m.reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
				Namespace: namespace, Subsystem: "pool", Name: name, Help: help,
			}, func() float64 { return f(pool.Snapshot()) }))
		}
		gauge("workers", "Live workers.", func(s work.Snapshot) float64 { return float64(s.Workers) })
		gauge("min_workers", "Worker floor.", func(s work.Snapshot) float64 { return float64(s.MinWorkers) })
		gauge("max_workers", "Worker ceiling.", func(s work.Snapshot) float64 { return float64(s.MaxWorkers) })
		gauge("in_flight", "Jobs currently running.", func(s work.Snapshot) float64 { return float64(s.InFlight) })
		gauge("queue_length", "Jobs waiting for a worker.", func(s work.Snapshot) float64 { return float64(s.QueueLen) })
		gauge("discarded", "Jobs dropped by Clear or Stop.", func(s work.Snapshot) float64 { return float64(s.Discarded) })
	}
	if sched != nil {
		gauge := func(name, help string, f func(schedule.Snapshot) float64) {
			m.reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
				Namespace: namespace, Subsystem: "schedule", Name: name, Help: help,
			}, func() float64 { return f(sched.Snapshot()) }))
		}
		gauge("entries", "Registered schedule entries.", func(s schedule.Snapshot) float64 { return float64(s.Len) })
		gauge("watcher_parked", "1 when the watcher is parked on an empty schedule.", func(s schedule.Snapshot) float64 {
			if s.Parked {
				return 1
			}
			return 0
		})
		gauge("next_fire_timestamp_seconds", "Unix time of the earliest entry, 0 when empty.", func(s schedule.Snapshot) float64 {
			if s.Next.IsZero() {
				return 0
			}
			return float64(s.Next.UnixNano()) / 1e9
		})
	}
	return m
}

func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

// Observe folds one bus event into the counters.
func (m *Metrics) Observe(e eventbus.Event) {
	switch e.Type {
	case eventbus.JobStarted:
		m.jobsStarted.Inc()
		if je, ok := e.Data.(eventbus.JobEvent); ok {
			m.queueDelay.Observe(je.QueueDelay.Seconds())
		}
	case eventbus.JobFinished:
		m.jobsFinished.Inc()
		if je, ok := e.Data.(eventbus.JobEvent); ok {
			m.jobDuration.Observe(je.Duration.Seconds())
		}
	case eventbus.JobFailed:
		m.jobsFailed.Inc()
		if je, ok := e.Data.(eventbus.JobEvent); ok {
			m.jobDuration.Observe(je.Duration.Seconds())
			if je.Panicked {
				m.jobsPanicked.Inc()
			}
		}
	case eventbus.WorkerAdded:
		m.workerChanges.WithLabelValues("added").Inc()
	case eventbus.WorkerRetired:
		m.workerChanges.WithLabelValues("retired").Inc()
	case eventbus.ScheduleDispatched:
		m.entries.WithLabelValues("dispatched").Inc()
	case eventbus.ScheduleSkipped:
		outcome := "skipped"
		if ee, ok := e.Data.(eventbus.EntryEvent); ok && ee.Reason != "overdue" {
			outcome = "enqueue_failed"
		}
		m.entries.WithLabelValues(outcome).Inc()
	case eventbus.ScheduleRemoved:
		m.entries.WithLabelValues("removed").Inc()
	}
}

// Run consumes bus events until ctx ends.
func (m *Metrics) Run(ctx context.Context, bus eventbus.Bus) error {
	if bus == nil {
		<-ctx.Done()
		return nil
	}
	events, unsub := bus.Subscribe(512)
	defer unsub()
	for {
		select {
		case <-ctx.Done():
			return nil
		case e, ok := <-events:
			if !ok {
				return nil
			}
			m.Observe(e)
		}
	}
}

package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"workyard/internal/eventbus"
	"workyard/internal/task/schedule"
	"workyard/internal/task/work"
)

type fakePool struct{ snap work.Snapshot }

func (f fakePool) Snapshot() work.Snapshot { return f.snap }

type fakeSched struct{ snap schedule.Snapshot }

func (f fakeSched) Snapshot() schedule.Snapshot { return f.snap }

func value(t *testing.T, m *Metrics, name string, label ...string) float64 {
	t.Helper()
	mfs, err := m.Registry().Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	for _, mf := range mfs {
		if mf.GetName() != name {
			continue
		}
		for _, metric := range mf.GetMetric() {
			if len(label) == 2 {
				match := false
				for _, lp := range metric.GetLabel() {
					if lp.GetName() == label[0] && lp.GetValue() == label[1] {
						match = true
					}
				}
				if !match {
					continue
				}
			}
			switch {
			case metric.GetCounter() != nil:
				return metric.GetCounter().GetValue()
			case metric.GetGauge() != nil:
				return metric.GetGauge().GetValue()
			case metric.GetHistogram() != nil:
				return float64(metric.GetHistogram().GetSampleCount())
			}
		}
	}
	t.Fatalf("metric %s%v not found", name, label)
	return 0
}

func TestGaugesReadSnapshots(t *testing.T) {
	m := New(
		fakePool{work.Snapshot{Workers: 3, MinWorkers: 1, MaxWorkers: 4, QueueLen: 7}},
		fakeSched{schedule.Snapshot{Len: 2, Parked: true, Next: time.Unix(1700000000, 0)}},
	)
	if v := value(t, m, "workyard_pool_workers"); v != 3 {
		t.Errorf("workers = %v", v)
	}
	if v := value(t, m, "workyard_pool_queue_length"); v != 7 {
		t.Errorf("queue = %v", v)
	}
	if v := value(t, m, "workyard_schedule_entries"); v != 2 {
		t.Errorf("entries = %v", v)
	}
	if v := value(t, m, "workyard_schedule_watcher_parked"); v != 1 {
		t.Errorf("parked = %v", v)
	}
	if v := value(t, m, "workyard_schedule_next_fire_timestamp_seconds"); v != 1700000000 {
		t.Errorf("next = %v", v)
	}
}

func TestObserveCountsEvents(t *testing.T) {
	m := New(nil, nil)
	m.Observe(eventbus.Event{Type: eventbus.JobStarted, Data: eventbus.JobEvent{QueueDelay: time.Millisecond}})
	m.Observe(eventbus.Event{Type: eventbus.JobFinished, Data: eventbus.JobEvent{Duration: time.Millisecond}})
	m.Observe(eventbus.Event{Type: eventbus.JobFailed, Data: eventbus.JobEvent{Panicked: true}})
	m.Observe(eventbus.Event{Type: eventbus.WorkerAdded})
	m.Observe(eventbus.Event{Type: eventbus.ScheduleSkipped, Data: eventbus.EntryEvent{Reason: "overdue"}})
	m.Observe(eventbus.Event{Type: eventbus.ScheduleSkipped, Data: eventbus.EntryEvent{Reason: "enqueue: stopped"}})

	if v := value(t, m, "workyard_jobs_started_total"); v != 1 {
		t.Errorf("started = %v", v)
	}
	if v := value(t, m, "workyard_jobs_failed_total"); v != 1 {
		t.Errorf("failed = %v", v)
	}
	if v := value(t, m, "workyard_jobs_panicked_total"); v != 1 {
		t.Errorf("panicked = %v", v)
	}
	if v := value(t, m, "workyard_jobs_duration_seconds"); v != 2 {
		t.Errorf("duration samples = %v", v)
	}
	if v := value(t, m, "workyard_pool_worker_changes_total", "change", "added"); v != 1 {
		t.Errorf("added = %v", v)
	}
	if v := value(t, m, "workyard_schedule_occurrences_total", "outcome", "skipped"); v != 1 {
		t.Errorf("skipped = %v", v)
	}
	if v := value(t, m, "workyard_schedule_occurrences_total", "outcome", "enqueue_failed"); v != 1 {
		t.Errorf("enqueue_failed = %v", v)
	}
}

func TestHandlerServesExposition(t *testing.T) {
	m := New(fakePool{work.Snapshot{Workers: 1}}, nil)
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	if rec.Code != 200 || !strings.Contains(string(body), "workyard_pool_workers 1") {
		t.Fatalf("status %d body:\n%s", rec.Code, body)
	}
}

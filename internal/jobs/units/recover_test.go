package units

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"workyard/internal/task/job"
	logx "workyard/pkg/logx"
)

type fakeManager struct {
	mu         sync.Mutex
	status     map[string]Status
	restartErr error
	restarts   []string
	closed     int
}

func (f *fakeManager) Status(_ context.Context, unit string) (Status, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	st, ok := f.status[unit]
	if !ok {
		return Status{Unit: unit, Load: "not-found", Sub: "not-found"}, nil
	}
	return st, nil
}

func (f *fakeManager) Restart(_ context.Context, unit string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.restarts = append(f.restarts, unit)
	return f.restartErr
}

func (f *fakeManager) Close() error {
	f.mu.Lock()
	f.closed++
	f.mu.Unlock()
	return nil
}

func newTestRecoverer(m *fakeManager, now *time.Time) *Recoverer {
	r := NewRecoverer(Config{MinDown: time.Second, BackoffBase: 10 * time.Second, BackoffMax: time.Minute},
		func(context.Context) (Manager, error) { return m, nil }, logx.Nop())
	r.now = func() time.Time { return *now }
	return r
}

func TestRecoverRestartsDownUnits(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	m := &fakeManager{status: map[string]Status{
		"web.service":    {Active: "failed", Load: "loaded", DownSince: now.Add(-time.Minute)},
		"db.service":     {Active: "active", Load: "loaded"},
		"flappy.service": {Active: "inactive", Load: "loaded", DownSince: now.Add(-100 * time.Millisecond)},
	}}
	r := newTestRecoverer(m, &now)

	if err := r.Invoke(context.Background(), "web", "db", "flappy", "ghost"); err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if len(m.restarts) != 1 || m.restarts[0] != "web.service" {
		t.Fatalf("restarts = %v", m.restarts)
	}
	if m.closed != 1 {
		t.Fatalf("manager closed %d times", m.closed)
	}
	if !r.state["ghost.service"].missing {
		t.Fatalf("missing unit not remembered")
	}
}

func TestRecoverBacksOffAfterFailure(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	m := &fakeManager{
		status:     map[string]Status{"web.service": {Active: "failed", Load: "loaded", DownSince: now.Add(-time.Hour)}},
		restartErr: errors.New("access denied"),
	}
	r := newTestRecoverer(m, &now)

	if err := r.Invoke(context.Background(), "web"); err == nil {
		t.Fatalf("failed restart returned nil")
	}
	// Within the backoff window (base 10s, jitter >= 0.7) nothing is retried.
	now = now.Add(5 * time.Second)
	if err := r.Invoke(context.Background(), "web"); err != nil {
		t.Fatalf("invoke during backoff: %v", err)
	}
	if len(m.restarts) != 1 {
		t.Fatalf("restarted during backoff: %v", m.restarts)
	}
	now = now.Add(time.Minute)
	_ = r.Invoke(context.Background(), "web")
	if len(m.restarts) != 2 {
		t.Fatalf("no retry after backoff: %v", m.restarts)
	}
}

func TestBackoffIsCapped(t *testing.T) {
	r := NewRecoverer(Config{BackoffBase: time.Second, BackoffMax: 8 * time.Second}, nil, logx.Nop())
	for streak, want := range map[int]time.Duration{1: time.Second, 2: 2 * time.Second, 4: 8 * time.Second, 40: 8 * time.Second} {
		if got := r.backoff(streak); got != want {
			t.Errorf("backoff(%d) = %s, want %s", streak, got, want)
		}
	}
}

func TestRecoverRejectsBadArgs(t *testing.T) {
	r := NewRecoverer(Config{}, func(context.Context) (Manager, error) { return &fakeManager{}, nil }, logx.Nop())
	if err := r.Invoke(context.Background()); err == nil {
		t.Fatalf("no units accepted")
	}
	if err := r.Invoke(context.Background(), 42); err == nil {
		t.Fatalf("non-string unit accepted")
	}
}

func TestRegisterSharesState(t *testing.T) {
	reg := job.NewRegistry()
	if err := Register(reg, logx.Nop()); err != nil {
		t.Fatal(err)
	}
	a, _ := reg.Resolve(JobName)
	b, _ := reg.Resolve(JobName)
	if job.NameOf(a) != JobName || job.NameOf(b) != JobName {
		t.Fatalf("names = %s, %s", job.NameOf(a), job.NameOf(b))
	}
}

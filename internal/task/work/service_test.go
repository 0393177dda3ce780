package work

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"workyard/internal/eventbus"
	"workyard/internal/task/job"
	logx "workyard/pkg/logx"
)

func newTestPool(t *testing.T, cfg Config) *Pool {
	t.Helper()
	p, err := New(cfg, logx.Nop(), nil)
	if err != nil {
		t.Fatalf("new pool: %v", err)
	}
	p.Start(context.Background())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = p.Stop(ctx)
	})
	return p
}

func waitFor(t *testing.T, within time.Duration, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(within)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out after %s waiting for %s", within, what)
}

func TestNewRejectsInvalidBounds(t *testing.T) {
	tests := []Config{
		{MinWorkers: 0, MaxWorkers: 4},
		{MinWorkers: 3, MaxWorkers: 2},
		{MinWorkers: -1, MaxWorkers: -1},
	}
	for _, cfg := range tests {
		if _, err := New(cfg, logx.Nop(), nil); !errors.Is(err, ErrInvalidBounds) {
			t.Errorf("New(%+v) err = %v, want ErrInvalidBounds", cfg, err)
		}
	}
}

func TestEnqueueRunsJobWithArgs(t *testing.T) {
	p := newTestPool(t, Config{MinWorkers: 1, MaxWorkers: 2, PopTimeout: 50 * time.Millisecond})

	got := make(chan []any, 1)
	err := p.Enqueue(job.Func(func(_ context.Context, args ...any) error {
		got <- args
		return nil
	}), "a", 2)
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	select {
	case args := <-got:
		if len(args) != 2 || args[0] != "a" || args[1] != 2 {
			t.Fatalf("args = %v", args)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("job did not run")
	}
	if err := p.Enqueue(nil); !errors.Is(err, ErrNilJob) {
		t.Fatalf("nil job err = %v", err)
	}
}

func TestSingleWorkerIsFIFO(t *testing.T) {
	p := newTestPool(t, Config{MinWorkers: 1, MaxWorkers: 1, PopTimeout: 50 * time.Millisecond})

	var mu sync.Mutex
	var order []int
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		i := i
		wg.Add(1)
		_ = p.Enqueue(job.Simple(func() {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			wg.Done()
		}))
	}
	wg.Wait()
	for i, v := range order {
		if v != i {
			t.Fatalf("order = %v", order)
		}
	}
}

func TestFailingJobsAreIsolated(t *testing.T) {
	p := newTestPool(t, Config{MinWorkers: 1, MaxWorkers: 1, PopTimeout: 50 * time.Millisecond})

	done := make(chan struct{})
	_ = p.Enqueue(job.Func(func(context.Context, ...any) error { panic("boom") }))
	_ = p.Enqueue(job.Func(func(context.Context, ...any) error { return errors.New("nope") }))
	_ = p.Enqueue(job.Simple(func() { close(done) }))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("job after failures did not run")
	}
	waitFor(t, time.Second, "counters", func() bool { return p.Snapshot().Processed == 1 })
	snap := p.Snapshot()
	if snap.Failed != 2 || snap.Panicked != 1 {
		t.Fatalf("failed=%d panicked=%d", snap.Failed, snap.Panicked)
	}
	if snap.Workers != 1 {
		t.Fatalf("workers = %d, want floor of 1", snap.Workers)
	}
}

func TestPoolGrowsUnderBacklogAndSettlesToFloor(t *testing.T) {
	p := newTestPool(t, Config{MinWorkers: 1, MaxWorkers: 4, PopTimeout: 50 * time.Millisecond})

	gate := make(chan struct{})
	var ran atomic.Int32
	var peak atomic.Int32
	for i := 0; i < 10; i++ {
		_ = p.Enqueue(job.Simple(func() {
			<-gate
			ran.Add(1)
		}))
		if n := int32(p.Workers()); n > peak.Load() {
			peak.Store(n)
		}
	}
	if n := p.Workers(); n <= 1 || n > 4 {
		t.Fatalf("workers after burst = %d, want 2..4", n)
	}
	if peak.Load() > 4 {
		t.Fatalf("peak workers %d exceeds ceiling", peak.Load())
	}

	close(gate)
	waitFor(t, 3*time.Second, "backlog drained", func() bool { return ran.Load() == 10 })
	waitFor(t, 3*time.Second, "idle workers retired", func() bool { return p.Workers() == 1 })

	// Stays at the floor across further idle timeouts.
	time.Sleep(200 * time.Millisecond)
	if n := p.Workers(); n != 1 {
		t.Fatalf("workers = %d after idle, want 1", n)
	}
	if snap := p.Snapshot(); snap.WorkersRetired == 0 {
		t.Fatalf("expected retirements, snapshot %+v", snap)
	}
}

func TestWorkerChurnKeepsOneSupervisorEntry(t *testing.T) {
	p := newTestPool(t, Config{MinWorkers: 1, MaxWorkers: 4, PopTimeout: 20 * time.Millisecond})

	for round := 0; round < 5; round++ {
		gate := make(chan struct{})
		for i := 0; i < 8; i++ {
			_ = p.Enqueue(job.Simple(func() { <-gate }))
		}
		close(gate)
		waitFor(t, 3*time.Second, "settle to floor", func() bool {
			return p.Workers() == 1 && p.Snapshot().QueueLen == 0
		})
	}

	added := p.Snapshot().WorkersAdded
	if added <= 5 {
		t.Fatalf("workers added = %d, want churn above the floor", added)
	}
	waitFor(t, 3*time.Second, "supervisor stats", func() bool {
		gs := p.sup.Snapshot().Goroutines
		return len(gs) == 1 && gs[0].Name == workerGoName && gs[0].Active == 1 && gs[0].Started == added
	})
}

func TestClearDropsPendingJobs(t *testing.T) {
	p := newTestPool(t, Config{MinWorkers: 1, MaxWorkers: 1, PopTimeout: 50 * time.Millisecond})

	started := make(chan struct{})
	gate := make(chan struct{})
	_ = p.Enqueue(job.Simple(func() {
		close(started)
		<-gate
	}))
	<-started

	var ran atomic.Int32
	for i := 0; i < 5; i++ {
		_ = p.Enqueue(job.Simple(func() { ran.Add(1) }))
	}
	if n := p.Clear(); n != 5 {
		t.Fatalf("cleared %d, want 5", n)
	}
	close(gate)
	time.Sleep(100 * time.Millisecond)
	if ran.Load() != 0 {
		t.Fatalf("cleared jobs ran %d times", ran.Load())
	}
	if p.Len() != 0 {
		t.Fatalf("queue len = %d", p.Len())
	}
}

func TestStopDiscardsPendingAndRejectsEnqueue(t *testing.T) {
	p, err := New(Config{MinWorkers: 1, MaxWorkers: 1, PopTimeout: 50 * time.Millisecond}, logx.Nop(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := p.Enqueue(job.Simple(func() {})); !errors.Is(err, ErrStopped) {
		t.Fatalf("enqueue before start err = %v", err)
	}
	p.Start(context.Background())

	started := make(chan struct{})
	gate := make(chan struct{})
	_ = p.Enqueue(job.Simple(func() {
		close(started)
		<-gate
	}))
	<-started
	_ = p.Enqueue(job.Simple(func() {}))
	_ = p.Enqueue(job.Simple(func() {}))

	stopped := make(chan error, 1)
	go func() { stopped <- p.Stop(context.Background()) }()
	waitFor(t, time.Second, "pool stopping", func() bool { return !p.Snapshot().Running })
	close(gate)
	select {
	case err := <-stopped:
		if err != nil {
			t.Fatalf("stop: %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("stop did not return")
	}
	snap := p.Snapshot()
	if snap.Discarded != 2 || snap.Running || snap.Workers != 0 {
		t.Fatalf("snapshot after stop = %+v", snap)
	}
	if err := p.Enqueue(job.Simple(func() {})); !errors.Is(err, ErrStopped) {
		t.Fatalf("enqueue after stop err = %v", err)
	}
}

func TestApplyRaisesFloor(t *testing.T) {
	p := newTestPool(t, Config{MinWorkers: 1, MaxWorkers: 4, PopTimeout: 50 * time.Millisecond})
	if err := p.Apply(Config{MinWorkers: 3, MaxWorkers: 4, PopTimeout: 50 * time.Millisecond}); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if n := p.Workers(); n != 3 {
		t.Fatalf("workers = %d, want 3", n)
	}
	time.Sleep(150 * time.Millisecond)
	if n := p.Workers(); n != 3 {
		t.Fatalf("workers retired below new floor: %d", n)
	}
	if err := p.Apply(Config{MinWorkers: 5, MaxWorkers: 4}); !errors.Is(err, ErrInvalidBounds) {
		t.Fatalf("apply invalid err = %v", err)
	}
}

func TestJobTimeoutCancelsContext(t *testing.T) {
	p := newTestPool(t, Config{MinWorkers: 1, MaxWorkers: 1, PopTimeout: 50 * time.Millisecond, JobTimeout: 20 * time.Millisecond})

	errCh := make(chan error, 1)
	_ = p.Enqueue(job.Func(func(ctx context.Context, _ ...any) error {
		<-ctx.Done()
		errCh <- ctx.Err()
		return ctx.Err()
	}))
	select {
	case err := <-errCh:
		if !errors.Is(err, context.DeadlineExceeded) {
			t.Fatalf("ctx err = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("job context was not canceled")
	}
	waitFor(t, time.Second, "failure counted", func() bool { return p.Snapshot().Failed == 1 })
}

func TestLifecycleEventsPublished(t *testing.T) {
	bus := eventbus.New()
	ch, unsub := bus.Subscribe(32)
	defer unsub()

	p, err := New(Config{MinWorkers: 1, MaxWorkers: 1, PopTimeout: 50 * time.Millisecond}, logx.Nop(), bus)
	if err != nil {
		t.Fatal(err)
	}
	p.Start(context.Background())
	defer p.Stop(context.Background())

	_ = p.Enqueue(job.WithName("hello", job.Simple(func() {})))

	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev := <-ch:
			if ev.Type != eventbus.JobFinished {
				continue
			}
			if je, ok := ev.Data.(eventbus.JobEvent); !ok || je.Job != "hello" {
				t.Fatalf("unexpected payload %+v", ev.Data)
			}
			return
		case <-deadline:
			t.Fatalf("job.finished not published")
		}
	}
}

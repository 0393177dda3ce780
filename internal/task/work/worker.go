package work

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"workyard/internal/eventbus"
	"workyard/internal/task/job"
	logx "workyard/pkg/logx"
)

// work is a worker's lifecycle: Idle (bounded pop) -> Running (one job) ->
// Idle ... -> Retired. A worker retires on pop timeout only while the pool is
// above its floor, and the check-and-remove happens under p.mu.
func (p *Pool) work(ctx context.Context, q *jobQueue, w *worker) {
	defer p.deregister(w)

	for {
		p.mu.Lock()
		timeout := p.cfg.PopTimeout
		p.mu.Unlock()

		inv, err := p.grab(q, timeout)
		switch {
		case errors.Is(err, ErrQueueClosed):
			return
		case errors.Is(err, errPopTimeout):
			if p.retireIfIdle(w) {
				return
			}
			continue
		}
		p.execOne(ctx, w, inv)
	}
}

// grab is the bounded-wait pop. It returns errPopTimeout when nothing arrives
// within timeout and ErrQueueClosed once the pool stops.
func (p *Pool) grab(q *jobQueue, timeout time.Duration) (invocation, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		p.mu.Lock()
		if q.closed {
			p.mu.Unlock()
			return invocation{}, ErrQueueClosed
		}
		inv, ok := q.popLocked()
		more := q.lenLocked() > 0
		p.mu.Unlock()
		if ok {
			// Pass the token on so another idle worker picks up the rest.
			if more {
				q.signal()
			}
			return inv, nil
		}

		select {
		case <-q.ready:
		case <-q.done:
			return invocation{}, ErrQueueClosed
		case <-timer.C:
			return invocation{}, errPopTimeout
		}
	}
}

func (p *Pool) retireIfIdle(w *worker) bool {
	p.mu.Lock()
	if _, ok := p.workers[w.id]; !ok {
		p.mu.Unlock()
		return true
	}
	if len(p.workers) <= p.cfg.MinWorkers {
		p.mu.Unlock()
		return false
	}
	delete(p.workers, w.id)
	live := len(p.workers)
	p.mu.Unlock()

	atomic.AddUint64(&p.workersRetired, 1)
	p.log.Debug("worker retired", logx.Int("worker", w.id), logx.Int("live", live), logx.Duration("lived", time.Since(w.started)))
	eventbus.Publish(p.bus, eventbus.WorkerRetired, eventbus.WorkerEvent{Worker: w.id, Live: live})
	return true
}

// deregister removes w if it is still registered. It covers exits other than
// retirement (shutdown, or an unexpected panic in the loop itself) so the
// worker set never keeps a goroutine that no longer exists.
func (p *Pool) deregister(w *worker) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.workers[w.id]; !ok {
		return
	}
	delete(p.workers, w.id)
	if p.q != nil && !p.stopping && !p.q.closed {
		for len(p.workers) < p.cfg.MinWorkers {
			p.addWorkerLocked("replace")
		}
	}
}

func (p *Pool) execOne(ctx context.Context, w *worker, inv invocation) {
	start := time.Now()
	queueDelay := start.Sub(inv.enqueuedAt)
	if queueDelay < 0 {
		queueDelay = 0
	}
	name := job.NameOf(inv.job)

	p.mu.Lock()
	jobTimeout := p.cfg.JobTimeout
	p.mu.Unlock()

	runCtx := ctx
	cancel := func() {}
	if jobTimeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, jobTimeout)
	}

	atomic.AddInt32(&p.inFlight, 1)
	eventbus.Publish(p.bus, eventbus.JobStarted, eventbus.JobEvent{Job: name, Worker: w.id, QueueDelay: queueDelay})

	err := job.Run(runCtx, inv.job, inv.args...)
	cancel()

	atomic.AddInt32(&p.inFlight, -1)
	dur := time.Since(start)

	if err == nil {
		atomic.AddUint64(&p.processed, 1)
		p.log.Debug("job.completed", logx.String("job", name), logx.Int("worker", w.id), logx.Duration("queue_delay", queueDelay), logx.Duration("dur", dur))
		eventbus.Publish(p.bus, eventbus.JobFinished, eventbus.JobEvent{Job: name, Worker: w.id, QueueDelay: queueDelay, Duration: dur})
		return
	}

	atomic.AddUint64(&p.failed, 1)
	ev := eventbus.JobEvent{Job: name, Worker: w.id, QueueDelay: queueDelay, Duration: dur, Error: err.Error()}
	var pe *job.PanicError
	if errors.As(err, &pe) {
		atomic.AddUint64(&p.panicked, 1)
		ev.Panicked = true
		p.log.Error("job.panic", logx.String("job", name), logx.Int("worker", w.id), logx.Any("panic", pe.Value), logx.Stack(pe.Stack))
	} else {
		p.log.Error("job.failed", logx.String("job", name), logx.Int("worker", w.id), logx.Err(err), logx.Duration("dur", dur))
	}
	eventbus.Publish(p.bus, eventbus.JobFailed, ev)
}

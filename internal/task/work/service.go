package work

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"workyard/internal/eventbus"
	rtsup "workyard/internal/runtime/supervisor"
	"workyard/internal/task/job"
	logx "workyard/pkg/logx"
)

// Pool is an elastic set of workers draining a shared FIFO queue.
//
// mu guards the queue contents, the worker set and cfg together: the scaling
// check, worker retirement and Clear all observe one consistent view.
type Pool struct {
	mu  sync.Mutex
	cfg Config
	log logx.Logger
	bus eventbus.Bus

	q        *jobQueue
	sup      *rtsup.Supervisor
	workers  map[int]*worker
	nextID   int
	stopping bool

	inFlight int32

	enqueued       uint64
	processed      uint64
	failed         uint64
	panicked       uint64
	discarded      uint64
	workersAdded   uint64
	workersRetired uint64

	scaleLog rate.Sometimes
}

type worker struct {
	id      int
	started time.Time
}

// New validates cfg and returns a stopped pool. Call Start before Enqueue.
func New(cfg Config, log logx.Logger, bus eventbus.Bus) (*Pool, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Pool{
		cfg:      cfg.withDefaults(),
		log:      log,
		bus:      bus,
		workers:  map[int]*worker{},
		scaleLog: rate.Sometimes{First: 1, Interval: time.Second},
	}, nil
}

// Start spawns the floor of workers. Start is idempotent.
func (p *Pool) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.q != nil || p.stopping {
		return
	}
	p.q = newJobQueue()
	p.sup = rtsup.New(ctx, rtsup.WithLogger(p.log))
	for len(p.workers) < p.cfg.MinWorkers {
		p.addWorkerLocked("floor")
	}
	p.log.Info("worker pool started", logx.Int("min_workers", p.cfg.MinWorkers), logx.Int("max_workers", p.cfg.MaxWorkers), logx.Duration("pop_timeout", p.cfg.PopTimeout))
}

// Stop closes the queue, discarding jobs that have not started, and waits for
// in-flight jobs. If ctx expires first, the job contexts are canceled.
func (p *Pool) Stop(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	p.mu.Lock()
	if p.q == nil || p.stopping {
		p.mu.Unlock()
		return nil
	}
	p.stopping = true
	dropped := p.q.closeLocked()
	sup := p.sup
	p.mu.Unlock()

	atomic.AddUint64(&p.discarded, uint64(dropped))
	err := sup.Wait(ctx)
	sup.Cancel()

	p.mu.Lock()
	p.q = nil
	p.sup = nil
	p.workers = map[int]*worker{}
	p.stopping = false
	p.mu.Unlock()

	if err != nil {
		p.log.Warn("worker pool stop timed out", logx.Err(err), logx.Int("discarded", dropped))
		return err
	}
	p.log.Info("worker pool stopped", logx.Int("discarded", dropped))
	return nil
}

// Enqueue appends j to the queue and returns without waiting for it to run.
// It only fails when the pool is not running.
func (p *Pool) Enqueue(j job.Invoker, args ...any) error {
	if j == nil {
		return ErrNilJob
	}
	inv := invocation{job: j, args: args, enqueuedAt: time.Now()}

	p.mu.Lock()
	q := p.q
	if q == nil || p.stopping {
		p.mu.Unlock()
		return ErrStopped
	}
	q.pushLocked(inv)
	p.checkWorkersLocked()
	p.mu.Unlock()

	atomic.AddUint64(&p.enqueued, 1)
	q.signal()
	return nil
}

// checkWorkersLocked adds at most one worker per call: when there are none,
// or when the backlog exceeds the configured threshold. It never shrinks.
func (p *Pool) checkWorkersLocked() {
	n := len(p.workers)
	backlog := p.q.lenLocked()
	p.scaleLog.Do(func() {
		p.log.Debug("checking workers", logx.Int("workers", n), logx.Int("queue", backlog), logx.Int("min", p.cfg.MinWorkers), logx.Int("max", p.cfg.MaxWorkers))
	})
	if n >= p.cfg.MaxWorkers {
		return
	}
	if n == 0 || backlog > p.cfg.ScaleUpBacklog {
		p.addWorkerLocked("backlog")
	}
}

// Every worker shares one supervisor name so churn does not grow its stats.
const workerGoName = "work.worker"

func (p *Pool) addWorkerLocked(reason string) {
	p.nextID++
	w := &worker{id: p.nextID, started: time.Now()}
	p.workers[w.id] = w
	live := len(p.workers)
	q := p.q
	atomic.AddUint64(&p.workersAdded, 1)

	p.sup.Go(workerGoName, func(ctx context.Context) error {
		p.work(ctx, q, w)
		return nil
	})
	p.log.Debug("worker added", logx.Int("worker", w.id), logx.Int("live", live), logx.String("reason", reason))
	eventbus.Publish(p.bus, eventbus.WorkerAdded, eventbus.WorkerEvent{Worker: w.id, Live: live})
}

// Clear drops every pending job without running it. Jobs already picked up
// by a worker are unaffected.
func (p *Pool) Clear() int {
	p.mu.Lock()
	n := 0
	if p.q != nil {
		n = p.q.clearLocked()
	}
	p.mu.Unlock()
	atomic.AddUint64(&p.discarded, uint64(n))
	if n > 0 {
		p.log.Debug("queue cleared", logx.Int("discarded", n))
	}
	return n
}

// Apply swaps bounds at runtime. Raising the floor spawns workers at once;
// lowering the ceiling lets surplus workers retire on their next idle timeout.
func (p *Pool) Apply(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	cfg = cfg.withDefaults()
	p.mu.Lock()
	defer p.mu.Unlock()
	prev := p.cfg
	p.cfg = cfg
	if p.q != nil && !p.stopping {
		for len(p.workers) < cfg.MinWorkers {
			p.addWorkerLocked("floor")
		}
	}
	if prev != cfg {
		p.log.Info("worker pool config applied", logx.Int("min_workers", cfg.MinWorkers), logx.Int("max_workers", cfg.MaxWorkers), logx.Duration("pop_timeout", cfg.PopTimeout))
	}
	return nil
}

// Len returns the number of pending jobs.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.q == nil {
		return 0
	}
	return p.q.lenLocked()
}

// Workers returns the number of live workers.
func (p *Pool) Workers() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.workers)
}

func (p *Pool) Snapshot() Snapshot {
	p.mu.Lock()
	cfg := p.cfg
	running := p.q != nil && !p.stopping
	workers := len(p.workers)
	ql := 0
	if p.q != nil {
		ql = p.q.lenLocked()
	}
	p.mu.Unlock()

	return Snapshot{
		Running:        running,
		Workers:        workers,
		MinWorkers:     cfg.MinWorkers,
		MaxWorkers:     cfg.MaxWorkers,
		InFlight:       int(atomic.LoadInt32(&p.inFlight)),
		QueueLen:       ql,
		Enqueued:       atomic.LoadUint64(&p.enqueued),
		Processed:      atomic.LoadUint64(&p.processed),
		Failed:         atomic.LoadUint64(&p.failed),
		Panicked:       atomic.LoadUint64(&p.panicked),
		Discarded:      atomic.LoadUint64(&p.discarded),
		WorkersAdded:   atomic.LoadUint64(&p.workersAdded),
		WorkersRetired: atomic.LoadUint64(&p.workersRetired),
		PopTimeout:     cfg.PopTimeout,
		JobTimeout:     cfg.JobTimeout,
	}
}

// Supervisor exposes the goroutine supervisor for health output (nil when stopped).
func (p *Pool) Supervisor() *rtsup.Supervisor {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sup
}

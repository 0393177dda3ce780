package schedule

import (
	"context"
	"errors"
	"slices"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"workyard/internal/eventbus"
	rtsup "workyard/internal/runtime/supervisor"
	"workyard/internal/task/job"
	logx "workyard/pkg/logx"
)

// Scheduler keeps entries sorted by next fire time and promotes due ones into
// an Enqueuer from a single watcher goroutine.
//
// mu guards the collection, the parked flag and cfg. It is never held while
// calling the Enqueuer.
type Scheduler struct {
	mu      sync.Mutex
	cfg     Config
	clock   Clock
	log     logx.Logger
	bus     eventbus.Bus
	work    Enqueuer
	entries []*Entry

	// gen changes on Clear so a batch popped before the clear is not
	// reinserted after it.
	gen uint64

	wake    chan struct{}
	parked  bool
	sup     *rtsup.Supervisor
	stopped bool

	dispatched    atomic.Uint64
	skipped       atomic.Uint64
	enqueueFailed atomic.Uint64
	removedCount  atomic.Uint64
}

// New validates cfg and returns a scheduler feeding work. clock may be nil
// for the wall clock. Entries may be added before Start; none fire until then.
func New(cfg Config, work Enqueuer, log logx.Logger, bus eventbus.Bus, clock Clock) (*Scheduler, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if work == nil {
		return nil, errors.New("schedule: nil enqueuer")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	if clock == nil {
		clock = realClock{}
	}
	return &Scheduler{
		cfg:   cfg.withDefaults(),
		clock: clock,
		log:   log,
		bus:   bus,
		work:  work,
		wake:  make(chan struct{}, 1),
	}, nil
}

// Start launches the watcher. Start is idempotent.
func (s *Scheduler) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sup != nil {
		return
	}
	s.stopped = false
	s.sup = rtsup.New(ctx, rtsup.WithLogger(s.log))
	s.sup.GoRestart("schedule.watcher", s.watch)
	s.log.Info("scheduler started", logx.Int("entries", len(s.entries)), logx.Duration("max_sleep", s.cfg.MaxSleep), logx.Duration("max_overdue", s.cfg.MaxOverdue))
}

// Stop halts the watcher and rejects further registrations. Registered
// entries are kept; a later Start resumes them.
func (s *Scheduler) Stop(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	s.stopped = true
	sup := s.sup
	s.sup = nil
	s.mu.Unlock()
	if sup == nil {
		return nil
	}
	err := sup.Stop(ctx)
	s.log.Info("scheduler stopped", logx.Int("entries", s.Len()))
	return err
}

// Add registers j. It returns (nil, nil) when the computed first fire time
// is already past; the caller should enqueue directly instead.
func (s *Scheduler) Add(j job.Invoker, opts ...Option) (*Entry, error) {
	if j == nil {
		return nil, ErrNilJob
	}
	var o options
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	if err := o.validate(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	cfg := s.cfg
	stopped := s.stopped
	s.mu.Unlock()
	if stopped {
		return nil, ErrStopped
	}

	var cad Cadence
	switch {
	case o.hasEvery:
		cad = Interval(o.every)
	case o.cron != "":
		c, err := ParseCron(o.cron, cfg.Location)
		if err != nil {
			return nil, err
		}
		cad = c
	}

	now := s.clock.Now()
	var at time.Time
	switch {
	case o.hasAt:
		at = o.at
	case o.hasIn:
		at = now.Add(o.in)
	case o.hasEvery:
		at = now.Add(o.every)
	case cad != nil:
		at = cad.Next(now)
	default:
		at = now.Add(cfg.DefaultDelay)
	}

	name := o.name
	if name == "" {
		name = job.NameOf(j)
	}
	e := &Entry{
		id:        uuid.NewString(),
		name:      name,
		job:       j,
		args:      o.args,
		sched:     s,
		at:        at,
		cadence:   cad,
		remaining: o.times,
		capped:    o.hasTimes,
		tolerance: -1,
		warn:      rate.NewLimiter(rate.Every(enqueueWarnInterval), 1),
	}
	if o.hasTolerance {
		e.tolerance = o.tolerance
	}

	if at.IsZero() || e.due(now) {
		s.log.Debug("not scheduled: first run already past", logx.String("entry", name), logx.Time("at", at))
		return nil, nil
	}

	s.mu.Lock()
	s.insertLocked(e)
	s.mu.Unlock()
	s.signal()

	s.log.Debug("entry scheduled", logx.String("entry", name), logx.String("id", e.id), logx.Time("at", at))
	return e, nil
}

// At registers a one-shot (or, with Every/Cron, recurring) entry firing at t.
func (s *Scheduler) At(j job.Invoker, t time.Time, opts ...Option) (*Entry, error) {
	return s.Add(j, append(slices.Clone(opts), At(t))...)
}

// In registers an entry firing d from now.
func (s *Scheduler) In(j job.Invoker, d time.Duration, opts ...Option) (*Entry, error) {
	return s.Add(j, append(slices.Clone(opts), In(d))...)
}

// Every registers an entry repeating every d, first firing d from now unless
// At or In says otherwise.
func (s *Scheduler) Every(j job.Invoker, d time.Duration, opts ...Option) (*Entry, error) {
	return s.Add(j, append([]Option{Every(d)}, opts...)...)
}

// Remove takes e out of the schedule. It reports whether e was still live.
// An entry already popped for the current watcher pass still fires once.
func (s *Scheduler) Remove(e *Entry) bool {
	if e == nil {
		return false
	}
	s.mu.Lock()
	if e.removed {
		s.mu.Unlock()
		return false
	}
	e.removed = true
	if i := slices.Index(s.entries, e); i >= 0 {
		s.entries = slices.Delete(s.entries, i, i+1)
	}
	s.mu.Unlock()

	s.removedCount.Add(1)
	eventbus.Publish(s.bus, eventbus.ScheduleRemoved, eventbus.EntryEvent{Entry: e.id, Job: e.name, At: e.At(), Reason: "canceled"})
	s.log.Debug("entry removed", logx.String("entry", e.name), logx.String("id", e.id))
	return true
}

// Clear empties the schedule. Jobs already handed to the Enqueuer are not
// affected.
func (s *Scheduler) Clear() int {
	s.mu.Lock()
	n := len(s.entries)
	for _, e := range s.entries {
		e.removed = true
	}
	s.entries = nil
	s.gen++
	s.mu.Unlock()
	s.signal()

	if n > 0 {
		s.removedCount.Add(uint64(n))
		s.log.Debug("schedule cleared", logx.Int("entries", n))
	}
	return n
}

// Apply swaps thresholds at runtime and wakes the watcher so a shorter
// MaxSleep takes effect immediately.
func (s *Scheduler) Apply(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	cfg = cfg.withDefaults()
	s.mu.Lock()
	prev := s.cfg
	s.cfg = cfg
	s.mu.Unlock()
	if prev != cfg {
		s.log.Info("scheduler config applied", logx.Duration("max_sleep", cfg.MaxSleep), logx.Duration("max_overdue", cfg.MaxOverdue), logx.Duration("default_delay", cfg.DefaultDelay))
	}
	s.signal()
	return nil
}

func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Entries returns the registered entries in fire order.
func (s *Scheduler) Entries() []*Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.entries)
}

// Lookup returns the first registered entry named name.
func (s *Scheduler) Lookup(name string) (*Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.entries {
		if e.name == name {
			return e, true
		}
	}
	return nil, false
}

func (s *Scheduler) Snapshot() Snapshot {
	s.mu.Lock()
	snap := Snapshot{
		Running:      s.sup != nil,
		Parked:       s.parked,
		Len:          len(s.entries),
		MaxSleep:     s.cfg.MaxSleep,
		MaxOverdue:   s.cfg.MaxOverdue,
		DefaultDelay: s.cfg.DefaultDelay,
		Entries:      make([]EntryInfo, 0, len(s.entries)),
	}
	for _, e := range s.entries {
		snap.Entries = append(snap.Entries, e.info())
	}
	s.mu.Unlock()

	if len(snap.Entries) > 0 {
		snap.Next = snap.Entries[0].At
	}
	snap.Dispatched = s.dispatched.Load()
	snap.Skipped = s.skipped.Load()
	snap.EnqueueFailed = s.enqueueFailed.Load()
	snap.Removed = s.removedCount.Load()
	return snap
}

// insertLocked places e after every entry with an at <= e's, keeping ties in
// insertion order.
func (s *Scheduler) insertLocked(e *Entry) {
	at := e.At()
	i := sort.Search(len(s.entries), func(i int) bool { return s.entries[i].At().After(at) })
	s.entries = slices.Insert(s.entries, i, e)
}

// popDueLocked removes and returns the due prefix of the collection.
func (s *Scheduler) popDueLocked(now time.Time) []*Entry {
	n := 0
	for n < len(s.entries) && s.entries[n].due(now) {
		n++
	}
	if n == 0 {
		return nil
	}
	due := slices.Clone(s.entries[:n])
	s.entries = slices.Delete(s.entries, 0, n)
	return due
}

func (s *Scheduler) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Scheduler) setParked(v bool) {
	s.mu.Lock()
	s.parked = v
	s.mu.Unlock()
}

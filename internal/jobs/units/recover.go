// Package units provides the unit-recover job: it restarts systemd units
// that are down, backing off per unit when restarts keep failing.
package units

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"workyard/internal/task/job"
	logx "workyard/pkg/logx"
)

const JobName = "unit-recover"

// Config tunes the recover job. Zero fields take the defaults.
type Config struct {
	MinDown        time.Duration // default 3s
	RestartTimeout time.Duration // default 15s
	BackoffBase    time.Duration // default 5s
	BackoffMax     time.Duration // default 5m
}

func (c Config) withDefaults() Config {
	if c.MinDown <= 0 {
		c.MinDown = 3 * time.Second
	}
	if c.RestartTimeout <= 0 {
		c.RestartTimeout = 15 * time.Second
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = 5 * time.Second
	}
	if c.BackoffMax <= 0 {
		c.BackoffMax = 5 * time.Minute
	}
	return c
}

type unitState struct {
	missing    bool
	failStreak int
	nextTry    time.Time
	lastErr    string
}

// Recoverer is the job. One instance keeps backoff state across runs, so
// registering it behind a factory that returns the same value is intended.
type Recoverer struct {
	cfg  Config
	dial Dialer
	log  logx.Logger
	now  func() time.Time

	running atomic.Bool

	mu    sync.Mutex
	state map[string]*unitState
	rng   *rand.Rand
}

func NewRecoverer(cfg Config, dial Dialer, log logx.Logger) *Recoverer {
	if log.IsZero() {
		log = logx.Nop()
	}
	if dial == nil {
		dial = DialSystem
	}
	return &Recoverer{
		cfg:   cfg.withDefaults(),
		dial:  dial,
		log:   log,
		now:   time.Now,
		state: map[string]*unitState{},
		rng:   rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Register adds the unit-recover job type backed by the system bus.
func Register(reg *job.Registry, log logx.Logger) error {
	rec := NewRecoverer(Config{}, DialSystem, log.With(logx.String("comp", "units")))
	return reg.Register(JobName, func() job.Invoker { return rec })
}

func (r *Recoverer) JobName() string { return JobName }

// Invoke checks each unit named in args and restarts the ones that are down.
// A run that overlaps a previous one is skipped.
func (r *Recoverer) Invoke(ctx context.Context, args ...any) error {
	units := make([]string, 0, len(args))
	for _, a := range args {
		s, ok := a.(string)
		if !ok {
			return fmt.Errorf("%s: unit names must be strings, got %T", JobName, a)
		}
		if u := unitName(s); u != "" {
			units = append(units, u)
		}
	}
	if len(units) == 0 {
		return errors.New(JobName + ": no units given")
	}
	if !r.running.CompareAndSwap(false, true) {
		r.log.Debug("previous run still active; skipping")
		return nil
	}
	defer r.running.Store(false)

	mgr, err := r.dial(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = mgr.Close() }()

	var errs []error
	for _, u := range units {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := r.check(ctx, mgr, u); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (r *Recoverer) ensureLocked(unit string) *unitState {
	us, ok := r.state[unit]
	if !ok {
		us = &unitState{}
		r.state[unit] = us
	}
	return us
}

func (r *Recoverer) check(ctx context.Context, mgr Manager, unit string) error {
	r.mu.Lock()
	us := r.ensureLocked(unit)
	missing := us.missing
	r.mu.Unlock()
	if missing {
		return nil
	}

	st, err := mgr.Status(ctx, unit)
	if err != nil {
		return err
	}
	if st.Missing() {
		r.mu.Lock()
		us.missing = true
		r.mu.Unlock()
		r.log.Warn("skipping missing unit", logx.String("unit", unit))
		return nil
	}

	now := r.now()
	if st.Active == "active" || st.Active == "activating" || st.Active == "reloading" {
		r.mu.Lock()
		us.failStreak, us.nextTry, us.lastErr = 0, time.Time{}, ""
		r.mu.Unlock()
		return nil
	}

	downSince := st.DownSince
	if downSince.IsZero() {
		downSince = now
	}
	downFor := now.Sub(downSince)
	if downFor < r.cfg.MinDown {
		return nil
	}

	r.mu.Lock()
	nextTry := us.nextTry
	r.mu.Unlock()
	if !nextTry.IsZero() && now.Before(nextTry) {
		return nil
	}

	opCtx, cancel := context.WithTimeout(ctx, r.cfg.RestartTimeout)
	rerr := mgr.Restart(opCtx, unit)
	cancel()

	if rerr == nil {
		r.mu.Lock()
		us.failStreak, us.nextTry, us.lastErr = 0, time.Time{}, ""
		r.mu.Unlock()
		r.log.Info("unit restarted", logx.String("unit", unit), logx.String("state", st.Active), logx.Duration("down_for", downFor))
		return nil
	}

	r.mu.Lock()
	us.failStreak++
	us.lastErr = rerr.Error()
	backoff := r.backoff(us.failStreak)
	jitter := 0.7 + r.rng.Float64()*0.6 // 0.7..1.3
	us.nextTry = now.Add(time.Duration(float64(backoff) * jitter))
	streak, next := us.failStreak, us.nextTry
	r.mu.Unlock()

	r.log.Warn("unit restart failed",
		logx.String("unit", unit),
		logx.String("state", st.Active),
		logx.Int("streak", streak),
		logx.Duration("down_for", downFor),
		logx.Duration("backoff", backoff),
		logx.Time("next_try", next),
		logx.Err(rerr),
	)
	return fmt.Errorf("%s: %w", unit, rerr)
}

// backoff doubles from BackoffBase per consecutive failure, capped at BackoffMax.
func (r *Recoverer) backoff(streak int) time.Duration {
	d := r.cfg.BackoffBase
	shift := min(streak-1, 30)
	if shift > 0 {
		d = r.cfg.BackoffBase * time.Duration(1<<shift)
	}
	return min(d, r.cfg.BackoffMax)
}

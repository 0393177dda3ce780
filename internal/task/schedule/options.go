package schedule

import (
	"fmt"
	"time"
)

// Option configures a registration passed to Scheduler.Add.
type Option func(*options)

type options struct {
	at    time.Time
	hasAt bool

	in    time.Duration
	hasIn bool

	every    time.Duration
	hasEvery bool
	cron     string

	times    int
	hasTimes bool

	tolerance    time.Duration
	hasTolerance bool

	args []any
	name string
}

// At fires the entry at t.
func At(t time.Time) Option {
	return func(o *options) { o.at, o.hasAt = t, true }
}

// In fires the entry d after registration.
func In(d time.Duration) Option {
	return func(o *options) { o.in, o.hasIn = d, true }
}

// Every makes the entry recurring with a fixed interval. Without At or In
// the first run is one interval after registration.
func Every(d time.Duration) Option {
	return func(o *options) { o.every, o.hasEvery = d, true }
}

// Cron makes the entry recurring on a crontab schedule. Without At or In
// the first run is the expression's next activation.
func Cron(expr string) Option {
	return func(o *options) { o.cron = expr }
}

// Times caps how many occurrences a recurring entry gets, including ones
// skipped for being overdue.
func Times(n int) Option {
	return func(o *options) { o.times, o.hasTimes = n, true }
}

// Args are passed to the job on every run.
func Args(args ...any) Option {
	return func(o *options) { o.args = append([]any(nil), args...) }
}

// Tolerance overrides the scheduler's MaxOverdue for this entry.
func Tolerance(d time.Duration) Option {
	return func(o *options) { o.tolerance, o.hasTolerance = d, true }
}

// Name labels the entry in logs, events and snapshots. Defaults to the job's name.
func Name(name string) Option {
	return func(o *options) { o.name = name }
}

func (o options) validate() error {
	if o.hasAt && o.hasIn {
		return ErrAtAndIn
	}
	if o.hasEvery && o.every <= 0 {
		return fmt.Errorf("%w: %s", ErrInvalidInterval, o.every)
	}
	if o.hasEvery && o.cron != "" {
		return fmt.Errorf("%w: every and cron are mutually exclusive", ErrInvalidInterval)
	}
	if o.hasTimes && o.times < 1 {
		return fmt.Errorf("%w (got %d)", ErrInvalidTimes, o.times)
	}
	if o.hasTolerance && o.tolerance < 0 {
		return fmt.Errorf("%w (got %s)", ErrInvalidTolerance, o.tolerance)
	}
	return nil
}

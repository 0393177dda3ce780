package schedule

import (
	"fmt"
	"time"

	"workyard/internal/task/job"
)

const (
	DefaultMaxSleep     = 60 * time.Second
	DefaultMaxOverdue   = 5 * time.Minute
	DefaultDelay        = 60 * time.Second
	minWatcherSleep     = time.Millisecond
	enqueueWarnInterval = 30 * time.Second
)

// Config controls the scheduler.
type Config struct {
	// MaxSleep caps each watcher sleep, so due-ness is re-evaluated at least
	// this often even when the next entry is far away. 0 uses DefaultMaxSleep.
	MaxSleep time.Duration

	// MaxOverdue is how late a recurring occurrence may be and still run.
	// Later ones are skipped but the cadence advances. 0 uses DefaultMaxOverdue
	// unless MaxOverdueSet is true.
	MaxOverdue time.Duration

	// MaxOverdueSet makes MaxOverdue literal, so 0 skips every late
	// recurring occurrence.
	MaxOverdueSet bool

	// DefaultDelay is the first-run delay when neither At, In, Every nor Cron
	// is given. 0 uses DefaultDelay.
	DefaultDelay time.Duration

	// Location evaluates cron expressions. nil means time.Local.
	Location *time.Location
}

func (c Config) withDefaults() Config {
	if c.MaxSleep <= 0 {
		c.MaxSleep = DefaultMaxSleep
	}
	if c.MaxOverdue <= 0 && !c.MaxOverdueSet {
		c.MaxOverdue = DefaultMaxOverdue
	}
	c.MaxOverdueSet = true
	if c.DefaultDelay <= 0 {
		c.DefaultDelay = DefaultDelay
	}
	if c.Location == nil {
		c.Location = time.Local
	}
	return c
}

func (c Config) Validate() error {
	if c.MaxSleep < 0 {
		return fmt.Errorf("%w: max_sleep must be >= 0, 0 uses the default (got %s)", ErrInvalidConfig, c.MaxSleep)
	}
	if c.MaxOverdue < 0 {
		return fmt.Errorf("%w: max_overdue must be >= 0 (got %s)", ErrInvalidConfig, c.MaxOverdue)
	}
	if c.DefaultDelay < 0 {
		return fmt.Errorf("%w: default_delay must be >= 0 (got %s)", ErrInvalidConfig, c.DefaultDelay)
	}
	return nil
}

// Enqueuer is where due entries are submitted. *work.Pool satisfies it.
type Enqueuer interface {
	Enqueue(j job.Invoker, args ...any) error
}

// EntryInfo is a point-in-time copy of an entry.
type EntryInfo struct {
	ID        string        `json:"id"`
	Name      string        `json:"name"`
	At        time.Time     `json:"at"`
	Cadence   string        `json:"cadence,omitempty"`
	Remaining int           `json:"remaining"` // -1 when uncapped
	Tolerance time.Duration `json:"tolerance"`
}

// Snapshot is a lightweight view for diagnostics.
type Snapshot struct {
	Running bool      `json:"running"`
	Parked  bool      `json:"parked"`
	Len     int       `json:"len"`
	Next    time.Time `json:"next,omitempty"`

	Dispatched    uint64 `json:"dispatched"`
	Skipped       uint64 `json:"skipped"`
	EnqueueFailed uint64 `json:"enqueue_failed"`
	Removed       uint64 `json:"removed"`

	MaxSleep     time.Duration `json:"max_sleep"`
	MaxOverdue   time.Duration `json:"max_overdue"`
	DefaultDelay time.Duration `json:"default_delay"`

	Entries []EntryInfo `json:"entries"`
}

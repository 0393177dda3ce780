package work

import (
	"fmt"
	"time"
)

const (
	DefaultMinWorkers = 1
	DefaultMaxWorkers = 4
	DefaultPopTimeout = 5 * time.Second
)

// Config controls the worker pool.
//
// The app layer maps the settings file's `work` section into this struct.
type Config struct {
	// MinWorkers is the floor idle workers never retire below.
	MinWorkers int
	// MaxWorkers is the ceiling the scaling check never exceeds.
	MaxWorkers int

	// PopTimeout bounds each worker's wait on an empty queue. An idle worker
	// above the floor retires when the wait times out.
	PopTimeout time.Duration

	// JobTimeout bounds each job's context. 0 disables it.
	JobTimeout time.Duration

	// ScaleUpBacklog is the queue depth above which an enqueue spawns one
	// more worker. 0 uses MaxWorkers.
	ScaleUpBacklog int
}

func (c Config) withDefaults() Config {
	if c.PopTimeout <= 0 {
		c.PopTimeout = DefaultPopTimeout
	}
	if c.ScaleUpBacklog <= 0 {
		c.ScaleUpBacklog = c.MaxWorkers
	}
	if c.JobTimeout < 0 {
		c.JobTimeout = 0
	}
	return c
}

// Validate rejects bounds the pool cannot honor.
func (c Config) Validate() error {
	if c.MinWorkers < 1 {
		return fmt.Errorf("%w: min_workers must be >= 1 (got %d)", ErrInvalidBounds, c.MinWorkers)
	}
	if c.MaxWorkers < c.MinWorkers {
		return fmt.Errorf("%w: max_workers (%d) must be >= min_workers (%d)", ErrInvalidBounds, c.MaxWorkers, c.MinWorkers)
	}
	return nil
}

// Snapshot is a lightweight view for diagnostics.
type Snapshot struct {
	Running bool `json:"running"`

	Workers    int `json:"workers"`
	MinWorkers int `json:"min_workers"`
	MaxWorkers int `json:"max_workers"`
	InFlight   int `json:"in_flight"`
	QueueLen   int `json:"queue_len"`

	Enqueued  uint64 `json:"enqueued"`
	Processed uint64 `json:"processed"`
	Failed    uint64 `json:"failed"`
	Panicked  uint64 `json:"panicked"`
	Discarded uint64 `json:"discarded"`

	WorkersAdded   uint64 `json:"workers_added"`
	WorkersRetired uint64 `json:"workers_retired"`

	PopTimeout time.Duration `json:"pop_timeout"`
	JobTimeout time.Duration `json:"job_timeout"`
}

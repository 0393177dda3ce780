package work

import "errors"

var (
	ErrStopped       = errors.New("worker pool stopped")
	ErrNilJob        = errors.New("worker pool: nil job")
	ErrInvalidBounds = errors.New("worker pool: invalid bounds")

	// ErrQueueClosed is what a worker's pop returns once the pool stops.
	ErrQueueClosed = errors.New("worker pool: queue closed")

	errPopTimeout = errors.New("worker pool: pop timeout")
)

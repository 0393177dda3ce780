package schedule

import "errors"

var (
	ErrNilJob           = errors.New("schedule: nil job")
	ErrAtAndIn          = errors.New("schedule: at and in are mutually exclusive")
	ErrInvalidInterval  = errors.New("schedule: invalid repeat interval")
	ErrInvalidCron      = errors.New("schedule: invalid cron expression")
	ErrInvalidTimes     = errors.New("schedule: times must be >= 1")
	ErrInvalidTolerance = errors.New("schedule: overdue tolerance must be >= 0")
	ErrInvalidConfig    = errors.New("schedule: invalid config")
	ErrStopped          = errors.New("schedule: scheduler stopped")
)

package job

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
)

var (
	ErrUnknownJob   = errors.New("unknown job type")
	ErrDuplicateJob = errors.New("job type already registered")
)

// PanicError is returned by Run when the job panicked.
type PanicError struct {
	Value any
	Stack string
}

func (e *PanicError) Error() string { return fmt.Sprintf("panic: %v", e.Value) }

// Run invokes j and converts a panic into *PanicError so one bad job cannot
// take down the goroutine running it.
func Run(ctx context.Context, j Invoker, args ...any) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r, Stack: string(debug.Stack())}
		}
	}()
	if j == nil {
		return errors.New("nil job")
	}
	return j.Invoke(ctx, args...)
}

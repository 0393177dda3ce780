package job

import (
	"context"
	"fmt"
	"reflect"
	"runtime"
	"strings"
)

// Invoker is a unit of work. Args are the auxiliary arguments supplied at
// enqueue time; most jobs ignore them.
type Invoker interface {
	Invoke(ctx context.Context, args ...any) error
}

// Func adapts a closure to Invoker.
type Func func(ctx context.Context, args ...any) error

func (f Func) Invoke(ctx context.Context, args ...any) error { return f(ctx, args...) }

// Simple adapts a zero-argument closure that cannot fail.
func Simple(fn func()) Invoker {
	return Func(func(context.Context, ...any) error {
		fn()
		return nil
	})
}

// Named is implemented by jobs that want a stable name in logs and events.
type Named interface {
	JobName() string
}

type namedInvoker struct {
	Invoker
	name string
}

func (n namedInvoker) JobName() string { return n.name }

// WithName attaches a display name to j.
func WithName(name string, j Invoker) Invoker {
	if j == nil {
		return nil
	}
	return namedInvoker{Invoker: j, name: strings.TrimSpace(name)}
}

// NameOf returns a human-friendly identity for j.
func NameOf(j Invoker) string {
	if j == nil {
		return "<nil>"
	}
	if n, ok := j.(Named); ok {
		if name := strings.TrimSpace(n.JobName()); name != "" {
			return name
		}
	}
	if f, ok := j.(Func); ok {
		if fn := runtime.FuncForPC(reflect.ValueOf(f).Pointer()); fn != nil {
			return fn.Name()
		}
		return "func"
	}
	return fmt.Sprintf("%T", j)
}

package job

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Factory builds a fresh invoker for a registered job type.
type Factory func() Invoker

// Registry maps stable job-type keys to factories. It is populated by the
// application at startup; nothing is ever evaluated from text.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

func NewRegistry() *Registry {
	return &Registry{factories: map[string]Factory{}}
}

func normalizeKey(name string) string { return strings.ToLower(strings.TrimSpace(name)) }

// Register adds a job type. Keys are case-insensitive.
func (r *Registry) Register(name string, f Factory) error {
	key := normalizeKey(name)
	if key == "" {
		return fmt.Errorf("job type name required")
	}
	if f == nil {
		return fmt.Errorf("job type %q: nil factory", key)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.factories[key]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateJob, key)
	}
	r.factories[key] = f
	return nil
}

// MustRegister is Register for static startup wiring.
func (r *Registry) MustRegister(name string, f Factory) {
	if err := r.Register(name, f); err != nil {
		panic(err)
	}
}

// Resolve builds an invoker for name.
func (r *Registry) Resolve(name string) (Invoker, error) {
	key := normalizeKey(name)
	r.mu.RLock()
	f := r.factories[key]
	r.mu.RUnlock()
	if f == nil {
		return nil, fmt.Errorf("%w: %q", ErrUnknownJob, name)
	}
	j := f()
	if j == nil {
		return nil, fmt.Errorf("job type %q: factory returned nil", key)
	}
	return WithName(key, j), nil
}

// Has reports whether name is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	_, ok := r.factories[normalizeKey(name)]
	r.mu.RUnlock()
	return ok
}

// Names returns the registered keys in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	out := make([]string, 0, len(r.factories))
	for k := range r.factories {
		out = append(out, k)
	}
	r.mu.RUnlock()
	sort.Strings(out)
	return out
}

// Ref returns an invoker that resolves name on every invocation, so a
// recurring registration gets a fresh job per enqueue.
func (r *Registry) Ref(name string) Invoker {
	return ref{reg: r, name: normalizeKey(name)}
}

type ref struct {
	reg  *Registry
	name string
}

func (r ref) JobName() string { return r.name }

func (r ref) Invoke(ctx context.Context, args ...any) error {
	j, err := r.reg.Resolve(r.name)
	if err != nil {
		return err
	}
	return j.Invoke(ctx, args...)
}

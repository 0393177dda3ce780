package units

import (
	"context"
	"strings"
	"time"
)

// Status is the slice of a unit's systemd state the recover job looks at.
type Status struct {
	Unit      string
	Active    string
	Sub       string
	Load      string
	DownSince time.Time
}

func (s Status) Missing() bool { return s.Load == "not-found" || s.Sub == "not-found" }

// Manager talks to the service manager.
type Manager interface {
	Status(ctx context.Context, unit string) (Status, error)
	Restart(ctx context.Context, unit string) error
	Close() error
}

// Dialer opens a Manager for one job run.
type Dialer func(ctx context.Context) (Manager, error)

// unitName appends ".service" to bare names.
func unitName(s string) string {
	s = strings.TrimSpace(s)
	if s == "" || strings.Contains(s, ".") {
		return s
	}
	return s + ".service"
}

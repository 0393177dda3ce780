//go:build linux

package units

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/coreos/go-systemd/v22/dbus"
)

type dbusManager struct {
	conn *dbus.Conn
}

// DialSystem connects to the system bus.
func DialSystem(ctx context.Context) (Manager, error) {
	conn, err := dbus.NewSystemConnectionContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to systemd: %w", err)
	}
	return &dbusManager{conn: conn}, nil
}

func (m *dbusManager) Status(ctx context.Context, unit string) (Status, error) {
	props, err := m.conn.GetUnitPropertiesContext(ctx, unit)
	if err != nil {
		if isNoSuchUnitErr(err) {
			return Status{Unit: unit, Active: "unknown", Sub: "not-found", Load: "not-found"}, nil
		}
		return Status{}, fmt.Errorf("failed to get status for %s: %w", unit, err)
	}
	st := Status{
		Unit:   unit,
		Active: stringProp(props, "ActiveState"),
		Sub:    stringProp(props, "SubState"),
		Load:   stringProp(props, "LoadState"),
	}
	// Prefer systemd timestamps over "first seen down".
	for _, key := range []string{"InactiveEnterTimestamp", "ActiveExitTimestamp", "StateChangeTimestamp"} {
		if ts := timestampProp(props, key); !ts.IsZero() {
			st.DownSince = ts
			break
		}
	}
	return st, nil
}

func (m *dbusManager) Restart(ctx context.Context, unit string) error {
	result := make(chan string, 1)
	if _, err := m.conn.RestartUnitContext(ctx, unit, "replace", result); err != nil {
		return fmt.Errorf("failed to restart %s: %w", unit, err)
	}
	select {
	case r := <-result:
		if r != "done" {
			return fmt.Errorf("restart %s: job %s", unit, r)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *dbusManager) Close() error {
	m.conn.Close()
	return nil
}

func stringProp(props map[string]interface{}, key string) string {
	s, _ := props[key].(string)
	return s
}

func timestampProp(props map[string]interface{}, key string) time.Time {
	if ts, ok := props[key].(uint64); ok && ts > 0 {
		// microseconds since the Unix epoch
		return time.Unix(int64(ts/1_000_000), 0)
	}
	return time.Time{}
}

func isNoSuchUnitErr(err error) bool {
	es := err.Error()
	return strings.Contains(es, "NoSuchUnit") || strings.Contains(es, "not-found")
}

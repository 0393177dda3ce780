package schedule

import (
	"errors"
	"testing"
	"time"
)

func TestParseSpec(t *testing.T) {
	tests := []struct {
		in    string
		kind  SpecKind
		every time.Duration
		cron  string
	}{
		{in: "55m", kind: SpecInterval, every: 55 * time.Minute},
		{in: "2h30m", kind: SpecInterval, every: 150 * time.Minute},
		{in: "00:50", kind: SpecInterval, every: 50 * time.Minute},
		{in: "02:30", kind: SpecInterval, every: 150 * time.Minute},
		{in: "every: 10s", kind: SpecInterval, every: 10 * time.Second},
		{in: "interval:01:00", kind: SpecInterval, every: time.Hour},
		{in: "*/5 * * * *", kind: SpecCron, cron: "*/5 * * * *"},
		{in: "0 30 2 * * *", kind: SpecCron, cron: "0 30 2 * * *"},
		{in: "@hourly", kind: SpecCron, cron: "@hourly"},
		{in: "cron: @every 55m", kind: SpecCron, cron: "@every 55m"},
	}
	for _, tt := range tests {
		got, err := ParseSpec(tt.in)
		if err != nil {
			t.Errorf("ParseSpec(%q): %v", tt.in, err)
			continue
		}
		if got.Kind != tt.kind || got.Every != tt.every || got.Cron != tt.cron {
			t.Errorf("ParseSpec(%q) = %+v", tt.in, got)
		}
	}
}

func TestParseSpecRejects(t *testing.T) {
	for _, in := range []string{"", "soon", "0s", "-5m", "01:75", "every:", "* * *", "cron:"} {
		if _, err := ParseSpec(in); err == nil {
			t.Errorf("ParseSpec(%q) accepted", in)
		}
	}
	if _, err := ParseSpec("1 2 3 4 5 6 7 8"); !errors.Is(err, ErrInvalidCron) {
		t.Errorf("bad cron err = %v", err)
	}
}

package app

import (
	"errors"
	"testing"
	"time"

	"workyard/internal/config"
	"workyard/internal/task/schedule"
	"workyard/internal/task/work"
	logx "workyard/pkg/logx"
)

func TestMapWorkConfigDefaults(t *testing.T) {
	wc, err := mapWorkConfig(&config.Config{Work: config.WorkConfig{MinWorkers: 0, MaxWorkers: 0}})
	if err != nil {
		t.Fatalf("map: %v", err)
	}
	if wc.MinWorkers != work.DefaultMinWorkers || wc.MaxWorkers != work.DefaultMaxWorkers {
		t.Fatalf("bounds = %d..%d", wc.MinWorkers, wc.MaxWorkers)
	}

	wc, err = mapWorkConfig(&config.Config{Work: config.WorkConfig{MinWorkers: 6}})
	if err != nil || wc.MaxWorkers != 6 {
		t.Fatalf("max follows min: %+v, %v", wc, err)
	}
	if _, err := mapWorkConfig(&config.Config{Work: config.WorkConfig{MinWorkers: -1}}); !errors.Is(err, work.ErrInvalidBounds) {
		t.Fatalf("negative min err = %v", err)
	}
}

func TestMapScheduleConfigOverdue(t *testing.T) {
	pool, err := work.New(work.Config{MinWorkers: 1, MaxWorkers: 1}, logx.Nop(), nil)
	if err != nil {
		t.Fatal(err)
	}
	tests := []struct {
		name    string
		in      config.ScheduleConfig
		overdue time.Duration
		sleep   time.Duration
	}{
		{"defaults", config.ScheduleConfig{}, schedule.DefaultMaxOverdue, schedule.DefaultMaxSleep},
		{"explicit zero overdue", config.ScheduleConfig{MaxOverdue: "0s"}, 0, schedule.DefaultMaxSleep},
		{"explicit values", config.ScheduleConfig{MaxOverdue: "30s", MaxSleep: "5s"}, 30 * time.Second, 5 * time.Second},
	}
	for _, tt := range tests {
		sc, err := mapScheduleConfig(&config.Config{Schedule: tt.in})
		if err != nil {
			t.Errorf("%s: %v", tt.name, err)
			continue
		}
		s, err := schedule.New(sc, pool, logx.Nop(), nil, nil)
		if err != nil {
			t.Errorf("%s: new scheduler: %v", tt.name, err)
			continue
		}
		snap := s.Snapshot()
		if snap.MaxOverdue != tt.overdue || snap.MaxSleep != tt.sleep {
			t.Errorf("%s: effective overdue=%s sleep=%s, want %s %s", tt.name, snap.MaxOverdue, snap.MaxSleep, tt.overdue, tt.sleep)
		}
	}

	if _, err := mapScheduleConfig(&config.Config{Schedule: config.ScheduleConfig{MaxSleep: "0s"}}); !errors.Is(err, schedule.ErrInvalidConfig) {
		t.Fatalf("max_sleep 0s err = %v", err)
	}
}

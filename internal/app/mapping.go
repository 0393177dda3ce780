package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"workyard/internal/admin"
	"workyard/internal/config"
	"workyard/internal/task/job"
	"workyard/internal/task/schedule"
	"workyard/internal/task/work"
	logx "workyard/pkg/logx"
)

func mapLoggingConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

func mapWorkConfig(cfg *config.Config) (work.Config, error) {
	wc := cfg.Work
	if wc.MinWorkers < 0 || wc.MaxWorkers < 0 || wc.ScaleUpBacklog < 0 {
		return work.Config{}, fmt.Errorf("%w: work.* counts must be >= 0", work.ErrInvalidBounds)
	}
	minW := wc.MinWorkers
	if minW == 0 {
		minW = work.DefaultMinWorkers
	}
	maxW := wc.MaxWorkers
	if maxW == 0 {
		maxW = max(work.DefaultMaxWorkers, minW)
	}
	pop, err := config.ParseDurationOrDefault("work.pop_timeout", wc.PopTimeout, work.DefaultPopTimeout)
	if err != nil {
		return work.Config{}, err
	}
	jobTimeout, err := config.ParseDurationField("work.job_timeout", wc.JobTimeout)
	if err != nil {
		return work.Config{}, err
	}
	out := work.Config{
		MinWorkers:     minW,
		MaxWorkers:     maxW,
		PopTimeout:     pop,
		JobTimeout:     jobTimeout,
		ScaleUpBacklog: wc.ScaleUpBacklog,
	}
	return out, out.Validate()
}

func mapScheduleConfig(cfg *config.Config) (schedule.Config, error) {
	sc := cfg.Schedule
	maxSleep, err := config.ParseDurationField("schedule.max_sleep", sc.MaxSleep)
	if err != nil {
		return schedule.Config{}, err
	}
	switch {
	case strings.TrimSpace(sc.MaxSleep) == "":
		maxSleep = schedule.DefaultMaxSleep
	case maxSleep == 0:
		return schedule.Config{}, fmt.Errorf("%w: schedule.max_sleep must be > 0", schedule.ErrInvalidConfig)
	}
	// max_overdue "0s" is meaningful (skip every late occurrence); only an
	// empty value takes the default.
	maxOverdue, err := config.ParseDurationField("schedule.max_overdue", sc.MaxOverdue)
	if err != nil {
		return schedule.Config{}, err
	}
	overdueSet := strings.TrimSpace(sc.MaxOverdue) != ""
	if !overdueSet {
		maxOverdue = schedule.DefaultMaxOverdue
	}
	delay, err := config.ParseDurationOrDefault("schedule.default_delay", sc.DefaultDelay, schedule.DefaultDelay)
	if err != nil {
		return schedule.Config{}, err
	}
	loc, err := config.LoadLocation("schedule.timezone", sc.Timezone)
	if err != nil {
		return schedule.Config{}, err
	}
	out := schedule.Config{
		MaxSleep:      maxSleep,
		MaxOverdue:    maxOverdue,
		MaxOverdueSet: overdueSet,
		DefaultDelay:  delay,
		Location:      loc,
	}
	return out, out.Validate()
}

func mapAdminConfig(cfg *config.Config) (admin.Config, error) {
	ac := cfg.Admin
	read, err := config.ParseDurationOrDefault("admin.read_timeout", ac.ReadTimeout, 10*time.Second)
	if err != nil {
		return admin.Config{}, err
	}
	write, err := config.ParseDurationOrDefault("admin.write_timeout", ac.WriteTimeout, 60*time.Second)
	if err != nil {
		return admin.Config{}, err
	}
	idle, err := config.ParseDurationOrDefault("admin.idle_timeout", ac.IdleTimeout, 60*time.Second)
	if err != nil {
		return admin.Config{}, err
	}
	addr := strings.TrimSpace(ac.Addr)
	if addr == "" {
		addr = admin.DefaultAddr
	}
	return admin.Config{
		Enabled:       ac.Enabled,
		Addr:          addr,
		Token:         strings.TrimSpace(ac.Token),
		AllowInsecure: ac.AllowInsecure,
		Pprof:         ac.Pprof,
		ReadTimeout:   read,
		WriteTimeout:  write,
		IdleTimeout:   idle,
	}, nil
}

// scheduleOptions maps one configured schedule to registration options.
func scheduleOptions(se config.ScheduleEntry) ([]schedule.Option, error) {
	name := strings.TrimSpace(se.Name)
	opts := []schedule.Option{schedule.Name(name)}

	if strings.TrimSpace(se.Spec) != "" {
		spec, err := schedule.ParseSpec(se.Spec)
		if err != nil {
			return nil, fmt.Errorf("schedules[%s].spec: %w", name, err)
		}
		opts = append(opts, spec.Option())
	}
	if strings.TrimSpace(se.In) != "" && strings.TrimSpace(se.At) != "" {
		return nil, fmt.Errorf("schedules[%s]: %w", name, schedule.ErrAtAndIn)
	}
	if strings.TrimSpace(se.In) != "" {
		d, err := config.ParseDurationField("schedules["+name+"].in", se.In)
		if err != nil {
			return nil, err
		}
		opts = append(opts, schedule.In(d))
	}
	if strings.TrimSpace(se.At) != "" {
		t, err := config.ParseTimeField("schedules["+name+"].at", se.At)
		if err != nil {
			return nil, err
		}
		opts = append(opts, schedule.At(t))
	}
	if se.Times < 0 {
		return nil, fmt.Errorf("schedules[%s]: %w", name, schedule.ErrInvalidTimes)
	}
	if se.Times > 0 {
		opts = append(opts, schedule.Times(se.Times))
	}
	if strings.TrimSpace(se.Tolerance) != "" {
		d, err := config.ParseDurationField("schedules["+name+"].tolerance", se.Tolerance)
		if err != nil {
			return nil, err
		}
		opts = append(opts, schedule.Tolerance(d))
	}
	if len(se.Args) > 0 {
		opts = append(opts, schedule.Args(se.Args...))
	}
	return opts, nil
}

// validateConfig rejects a settings file the app cannot apply. It runs on
// the initial load and on every hot reload before commit.
func validateConfig(_ context.Context, cfg *config.Config, jobs *job.Registry) error {
	if _, err := mapWorkConfig(cfg); err != nil {
		return err
	}
	if _, err := mapScheduleConfig(cfg); err != nil {
		return err
	}
	if _, err := mapAdminConfig(cfg); err != nil {
		return err
	}
	seen := map[string]bool{}
	for i, se := range cfg.Schedules {
		name := strings.TrimSpace(se.Name)
		if name == "" {
			return fmt.Errorf("schedules[%d].name required", i)
		}
		if seen[name] {
			return fmt.Errorf("schedules[%s]: duplicate name", name)
		}
		seen[name] = true
		if !jobs.Has(se.Job) {
			return fmt.Errorf("schedules[%s].job: %w: %q", name, job.ErrUnknownJob, se.Job)
		}
		if _, err := scheduleOptions(se); err != nil {
			return err
		}
	}
	return nil
}

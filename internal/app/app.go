package app

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"time"

	"workyard/internal/admin"
	"workyard/internal/config"
	"workyard/internal/eventbus"
	"workyard/internal/jobs/builtin"
	"workyard/internal/jobs/units"
	"workyard/internal/metrics"
	rtsup "workyard/internal/runtime/supervisor"
	"workyard/internal/task/job"
	"workyard/internal/task/schedule"
	"workyard/internal/task/work"
	logx "workyard/pkg/logx"
)

type App struct {
	cfgm *config.ConfigManager
	sup  *rtsup.Supervisor

	log  logx.Logger
	logs *logx.Service
	bus  eventbus.Bus

	jobs    *job.Registry
	pool    *work.Pool
	sched   *schedule.Scheduler
	metrics *metrics.Metrics
	admin   *admin.Service

	startedAt time.Time

	// configured tracks entries registered from the settings file, by name.
	cmu        sync.Mutex
	configured map[string]configuredEntry
	tz         string
}

type configuredEntry struct {
	def   config.ScheduleEntry
	entry *schedule.Entry // nil once a one-shot was not scheduled
}

// NewApp loads the settings file at cfgPath (empty means defaults) and wires
// every component. Nothing runs until Start.
func NewApp(cfgPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(mapLoggingConfig(cfg))
	log = log.With(logx.String("comp", "app"))
	startedAt := time.Now()

	jobs := job.NewRegistry()
	if err := builtin.Register(jobs, log, startedAt); err != nil {
		return nil, err
	}
	if err := units.Register(jobs, log); err != nil {
		return nil, err
	}
	if err := validateConfig(context.Background(), cfg, jobs); err != nil {
		return nil, err
	}

	bus := eventbus.New()

	workCfg, err := mapWorkConfig(cfg)
	if err != nil {
		return nil, err
	}
	pool, err := work.New(workCfg, log.With(logx.String("comp", "work")), bus)
	if err != nil {
		return nil, err
	}

	schedCfg, err := mapScheduleConfig(cfg)
	if err != nil {
		return nil, err
	}
	sched, err := schedule.New(schedCfg, pool, log.With(logx.String("comp", "schedule")), bus, nil)
	if err != nil {
		return nil, err
	}

	adminCfg, err := mapAdminConfig(cfg)
	if err != nil {
		return nil, err
	}

	a := &App{
		cfgm:       cfgm,
		log:        log,
		logs:       logSvc,
		bus:        bus,
		jobs:       jobs,
		pool:       pool,
		sched:      sched,
		metrics:    metrics.New(pool, sched),
		startedAt:  startedAt,
		configured: map[string]configuredEntry{},
	}
	a.admin = admin.New(adminCfg, a, a.metrics.Handler(), log.With(logx.String("comp", "admin")))
	a.syncSchedules(cfg)
	return a, nil
}

func (a *App) Jobs() *job.Registry            { return a.jobs }
func (a *App) Pool() *work.Pool               { return a.pool }
func (a *App) Scheduler() *schedule.Scheduler { return a.sched }
func (a *App) Metrics() *metrics.Metrics      { return a.metrics }
func (a *App) Logger() logx.Logger            { return a.log }

// Done is closed when the app supervisor context is canceled.
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	if a.sup != nil {
		return errors.New("app already started")
	}
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log))

	// transactional config reload: validate before commit/publish
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(c context.Context, cfg *config.Config) error {
		return validateConfig(c, cfg, a.jobs)
	})

	// Pool first so the watcher never dispatches into a stopped pool.
	a.pool.Start(context.WithoutCancel(a.sup.Context()))
	a.sched.Start(a.sup.Context())

	a.sup.Go("metrics.events", func(c context.Context) error {
		return a.metrics.Run(c, a.bus)
	})

	if a.admin.Enabled() {
		a.admin.Start(a.sup.Context())
	}

	// Keep this debug-level to avoid noise for frequent schedules.
	events, unsub := a.bus.Subscribe(128)
	a.sup.Go("eventbus.log", func(c context.Context) error {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return nil
			case e, ok := <-events:
				if !ok {
					return nil
				}
				a.log.Trace("event", logx.String("type", e.Type), logx.Time("time", e.Time), logx.Any("data", e.Data))
			}
		}
	})

	// hot reload config fan-out
	sub := a.cfgm.Subscribe(8)
	a.sup.Go("config.reload", func(c context.Context) error {
		defer a.cfgm.Unsubscribe(sub)
		lastApplied := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return nil
			case newCfg, ok := <-sub:
				if !ok {
					return nil
				}
				// Coalesce bursts: keep only the latest config in the channel.
			drain:
				for {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						break drain
					}
				}
				a.applyConfig(c, lastApplied, newCfg)
				lastApplied = newCfg
			}
		}
	})

	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.log.Info("app started",
		logx.Int("jobs", len(a.jobs.Names())),
		logx.Int("schedules", a.sched.Len()),
		logx.String("config", a.cfgm.Path()),
	)
	return nil
}

// applyConfig pushes a validated reload into the running components.
func (a *App) applyConfig(ctx context.Context, oldCfg, newCfg *config.Config) {
	sections, attrs, changed := config.SummarizeConfigChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Debug("config change summary", fields...)
	if len(changed) > 0 {
		a.log.Debug("schedule changes detected", logx.Any("schedules", changed))
	}

	a.logs.Apply(mapLoggingConfig(newCfg))

	if wc, err := mapWorkConfig(newCfg); err != nil {
		a.log.Warn("invalid work config; keeping previous", logx.Err(err))
	} else if err := a.pool.Apply(wc); err != nil {
		a.log.Warn("work config rejected", logx.Err(err))
	}

	if sc, err := mapScheduleConfig(newCfg); err != nil {
		a.log.Warn("invalid schedule config; keeping previous", logx.Err(err))
	} else if err := a.sched.Apply(sc); err != nil {
		a.log.Warn("schedule config rejected", logx.Err(err))
	}

	if ac, err := mapAdminConfig(newCfg); err != nil {
		a.log.Warn("invalid admin config; keeping previous", logx.Err(err))
	} else {
		a.admin.Reconfigure(ctx, ac)
	}

	a.syncSchedules(newCfg)

	a.log.Info("config reloaded", fields...)
}

// syncSchedules brings configured entries in line with cfg by name. An
// unchanged definition is left alone, so a one-shot that already fired is
// not re-armed by an unrelated reload. A timezone change re-registers all.
func (a *App) syncSchedules(cfg *config.Config) {
	a.cmu.Lock()
	defer a.cmu.Unlock()

	tzChanged := a.tz != strings.TrimSpace(cfg.Schedule.Timezone)
	a.tz = strings.TrimSpace(cfg.Schedule.Timezone)

	want := map[string]config.ScheduleEntry{}
	for _, se := range cfg.Schedules {
		if se.Disabled {
			continue
		}
		want[strings.TrimSpace(se.Name)] = se
	}

	for name, cur := range a.configured {
		def, ok := want[name]
		if ok && !tzChanged && reflect.DeepEqual(def, cur.def) {
			continue
		}
		if cur.entry != nil {
			cur.entry.Cancel()
		}
		delete(a.configured, name)
	}

	for name, se := range want {
		if _, ok := a.configured[name]; ok {
			continue
		}
		e, err := a.addConfigured(se)
		if err != nil {
			a.log.Warn("schedule not registered", logx.String("schedule", name), logx.Err(err))
			continue
		}
		a.configured[name] = configuredEntry{def: se, entry: e}
		if e == nil {
			a.log.Info("schedule not armed: first run already past", logx.String("schedule", name))
			continue
		}
		a.log.Debug("schedule registered", logx.String("schedule", name), logx.String("job", se.Job), logx.Time("next", e.At()))
	}
}

func (a *App) addConfigured(se config.ScheduleEntry) (*schedule.Entry, error) {
	if !a.jobs.Has(se.Job) {
		return nil, fmt.Errorf("%w: %q", job.ErrUnknownJob, se.Job)
	}
	opts, err := scheduleOptions(se)
	if err != nil {
		return nil, err
	}
	return a.sched.Add(a.jobs.Ref(se.Job), opts...)
}

// ---- Registration API ----

// Register adds a job type that settings-file schedules and the admin API
// can refer to by name.
func (a *App) Register(name string, f job.Factory) error { return a.jobs.Register(name, f) }

// EnqueueNow hands j to the worker pool immediately.
func (a *App) EnqueueNow(j job.Invoker, args ...any) error { return a.pool.Enqueue(j, args...) }

// EnqueueNamed resolves a registered job type and enqueues a fresh instance.
func (a *App) EnqueueNamed(name string, args ...any) error {
	j, err := a.jobs.Resolve(name)
	if err != nil {
		return err
	}
	return a.pool.Enqueue(j, args...)
}

func (a *App) ScheduleAt(j job.Invoker, t time.Time, opts ...schedule.Option) (*schedule.Entry, error) {
	return a.sched.At(j, t, opts...)
}

func (a *App) ScheduleIn(j job.Invoker, d time.Duration, opts ...schedule.Option) (*schedule.Entry, error) {
	return a.sched.In(j, d, opts...)
}

func (a *App) ScheduleEvery(j job.Invoker, d time.Duration, opts ...schedule.Option) (*schedule.Entry, error) {
	return a.sched.Every(j, d, opts...)
}

// ---- admin.Backend ----

func (a *App) Health() error {
	if !a.pool.Snapshot().Running {
		return errors.New("worker pool not running")
	}
	if !a.sched.Snapshot().Running {
		return errors.New("scheduler not running")
	}
	return nil
}

// Snapshot is the /debug/snapshot payload.
type Snapshot struct {
	Uptime      string                    `json:"uptime"`
	Pool        work.Snapshot             `json:"pool"`
	Schedule    schedule.Snapshot         `json:"schedule"`
	Jobs        []string                  `json:"jobs"`
	Supervisors map[string]rtsup.Snapshot `json:"supervisors"`
}

func (a *App) Snapshot() any {
	snap := Snapshot{
		Uptime:      time.Since(a.startedAt).Round(time.Second).String(),
		Pool:        a.pool.Snapshot(),
		Schedule:    a.sched.Snapshot(),
		Jobs:        a.jobs.Names(),
		Supervisors: map[string]rtsup.Snapshot{},
	}
	if a.sup != nil {
		snap.Supervisors["app"] = a.sup.Snapshot()
	}
	if s := a.pool.Supervisor(); s != nil {
		snap.Supervisors["work"] = s.Snapshot()
	}
	if s := a.admin.Supervisor(); s != nil {
		snap.Supervisors["admin"] = s.Snapshot()
	}
	return snap
}

func (a *App) JobNames() []string { return a.jobs.Names() }

// CancelEntry removes the live entry with the given id.
func (a *App) CancelEntry(id string) bool {
	for _, e := range a.sched.Entries() {
		if e.ID() == id {
			return e.Cancel()
		}
	}
	return false
}

// ---- Shutdown ----

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))

	// Helper: run a shutdown step with an upper bound so one component can't stall the whole stop.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		a.log.Debug("stop step begin", logx.String("name", name), logx.Duration("max", max))

		stepCtx := ctx
		var cancel context.CancelFunc
		if max > 0 {
			// respect the caller's deadline; never extend it
			if dl, ok := ctx.Deadline(); ok {
				if rem := time.Until(dl); rem <= 0 {
					max = 0
				} else if rem < max {
					max = rem
				}
			}
			if max > 0 {
				stepCtx, cancel = context.WithTimeout(ctx, max)
				defer cancel()
			}
		}

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			took := time.Since(start)
			if took >= 500*time.Millisecond {
				a.log.Info("stop step end", logx.String("name", name), logx.Duration("took", took))
			} else {
				a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", took))
			}
		case <-stepCtx.Done():
			// fn must honor stepCtx; anything past here is a leak signal.
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.Err(stepCtx.Err()),
				logx.Duration("elapsed", time.Since(start)),
			)
			go func() {
				err := <-done
				a.log.Warn("stop step finished after deadline", logx.String("name", name), logx.Err(err), logx.Duration("took", time.Since(start)))
			}()
		}
	}

	// Admin first so no new work arrives, then the watcher, then the pool
	// drains in-flight jobs.
	step("admin", time.Second, func(c context.Context) error { a.admin.Stop(c); return nil })
	step("scheduler", 2*time.Second, a.sched.Stop)
	step("pool", 5*time.Second, a.pool.Stop)

	// Finally, the supervised loops (config watch/reload, metrics, event log).
	step("supervisor", 2*time.Second, a.sup.Stop)

	a.log.Info("stopped", logx.Duration("uptime", time.Since(a.startedAt)))
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}

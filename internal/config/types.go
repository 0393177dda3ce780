package config

// Config is the settings file. Durations are Go duration strings
// ("500ms", "10s", "5m"); empty means the component default.
type Config struct {
	Logging  LoggingConfig  `json:"logging"`
	Work     WorkConfig     `json:"work"`
	Schedule ScheduleConfig `json:"schedule"`
	Admin    AdminConfig    `json:"admin"`

	// Schedules are registered at startup and re-synced by name on reload.
	Schedules []ScheduleEntry `json:"schedules,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// WorkConfig controls the worker pool.
//
// Defaults (when fields are omitted/zero):
//   - min_workers: 1
//   - max_workers: 4
//   - pop_timeout: "5s"
//   - job_timeout: "0s" (disabled)
//   - scale_up_backlog: max_workers
//
// 0 cannot be told apart from an omitted key, so min_workers: 0 means the
// default floor of 1, not an empty pool. Negative counts are rejected.
type WorkConfig struct {
	MinWorkers     int    `json:"min_workers,omitempty"`
	MaxWorkers     int    `json:"max_workers,omitempty"`
	PopTimeout     string `json:"pop_timeout,omitempty"`
	JobTimeout     string `json:"job_timeout,omitempty"`
	ScaleUpBacklog int    `json:"scale_up_backlog,omitempty"`
}

// ScheduleConfig controls the scheduler.
//
// Defaults: max_sleep "60s", max_overdue "5m", default_delay "60s",
// timezone = local. An empty or "0s" max_sleep/default_delay takes the
// default, except that an explicit max_sleep "0s" is rejected. max_overdue
// "0s" is kept as is: every late recurring occurrence is skipped.
type ScheduleConfig struct {
	MaxSleep     string `json:"max_sleep,omitempty"`
	MaxOverdue   string `json:"max_overdue,omitempty"`
	DefaultDelay string `json:"default_delay,omitempty"`

	// Timezone is an IANA name used for cron specs, e.g. "Asia/Jakarta".
	Timezone string `json:"timezone,omitempty"`
}

// AdminConfig controls the optional HTTP admin surface.
//
// Security:
//   - Prefer binding to localhost (default "127.0.0.1:9090").
//   - A non-loopback addr requires token or allow_insecure.
type AdminConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"`
	Token         string `json:"token,omitempty"` // bearer token (do not log)
	AllowInsecure bool   `json:"allow_insecure,omitempty"`
	Pprof         bool   `json:"pprof,omitempty"`

	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
	IdleTimeout  string `json:"idle_timeout,omitempty"`
}

// ScheduleEntry is one configured schedule.
//
// Example:
//
//	{ "name": "beat", "job": "heartbeat", "spec": "30s" }
//	{ "name": "nightly-gc", "job": "gc", "spec": "0 30 2 * * *" }
//	{ "name": "hello", "job": "echo", "in": "10s", "args": ["hi"] }
type ScheduleEntry struct {
	Name string `json:"name"`
	Job  string `json:"job"`

	// Spec makes the entry recurring: a cron expression, a Go duration or
	// HH:MM. Empty means one-shot.
	Spec string `json:"spec,omitempty"`

	In string `json:"in,omitempty"`
	// At is an RFC 3339 timestamp.
	At string `json:"at,omitempty"`

	Times     int    `json:"times,omitempty"`
	Tolerance string `json:"tolerance,omitempty"`
	Args      []any  `json:"args,omitempty"`
	Disabled  bool   `json:"disabled,omitempty"`
}

// Default is used when no settings file is given.
func Default() *Config {
	return &Config{
		Logging: LoggingConfig{Level: "info", Console: true},
	}
}

package config

import (
	"reflect"
	"sort"
	"strings"

	logx "workyard/pkg/logx"
)

// SummarizeConfigChange returns the changed top-level sections, structured
// log fields describing the new values, and the names of schedules that were
// added, removed or edited.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field, []string) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	var changed []string
	var attrs []logx.Field

	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	if oldCfg.Work != newCfg.Work {
		changed = append(changed, "work")
		attrs = append(attrs,
			logx.Int("work.min_workers", newCfg.Work.MinWorkers),
			logx.Int("work.max_workers", newCfg.Work.MaxWorkers),
			logx.String("work.pop_timeout", strings.TrimSpace(newCfg.Work.PopTimeout)),
			logx.String("work.job_timeout", strings.TrimSpace(newCfg.Work.JobTimeout)),
		)
	}

	if oldCfg.Schedule != newCfg.Schedule {
		changed = append(changed, "schedule")
		attrs = append(attrs,
			logx.String("schedule.max_sleep", strings.TrimSpace(newCfg.Schedule.MaxSleep)),
			logx.String("schedule.max_overdue", strings.TrimSpace(newCfg.Schedule.MaxOverdue)),
			logx.String("schedule.timezone", strings.TrimSpace(newCfg.Schedule.Timezone)),
		)
	}

	if oldCfg.Admin != newCfg.Admin {
		changed = append(changed, "admin")
		attrs = append(attrs,
			logx.Bool("admin.enabled", newCfg.Admin.Enabled),
			logx.String("admin.addr", strings.TrimSpace(newCfg.Admin.Addr)),
			logx.Bool("admin.token_set", strings.TrimSpace(newCfg.Admin.Token) != ""),
			logx.Bool("admin.pprof", newCfg.Admin.Pprof),
		)
	}

	entries := changedSchedules(oldCfg.Schedules, newCfg.Schedules)
	if len(entries) > 0 {
		changed = append(changed, "schedules")
		attrs = append(attrs, logx.Int("schedules.count", len(newCfg.Schedules)), logx.Int("schedules.changed", len(entries)))
	}
	return changed, attrs, entries
}

func changedSchedules(oldList, newList []ScheduleEntry) []string {
	byName := func(list []ScheduleEntry) map[string]ScheduleEntry {
		m := make(map[string]ScheduleEntry, len(list))
		for _, e := range list {
			m[strings.TrimSpace(e.Name)] = e
		}
		return m
	}
	oldM, newM := byName(oldList), byName(newList)

	var out []string
	for name, n := range newM {
		if o, ok := oldM[name]; !ok || !reflect.DeepEqual(o, n) {
			out = append(out, name)
		}
	}
	for name := range oldM {
		if _, ok := newM[name]; !ok {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

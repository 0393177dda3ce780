// Package builtin registers the job types every workyard process ships with.
package builtin

import (
	"context"
	"fmt"
	"runtime"
	"runtime/debug"
	"strings"
	"time"

	"workyard/internal/task/job"
	logx "workyard/pkg/logx"
)

// Names of the jobs Register adds.
const (
	Heartbeat = "heartbeat"
	MemStats  = "memstats"
	Echo      = "echo"
	GC        = "gc"
)

// Register adds the built-in job types to reg. startedAt anchors the uptime
// reported by the heartbeat; the zero value means now.
func Register(reg *job.Registry, log logx.Logger, startedAt time.Time) error {
	if reg == nil {
		return fmt.Errorf("builtin: nil registry")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	if startedAt.IsZero() {
		startedAt = time.Now()
	}
	log = log.With(logx.String("comp", "jobs"))

	factories := map[string]job.Factory{
		Heartbeat: func() job.Invoker { return heartbeat(log, startedAt) },
		MemStats:  func() job.Invoker { return memStats(log) },
		Echo:      func() job.Invoker { return echo(log) },
		GC:        func() job.Invoker { return collect(log) },
	}
	for _, name := range []string{Heartbeat, MemStats, Echo, GC} {
		if err := reg.Register(name, factories[name]); err != nil {
			return err
		}
	}
	return nil
}

func heartbeat(log logx.Logger, startedAt time.Time) job.Invoker {
	return job.Func(func(context.Context, ...any) error {
		log.Info("heartbeat",
			logx.String("uptime", durRel(time.Since(startedAt))),
			logx.Int("goroutines", runtime.NumGoroutine()),
		)
		return nil
	})
}

func memStats(log logx.Logger) job.Invoker {
	return job.Func(func(context.Context, ...any) error {
		var m runtime.MemStats
		runtime.ReadMemStats(&m)

		mod := ""
		if bi, ok := debug.ReadBuildInfo(); ok && bi != nil {
			mod = strings.TrimSpace(bi.Main.Path + " " + bi.Main.Version)
		}
		log.Info("memstats",
			logx.String("go", runtime.Version()),
			logx.String("module", mod),
			logx.String("alloc", fmtBytes(m.Alloc)),
			logx.String("sys", fmtBytes(m.Sys)),
			logx.Uint64("num_gc", uint64(m.NumGC)),
		)
		return nil
	})
}

// echo logs its args. It fails when the first arg is the string "fail",
// which makes it handy for exercising failure paths from the admin API.
func echo(log logx.Logger) job.Invoker {
	return job.Func(func(_ context.Context, args ...any) error {
		if len(args) > 0 {
			if s, ok := args[0].(string); ok && s == "fail" {
				return fmt.Errorf("echo: asked to fail")
			}
		}
		parts := make([]string, 0, len(args))
		for _, a := range args {
			parts = append(parts, fmt.Sprint(a))
		}
		log.Info("echo", logx.String("args", strings.Join(parts, " ")))
		return nil
	})
}

func collect(log logx.Logger) job.Invoker {
	return job.Func(func(ctx context.Context, _ ...any) error {
		var before runtime.MemStats
		runtime.ReadMemStats(&before)
		start := time.Now()
		runtime.GC()
		if ctx.Err() == nil {
			debug.FreeOSMemory()
		}
		var after runtime.MemStats
		runtime.ReadMemStats(&after)
		log.Debug("gc done",
			logx.String("heap_before", fmtBytes(before.HeapAlloc)),
			logx.String("heap_after", fmtBytes(after.HeapAlloc)),
			logx.Duration("took", time.Since(start)),
		)
		return ctx.Err()
	})
}

func fmtBytes(n uint64) string {
	const (
		KB = 1024
		MB = 1024 * KB
		GB = 1024 * MB
	)
	switch {
	case n >= GB:
		return fmt.Sprintf("%.1fGB", float64(n)/GB)
	case n >= MB:
		return fmt.Sprintf("%.1fMB", float64(n)/MB)
	case n >= KB:
		return fmt.Sprintf("%.1fKB", float64(n)/KB)
	default:
		return fmt.Sprintf("%dB", n)
	}
}

func durRel(d time.Duration) string {
	if d < 0 {
		d = -d
	}
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm%ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%dh%dm", int(d.Hours()), int(d.Minutes())%60)
}

package schedule

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// Cadence computes a recurring entry's next fire time from its previous one.
// Next must return a time after prev, or the zero time when there is none.
type Cadence interface {
	Next(prev time.Time) time.Time
	String() string
}

// Interval is a fixed repeat interval.
type Interval time.Duration

func (d Interval) Next(prev time.Time) time.Time { return prev.Add(time.Duration(d)) }
func (d Interval) String() string                 { return "every " + time.Duration(d).String() }

// SecondOptional allows both 5-field and 6-field (with seconds) cron specs.
var cronParser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

type cronCadence struct {
	expr  string
	sched cron.Schedule
	loc   *time.Location
}

// ParseCron parses a crontab expression ("*/5 * * * *", "0 30 2 * * *",
// "@hourly", "@every 55m"). loc is the zone fields are evaluated in; nil
// means time.Local.
func ParseCron(expr string, loc *time.Location) (Cadence, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil, fmt.Errorf("%w: empty", ErrInvalidCron)
	}
	sched, err := cronParser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrInvalidCron, expr, err)
	}
	if loc == nil {
		loc = time.Local
	}
	return cronCadence{expr: expr, sched: sched, loc: loc}, nil
}

func (c cronCadence) Next(prev time.Time) time.Time {
	next := c.sched.Next(prev.In(c.loc))
	if next.IsZero() {
		return next
	}
	return next.Round(0)
}

func (c cronCadence) String() string { return "cron " + c.expr }

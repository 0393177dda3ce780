package schedule

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

type SpecKind int

const (
	SpecInterval SpecKind = iota
	SpecCron
)

func (k SpecKind) String() string {
	if k == SpecCron {
		return "cron"
	}
	return "interval"
}

// Spec is a parsed schedule string from the settings file.
//
// Accepted forms:
//   - cron: "*/5 * * * *", "0 30 2 * * *", "@hourly", "@every 55m"
//   - Go duration interval: "55m", "2h30m"
//   - HH:MM interval: "00:50" (50 minutes), "02:30" (2h30m)
//
// "cron:" forces cron parsing; "every:" or "interval:" force an interval.
type Spec struct {
	Kind  SpecKind
	Every time.Duration
	Cron  string
	Raw   string
}

var reHHMM = regexp.MustCompile(`^(\d{1,3}):(\d{2})$`)

// ParseSpec parses raw. Cron expressions are validated here, so a bad
// settings file fails at load time rather than at registration.
func ParseSpec(raw string) (Spec, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return Spec{}, fmt.Errorf("schedule spec required")
	}
	low := strings.ToLower(s)

	for _, prefix := range []string{"every:", "interval:"} {
		if strings.HasPrefix(low, prefix) {
			d, err := parseInterval(s[len(prefix):])
			if err != nil {
				return Spec{}, err
			}
			return Spec{Kind: SpecInterval, Every: d, Raw: raw}, nil
		}
	}
	if strings.HasPrefix(low, "cron:") {
		return cronSpec(strings.TrimSpace(s[len("cron:"):]), raw)
	}
	if strings.ContainsAny(s, " \t") || strings.HasPrefix(s, "@") {
		return cronSpec(s, raw)
	}

	d, err := parseInterval(s)
	if err != nil {
		return Spec{}, fmt.Errorf("invalid schedule %q (use cron like '*/5 * * * *', HH:MM like '02:30', or duration like '55m')", raw)
	}
	return Spec{Kind: SpecInterval, Every: d, Raw: raw}, nil
}

// Option turns the spec into the matching registration option.
func (p Spec) Option() Option {
	if p.Kind == SpecCron {
		return Cron(p.Cron)
	}
	return Every(p.Every)
}

func (p Spec) String() string {
	if p.Kind == SpecCron {
		return "cron " + p.Cron
	}
	return "every " + p.Every.String()
}

func cronSpec(expr, raw string) (Spec, error) {
	if _, err := ParseCron(expr, nil); err != nil {
		return Spec{}, err
	}
	return Spec{Kind: SpecCron, Cron: expr, Raw: raw}, nil
}

func parseInterval(v string) (time.Duration, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0, fmt.Errorf("%w: interval required", ErrInvalidInterval)
	}
	var d time.Duration
	if m := reHHMM.FindStringSubmatch(v); m != nil {
		hh, _ := strconv.Atoi(m[1])
		mm, _ := strconv.Atoi(m[2])
		if mm > 59 {
			return 0, fmt.Errorf("%w: minutes out of range in %q", ErrInvalidInterval, v)
		}
		d = time.Duration(hh)*time.Hour + time.Duration(mm)*time.Minute
	} else {
		var err error
		if d, err = time.ParseDuration(v); err != nil {
			return 0, fmt.Errorf("%w: %q", ErrInvalidInterval, v)
		}
	}
	if d <= 0 {
		return 0, fmt.Errorf("%w: must be > 0", ErrInvalidInterval)
	}
	return d, nil
}

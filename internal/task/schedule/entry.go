package schedule

import (
	"sync"
	"time"

	"golang.org/x/time/rate"

	"workyard/internal/task/job"
)

// Entry is one registered job in a Scheduler.
//
// at is the next (never the last) fire time. While the entry sits in the
// scheduler's collection only the scheduler touches it; dispatch mutates it
// after the watcher has popped it out.
type Entry struct {
	id    string
	name  string
	job   job.Invoker
	args  []any
	sched *Scheduler

	mu        sync.Mutex
	at        time.Time
	cadence   Cadence // nil for one-shot entries
	remaining int     // meaningful when capped
	capped    bool
	tolerance time.Duration // <0 means use the scheduler's MaxOverdue

	// removed is guarded by sched.mu.
	removed bool

	warn *rate.Limiter
}

func (e *Entry) ID() string   { return e.id }
func (e *Entry) Name() string { return e.name }

// At returns the next fire time.
func (e *Entry) At() time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.at
}

// Remaining returns the occurrences left and whether the entry is capped.
func (e *Entry) Remaining() (int, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.remaining, e.capped
}

func (e *Entry) Recurring() bool { return e.cadence != nil }

// Cancel removes the entry from its scheduler. It reports whether this call
// did the removal; later calls are no-ops.
func (e *Entry) Cancel() bool {
	if e == nil || e.sched == nil {
		return false
	}
	return e.sched.Remove(e)
}

func (e *Entry) due(now time.Time) bool { return now.After(e.At()) }

func (e *Entry) info() EntryInfo {
	e.mu.Lock()
	defer e.mu.Unlock()
	in := EntryInfo{ID: e.id, Name: e.name, At: e.at, Remaining: -1, Tolerance: e.tolerance}
	if e.cadence != nil {
		in.Cadence = e.cadence.String()
	}
	if e.capped {
		in.Remaining = e.remaining
	}
	return in
}

// occurrence is what one dispatch decided.
type occurrence struct {
	at      time.Time // the fire time being handled
	overdue time.Duration
	submit  bool
	skipped bool // recurring and too late
	keep    bool
}

// advance applies one due occurrence to the entry's state:
//
//   - a one-shot entry always runs, however late;
//   - a recurring entry runs only when less than its tolerance late;
//   - a capped entry runs only while occurrences remain, and every due
//     occurrence, run or skipped, consumes one;
//   - a recurring entry that still has occurrences moves to its next fire
//     time computed from the previous at, not from now.
func (e *Entry) advance(now time.Time, maxOverdue time.Duration) occurrence {
	e.mu.Lock()
	defer e.mu.Unlock()

	tol := e.tolerance
	if tol < 0 {
		tol = maxOverdue
	}
	oc := occurrence{at: e.at, overdue: now.Sub(e.at)}

	left := !e.capped || e.remaining > 0
	inTime := e.cadence == nil || oc.overdue < tol
	oc.submit = left && inTime
	oc.skipped = left && !inTime

	if e.capped && e.remaining > 0 {
		e.remaining--
	}
	if e.cadence != nil && (!e.capped || e.remaining > 0) {
		if next := e.cadence.Next(e.at); !next.IsZero() {
			e.at = next
			oc.keep = true
		}
	}
	return oc
}

package schedule

import (
	"testing"
	"time"
)

var t0 = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

func TestOneShotRunsHoweverLate(t *testing.T) {
	e := &Entry{at: t0, tolerance: -1}
	oc := e.advance(t0.Add(24*time.Hour), 5*time.Minute)
	if !oc.submit || oc.skipped || oc.keep {
		t.Fatalf("occurrence = %+v, want submit and drop", oc)
	}
}

func TestRecurringOverdueSkipsButAdvances(t *testing.T) {
	e := &Entry{at: t0, cadence: Interval(time.Minute), tolerance: -1}

	oc := e.advance(t0.Add(10*time.Minute), 5*time.Minute)
	if oc.submit || !oc.skipped || !oc.keep {
		t.Fatalf("occurrence = %+v, want skip and keep", oc)
	}
	if got := e.At(); !got.Equal(t0.Add(time.Minute)) {
		t.Fatalf("at = %s, want previous at + 1m", got)
	}

	oc = e.advance(t0.Add(time.Minute+time.Second), 5*time.Minute)
	if !oc.submit || !oc.keep {
		t.Fatalf("occurrence = %+v, want submit and keep", oc)
	}
	if got := e.At(); !got.Equal(t0.Add(2 * time.Minute)) {
		t.Fatalf("at = %s, want anchored to previous at", got)
	}
}

func TestEntryToleranceOverride(t *testing.T) {
	e := &Entry{at: t0, cadence: Interval(time.Minute), tolerance: 0}
	if oc := e.advance(t0.Add(time.Millisecond), time.Hour); oc.submit {
		t.Fatalf("zero tolerance should skip any late occurrence: %+v", oc)
	}
}

func TestTimesCapCountsSkippedOccurrences(t *testing.T) {
	e := &Entry{at: t0, cadence: Interval(time.Minute), capped: true, remaining: 2, tolerance: -1}

	oc := e.advance(t0.Add(time.Hour), 5*time.Minute)
	if !oc.skipped || !oc.keep {
		t.Fatalf("first occurrence = %+v", oc)
	}
	if n, capped := e.Remaining(); !capped || n != 1 {
		t.Fatalf("remaining = %d, %v", n, capped)
	}

	oc = e.advance(e.At().Add(time.Second), 5*time.Minute)
	if !oc.submit || oc.keep {
		t.Fatalf("last occurrence = %+v, want submit and drop", oc)
	}
	if n, _ := e.Remaining(); n != 0 {
		t.Fatalf("remaining = %d", n)
	}
}

func TestCronCadenceAdvancesFromPreviousAt(t *testing.T) {
	cad, err := ParseCron("0 * * * *", time.UTC)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	e := &Entry{at: t0, cadence: cad, tolerance: -1}
	oc := e.advance(t0.Add(time.Second), 5*time.Minute)
	if !oc.submit || !oc.keep {
		t.Fatalf("occurrence = %+v", oc)
	}
	if got := e.At(); !got.Equal(t0.Add(time.Hour)) {
		t.Fatalf("at = %s, want %s", got, t0.Add(time.Hour))
	}
}

func TestEntryDue(t *testing.T) {
	e := &Entry{at: t0}
	if e.due(t0) {
		t.Fatalf("entry is not due at exactly its fire time")
	}
	if !e.due(t0.Add(time.Nanosecond)) {
		t.Fatalf("entry should be due after its fire time")
	}
}

package schedule

import (
	"context"
	"time"

	"workyard/internal/eventbus"
	logx "workyard/pkg/logx"
)

// watch is the watcher loop. It parks while the schedule is empty, promotes
// the due prefix, then sleeps until the next entry is due but never longer
// than MaxSleep. Inserts and Apply wake it early.
func (s *Scheduler) watch(ctx context.Context) error {
	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()

	for {
		if ctx.Err() != nil {
			return nil
		}

		s.mu.Lock()
		if len(s.entries) == 0 {
			s.parked = true
			s.mu.Unlock()
			s.log.Trace("watcher parked")
			select {
			case <-s.wake:
			case <-ctx.Done():
				s.setParked(false)
				return nil
			}
			s.setParked(false)
			continue
		}
		due := s.popDueLocked(s.clock.Now())
		gen := s.gen
		s.mu.Unlock()

		for _, e := range due {
			s.dispatch(e, gen)
		}

		s.mu.Lock()
		var wait time.Duration
		if len(s.entries) > 0 {
			now := s.clock.Now()
			if next := s.entries[0].At(); !now.After(next) {
				wait = min(next.Sub(now), s.cfg.MaxSleep)
				wait = max(wait, minWatcherSleep)
			}
		}
		s.mu.Unlock()
		if wait == 0 {
			// Empty (park on the next pass) or already due.
			continue
		}

		s.log.Trace("watcher sleeping", logx.Duration("for", wait))
		timer.Reset(wait)
		select {
		case <-timer.C:
		case <-s.wake:
			timer.Stop()
		case <-ctx.Done():
			return nil
		}
	}
}

// dispatch runs one due entry outside the collection lock and puts it back
// if it still recurs and was not removed meanwhile.
func (s *Scheduler) dispatch(e *Entry, gen uint64) {
	s.mu.Lock()
	maxOverdue := s.cfg.MaxOverdue
	s.mu.Unlock()

	oc := e.advance(s.clock.Now(), maxOverdue)
	ev := eventbus.EntryEvent{Entry: e.id, Job: e.name, At: oc.at, Overdue: oc.overdue}

	switch {
	case oc.submit:
		if err := s.work.Enqueue(e.job, e.args...); err != nil {
			s.enqueueFailed.Add(1)
			if e.warn.Allow() {
				s.log.Warn("enqueue failed", logx.String("entry", e.name), logx.String("id", e.id), logx.Err(err))
			}
			ev.Reason = "enqueue: " + err.Error()
			eventbus.Publish(s.bus, eventbus.ScheduleSkipped, ev)
			break
		}
		s.dispatched.Add(1)
		s.log.Debug("entry dispatched", logx.String("entry", e.name), logx.Duration("overdue", oc.overdue))
		eventbus.Publish(s.bus, eventbus.ScheduleDispatched, ev)
	case oc.skipped:
		s.skipped.Add(1)
		s.log.Debug("overdue occurrence skipped", logx.String("entry", e.name), logx.Duration("overdue", oc.overdue), logx.Time("next", e.At()))
		ev.Reason = "overdue"
		eventbus.Publish(s.bus, eventbus.ScheduleSkipped, ev)
	}

	s.mu.Lock()
	if e.removed || gen != s.gen {
		e.removed = true
		s.mu.Unlock()
		return
	}
	if oc.keep {
		s.insertLocked(e)
		s.mu.Unlock()
		return
	}
	e.removed = true
	s.mu.Unlock()

	reason := "done"
	if e.Recurring() {
		reason = "exhausted"
	}
	s.removedCount.Add(1)
	eventbus.Publish(s.bus, eventbus.ScheduleRemoved, eventbus.EntryEvent{Entry: e.id, Job: e.name, At: oc.at, Reason: reason})
}

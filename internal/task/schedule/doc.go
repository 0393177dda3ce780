// Package schedule promotes timed jobs into a worker pool.
//
// A Scheduler keeps its entries sorted by next fire time. One watcher
// goroutine pops the due prefix, hands each job to the Enqueuer, reinserts
// recurring entries at their next time, and sleeps until the earliest entry
// is due. Sleeps are capped at MaxSleep and use wall time, so a suspended
// host or a stepped clock is caught up within one cap.
//
// One-shot entries always run once, however late. Recurring entries that are
// later than their tolerance skip that occurrence and keep their cadence.
package schedule

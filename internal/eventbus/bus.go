package eventbus

import (
	"sync"
	"sync/atomic"
	"time"
)

// Event types published by the worker pool and the scheduler.
const (
	JobStarted  = "job.started"
	JobFinished = "job.finished"
	JobFailed   = "job.failed"

	ScheduleDispatched = "schedule.dispatched"
	ScheduleSkipped    = "schedule.skipped"
	ScheduleRemoved    = "schedule.removed"

	WorkerAdded   = "worker.added"
	WorkerRetired = "worker.retired"
)

// Event is a lightweight, in-memory signal used to decouple components.
//
// Contract:
//   - Publish MUST be non-blocking.
//   - Subscribers get buffered channels; slow subscribers drop events.
type Event struct {
	Type string
	Time time.Time
	Data any
}

// JobEvent is the payload of job.* events.
type JobEvent struct {
	Job        string        `json:"job"`
	Worker     int           `json:"worker"`
	QueueDelay time.Duration `json:"queue_delay"`
	Duration   time.Duration `json:"duration"`
	Panicked   bool          `json:"panicked,omitempty"`
	Error      string        `json:"error,omitempty"`
}

// EntryEvent is the payload of schedule.* events.
type EntryEvent struct {
	Entry   string        `json:"entry"`
	Job     string        `json:"job"`
	At      time.Time     `json:"at"`
	Overdue time.Duration `json:"overdue"`
	Reason  string        `json:"reason,omitempty"`
}

// WorkerEvent is the payload of worker.* events.
type WorkerEvent struct {
	Worker int `json:"worker"`
	Live   int `json:"live"`
}

type Bus interface {
	Publish(e Event)
	Subscribe(buffer int) (ch <-chan Event, unsubscribe func())
}

// New returns an in-memory fanout bus. It owns no goroutines.
func New() Bus {
	return &memBus{subs: map[uint64]chan Event{}}
}

type memBus struct {
	mu   sync.RWMutex
	subs map[uint64]chan Event
	seq  atomic.Uint64
}

func (b *memBus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	// Sends happen under the read lock so Subscribe's unsubscribe (which
	// closes under the write lock) can never race a send.
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
		}
	}
}

func (b *memBus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 8
	}
	ch := make(chan Event, buffer)
	id := b.seq.Add(1)

	b.mu.Lock()
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			close(ch)
			b.mu.Unlock()
		})
	}
	return ch, unsub
}

// Publish is a nil-safe helper for components holding an optional bus.
func Publish(b Bus, typ string, data any) {
	if b == nil {
		return
	}
	b.Publish(Event{Type: typ, Time: time.Now(), Data: data})
}

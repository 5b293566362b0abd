package history

import (
	"context"
	"sync"
	"time"
)

// EventType names a worker lifecycle transition.
type EventType string

const (
	EventStarting EventType = "starting"
	EventRunning  EventType = "running"
	EventCrashed  EventType = "crashed"
	EventStopped  EventType = "stopped"
	EventFailed   EventType = "failed"
)

// Event is one worker lifecycle transition as recorded in the journal.
type Event struct {
	Type       EventType `json:"type"`
	OccurredAt time.Time `json:"occurred_at"`
	PID        int       `json:"pid"`
	Restarts   int       `json:"restarts"`
	Detail     string    `json:"detail,omitempty"`
}

// Sink is a destination for lifecycle events (databases, analytics systems).
// Implementations must be safe for concurrent use.
type Sink interface {
	Send(ctx context.Context, e Event) error
}

// Ring keeps the most recent events in memory so status queries can return
// a short journal without touching a database. Zero value is not usable;
// use NewRing.
type Ring struct {
	mu  sync.Mutex
	buf []Event
	max int
}

func NewRing(capacity int) *Ring {
	if capacity <= 0 {
		capacity = 64
	}
	return &Ring{max: capacity}
}

// Append records e, evicting the oldest event when the ring is full.
func (r *Ring) Append(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.buf) == r.max {
		copy(r.buf, r.buf[1:])
		r.buf = r.buf[:len(r.buf)-1]
	}
	r.buf = append(r.buf, e)
}

// Send makes Ring usable as a Sink. It never fails.
func (r *Ring) Send(_ context.Context, e Event) error {
	r.Append(e)
	return nil
}

// Recent returns up to n events in chronological order (oldest first).
// n <= 0 returns everything retained.
func (r *Ring) Recent(n int) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	if n <= 0 || n > len(r.buf) {
		n = len(r.buf)
	}
	out := make([]Event, n)
	copy(out, r.buf[len(r.buf)-n:])
	return out
}

func (r *Ring) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.buf)
}

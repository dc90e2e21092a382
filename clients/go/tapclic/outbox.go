package tapclic

import (
	"encoding/json"
	"sync"
	"time"
)

// outboxEntry is one not-yet-acknowledged send attempt.
type outboxEntry struct {
	Event    string
	Payload  json.RawMessage
	QueuedAt time.Time
	Attempts int
}

// outbox buffers emits made while the connection is down. Entries are
// replayed in original order on reconnect and dropped once they exceed the
// age or retry bounds.
type outbox struct {
	mu          sync.Mutex
	entries     []outboxEntry
	maxAge      time.Duration
	maxAttempts int
	now         func() time.Time
}

func newOutbox(maxAge time.Duration, maxAttempts int, now func() time.Time) *outbox {
	if now == nil {
		now = time.Now
	}
	return &outbox{maxAge: maxAge, maxAttempts: maxAttempts, now: now}
}

func (o *outbox) add(event string, payload json.RawMessage) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.entries = append(o.entries, outboxEntry{
		Event:    event,
		Payload:  payload,
		QueuedAt: o.now(),
	})
}

// take removes and returns every entry still within bounds, in original
// order, counting one more attempt against each.
func (o *outbox) take() []outboxEntry {
	o.mu.Lock()
	defer o.mu.Unlock()

	cutoff := o.now().Add(-o.maxAge)
	kept := o.entries[:0]
	for _, e := range o.entries {
		if e.QueuedAt.Before(cutoff) || e.Attempts >= o.maxAttempts {
			continue
		}
		e.Attempts++
		kept = append(kept, e)
	}
	out := append([]outboxEntry(nil), kept...)
	o.entries = nil
	return out
}

// requeue puts failed entries back at the front, ahead of anything queued
// since, preserving original order.
func (o *outbox) requeue(entries []outboxEntry) {
	if len(entries) == 0 {
		return
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	o.entries = append(append([]outboxEntry(nil), entries...), o.entries...)
}

func (o *outbox) len() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.entries)
}

package relay

import (
	"time"
)

// pendingQueue buffers events for a room that currently has no live members.
// Insertion order is delivery order. Both bounds are enforced lazily: expired
// entries are dropped on every add and drain, and the oldest entries are
// dropped first when the count bound would be exceeded.
type pendingQueue struct {
	events []Event
}

// add appends evt after applying eviction. Returns how many entries were
// dropped for age and how many for capacity.
func (q *pendingQueue) add(evt Event, now time.Time, maxLen int, ttl time.Duration) (expired, overflowed int) {
	expired = q.evictExpired(now, ttl)

	q.events = append(q.events, evt)
	if len(q.events) > maxLen {
		overflowed = len(q.events) - maxLen
		q.events = append([]Event(nil), q.events[overflowed:]...)
	}
	return expired, overflowed
}

// drain returns every surviving entry in enqueue order and empties the
// queue. An event returned by drain can never be returned again.
func (q *pendingQueue) drain(now time.Time, ttl time.Duration) (events []Event, expired int) {
	expired = q.evictExpired(now, ttl)
	events = q.events
	q.events = nil
	return events, expired
}

// evictExpired drops entries older than ttl. Entries are in insertion order,
// so expired ones form a prefix.
func (q *pendingQueue) evictExpired(now time.Time, ttl time.Duration) int {
	cutoff := now.Add(-ttl)
	i := 0
	for i < len(q.events) && !q.events[i].CreatedAt.After(cutoff) {
		i++
	}
	if i == 0 {
		return 0
	}
	q.events = append([]Event(nil), q.events[i:]...)
	return i
}

func (q *pendingQueue) len() int {
	return len(q.events)
}

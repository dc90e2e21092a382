package relay

import (
	"encoding/json"
	"testing"
	"time"
)

func pendingEvent(name string, at time.Time) Event {
	return Event{Name: name, Room: "user_1", Payload: json.RawMessage(`{}`), CreatedAt: at}
}

func TestPendingDrainPreservesOrder(t *testing.T) {
	q := &pendingQueue{}
	now := time.Now()

	for _, name := range []string{"a", "b", "c"} {
		q.add(pendingEvent(name, now), now, 10, time.Minute)
	}

	events, expired := q.drain(now, time.Minute)
	if expired != 0 {
		t.Fatalf("expected no expirations, got %d", expired)
	}
	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %d", len(events))
	}
	for i, name := range []string{"a", "b", "c"} {
		if events[i].Name != name {
			t.Fatalf("position %d: expected %q, got %q", i, name, events[i].Name)
		}
	}
	if q.len() != 0 {
		t.Fatalf("queue should be empty after drain, has %d", q.len())
	}
}

func TestPendingOverflowDropsOldestFirst(t *testing.T) {
	q := &pendingQueue{}
	now := time.Now()
	maxPending := 3

	for _, name := range []string{"a", "b", "c", "d", "e"} {
		q.add(pendingEvent(name, now), now, maxPending, time.Minute)
	}

	events, _ := q.drain(now, time.Minute)
	if len(events) != maxPending {
		t.Fatalf("expected %d events, got %d", maxPending, len(events))
	}
	for i, name := range []string{"c", "d", "e"} {
		if events[i].Name != name {
			t.Fatalf("position %d: expected %q, got %q", i, name, events[i].Name)
		}
	}
}

func TestPendingTTLEvictionOnDrain(t *testing.T) {
	q := &pendingQueue{}
	start := time.Now()
	ttl := time.Minute

	q.add(pendingEvent("old", start), start, 10, ttl)
	q.add(pendingEvent("fresh", start.Add(50*time.Second)), start.Add(50*time.Second), 10, ttl)

	// Advance past the first event's TTL but not the second's
	events, expired := q.drain(start.Add(70*time.Second), ttl)
	if expired != 1 {
		t.Fatalf("expected 1 expiration, got %d", expired)
	}
	if len(events) != 1 || events[0].Name != "fresh" {
		t.Fatalf("expected only the fresh event, got %v", events)
	}
}

func TestPendingTTLEvictionOnAdd(t *testing.T) {
	q := &pendingQueue{}
	start := time.Now()
	ttl := time.Minute

	q.add(pendingEvent("old", start), start, 10, ttl)

	later := start.Add(2 * time.Minute)
	expired, overflowed := q.add(pendingEvent("new", later), later, 10, ttl)
	if expired != 1 || overflowed != 0 {
		t.Fatalf("expected 1 expired and 0 overflowed, got %d and %d", expired, overflowed)
	}
	if q.len() != 1 {
		t.Fatalf("expected 1 event in queue, got %d", q.len())
	}
}

func TestPendingDrainEmptyAfterFullExpiry(t *testing.T) {
	q := &pendingQueue{}
	start := time.Now()
	ttl := time.Minute

	for _, name := range []string{"a", "b"} {
		q.add(pendingEvent(name, start), start, 10, ttl)
	}

	events, expired := q.drain(start.Add(ttl+time.Second), ttl)
	if len(events) != 0 {
		t.Fatalf("expected empty drain, got %d events", len(events))
	}
	if expired != 2 {
		t.Fatalf("expected 2 expirations, got %d", expired)
	}
}

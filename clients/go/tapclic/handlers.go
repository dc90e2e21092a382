package tapclic

import (
	"encoding/json"
	"reflect"
	"sync"
)

// Handler is a callback invoked with the payload of a received event.
type Handler func(payload json.RawMessage)

// handlerRegistry maps event names to callback sets. Registering the same
// function for the same event twice is a no-op, so handlers re-registered
// after a reconnect never fire twice per event.
type handlerRegistry struct {
	mu       sync.Mutex
	handlers map[string][]handlerEntry
}

type handlerEntry struct {
	fn  Handler
	key uintptr
}

func newHandlerRegistry() *handlerRegistry {
	return &handlerRegistry{handlers: make(map[string][]handlerEntry)}
}

func (r *handlerRegistry) add(event string, fn Handler) {
	if fn == nil {
		return
	}
	key := reflect.ValueOf(fn).Pointer()

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, e := range r.handlers[event] {
		if e.key == key {
			return
		}
	}
	r.handlers[event] = append(r.handlers[event], handlerEntry{fn: fn, key: key})
}

func (r *handlerRegistry) remove(event string, fn Handler) {
	if fn == nil {
		return
	}
	key := reflect.ValueOf(fn).Pointer()

	r.mu.Lock()
	defer r.mu.Unlock()

	entries := r.handlers[event]
	for i, e := range entries {
		if e.key == key {
			r.handlers[event] = append(entries[:i:i], entries[i+1:]...)
			return
		}
	}
}

// dispatch invokes every handler registered for the event, in registration
// order, on the caller's goroutine.
func (r *handlerRegistry) dispatch(event string, payload json.RawMessage) {
	r.mu.Lock()
	entries := append([]handlerEntry(nil), r.handlers[event]...)
	r.mu.Unlock()

	for _, e := range entries {
		e.fn(payload)
	}
}

package relay

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/djesus888/Tapclic-sub000/internal/auth"
	"github.com/djesus888/Tapclic-sub000/internal/metrics"
)

// TokenVerifier validates a bearer credential and returns the identity it
// encodes. Satisfied by *auth.Verifier.
type TokenVerifier interface {
	Verify(token string) (auth.Identity, error)
}

// DeliveryResult reports how the dispatcher handled an event.
type DeliveryResult int

const (
	// DeliveredLive means the event was pushed to at least one live connection.
	DeliveredLive DeliveryResult = iota
	// Queued means no live connection was present and the event was buffered.
	Queued
)

func (r DeliveryResult) String() string {
	if r == DeliveredLive {
		return "live"
	}
	return "queued"
}

// Config holds the hub's pending-queue bounds. Now is injectable for tests
// and defaults to time.Now.
type Config struct {
	MaxPending int
	PendingTTL time.Duration
	Now        func() time.Time
}

// Hub owns all shared relay state: room membership and per-room pending
// queues. Every mutation goes through the hub mutex; enqueue and drain are
// in-memory only and never block on I/O.
type Hub struct {
	mu      sync.Mutex
	conns   map[*Conn]struct{}
	rooms   map[string]map[*Conn]struct{}
	pending map[string]*pendingQueue

	verifier   TokenVerifier
	maxPending int
	ttl        time.Duration
	now        func() time.Time
	logger     zerolog.Logger
}

// Stats is a point-in-time snapshot of hub state.
type Stats struct {
	Connections   int `json:"connections"`
	Rooms         int `json:"rooms"`
	PendingRooms  int `json:"pending_rooms"`
	PendingEvents int `json:"pending_events"`
}

// NewHub creates a hub with the given pending-queue bounds.
func NewHub(verifier TokenVerifier, cfg Config, logger zerolog.Logger) *Hub {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Hub{
		conns:      make(map[*Conn]struct{}),
		rooms:      make(map[string]map[*Conn]struct{}),
		pending:    make(map[string]*pendingQueue),
		verifier:   verifier,
		maxPending: cfg.MaxPending,
		ttl:        cfg.PendingTTL,
		now:        now,
		logger:     logger,
	}
}

// Register records an authenticated connection and joins it to its primary
// identity room, flushing any events queued for that room.
func (h *Hub) Register(c *Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.conns[c] = struct{}{}
	metrics.ConnectionsOpen.Inc()
	h.joinLocked(c, c.Identity().Room())

	h.logger.Info().
		Str("conn_id", c.ID()).
		Str("room", c.Identity().Room()).
		Msg("connection registered")
}

// Unregister removes a connection from every room it belongs to. Rooms left
// empty disappear; their pending queues stay until drained or evicted.
func (h *Hub) Unregister(c *Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.conns[c]; !ok {
		return
	}
	delete(h.conns, c)
	metrics.ConnectionsOpen.Dec()

	for room := range c.rooms {
		h.leaveLocked(c, room)
	}

	h.logger.Info().Str("conn_id", c.ID()).Msg("connection unregistered")
}

// Join adds the connection to an ad-hoc room and flushes that room's
// pending queue to the joining connection only.
func (h *Hub) Join(c *Conn, room string) {
	if room == "" {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.joinLocked(c, room)
}

// RoomHasLiveMembers reports whether at least one live connection is
// currently joined to the room.
func (h *Hub) RoomHasLiveMembers(room string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.rooms[room]) > 0
}

// Deliver routes an event to a room: pushed immediately to every live member
// if any exist, otherwise appended to the room's pending queue under the
// eviction policy. The caller cannot tell whether any client actually
// received it; delivery is best-effort by contract.
func (h *Hub) Deliver(room, name string, payload json.RawMessage) DeliveryResult {
	h.mu.Lock()
	defer h.mu.Unlock()

	members := h.rooms[room]
	if len(members) > 0 {
		frame := Frame{Event: name, Payload: payload}
		for c := range members {
			h.pushLocked(c, frame)
		}
		metrics.EventsDelivered.WithLabelValues("live").Inc()
		return DeliveredLive
	}

	q := h.pending[room]
	if q == nil {
		q = &pendingQueue{}
		h.pending[room] = q
	}
	evt := Event{Name: name, Room: room, Payload: payload, CreatedAt: h.now()}
	expired, overflowed := q.add(evt, h.now(), h.maxPending, h.ttl)
	h.recordEvictions(room, expired, overflowed)

	metrics.EventsDelivered.WithLabelValues("queued").Inc()
	return Queued
}

// Migrate moves a connection to a new identity after an in-band credential
// refresh: leave the old primary room, join the new one, never leaving the
// connection in neither. Ad-hoc room memberships are preserved.
func (h *Hub) Migrate(c *Conn, identity auth.Identity) {
	old := c.Identity()
	if old == identity {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	h.leaveLocked(c, old.Room())
	c.setIdentity(identity)
	h.joinLocked(c, identity.Room())

	h.logger.Info().
		Str("conn_id", c.ID()).
		Str("from", old.Room()).
		Str("to", identity.Room()).
		Msg("connection migrated")
}

// Snapshot returns current hub counters for the stats endpoint.
func (h *Hub) Snapshot() Stats {
	h.mu.Lock()
	defer h.mu.Unlock()

	s := Stats{
		Connections:  len(h.conns),
		Rooms:        len(h.rooms),
		PendingRooms: len(h.pending),
	}
	for _, q := range h.pending {
		s.PendingEvents += q.len()
	}
	return s
}

// joinLocked adds membership and replays the room's pending queue to the
// joining connection. If two connections for the same room join
// concurrently, whichever acquires the lock first receives the replay;
// pending delivery is best-effort, keyed by room, not by connection.
func (h *Hub) joinLocked(c *Conn, room string) {
	members := h.rooms[room]
	if members == nil {
		members = make(map[*Conn]struct{})
		h.rooms[room] = members
	}
	members[c] = struct{}{}
	c.rooms[room] = struct{}{}

	q := h.pending[room]
	if q == nil {
		return
	}
	events, expired := q.drain(h.now(), h.ttl)
	delete(h.pending, room)
	h.recordEvictions(room, expired, 0)

	for _, evt := range events {
		h.pushLocked(c, Frame{Event: evt.Name, Payload: evt.Payload})
	}
	if len(events) > 0 {
		h.logger.Debug().
			Str("room", room).
			Int("events", len(events)).
			Msg("pending queue flushed")
	}
}

func (h *Hub) leaveLocked(c *Conn, room string) {
	if members := h.rooms[room]; members != nil {
		delete(members, c)
		if len(members) == 0 {
			delete(h.rooms, room)
		}
	}
	delete(c.rooms, room)
}

// pushLocked hands a frame to the connection's writer. A dead or saturated
// connection loses the frame; the failure is logged and never propagates to
// the producer.
func (h *Hub) pushLocked(c *Conn, frame Frame) {
	select {
	case c.send <- frame:
	default:
		metrics.DroppedWrites.Inc()
		h.logger.Warn().
			Str("conn_id", c.ID()).
			Str("event", frame.Event).
			Msg("dropped write to slow or dead connection")
	}
}

func (h *Hub) recordEvictions(room string, expired, overflowed int) {
	if expired > 0 {
		metrics.PendingEvicted.WithLabelValues("ttl").Add(float64(expired))
		h.logger.Warn().Str("room", room).Int("count", expired).Msg("pending events expired")
	}
	if overflowed > 0 {
		metrics.PendingEvicted.WithLabelValues("overflow").Add(float64(overflowed))
		h.logger.Warn().Str("room", room).Int("count", overflowed).Msg("pending queue overflow, oldest dropped")
	}
}

// Package relay implements the in-memory event relay core: live connections,
// room membership and per-room pending queues.
package relay

import (
	"encoding/json"
	"fmt"
	"time"
)

// Event names reserved by the relay protocol. Producer-defined names
// (request_updated, open_rating_modal, ...) pass through untouched.
const (
	EventNotification = "new-notification"
	EventAuthError    = "auth_error"
	EventError        = "error"
	EventAck          = "ack"

	// Client-to-server control events.
	EventJoinRoom     = "join-room"
	EventRefreshToken = "refresh-token"
)

// Event is an opaque named payload addressed to a room. The relay routes the
// payload verbatim and never interprets its fields. Once enqueued to a
// pending queue an Event is immutable.
type Event struct {
	Name      string
	Room      string
	Payload   json.RawMessage
	CreatedAt time.Time
}

// Frame is the wire envelope exchanged over a websocket session, in both
// directions. Ack carries a correlation id for control events that request
// an acknowledgment (refresh-token).
type Frame struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Ack     int64           `json:"ack,omitempty"`
}

// RoomKey derives the primary room for a recipient identity. This is the
// sole addressing scheme beyond explicitly joined ad-hoc rooms.
func RoomKey(role string, id int64) string {
	return fmt.Sprintf("%s_%d", role, id)
}

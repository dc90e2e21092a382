package handlers

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/djesus888/Tapclic-sub000/internal/relay"
)

// EmitEventRequest is the named-event ingress shape used for state
// transition signals (request_updated, open_rating_modal, ...).
type EmitEventRequest struct {
	ReceiverID   int64           `json:"receiver_id"`
	ReceiverRole string          `json:"receiver_role"`
	Event        string          `json:"event"`
	Payload      json.RawMessage `json:"payload"`
}

// reservedEvents are relay protocol names a producer may not emit.
var reservedEvents = map[string]bool{
	relay.EventAuthError:    true,
	relay.EventError:        true,
	relay.EventAck:          true,
	relay.EventJoinRoom:     true,
	relay.EventRefreshToken: true,
}

// EmitEvent handles the named-event ingress shape. The payload is routed
// verbatim; the relay never inspects its fields.
func (h *Handler) EmitEvent(w http.ResponseWriter, r *http.Request) {
	var req EmitEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if req.ReceiverID == 0 || req.ReceiverRole == "" {
		h.Error(w, http.StatusBadRequest, "receiver_id and receiver_role are required")
		return
	}
	req.Event = strings.TrimSpace(req.Event)
	if req.Event == "" {
		h.Error(w, http.StatusBadRequest, "event is required")
		return
	}
	if reservedEvents[req.Event] {
		h.Error(w, http.StatusUnprocessableEntity, "event name is reserved")
		return
	}

	room := relay.RoomKey(req.ReceiverRole, req.ReceiverID)
	result := h.hub.Deliver(room, req.Event, req.Payload)

	h.logger.Debug().
		Str("room", room).
		Str("event", req.Event).
		Str("mode", result.String()).
		Msg("event accepted")

	h.JSON(w, http.StatusOK, EmitResponse{
		Status:    "enviado",
		Room:      room,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

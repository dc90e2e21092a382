package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/djesus888/Tapclic-sub000/internal/relay"
)

// EmitResponse is the envelope returned for every accepted ingress emit.
// It is identical whether delivery was live or queued: the producer cannot
// distinguish the two outcomes and must not treat it as client receipt.
type EmitResponse struct {
	Status    string `json:"status"`
	Room      string `json:"room"`
	Timestamp string `json:"timestamp"`
}

// SendNotificationRequest is the classic alert-style ingress shape.
type SendNotificationRequest struct {
	SenderID     int64           `json:"sender_id"`
	ReceiverID   int64           `json:"receiver_id"`
	ReceiverRole string          `json:"receiver_role"`
	Title        string          `json:"title"`
	Message      string          `json:"message"`
	DataJSON     json.RawMessage `json:"data_json,omitempty"`
}

// notificationPayload is what the recipient's client receives.
type notificationPayload struct {
	ID           string          `json:"id"`
	SenderID     int64           `json:"sender_id,omitempty"`
	ReceiverID   int64           `json:"receiver_id"`
	ReceiverRole string          `json:"receiver_role"`
	Title        string          `json:"title"`
	Message      string          `json:"message"`
	IsRead       bool            `json:"is_read"`
	CreatedAt    string          `json:"created_at"`
	DataJSON     json.RawMessage `json:"data_json,omitempty"`
}

// SendNotification handles the classic notification ingress shape and
// dispatches it as a new-notification event.
func (h *Handler) SendNotification(w http.ResponseWriter, r *http.Request) {
	var req SendNotificationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if req.ReceiverID == 0 || req.ReceiverRole == "" {
		h.Error(w, http.StatusBadRequest, "receiver_id and receiver_role are required")
		return
	}
	req.Title = sanitizeText(req.Title, 200)
	req.Message = sanitizeText(req.Message, 2000)
	if req.Title == "" || req.Message == "" {
		h.Error(w, http.StatusBadRequest, "title and message are required")
		return
	}

	payload, err := json.Marshal(notificationPayload{
		ID:           uuid.NewString(),
		SenderID:     req.SenderID,
		ReceiverID:   req.ReceiverID,
		ReceiverRole: req.ReceiverRole,
		Title:        req.Title,
		Message:      req.Message,
		IsRead:       false,
		CreatedAt:    time.Now().UTC().Format(time.RFC3339),
		DataJSON:     req.DataJSON,
	})
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "failed to encode notification")
		return
	}

	room := relay.RoomKey(req.ReceiverRole, req.ReceiverID)
	result := h.hub.Deliver(room, relay.EventNotification, payload)

	h.logger.Debug().
		Str("room", room).
		Str("mode", result.String()).
		Msg("notification accepted")

	h.JSON(w, http.StatusOK, EmitResponse{
		Status:    "enviado",
		Room:      room,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

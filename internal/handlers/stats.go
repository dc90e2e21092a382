package handlers

import (
	"net/http"
	"time"
)

// StatsResponse reports the relay's live state for operational visibility.
type StatsResponse struct {
	Connections   int    `json:"connections"`
	Rooms         int    `json:"rooms"`
	PendingRooms  int    `json:"pending_rooms"`
	PendingEvents int    `json:"pending_events"`
	Timestamp     string `json:"timestamp"`
}

// Stats returns a snapshot of hub counters.
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	snapshot := h.hub.Snapshot()

	h.JSON(w, http.StatusOK, StatsResponse{
		Connections:   snapshot.Connections,
		Rooms:         snapshot.Rooms,
		PendingRooms:  snapshot.PendingRooms,
		PendingEvents: snapshot.PendingEvents,
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
	})
}

package handlers

import (
	"encoding/json"
	"net/http"
	"strings"
	"unicode"

	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/djesus888/Tapclic-sub000/internal/auth"
	"github.com/djesus888/Tapclic-sub000/internal/relay"
)

// Handler contains shared dependencies for all HTTP handlers.
type Handler struct {
	hub      *relay.Hub
	verifier *auth.Verifier
	redis    *redis.Client // optional, health check only
	upgrader websocket.Upgrader
	logger   zerolog.Logger
}

// NewHandler creates a new Handler with the given dependencies.
func NewHandler(hub *relay.Hub, verifier *auth.Verifier, redisClient *redis.Client, allowedOrigins []string, logger zerolog.Logger) *Handler {
	return &Handler{
		hub:      hub,
		verifier: verifier,
		redis:    redisClient,
		upgrader: newUpgrader(allowedOrigins),
		logger:   logger,
	}
}

// JSON sends a JSON response with the given status code.
func (h *Handler) JSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// Error sends a JSON error response with the given status code.
func (h *Handler) Error(w http.ResponseWriter, status int, message string) {
	h.JSON(w, status, map[string]string{"error": message})
}

// sanitizeText trims and limits a display string, removing control characters.
func sanitizeText(s string, max int) string {
	s = strings.TrimSpace(s)

	// Remove control characters
	s = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, s)

	if len(s) > max {
		s = s[:max]
	}

	return s
}

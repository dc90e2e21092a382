package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"

	"github.com/djesus888/Tapclic-sub000/internal/auth"
	"github.com/djesus888/Tapclic-sub000/internal/metrics"
	"github.com/djesus888/Tapclic-sub000/internal/relay"
)

// ServeWS upgrades the connection and runs the authentication gate. An
// invalid or missing credential gets an auth_error frame and the session is
// refused before it is ever registered; a valid one joins the recipient's
// primary room and immediately receives any pending replay.
func (h *Handler) ServeWS(w http.ResponseWriter, r *http.Request) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error
		h.logger.Debug().Err(err).Msg("websocket upgrade failed")
		return
	}

	identity, err := h.verifier.Verify(bearerToken(r))
	if err != nil {
		metrics.AuthFailures.WithLabelValues("handshake").Inc()
		h.logger.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("handshake rejected")

		msg := "invalid token"
		if errors.Is(err, auth.ErrNoToken) {
			msg = "missing token"
		} else if errors.Is(err, auth.ErrTokenExpired) {
			msg = "token expired"
		}
		ws.WriteJSON(relay.Frame{Event: relay.EventAuthError, Payload: relay.ErrorPayload(msg)})
		ws.Close()
		return
	}

	conn := relay.NewConn(ws, identity, h.hub, h.logger)
	conn.Serve()
}

// bearerToken extracts the handshake credential from the auth query
// parameter or the Authorization header.
func bearerToken(r *http.Request) string {
	if tok := r.URL.Query().Get("token"); tok != "" {
		return tok
	}
	header := r.Header.Get("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimPrefix(header, "Bearer ")
	}
	return ""
}

func newUpgrader(allowedOrigins []string) websocket.Upgrader {
	allowAll := false
	origins := make(map[string]bool)
	for _, o := range allowedOrigins {
		if o == "*" {
			allowAll = true
		}
		origins[o] = true
	}

	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if allowAll {
				return true
			}
			origin := r.Header.Get("Origin")
			// Non-browser clients send no Origin header
			return origin == "" || origins[origin]
		},
	}
}

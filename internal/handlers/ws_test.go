package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/djesus888/Tapclic-sub000/internal/auth"
	"github.com/djesus888/Tapclic-sub000/internal/relay"
)

func newWSServer(t *testing.T) (*httptest.Server, *Handler, *relay.Hub) {
	t.Helper()
	h, hub := newTestHandler(t)
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", h.ServeWS)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, h, hub
}

func wsURL(srv *httptest.Server, token string) string {
	u := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	if token != "" {
		u += "?token=" + token
	}
	return u
}

func dialWS(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { ws.Close() })
	return ws
}

func readFrame(t *testing.T, ws *websocket.Conn) relay.Frame {
	t.Helper()
	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	var f relay.Frame
	if err := ws.ReadJSON(&f); err != nil {
		t.Fatalf("read frame: %v", err)
	}
	return f
}

func signToken(t *testing.T, h *Handler, id int64, role string, ttl time.Duration) string {
	t.Helper()
	token, err := h.verifier.Sign(auth.Identity{ID: id, Role: role}, ttl)
	if err != nil {
		t.Fatal(err)
	}
	return token
}

func waitFor(t *testing.T, desc string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", desc)
}

func errorMessage(t *testing.T, payload json.RawMessage) string {
	t.Helper()
	var body struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(payload, &body); err != nil {
		t.Fatal(err)
	}
	return body.Message
}

func TestHandshakeWithoutToken(t *testing.T) {
	srv, _, hub := newWSServer(t)

	ws := dialWS(t, wsURL(srv, ""))
	f := readFrame(t, ws)

	if f.Event != relay.EventAuthError {
		t.Fatalf("expected auth_error, got %q", f.Event)
	}
	if msg := errorMessage(t, f.Payload); msg != "missing token" {
		t.Fatalf("expected missing token, got %q", msg)
	}
	if s := hub.Snapshot(); s.Connections != 0 {
		t.Fatalf("rejected handshake must never register, got %d connections", s.Connections)
	}
}

func TestHandshakeWithExpiredToken(t *testing.T) {
	srv, h, hub := newWSServer(t)
	token := signToken(t, h, 5, "user", -time.Minute)

	ws := dialWS(t, wsURL(srv, token))
	f := readFrame(t, ws)

	if f.Event != relay.EventAuthError {
		t.Fatalf("expected auth_error, got %q", f.Event)
	}
	if msg := errorMessage(t, f.Payload); msg != "token expired" {
		t.Fatalf("expected token expired, got %q", msg)
	}
	if s := hub.Snapshot(); s.Connections != 0 {
		t.Fatalf("rejected handshake must never register, got %d connections", s.Connections)
	}
}

func TestQueuedNotificationReplayedOnConnect(t *testing.T) {
	srv, h, hub := newWSServer(t)

	// Emit while the recipient is offline
	rec := postJSON(t, h.SendNotification, `{
		"receiver_id": 5,
		"receiver_role": "user",
		"title": "X",
		"message": "queued while away"
	}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("ingress failed: %d", rec.Code)
	}

	token := signToken(t, h, 5, "user", time.Hour)
	ws := dialWS(t, wsURL(srv, token))

	f := readFrame(t, ws)
	if f.Event != relay.EventNotification {
		t.Fatalf("expected new-notification, got %q", f.Event)
	}
	var payload struct {
		Title string `json:"title"`
	}
	if err := json.Unmarshal(f.Payload, &payload); err != nil {
		t.Fatal(err)
	}
	if payload.Title != "X" {
		t.Fatalf("expected title X, got %q", payload.Title)
	}

	waitFor(t, "queue drained", func() bool { return hub.Snapshot().PendingEvents == 0 })
}

func TestLiveFanOutToAllDevices(t *testing.T) {
	srv, h, hub := newWSServer(t)
	token := signToken(t, h, 9, "provider", time.Hour)

	first := dialWS(t, wsURL(srv, token))
	second := dialWS(t, wsURL(srv, token))
	waitFor(t, "both devices registered", func() bool { return hub.Snapshot().Connections == 2 })

	rec := postJSON(t, h.EmitEvent, `{
		"receiver_id": 9,
		"receiver_role": "provider",
		"event": "request_updated",
		"payload": {"request_id": 77}
	}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("ingress failed: %d", rec.Code)
	}

	for _, ws := range []*websocket.Conn{first, second} {
		f := readFrame(t, ws)
		if f.Event != "request_updated" {
			t.Fatalf("expected request_updated, got %q", f.Event)
		}
	}
}

func TestRefreshTokenMigratesRooms(t *testing.T) {
	srv, h, hub := newWSServer(t)
	token := signToken(t, h, 5, "user", time.Hour)

	ws := dialWS(t, wsURL(srv, token))
	waitFor(t, "registered", func() bool { return hub.Snapshot().Connections == 1 })

	rotated := signToken(t, h, 9, "provider", time.Hour)
	payload, _ := json.Marshal(map[string]string{"token": rotated})
	if err := ws.WriteJSON(relay.Frame{Event: relay.EventRefreshToken, Payload: payload, Ack: 1}); err != nil {
		t.Fatal(err)
	}

	f := readFrame(t, ws)
	if f.Event != relay.EventAck || f.Ack != 1 {
		t.Fatalf("expected ack 1, got %+v", f)
	}
	var ack struct {
		OK bool `json:"ok"`
	}
	if err := json.Unmarshal(f.Payload, &ack); err != nil {
		t.Fatal(err)
	}
	if !ack.OK {
		t.Fatal("expected refresh to be accepted")
	}

	waitFor(t, "migrated", func() bool { return hub.RoomHasLiveMembers("provider_9") })
	if hub.RoomHasLiveMembers("user_5") {
		t.Fatal("old primary room should be empty after migration")
	}

	// Events for the new identity now reach the session
	rec := postJSON(t, h.EmitEvent, `{"receiver_id":9,"receiver_role":"provider","event":"request_updated"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("ingress failed: %d", rec.Code)
	}
	if f := readFrame(t, ws); f.Event != "request_updated" {
		t.Fatalf("expected request_updated after migration, got %q", f.Event)
	}
}

func TestRefreshTokenRejectionKeepsSession(t *testing.T) {
	srv, h, hub := newWSServer(t)
	token := signToken(t, h, 5, "user", time.Hour)

	ws := dialWS(t, wsURL(srv, token))
	waitFor(t, "registered", func() bool { return hub.Snapshot().Connections == 1 })

	payload, _ := json.Marshal(map[string]string{"token": "garbage"})
	if err := ws.WriteJSON(relay.Frame{Event: relay.EventRefreshToken, Payload: payload, Ack: 1}); err != nil {
		t.Fatal(err)
	}

	first := readFrame(t, ws)
	if first.Event != relay.EventAuthError {
		t.Fatalf("expected auth_error, got %q", first.Event)
	}
	second := readFrame(t, ws)
	if second.Event != relay.EventAck || second.Ack != 1 {
		t.Fatalf("expected ack 1, got %+v", second)
	}
	var ack struct {
		OK bool `json:"ok"`
	}
	if err := json.Unmarshal(second.Payload, &ack); err != nil {
		t.Fatal(err)
	}
	if ack.OK {
		t.Fatal("expected refresh rejection")
	}

	// Session survives with its previous identity intact
	if s := hub.Snapshot(); s.Connections != 1 {
		t.Fatalf("failed refresh must not drop the session, got %d connections", s.Connections)
	}
	rec := postJSON(t, h.EmitEvent, `{"receiver_id":5,"receiver_role":"user","event":"request_updated"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("ingress failed: %d", rec.Code)
	}
	if f := readFrame(t, ws); f.Event != "request_updated" {
		t.Fatalf("expected request_updated on original identity, got %q", f.Event)
	}
}

func TestUnknownEventGetsErrorFrame(t *testing.T) {
	srv, h, hub := newWSServer(t)
	token := signToken(t, h, 5, "user", time.Hour)

	ws := dialWS(t, wsURL(srv, token))
	waitFor(t, "registered", func() bool { return hub.Snapshot().Connections == 1 })

	if err := ws.WriteJSON(relay.Frame{Event: "bogus"}); err != nil {
		t.Fatal(err)
	}
	f := readFrame(t, ws)
	if f.Event != relay.EventError {
		t.Fatalf("expected error frame, got %q", f.Event)
	}
	if s := hub.Snapshot(); s.Connections != 1 {
		t.Fatal("unknown event must not close the session")
	}
}

func TestJoinRoomReceivesAdHocEvents(t *testing.T) {
	srv, h, hub := newWSServer(t)
	token := signToken(t, h, 5, "user", time.Hour)

	ws := dialWS(t, wsURL(srv, token))
	waitFor(t, "registered", func() bool { return hub.Snapshot().Connections == 1 })

	payload, _ := json.Marshal(map[string]string{"room": "chat_42"})
	if err := ws.WriteJSON(relay.Frame{Event: relay.EventJoinRoom, Payload: payload}); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "joined chat_42", func() bool { return hub.RoomHasLiveMembers("chat_42") })

	hub.Deliver("chat_42", "new-message", json.RawMessage(`{"body":"hola"}`))
	if f := readFrame(t, ws); f.Event != "new-message" {
		t.Fatalf("expected new-message, got %q", f.Event)
	}
}

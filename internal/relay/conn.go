package relay

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/djesus888/Tapclic-sub000/internal/auth"
	"github.com/djesus888/Tapclic-sub000/internal/metrics"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 30 * time.Second // must be shorter than pongWait
	maxFrameSize   = 8 * 1024
	sendBufferSize = 256
)

// Conn is one live websocket session for an authenticated recipient. A
// recipient may hold any number of simultaneous connections (devices, tabs);
// each is registered independently. Frames are written by a single writer
// goroutine consuming the send channel.
type Conn struct {
	id     string
	ws     *websocket.Conn
	send   chan Frame
	hub    *Hub
	logger zerolog.Logger

	mu       sync.Mutex
	identity auth.Identity

	// rooms is owned by the hub and only touched under the hub mutex.
	rooms map[string]struct{}

	closeOnce sync.Once
	done      chan struct{}
}

// NewConn wraps an upgraded websocket whose handshake already passed the
// authentication gate.
func NewConn(ws *websocket.Conn, identity auth.Identity, hub *Hub, logger zerolog.Logger) *Conn {
	id := uuid.NewString()
	return &Conn{
		id:       id,
		ws:       ws,
		send:     make(chan Frame, sendBufferSize),
		hub:      hub,
		logger:   logger.With().Str("conn_id", id).Logger(),
		identity: identity,
		rooms:    make(map[string]struct{}),
		done:     make(chan struct{}),
	}
}

// ID returns the unique connection id.
func (c *Conn) ID() string { return c.id }

// Identity returns the connection's current identity. It can change during
// the session via an in-band credential refresh.
func (c *Conn) Identity() auth.Identity {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.identity
}

func (c *Conn) setIdentity(identity auth.Identity) {
	c.mu.Lock()
	c.identity = identity
	c.mu.Unlock()
}

// Serve registers the connection with the hub and runs the read and write
// pumps. It blocks until the transport closes, then unregisters.
func (c *Conn) Serve() {
	c.hub.Register(c)
	go c.writePump()
	c.readPump()
}

func (c *Conn) readPump() {
	defer func() {
		c.hub.Unregister(c)
		c.close()
	}()

	c.ws.SetReadLimit(maxFrameSize)
	c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		c.ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		var frame Frame
		if err := c.ws.ReadJSON(&frame); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Debug().Err(err).Msg("read failed")
			}
			return
		}
		c.handleFrame(frame)
	}
}

func (c *Conn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case frame := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteJSON(frame); err != nil {
				metrics.DroppedWrites.Inc()
				c.logger.Debug().Err(err).Str("event", frame.Event).Msg("write failed")
				return
			}
		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}

// handleFrame processes a client-to-server control event. Unknown events
// are answered with an error frame rather than closing the session.
func (c *Conn) handleFrame(frame Frame) {
	switch frame.Event {
	case EventJoinRoom:
		var req struct {
			Room string `json:"room"`
		}
		if err := json.Unmarshal(frame.Payload, &req); err != nil || req.Room == "" {
			c.sendError("join-room requires a room name")
			return
		}
		c.hub.Join(c, req.Room)

	case EventRefreshToken:
		var req struct {
			Token string `json:"token"`
		}
		if err := json.Unmarshal(frame.Payload, &req); err != nil {
			c.sendError("refresh-token requires a token")
			return
		}
		c.refreshToken(req.Token, frame.Ack)

	default:
		c.sendError("unknown event: " + frame.Event)
	}
}

// refreshToken verifies a rotated credential in-band. A failed verification
// is reported back without dropping the connection; repeated failures are
// the client's problem to act on. A verified token that decodes to a new
// identity migrates the connection between primary rooms.
func (c *Conn) refreshToken(token string, ack int64) {
	identity, err := c.hub.verifier.Verify(token)
	if err != nil {
		metrics.AuthFailures.WithLabelValues("refresh").Inc()
		c.logger.Warn().Err(err).Msg("token refresh rejected")
		c.enqueue(Frame{Event: EventAuthError, Payload: ErrorPayload("token refresh failed")})
		if ack != 0 {
			c.enqueue(Frame{Event: EventAck, Ack: ack, Payload: ackPayload(false, "token refresh failed")})
		}
		return
	}

	c.hub.Migrate(c, identity)
	if ack != 0 {
		c.enqueue(Frame{Event: EventAck, Ack: ack, Payload: ackPayload(true, "")})
	}
}

// enqueue hands a frame to the writer without blocking the reader.
func (c *Conn) enqueue(frame Frame) {
	select {
	case c.send <- frame:
	default:
		metrics.DroppedWrites.Inc()
		c.logger.Warn().Str("event", frame.Event).Msg("send buffer full, frame dropped")
	}
}

func (c *Conn) sendError(msg string) {
	c.enqueue(Frame{Event: EventError, Payload: ErrorPayload(msg)})
}

func (c *Conn) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.ws.Close()
	})
}

// ErrorPayload builds the payload shape used by error and auth_error frames.
func ErrorPayload(msg string) json.RawMessage {
	b, _ := json.Marshal(map[string]string{"message": msg})
	return b
}

func ackPayload(ok bool, msg string) json.RawMessage {
	payload := map[string]interface{}{"ok": ok}
	if msg != "" {
		payload["error"] = msg
	}
	b, _ := json.Marshal(payload)
	return b
}

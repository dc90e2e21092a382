// Package tapclic provides the resilient Go client for the Tapclic
// real-time relay: transparent reconnection with jittered backoff, an
// outbox for emits made while offline, and idempotent handler registration.
package tapclic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// State is the connection lifecycle state.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

var (
	// ErrClosed is returned after Close has been called.
	ErrClosed = errors.New("tapclic: client closed")
	// ErrRefreshRejected is returned when the relay refuses a rotated token.
	ErrRefreshRejected = errors.New("tapclic: token refresh rejected")
)

const (
	defaultBackoffBase      = 500 * time.Millisecond
	defaultBackoffMax       = 30 * time.Second
	defaultOutboxMaxAge     = 5 * time.Minute
	defaultOutboxMaxRetries = 5
	writeWait               = 10 * time.Second
	readWait                = 90 * time.Second // server pings every 30s
)

// frame mirrors the relay's wire envelope.
type frame struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Ack     int64           `json:"ack,omitempty"`
}

// Options configures a Client.
type Options struct {
	URL   string // websocket endpoint, e.g. ws://localhost:8080/ws
	Token string // bearer credential presented at every handshake

	BackoffBase      time.Duration // first retry delay (default 500ms)
	BackoffMax       time.Duration // retry delay ceiling (default 30s)
	OutboxMaxAge     time.Duration // drop queued emits older than this (default 5m)
	OutboxMaxRetries int           // drop queued emits after this many flush attempts (default 5)

	Dialer *websocket.Dialer
	Logger zerolog.Logger
}

// Client is a relay consumer that survives relay restarts and network
// blips. Reconnection runs with exponential backoff and jitter, uncapped:
// a long partition must not exhaust retries.
type Client struct {
	opts     Options
	dialer   *websocket.Dialer
	logger   zerolog.Logger
	handlers *handlerRegistry
	outbox   *outbox

	mu     sync.Mutex
	state  State
	token  string
	ws     *websocket.Conn
	ackSeq int64
	acks   map[int64]chan error

	writeMu sync.Mutex

	started   bool
	done      chan struct{}
	closeOnce sync.Once
}

// NewClient creates a client. Call Connect to start the connection manager.
func NewClient(opts Options) *Client {
	if opts.BackoffBase <= 0 {
		opts.BackoffBase = defaultBackoffBase
	}
	if opts.BackoffMax <= 0 {
		opts.BackoffMax = defaultBackoffMax
	}
	if opts.OutboxMaxAge <= 0 {
		opts.OutboxMaxAge = defaultOutboxMaxAge
	}
	if opts.OutboxMaxRetries <= 0 {
		opts.OutboxMaxRetries = defaultOutboxMaxRetries
	}
	dialer := opts.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}

	return &Client{
		opts:     opts,
		dialer:   dialer,
		logger:   opts.Logger,
		handlers: newHandlerRegistry(),
		outbox:   newOutbox(opts.OutboxMaxAge, opts.OutboxMaxRetries, nil),
		token:    opts.Token,
		acks:     make(map[int64]chan error),
		done:     make(chan struct{}),
	}
}

// State returns the current lifecycle state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// On registers a callback for a named event. Registering the same function
// for the same event twice is a no-op.
func (c *Client) On(event string, fn Handler) {
	c.handlers.add(event, fn)
}

// Off removes a previously registered callback.
func (c *Client) Off(event string, fn Handler) {
	c.handlers.remove(event, fn)
}

// Connect starts the connection manager goroutine. It returns immediately;
// delivery begins once the handshake succeeds. Calling Connect twice is a
// no-op.
func (c *Client) Connect(ctx context.Context) {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return
	}
	c.started = true
	c.mu.Unlock()

	go c.run(ctx)
}

// Close tears the connection down and stops reconnecting.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.mu.Lock()
		ws := c.ws
		c.mu.Unlock()
		if ws != nil {
			ws.Close()
		}
	})
}

// Emit sends a named event to the relay. While disconnected (or if the
// write fails) the emit is captured into the outbox and replayed on
// reconnect rather than discarded.
func (c *Client) Emit(event string, payload interface{}) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("tapclic: encode payload: %w", err)
	}

	c.mu.Lock()
	ws, state := c.ws, c.state
	if state != StateConnected || ws == nil {
		// Enqueued under the state mutex so the connect path can flip to
		// connected only once no emit can still land in the outbox.
		c.outbox.add(event, raw)
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	if err := c.writeFrame(ws, frame{Event: event, Payload: raw}); err != nil {
		c.logger.Debug().Err(err).Str("event", event).Msg("emit write failed, queued to outbox")
		c.outbox.add(event, raw)
	}
	return nil
}

// JoinRoom asks the relay for membership in an ad-hoc room beyond the
// primary identity room.
func (c *Client) JoinRoom(room string) error {
	return c.Emit("join-room", map[string]string{"room": room})
}

// RefreshToken rotates the credential. While connected it is sent in-band
// so the session keeps its pending replay window instead of reconnecting;
// the relay's acknowledgment is awaited. While disconnected the token is
// stored for the next handshake.
func (c *Client) RefreshToken(ctx context.Context, token string) error {
	c.mu.Lock()
	c.token = token
	ws, state := c.ws, c.state
	if state != StateConnected || ws == nil {
		c.mu.Unlock()
		return nil
	}
	c.ackSeq++
	id := c.ackSeq
	ch := make(chan error, 1)
	c.acks[id] = ch
	c.mu.Unlock()

	payload, _ := json.Marshal(map[string]string{"token": token})
	if err := c.writeFrame(ws, frame{Event: "refresh-token", Payload: payload, Ack: id}); err != nil {
		c.dropAck(id)
		return err
	}

	select {
	case err := <-ch:
		return err
	case <-ctx.Done():
		c.dropAck(id)
		return ctx.Err()
	case <-c.done:
		c.dropAck(id)
		return ErrClosed
	}
}

// OutboxLen reports how many emits are waiting for connectivity.
func (c *Client) OutboxLen() int {
	return c.outbox.len()
}

// run is the connection manager: dial, serve, back off, repeat. Retries
// are uncapped.
func (c *Client) run(ctx context.Context) {
	attempt := 0
	for {
		select {
		case <-ctx.Done():
			c.setState(StateDisconnected)
			return
		case <-c.done:
			c.setState(StateDisconnected)
			return
		default:
		}

		c.setState(StateConnecting)
		ws, err := c.dial(ctx)
		if err != nil {
			c.setState(StateDisconnected)
			attempt++
			delay := c.backoff(attempt)
			c.logger.Debug().Err(err).Int("attempt", attempt).Dur("retry_in", delay).Msg("dial failed")
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return
			case <-c.done:
				return
			}
			continue
		}

		attempt = 0
		c.attach(ws)
		c.goOnline(ws)
		c.logger.Debug().Msg("connected")

		c.readLoop(ws)

		c.detach(ws)
		c.setState(StateDisconnected)
		c.logger.Debug().Msg("disconnected")
	}
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	u, err := url.Parse(c.opts.URL)
	if err != nil {
		return nil, err
	}
	q := u.Query()
	q.Set("token", c.currentToken())
	u.RawQuery = q.Encode()

	ws, _, err := c.dialer.DialContext(ctx, u.String(), nil)
	return ws, err
}

func (c *Client) readLoop(ws *websocket.Conn) {
	ws.SetReadDeadline(time.Now().Add(readWait))
	ws.SetPingHandler(func(appData string) error {
		ws.SetReadDeadline(time.Now().Add(readWait))
		return ws.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(writeWait))
	})

	for {
		var f frame
		if err := ws.ReadJSON(&f); err != nil {
			ws.Close()
			return
		}
		ws.SetReadDeadline(time.Now().Add(readWait))

		if f.Event == "ack" && f.Ack != 0 {
			c.resolveAck(f)
			continue
		}
		c.handlers.dispatch(f.Event, f.Payload)
	}
}

// goOnline drains the outbox, then flips the state to connected. Queued
// entries are flushed before new live emits so they keep their original
// order. The empty check and the state flip hold the same mutex as Emit's
// enqueue decision, so an emit racing the flush always lands either on the
// wire or in a later flush iteration, never stranded until the next
// reconnect.
func (c *Client) goOnline(ws *websocket.Conn) {
	for {
		ok := c.flushOutbox(ws)
		c.mu.Lock()
		if !ok {
			// Write failed; the read loop will notice the dead
			// connection and the reconnect path flushes the remainder.
			c.mu.Unlock()
			return
		}
		if c.outbox.len() == 0 {
			c.state = StateConnected
			c.mu.Unlock()
			return
		}
		c.mu.Unlock()
	}
}

func (c *Client) flushOutbox(ws *websocket.Conn) bool {
	entries := c.outbox.take()
	for i, e := range entries {
		if err := c.writeFrame(ws, frame{Event: e.Event, Payload: e.Payload}); err != nil {
			c.logger.Debug().Err(err).Int("remaining", len(entries)-i).Msg("outbox flush interrupted")
			c.outbox.requeue(entries[i:])
			return false
		}
	}
	if len(entries) > 0 {
		c.logger.Debug().Int("count", len(entries)).Msg("outbox flushed")
	}
	return true
}

func (c *Client) writeFrame(ws *websocket.Conn, f frame) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	ws.SetWriteDeadline(time.Now().Add(writeWait))
	return ws.WriteJSON(f)
}

// backoff returns the delay before the given retry attempt: exponential
// from the base, capped, with half-range jitter.
func (c *Client) backoff(attempt int) time.Duration {
	d := c.opts.BackoffBase
	for i := 1; i < attempt && d < c.opts.BackoffMax; i++ {
		d *= 2
	}
	if d > c.opts.BackoffMax {
		d = c.opts.BackoffMax
	}
	half := int64(d / 2)
	if half <= 0 {
		return d
	}
	return time.Duration(half + rand.Int63n(half))
}

func (c *Client) attach(ws *websocket.Conn) {
	c.mu.Lock()
	c.ws = ws
	c.mu.Unlock()
}

func (c *Client) detach(ws *websocket.Conn) {
	c.mu.Lock()
	if c.ws == ws {
		c.ws = nil
	}
	pending := c.acks
	c.acks = make(map[int64]chan error)
	c.mu.Unlock()

	for _, ch := range pending {
		ch <- ErrClosed
	}
}

func (c *Client) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

func (c *Client) currentToken() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.token
}

func (c *Client) resolveAck(f frame) {
	c.mu.Lock()
	ch := c.acks[f.Ack]
	delete(c.acks, f.Ack)
	c.mu.Unlock()
	if ch == nil {
		return
	}

	var result struct {
		OK    bool   `json:"ok"`
		Error string `json:"error"`
	}
	if err := json.Unmarshal(f.Payload, &result); err != nil || !result.OK {
		ch <- ErrRefreshRejected
		return
	}
	ch <- nil
}

func (c *Client) dropAck(id int64) {
	c.mu.Lock()
	delete(c.acks, id)
	c.mu.Unlock()
}

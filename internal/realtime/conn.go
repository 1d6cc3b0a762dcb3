// Package realtime owns the workspace WebSocket: the connection lifecycle,
// the acknowledged room-membership handshake, and the fan-out of decoded
// server events to subscribers.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/parley-chat/parley/internal/metrics"
	"github.com/parley-chat/parley/pkg/chat"
)

const (
	defaultDialTimeout  = 10 * time.Second
	defaultJoinTimeout  = 5 * time.Second
	defaultReconnectMin = time.Second
	defaultReconnectMax = 30 * time.Second
	writeTimeout        = 5 * time.Second
	maxFrameBytes       = 1 << 20
)

// Sentinel errors for connection operations.
var (
	// ErrClosed indicates the Conn was permanently closed.
	ErrClosed = errors.New("realtime: connection closed")

	// ErrNotConnected indicates a frame could not be sent because no
	// socket is up.
	ErrNotConnected = errors.New("realtime: not connected")
)

// State describes the connection lifecycle phase.
type State string

// Connection states. A dropped connection moves to StateDisconnected and
// redials in the background; StateClosed is terminal.
const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateClosed       State = "closed"
)

// Recorder receives protocol-level observations. A nil Recorder is allowed.
type Recorder interface {
	RecordEvent(eventType string)
	RecordInvalidEvent()
	RecordReconnect()
	RecordAck(result string)
}

// Compile-time check that the metrics implementation satisfies Recorder.
var _ Recorder = (*metrics.Metrics)(nil)

type noopRecorder struct{}

func (noopRecorder) RecordEvent(string)  {}
func (noopRecorder) RecordInvalidEvent() {}
func (noopRecorder) RecordReconnect()    {}
func (noopRecorder) RecordAck(string)    {}

// Config holds the WebSocket connection configuration.
type Config struct {
	// URL is the websocket endpoint, e.g. "wss://parley.example.com/ws".
	URL string

	// Token is the bearer token presented on the dial request.
	Token string

	// DialTimeout bounds the websocket handshake. Defaults to 10s.
	DialTimeout time.Duration

	// JoinTimeout bounds the wait for a join acknowledgment. Defaults
	// to 5s.
	JoinTimeout time.Duration

	// ReconnectMin is the first redial delay. Defaults to 1s.
	ReconnectMin time.Duration

	// ReconnectMax caps the redial delay. Defaults to 30s.
	ReconnectMax time.Duration
}

func (c *Config) defaults() {
	if c.DialTimeout <= 0 {
		c.DialTimeout = defaultDialTimeout
	}
	if c.JoinTimeout <= 0 {
		c.JoinTimeout = defaultJoinTimeout
	}
	if c.ReconnectMin <= 0 {
		c.ReconnectMin = defaultReconnectMin
	}
	if c.ReconnectMax <= 0 {
		c.ReconnectMax = defaultReconnectMax
	}
	if c.ReconnectMax < c.ReconnectMin {
		c.ReconnectMax = c.ReconnectMin
	}
}

// Conn owns the single persistent WebSocket to the workspace server. It is
// constructed once at application start, shared by every session, and
// closed at shutdown.
//
// Decoded server events are handed to the Dispatcher synchronously on the
// read goroutine, so subscribers observe them in delivery order. All
// methods are safe for concurrent use.
type Conn struct {
	cfg        Config
	dispatcher *Dispatcher
	logger     *slog.Logger
	rec        Recorder

	mu          sync.Mutex
	state       State
	ws          *websocket.Conn
	pendingAcks map[string]chan bool
	rooms       map[chat.Conversation]struct{}

	stop     chan struct{}
	stopOnce sync.Once
}

// NewConn creates a Conn. A nil dispatcher gets a fresh one; a nil logger
// defaults to slog.Default(); a nil recorder discards observations.
func NewConn(cfg Config, d *Dispatcher, logger *slog.Logger, rec Recorder) *Conn {
	cfg.defaults()
	if d == nil {
		d = NewDispatcher()
	}
	if logger == nil {
		logger = slog.Default()
	}
	if rec == nil {
		rec = noopRecorder{}
	}
	return &Conn{
		cfg:         cfg,
		dispatcher:  d,
		logger:      logger,
		rec:         rec,
		state:       StateDisconnected,
		pendingAcks: make(map[string]chan bool),
		rooms:       make(map[chat.Conversation]struct{}),
		stop:        make(chan struct{}),
	}
}

// Dispatcher returns the dispatcher server events are delivered to.
func (c *Conn) Dispatcher() *Dispatcher {
	return c.dispatcher
}

// State returns the current connection state.
func (c *Conn) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Rooms returns the conversations with an acknowledged join, sorted for
// stable output.
func (c *Conn) Rooms() []chat.Conversation {
	c.mu.Lock()
	defer c.mu.Unlock()

	rooms := make([]chat.Conversation, 0, len(c.rooms))
	for conv := range c.rooms {
		rooms = append(rooms, conv)
	}
	slices.SortFunc(rooms, func(a, b chat.Conversation) int {
		return strings.Compare(a.String(), b.String())
	})
	return rooms
}

// Dial connects to the workspace server. Dialing while connected or
// connecting is a no-op. Dial makes a single attempt; use Redial to keep
// retrying a failed first connection. Once connected, dropped connections
// redial automatically until Close.
func (c *Conn) Dial(ctx context.Context) error {
	c.mu.Lock()
	switch c.state {
	case StateClosed:
		c.mu.Unlock()
		return ErrClosed
	case StateConnected, StateConnecting:
		c.mu.Unlock()
		return nil
	}
	c.state = StateConnecting
	c.mu.Unlock()

	ws, err := c.dial(ctx)
	if err != nil {
		c.mu.Lock()
		if c.state == StateConnecting {
			c.state = StateDisconnected
		}
		c.mu.Unlock()
		return fmt.Errorf("realtime: dial %s: %w", c.cfg.URL, err)
	}

	if c.attach(ws) {
		c.dispatcher.DispatchState(StateConnected)
	}
	return nil
}

// Redial schedules background dial attempts with the reconnect backoff
// until a connection is up or the Conn is closed. It returns immediately.
// Dropped connections redial on their own; Redial exists for recovering
// from a failed initial Dial.
func (c *Conn) Redial() {
	go c.reconnectLoop()
}

// Close tears down the connection permanently. Pending joins resolve as
// not subscribed, subscribers observe StateClosed, and no redial is
// attempted. A closed Conn cannot be dialed again.
func (c *Conn) Close() error {
	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		return nil
	}
	c.state = StateClosed
	ws := c.ws
	c.ws = nil
	c.failPendingLocked()
	c.mu.Unlock()

	c.stopOnce.Do(func() { close(c.stop) })

	var err error
	if ws != nil {
		err = ws.Close(websocket.StatusNormalClosure, "client shutting down")
	}
	c.dispatcher.DispatchState(StateClosed)
	return err
}

// Join subscribes to a conversation's broadcast group. It sends the join
// frame and waits for the server acknowledgment, at most JoinTimeout. The
// result reports whether the room is live: false with a nil error means no
// connection is up or the server declined; false with a deadline error
// means the acknowledgment never arrived. Acked rooms are re-joined
// automatically after a reconnect; callers proceed degraded on false.
func (c *Conn) Join(ctx context.Context, conv chat.Conversation) (bool, error) {
	c.mu.Lock()
	ws := c.ws
	if c.state != StateConnected || ws == nil {
		c.mu.Unlock()
		return false, nil
	}

	id := uuid.NewString()
	ch := make(chan bool, 1)
	c.pendingAcks[id] = ch
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.pendingAcks, id)
		c.mu.Unlock()
	}()

	payload, _ := json.Marshal(JoinPayload{ID: conv.ID})
	env := Envelope{
		Type:      joinFrame(conv),
		ID:        id,
		Payload:   payload,
		Timestamp: time.Now(),
	}
	if err := c.write(ctx, ws, env); err != nil {
		return false, fmt.Errorf("realtime: send join: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.JoinTimeout)
	defer cancel()

	select {
	case ok := <-ch:
		if ok {
			c.rec.RecordAck(metrics.AckOK)
			c.addRoom(conv)
		} else {
			c.rec.RecordAck(metrics.AckDenied)
		}
		return ok, nil
	case <-ctx.Done():
		c.rec.RecordAck(metrics.AckTimeout)
		return false, ctx.Err()
	}
}

// Leave unsubscribes from a conversation. It is fire-and-forget: the
// server sends no acknowledgment and write failures are only logged.
func (c *Conn) Leave(conv chat.Conversation) {
	c.mu.Lock()
	delete(c.rooms, conv)
	ws := c.ws
	connected := c.state == StateConnected
	c.mu.Unlock()

	if !connected || ws == nil {
		return
	}

	payload, _ := json.Marshal(JoinPayload{ID: conv.ID})
	env := Envelope{
		Type:      leaveFrame(conv),
		ID:        uuid.NewString(),
		Payload:   payload,
		Timestamp: time.Now(),
	}

	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	if err := c.write(ctx, ws, env); err != nil {
		c.logger.Warn("send leave failed", "conversation", conv, "error", err)
	}
}

// Typing announces that the local user is composing in a conversation.
func (c *Conn) Typing(ctx context.Context, conv chat.Conversation) error {
	payload, _ := json.Marshal(TypingPayload{ConversationID: conv.ID})
	return c.send(ctx, FrameTyping, payload)
}

// StopTyping clears the local user's typing state in a conversation.
func (c *Conn) StopTyping(ctx context.Context, conv chat.Conversation) error {
	payload, _ := json.Marshal(TypingPayload{ConversationID: conv.ID})
	return c.send(ctx, FrameStopTyping, payload)
}

// SetPresence announces the local user's availability.
func (c *Conn) SetPresence(ctx context.Context, status chat.PresenceStatus) error {
	payload, _ := json.Marshal(PresencePayload{Status: status})
	return c.send(ctx, FrameSetPresence, payload)
}

func (c *Conn) dial(ctx context.Context) (*websocket.Conn, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.DialTimeout)
	defer cancel()

	opts := &websocket.DialOptions{
		HTTPHeader: http.Header{"Authorization": []string{"Bearer " + c.cfg.Token}},
	}
	ws, _, err := websocket.Dial(ctx, c.cfg.URL, opts)
	if err != nil {
		return nil, err
	}
	ws.SetReadLimit(maxFrameBytes)
	return ws, nil
}

// attach installs a live socket and starts its read loop. It reports false
// when the Conn was closed while dialing.
func (c *Conn) attach(ws *websocket.Conn) bool {
	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		_ = ws.Close(websocket.StatusNormalClosure, "client shutting down")
		return false
	}
	c.ws = ws
	c.state = StateConnected
	c.mu.Unlock()

	go c.readLoop(ws)
	return true
}

// readLoop decodes frames until the socket errors. Acks resolve pending
// joins; event frames are validated and dispatched in arrival order.
func (c *Conn) readLoop(ws *websocket.Conn) {
	for {
		_, data, err := ws.Read(context.Background())
		if err != nil {
			c.handleDisconnect(ws, err)
			return
		}

		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			c.logger.Warn("dropping malformed frame", "error", err)
			c.rec.RecordInvalidEvent()
			continue
		}

		if env.Type == FrameAck {
			c.resolveAck(env)
			continue
		}

		ev, err := chat.ParseEvent(chat.EventType(env.Type), env.Payload)
		if err != nil {
			c.logger.Warn("dropping event", "type", env.Type, "error", err)
			c.rec.RecordInvalidEvent()
			continue
		}

		c.rec.RecordEvent(string(env.Type))
		c.dispatcher.Dispatch(ev)
	}
}

func (c *Conn) resolveAck(env Envelope) {
	var ack AckPayload
	if err := json.Unmarshal(env.Payload, &ack); err != nil {
		c.logger.Warn("dropping malformed ack", "error", err)
		c.rec.RecordInvalidEvent()
		return
	}

	c.mu.Lock()
	if ch, ok := c.pendingAcks[env.ID]; ok {
		// Non-blocking: a duplicate ack must not stall the read loop.
		select {
		case ch <- ack.OK:
		default:
		}
	}
	c.mu.Unlock()
}

// handleDisconnect runs when a read loop's socket dies. Unless the Conn
// was closed, it fails pending joins and starts the redial loop on the
// current goroutine.
func (c *Conn) handleDisconnect(ws *websocket.Conn, err error) {
	c.mu.Lock()
	if c.ws != ws {
		// Stale read loop for a socket already replaced or torn down.
		c.mu.Unlock()
		return
	}
	c.ws = nil
	closed := c.state == StateClosed
	if !closed {
		c.state = StateDisconnected
	}
	c.failPendingLocked()
	c.mu.Unlock()

	if closed {
		return
	}

	c.logger.Warn("connection lost", "error", err)
	c.dispatcher.DispatchState(StateDisconnected)
	c.reconnectLoop()
}

// failPendingLocked resolves every pending join as not subscribed. The
// caller holds c.mu.
func (c *Conn) failPendingLocked() {
	for id, ch := range c.pendingAcks {
		select {
		case ch <- false:
		default:
		}
		delete(c.pendingAcks, id)
	}
}

func (c *Conn) addRoom(conv chat.Conversation) {
	c.mu.Lock()
	c.rooms[conv] = struct{}{}
	c.mu.Unlock()
}

// reconnectLoop redials with bounded exponential backoff until a
// connection is up or the Conn is closed.
func (c *Conn) reconnectLoop() {
	delay := c.cfg.ReconnectMin
	for {
		timer := time.NewTimer(withJitter(delay))
		select {
		case <-c.stop:
			timer.Stop()
			return
		case <-timer.C:
		}

		if c.redial() {
			return
		}

		delay *= 2
		if delay > c.cfg.ReconnectMax {
			delay = c.cfg.ReconnectMax
		}
	}
}

// redial makes one dial attempt and, on success, re-joins every recorded
// room before announcing the connection, so resumed sessions are already
// subscribed when they backfill. It reports whether the loop should stop.
func (c *Conn) redial() bool {
	c.mu.Lock()
	if c.state != StateDisconnected {
		// Connected by another path, or closed.
		c.mu.Unlock()
		return true
	}
	c.state = StateConnecting
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.DialTimeout)
	ws, err := c.dial(ctx)
	cancel()
	if err != nil {
		c.logger.Warn("reconnect failed", "error", err)
		c.mu.Lock()
		if c.state == StateConnecting {
			c.state = StateDisconnected
		}
		c.mu.Unlock()
		return false
	}

	if !c.attach(ws) {
		return true
	}

	c.mu.Lock()
	rooms := make([]chat.Conversation, 0, len(c.rooms))
	for conv := range c.rooms {
		rooms = append(rooms, conv)
	}
	c.mu.Unlock()

	c.rec.RecordReconnect()
	c.logger.Info("reconnected", "rooms", len(rooms))

	for _, conv := range rooms {
		ok, err := c.Join(context.Background(), conv)
		if err != nil || !ok {
			c.logger.Warn("rejoin failed", "conversation", conv, "ok", ok, "error", err)
		}
	}

	c.dispatcher.DispatchState(StateConnected)
	return true
}

// send writes one fire-and-forget frame on the live socket.
func (c *Conn) send(ctx context.Context, t FrameType, payload json.RawMessage) error {
	c.mu.Lock()
	ws := c.ws
	connected := c.state == StateConnected
	c.mu.Unlock()

	if !connected || ws == nil {
		return ErrNotConnected
	}

	env := Envelope{
		Type:      t,
		ID:        uuid.NewString(),
		Payload:   payload,
		Timestamp: time.Now(),
	}
	return c.write(ctx, ws, env)
}

func (c *Conn) write(ctx context.Context, ws *websocket.Conn, env Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return ws.Write(ctx, websocket.MessageText, data)
}

// withJitter spreads redial delays so clients sharing a failure do not
// come back in lockstep.
func withJitter(d time.Duration) time.Duration {
	return d + rand.N(d/2+1)
}

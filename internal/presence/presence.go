// Package presence relays the local user's typing and availability
// signals and tracks everyone else's. Typing frames are throttled
// client-side so a burst of keystrokes costs one frame per window;
// stop-typing always goes out.
package presence

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/parley-chat/parley/internal/realtime"
	"github.com/parley-chat/parley/pkg/chat"
)

// defaultTypingInterval is the minimum gap between typing frames for one
// conversation when no interval is configured.
const defaultTypingInterval = 3 * time.Second

// ErrInvalidStatus rejects a presence status outside the supported set.
var ErrInvalidStatus = errors.New("presence: invalid status")

// Typist throttles typing frames for one conversation.
type Typist struct {
	conn    *realtime.Conn
	conv    chat.Conversation
	limiter *rate.Limiter

	mu     sync.Mutex
	active bool
}

// NewTypist returns a Typist bound to one conversation. A non-positive
// interval falls back to the default.
func NewTypist(conn *realtime.Conn, conv chat.Conversation, interval time.Duration) *Typist {
	if interval <= 0 {
		interval = defaultTypingInterval
	}
	return &Typist{
		conn:    conn,
		conv:    conv,
		limiter: rate.NewLimiter(rate.Every(interval), 1),
	}
}

// Typing signals that the local user is composing. Calls inside the
// throttle window are absorbed without touching the wire.
func (t *Typist) Typing(ctx context.Context) error {
	t.mu.Lock()
	t.active = true
	t.mu.Unlock()

	if !t.limiter.Allow() {
		return nil
	}
	return t.conn.Typing(ctx, t.conv)
}

// Stop signals that composing ended. It bypasses the throttle so the
// remote indicator clears promptly, and is a no-op when Typing was never
// signalled.
func (t *Typist) Stop(ctx context.Context) error {
	t.mu.Lock()
	wasActive := t.active
	t.active = false
	t.mu.Unlock()

	if !wasActive {
		return nil
	}
	return t.conn.StopTyping(ctx, t.conv)
}

// Roster tracks the last announced availability of every user seen in
// presence events. Users never announced report offline.
type Roster struct {
	mu    sync.RWMutex
	users map[string]chat.PresenceStatus
	sub   *realtime.Subscription
}

// NewRoster subscribes to presence events on the dispatcher.
func NewRoster(d *realtime.Dispatcher) *Roster {
	r := &Roster{users: make(map[string]chat.PresenceStatus)}
	r.sub = d.Subscribe(chat.EventPresenceChanged, r.apply)
	return r
}

func (r *Roster) apply(ev chat.Event) {
	e, ok := ev.(chat.PresenceChangedEvent)
	if !ok {
		return
	}
	r.mu.Lock()
	r.users[e.Username] = e.Status
	r.mu.Unlock()
}

// Status returns the user's last announced availability.
func (r *Roster) Status(username string) chat.PresenceStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if s, ok := r.users[username]; ok {
		return s
	}
	return chat.PresenceOffline
}

// Online returns the usernames currently announced as anything but
// offline, sorted.
func (r *Roster) Online() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.users))
	for u, s := range r.users {
		if s != chat.PresenceOffline {
			out = append(out, u)
		}
	}
	slices.Sort(out)
	return out
}

// Close detaches the roster from the dispatcher.
func (r *Roster) Close() {
	r.sub.Close()
}

// Pusher is the REST path for presence changes. *api.Client satisfies it.
type Pusher interface {
	SetPresence(ctx context.Context, status chat.PresenceStatus) error
}

// Announcer re-broadcasts the local user's chosen status every time the
// connection establishes, so presence survives reconnects.
type Announcer struct {
	conn   *realtime.Conn
	logger *slog.Logger
	sub    *realtime.Subscription

	mu       sync.Mutex
	status   chat.PresenceStatus
	fallback Pusher
}

// NewAnnouncer subscribes to connection state changes and announces the
// given status on every transition to connected.
func NewAnnouncer(conn *realtime.Conn, status chat.PresenceStatus, logger *slog.Logger) *Announcer {
	if logger == nil {
		logger = slog.Default()
	}
	if !status.Valid() {
		status = chat.PresenceOnline
	}
	a := &Announcer{conn: conn, logger: logger, status: status}
	a.sub = conn.Dispatcher().SubscribeState(a.onState)
	return a
}

func (a *Announcer) onState(s realtime.State) {
	if s != realtime.StateConnected {
		return
	}
	a.mu.Lock()
	status := a.status
	a.mu.Unlock()
	a.announce(status)
}

// SetFallback installs a REST push used when the realtime send fails,
// so a status change made while disconnected still reaches the server.
func (a *Announcer) SetFallback(p Pusher) {
	a.mu.Lock()
	a.fallback = p
	a.mu.Unlock()
}

// SetStatus changes the local user's availability and announces it
// immediately. If the realtime send fails and a fallback is installed,
// the status goes out over REST instead.
func (a *Announcer) SetStatus(ctx context.Context, status chat.PresenceStatus) error {
	if !status.Valid() {
		return ErrInvalidStatus
	}
	a.mu.Lock()
	a.status = status
	fallback := a.fallback
	a.mu.Unlock()

	err := a.conn.SetPresence(ctx, status)
	if err != nil && fallback != nil {
		if restErr := fallback.SetPresence(ctx, status); restErr == nil {
			return nil
		}
	}
	return err
}

// Status returns the currently configured availability.
func (a *Announcer) Status() chat.PresenceStatus {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.status
}

func (a *Announcer) announce(status chat.PresenceStatus) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := a.conn.SetPresence(ctx, status); err != nil {
		a.logger.Warn("presence announce failed", "status", string(status), "error", err)
	}
}

// Close detaches the announcer from connection state changes.
func (a *Announcer) Close() {
	a.sub.Close()
}

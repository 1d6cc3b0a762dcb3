// Package session orchestrates one mounted conversation view: the
// acknowledged join, the initial history and pin load, the realtime
// subscriptions feeding the timeline, and the user's actions against the
// REST API.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/parley-chat/parley/internal/api"
	"github.com/parley-chat/parley/internal/presence"
	"github.com/parley-chat/parley/internal/realtime"
	"github.com/parley-chat/parley/internal/timeline"
	"github.com/parley-chat/parley/pkg/chat"
)

// Sentinel errors.
var (
	// ErrNotReady rejects an action before the view finished mounting or
	// after it was torn down.
	ErrNotReady = errors.New("session: view not ready")

	// ErrTooManyOpen rejects opening a session past the configured limit.
	ErrTooManyOpen = errors.New("session: too many open conversations")
)

// Config carries the local user identity and view tuning.
type Config struct {
	// User is the local identity stamped on optimistic entries.
	User chat.User

	// PageSize is the history page size. Zero means api.DefaultPageSize.
	PageSize int

	// TypingInterval throttles typing frames per conversation. Zero uses
	// the presence package default.
	TypingInterval time.Duration
}

func (c *Config) defaults() {
	if c.PageSize <= 0 {
		c.PageSize = api.DefaultPageSize
	}
}

// Session is one mounted conversation. It owns the conversation's
// timeline, keeps it fed from the dispatcher, and performs sends and
// moderation through the REST client. All methods are safe for concurrent
// use.
type Session struct {
	conv   chat.Conversation
	tl     *timeline.Timeline
	conn   *realtime.Conn
	client *api.Client
	typist *presence.Typist
	logger *slog.Logger
	cfg    Config

	mu       sync.Mutex
	subs     []*realtime.Subscription
	mounted  bool
	resuming bool
}

// New creates an unmounted session for the conversation.
func New(conv chat.Conversation, conn *realtime.Conn, client *api.Client, cfg Config, logger *slog.Logger) *Session {
	cfg.defaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Session{
		conv:   conv,
		tl:     timeline.New(conv),
		conn:   conn,
		client: client,
		typist: presence.NewTypist(conn, conv, cfg.TypingInterval),
		logger: logger,
		cfg:    cfg,
	}
}

// Conversation returns the conversation this session is bound to.
func (s *Session) Conversation() chat.Conversation {
	return s.conv
}

// Timeline returns the session's reconciled view state.
func (s *Session) Timeline() *timeline.Timeline {
	return s.tl
}

// Live reports whether the room join was acknowledged and broadcasts are
// expected.
func (s *Session) Live() bool {
	return s.tl.Live()
}

// Mount brings the view up: handlers are registered before the join so no
// broadcast slips through, the join verdict is awaited, and only then is
// history fetched. A denied or timed-out join is not an error; the view
// proceeds without live updates and upgrades itself on the next
// reconnect. A failed initial load is returned and can be retried with
// Refresh; the session stays mounted either way.
func (s *Session) Mount(ctx context.Context) error {
	s.mu.Lock()
	if s.mounted {
		s.mu.Unlock()
		return nil
	}
	s.mounted = true
	s.mu.Unlock()

	s.tl.BeginJoin()
	s.subscribe()

	acked, err := s.conn.Join(ctx, s.conv)
	switch {
	case err != nil:
		s.logger.Warn("join not acknowledged in time, continuing without live updates",
			"conversation", s.conv.String(), "error", err)
	case !acked:
		s.logger.Warn("join not granted, continuing without live updates",
			"conversation", s.conv.String())
	}
	s.tl.MarkReady(acked)

	return s.Refresh(ctx)
}

// Unmount tears the view down: subscriptions are closed, the room is
// left, and the timeline stops accepting mutation. The message list stays
// readable.
func (s *Session) Unmount() {
	s.mu.Lock()
	if !s.mounted {
		s.mu.Unlock()
		return
	}
	s.mounted = false
	subs := s.subs
	s.subs = nil
	s.mu.Unlock()

	for _, sub := range subs {
		sub.Close()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.typist.Stop(ctx); err != nil {
		s.logger.Debug("stop-typing on unmount failed", "conversation", s.conv.String(), "error", err)
	}

	s.conn.Leave(s.conv)
	s.tl.TearDown()
}

// Refresh fetches the latest history page and the pin list and merges
// them into the timeline.
func (s *Session) Refresh(ctx context.Context) error {
	msgs, err := s.client.ListMessages(ctx, s.conv, api.HistoryOptions{Limit: s.cfg.PageSize})
	if err != nil {
		return fmt.Errorf("session: load history: %w", err)
	}
	s.tl.MergeHistory(msgs)

	pins, err := s.client.ListPins(ctx, s.conv)
	if err != nil {
		return fmt.Errorf("session: load pins: %w", err)
	}
	s.tl.MergePins(pins)
	return nil
}

// LoadOlder fetches the page preceding the oldest loaded message and
// merges it in front. It returns the number of messages fetched; zero
// means the top of history was reached.
func (s *Session) LoadOlder(ctx context.Context) (int, error) {
	var before string
	for _, m := range s.tl.Messages() {
		if !m.Pending {
			before = m.ID
			break
		}
	}

	msgs, err := s.client.ListMessages(ctx, s.conv, api.HistoryOptions{Before: before, Limit: s.cfg.PageSize})
	if err != nil {
		return 0, fmt.Errorf("session: load older: %w", err)
	}
	s.tl.MergeHistory(msgs)
	return len(msgs), nil
}

// Send posts a message. The timeline shows an optimistic entry under a
// client-generated identity immediately; the canonical message replaces
// it in place when the server answers, or the entry disappears when the
// send fails.
func (s *Session) Send(ctx context.Context, content string) (*chat.Message, error) {
	return s.send(ctx, "", content)
}

// Reply posts a message into the thread rooted at parentID.
func (s *Session) Reply(ctx context.Context, parentID, content string) (*chat.Message, error) {
	return s.send(ctx, parentID, content)
}

func (s *Session) send(ctx context.Context, parentID, content string) (*chat.Message, error) {
	if s.tl.Phase() != timeline.PhaseReady {
		return nil, ErrNotReady
	}

	clientID := uuid.NewString()
	s.tl.AppendPending(chat.Message{
		ClientID:  clientID,
		ParentID:  parentID,
		Author:    s.cfg.User,
		Content:   content,
		CreatedAt: time.Now().UTC(),
	})

	msg, err := s.client.SendMessage(ctx, s.conv, api.SendMessageRequest{
		Content:  content,
		ClientID: clientID,
		ParentID: parentID,
	})
	if err != nil {
		s.tl.DropPending(clientID)
		return nil, fmt.Errorf("session: send: %w", err)
	}
	s.tl.ConfirmPending(clientID, *msg)
	return msg, nil
}

// Edit replaces a message's content. The canonical result is applied to
// the timeline directly so the view is correct even without live updates;
// the echoed broadcast is absorbed by the reconciliation rules.
func (s *Session) Edit(ctx context.Context, messageID, content string) error {
	if s.tl.Phase() != timeline.PhaseReady {
		return ErrNotReady
	}

	msg, err := s.client.EditMessage(ctx, s.conv, messageID, api.EditMessageRequest{Content: content})
	if err != nil {
		return fmt.Errorf("session: edit: %w", err)
	}
	s.tl.Apply(chat.MessageUpdatedEvent{Message: *msg})
	return nil
}

// Delete tombstones a message.
func (s *Session) Delete(ctx context.Context, messageID string) error {
	if s.tl.Phase() != timeline.PhaseReady {
		return ErrNotReady
	}

	if err := s.client.DeleteMessage(ctx, s.conv, messageID); err != nil {
		return fmt.Errorf("session: delete: %w", err)
	}
	s.tl.Apply(chat.MessageDeletedEvent{ID: messageID, ConversationID: s.conv.ID})
	return nil
}

// React adds the local user's emoji reaction to a message.
func (s *Session) React(ctx context.Context, messageID, emoji string) error {
	if s.tl.Phase() != timeline.PhaseReady {
		return ErrNotReady
	}

	if err := s.client.AddReaction(ctx, s.conv, messageID, emoji); err != nil {
		return fmt.Errorf("session: react: %w", err)
	}
	s.tl.Apply(chat.ReactionAddedEvent{
		MessageID: messageID,
		Reaction:  chat.Reaction{Emoji: emoji, UserID: s.cfg.User.ID},
	})
	return nil
}

// Unreact removes the local user's emoji reaction from a message.
func (s *Session) Unreact(ctx context.Context, messageID, emoji string) error {
	if s.tl.Phase() != timeline.PhaseReady {
		return ErrNotReady
	}

	if err := s.client.RemoveReaction(ctx, s.conv, messageID, emoji); err != nil {
		return fmt.Errorf("session: unreact: %w", err)
	}
	s.tl.Apply(chat.ReactionRemovedEvent{MessageID: messageID, Emoji: emoji, UserID: s.cfg.User.ID})
	return nil
}

// Pin pins a message.
func (s *Session) Pin(ctx context.Context, messageID string) error {
	if s.tl.Phase() != timeline.PhaseReady {
		return ErrNotReady
	}

	msg, err := s.client.PinMessage(ctx, s.conv, messageID)
	if err != nil {
		return fmt.Errorf("session: pin: %w", err)
	}
	s.tl.Apply(chat.MessagePinnedEvent{MessageID: messageID, Message: *msg})
	return nil
}

// Unpin unpins a message.
func (s *Session) Unpin(ctx context.Context, messageID string) error {
	if s.tl.Phase() != timeline.PhaseReady {
		return ErrNotReady
	}

	if err := s.client.UnpinMessage(ctx, s.conv, messageID); err != nil {
		return fmt.Errorf("session: unpin: %w", err)
	}
	s.tl.Apply(chat.MessageUnpinnedEvent{MessageID: messageID})
	return nil
}

// ThreadReplies fetches the canonical reply list for a thread and merges
// the replies into the timeline.
func (s *Session) ThreadReplies(ctx context.Context, parentID string) ([]chat.Message, error) {
	msgs, err := s.client.ListThreadReplies(ctx, s.conv, parentID, api.HistoryOptions{Limit: s.cfg.PageSize})
	if err != nil {
		return nil, fmt.Errorf("session: load thread: %w", err)
	}
	s.tl.Backfill(msgs)
	return msgs, nil
}

// Typing signals that the local user is composing, throttled.
func (s *Session) Typing(ctx context.Context) error {
	return s.typist.Typing(ctx)
}

// StopTyping signals that composing ended.
func (s *Session) StopTyping(ctx context.Context) error {
	return s.typist.Stop(ctx)
}

// subscribe registers the timeline feed and the state watcher. Events for
// other conversations are filtered at the dispatcher; identity-scoped
// events (reactions, unpins) pass every filter and resolve against the
// timeline.
func (s *Session) subscribe() {
	d := s.conn.Dispatcher()
	scoped := realtime.ForConversation(s.conv.ID)
	apply := func(ev chat.Event) { s.tl.Apply(ev) }

	types := []chat.EventType{
		chat.EventNewMessage,
		chat.EventMessageUpdated,
		chat.EventMessageDeleted,
		chat.EventUserTyping,
		chat.EventUserStopTyping,
		chat.EventReactionAdded,
		chat.EventReactionRemoved,
		chat.EventMessagePinned,
		chat.EventMessageUnpinned,
	}
	subs := make([]*realtime.Subscription, 0, len(types)+1)
	for _, t := range types {
		subs = append(subs, d.Subscribe(t, apply, scoped))
	}
	subs = append(subs, d.SubscribeState(s.onState))

	s.mu.Lock()
	s.subs = subs
	s.mu.Unlock()
}

// onState backfills after every reconnect. The work moves off the
// dispatch goroutine so a slow fetch cannot stall state delivery.
func (s *Session) onState(st realtime.State) {
	if st != realtime.StateConnected {
		return
	}
	go s.resume()
}

// resume runs after the connection (re)establishes while mounted. A
// session that never got its join acknowledged retries it here, then the
// latest page is fetched and merged so messages missed while down appear.
func (s *Session) resume() {
	s.mu.Lock()
	if !s.mounted || s.resuming {
		s.mu.Unlock()
		return
	}
	s.resuming = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.resuming = false
		s.mu.Unlock()
	}()

	ctx := context.Background()
	if !s.tl.Live() {
		acked, err := s.conn.Join(ctx, s.conv)
		if err != nil || !acked {
			s.logger.Warn("rejoin after reconnect failed",
				"conversation", s.conv.String(), "acknowledged", acked, "error", err)
		}
		s.tl.SetLive(acked)
	}

	msgs, err := s.client.ListMessages(ctx, s.conv, api.HistoryOptions{Limit: s.cfg.PageSize})
	if err != nil {
		s.logger.Warn("backfill after reconnect failed",
			"conversation", s.conv.String(), "error", err)
		return
	}
	s.tl.Backfill(msgs)
}

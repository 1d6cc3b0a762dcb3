package session

import (
	"context"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"github.com/parley-chat/parley/internal/api"
	"github.com/parley-chat/parley/internal/realtime"
	"github.com/parley-chat/parley/pkg/chat"
)

// Registry is a concurrency-safe set of mounted sessions keyed by
// conversation. It owns session construction so callers deal only in
// conversations.
type Registry struct {
	conn   *realtime.Conn
	client *api.Client
	cfg    Config
	logger *slog.Logger

	mu       sync.RWMutex
	sessions map[chat.Conversation]*Session

	// maxOpen limits concurrently mounted sessions. Zero means unlimited.
	maxOpen int
}

// NewRegistry creates an empty registry sharing one connection and REST
// client across all sessions.
func NewRegistry(conn *realtime.Conn, client *api.Client, cfg Config, logger *slog.Logger) *Registry {
	cfg.defaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		conn:     conn,
		client:   client,
		cfg:      cfg,
		logger:   logger,
		sessions: make(map[chat.Conversation]*Session),
	}
}

// SetMaxOpen configures the maximum number of concurrently mounted
// sessions. Zero means unlimited.
func (r *Registry) SetMaxOpen(limit int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.maxOpen = limit
}

// Open returns the mounted session for the conversation, mounting a new
// one when absent. A non-nil session can come back alongside an error
// when the initial load failed; the session is usable and Refresh can
// retry.
func (r *Registry) Open(ctx context.Context, conv chat.Conversation) (*Session, error) {
	r.mu.Lock()
	if s, ok := r.sessions[conv]; ok {
		r.mu.Unlock()
		return s, nil
	}
	if r.maxOpen > 0 && len(r.sessions) >= r.maxOpen {
		r.mu.Unlock()
		return nil, ErrTooManyOpen
	}
	s := New(conv, r.conn, r.client, r.cfg, r.logger)
	r.sessions[conv] = s
	r.mu.Unlock()

	return s, s.Mount(ctx)
}

// Get returns the session for the conversation, or nil.
func (r *Registry) Get(conv chat.Conversation) *Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sessions[conv]
}

// Close unmounts and removes the conversation's session. It is a no-op
// when none is open.
func (r *Registry) Close(conv chat.Conversation) {
	r.mu.Lock()
	s := r.sessions[conv]
	delete(r.sessions, conv)
	r.mu.Unlock()

	if s != nil {
		s.Unmount()
	}
}

// CloseAll unmounts every open session. Used at shutdown.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.sessions = make(map[chat.Conversation]*Session)
	r.mu.Unlock()

	for _, s := range sessions {
		s.Unmount()
	}
}

// Len returns the number of open sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Conversations returns the open conversations, sorted.
func (r *Registry) Conversations() []chat.Conversation {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]chat.Conversation, 0, len(r.sessions))
	for conv := range r.sessions {
		out = append(out, conv)
	}
	slices.SortFunc(out, func(a, b chat.Conversation) int {
		return strings.Compare(a.String(), b.String())
	})
	return out
}

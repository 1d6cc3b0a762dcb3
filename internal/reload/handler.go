package reload

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"github.com/parley-chat/parley/internal/config"
	"github.com/parley-chat/parley/internal/presence"
	"github.com/parley-chat/parley/internal/session"
)

// Handler applies a changed configuration to the running client. Rooms
// and the advertised presence status change live; everything else is
// reported as needing a restart.
type Handler struct {
	logger    *slog.Logger
	sessions  *session.Registry
	announcer *presence.Announcer

	mu      sync.Mutex
	current *config.Config
}

// NewHandler creates a reload handler. current is the configuration the
// client started with.
func NewHandler(current *config.Config, sessions *session.Registry, announcer *presence.Announcer, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		logger:    logger,
		sessions:  sessions,
		announcer: announcer,
		current:   current,
	}
}

// HandleReload loads a fresh config from disk, validates it, and applies
// the differences. The running configuration only advances when the file
// parses and validates; a broken edit leaves the client untouched.
func (h *Handler) HandleReload(ctx context.Context, path string) error {
	cfg, err := config.Load(path)
	if err != nil {
		return fmt.Errorf("reload: %w", err)
	}
	if err := config.Validate(cfg); err != nil {
		return fmt.Errorf("reload: %w", err)
	}
	return h.apply(ctx, cfg)
}

func (h *Handler) apply(ctx context.Context, next *config.Config) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	prev := h.current

	for _, room := range next.Rooms {
		if slices.Contains(prev.Rooms, room) {
			continue
		}
		if _, err := h.sessions.Open(ctx, room); err != nil {
			h.logger.Error("opening added room failed", "room", room, "error", err)
			continue
		}
		h.logger.Info("room opened", "room", room)
	}
	for _, room := range prev.Rooms {
		if slices.Contains(next.Rooms, room) {
			continue
		}
		h.sessions.Close(room)
		h.logger.Info("room closed", "room", room)
	}

	if h.announcer != nil && next.Presence.Status != prev.Presence.Status {
		if err := h.announcer.SetStatus(ctx, next.Presence.Status); err != nil {
			h.logger.Error("applying presence status failed", "status", next.Presence.Status, "error", err)
		}
	}

	if stale := restartOnly(prev, next); len(stale) > 0 {
		h.logger.Warn("changed settings need a restart to apply", "sections", strings.Join(stale, ", "))
	}

	h.current = next
	h.logger.Info("configuration reloaded")
	return nil
}

// restartOnly lists the changed sections that cannot be applied live.
func restartOnly(prev, next *config.Config) []string {
	var sections []string
	if next.Server != prev.Server {
		sections = append(sections, "server")
	}
	if next.Connection != prev.Connection {
		sections = append(sections, "connection")
	}
	if next.Typing != prev.Typing {
		sections = append(sections, "typing")
	}
	if !slices.Equal(next.Reminders, prev.Reminders) {
		sections = append(sections, "reminders")
	}
	if next.Admin != prev.Admin {
		sections = append(sections, "admin")
	}
	if next.Telemetry != prev.Telemetry {
		sections = append(sections, "telemetry")
	}
	if next.Log != prev.Log {
		sections = append(sections, "log")
	}
	return sections
}

// Package app wires validated configuration into a running parley client
// and owns its lifecycle.
package app

import (
	"context"
	"log/slog"
	"time"

	"github.com/parley-chat/parley/internal/admin"
	"github.com/parley-chat/parley/internal/api"
	"github.com/parley-chat/parley/internal/auth"
	"github.com/parley-chat/parley/internal/config"
	"github.com/parley-chat/parley/internal/metrics"
	"github.com/parley-chat/parley/internal/notify"
	"github.com/parley-chat/parley/internal/presence"
	"github.com/parley-chat/parley/internal/realtime"
	"github.com/parley-chat/parley/internal/reload"
	"github.com/parley-chat/parley/internal/reminder"
	"github.com/parley-chat/parley/internal/session"
	"github.com/parley-chat/parley/internal/telemetry"
	"github.com/parley-chat/parley/pkg/chat"
)

// tokenExpiryWarning is how far ahead token expiry is flagged at startup.
const tokenExpiryWarning = 24 * time.Hour

// App owns every long-lived component of a running client.
type App struct {
	cfg     *config.Config
	logger  *slog.Logger
	version string

	metrics       *metrics.Metrics
	conn          *realtime.Conn
	client        *api.Client
	sessions      *session.Registry
	roster        *presence.Roster
	announcer     *presence.Announcer
	notifications *notify.Watcher
	reminders     *reminder.Scheduler
	admin         *admin.Server
	reloader      *reload.Handler

	stopTracing func(context.Context) error
}

// New wires an App from a validated configuration. Nothing dials or
// listens until Start.
func New(cfg *config.Config, logger *slog.Logger, version string) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}

	a := &App{cfg: cfg, logger: logger, version: version}

	user := inspectToken(cfg.Server.Token, logger)

	a.metrics = metrics.New()

	a.client = api.New(api.Config{
		BaseURL: cfg.Server.APIURL,
		Token:   cfg.Server.Token,
	}, logger, a.metrics)

	a.conn = realtime.NewConn(realtime.Config{
		URL:          cfg.Server.WebsocketURL,
		Token:        cfg.Server.Token,
		DialTimeout:  cfg.Connection.DialTimeout.Std(),
		JoinTimeout:  cfg.Connection.JoinTimeout.Std(),
		ReconnectMin: cfg.Connection.ReconnectMin.Std(),
		ReconnectMax: cfg.Connection.ReconnectMax.Std(),
	}, nil, logger, a.metrics)

	a.roster = presence.NewRoster(a.conn.Dispatcher())
	a.announcer = presence.NewAnnouncer(a.conn, cfg.Presence.Status, logger)
	a.announcer.SetFallback(a.client)
	a.notifications = notify.NewWatcher(a.conn.Dispatcher(), logger)

	a.sessions = session.NewRegistry(a.conn, a.client, session.Config{
		User:           user,
		TypingInterval: cfg.Typing.Interval.Std(),
	}, logger)

	a.reminders = reminder.NewScheduler(logger)
	for _, r := range cfg.Reminders {
		job := &reminder.MessageJob{
			Label:        r.Name,
			Conversation: r.Conversation,
			Content:      r.Content,
			ScheduleExpr: r.Schedule,
			Sender:       a.client,
			Logger:       logger,
		}
		if err := a.reminders.Register(job); err != nil {
			return nil, err
		}
	}

	if cfg.Admin.Addr != "" {
		a.admin = admin.New(cfg.Admin.Addr, admin.Sources{
			Conn:          a.conn,
			Sessions:      a.sessions,
			Notifications: a.notifications,
			Metrics:       a.metrics,
		}, logger)
	}

	a.reloader = reload.NewHandler(cfg, a.sessions, a.announcer, logger)

	return a, nil
}

// inspectToken decodes JWT claims for the local identity and expiry
// warnings. Opaque tokens pass through with a zero identity; whether they
// are valid is the server's call.
func inspectToken(token string, logger *slog.Logger) chat.User {
	info, err := auth.Inspect(token)
	if err != nil {
		logger.Debug("token is not a JWT, skipping expiry check")
		return chat.User{}
	}

	now := time.Now()
	switch {
	case info.Expired(now):
		logger.Warn("configured token is expired, the server will reject it",
			"expired_at", info.ExpiresAt)
	case info.ExpiresWithin(now, tokenExpiryWarning):
		logger.Warn("configured token expires soon", "expires_at", info.ExpiresAt)
	}

	return chat.User{ID: info.Subject, Username: info.Username}
}

// Start brings the client up: tracing, the realtime link, the configured
// rooms, reminders, and the admin listener. A failed initial dial is not
// fatal; the connection keeps redialing in the background and sessions
// resync once it lands.
func (a *App) Start(ctx context.Context) error {
	stopTracing, err := telemetry.Setup(ctx, telemetry.Config{
		Enabled:  a.cfg.Telemetry.Enabled,
		Endpoint: a.cfg.Telemetry.Endpoint,
		Version:  a.version,
	})
	if err != nil {
		return err
	}
	a.stopTracing = stopTracing

	if err := a.conn.Dial(ctx); err != nil {
		a.logger.Warn("initial connect failed, retrying in background", "error", err)
		a.conn.Redial()
	}

	for _, room := range a.cfg.Rooms {
		if _, err := a.sessions.Open(ctx, room); err != nil {
			a.logger.Error("opening room failed", "room", room, "error", err)
		}
	}

	if len(a.cfg.Reminders) > 0 {
		if err := a.reminders.Start(); err != nil {
			return err
		}
	}

	if a.admin != nil {
		if err := a.admin.Start(); err != nil {
			return err
		}
	}

	return nil
}

// Reload applies a changed configuration file to the running client.
func (a *App) Reload(ctx context.Context, path string) error {
	return a.reloader.HandleReload(ctx, path)
}

// Stop tears the client down in reverse order of Start. Safe to call
// after a partial Start.
func (a *App) Stop() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if a.admin != nil {
		if err := a.admin.Stop(ctx); err != nil {
			a.logger.Error("admin shutdown failed", "error", err)
		}
	}
	if err := a.reminders.Stop(ctx); err != nil {
		a.logger.Error("reminder shutdown failed", "error", err)
	}

	a.notifications.Close()
	a.announcer.Close()
	a.roster.Close()
	a.sessions.CloseAll()
	_ = a.conn.Close()

	if a.stopTracing != nil {
		if err := a.stopTracing(ctx); err != nil {
			a.logger.Error("flushing traces failed", "error", err)
		}
	}
}

package config

import (
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/adhocore/gronx"

	"github.com/parley-chat/parley/pkg/chat"
)

// Validate checks the structural validity of a Config.
// It verifies the version field, the server endpoints and token, the room
// list, presence status, reminder schedules, and timing bounds.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Version == "" {
		errs = append(errs, errors.New("config: version field is required"))
	} else if cfg.Version != "1" {
		errs = append(errs, fmt.Errorf("config: unsupported version %q (supported: \"1\")", cfg.Version))
	}

	errs = append(errs, validateServer(cfg.Server)...)
	errs = append(errs, validateConnection(cfg.Connection)...)
	errs = append(errs, validateRooms(cfg.Rooms)...)

	if !cfg.Presence.Status.Valid() {
		errs = append(errs, fmt.Errorf("config: presence.status must be one of online, away, busy, offline, got %q", cfg.Presence.Status))
	}

	if iv := cfg.Typing.Interval.Std(); iv < 500*time.Millisecond || iv > time.Minute {
		errs = append(errs, fmt.Errorf("config: typing.interval must be 500ms-1m, got %s", iv))
	}

	errs = append(errs, validateReminders(cfg.Reminders)...)

	switch cfg.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("config: log.level must be one of debug, info, warn, error, got %q", cfg.Log.Level))
	}

	if cfg.Telemetry.Enabled && cfg.Telemetry.Endpoint == "" {
		errs = append(errs, errors.New("config: telemetry.endpoint is required when telemetry is enabled"))
	}

	return errors.Join(errs...)
}

func validateServer(s ServerConfig) []error {
	var errs []error

	if s.APIURL == "" {
		errs = append(errs, errors.New("config: server.api_url is required"))
	} else if u, err := url.Parse(s.APIURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		errs = append(errs, fmt.Errorf("config: server.api_url must be a valid http/https URL, got %q", s.APIURL))
	}

	if s.WebsocketURL == "" {
		errs = append(errs, errors.New("config: server.websocket_url is required"))
	} else if u, err := url.Parse(s.WebsocketURL); err != nil || (u.Scheme != "ws" && u.Scheme != "wss") {
		errs = append(errs, fmt.Errorf("config: server.websocket_url must be a valid ws/wss URL, got %q", s.WebsocketURL))
	}

	if s.Token == "" {
		errs = append(errs, errors.New("config: server.token is required"))
	}

	return errs
}

func validateConnection(c ConnectionConfig) []error {
	var errs []error

	if d := c.DialTimeout.Std(); d < time.Second || d > time.Minute {
		errs = append(errs, fmt.Errorf("config: connection.dial_timeout must be 1s-1m, got %s", d))
	}
	if d := c.JoinTimeout.Std(); d < time.Second || d > time.Minute {
		errs = append(errs, fmt.Errorf("config: connection.join_timeout must be 1s-1m, got %s", d))
	}
	if c.ReconnectMin.Std() <= 0 {
		errs = append(errs, fmt.Errorf("config: connection.reconnect_min must be positive, got %s", c.ReconnectMin.Std()))
	}
	if c.ReconnectMax.Std() < c.ReconnectMin.Std() {
		errs = append(errs, fmt.Errorf("config: connection.reconnect_max must be >= reconnect_min, got %s < %s",
			c.ReconnectMax.Std(), c.ReconnectMin.Std()))
	}

	return errs
}

func validateRooms(rooms []chat.Conversation) []error {
	var errs []error

	seen := make(map[chat.Conversation]bool, len(rooms))
	for i, room := range rooms {
		if !room.Type.Valid() {
			errs = append(errs, fmt.Errorf("config: rooms[%d]: type must be \"channel\" or \"dm\", got %q", i, room.Type))
		}
		if room.ID == "" {
			errs = append(errs, fmt.Errorf("config: rooms[%d]: id is required", i))
		}
		if seen[room] {
			errs = append(errs, fmt.Errorf("config: rooms[%d]: duplicate room %s", i, room))
		}
		seen[room] = true
	}

	return errs
}

func validateReminders(reminders []ReminderConfig) []error {
	var errs []error

	g := gronx.New()
	for i, r := range reminders {
		if !r.Conversation.Type.Valid() || r.Conversation.ID == "" {
			errs = append(errs, fmt.Errorf("config: reminders[%d]: conversation must name a channel or dm", i))
		}
		if r.Schedule == "" {
			errs = append(errs, fmt.Errorf("config: reminders[%d]: schedule is required", i))
		} else if !g.IsValid(r.Schedule) {
			errs = append(errs, fmt.Errorf("config: reminders[%d]: invalid cron schedule %q", i, r.Schedule))
		}
		if r.Content == "" {
			errs = append(errs, fmt.Errorf("config: reminders[%d]: content is required", i))
		}
	}

	return errs
}

// Package config handles YAML configuration loading, environment variable
// expansion, and structural validation for parley.
package config

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/parley-chat/parley/pkg/chat"
)

// Config is the top-level configuration structure.
type Config struct {
	// Version is the config format version. Currently only "1" is supported.
	Version string `yaml:"version"`

	// Server holds the endpoints and credentials of the parley server.
	Server ServerConfig `yaml:"server"`

	// Connection tunes the realtime connection lifecycle.
	Connection ConnectionConfig `yaml:"connection"`

	// Rooms lists the conversations joined at startup.
	Rooms []chat.Conversation `yaml:"rooms"`

	// Presence controls the availability status advertised on connect.
	Presence PresenceConfig `yaml:"presence"`

	// Typing tunes how often typing indicators are sent.
	Typing TypingConfig `yaml:"typing"`

	// Reminders lists scheduled messages posted on a cron schedule.
	Reminders []ReminderConfig `yaml:"reminders,omitempty"`

	// Admin configures the local admin/metrics HTTP listener.
	Admin AdminConfig `yaml:"admin"`

	// Telemetry configures OTLP trace export.
	Telemetry TelemetryConfig `yaml:"telemetry"`

	// Log configures logging output.
	Log LogConfig `yaml:"log"`
}

// ServerConfig identifies the parley server and the account token.
type ServerConfig struct {
	// APIURL is the REST base URL, e.g. "https://parley.example.com/api/v1".
	APIURL string `yaml:"api_url"`

	// WebsocketURL is the realtime endpoint, e.g. "wss://parley.example.com/ws".
	WebsocketURL string `yaml:"websocket_url"`

	// Token is the bearer token used for both transports.
	Token string `yaml:"token"`
}

// ConnectionConfig tunes dialing, join acknowledgment, and reconnection.
type ConnectionConfig struct {
	DialTimeout  Duration `yaml:"dial_timeout"`
	JoinTimeout  Duration `yaml:"join_timeout"`
	ReconnectMin Duration `yaml:"reconnect_min"`
	ReconnectMax Duration `yaml:"reconnect_max"`
}

// PresenceConfig controls the advertised availability status.
type PresenceConfig struct {
	// Status is sent after every successful connect. One of
	// "online", "away", "busy", "offline".
	Status chat.PresenceStatus `yaml:"status"`
}

// TypingConfig tunes the client-side typing indicator throttle.
type TypingConfig struct {
	// Interval is the minimum gap between typing frames per conversation.
	Interval Duration `yaml:"interval"`
}

// ReminderConfig is one scheduled message.
type ReminderConfig struct {
	// Name labels the reminder in logs. Defaults to the schedule.
	Name string `yaml:"name,omitempty"`

	// Conversation is the target channel or DM.
	Conversation chat.Conversation `yaml:"conversation"`

	// Schedule is a five-field cron expression.
	Schedule string `yaml:"schedule"`

	// Content is the message body to post.
	Content string `yaml:"content"`
}

// AdminConfig configures the admin HTTP listener. An empty Addr disables it.
type AdminConfig struct {
	Addr string `yaml:"addr,omitempty"`
}

// TelemetryConfig configures OTLP trace export.
type TelemetryConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Endpoint string `yaml:"endpoint,omitempty"`
}

// LogConfig configures logging output.
type LogConfig struct {
	// Level is one of "debug", "info", "warn", "error".
	Level string `yaml:"level"`
}

// defaults applies default values to unset fields.
func (c *Config) defaults() {
	if c.Connection.DialTimeout <= 0 {
		c.Connection.DialTimeout = Duration(10 * time.Second)
	}
	if c.Connection.JoinTimeout <= 0 {
		c.Connection.JoinTimeout = Duration(5 * time.Second)
	}
	if c.Connection.ReconnectMin <= 0 {
		c.Connection.ReconnectMin = Duration(time.Second)
	}
	if c.Connection.ReconnectMax <= 0 {
		c.Connection.ReconnectMax = Duration(30 * time.Second)
	}
	if c.Presence.Status == "" {
		c.Presence.Status = chat.PresenceOnline
	}
	if c.Typing.Interval <= 0 {
		c.Typing.Interval = Duration(3 * time.Second)
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	for i := range c.Reminders {
		if c.Reminders[i].Name == "" {
			c.Reminders[i].Name = c.Reminders[i].Schedule
		}
	}
}

// Duration is a time.Duration that unmarshals from YAML strings such as
// "5s" or "1m30s".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return fmt.Errorf("config: duration must be a string like \"5s\": %w", err)
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("config: invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/parley-chat/parley/pkg/chat"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "parley.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	return path
}

func TestLoad_Full(t *testing.T) {
	path := writeConfig(t, `
version: "1"
server:
  api_url: https://parley.example.com/api/v1
  websocket_url: wss://parley.example.com/ws
  token: tok-123
connection:
  dial_timeout: 15s
  join_timeout: 3s
rooms:
  - type: channel
    id: general
  - type: dm
    id: u42
presence:
  status: away
typing:
  interval: 2s
reminders:
  - conversation:
      type: channel
      id: general
    schedule: "0 9 * * 1-5"
    content: Standup in 15 minutes
admin:
  addr: 127.0.0.1:8754
log:
  level: debug
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}

	if cfg.Server.Token != "tok-123" {
		t.Errorf("Token = %q, want %q", cfg.Server.Token, "tok-123")
	}
	if cfg.Connection.DialTimeout.Std() != 15*time.Second {
		t.Errorf("DialTimeout = %s, want 15s", cfg.Connection.DialTimeout.Std())
	}
	if cfg.Connection.JoinTimeout.Std() != 3*time.Second {
		t.Errorf("JoinTimeout = %s, want 3s", cfg.Connection.JoinTimeout.Std())
	}
	if len(cfg.Rooms) != 2 {
		t.Fatalf("len(Rooms) = %d, want 2", len(cfg.Rooms))
	}
	if cfg.Rooms[0] != chat.NewChannel("general") {
		t.Errorf("Rooms[0] = %v, want channel:general", cfg.Rooms[0])
	}
	if cfg.Rooms[1] != chat.NewDM("u42") {
		t.Errorf("Rooms[1] = %v, want dm:u42", cfg.Rooms[1])
	}
	if cfg.Presence.Status != chat.PresenceAway {
		t.Errorf("Presence.Status = %q, want away", cfg.Presence.Status)
	}
	if len(cfg.Reminders) != 1 || cfg.Reminders[0].Schedule != "0 9 * * 1-5" {
		t.Errorf("Reminders = %+v, want one standup entry", cfg.Reminders)
	}
	if cfg.Admin.Addr != "127.0.0.1:8754" {
		t.Errorf("Admin.Addr = %q, want 127.0.0.1:8754", cfg.Admin.Addr)
	}

	if err := Validate(cfg); err != nil {
		t.Errorf("Validate error: %v", err)
	}
}

func TestLoad_Defaults(t *testing.T) {
	path := writeConfig(t, `
version: "1"
server:
  api_url: https://parley.example.com/api/v1
  websocket_url: wss://parley.example.com/ws
  token: tok-123
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}

	if cfg.Connection.DialTimeout.Std() != 10*time.Second {
		t.Errorf("DialTimeout default = %s, want 10s", cfg.Connection.DialTimeout.Std())
	}
	if cfg.Connection.JoinTimeout.Std() != 5*time.Second {
		t.Errorf("JoinTimeout default = %s, want 5s", cfg.Connection.JoinTimeout.Std())
	}
	if cfg.Connection.ReconnectMin.Std() != time.Second {
		t.Errorf("ReconnectMin default = %s, want 1s", cfg.Connection.ReconnectMin.Std())
	}
	if cfg.Connection.ReconnectMax.Std() != 30*time.Second {
		t.Errorf("ReconnectMax default = %s, want 30s", cfg.Connection.ReconnectMax.Std())
	}
	if cfg.Presence.Status != chat.PresenceOnline {
		t.Errorf("Presence.Status default = %q, want online", cfg.Presence.Status)
	}
	if cfg.Typing.Interval.Std() != 3*time.Second {
		t.Errorf("Typing.Interval default = %s, want 3s", cfg.Typing.Interval.Std())
	}
	if cfg.Log.Level != "info" {
		t.Errorf("Log.Level default = %q, want info", cfg.Log.Level)
	}
}

func TestLoad_EnvExpansion(t *testing.T) {
	t.Setenv("PARLEY_TEST_TOKEN", "secret-from-env")

	path := writeConfig(t, `
version: "1"
server:
  api_url: ${PARLEY_TEST_API:-https://parley.example.com/api/v1}
  websocket_url: wss://parley.example.com/ws
  token: ${PARLEY_TEST_TOKEN}
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.Server.Token != "secret-from-env" {
		t.Errorf("Token = %q, want value from environment", cfg.Server.Token)
	}
	if cfg.Server.APIURL != "https://parley.example.com/api/v1" {
		t.Errorf("APIURL = %q, want fallback default", cfg.Server.APIURL)
	}
}

func TestLoad_UnresolvedVariable(t *testing.T) {
	path := writeConfig(t, `
version: "1"
server:
  token: ${PARLEY_TEST_DOES_NOT_EXIST}
`)

	_, err := Load(path)
	if err == nil {
		t.Fatal("expected error for unresolved variable")
	}
	if !strings.Contains(err.Error(), "PARLEY_TEST_DOES_NOT_EXIST") {
		t.Errorf("error should name the unresolved variable: %v", err)
	}
}

func TestLoad_BadDuration(t *testing.T) {
	path := writeConfig(t, `
version: "1"
connection:
  dial_timeout: fast
`)

	_, err := Load(path)
	if err == nil {
		t.Fatal("expected error for invalid duration")
	}
	if !strings.Contains(err.Error(), "duration") {
		t.Errorf("error should mention duration: %v", err)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err == nil {
		t.Fatal("expected error for missing file")
	}
}

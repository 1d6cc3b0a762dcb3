package admin

import (
	"bytes"
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/parley-chat/parley/internal/chattest"
	"github.com/parley-chat/parley/internal/realtime"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
}

// newConn builds an undialed connection. Its state reads back as
// disconnected until Dial is called.
func newConn(t *testing.T, wsURL string) *realtime.Conn {
	t.Helper()

	conn := realtime.NewConn(realtime.Config{
		URL:          wsURL,
		Token:        "test-token",
		JoinTimeout:  200 * time.Millisecond,
		ReconnectMin: 10 * time.Millisecond,
		ReconnectMax: 50 * time.Millisecond,
	}, nil, testLogger(), nil)
	t.Cleanup(func() { conn.Close() })
	return conn
}

// dialedConn starts a scripted server and a connection attached to it.
func dialedConn(t *testing.T) (*chattest.Server, *realtime.Conn) {
	t.Helper()

	srv := chattest.New()
	t.Cleanup(srv.Close)

	conn := newConn(t, srv.WSURL())
	if err := conn.Dial(context.Background()); err != nil {
		t.Fatalf("Dial: %v", err)
	}
	return srv, conn
}

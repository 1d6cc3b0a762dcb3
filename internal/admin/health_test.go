package admin

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/parley-chat/parley/internal/realtime"
)

func TestHealthz_NoSources(t *testing.T) {
	t.Parallel()

	s := New("127.0.0.1:0", Sources{}, testLogger())

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rr := httptest.NewRecorder()
	s.handleHealthz().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rr.Code, http.StatusOK)
	}

	var resp HealthResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Status != "ok" {
		t.Errorf("status = %q, want %q", resp.Status, "ok")
	}
	if resp.Sessions != 0 {
		t.Errorf("sessions = %d, want 0", resp.Sessions)
	}
}

func TestHealthz_LinkUp(t *testing.T) {
	t.Parallel()

	_, conn := dialedConn(t)
	s := New("127.0.0.1:0", Sources{Conn: conn}, testLogger())

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rr := httptest.NewRecorder()
	s.handleHealthz().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rr.Code, http.StatusOK)
	}

	var resp HealthResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Status != "ok" {
		t.Errorf("status = %q, want %q", resp.Status, "ok")
	}
	if resp.Connection != realtime.StateConnected {
		t.Errorf("connection = %q, want %q", resp.Connection, realtime.StateConnected)
	}
}

func TestHealthz_LinkDown(t *testing.T) {
	t.Parallel()

	conn := newConn(t, "ws://127.0.0.1:0/ws")
	s := New("127.0.0.1:0", Sources{Conn: conn}, testLogger())

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rr := httptest.NewRecorder()
	s.handleHealthz().ServeHTTP(rr, req)

	if rr.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", rr.Code, http.StatusServiceUnavailable)
	}

	var resp HealthResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Status != "degraded" {
		t.Errorf("status = %q, want %q", resp.Status, "degraded")
	}
	if resp.Connection != realtime.StateDisconnected {
		t.Errorf("connection = %q, want %q", resp.Connection, realtime.StateDisconnected)
	}
}

package admin

import (
	"encoding/json"
	"net/http"

	"github.com/parley-chat/parley/internal/realtime"
)

// HealthResponse is the JSON response for GET /healthz.
type HealthResponse struct {
	Status     string         `json:"status"` // "ok" or "degraded"
	Connection realtime.State `json:"connection,omitempty"`
	Sessions   int            `json:"sessions"`
}

// handleHealthz returns an http.HandlerFunc for GET /healthz.
// Returns 200 while the realtime link is up, 503 once it drops.
func (s *Server) handleHealthz() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		resp := HealthResponse{
			Status: "ok",
		}

		if s.src.Conn != nil {
			resp.Connection = s.src.Conn.State()
			if resp.Connection != realtime.StateConnected {
				resp.Status = "degraded"
			}
		}

		if s.src.Sessions != nil {
			resp.Sessions = s.src.Sessions.Len()
		}

		w.Header().Set("Content-Type", "application/json")
		if resp.Status == "degraded" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(resp)
	}
}

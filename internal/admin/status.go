package admin

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/parley-chat/parley/internal/metrics"
	"github.com/parley-chat/parley/internal/realtime"
	"github.com/parley-chat/parley/internal/timeline"
)

// StatusResponse is the JSON response for GET /status.
type StatusResponse struct {
	UptimeSeconds int64            `json:"uptime_seconds"`
	Connection    ConnectionStatus `json:"connection"`
	Sessions      []SessionStatus  `json:"sessions"`
	Notifications int64            `json:"notifications"`
	Metrics       metrics.Snapshot `json:"metrics"`
}

// ConnectionStatus reports the realtime link and its acknowledged rooms.
type ConnectionStatus struct {
	State realtime.State `json:"state,omitempty"`
	Rooms []string       `json:"rooms,omitempty"`
}

// SessionStatus reports one open conversation view.
type SessionStatus struct {
	Conversation string         `json:"conversation"`
	Phase        timeline.Phase `json:"phase"`
	Live         bool           `json:"live"`
	Messages     int            `json:"messages"`
}

// handleStatus returns an http.HandlerFunc for GET /status.
func (s *Server) handleStatus() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		resp := StatusResponse{
			UptimeSeconds: int64(time.Since(s.startedAt).Seconds()),
		}

		if c := s.src.Conn; c != nil {
			resp.Connection.State = c.State()
			for _, room := range c.Rooms() {
				resp.Connection.Rooms = append(resp.Connection.Rooms, room.String())
			}
		}

		if reg := s.src.Sessions; reg != nil {
			for _, conv := range reg.Conversations() {
				sess := reg.Get(conv)
				if sess == nil {
					continue
				}
				tl := sess.Timeline()
				resp.Sessions = append(resp.Sessions, SessionStatus{
					Conversation: conv.String(),
					Phase:        tl.Phase(),
					Live:         sess.Live(),
					Messages:     tl.Len(),
				})
			}
		}

		if s.src.Notifications != nil {
			resp.Notifications = s.src.Notifications.Count()
		}

		if s.src.Metrics != nil {
			resp.Metrics = s.src.Metrics.Snapshot()
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}
}

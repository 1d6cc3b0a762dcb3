// Package chattest provides an in-process workspace server for tests. It
// speaks the realtime envelope protocol on /ws and serves the REST surface
// the api client targets, backed by a small in-memory store. Join verdicts,
// event broadcasts, and request failures are scriptable per test.
package chattest

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"

	"github.com/parley-chat/parley/pkg/chat"
)

const waitTimeout = 2 * time.Second

// envelope mirrors the wire framing of the realtime protocol.
type envelope struct {
	Type      string          `json:"type"`
	ID        string          `json:"id,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// Frame is one decoded frame received from a client.
type Frame struct {
	Type    string
	ID      string
	Payload json.RawMessage
}

// Server is an in-process workspace server.
type Server struct {
	ts *httptest.Server

	mu       sync.Mutex
	token    string
	echo     bool
	failNext int
	denyJoin map[string]bool
	dropJoin map[string]bool
	frames   []Frame
	log      []string
	clients  map[*websocket.Conn]struct{}
	store    map[string][]chat.Message
	pins     map[string][]chat.Message
	author   chat.User
	seq      int
	presence chat.PresenceStatus
}

// New starts a Server. Callers must Close it.
func New() *Server {
	s := &Server{
		denyJoin: make(map[string]bool),
		dropJoin: make(map[string]bool),
		clients:  make(map[*websocket.Conn]struct{}),
		store:    make(map[string][]chat.Message),
		pins:     make(map[string][]chat.Message),
		author:   chat.User{ID: "u-server", Username: "server"},
	}
	s.ts = httptest.NewServer(s.routes())
	return s
}

// Close disconnects every client and shuts the server down.
func (s *Server) Close() {
	s.CloseClients()
	s.ts.Close()
}

// URL is the base URL of the REST surface.
func (s *Server) URL() string { return s.ts.URL }

// WSURL is the WebSocket endpoint URL.
func (s *Server) WSURL() string { return "ws" + strings.TrimPrefix(s.ts.URL, "http") + "/ws" }

// RequireToken makes every endpoint demand the given bearer token.
func (s *Server) RequireToken(token string) {
	s.mu.Lock()
	s.token = token
	s.mu.Unlock()
}

// DenyJoin makes joins for the given conversation id ack false.
func (s *Server) DenyJoin(convID string) {
	s.mu.Lock()
	s.denyJoin[convID] = true
	s.mu.Unlock()
}

// DropJoin makes joins for the given conversation id go unanswered.
func (s *Server) DropJoin(convID string) {
	s.mu.Lock()
	s.dropJoin[convID] = true
	s.mu.Unlock()
}

// AllowJoin clears a previous DenyJoin or DropJoin.
func (s *Server) AllowJoin(convID string) {
	s.mu.Lock()
	delete(s.denyJoin, convID)
	delete(s.dropJoin, convID)
	s.mu.Unlock()
}

// EchoBroadcast controls whether REST mutations broadcast their realtime
// event, as the production server does. Off by default so tests can drive
// the two paths independently.
func (s *Server) EchoBroadcast(on bool) {
	s.mu.Lock()
	s.echo = on
	s.mu.Unlock()
}

// FailNext makes the next REST request fail with the given status.
func (s *Server) FailNext(status int) {
	s.mu.Lock()
	s.failNext = status
	s.mu.Unlock()
}

// SetAuthor sets the user attributed to REST mutations.
func (s *Server) SetAuthor(u chat.User) {
	s.mu.Lock()
	s.author = u
	s.mu.Unlock()
}

// Seed replaces the stored history of a conversation.
func (s *Server) Seed(convID string, msgs ...chat.Message) {
	s.mu.Lock()
	s.store[convID] = slices.Clone(msgs)
	s.mu.Unlock()
}

// SeedPins replaces the stored pin list of a conversation.
func (s *Server) SeedPins(convID string, msgs ...chat.Message) {
	s.mu.Lock()
	s.pins[convID] = slices.Clone(msgs)
	s.mu.Unlock()
}

// Messages returns a copy of the stored history of a conversation.
func (s *Server) Messages(convID string) []chat.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.store[convID])
}

// Frames returns a copy of every frame received so far.
func (s *Server) Frames() []Frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.frames)
}

// Interactions returns the chronological log of everything the server
// handled: "ws:<frame-type>" for realtime frames and "<METHOD> <path>" for
// REST requests. Useful for asserting ordering across the two surfaces.
func (s *Server) Interactions() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.log)
}

// FramesOfType returns the received frames of the given type, in order.
func (s *Server) FramesOfType(t string) []Frame {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Frame
	for _, f := range s.frames {
		if f.Type == t {
			out = append(out, f)
		}
	}
	return out
}

// WaitFrame blocks until at least n frames of the given type have been
// received and returns the n-th (1-based), or an error after two seconds.
func (s *Server) WaitFrame(t string, n int) (Frame, error) {
	deadline := time.Now().Add(waitTimeout)
	for time.Now().Before(deadline) {
		if frames := s.FramesOfType(t); len(frames) >= n {
			return frames[n-1], nil
		}
		time.Sleep(5 * time.Millisecond)
	}
	return Frame{}, fmt.Errorf("chattest: no %s frame #%d within %s", t, n, waitTimeout)
}

// Presence returns the last status set through the REST presence endpoint.
func (s *Server) Presence() chat.PresenceStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.presence
}

// ClientCount returns the number of live sockets.
func (s *Server) ClientCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

// WaitClients blocks until exactly n sockets are live, or errors after two
// seconds.
func (s *Server) WaitClients(n int) error {
	deadline := time.Now().Add(waitTimeout)
	for time.Now().Before(deadline) {
		if s.ClientCount() == n {
			return nil
		}
		time.Sleep(5 * time.Millisecond)
	}
	return fmt.Errorf("chattest: client count never reached %d within %s", n, waitTimeout)
}

// CloseClients force-closes every live socket, simulating a dropped
// connection.
func (s *Server) CloseClients() {
	for _, ws := range s.liveClients() {
		_ = ws.Close(websocket.StatusGoingAway, "server restart")
	}
}

// Broadcast pushes one event frame to every connected client. The payload
// must be JSON-marshalable.
func (s *Server) Broadcast(eventType string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		panic(fmt.Sprintf("chattest: marshal %s payload: %v", eventType, err))
	}
	s.BroadcastRaw(eventType, data)
}

// BroadcastRaw pushes an event frame with a verbatim payload, valid or not.
func (s *Server) BroadcastRaw(eventType string, payload []byte) {
	env := envelope{Type: eventType, Payload: payload, Timestamp: time.Now()}
	for _, ws := range s.liveClients() {
		s.sendEnvelope(ws, env)
	}
}

// BroadcastText pushes raw bytes with no envelope framing at all.
func (s *Server) BroadcastText(data string) {
	for _, ws := range s.liveClients() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		_ = ws.Write(ctx, websocket.MessageText, []byte(data))
		cancel()
	}
}

func (s *Server) liveClients() []*websocket.Conn {
	s.mu.Lock()
	defer s.mu.Unlock()

	clients := make([]*websocket.Conn, 0, len(s.clients))
	for ws := range s.clients {
		clients = append(clients, ws)
	}
	return clients
}

func (s *Server) sendEnvelope(ws *websocket.Conn, env envelope) {
	data, err := json.Marshal(env)
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_ = ws.Write(ctx, websocket.MessageText, data)
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(s.gate)
	r.Get("/ws", s.handleWS)
	r.Put("/presence", s.handleSetPresence)
	r.Route("/conversations/{kind}/{id}", func(r chi.Router) {
		r.Get("/messages", s.handleHistory)
		r.Post("/messages", s.handleSend)
		r.Get("/pins", s.handleListPins)
		r.Route("/messages/{msg}", func(r chi.Router) {
			r.Patch("/", s.handleEdit)
			r.Delete("/", s.handleDelete)
			r.Get("/thread", s.handleThread)
			r.Post("/reactions", s.handleAddReaction)
			r.Delete("/reactions/{emoji}", s.handleRemoveReaction)
			r.Put("/pin", s.handlePin)
			r.Delete("/pin", s.handleUnpin)
		})
	})
	return r
}

// gate applies scripted failures to REST requests and the token check to
// everything.
func (s *Server) gate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		token := s.token
		code := 0
		if r.URL.Path != "/ws" {
			code = s.failNext
			s.failNext = 0
		}
		s.mu.Unlock()

		if code != 0 {
			http.Error(w, http.StatusText(code), code)
			return
		}
		if token != "" && r.Header.Get("Authorization") != "Bearer "+token {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		if r.URL.Path != "/ws" {
			s.mu.Lock()
			s.log = append(s.log, r.Method+" "+r.URL.Path)
			s.mu.Unlock()
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	ws, err := websocket.Accept(w, r, nil)
	if err != nil {
		return
	}

	s.mu.Lock()
	s.clients[ws] = struct{}{}
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.clients, ws)
		s.mu.Unlock()
		_ = ws.Close(websocket.StatusNormalClosure, "")
	}()

	for {
		_, data, err := ws.Read(r.Context())
		if err != nil {
			return
		}

		var env envelope
		if err := json.Unmarshal(data, &env); err != nil {
			continue
		}

		s.mu.Lock()
		s.frames = append(s.frames, Frame{Type: env.Type, ID: env.ID, Payload: env.Payload})
		s.log = append(s.log, "ws:"+env.Type)
		s.mu.Unlock()

		switch env.Type {
		case "join-channel", "join-dm":
			var p struct {
				ID string `json:"id"`
			}
			_ = json.Unmarshal(env.Payload, &p)

			s.mu.Lock()
			deny := s.denyJoin[p.ID]
			drop := s.dropJoin[p.ID]
			s.mu.Unlock()
			if drop {
				continue
			}

			payload, _ := json.Marshal(map[string]bool{"ok": !deny})
			s.sendEnvelope(ws, envelope{
				Type:      "ack",
				ID:        env.ID,
				Payload:   payload,
				Timestamp: time.Now(),
			})
		}
	}
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	convID := chi.URLParam(r, "id")
	before := r.URL.Query().Get("before")
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 {
		limit = 50
	}

	s.mu.Lock()
	msgs := s.store[convID]
	end := len(msgs)
	if before != "" {
		end = 0
		for i := range msgs {
			if msgs[i].ID == before {
				end = i
				break
			}
		}
	}
	start := max(end-limit, 0)
	page := slices.Clone(msgs[start:end])
	s.mu.Unlock()

	if page == nil {
		page = []chat.Message{}
	}
	writeJSON(w, http.StatusOK, page)
}

func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	convID := chi.URLParam(r, "id")
	var req struct {
		Content  string `json:"content"`
		ClientID string `json:"client_id"`
		ParentID string `json:"parent_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	s.seq++
	msg := chat.Message{
		ID:             fmt.Sprintf("srv%d", s.seq),
		ClientID:       req.ClientID,
		ConversationID: convID,
		ParentID:       req.ParentID,
		Author:         s.author,
		Content:        req.Content,
		CreatedAt:      time.Now().UTC(),
	}
	s.store[convID] = append(s.store[convID], msg)
	echo := s.echo
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, msg)
	if echo {
		s.Broadcast(string(chat.EventNewMessage), msg)
	}
}

func (s *Server) handleEdit(w http.ResponseWriter, r *http.Request) {
	convID := chi.URLParam(r, "id")
	msgID := chi.URLParam(r, "msg")
	var req struct {
		Content string `json:"content"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	i, ok := s.findLocked(convID, msgID)
	if !ok {
		s.mu.Unlock()
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	s.store[convID][i].Content = req.Content
	s.store[convID][i].Edited = true
	s.store[convID][i].UpdatedAt = time.Now().UTC()
	msg := s.store[convID][i]
	echo := s.echo
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, msg)
	if echo {
		s.Broadcast(string(chat.EventMessageUpdated), msg)
	}
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	convID := chi.URLParam(r, "id")
	msgID := chi.URLParam(r, "msg")

	s.mu.Lock()
	i, ok := s.findLocked(convID, msgID)
	if !ok {
		s.mu.Unlock()
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	s.store[convID][i].Content = chat.DeletedPlaceholder
	s.store[convID][i].Deleted = true
	echo := s.echo
	s.mu.Unlock()

	w.WriteHeader(http.StatusNoContent)
	if echo {
		s.Broadcast(string(chat.EventMessageDeleted), map[string]string{
			"id":              msgID,
			"conversation_id": convID,
		})
	}
}

func (s *Server) handleAddReaction(w http.ResponseWriter, r *http.Request) {
	convID := chi.URLParam(r, "id")
	msgID := chi.URLParam(r, "msg")
	var req struct {
		Emoji string `json:"emoji"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	i, ok := s.findLocked(convID, msgID)
	if !ok {
		s.mu.Unlock()
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	user := s.author.ID
	if !s.store[convID][i].HasReaction(req.Emoji, user) {
		s.store[convID][i].Reactions = append(s.store[convID][i].Reactions, chat.Reaction{
			Emoji:  req.Emoji,
			UserID: user,
		})
	}
	echo := s.echo
	s.mu.Unlock()

	w.WriteHeader(http.StatusNoContent)
	if echo {
		s.Broadcast(string(chat.EventReactionAdded), map[string]any{
			"message_id": msgID,
			"reaction":   chat.Reaction{Emoji: req.Emoji, UserID: user},
		})
	}
}

func (s *Server) handleRemoveReaction(w http.ResponseWriter, r *http.Request) {
	convID := chi.URLParam(r, "id")
	msgID := chi.URLParam(r, "msg")
	emoji := chi.URLParam(r, "emoji")

	s.mu.Lock()
	i, ok := s.findLocked(convID, msgID)
	if !ok {
		s.mu.Unlock()
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	user := s.author.ID
	s.store[convID][i].Reactions = slices.DeleteFunc(s.store[convID][i].Reactions, func(re chat.Reaction) bool {
		return re.Emoji == emoji && re.UserID == user
	})
	echo := s.echo
	s.mu.Unlock()

	w.WriteHeader(http.StatusNoContent)
	if echo {
		s.Broadcast(string(chat.EventReactionRemoved), map[string]string{
			"message_id": msgID,
			"emoji":      emoji,
			"user_id":    user,
		})
	}
}

func (s *Server) handlePin(w http.ResponseWriter, r *http.Request) {
	convID := chi.URLParam(r, "id")
	msgID := chi.URLParam(r, "msg")

	s.mu.Lock()
	i, ok := s.findLocked(convID, msgID)
	if !ok {
		s.mu.Unlock()
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	s.store[convID][i].Pinned = &chat.PinInfo{At: time.Now().UTC(), By: s.author.ID}
	msg := s.store[convID][i]
	if !slices.ContainsFunc(s.pins[convID], func(m chat.Message) bool { return m.ID == msgID }) {
		s.pins[convID] = append(s.pins[convID], msg)
	}
	echo := s.echo
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, msg)
	if echo {
		s.Broadcast(string(chat.EventMessagePinned), map[string]any{
			"message_id": msgID,
			"message":    msg,
		})
	}
}

func (s *Server) handleUnpin(w http.ResponseWriter, r *http.Request) {
	convID := chi.URLParam(r, "id")
	msgID := chi.URLParam(r, "msg")

	s.mu.Lock()
	if i, ok := s.findLocked(convID, msgID); ok {
		s.store[convID][i].Pinned = nil
	}
	s.pins[convID] = slices.DeleteFunc(s.pins[convID], func(m chat.Message) bool {
		return m.ID == msgID
	})
	echo := s.echo
	s.mu.Unlock()

	w.WriteHeader(http.StatusNoContent)
	if echo {
		s.Broadcast(string(chat.EventMessageUnpinned), map[string]string{
			"message_id": msgID,
		})
	}
}

func (s *Server) handleSetPresence(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Status chat.PresenceStatus `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	s.presence = req.Status
	s.mu.Unlock()

	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListPins(w http.ResponseWriter, r *http.Request) {
	convID := chi.URLParam(r, "id")

	s.mu.Lock()
	pins := slices.Clone(s.pins[convID])
	s.mu.Unlock()

	if pins == nil {
		pins = []chat.Message{}
	}
	writeJSON(w, http.StatusOK, pins)
}

func (s *Server) handleThread(w http.ResponseWriter, r *http.Request) {
	convID := chi.URLParam(r, "id")
	parentID := chi.URLParam(r, "msg")

	s.mu.Lock()
	replies := []chat.Message{}
	for _, m := range s.store[convID] {
		if m.ParentID == parentID {
			replies = append(replies, m)
		}
	}
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, replies)
}

// findLocked returns the index of a message in a conversation's store. The
// caller holds s.mu.
func (s *Server) findLocked(convID, msgID string) (int, bool) {
	msgs := s.store[convID]
	for i := range msgs {
		if msgs[i].ID == msgID {
			return i, true
		}
	}
	return -1, false
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

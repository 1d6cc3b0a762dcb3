// Package notify watches server-pushed notifications (mentions, direct
// messages, invites) and keeps a short in-memory feed for the status
// surface. Delivery is independent of room membership; the watcher sees
// every notification the server addresses to this user.
package notify

import (
	"log/slog"
	"slices"
	"sync"

	"github.com/parley-chat/parley/internal/realtime"
	"github.com/parley-chat/parley/pkg/chat"
)

// recentLimit caps the in-memory feed.
const recentLimit = 50

// Watcher subscribes to notification events, logs each one, and retains
// the most recent entries.
type Watcher struct {
	logger *slog.Logger
	sub    *realtime.Subscription

	mu     sync.Mutex
	count  int64
	recent []chat.Notification
}

// NewWatcher attaches a watcher to the dispatcher.
func NewWatcher(d *realtime.Dispatcher, logger *slog.Logger) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}
	w := &Watcher{logger: logger}
	w.sub = d.Subscribe(chat.EventNewNotification, w.handle)
	return w
}

func (w *Watcher) handle(ev chat.Event) {
	e, ok := ev.(chat.NewNotificationEvent)
	if !ok {
		return
	}
	n := e.Notification

	w.logger.Info("notification",
		"id", n.ID,
		"kind", n.Kind,
		"title", n.Title,
		"conversation", n.ConversationID,
	)

	w.mu.Lock()
	w.count++
	w.recent = append(w.recent, n)
	if len(w.recent) > recentLimit {
		w.recent = slices.Delete(w.recent, 0, len(w.recent)-recentLimit)
	}
	w.mu.Unlock()
}

// Count returns the number of notifications seen since start.
func (w *Watcher) Count() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.count
}

// Recent returns a copy of the retained notifications, oldest first.
func (w *Watcher) Recent() []chat.Notification {
	w.mu.Lock()
	defer w.mu.Unlock()
	return slices.Clone(w.recent)
}

// Close detaches the watcher from the dispatcher.
func (w *Watcher) Close() {
	w.sub.Close()
}

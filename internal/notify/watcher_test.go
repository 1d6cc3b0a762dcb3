package notify

import (
	"bytes"
	"log/slog"
	"strconv"
	"testing"

	"github.com/parley-chat/parley/internal/realtime"
	"github.com/parley-chat/parley/pkg/chat"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
}

func notification(id string) chat.NewNotificationEvent {
	return chat.NewNotificationEvent{Notification: chat.Notification{
		ID:    id,
		Kind:  "mention",
		Title: "You were mentioned",
	}}
}

func TestWatcherCountsAndRetains(t *testing.T) {
	t.Parallel()

	d := realtime.NewDispatcher()
	w := NewWatcher(d, testLogger())
	defer w.Close()

	d.Dispatch(notification("n1"))
	d.Dispatch(notification("n2"))

	if got := w.Count(); got != 2 {
		t.Fatalf("Count() = %d, want 2", got)
	}
	recent := w.Recent()
	if len(recent) != 2 || recent[0].ID != "n1" || recent[1].ID != "n2" {
		t.Fatalf("Recent() = %v, want [n1 n2]", recent)
	}
}

func TestWatcherTrimsFeed(t *testing.T) {
	t.Parallel()

	d := realtime.NewDispatcher()
	w := NewWatcher(d, testLogger())
	defer w.Close()

	for i := range recentLimit + 10 {
		d.Dispatch(notification("n" + strconv.Itoa(i)))
	}

	recent := w.Recent()
	if len(recent) != recentLimit {
		t.Fatalf("Recent() holds %d, want capped at %d", len(recent), recentLimit)
	}
	if recent[0].ID != "n10" {
		t.Fatalf("oldest retained = %s, want n10", recent[0].ID)
	}
	if got := w.Count(); got != int64(recentLimit+10) {
		t.Fatalf("Count() = %d, want %d", got, recentLimit+10)
	}
}

func TestWatcherCloseDetaches(t *testing.T) {
	t.Parallel()

	d := realtime.NewDispatcher()
	w := NewWatcher(d, testLogger())
	w.Close()

	d.Dispatch(notification("n1"))
	if got := w.Count(); got != 0 {
		t.Fatalf("Count() = %d after Close, want 0", got)
	}
}

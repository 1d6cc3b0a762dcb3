package timeline

import (
	"slices"
	"testing"
	"time"

	"github.com/parley-chat/parley/pkg/chat"
)

func msg(id, conv, content string) chat.Message {
	return chat.Message{
		ID:             id,
		ConversationID: conv,
		Author:         chat.User{ID: "u1", Username: "alice"},
		Content:        content,
		CreatedAt:      time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC),
	}
}

func readyTimeline(conv chat.Conversation) *Timeline {
	t := New(conv)
	t.BeginJoin()
	t.MarkReady(true)
	return t
}

func reactionAdded(msgID, emoji, userID string) chat.ReactionAddedEvent {
	return chat.ReactionAddedEvent{
		MessageID: msgID,
		Reaction:  chat.Reaction{Emoji: emoji, UserID: userID},
	}
}

func ids(msgs []chat.Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.ID
	}
	return out
}

func TestInsertDedup(t *testing.T) {
	t.Parallel()

	tl := readyTimeline(chat.NewChannel("general"))
	ev := chat.NewMessageEvent{Message: msg("m1", "general", "hello")}

	tl.Apply(ev)
	tl.Apply(ev)

	if got := tl.Len(); got != 1 {
		t.Fatalf("Len() = %d after duplicate insert, want 1", got)
	}
}

func TestInsertArrivalOrder(t *testing.T) {
	t.Parallel()

	tl := readyTimeline(chat.NewChannel("general"))
	for _, id := range []string{"m1", "m2", "m3"} {
		tl.Apply(chat.NewMessageEvent{Message: msg(id, "general", id)})
	}

	if got := ids(tl.Messages()); !slices.Equal(got, []string{"m1", "m2", "m3"}) {
		t.Fatalf("message order = %v, want [m1 m2 m3]", got)
	}
}

func TestContextIsolation(t *testing.T) {
	t.Parallel()

	tl := readyTimeline(chat.NewChannel("general"))
	tl.Apply(chat.NewMessageEvent{Message: msg("m1", "general", "ours")})

	tl.Apply(chat.NewMessageEvent{Message: msg("m2", "random", "not ours")})
	other := msg("m1", "random", "edited elsewhere")
	tl.Apply(chat.MessageUpdatedEvent{Message: other})
	tl.Apply(chat.MessageDeletedEvent{ID: "m1", ConversationID: "random"})

	msgs := tl.Messages()
	if len(msgs) != 1 {
		t.Fatalf("len = %d, want 1", len(msgs))
	}
	if msgs[0].Content != "ours" || msgs[0].Edited || msgs[0].Deleted {
		t.Fatalf("entry mutated by foreign-conversation events: %+v", msgs[0])
	}
}

func TestUpdateSetsEdited(t *testing.T) {
	t.Parallel()

	tl := readyTimeline(chat.NewChannel("general"))
	tl.Apply(chat.NewMessageEvent{Message: msg("m1", "general", "first")})
	tl.Apply(chat.NewMessageEvent{Message: msg("m2", "general", "second")})

	edit := msg("m1", "general", "first, revised")
	edit.UpdatedAt = time.Date(2026, 3, 14, 9, 5, 0, 0, time.UTC)
	tl.Apply(chat.MessageUpdatedEvent{Message: edit})

	got, ok := tl.Message("m1")
	if !ok {
		t.Fatal("m1 missing after update")
	}
	if got.Content != "first, revised" || !got.Edited {
		t.Fatalf("update not applied: %+v", got)
	}
	if !got.UpdatedAt.Equal(edit.UpdatedAt) {
		t.Fatalf("UpdatedAt = %v, want %v", got.UpdatedAt, edit.UpdatedAt)
	}
	if got := ids(tl.Messages()); !slices.Equal(got, []string{"m1", "m2"}) {
		t.Fatalf("order changed by update: %v", got)
	}

	// An edit for an unknown identity is dropped.
	tl.Apply(chat.MessageUpdatedEvent{Message: msg("m9", "general", "ghost")})
	if got := tl.Len(); got != 2 {
		t.Fatalf("Len() = %d after unknown-id update, want 2", got)
	}
}

func TestTombstonePreservesPosition(t *testing.T) {
	t.Parallel()

	tl := readyTimeline(chat.NewChannel("general"))
	for _, id := range []string{"m1", "m2", "m3"} {
		tl.Apply(chat.NewMessageEvent{Message: msg(id, "general", "body "+id)})
	}

	tl.Apply(chat.MessageDeletedEvent{ID: "m2", ConversationID: "general"})

	msgs := tl.Messages()
	if got := ids(msgs); !slices.Equal(got, []string{"m1", "m2", "m3"}) {
		t.Fatalf("order after tombstone = %v, want [m1 m2 m3]", got)
	}
	got := msgs[1]
	if !got.Deleted || got.Content != chat.DeletedPlaceholder {
		t.Fatalf("tombstone not applied: %+v", got)
	}
	if got.CreatedAt.IsZero() || got.Author.ID != "u1" {
		t.Fatalf("tombstone lost identity fields: %+v", got)
	}
}

func TestReactionAfterTombstone(t *testing.T) {
	t.Parallel()

	tl := readyTimeline(chat.NewChannel("general"))
	tl.Apply(chat.NewMessageEvent{Message: msg("m1", "general", "hello")})
	tl.Apply(chat.MessageDeletedEvent{ID: "m1", ConversationID: "general"})
	tl.Apply(reactionAdded("m1", "👍", "u2"))

	got, _ := tl.Message("m1")
	if !got.Deleted {
		t.Fatalf("tombstone lost: %+v", got)
	}
	if len(got.Reactions) != 1 || got.Reactions[0].Emoji != "👍" {
		t.Fatalf("reactions = %v, want the post-delete reaction", got.Reactions)
	}
}

func TestReactionTripleUniqueness(t *testing.T) {
	t.Parallel()

	tl := readyTimeline(chat.NewChannel("general"))
	tl.Apply(chat.NewMessageEvent{Message: msg("m1", "general", "hello")})

	add := reactionAdded("m1", "👍", "u2")
	tl.Apply(add)
	tl.Apply(add)
	tl.Apply(reactionAdded("m1", "👍", "u3"))

	got, _ := tl.Message("m1")
	if len(got.Reactions) != 2 {
		t.Fatalf("reactions = %v, want one per (emoji, user) pair", got.Reactions)
	}

	tl.Apply(chat.ReactionRemovedEvent{MessageID: "m1", Emoji: "👍", UserID: "u2"})
	got, _ = tl.Message("m1")
	if len(got.Reactions) != 1 || got.Reactions[0].UserID != "u3" {
		t.Fatalf("reactions after remove = %v, want only u3", got.Reactions)
	}
}

func TestReactionIgnoredWhenTargetAbsent(t *testing.T) {
	t.Parallel()

	tl := readyTimeline(chat.NewChannel("general"))
	tl.Apply(reactionAdded("m404", "👍", "u2"))
	tl.Apply(chat.ReactionRemovedEvent{MessageID: "m404", Emoji: "👍", UserID: "u2"})

	if got := tl.Len(); got != 0 {
		t.Fatalf("Len() = %d, want 0", got)
	}
}

func TestSnapshotsUnaffectedByLaterMutation(t *testing.T) {
	t.Parallel()

	tl := readyTimeline(chat.NewChannel("general"))
	tl.Apply(chat.NewMessageEvent{Message: msg("m1", "general", "hello")})
	tl.Apply(reactionAdded("m1", "👍", "u2"))

	snap := tl.Messages()
	tl.Apply(reactionAdded("m1", "🎉", "u3"))
	tl.Apply(chat.ReactionRemovedEvent{MessageID: "m1", Emoji: "👍", UserID: "u2"})

	if len(snap[0].Reactions) != 1 || snap[0].Reactions[0].Emoji != "👍" {
		t.Fatalf("snapshot mutated by later events: %v", snap[0].Reactions)
	}
}

func TestPinUnpinSymmetry(t *testing.T) {
	t.Parallel()

	tl := readyTimeline(chat.NewChannel("general"))
	for _, id := range []string{"m1", "m2", "m3"} {
		tl.Apply(chat.NewMessageEvent{Message: msg(id, "general", id)})
	}

	pinAt := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)
	pinOf := func(id string) chat.Message {
		m := msg(id, "general", id)
		m.Pinned = &chat.PinInfo{At: pinAt, By: "u1"}
		return m
	}
	tl.Apply(chat.MessagePinnedEvent{MessageID: "m2", Message: pinOf("m2")})
	tl.Apply(chat.MessagePinnedEvent{MessageID: "m3", Message: pinOf("m3")})

	if got := ids(tl.Pinned()); !slices.Equal(got, []string{"m2", "m3"}) {
		t.Fatalf("pinned = %v, want [m2 m3]", got)
	}
	if got, _ := tl.Message("m2"); !got.IsPinned() {
		t.Fatal("pin metadata not mirrored onto the timeline entry")
	}

	tl.Apply(chat.MessageUnpinnedEvent{MessageID: "m2"})

	if got := ids(tl.Pinned()); !slices.Equal(got, []string{"m3"}) {
		t.Fatalf("pinned after unpin = %v, want [m3]", got)
	}
	if got, _ := tl.Message("m2"); got.IsPinned() {
		t.Fatal("pin metadata not cleared on unpin")
	}
	if got, _ := tl.Message("m3"); !got.IsPinned() {
		t.Fatal("unpin of m2 disturbed m3")
	}
}

func TestPinDedup(t *testing.T) {
	t.Parallel()

	tl := readyTimeline(chat.NewChannel("general"))
	tl.Apply(chat.NewMessageEvent{Message: msg("m1", "general", "hello")})

	pinned := msg("m1", "general", "hello")
	pinned.Pinned = &chat.PinInfo{By: "u1"}
	tl.Apply(chat.MessagePinnedEvent{MessageID: "m1", Message: pinned})
	tl.Apply(chat.MessagePinnedEvent{MessageID: "m1", Message: pinned})

	if got := len(tl.Pinned()); got != 1 {
		t.Fatalf("pinned length = %d after duplicate pin, want 1", got)
	}
}

func TestPinOutsideLoadedHistory(t *testing.T) {
	t.Parallel()

	tl := readyTimeline(chat.NewChannel("general"))

	old := msg("m-old", "general", "from last year")
	old.Pinned = &chat.PinInfo{By: "u1"}
	tl.Apply(chat.MessagePinnedEvent{MessageID: "m-old", Message: old})

	pins := tl.Pinned()
	if len(pins) != 1 || pins[0].ID != "m-old" || pins[0].Content != "from last year" {
		t.Fatalf("pinned = %+v, want carried snapshot of m-old", pins)
	}
	if got := tl.Len(); got != 0 {
		t.Fatalf("pin inserted into the message list: Len() = %d", got)
	}
}

func TestPinnedReflectsLiveEntry(t *testing.T) {
	t.Parallel()

	tl := readyTimeline(chat.NewChannel("general"))
	tl.Apply(chat.NewMessageEvent{Message: msg("m1", "general", "hello")})

	pinned := msg("m1", "general", "hello")
	pinned.Pinned = &chat.PinInfo{By: "u1"}
	tl.Apply(chat.MessagePinnedEvent{MessageID: "m1", Message: pinned})

	edit := msg("m1", "general", "hello, edited")
	tl.Apply(chat.MessageUpdatedEvent{Message: edit})

	pins := tl.Pinned()
	if pins[0].Content != "hello, edited" || !pins[0].Edited {
		t.Fatalf("pinned view is stale: %+v", pins[0])
	}
}

func TestTypingSet(t *testing.T) {
	t.Parallel()

	tl := readyTimeline(chat.NewChannel("general"))

	tl.Apply(chat.TypingEvent{Username: "bob", ConversationID: "general"})
	tl.Apply(chat.TypingEvent{Username: "alice", ConversationID: "general"})
	tl.Apply(chat.TypingEvent{Username: "bob", ConversationID: "general"})
	tl.Apply(chat.TypingEvent{Username: "eve", ConversationID: "random"})

	if got := tl.TypingUsers(); !slices.Equal(got, []string{"alice", "bob"}) {
		t.Fatalf("typing = %v, want [alice bob]", got)
	}

	tl.Apply(chat.TypingEvent{Username: "bob", ConversationID: "general", Stop: true})
	if got := tl.TypingUsers(); !slices.Equal(got, []string{"alice"}) {
		t.Fatalf("typing after stop = %v, want [alice]", got)
	}

	tl.TearDown()
	if got := tl.TypingUsers(); len(got) != 0 {
		t.Fatalf("typing after teardown = %v, want empty", got)
	}
}

func TestMergeHistoryInFrontOfLiveArrivals(t *testing.T) {
	t.Parallel()

	tl := readyTimeline(chat.NewChannel("general"))
	tl.Apply(chat.NewMessageEvent{Message: msg("m4", "general", "live")})

	tl.MergeHistory([]chat.Message{
		msg("m1", "general", "old 1"),
		msg("m2", "general", "old 2"),
		msg("m3", "general", "old 3"),
	})

	if got := ids(tl.Messages()); !slices.Equal(got, []string{"m1", "m2", "m3", "m4"}) {
		t.Fatalf("merged order = %v, want [m1 m2 m3 m4]", got)
	}
}

func TestMergeHistoryDedupsOverlap(t *testing.T) {
	t.Parallel()

	tl := readyTimeline(chat.NewChannel("general"))
	// m3 arrived live while the history fetch was in flight.
	tl.Apply(chat.NewMessageEvent{Message: msg("m3", "general", "live copy")})

	tl.MergeHistory([]chat.Message{
		msg("m2", "general", "old"),
		msg("m3", "general", "canonical copy"),
	})

	msgs := tl.Messages()
	if got := ids(msgs); !slices.Equal(got, []string{"m2", "m3"}) {
		t.Fatalf("merged order = %v, want [m2 m3]", got)
	}
	if msgs[1].Content != "canonical copy" {
		t.Fatalf("duplicate kept the live copy, want canonical: %q", msgs[1].Content)
	}
}

func TestMergeHistoryConfirmsPending(t *testing.T) {
	t.Parallel()

	tl := readyTimeline(chat.NewChannel("general"))
	tl.AppendPending(chat.Message{ClientID: "c1", Content: "sent before restart"})

	confirmed := msg("srv9", "general", "sent before restart")
	confirmed.ClientID = "c1"
	tl.MergeHistory([]chat.Message{confirmed})

	msgs := tl.Messages()
	if len(msgs) != 1 {
		t.Fatalf("len = %d, want 1", len(msgs))
	}
	if msgs[0].ID != "srv9" || msgs[0].Pending {
		t.Fatalf("pending not confirmed by history page: %+v", msgs[0])
	}
}

func TestBackfillAppendsUnseen(t *testing.T) {
	t.Parallel()

	tl := readyTimeline(chat.NewChannel("general"))
	tl.Apply(chat.NewMessageEvent{Message: msg("m1", "general", "before the drop")})
	tl.Apply(chat.NewMessageEvent{Message: msg("m2", "general", "before the drop")})

	tl.Backfill([]chat.Message{
		msg("m2", "general", "canonical"),
		msg("m3", "general", "missed while down"),
		msg("m4", "general", "missed while down"),
	})

	if got := ids(tl.Messages()); !slices.Equal(got, []string{"m1", "m2", "m3", "m4"}) {
		t.Fatalf("backfilled order = %v, want [m1 m2 m3 m4]", got)
	}
}

func TestMergePins(t *testing.T) {
	t.Parallel()

	tl := readyTimeline(chat.NewChannel("general"))
	tl.Apply(chat.NewMessageEvent{Message: msg("m1", "general", "hello")})

	p1 := msg("m1", "general", "hello")
	p1.Pinned = &chat.PinInfo{By: "u2"}
	p2 := msg("m-old", "general", "outside history")
	p2.Pinned = &chat.PinInfo{By: "u2"}
	tl.MergePins([]chat.Message{p1, p2})

	if got := ids(tl.Pinned()); !slices.Equal(got, []string{"m1", "m-old"}) {
		t.Fatalf("pinned = %v, want [m1 m-old]", got)
	}
	if got, _ := tl.Message("m1"); !got.IsPinned() {
		t.Fatal("canonical pin not mirrored onto the timeline entry")
	}
}

func TestPendingLifecycleConfirmViaResponse(t *testing.T) {
	t.Parallel()

	tl := readyTimeline(chat.NewChannel("general"))
	tl.Apply(chat.NewMessageEvent{Message: msg("m1", "general", "earlier")})
	tl.AppendPending(chat.Message{ClientID: "c1", Content: "optimistic"})

	msgs := tl.Messages()
	if len(msgs) != 2 || !msgs[1].Pending || msgs[1].ID != "c1" {
		t.Fatalf("pending entry = %+v, want provisional identity c1", msgs[1])
	}
	if msgs[1].ConversationID != "general" {
		t.Fatalf("pending entry conversation = %q, want general", msgs[1].ConversationID)
	}

	confirmed := msg("srv1", "general", "optimistic")
	confirmed.ClientID = "c1"
	tl.ConfirmPending("c1", confirmed)

	msgs = tl.Messages()
	if got := ids(msgs); !slices.Equal(got, []string{"m1", "srv1"}) {
		t.Fatalf("order after confirm = %v, want [m1 srv1]", got)
	}
	if msgs[1].Pending {
		t.Fatal("confirmed entry still marked pending")
	}

	// The broadcast echoing the same send must not duplicate the entry.
	tl.Apply(chat.NewMessageEvent{Message: confirmed})
	if got := tl.Len(); got != 2 {
		t.Fatalf("Len() = %d after echo broadcast, want 2", got)
	}
}

func TestPendingConfirmViaBroadcast(t *testing.T) {
	t.Parallel()

	tl := readyTimeline(chat.NewChannel("general"))
	tl.AppendPending(chat.Message{ClientID: "c1", Content: "optimistic"})
	tl.Apply(chat.NewMessageEvent{Message: msg("m-later", "general", "interleaved")})

	confirmed := msg("srv1", "general", "optimistic")
	confirmed.ClientID = "c1"
	tl.Apply(chat.NewMessageEvent{Message: confirmed})

	msgs := tl.Messages()
	if got := ids(msgs); !slices.Equal(got, []string{"srv1", "m-later"}) {
		t.Fatalf("order = %v, want broadcast swapped in place [srv1 m-later]", got)
	}

	// The late REST response finds the entry already canonical and is a
	// no-op.
	tl.ConfirmPending("c1", confirmed)
	if got := tl.Len(); got != 2 {
		t.Fatalf("Len() = %d after late response, want 2", got)
	}
}

func TestDropPendingLeavesNoTrace(t *testing.T) {
	t.Parallel()

	tl := readyTimeline(chat.NewChannel("general"))
	tl.Apply(chat.NewMessageEvent{Message: msg("m1", "general", "earlier")})
	tl.AppendPending(chat.Message{ClientID: "c1", Content: "will fail"})

	tl.DropPending("c1")

	if got := ids(tl.Messages()); !slices.Equal(got, []string{"m1"}) {
		t.Fatalf("messages = %v, want failed send removed", got)
	}
}

func TestThreadReplies(t *testing.T) {
	t.Parallel()

	tl := readyTimeline(chat.NewChannel("general"))
	tl.Apply(chat.NewMessageEvent{Message: msg("m1", "general", "root")})
	reply := msg("m2", "general", "reply")
	reply.ParentID = "m1"
	tl.Apply(chat.NewMessageEvent{Message: reply})
	tl.Apply(chat.NewMessageEvent{Message: msg("m3", "general", "unrelated")})

	got := tl.ThreadReplies("m1")
	if len(got) != 1 || got[0].ID != "m2" {
		t.Fatalf("ThreadReplies = %v, want [m2]", ids(got))
	}
}

func TestPhaseTransitions(t *testing.T) {
	t.Parallel()

	tl := New(chat.NewChannel("general"))
	if got := tl.Phase(); got != PhaseUninitialized {
		t.Fatalf("Phase() = %q, want %q", got, PhaseUninitialized)
	}

	tl.BeginJoin()
	if got := tl.Phase(); got != PhaseJoining {
		t.Fatalf("Phase() = %q, want %q", got, PhaseJoining)
	}

	tl.MarkReady(false)
	if got := tl.Phase(); got != PhaseReady {
		t.Fatalf("Phase() = %q, want %q", got, PhaseReady)
	}
	if tl.Live() {
		t.Fatal("Live() = true after a denied join")
	}

	tl.SetLive(true)
	if !tl.Live() {
		t.Fatal("Live() = false after SetLive(true)")
	}

	tl.TearDown()
	if got := tl.Phase(); got != PhaseTornDown {
		t.Fatalf("Phase() = %q, want %q", got, PhaseTornDown)
	}
}

func TestTornDownIgnoresMutation(t *testing.T) {
	t.Parallel()

	tl := readyTimeline(chat.NewChannel("general"))
	tl.Apply(chat.NewMessageEvent{Message: msg("m1", "general", "kept")})
	tl.TearDown()

	tl.Apply(chat.NewMessageEvent{Message: msg("m2", "general", "late")})
	tl.MergeHistory([]chat.Message{msg("m0", "general", "late")})
	tl.AppendPending(chat.Message{ClientID: "c1", Content: "late"})

	if got := ids(tl.Messages()); !slices.Equal(got, []string{"m1"}) {
		t.Fatalf("messages after teardown = %v, want [m1]", got)
	}
}

// TestEventScenario walks the canonical redelivery sequence: a message
// arrives twice, is deleted, then reacted to.
func TestEventScenario(t *testing.T) {
	t.Parallel()

	tl := readyTimeline(chat.NewChannel("general"))
	ev := chat.NewMessageEvent{Message: msg("m1", "general", "hello")}

	tl.Apply(ev)
	tl.Apply(ev)
	tl.Apply(chat.MessageDeletedEvent{ID: "m1", ConversationID: "general"})
	tl.Apply(reactionAdded("m1", "👍", "u2"))

	msgs := tl.Messages()
	if len(msgs) != 1 {
		t.Fatalf("len = %d, want 1", len(msgs))
	}
	got := msgs[0]
	if got.Content != chat.DeletedPlaceholder || !got.Deleted {
		t.Fatalf("entry = %+v, want tombstone", got)
	}
	if len(got.Reactions) != 1 {
		t.Fatalf("reactions = %v, want the post-delete reaction retained", got.Reactions)
	}
}

// Package timeline keeps the reconciled in-memory view of one
// conversation: the ordered message list, the pinned subset, and the
// typing set. State mutates only through validated realtime events and
// canonical REST responses; deletion tombstones entries in place, so a
// message is never removed while the view is mounted.
package timeline

import (
	"slices"
	"sync"

	"github.com/parley-chat/parley/pkg/chat"
)

// Phase is the lifecycle phase of a mounted conversation view.
type Phase string

// View phases. The view proceeds to Ready whether the join was acked true
// or false; Live reports which it was.
const (
	PhaseUninitialized Phase = "uninitialized"
	PhaseJoining       Phase = "joining"
	PhaseReady         Phase = "ready"
	PhaseTornDown      Phase = "torn_down"
)

// pinnedEntry records one pinned message: the identity plus the snapshot
// carried by the pin event, used when the message sits outside the loaded
// history.
type pinnedEntry struct {
	id   string
	snap chat.Message
}

// Timeline is the reconciled state of one conversation. Safe for
// concurrent use: events arrive on the connection's read goroutine while
// merges and sends come from the session's.
//
// Accessors return snapshots. Nested state (reaction slices, pin info) is
// replaced on mutation, never modified in place, so snapshots stay stable.
type Timeline struct {
	conv chat.Conversation

	mu     sync.RWMutex
	phase  Phase
	live   bool
	msgs   []chat.Message
	pinned []pinnedEntry
	typing map[string]struct{}
}

// New creates a Timeline for one conversation in the Uninitialized phase.
func New(conv chat.Conversation) *Timeline {
	return &Timeline{
		conv:   conv,
		phase:  PhaseUninitialized,
		typing: make(map[string]struct{}),
	}
}

// Conversation returns the conversation this timeline is bound to.
func (t *Timeline) Conversation() chat.Conversation {
	return t.conv
}

// Phase returns the current lifecycle phase.
func (t *Timeline) Phase() Phase {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.phase
}

// Live reports whether the room's join was acknowledged true, i.e. whether
// broadcasts for this conversation are expected to arrive.
func (t *Timeline) Live() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.live
}

// BeginJoin moves Uninitialized to Joining once handlers are registered.
func (t *Timeline) BeginJoin() {
	t.mu.Lock()
	if t.phase == PhaseUninitialized {
		t.phase = PhaseJoining
	}
	t.mu.Unlock()
}

// MarkReady records the join verdict and moves Joining to Ready. The view
// proceeds even when live is false; it just cannot rely on broadcasts.
func (t *Timeline) MarkReady(live bool) {
	t.mu.Lock()
	if t.phase == PhaseJoining {
		t.phase = PhaseReady
		t.live = live
	}
	t.mu.Unlock()
}

// SetLive updates the live flag outside the mount sequence, e.g. after a
// reconnect re-established the room.
func (t *Timeline) SetLive(live bool) {
	t.mu.Lock()
	t.live = live
	t.mu.Unlock()
}

// TearDown marks the view unmounted. The message list stays readable but
// no further mutation is applied; the typing set is cleared.
func (t *Timeline) TearDown() {
	t.mu.Lock()
	t.phase = PhaseTornDown
	t.typing = make(map[string]struct{})
	t.mu.Unlock()
}

// Apply routes one realtime event into the timeline. Events scoped to
// another conversation are ignored; reaction and unpin events locate their
// target by message identity and are ignored when it is absent. Events
// reaching a torn-down timeline are dropped.
func (t *Timeline) Apply(ev chat.Event) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.phase == PhaseTornDown {
		return
	}

	switch e := ev.(type) {
	case chat.NewMessageEvent:
		t.insertLocked(e.Message)
	case chat.MessageUpdatedEvent:
		t.updateLocked(e.Message)
	case chat.MessageDeletedEvent:
		t.tombstoneLocked(e.ConversationID, e.ID)
	case chat.TypingEvent:
		t.typingLocked(e)
	case chat.ReactionAddedEvent:
		t.addReactionLocked(e.MessageID, e.Reaction)
	case chat.ReactionRemovedEvent:
		t.removeReactionLocked(e.MessageID, e.Emoji, e.UserID)
	case chat.MessagePinnedEvent:
		t.pinLocked(e)
	case chat.MessageUnpinnedEvent:
		t.unpinLocked(e.MessageID)
	}
}

// MergeHistory merges a canonical history page (oldest first) in front of
// live arrivals. Duplicates keep the page's canonical position; pending
// entries whose client id appears in the page are confirmed by it.
func (t *Timeline) MergeHistory(page []chat.Message) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.phase == PhaseTornDown {
		return
	}

	ids := make(map[string]struct{}, len(page))
	clientIDs := make(map[string]struct{})
	merged := make([]chat.Message, 0, len(page)+len(t.msgs))
	for _, m := range page {
		if m.ConversationID != t.conv.ID {
			continue
		}
		if _, dup := ids[m.ID]; dup {
			continue
		}
		ids[m.ID] = struct{}{}
		if m.ClientID != "" {
			clientIDs[m.ClientID] = struct{}{}
		}
		merged = append(merged, m)
	}

	for _, m := range t.msgs {
		if _, dup := ids[m.ID]; dup {
			continue
		}
		if m.Pending {
			if _, confirmed := clientIDs[m.ClientID]; confirmed {
				continue
			}
		}
		merged = append(merged, m)
	}
	t.msgs = merged
}

// Backfill inserts canonical messages missed while disconnected, with the
// usual dedup and pending confirmation. Unseen messages append in page
// order.
func (t *Timeline) Backfill(page []chat.Message) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.phase == PhaseTornDown {
		return
	}
	for _, m := range page {
		t.insertLocked(m)
	}
}

// MergePins replaces the pinned subset with the canonical pin list and
// mirrors the pin metadata onto loaded entries.
func (t *Timeline) MergePins(page []chat.Message) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.phase == PhaseTornDown {
		return
	}

	pinned := make([]pinnedEntry, 0, len(page))
	seen := make(map[string]struct{}, len(page))
	for _, m := range page {
		if m.ConversationID != t.conv.ID {
			continue
		}
		if _, dup := seen[m.ID]; dup {
			continue
		}
		seen[m.ID] = struct{}{}
		if m.Pinned == nil {
			m.Pinned = &chat.PinInfo{}
		}
		if i := t.indexLocked(m.ID); i >= 0 {
			t.msgs[i].Pinned = m.Pinned
		}
		pinned = append(pinned, pinnedEntry{id: m.ID, snap: m})
	}
	t.pinned = pinned
}

// AppendPending inserts a local optimistic entry under its provisional
// client-generated identity. The entry is swapped in place once the
// canonical message arrives, via ConfirmPending or a broadcast echoing the
// client id; DropPending removes it when the send fails.
func (t *Timeline) AppendPending(m chat.Message) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.phase == PhaseTornDown {
		return
	}
	m.Pending = true
	if m.ID == "" {
		m.ID = m.ClientID
	}
	if m.ConversationID == "" {
		m.ConversationID = t.conv.ID
	}
	t.msgs = append(t.msgs, m)
}

// ConfirmPending swaps the canonical message into the pending entry's
// position. When no pending entry matches the client id the message is
// inserted with the usual dedup, covering a broadcast that won the race.
func (t *Timeline) ConfirmPending(clientID string, m chat.Message) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.phase == PhaseTornDown {
		return
	}
	for i := range t.msgs {
		if t.msgs[i].Pending && t.msgs[i].ClientID == clientID {
			m.Pending = false
			t.msgs[i] = m
			return
		}
	}
	t.insertLocked(m)
}

// DropPending removes a failed send's optimistic entry, leaving no trace
// of the attempt.
func (t *Timeline) DropPending(clientID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.msgs = slices.DeleteFunc(t.msgs, func(m chat.Message) bool {
		return m.Pending && m.ClientID == clientID
	})
}

// Messages returns a snapshot of the ordered message list.
func (t *Timeline) Messages() []chat.Message {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return slices.Clone(t.msgs)
}

// Message returns the entry with the given identity.
func (t *Timeline) Message(id string) (chat.Message, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if i := t.indexLocked(id); i >= 0 {
		return t.msgs[i], true
	}
	return chat.Message{}, false
}

// Len returns the number of entries, tombstones and pendings included.
func (t *Timeline) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.msgs)
}

// Pinned returns the pinned subset in pin order. Entries loaded in the
// timeline reflect their current state; pins outside the loaded history
// fall back to the snapshot carried by their pin event.
func (t *Timeline) Pinned() []chat.Message {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]chat.Message, 0, len(t.pinned))
	for _, p := range t.pinned {
		if i := t.indexLocked(p.id); i >= 0 {
			out = append(out, t.msgs[i])
		} else {
			out = append(out, p.snap)
		}
	}
	return out
}

// ThreadReplies returns the loaded replies of a thread, in arrival order.
func (t *Timeline) ThreadReplies(parentID string) []chat.Message {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var out []chat.Message
	for _, m := range t.msgs {
		if m.ParentID == parentID {
			out = append(out, m)
		}
	}
	return out
}

// TypingUsers returns the users currently composing, sorted. The set
// decays only via explicit stop-typing events.
func (t *Timeline) TypingUsers() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	users := make([]string, 0, len(t.typing))
	for u := range t.typing {
		users = append(users, u)
	}
	slices.Sort(users)
	return users
}

func (t *Timeline) insertLocked(m chat.Message) {
	if m.ConversationID != t.conv.ID {
		return
	}
	if t.indexLocked(m.ID) >= 0 {
		return
	}
	if m.ClientID != "" {
		for i := range t.msgs {
			if t.msgs[i].Pending && t.msgs[i].ClientID == m.ClientID {
				m.Pending = false
				t.msgs[i] = m
				return
			}
		}
	}
	t.msgs = append(t.msgs, m)
}

func (t *Timeline) updateLocked(m chat.Message) {
	if m.ConversationID != t.conv.ID {
		return
	}
	i := t.indexLocked(m.ID)
	if i < 0 {
		return
	}
	t.msgs[i].Content = m.Content
	t.msgs[i].Edited = true
	t.msgs[i].UpdatedAt = m.UpdatedAt
}

func (t *Timeline) tombstoneLocked(conversationID, id string) {
	if conversationID != t.conv.ID {
		return
	}
	i := t.indexLocked(id)
	if i < 0 {
		return
	}
	t.msgs[i].Content = chat.DeletedPlaceholder
	t.msgs[i].Deleted = true
}

func (t *Timeline) typingLocked(e chat.TypingEvent) {
	if e.ConversationID != t.conv.ID {
		return
	}
	if e.Stop {
		delete(t.typing, e.Username)
		return
	}
	t.typing[e.Username] = struct{}{}
}

func (t *Timeline) addReactionLocked(messageID string, r chat.Reaction) {
	i := t.indexLocked(messageID)
	if i < 0 {
		return
	}
	if t.msgs[i].HasReaction(r.Emoji, r.UserID) {
		return
	}
	// Replace the slice rather than growing it so snapshots stay stable.
	rs := make([]chat.Reaction, 0, len(t.msgs[i].Reactions)+1)
	rs = append(rs, t.msgs[i].Reactions...)
	rs = append(rs, r)
	t.msgs[i].Reactions = rs
}

func (t *Timeline) removeReactionLocked(messageID, emoji, userID string) {
	i := t.indexLocked(messageID)
	if i < 0 {
		return
	}
	old := t.msgs[i].Reactions
	rs := make([]chat.Reaction, 0, len(old))
	for _, re := range old {
		if re.Emoji == emoji && re.UserID == userID {
			continue
		}
		rs = append(rs, re)
	}
	t.msgs[i].Reactions = rs
}

func (t *Timeline) pinLocked(e chat.MessagePinnedEvent) {
	if e.Message.ID != "" && e.Message.ConversationID != "" && e.Message.ConversationID != t.conv.ID {
		return
	}

	pin := e.Message.Pinned
	if pin == nil {
		pin = &chat.PinInfo{}
	}
	if i := t.indexLocked(e.MessageID); i >= 0 {
		t.msgs[i].Pinned = pin
	}

	for _, p := range t.pinned {
		if p.id == e.MessageID {
			return
		}
	}

	snap := e.Message
	switch {
	case snap.ID != "":
		snap.Pinned = pin
	default:
		if i := t.indexLocked(e.MessageID); i >= 0 {
			snap = t.msgs[i]
		} else {
			snap = chat.Message{ID: e.MessageID, ConversationID: t.conv.ID, Pinned: pin}
		}
	}
	t.pinned = append(t.pinned, pinnedEntry{id: e.MessageID, snap: snap})
}

func (t *Timeline) unpinLocked(messageID string) {
	if i := t.indexLocked(messageID); i >= 0 {
		t.msgs[i].Pinned = nil
	}
	t.pinned = slices.DeleteFunc(t.pinned, func(p pinnedEntry) bool {
		return p.id == messageID
	})
}

// indexLocked returns the position of a message identity, or -1. The
// caller holds t.mu.
func (t *Timeline) indexLocked(id string) int {
	for i := range t.msgs {
		if t.msgs[i].ID == id {
			return i
		}
	}
	return -1
}

package chat

import "time"

// DeletedPlaceholder is the content a deleted message keeps in a timeline.
// Deleted messages hold their position; only the content is blanked.
const DeletedPlaceholder = "[deleted]"

// Message is one entry in a conversation timeline.
//
// ClientID is the sender-generated identifier attached to optimistic sends.
// The server echoes it back on the created entity and on the broadcast so
// clients can reconcile a pending entry with its canonical form.
type Message struct {
	ID             string     `json:"id"`
	ClientID       string     `json:"client_id,omitempty"`
	ConversationID string     `json:"conversation_id"`
	ParentID       string     `json:"parent_id,omitempty"`
	Author         User       `json:"author"`
	Content        string     `json:"content"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at,omitzero"`
	Edited         bool       `json:"edited,omitempty"`
	Deleted        bool       `json:"deleted,omitempty"`
	Pinned         *PinInfo   `json:"pinned,omitempty"`
	Reactions      []Reaction `json:"reactions,omitempty"`

	// Pending marks a locally appended optimistic entry that has not been
	// confirmed by the server yet. It never crosses the wire.
	Pending bool `json:"-"`
}

// IsThreadReply reports whether the message is a reply inside a thread.
func (m *Message) IsThreadReply() bool {
	return m.ParentID != ""
}

// IsPinned reports whether the message carries pin metadata.
func (m *Message) IsPinned() bool {
	return m.Pinned != nil
}

// HasReaction reports whether the given user already reacted with the
// given emoji.
func (m *Message) HasReaction(emoji, userID string) bool {
	for _, r := range m.Reactions {
		if r.Emoji == emoji && r.UserID == userID {
			return true
		}
	}
	return false
}

// ReactionCount returns how many users reacted with the given emoji.
func (m *Message) ReactionCount(emoji string) int {
	n := 0
	for _, r := range m.Reactions {
		if r.Emoji == emoji {
			n++
		}
	}
	return n
}

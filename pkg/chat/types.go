// Package chat defines the shared data contract of the parley client: the
// conversations, messages, reactions, and realtime events exchanged with a
// parley server. Higher layers (realtime transport, timelines, the REST
// client) all speak in these types.
package chat

import (
	"fmt"
	"strings"
	"time"
)

// ConversationType indicates the kind of conversation.
type ConversationType string

const (
	// ConversationChannel is a named multi-participant channel.
	ConversationChannel ConversationType = "channel"
	// ConversationDM is a direct (one-to-one) conversation.
	ConversationDM ConversationType = "dm"
)

// Valid reports whether the conversation type is one of the supported kinds.
func (t ConversationType) Valid() bool {
	return t == ConversationChannel || t == ConversationDM
}

// Conversation identifies one channel or direct-message thread.
type Conversation struct {
	Type ConversationType `json:"type"`
	ID   string           `json:"id"`
}

// NewChannel returns a Conversation referring to the named channel.
func NewChannel(id string) Conversation {
	return Conversation{Type: ConversationChannel, ID: id}
}

// NewDM returns a Conversation referring to the direct-message thread
// with the given peer.
func NewDM(id string) Conversation {
	return Conversation{Type: ConversationDM, ID: id}
}

// IsZero reports whether the Conversation is the zero value.
func (c Conversation) IsZero() bool {
	return c.Type == "" && c.ID == ""
}

// String returns the canonical "type:id" form, e.g. "channel:general".
func (c Conversation) String() string {
	return fmt.Sprintf("%s:%s", c.Type, c.ID)
}

// ParseConversation parses the canonical "type:id" form produced by String.
// A bare name with no type prefix is treated as a channel.
func ParseConversation(s string) (Conversation, error) {
	kind, id, found := strings.Cut(s, ":")
	if !found {
		kind, id = string(ConversationChannel), s
	}
	conv := Conversation{Type: ConversationType(kind), ID: id}
	if !conv.Type.Valid() {
		return Conversation{}, fmt.Errorf("chat: unknown conversation type %q", kind)
	}
	if conv.ID == "" {
		return Conversation{}, fmt.Errorf("chat: conversation %q has no id", s)
	}
	return conv, nil
}

// User identifies a participant.
type User struct {
	ID          string `json:"id"`
	Username    string `json:"username,omitempty"`
	DisplayName string `json:"display_name,omitempty"`
}

// Reaction is one emoji reaction left by one user. A message holds at most
// one reaction per (emoji, user) pair.
type Reaction struct {
	Emoji  string `json:"emoji"`
	UserID string `json:"user_id"`
}

// PinInfo records when and by whom a message was pinned.
type PinInfo struct {
	At time.Time `json:"at"`
	By string    `json:"by"`
}

// PresenceStatus is a user-selected availability state.
type PresenceStatus string

// Supported presence statuses.
const (
	PresenceOnline  PresenceStatus = "online"
	PresenceAway    PresenceStatus = "away"
	PresenceBusy    PresenceStatus = "busy"
	PresenceOffline PresenceStatus = "offline"
)

// Valid reports whether the status is one of the supported values.
func (s PresenceStatus) Valid() bool {
	switch s {
	case PresenceOnline, PresenceAway, PresenceBusy, PresenceOffline:
		return true
	}
	return false
}

// Notification is a server-pushed alert (mention, direct message, invite)
// delivered independently of conversation membership.
type Notification struct {
	ID             string    `json:"id"`
	Kind           string    `json:"kind"`
	Title          string    `json:"title,omitempty"`
	Body           string    `json:"body,omitempty"`
	ConversationID string    `json:"conversation_id,omitempty"`
	MessageID      string    `json:"message_id,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

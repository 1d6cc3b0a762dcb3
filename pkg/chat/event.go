package chat

import (
	"encoding/json"
	"errors"
	"fmt"
)

// EventType identifies the kind of realtime event broadcast by the server.
type EventType string

// Realtime event types pushed by the server.
const (
	EventNewMessage      EventType = "new-message"
	EventMessageUpdated  EventType = "message-updated"
	EventMessageDeleted  EventType = "message-deleted"
	EventUserTyping      EventType = "user-typing"
	EventUserStopTyping  EventType = "user-stop-typing"
	EventReactionAdded   EventType = "reaction-added"
	EventReactionRemoved EventType = "reaction-removed"
	EventMessagePinned   EventType = "message-pinned"
	EventMessageUnpinned EventType = "message-unpinned"
	EventPresenceChanged EventType = "presence-changed"
	EventNewNotification EventType = "new-notification"
)

// Sentinel errors for event decoding.
var (
	// ErrUnknownEvent indicates the event type is not part of the protocol.
	ErrUnknownEvent = errors.New("chat: unknown event type")

	// ErrInvalidEvent indicates the payload failed validation for its
	// declared event type.
	ErrInvalidEvent = errors.New("chat: invalid event payload")
)

// Event is the decoded, validated form of one server broadcast. The concrete
// type is determined by the wire discriminator; use a type switch or the
// Type accessor.
type Event interface {
	// Type returns the wire discriminator of the event.
	Type() EventType

	// Conversation returns the conversation the event is scoped to, or ""
	// when the event is global or locates its target by message identity.
	Conversation() string
}

// NewMessageEvent announces a message appended to a conversation.
type NewMessageEvent struct {
	Message Message
}

func (e NewMessageEvent) Type() EventType      { return EventNewMessage }
func (e NewMessageEvent) Conversation() string { return e.Message.ConversationID }

// MessageUpdatedEvent announces an edit to an existing message.
type MessageUpdatedEvent struct {
	Message Message
}

func (e MessageUpdatedEvent) Type() EventType      { return EventMessageUpdated }
func (e MessageUpdatedEvent) Conversation() string { return e.Message.ConversationID }

// MessageDeletedEvent announces a message deletion.
type MessageDeletedEvent struct {
	ID             string `json:"id"`
	ConversationID string `json:"conversation_id"`
}

func (e MessageDeletedEvent) Type() EventType      { return EventMessageDeleted }
func (e MessageDeletedEvent) Conversation() string { return e.ConversationID }

// TypingEvent announces that a user started or stopped typing in a
// conversation. Stop reports which of the two it is.
type TypingEvent struct {
	Username       string `json:"user"`
	ConversationID string `json:"conversation_id"`
	Stop           bool   `json:"-"`
}

func (e TypingEvent) Type() EventType {
	if e.Stop {
		return EventUserStopTyping
	}
	return EventUserTyping
}

func (e TypingEvent) Conversation() string { return e.ConversationID }

// ReactionAddedEvent announces a reaction added to a message. The emoji and
// user arrive nested under "reaction"; removal broadcasts carry them flat.
// The target is located by message identity, not by conversation.
type ReactionAddedEvent struct {
	MessageID string   `json:"message_id"`
	Reaction  Reaction `json:"reaction"`
}

func (e ReactionAddedEvent) Type() EventType      { return EventReactionAdded }
func (e ReactionAddedEvent) Conversation() string { return "" }

// ReactionRemovedEvent announces a reaction removed from a message.
type ReactionRemovedEvent struct {
	MessageID string `json:"message_id"`
	Emoji     string `json:"emoji"`
	UserID    string `json:"user_id"`
}

func (e ReactionRemovedEvent) Type() EventType      { return EventReactionRemoved }
func (e ReactionRemovedEvent) Conversation() string { return "" }

// MessagePinnedEvent announces a message was pinned. It carries the full
// message so clients can show pins that fall outside their loaded history.
type MessagePinnedEvent struct {
	MessageID string  `json:"message_id"`
	Message   Message `json:"message"`
}

func (e MessagePinnedEvent) Type() EventType      { return EventMessagePinned }
func (e MessagePinnedEvent) Conversation() string { return e.Message.ConversationID }

// MessageUnpinnedEvent announces a message was unpinned.
type MessageUnpinnedEvent struct {
	MessageID string `json:"message_id"`
}

func (e MessageUnpinnedEvent) Type() EventType      { return EventMessageUnpinned }
func (e MessageUnpinnedEvent) Conversation() string { return "" }

// PresenceChangedEvent announces a user's availability change.
type PresenceChangedEvent struct {
	Username string         `json:"user"`
	Status   PresenceStatus `json:"status"`
}

func (e PresenceChangedEvent) Type() EventType      { return EventPresenceChanged }
func (e PresenceChangedEvent) Conversation() string { return "" }

// NewNotificationEvent delivers a server-pushed notification.
type NewNotificationEvent struct {
	Notification Notification
}

func (e NewNotificationEvent) Type() EventType      { return EventNewNotification }
func (e NewNotificationEvent) Conversation() string { return e.Notification.ConversationID }

// ParseEvent decodes and validates one event payload. The returned Event is
// the concrete variant for the given type. Unknown types return
// ErrUnknownEvent; payloads missing required fields return ErrInvalidEvent.
func ParseEvent(t EventType, payload []byte) (Event, error) {
	switch t {
	case EventNewMessage, EventMessageUpdated:
		var m Message
		if err := unmarshalEvent(t, payload, &m); err != nil {
			return nil, err
		}
		if m.ID == "" || m.ConversationID == "" {
			return nil, invalidEvent(t, "missing message id or conversation_id")
		}
		if t == EventNewMessage {
			return NewMessageEvent{Message: m}, nil
		}
		return MessageUpdatedEvent{Message: m}, nil

	case EventMessageDeleted:
		var e MessageDeletedEvent
		if err := unmarshalEvent(t, payload, &e); err != nil {
			return nil, err
		}
		if e.ID == "" || e.ConversationID == "" {
			return nil, invalidEvent(t, "missing id or conversation_id")
		}
		return e, nil

	case EventUserTyping, EventUserStopTyping:
		var e TypingEvent
		if err := unmarshalEvent(t, payload, &e); err != nil {
			return nil, err
		}
		if e.Username == "" || e.ConversationID == "" {
			return nil, invalidEvent(t, "missing user or conversation_id")
		}
		e.Stop = t == EventUserStopTyping
		return e, nil

	case EventReactionAdded:
		var e ReactionAddedEvent
		if err := unmarshalEvent(t, payload, &e); err != nil {
			return nil, err
		}
		if e.MessageID == "" || e.Reaction.Emoji == "" || e.Reaction.UserID == "" {
			return nil, invalidEvent(t, "missing message_id, reaction.emoji or reaction.user_id")
		}
		return e, nil

	case EventReactionRemoved:
		var e ReactionRemovedEvent
		if err := unmarshalEvent(t, payload, &e); err != nil {
			return nil, err
		}
		if e.MessageID == "" || e.Emoji == "" || e.UserID == "" {
			return nil, invalidEvent(t, "missing message_id, emoji or user_id")
		}
		return e, nil

	case EventMessagePinned:
		var e MessagePinnedEvent
		if err := unmarshalEvent(t, payload, &e); err != nil {
			return nil, err
		}
		if e.MessageID == "" {
			return nil, invalidEvent(t, "missing message_id")
		}
		if e.Message.ID != "" && e.Message.ID != e.MessageID {
			return nil, invalidEvent(t, "message_id does not match carried message")
		}
		return e, nil

	case EventMessageUnpinned:
		var e MessageUnpinnedEvent
		if err := unmarshalEvent(t, payload, &e); err != nil {
			return nil, err
		}
		if e.MessageID == "" {
			return nil, invalidEvent(t, "missing message_id")
		}
		return e, nil

	case EventPresenceChanged:
		var e PresenceChangedEvent
		if err := unmarshalEvent(t, payload, &e); err != nil {
			return nil, err
		}
		if e.Username == "" || !e.Status.Valid() {
			return nil, invalidEvent(t, "missing user or unsupported status")
		}
		return e, nil

	case EventNewNotification:
		var n Notification
		if err := unmarshalEvent(t, payload, &n); err != nil {
			return nil, err
		}
		if n.ID == "" || n.Kind == "" {
			return nil, invalidEvent(t, "missing notification id or kind")
		}
		return NewNotificationEvent{Notification: n}, nil
	}

	return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, string(t))
}

// KnownEventType reports whether t names a protocol event.
func KnownEventType(t EventType) bool {
	switch t {
	case EventNewMessage, EventMessageUpdated, EventMessageDeleted,
		EventUserTyping, EventUserStopTyping,
		EventReactionAdded, EventReactionRemoved,
		EventMessagePinned, EventMessageUnpinned,
		EventPresenceChanged, EventNewNotification:
		return true
	}
	return false
}

func unmarshalEvent(t EventType, payload []byte, v any) error {
	if len(payload) == 0 {
		return invalidEvent(t, "empty payload")
	}
	if err := json.Unmarshal(payload, v); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidEvent, t, err)
	}
	return nil
}

func invalidEvent(t EventType, reason string) error {
	return fmt.Errorf("%w: %s: %s", ErrInvalidEvent, t, reason)
}

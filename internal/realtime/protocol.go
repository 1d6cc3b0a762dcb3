package realtime

import (
	"encoding/json"
	"time"

	"github.com/parley-chat/parley/pkg/chat"
)

// FrameType identifies the kind of WebSocket frame in the workspace
// protocol. Server-pushed event frames carry a chat.EventType here instead.
type FrameType string

// Frames sent by the client. Join frames are acknowledged by the server;
// everything else is fire-and-forget.
const (
	FrameJoinChannel  FrameType = "join-channel"
	FrameLeaveChannel FrameType = "leave-channel"
	FrameJoinDM       FrameType = "join-dm"
	FrameLeaveDM      FrameType = "leave-dm"
	FrameTyping       FrameType = "typing"
	FrameStopTyping   FrameType = "stop-typing"
	FrameSetPresence  FrameType = "set-presence"
)

// FrameAck is the server's answer to a join frame. It carries the join
// request's envelope id so the client can correlate it.
const FrameAck FrameType = "ack"

// Envelope is the wire format for all WebSocket frames in both directions.
type Envelope struct {
	Type      FrameType       `json:"type"`
	ID        string          `json:"id,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// JoinPayload names the conversation a join or leave frame targets.
type JoinPayload struct {
	ID string `json:"id"`
}

// AckPayload is the server's verdict on a join request.
type AckPayload struct {
	OK     bool   `json:"ok"`
	Reason string `json:"reason,omitempty"`
}

// TypingPayload scopes a typing or stop-typing frame to one conversation.
type TypingPayload struct {
	ConversationID string `json:"conversation_id"`
}

// PresencePayload carries the client's requested availability.
type PresencePayload struct {
	Status chat.PresenceStatus `json:"status"`
}

// joinFrame selects the join frame type for a conversation.
func joinFrame(conv chat.Conversation) FrameType {
	if conv.Type == chat.ConversationDM {
		return FrameJoinDM
	}
	return FrameJoinChannel
}

// leaveFrame selects the leave frame type for a conversation.
func leaveFrame(conv chat.Conversation) FrameType {
	if conv.Type == chat.ConversationDM {
		return FrameLeaveDM
	}
	return FrameLeaveChannel
}

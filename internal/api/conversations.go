package api

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/parley-chat/parley/pkg/chat"
)

// DefaultPageSize is the history page size when none is requested.
const DefaultPageSize = 50

// SendMessageRequest is the request body for posting a message.
type SendMessageRequest struct {
	Content string `json:"content"`

	// ClientID is the sender-generated identifier echoed back on the
	// created message and on the broadcast.
	ClientID string `json:"client_id,omitempty"`

	// ParentID makes the message a thread reply.
	ParentID string `json:"parent_id,omitempty"`
}

// EditMessageRequest is the request body for editing a message.
type EditMessageRequest struct {
	Content string `json:"content"`
}

// reactionRequest is the request body for adding a reaction.
type reactionRequest struct {
	Emoji string `json:"emoji"`
}

// HistoryOptions selects a page of conversation history.
type HistoryOptions struct {
	// Before restricts the page to messages older than the given message
	// ID. Empty means the latest page.
	Before string

	// Limit caps the page size. Zero means DefaultPageSize.
	Limit int
}

// ListMessages fetches one page of history, ordered oldest first.
func (c *Client) ListMessages(ctx context.Context, conv chat.Conversation, opts HistoryOptions) ([]chat.Message, error) {
	query := url.Values{}
	if opts.Before != "" {
		query.Set("before", opts.Before)
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = DefaultPageSize
	}
	query.Set("limit", strconv.Itoa(limit))

	msgs, err := do[[]chat.Message](ctx, c, request{
		op:     "list-messages",
		method: http.MethodGet,
		path:   conversationPath(conv) + "/messages",
		query:  query,
	})
	if err != nil {
		return nil, err
	}
	return *msgs, nil
}

// SendMessage posts a message and returns the canonical server entity.
func (c *Client) SendMessage(ctx context.Context, conv chat.Conversation, req SendMessageRequest) (*chat.Message, error) {
	return do[chat.Message](ctx, c, request{
		op:      "send-message",
		method:  http.MethodPost,
		path:    conversationPath(conv) + "/messages",
		payload: req,
	})
}

// EditMessage replaces a message's content and returns the updated entity.
func (c *Client) EditMessage(ctx context.Context, conv chat.Conversation, messageID string, req EditMessageRequest) (*chat.Message, error) {
	return do[chat.Message](ctx, c, request{
		op:      "edit-message",
		method:  http.MethodPatch,
		path:    messagePath(conv, messageID),
		payload: req,
	})
}

// DeleteMessage deletes a message. The server keeps a tombstone and
// broadcasts the deletion.
func (c *Client) DeleteMessage(ctx context.Context, conv chat.Conversation, messageID string) error {
	return c.doStatus(ctx, request{
		op:     "delete-message",
		method: http.MethodDelete,
		path:   messagePath(conv, messageID),
	})
}

// AddReaction adds the caller's reaction to a message. Adding the same
// emoji twice is a no-op on the server.
func (c *Client) AddReaction(ctx context.Context, conv chat.Conversation, messageID, emoji string) error {
	return c.doStatus(ctx, request{
		op:      "add-reaction",
		method:  http.MethodPost,
		path:    messagePath(conv, messageID) + "/reactions",
		payload: reactionRequest{Emoji: emoji},
	})
}

// RemoveReaction removes the caller's reaction from a message.
func (c *Client) RemoveReaction(ctx context.Context, conv chat.Conversation, messageID, emoji string) error {
	return c.doStatus(ctx, request{
		op:     "remove-reaction",
		method: http.MethodDelete,
		path:   messagePath(conv, messageID) + "/reactions/" + url.PathEscape(emoji),
	})
}

// PinMessage pins a message and returns the updated entity.
func (c *Client) PinMessage(ctx context.Context, conv chat.Conversation, messageID string) (*chat.Message, error) {
	return do[chat.Message](ctx, c, request{
		op:     "pin-message",
		method: http.MethodPut,
		path:   messagePath(conv, messageID) + "/pin",
	})
}

// UnpinMessage removes a message's pin.
func (c *Client) UnpinMessage(ctx context.Context, conv chat.Conversation, messageID string) error {
	return c.doStatus(ctx, request{
		op:     "unpin-message",
		method: http.MethodDelete,
		path:   messagePath(conv, messageID) + "/pin",
	})
}

// ListPins fetches all pinned messages of a conversation, in pin order.
func (c *Client) ListPins(ctx context.Context, conv chat.Conversation) ([]chat.Message, error) {
	msgs, err := do[[]chat.Message](ctx, c, request{
		op:     "list-pins",
		method: http.MethodGet,
		path:   conversationPath(conv) + "/pins",
	})
	if err != nil {
		return nil, err
	}
	return *msgs, nil
}

// ListThreadReplies fetches the replies of a thread, ordered oldest first.
func (c *Client) ListThreadReplies(ctx context.Context, conv chat.Conversation, parentID string, opts HistoryOptions) ([]chat.Message, error) {
	query := url.Values{}
	if opts.Before != "" {
		query.Set("before", opts.Before)
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = DefaultPageSize
	}
	query.Set("limit", strconv.Itoa(limit))

	msgs, err := do[[]chat.Message](ctx, c, request{
		op:     "list-thread-replies",
		method: http.MethodGet,
		path:   messagePath(conv, parentID) + "/thread",
		query:  query,
	})
	if err != nil {
		return nil, err
	}
	return *msgs, nil
}

func conversationPath(conv chat.Conversation) string {
	return fmt.Sprintf("/conversations/%s/%s", conv.Type, url.PathEscape(conv.ID))
}

func messagePath(conv chat.Conversation, messageID string) string {
	return conversationPath(conv) + "/messages/" + url.PathEscape(messageID)
}

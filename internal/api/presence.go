package api

import (
	"context"
	"net/http"

	"github.com/parley-chat/parley/pkg/chat"
)

// presenceRequest is the request body for setting availability.
type presenceRequest struct {
	Status chat.PresenceStatus `json:"status"`
}

// SetPresence updates the account's availability over REST. The realtime
// frame is the primary path; this covers status changes while the socket
// is down.
func (c *Client) SetPresence(ctx context.Context, status chat.PresenceStatus) error {
	return c.doStatus(ctx, request{
		op:      "set-presence",
		method:  http.MethodPut,
		path:    "/presence",
		payload: presenceRequest{Status: status},
	})
}

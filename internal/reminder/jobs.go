package reminder

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/parley-chat/parley/internal/api"
	"github.com/parley-chat/parley/pkg/chat"
)

// Sender posts messages. The REST client satisfies it; tests substitute a
// fake.
type Sender interface {
	SendMessage(ctx context.Context, conv chat.Conversation, req api.SendMessageRequest) (*chat.Message, error)
}

var _ Sender = (*api.Client)(nil)

// MessageJob posts a fixed message into a conversation on a schedule.
type MessageJob struct {
	// Label names the job in logs. Empty falls back to the conversation.
	Label        string
	Conversation chat.Conversation
	Content      string
	ScheduleExpr string
	Sender       Sender
	Logger       *slog.Logger
}

var _ Job = (*MessageJob)(nil)

// Name implements Job.
func (j *MessageJob) Name() string {
	if j.Label != "" {
		return "message:" + j.Label
	}
	return "message:" + j.Conversation.String()
}

// Schedule implements Job.
func (j *MessageJob) Schedule() string {
	return j.ScheduleExpr
}

// Run posts the configured message.
func (j *MessageJob) Run(ctx context.Context) error {
	msg, err := j.Sender.SendMessage(ctx, j.Conversation, api.SendMessageRequest{Content: j.Content})
	if err != nil {
		return fmt.Errorf("reminder: post %s: %w", j.Conversation.String(), err)
	}
	j.Logger.Info("reminder posted", "job", j.Name(), "message_id", msg.ID)
	return nil
}

package reminder

import (
	"context"
	"errors"
	"testing"

	"github.com/parley-chat/parley/internal/api"
	"github.com/parley-chat/parley/pkg/chat"
)

type fakeSender struct {
	calls []struct {
		conv chat.Conversation
		req  api.SendMessageRequest
	}
	err error
}

func (f *fakeSender) SendMessage(_ context.Context, conv chat.Conversation, req api.SendMessageRequest) (*chat.Message, error) {
	f.calls = append(f.calls, struct {
		conv chat.Conversation
		req  api.SendMessageRequest
	}{conv, req})
	if f.err != nil {
		return nil, f.err
	}
	return &chat.Message{ID: "srv1", ConversationID: conv.ID, Content: req.Content}, nil
}

func TestMessageJob_Run(t *testing.T) {
	t.Parallel()

	sender := &fakeSender{}
	j := &MessageJob{
		Label:        "standup",
		Conversation: chat.NewChannel("general"),
		Content:      "Standup in 5 minutes.",
		ScheduleExpr: "55 8 * * 1-5",
		Sender:       sender,
		Logger:       testLogger(),
	}

	if err := j.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(sender.calls) != 1 {
		t.Fatalf("sends = %d, want 1", len(sender.calls))
	}
	call := sender.calls[0]
	if call.conv.ID != "general" || call.req.Content != "Standup in 5 minutes." {
		t.Fatalf("sent %+v to %s, want the configured message", call.req, call.conv)
	}
}

func TestMessageJob_RunError(t *testing.T) {
	t.Parallel()

	sendErr := errors.New("api down")
	j := &MessageJob{
		Conversation: chat.NewChannel("general"),
		Content:      "hello",
		ScheduleExpr: "* * * * *",
		Sender:       &fakeSender{err: sendErr},
		Logger:       testLogger(),
	}

	if err := j.Run(context.Background()); !errors.Is(err, sendErr) {
		t.Fatalf("Run error = %v, want wrapped send error", err)
	}
}

func TestMessageJob_Name(t *testing.T) {
	t.Parallel()

	labeled := &MessageJob{Label: "standup", Conversation: chat.NewChannel("general")}
	if got := labeled.Name(); got != "message:standup" {
		t.Fatalf("Name() = %q, want message:standup", got)
	}

	unlabeled := &MessageJob{Conversation: chat.NewDM("alice")}
	if got := unlabeled.Name(); got != "message:dm:alice" {
		t.Fatalf("Name() = %q, want message:dm:alice", got)
	}
}

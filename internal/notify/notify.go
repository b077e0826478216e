package notify

import (
	"context"
	"io"
)

// MessageHandle identifies a previously sent message so it can be edited or
// deleted later.
type MessageHandle struct {
	ChatID    int64 `json:"chat_id"`
	MessageID int64 `json:"message_id"`
}

// Zero reports whether the handle refers to no message.
func (h MessageHandle) Zero() bool {
	return h.MessageID == 0
}

// Choice is one selectable option attached to a message.
type Choice struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

// Notifier is the outbound half of the chat transport. The orchestration core
// only ever talks to the transport through this interface; every method may
// fail and callers decide whether the failure matters (delivery does, status
// edits do not).
type Notifier interface {
	SendMessage(ctx context.Context, recipient int64, text string, choices ...Choice) (MessageHandle, error)
	EditMessage(ctx context.Context, h MessageHandle, text string) error
	DeleteMessage(ctx context.Context, h MessageHandle) error
	SendFile(ctx context.Context, recipient int64, r io.Reader, filename string) error
}

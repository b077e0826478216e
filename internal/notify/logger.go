package notify

import (
	"context"
	"io"
	"log"
	"sync/atomic"
)

// Logger is a Notifier that writes everything to the process log. Used in
// local development when no webhook endpoint is configured.
type Logger struct {
	nextID atomic.Int64
}

func NewLogger() *Logger {
	return &Logger{}
}

func (l *Logger) SendMessage(_ context.Context, recipient int64, text string, choices ...Choice) (MessageHandle, error) {
	h := MessageHandle{ChatID: recipient, MessageID: l.nextID.Add(1)}
	log.Printf("notify: send to=%d msg=%d choices=%d text=%q", recipient, h.MessageID, len(choices), text)
	return h, nil
}

func (l *Logger) EditMessage(_ context.Context, h MessageHandle, text string) error {
	log.Printf("notify: edit to=%d msg=%d text=%q", h.ChatID, h.MessageID, text)
	return nil
}

func (l *Logger) DeleteMessage(_ context.Context, h MessageHandle) error {
	log.Printf("notify: delete to=%d msg=%d", h.ChatID, h.MessageID)
	return nil
}

func (l *Logger) SendFile(_ context.Context, recipient int64, r io.Reader, filename string) error {
	n, err := io.Copy(io.Discard, r)
	if err != nil {
		return err
	}
	log.Printf("notify: file to=%d name=%s bytes=%d", recipient, filename, n)
	return nil
}

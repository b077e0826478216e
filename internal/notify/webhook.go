package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"sync/atomic"
	"time"
)

// Webhook delivers notifications by POSTing them to a configured HTTP
// endpoint. Message handles are generated locally; the receiving side is
// expected to key edits and deletes off them.
type Webhook struct {
	url    string
	client *http.Client
	nextID atomic.Int64
}

func NewWebhook(url string) *Webhook {
	return &Webhook{
		url: url,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

type webhookEvent struct {
	Op        string   `json:"op"`
	Recipient int64    `json:"recipient,omitempty"`
	Text      string   `json:"text,omitempty"`
	Choices   []Choice `json:"choices,omitempty"`
	ChatID    int64    `json:"chat_id,omitempty"`
	MessageID int64    `json:"message_id,omitempty"`
}

func (w *Webhook) SendMessage(ctx context.Context, recipient int64, text string, choices ...Choice) (MessageHandle, error) {
	h := MessageHandle{ChatID: recipient, MessageID: w.nextID.Add(1)}
	ev := webhookEvent{Op: "send", Recipient: recipient, Text: text, Choices: choices, ChatID: h.ChatID, MessageID: h.MessageID}
	if err := w.post(ctx, ev); err != nil {
		return MessageHandle{}, err
	}
	return h, nil
}

func (w *Webhook) EditMessage(ctx context.Context, h MessageHandle, text string) error {
	return w.post(ctx, webhookEvent{Op: "edit", Text: text, ChatID: h.ChatID, MessageID: h.MessageID})
}

func (w *Webhook) DeleteMessage(ctx context.Context, h MessageHandle) error {
	return w.post(ctx, webhookEvent{Op: "delete", ChatID: h.ChatID, MessageID: h.MessageID})
}

func (w *Webhook) post(ctx context.Context, ev webhookEvent) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("post %s: %w", ev.Op, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode >= 300 {
		return fmt.Errorf("post %s: unexpected status %d", ev.Op, resp.StatusCode)
	}
	return nil
}

// SendFile streams the artifact as a multipart upload. The receiver rejecting
// it (any non-2xx) is a delivery failure.
func (w *Webhook) SendFile(ctx context.Context, recipient int64, r io.Reader, filename string) error {
	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		part, err := mw.CreateFormFile("file", filename)
		if err != nil {
			pw.CloseWithError(err)
			return
		}
		if _, err := io.Copy(part, r); err != nil {
			pw.CloseWithError(err)
			return
		}
		if err := mw.WriteField("recipient", fmt.Sprintf("%d", recipient)); err != nil {
			pw.CloseWithError(err)
			return
		}
		pw.CloseWithError(mw.Close())
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, pr)
	if err != nil {
		return fmt.Errorf("build upload request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("upload %s: %w", filename, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode >= 300 {
		return fmt.Errorf("upload %s: unexpected status %d", filename, resp.StatusCode)
	}
	return nil
}

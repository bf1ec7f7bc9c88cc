// Package notify sends one-shot notifications through an external
// webhook. Only the contract matters to the rest of the system: a
// payload goes out, success or failure comes back.
package notify

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	json "github.com/goccy/go-json"

	appLog "calnotify/internal/log"
)

// Notifier delivers one message to the target channel.
type Notifier interface {
	Send(ctx context.Context, chatID, text string) error
}

// StatusError is returned when the webhook responds with anything but
// 200. The occurrence is retried on the next invocation.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("notifier responded with status %d", e.Code)
}

// Telegram posts {"chat_id": ..., "text": ...} to a bot webhook URL
// (the sendMessage endpoint with the token embedded in the URL).
type Telegram struct {
	webhookURL string
	client     *http.Client
}

func NewTelegram(webhookURL string) *Telegram {
	return &Telegram{
		webhookURL: webhookURL,
		client: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

type message struct {
	ChatID string `json:"chat_id"`
	Text   string `json:"text"`
}

func (t *Telegram) Send(ctx context.Context, chatID, text string) error {
	body, err := json.Marshal(message{ChatID: chatID, Text: text})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.webhookURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	// Drain so the connection can be reused.
	io.Copy(io.Discard, resp.Body) //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		return &StatusError{Code: resp.StatusCode}
	}
	return nil
}

// LogNotifier logs instead of sending; used by --dry-run.
type LogNotifier struct{}

func (LogNotifier) Send(_ context.Context, chatID, text string) error {
	appLog.Info("dry-run notification", "chat_id", chatID, "text", text)
	return nil
}

// Package notify delivers operator messages. Delivery is best effort:
// callers use Fire, which logs failures and never returns them.
package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// Notifier sends a plain-text message.
type Notifier interface {
	Send(ctx context.Context, msg string) error
}

// Fire sends msg through n and logs any failure.
func Fire(ctx context.Context, n Notifier, logger *zap.Logger, msg string) {
	if n == nil {
		return
	}
	if err := n.Send(ctx, msg); err != nil && logger != nil {
		logger.Error("notification failed", zap.Error(err))
	}
}

// Nop discards messages.
type Nop struct{}

// Send implements Notifier.
func (Nop) Send(context.Context, string) error { return nil }

// Log writes messages to a zap logger instead of an external channel.
type Log struct {
	Logger *zap.Logger
}

// Send implements Notifier.
func (l Log) Send(_ context.Context, msg string) error {
	l.Logger.Info("notification", zap.String("message", msg))
	return nil
}

// DefaultTelegramURL is the public Bot API endpoint.
const DefaultTelegramURL = "https://api.telegram.org"

// Poster is the subset of httpclient.Client Telegram needs.
type Poster interface {
	PostJSON(ctx context.Context, url string, body, v any) error
}

// TelegramConfig holds bot credentials.
type TelegramConfig struct {
	BaseURL  string
	BotToken string
	ChatID   string
}

// Telegram posts messages through the Bot API sendMessage method.
type Telegram struct {
	client Poster
	cfg    TelegramConfig
}

// NewTelegram validates cfg and builds the notifier.
func NewTelegram(client Poster, cfg TelegramConfig) (*Telegram, error) {
	if cfg.BotToken == "" || cfg.ChatID == "" {
		return nil, errors.New("telegram bot_token and chat_id are required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultTelegramURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Telegram{client: client, cfg: cfg}, nil
}

type sendMessageRequest struct {
	ChatID string `json:"chat_id"`
	Text   string `json:"text"`
}

type sendMessageResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
}

// Send implements Notifier.
func (t *Telegram) Send(ctx context.Context, msg string) error {
	url := fmt.Sprintf("%s/bot%s/sendMessage", t.cfg.BaseURL, t.cfg.BotToken)
	var resp sendMessageResponse
	if err := t.client.PostJSON(ctx, url, sendMessageRequest{ChatID: t.cfg.ChatID, Text: msg}, &resp); err != nil {
		return fmt.Errorf("telegram send: %w", err)
	}
	if !resp.OK {
		return fmt.Errorf("telegram send rejected: %s", resp.Description)
	}
	return nil
}

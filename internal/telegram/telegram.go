// Package telegram is the chat-bot side: owner alerts and reminders, and the
// file downloads needed to drain queued inbound messages into email.
package telegram

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/sirupsen/logrus"
)

// Notifier sends owner-facing messages to the configured chat.
type Notifier struct {
	bot    *bot.Bot
	chatID string
	client *http.Client
}

// New builds a notifier. An empty token returns nil without error so callers
// can treat alerts as optional.
func New(token, chatID string) (*Notifier, error) {
	if token == "" {
		return nil, nil
	}

	b, err := bot.New(token, bot.WithSkipGetMe())
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}

	return &Notifier{
		bot:    b,
		chatID: chatID,
		client: &http.Client{Timeout: 30 * time.Second},
	}, nil
}

// Send delivers a Markdown message to the owner chat.
func (n *Notifier) Send(ctx context.Context, text string) error {
	if n.chatID == "" {
		return fmt.Errorf("telegram chat id is not configured")
	}

	_, err := n.bot.SendMessage(ctx, &bot.SendMessageParams{
		ChatID:    n.chatID,
		Text:      text,
		ParseMode: models.ParseModeMarkdown,
	})
	if err != nil {
		return fmt.Errorf("failed to send telegram message: %w", err)
	}
	return nil
}

// CredentialAlert warns the owner that forwarding has stopped for a mailbox
// and reconnection is required.
func (n *Notifier) CredentialAlert(ctx context.Context, accountEmail, reason string) error {
	text := fmt.Sprintf(
		"🚨 *Mailbox Credential Alert*\n\n*Account:* %s\n*Status:* %s\n\n⚠️ Email forwarding has stopped for this account. Reconnect it from the dashboard.",
		accountEmail, reason,
	)
	if err := n.Send(ctx, text); err != nil {
		logrus.Errorf("Failed to send credential alert for %s: %v", accountEmail, err)
		return err
	}
	return nil
}

// BillReminder notifies the owner of a bill due soon.
func (n *Notifier) BillReminder(ctx context.Context, name string, amount float64, due time.Time) error {
	text := fmt.Sprintf("*Reminder:* Your %s bill of ₹%.2f is due on %s.", name, amount, due.Format("Mon Jan 2 2006"))
	return n.Send(ctx, text)
}

// DownloadFile fetches a bot-referenced file's bytes for attachment to a
// drained chat message.
func (n *Notifier) DownloadFile(ctx context.Context, fileID string) ([]byte, error) {
	file, err := n.bot.GetFile(ctx, &bot.GetFileParams{FileID: fileID})
	if err != nil {
		return nil, fmt.Errorf("failed to resolve telegram file: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, n.bot.FileDownloadLink(file), nil)
	if err != nil {
		return nil, err
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to download telegram file: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to download telegram file: status %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

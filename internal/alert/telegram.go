// Package alert notifies operators about dispatch cycles that need attention.
package alert

import (
	"context"
	"fmt"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/hray3182/medbay-reminders/internal/dispatcher"
)

type chatSender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// TelegramAlerter posts cycle summaries to an operator chat.
type TelegramAlerter struct {
	api    chatSender
	chatID int64
}

func NewTelegramAlerter(token string, chatID int64) (*TelegramAlerter, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}
	return &TelegramAlerter{api: api, chatID: chatID}, nil
}

// NeedsAlert reports whether a cycle outcome is worth an operator's attention.
func NeedsAlert(rep dispatcher.CycleReport, cycleErr error) bool {
	return cycleErr != nil || rep.Errored > 0 || rep.InvalidRule > 0
}

// Alert sends a summary when NeedsAlert is true and does nothing otherwise.
func (a *TelegramAlerter) Alert(ctx context.Context, rep dispatcher.CycleReport, cycleErr error) error {
	if !NeedsAlert(rep, cycleErr) {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	text, entities := renderEntities(Summary(rep, cycleErr))
	msg := tgbotapi.NewMessage(a.chatID, text)
	msg.Entities = entities
	if _, err := a.api.Send(msg); err != nil {
		return fmt.Errorf("failed to send telegram alert: %w", err)
	}
	return nil
}

// Summary renders a cycle summary with **bold** and `code` markup.
func Summary(rep dispatcher.CycleReport, cycleErr error) string {
	var b strings.Builder
	if cycleErr != nil {
		b.WriteString("⚠️ **Reminder cycle aborted**\n")
	} else {
		b.WriteString("⏰ **Reminder cycle finished with problems**\n")
	}
	fmt.Fprintf(&b, "Started: %s (%s)\n", rep.StartedAt.UTC().Format(time.RFC3339), rep.Duration().Round(time.Millisecond))
	fmt.Fprintf(&b, "Processed: %d, sent: %d\n", rep.Processed, rep.Sent)
	fmt.Fprintf(&b, "Rescheduled: %d, completed: %d\n", rep.Rescheduled, rep.Completed)
	if rep.Errored > 0 {
		fmt.Fprintf(&b, "Failed sends: %d (status=error, needs requeue)\n", rep.Errored)
	}
	if rep.InvalidRule > 0 {
		fmt.Fprintf(&b, "Unknown recurrence rules: %d\n", rep.InvalidRule)
	}
	if cycleErr != nil {
		fmt.Fprintf(&b, "Error: `%s`\n", strings.ReplaceAll(cycleErr.Error(), "`", "'"))
	}
	return strings.TrimRight(b.String(), "\n")
}

package alert

import (
	"context"
	"errors"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/hray3182/medbay-reminders/internal/dispatcher"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingChat struct {
	sent []tgbotapi.Chattable
	err  error
}

func (r *recordingChat) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	r.sent = append(r.sent, c)
	return tgbotapi.Message{MessageID: len(r.sent)}, r.err
}

var started = time.Date(2024, time.June, 1, 9, 0, 0, 0, time.UTC)

func TestAlertSkipsHealthyCycle(t *testing.T) {
	chat := &recordingChat{}
	a := &TelegramAlerter{api: chat, chatID: 42}

	err := a.Alert(context.Background(), dispatcher.CycleReport{Processed: 2, Sent: 2, Rescheduled: 2}, nil)
	require.NoError(t, err)
	assert.Empty(t, chat.sent)
}

func TestAlertSendsOnErrors(t *testing.T) {
	chat := &recordingChat{}
	a := &TelegramAlerter{api: chat, chatID: 42}

	rep := dispatcher.CycleReport{Processed: 3, Sent: 2, Errored: 1, Rescheduled: 2, StartedAt: started, FinishedAt: started.Add(time.Second)}
	require.NoError(t, a.Alert(context.Background(), rep, nil))
	require.Len(t, chat.sent, 1)

	msg, ok := chat.sent[0].(tgbotapi.MessageConfig)
	require.True(t, ok)
	assert.Equal(t, int64(42), msg.ChatID)
	assert.Contains(t, msg.Text, "Failed sends: 1")
	assert.NotContains(t, msg.Text, "**")
	require.NotEmpty(t, msg.Entities)
	assert.Equal(t, tgbotapi.MessageEntity{Type: "bold", Offset: 2, Length: 37}, msg.Entities[0])
}

func TestAlertPropagatesSendError(t *testing.T) {
	a := &TelegramAlerter{api: &recordingChat{err: errors.New("chat not found")}, chatID: 42}
	err := a.Alert(context.Background(), dispatcher.CycleReport{}, errors.New("store down"))
	assert.ErrorContains(t, err, "chat not found")
}

func TestSummary(t *testing.T) {
	rep := dispatcher.CycleReport{Processed: 1, Sent: 1, Completed: 1, InvalidRule: 2, StartedAt: started, FinishedAt: started.Add(1500 * time.Millisecond)}
	got := Summary(rep, errors.New("reminder store unavailable: connection refused"))

	assert.Contains(t, got, "Reminder cycle aborted")
	assert.Contains(t, got, "Started: 2024-06-01T09:00:00Z (1.5s)")
	assert.Contains(t, got, "Unknown recurrence rules: 2")
	assert.Contains(t, got, "Error: `reminder store unavailable: connection refused`")
	assert.NotContains(t, got, "Failed sends")
}

// Package sms delivers reminder text messages.
package sms

import (
	"context"
	"errors"
	"fmt"
)

// ErrSendFailed wraps every delivery failure reported by a Sender.
var ErrSendFailed = errors.New("sms send failed")

// Message is one outgoing text. Key identifies the (reminder, fire time) pair
// and is stable across retries of the same occurrence.
type Message struct {
	To   string
	Body string
	Key  string
}

type Sender interface {
	Send(ctx context.Context, msg Message) (messageID string, err error)
}

// FormatMessage renders the reminder text. The wording is shared with the
// existing MedBay deployment and must not change.
func FormatMessage(medicineName, dosage string) string {
	return fmt.Sprintf("MedBay Alert: Time for your medication! 💊 %s, Dosage: %s. Stay healthy!", medicineName, dosage)
}

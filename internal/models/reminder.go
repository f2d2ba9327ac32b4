package models

import (
	"time"

	"github.com/google/uuid"
)

// Status is the dispatch state of a reminder row.
type Status string

const (
	StatusScheduled  Status = "scheduled"
	StatusProcessing Status = "processing" // claimed by an in-flight cycle
	StatusSent       Status = "sent"
	StatusError      Status = "error"
)

func (s Status) Valid() bool {
	switch s {
	case StatusScheduled, StatusProcessing, StatusSent, StatusError:
		return true
	}
	return false
}

// RecurrenceRule tells the dispatcher what to do with a reminder after a successful send.
type RecurrenceRule string

const (
	RuleOnce    RecurrenceRule = "once"
	RuleDaily   RecurrenceRule = "daily"
	RuleWeekly  RecurrenceRule = "weekly"
	RuleMonthly RecurrenceRule = "monthly"
)

type Reminder struct {
	ID                   uuid.UUID      `json:"id"`
	MedicineName         string         `json:"medicine_name"`
	Dosage               string         `json:"dosage"`
	RecipientPhoneNumber string         `json:"user_phone_number"` // E.164
	ScheduledAt          time.Time      `json:"scheduled_at"`      // Next pending fire time
	RecurrenceRule       RecurrenceRule `json:"recurring_type"`
	Status               Status         `json:"status"`
	ClaimedUntil         *time.Time     `json:"claimed_until"` // Lease expiry while processing
	LastError            string         `json:"last_error"`
	CreatedAt            time.Time      `json:"created_at"`
	UpdatedAt            time.Time      `json:"updated_at"`
}

// IsRecurring returns true unless the reminder fires only once
func (r *Reminder) IsRecurring() bool {
	return r.RecurrenceRule != RuleOnce
}

// LeaseExpired reports whether a processing claim on the reminder can be taken over at now.
func (r *Reminder) LeaseExpired(now time.Time) bool {
	return r.ClaimedUntil == nil || r.ClaimedUntil.Before(now)
}

// ReminderUpdate is a partial update. Nil fields are left unchanged.
// Every update releases the processing lease.
type ReminderUpdate struct {
	ScheduledAt *time.Time
	Status      *Status
	LastError   *string
}

// Package dispatcher runs reminder dispatch cycles: fetch due reminders, send
// each one, then reschedule or retire it.
//
// Delivery is at-least-once. A reminder is claimed with a conditional update
// before sending, so overlapping cycles never send the same occurrence twice
// while the claim is live. If a cycle dies between send and reschedule the
// claim expires after LeaseTTL and a later cycle sends again.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hray3182/medbay-reminders/internal/models"
	"github.com/hray3182/medbay-reminders/internal/repository"
	"github.com/hray3182/medbay-reminders/internal/rrule"
	"github.com/hray3182/medbay-reminders/internal/sms"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// ErrStoreUnavailable marks store failures. They abort the running cycle.
var ErrStoreUnavailable = errors.New("reminder store unavailable")

type ReminderStore interface {
	QueryDue(ctx context.Context, windowStart, windowEnd time.Time, excludeStatus models.Status) ([]*models.Reminder, error)
	// Claim must return repository.ErrWriteConflict when the row no longer matches reminder.
	Claim(ctx context.Context, reminder *models.Reminder, leaseUntil, now time.Time) error
	Update(ctx context.Context, id uuid.UUID, fields models.ReminderUpdate) error
	Delete(ctx context.Context, id uuid.UUID) error
}

type Options struct {
	Lookback    time.Duration
	LeaseTTL    time.Duration
	SendTimeout time.Duration
	Concurrency int
	// Location is where recurrence calendar arithmetic happens.
	Location *time.Location
}

func DefaultOptions() Options {
	return Options{
		Lookback:    24 * time.Hour,
		LeaseTTL:    5 * time.Minute,
		SendTimeout: 15 * time.Second,
		Concurrency: 1,
		Location:    time.UTC,
	}
}

func (o Options) withDefaults() Options {
	def := DefaultOptions()
	if o.Lookback <= 0 {
		o.Lookback = def.Lookback
	}
	if o.LeaseTTL <= 0 {
		o.LeaseTTL = def.LeaseTTL
	}
	if o.SendTimeout <= 0 {
		o.SendTimeout = def.SendTimeout
	}
	if o.Concurrency <= 0 {
		o.Concurrency = def.Concurrency
	}
	if o.Location == nil {
		o.Location = def.Location
	}
	return o
}

type Dispatcher struct {
	store  ReminderStore
	sender sms.Sender
	opts   Options
	log    logrus.FieldLogger
	now    func() time.Time
}

func New(store ReminderStore, sender sms.Sender, log logrus.FieldLogger, opts Options) *Dispatcher {
	return &Dispatcher{
		store:  store,
		sender: sender,
		opts:   opts.withDefaults(),
		log:    log.WithField("component", "dispatcher"),
		now:    time.Now,
	}
}

// RunCycle runs one dispatch cycle to completion. Per-reminder failures are
// recorded in the report. A store failure aborts the cycle; the partial report
// is returned together with an error wrapping ErrStoreUnavailable.
func (d *Dispatcher) RunCycle(ctx context.Context) (CycleReport, error) {
	now := d.now()
	t := &tally{rep: CycleReport{StartedAt: now}}
	finish := func(err error) (CycleReport, error) {
		rep := t.snapshot()
		rep.FinishedAt = d.now()
		return rep, err
	}

	windowStart := now.Add(-d.opts.Lookback)
	due, err := d.store.QueryDue(ctx, windowStart, now, models.StatusSent)
	if err != nil {
		return finish(storeError(err))
	}
	if len(due) == 0 {
		d.log.Debug("No reminders are currently due")
		return finish(nil)
	}
	d.log.WithField("count", len(due)).Info("Found due reminders")

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.opts.Concurrency)
	interrupted := false
	for _, reminder := range due {
		if gctx.Err() != nil {
			interrupted = true
			break
		}
		g.Go(func() error {
			return d.process(gctx, reminder, t)
		})
	}
	err = g.Wait()
	if err == nil && interrupted {
		err = ctx.Err()
	}
	return finish(err)
}

func (d *Dispatcher) process(ctx context.Context, reminder *models.Reminder, t *tally) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	log := d.log.WithFields(logrus.Fields{
		"reminder_id":  reminder.ID,
		"rule":         reminder.RecurrenceRule,
		"status":       reminder.Status,
		"scheduled_at": reminder.ScheduledAt.Format(time.RFC3339),
	})

	now := d.now()
	if !claimable(reminder, now) {
		log.Debug("Reminder not claimable, skipping")
		t.add(func(r *CycleReport) { r.Skipped++ })
		return nil
	}
	// Checked before sending; an unknown rule cannot be advanced afterwards.
	if err := rrule.Validate(reminder.RecurrenceRule); err != nil {
		log.WithError(err).Warn("Reminder has an unknown recurrence rule, leaving it untouched")
		t.add(func(r *CycleReport) { r.InvalidRule++ })
		return nil
	}

	if err := d.store.Claim(ctx, reminder, now.Add(d.opts.LeaseTTL), now); err != nil {
		if errors.Is(err, repository.ErrWriteConflict) {
			log.Debug("Reminder claimed elsewhere, skipping")
			t.add(func(r *CycleReport) { r.Skipped++ })
			return nil
		}
		return storeError(err)
	}
	t.add(func(r *CycleReport) { r.Processed++ })

	msg := sms.Message{
		To:   reminder.RecipientPhoneNumber,
		Body: sms.FormatMessage(reminder.MedicineName, reminder.Dosage),
		Key:  fmt.Sprintf("%s@%s", reminder.ID, reminder.ScheduledAt.UTC().Format(time.RFC3339Nano)),
	}
	sendCtx, cancel := context.WithTimeout(ctx, d.opts.SendTimeout)
	messageID, sendErr := d.sender.Send(sendCtx, msg)
	cancel()

	if sendErr != nil {
		if ctx.Err() != nil {
			// Cycle cancelled mid-send: the outcome is unknown, so the lease is
			// left to expire and a later cycle retries.
			return fmt.Errorf("cycle interrupted while sending reminder %s: %w", reminder.ID, ctx.Err())
		}
		log.WithError(sendErr).Error("Failed to send reminder")
		t.add(func(r *CycleReport) { r.Errored++ })
		return d.markError(ctx, reminder.ID, sendErr, log)
	}

	t.add(func(r *CycleReport) { r.Sent++ })
	log = log.WithField("message_id", messageID)

	next, err := rrule.Advance(reminder.ScheduledAt.In(d.opts.Location), reminder.RecurrenceRule)
	if err != nil {
		log.WithError(err).Error("Failed to advance reminder after send")
		t.add(func(r *CycleReport) { r.InvalidRule++ })
		return d.markError(ctx, reminder.ID, err, log)
	}

	if next.Terminal {
		if err := d.store.Delete(ctx, reminder.ID); err != nil {
			if !errors.Is(err, repository.ErrReminderNotFound) {
				return storeError(err)
			}
			log.Warn("Reminder was deleted while being processed")
		}
		t.add(func(r *CycleReport) { r.Completed++ })
		log.Info("Sent one-time reminder and removed it")
		return nil
	}

	status := models.StatusScheduled
	nextAt := next.Next
	err = d.store.Update(ctx, reminder.ID, models.ReminderUpdate{ScheduledAt: &nextAt, Status: &status})
	if err != nil {
		if !errors.Is(err, repository.ErrReminderNotFound) {
			return storeError(err)
		}
		log.Warn("Reminder was deleted while being processed")
		return nil
	}
	t.add(func(r *CycleReport) { r.Rescheduled++ })
	log.WithField("next_at", nextAt.Format(time.RFC3339)).Infof("Sent reminder, next one %s", rrule.Describe(reminder.RecurrenceRule))
	return nil
}

func (d *Dispatcher) markError(ctx context.Context, id uuid.UUID, cause error, log logrus.FieldLogger) error {
	status := models.StatusError
	lastError := cause.Error()
	err := d.store.Update(ctx, id, models.ReminderUpdate{Status: &status, LastError: &lastError})
	if err != nil {
		if errors.Is(err, repository.ErrReminderNotFound) {
			log.Warn("Reminder was deleted while being processed")
			return nil
		}
		return storeError(err)
	}
	return nil
}

func claimable(reminder *models.Reminder, now time.Time) bool {
	switch reminder.Status {
	case models.StatusScheduled:
		return true
	case models.StatusProcessing:
		return reminder.LeaseExpired(now)
	}
	return false
}

func storeError(err error) error {
	return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
}

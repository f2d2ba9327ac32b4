package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hray3182/medbay-reminders/internal/database"
	"github.com/hray3182/medbay-reminders/internal/models"
	"github.com/jackc/pgx/v5"
)

const reminderColumns = `id, medicine_name, dosage, user_phone_number, scheduled_at, recurring_type,
		 status, claimed_until, last_error, created_at, updated_at`

// ReminderRepository stores reminders in the Postgres schedules table.
type ReminderRepository struct {
	db *database.DB
}

func NewReminderRepository(db *database.DB) *ReminderRepository {
	return &ReminderRepository{db: db}
}

func (r *ReminderRepository) Create(ctx context.Context, reminder *models.Reminder) error {
	if reminder.ID == uuid.Nil {
		reminder.ID = uuid.New()
	}
	if reminder.Status == "" {
		reminder.Status = models.StatusScheduled
	}
	return r.db.Pool.QueryRow(ctx,
		`INSERT INTO schedules (id, medicine_name, dosage, user_phone_number, scheduled_at, recurring_type, status)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING created_at, updated_at`,
		reminder.ID, reminder.MedicineName, reminder.Dosage, reminder.RecipientPhoneNumber,
		reminder.ScheduledAt, string(reminder.RecurrenceRule), string(reminder.Status),
	).Scan(&reminder.CreatedAt, &reminder.UpdatedAt)
}

func (r *ReminderRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Reminder, error) {
	row := r.db.Pool.QueryRow(ctx,
		`SELECT `+reminderColumns+` FROM schedules WHERE id = $1`,
		id,
	)
	reminder, err := scanReminder(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrReminderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get reminder %s: %w", id, err)
	}
	return reminder, nil
}

// List returns all reminders ordered by their next fire time.
func (r *ReminderRepository) List(ctx context.Context) ([]*models.Reminder, error) {
	rows, err := r.db.Pool.Query(ctx,
		`SELECT `+reminderColumns+` FROM schedules ORDER BY scheduled_at ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list reminders: %w", err)
	}
	return collectReminders(rows)
}

// QueryDue returns reminders with scheduled_at in [windowStart, windowEnd] whose
// status is not excludeStatus, oldest first.
func (r *ReminderRepository) QueryDue(ctx context.Context, windowStart, windowEnd time.Time, excludeStatus models.Status) ([]*models.Reminder, error) {
	rows, err := r.db.Pool.Query(ctx,
		`SELECT `+reminderColumns+` FROM schedules
		 WHERE scheduled_at >= $1 AND scheduled_at <= $2 AND status <> $3
		 ORDER BY scheduled_at ASC`,
		windowStart, windowEnd, string(excludeStatus),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query due reminders: %w", err)
	}
	return collectReminders(rows)
}

// Claim moves the reminder to processing until leaseUntil. It succeeds only if the
// row still has the status and scheduled_at observed in reminder and, for a row
// already processing, its lease has expired at now. Otherwise ErrWriteConflict.
func (r *ReminderRepository) Claim(ctx context.Context, reminder *models.Reminder, leaseUntil, now time.Time) error {
	tag, err := r.db.Pool.Exec(ctx,
		`UPDATE schedules SET status = 'processing', claimed_until = $2, updated_at = $3
		 WHERE id = $1 AND status = $4 AND scheduled_at = $5
		   AND (status <> 'processing' OR claimed_until IS NULL OR claimed_until < $3)`,
		reminder.ID, leaseUntil, now, string(reminder.Status), reminder.ScheduledAt,
	)
	if err != nil {
		return fmt.Errorf("failed to claim reminder %s: %w", reminder.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrWriteConflict
	}
	return nil
}

func (r *ReminderRepository) Update(ctx context.Context, id uuid.UUID, fields models.ReminderUpdate) error {
	var status *string
	if fields.Status != nil {
		s := string(*fields.Status)
		status = &s
	}
	tag, err := r.db.Pool.Exec(ctx,
		`UPDATE schedules SET
		   scheduled_at = COALESCE($2, scheduled_at),
		   status = COALESCE($3, status),
		   last_error = COALESCE($4, last_error),
		   claimed_until = NULL,
		   updated_at = now()
		 WHERE id = $1`,
		id, fields.ScheduledAt, status, fields.LastError,
	)
	if err != nil {
		return fmt.Errorf("failed to update reminder %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrReminderNotFound
	}
	return nil
}

func (r *ReminderRepository) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.Pool.Exec(ctx, `DELETE FROM schedules WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete reminder %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrReminderNotFound
	}
	return nil
}

// Requeue puts an errored reminder back into the schedule at the given time.
func (r *ReminderRepository) Requeue(ctx context.Context, id uuid.UUID, at time.Time) error {
	tag, err := r.db.Pool.Exec(ctx,
		`UPDATE schedules SET status = 'scheduled', scheduled_at = $2, last_error = '',
		   claimed_until = NULL, updated_at = now()
		 WHERE id = $1 AND status = 'error'`,
		id, at,
	)
	if err != nil {
		return fmt.Errorf("failed to requeue reminder %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrWriteConflict
	}
	return nil
}

func scanReminder(row pgx.Row) (*models.Reminder, error) {
	reminder := &models.Reminder{}
	var rule, status string
	err := row.Scan(&reminder.ID, &reminder.MedicineName, &reminder.Dosage, &reminder.RecipientPhoneNumber,
		&reminder.ScheduledAt, &rule, &status, &reminder.ClaimedUntil, &reminder.LastError,
		&reminder.CreatedAt, &reminder.UpdatedAt)
	if err != nil {
		return nil, err
	}
	reminder.RecurrenceRule = models.RecurrenceRule(rule)
	reminder.Status = models.Status(status)
	return reminder, nil
}

func collectReminders(rows pgx.Rows) ([]*models.Reminder, error) {
	defer rows.Close()

	var reminders []*models.Reminder
	for rows.Next() {
		reminder, err := scanReminder(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan reminder: %w", err)
		}
		reminders = append(reminders, reminder)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read reminders: %w", err)
	}
	return reminders, nil
}

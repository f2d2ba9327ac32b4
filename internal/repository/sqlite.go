package repository

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hray3182/medbay-reminders/internal/models"

	_ "modernc.org/sqlite"
)

//go:embed sqlite_schema.sql
var sqliteSchema string

// SQLiteReminderRepository is the single-node variant of ReminderRepository.
// Timestamps are stored as unix milliseconds.
type SQLiteReminderRepository struct {
	db  *sql.DB
	now func() time.Time
}

// OpenSQLite opens (creating if needed) the database at path and applies the schema.
func OpenSQLite(ctx context.Context, path string) (*SQLiteReminderRepository, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create sqlite directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}
	// One writer keeps the conditional claim serialized.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	_, _ = db.ExecContext(ctx, "PRAGMA busy_timeout = 5000")
	_, _ = db.ExecContext(ctx, "PRAGMA journal_mode = WAL")
	_, _ = db.ExecContext(ctx, "PRAGMA synchronous = NORMAL")

	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply sqlite schema: %w", err)
	}
	return &SQLiteReminderRepository{db: db, now: time.Now}, nil
}

func (r *SQLiteReminderRepository) Close() error {
	if r == nil || r.db == nil {
		return nil
	}
	return r.db.Close()
}

func (r *SQLiteReminderRepository) Create(ctx context.Context, reminder *models.Reminder) error {
	if reminder.ID == uuid.Nil {
		reminder.ID = uuid.New()
	}
	if reminder.Status == "" {
		reminder.Status = models.StatusScheduled
	}
	now := r.now().UTC().Truncate(time.Millisecond)
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO schedules (id, medicine_name, dosage, user_phone_number, scheduled_at, recurring_type,
		   status, last_error, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, '', ?, ?)`,
		reminder.ID.String(), reminder.MedicineName, reminder.Dosage, reminder.RecipientPhoneNumber,
		reminder.ScheduledAt.UnixMilli(), string(reminder.RecurrenceRule), string(reminder.Status),
		now.UnixMilli(), now.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to create reminder: %w", err)
	}
	reminder.CreatedAt = now
	reminder.UpdatedAt = now
	return nil
}

func (r *SQLiteReminderRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Reminder, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+reminderColumns+` FROM schedules WHERE id = ?`,
		id.String(),
	)
	reminder, err := scanSQLiteReminder(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrReminderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get reminder %s: %w", id, err)
	}
	return reminder, nil
}

func (r *SQLiteReminderRepository) List(ctx context.Context) ([]*models.Reminder, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+reminderColumns+` FROM schedules ORDER BY scheduled_at ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list reminders: %w", err)
	}
	return collectSQLiteReminders(rows)
}

func (r *SQLiteReminderRepository) QueryDue(ctx context.Context, windowStart, windowEnd time.Time, excludeStatus models.Status) ([]*models.Reminder, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+reminderColumns+` FROM schedules
		 WHERE scheduled_at >= ? AND scheduled_at <= ? AND status <> ?
		 ORDER BY scheduled_at ASC`,
		windowStart.UnixMilli(), windowEnd.UnixMilli(), string(excludeStatus),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query due reminders: %w", err)
	}
	return collectSQLiteReminders(rows)
}

func (r *SQLiteReminderRepository) Claim(ctx context.Context, reminder *models.Reminder, leaseUntil, now time.Time) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE schedules SET status = 'processing', claimed_until = ?, updated_at = ?
		 WHERE id = ? AND status = ? AND scheduled_at = ?
		   AND (status <> 'processing' OR claimed_until IS NULL OR claimed_until < ?)`,
		leaseUntil.UnixMilli(), now.UnixMilli(),
		reminder.ID.String(), string(reminder.Status), reminder.ScheduledAt.UnixMilli(), now.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to claim reminder %s: %w", reminder.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to claim reminder %s: %w", reminder.ID, err)
	}
	if n == 0 {
		return ErrWriteConflict
	}
	return nil
}

func (r *SQLiteReminderRepository) Update(ctx context.Context, id uuid.UUID, fields models.ReminderUpdate) error {
	var scheduledAt, status, lastError any
	if fields.ScheduledAt != nil {
		scheduledAt = fields.ScheduledAt.UnixMilli()
	}
	if fields.Status != nil {
		status = string(*fields.Status)
	}
	if fields.LastError != nil {
		lastError = *fields.LastError
	}
	res, err := r.db.ExecContext(ctx,
		`UPDATE schedules SET
		   scheduled_at = COALESCE(?, scheduled_at),
		   status = COALESCE(?, status),
		   last_error = COALESCE(?, last_error),
		   claimed_until = NULL,
		   updated_at = ?
		 WHERE id = ?`,
		scheduledAt, status, lastError, r.now().UnixMilli(), id.String(),
	)
	return rowsOrNotFound(res, err, "update", id)
}

func (r *SQLiteReminderRepository) Delete(ctx context.Context, id uuid.UUID) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM schedules WHERE id = ?`, id.String())
	return rowsOrNotFound(res, err, "delete", id)
}

func (r *SQLiteReminderRepository) Requeue(ctx context.Context, id uuid.UUID, at time.Time) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE schedules SET status = 'scheduled', scheduled_at = ?, last_error = '',
		   claimed_until = NULL, updated_at = ?
		 WHERE id = ? AND status = 'error'`,
		at.UnixMilli(), r.now().UnixMilli(), id.String(),
	)
	err = rowsOrNotFound(res, err, "requeue", id)
	if errors.Is(err, ErrReminderNotFound) {
		return ErrWriteConflict
	}
	return err
}

func rowsOrNotFound(res sql.Result, err error, op string, id uuid.UUID) error {
	if err != nil {
		return fmt.Errorf("failed to %s reminder %s: %w", op, id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to %s reminder %s: %w", op, id, err)
	}
	if n == 0 {
		return ErrReminderNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteReminder(row rowScanner) (*models.Reminder, error) {
	reminder := &models.Reminder{}
	var (
		id, rule, status             string
		scheduledAt, created, update int64
		claimedUntil                 sql.NullInt64
	)
	err := row.Scan(&id, &reminder.MedicineName, &reminder.Dosage, &reminder.RecipientPhoneNumber,
		&scheduledAt, &rule, &status, &claimedUntil, &reminder.LastError, &created, &update)
	if err != nil {
		return nil, err
	}
	reminder.ID, err = uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("invalid reminder id %q: %w", id, err)
	}
	reminder.ScheduledAt = fromMillis(scheduledAt)
	reminder.RecurrenceRule = models.RecurrenceRule(rule)
	reminder.Status = models.Status(status)
	if claimedUntil.Valid {
		t := fromMillis(claimedUntil.Int64)
		reminder.ClaimedUntil = &t
	}
	reminder.CreatedAt = fromMillis(created)
	reminder.UpdatedAt = fromMillis(update)
	return reminder, nil
}

func collectSQLiteReminders(rows *sql.Rows) ([]*models.Reminder, error) {
	defer rows.Close()

	var reminders []*models.Reminder
	for rows.Next() {
		reminder, err := scanSQLiteReminder(rows)
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

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

package dispatcher

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hray3182/medbay-reminders/internal/models"
	"github.com/hray3182/medbay-reminders/internal/repository"
)

// memStore is an in-memory ReminderStore with the same conditional claim
// semantics as the SQL repositories.
type memStore struct {
	mu        sync.Mutex
	rows      map[uuid.UUID]models.Reminder
	queryErr  error
	claimErr  error
	updateErr error
	deleteErr error
	claims    int
}

func newMemStore(reminders ...*models.Reminder) *memStore {
	s := &memStore{rows: make(map[uuid.UUID]models.Reminder)}
	for _, r := range reminders {
		s.put(r)
	}
	return s
}

func (s *memStore) put(r *models.Reminder) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	s.rows[r.ID] = *r
}

func (s *memStore) get(id uuid.UUID) (models.Reminder, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rows[id]
	return r, ok
}

func (s *memStore) setUpdateErr(err error) {
	s.mu.Lock()
	s.updateErr = err
	s.mu.Unlock()
}

func (s *memStore) QueryDue(_ context.Context, windowStart, windowEnd time.Time, excludeStatus models.Status) ([]*models.Reminder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.queryErr != nil {
		return nil, s.queryErr
	}
	var out []*models.Reminder
	for _, r := range s.rows {
		if r.ScheduledAt.Before(windowStart) || r.ScheduledAt.After(windowEnd) || r.Status == excludeStatus {
			continue
		}
		c := r
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ScheduledAt.Before(out[j].ScheduledAt) })
	return out, nil
}

func (s *memStore) Claim(_ context.Context, reminder *models.Reminder, leaseUntil, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.claimErr != nil {
		return s.claimErr
	}
	cur, ok := s.rows[reminder.ID]
	if !ok || cur.Status != reminder.Status || !cur.ScheduledAt.Equal(reminder.ScheduledAt) {
		return repository.ErrWriteConflict
	}
	if cur.Status == models.StatusProcessing && !cur.LeaseExpired(now) {
		return repository.ErrWriteConflict
	}
	cur.Status = models.StatusProcessing
	cur.ClaimedUntil = &leaseUntil
	s.rows[cur.ID] = cur
	s.claims++
	return nil
}

func (s *memStore) Update(_ context.Context, id uuid.UUID, fields models.ReminderUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.updateErr != nil {
		return s.updateErr
	}
	cur, ok := s.rows[id]
	if !ok {
		return repository.ErrReminderNotFound
	}
	if fields.ScheduledAt != nil {
		cur.ScheduledAt = *fields.ScheduledAt
	}
	if fields.Status != nil {
		cur.Status = *fields.Status
	}
	if fields.LastError != nil {
		cur.LastError = *fields.LastError
	}
	cur.ClaimedUntil = nil
	s.rows[id] = cur
	return nil
}

func (s *memStore) Delete(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.deleteErr != nil {
		return s.deleteErr
	}
	if _, ok := s.rows[id]; !ok {
		return repository.ErrReminderNotFound
	}
	delete(s.rows, id)
	return nil
}

package dispatcher

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// CycleReport summarizes one dispatch cycle.
//
// Processed counts reminders this cycle claimed; each of them ends up in exactly
// one of Errored, Rescheduled or Completed unless the cycle was aborted or the
// row was deleted underneath it.
type CycleReport struct {
	Processed   int
	Sent        int
	Errored     int
	Rescheduled int
	Completed   int
	Skipped     int // not claimable, or claimed by another cycle
	InvalidRule int
	StartedAt   time.Time
	FinishedAt  time.Time
}

func (r CycleReport) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

func (r CycleReport) Fields() logrus.Fields {
	return logrus.Fields{
		"processed":    r.Processed,
		"sent":         r.Sent,
		"errored":      r.Errored,
		"rescheduled":  r.Rescheduled,
		"completed":    r.Completed,
		"skipped":      r.Skipped,
		"invalid_rule": r.InvalidRule,
		"duration":     r.Duration().String(),
	}
}

// tally is the report under construction, shared by concurrent workers.
type tally struct {
	mu  sync.Mutex
	rep CycleReport
}

func (t *tally) add(f func(r *CycleReport)) {
	t.mu.Lock()
	f(&t.rep)
	t.mu.Unlock()
}

func (t *tally) snapshot() CycleReport {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.rep
}

package rrule

import (
	"errors"
	"fmt"
	"time"

	"github.com/hray3182/medbay-reminders/internal/models"
	"github.com/teambition/rrule-go"
)

// ErrUnknownRecurrenceRule is returned for rule values the engine does not handle.
var ErrUnknownRecurrenceRule = errors.New("unknown recurrence rule")

// NextState is the outcome of advancing a reminder after it fired.
// Terminal means the reminder is done and Next is zero.
type NextState struct {
	Terminal bool
	Next     time.Time
}

func Repeat(next time.Time) NextState {
	return NextState{Next: next}
}

func Terminal() NextState {
	return NextState{Terminal: true}
}

// Validate reports whether rule is one the engine can advance.
func Validate(rule models.RecurrenceRule) error {
	switch rule {
	case models.RuleOnce, models.RuleDaily, models.RuleWeekly, models.RuleMonthly:
		return nil
	}
	return fmt.Errorf("%w: %q", ErrUnknownRecurrenceRule, string(rule))
}

// Advance computes the state that follows a fire at last.
//
// Calendar arithmetic happens in last's location, so a daily reminder keeps its
// wall-clock time across DST changes. Monthly reminders keep the day of month;
// when the target month is shorter the result is clamped to its last day
// (Jan 31 -> Feb 29 in a leap year, Feb 28 otherwise).
func Advance(last time.Time, rule models.RecurrenceRule) (NextState, error) {
	if err := Validate(rule); err != nil {
		return NextState{}, err
	}
	if rule == models.RuleOnce {
		return Terminal(), nil
	}

	opt, err := toROption(last, rule)
	if err != nil {
		return NextState{}, err
	}
	r, err := rrule.NewRRule(opt)
	if err != nil {
		return NextState{}, fmt.Errorf("failed to build %s rule: %w", rule, err)
	}

	// rrule works at second precision
	frac := last.Sub(last.Truncate(time.Second))
	next := r.After(last.Truncate(time.Second), false)
	if next.IsZero() {
		return NextState{}, fmt.Errorf("no occurrence after %s for %s rule", last.Format(time.RFC3339), rule)
	}
	return Repeat(next.Add(frac)), nil
}

func toROption(last time.Time, rule models.RecurrenceRule) (rrule.ROption, error) {
	opt := rrule.ROption{
		Interval: 1,
		Dtstart:  last.Truncate(time.Second),
	}

	switch rule {
	case models.RuleDaily:
		opt.Freq = rrule.DAILY
	case models.RuleWeekly:
		opt.Freq = rrule.WEEKLY
	case models.RuleMonthly:
		opt.Freq = rrule.MONTHLY
		// BYMONTHDAY=28..d;BYSETPOS=-1 picks day d, or the month's last day when d does not exist
		day := last.Day()
		if day > 28 {
			days := make([]int, 0, day-27)
			for d := 28; d <= day; d++ {
				days = append(days, d)
			}
			opt.Bymonthday = days
			opt.Bysetpos = []int{-1}
		} else {
			opt.Bymonthday = []int{day}
		}
	default:
		return rrule.ROption{}, fmt.Errorf("%w: %q", ErrUnknownRecurrenceRule, string(rule))
	}
	return opt, nil
}

// Describe returns a short description of the rule for logs and alerts
func Describe(rule models.RecurrenceRule) string {
	switch rule {
	case models.RuleOnce:
		return "one-time"
	case models.RuleDaily:
		return "every day"
	case models.RuleWeekly:
		return "every week"
	case models.RuleMonthly:
		return "every month"
	}
	return fmt.Sprintf("unknown (%q)", string(rule))
}

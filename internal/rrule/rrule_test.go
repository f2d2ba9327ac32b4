package rrule

import (
	"testing"
	"time"

	"github.com/hray3182/medbay-reminders/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustParse(t *testing.T, s string) time.Time {
	t.Helper()
	ts, err := time.Parse(time.RFC3339Nano, s)
	require.NoError(t, err)
	return ts
}

func TestAdvance(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		last string
		rule models.RecurrenceRule
		want string
	}{
		{name: "daily", last: "2024-03-10T08:30:00Z", rule: models.RuleDaily, want: "2024-03-11T08:30:00Z"},
		{name: "daily across month end", last: "2024-01-31T21:00:00Z", rule: models.RuleDaily, want: "2024-02-01T21:00:00Z"},
		{name: "daily keeps sub-second", last: "2024-03-10T08:30:00.250Z", rule: models.RuleDaily, want: "2024-03-11T08:30:00.250Z"},
		{name: "weekly", last: "2024-02-26T07:00:00Z", rule: models.RuleWeekly, want: "2024-03-04T07:00:00Z"},
		{name: "monthly mid month", last: "2024-01-15T09:00:00Z", rule: models.RuleMonthly, want: "2024-02-15T09:00:00Z"},
		{name: "monthly 28th", last: "2024-01-28T09:00:00Z", rule: models.RuleMonthly, want: "2024-02-28T09:00:00Z"},
		{name: "monthly leap clamp", last: "2024-01-31T09:00:00Z", rule: models.RuleMonthly, want: "2024-02-29T09:00:00Z"},
		{name: "monthly non-leap clamp", last: "2023-01-31T09:00:00Z", rule: models.RuleMonthly, want: "2023-02-28T09:00:00Z"},
		{name: "monthly 31 to 30", last: "2024-03-31T09:00:00Z", rule: models.RuleMonthly, want: "2024-04-30T09:00:00Z"},
		{name: "monthly 30 into 31 day month", last: "2024-04-30T09:00:00Z", rule: models.RuleMonthly, want: "2024-05-30T09:00:00Z"},
		{name: "monthly year rollover", last: "2024-12-31T23:00:00Z", rule: models.RuleMonthly, want: "2025-01-31T23:00:00Z"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := Advance(mustParse(t, tt.last), tt.rule)
			require.NoError(t, err)
			assert.False(t, got.Terminal)
			assert.True(t, got.Next.Equal(mustParse(t, tt.want)), "Next = %s, want %s", got.Next, tt.want)
		})
	}
}

func TestAdvanceOnceIsTerminal(t *testing.T) {
	t.Parallel()
	got, err := Advance(mustParse(t, "2024-01-31T09:00:00Z"), models.RuleOnce)
	require.NoError(t, err)
	assert.True(t, got.Terminal)
	assert.True(t, got.Next.IsZero())
}

func TestAdvanceUnknownRule(t *testing.T) {
	t.Parallel()
	for _, rule := range []models.RecurrenceRule{"", "yearly", "DAILY"} {
		_, err := Advance(mustParse(t, "2024-01-31T09:00:00Z"), rule)
		assert.ErrorIs(t, err, ErrUnknownRecurrenceRule, "rule %q", rule)
	}
}

func TestAdvanceKeepsWallClockAcrossDST(t *testing.T) {
	t.Parallel()
	loc, err := time.LoadLocation("Europe/Berlin")
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}
	// Clocks move forward on 2024-03-31 in Berlin.
	last := time.Date(2024, time.March, 30, 9, 0, 0, 0, loc)
	got, err := Advance(last, models.RuleDaily)
	require.NoError(t, err)
	assert.Equal(t, 9, got.Next.In(loc).Hour())
	assert.Equal(t, 31, got.Next.In(loc).Day())
	assert.Equal(t, 23*time.Hour, got.Next.Sub(last))
}

func TestAdvanceIsDeterministic(t *testing.T) {
	t.Parallel()
	last := mustParse(t, "2024-05-31T06:45:00Z")
	first, err := Advance(last, models.RuleMonthly)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		again, err := Advance(last, models.RuleMonthly)
		require.NoError(t, err)
		assert.True(t, first.Next.Equal(again.Next))
	}
}

func TestDescribe(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "every day", Describe(models.RuleDaily))
	assert.Equal(t, "one-time", Describe(models.RuleOnce))
	assert.Contains(t, Describe("fortnightly"), "unknown")
}

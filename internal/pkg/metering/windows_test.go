package metering

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/studyhubng/StudyHub/internal/pkg/plans"
)

func TestWindowFor(t *testing.T) {
	tests := []struct {
		name      string
		period    plans.PeriodType
		now       time.Time
		wantStart time.Time
		wantEnd   time.Time
	}{
		{
			name:      "daily mid-day",
			period:    plans.PeriodDaily,
			now:       time.Date(2025, 3, 10, 13, 45, 0, 0, time.UTC),
			wantStart: time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC),
			wantEnd:   time.Date(2025, 3, 11, 0, 0, 0, 0, time.UTC),
		},
		{
			name:      "daily one second before midnight",
			period:    plans.PeriodDaily,
			now:       time.Date(2025, 3, 10, 23, 59, 59, 0, time.UTC),
			wantStart: time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC),
			wantEnd:   time.Date(2025, 3, 11, 0, 0, 0, 0, time.UTC),
		},
		{
			name:      "weekly wednesday belongs to monday week",
			period:    plans.PeriodWeekly,
			now:       time.Date(2025, 3, 12, 8, 0, 0, 0, time.UTC),
			wantStart: time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC),
			wantEnd:   time.Date(2025, 3, 17, 0, 0, 0, 0, time.UTC),
		},
		{
			name:      "weekly sunday is the last day of the week",
			period:    plans.PeriodWeekly,
			now:       time.Date(2025, 3, 16, 23, 0, 0, 0, time.UTC),
			wantStart: time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC),
			wantEnd:   time.Date(2025, 3, 17, 0, 0, 0, 0, time.UTC),
		},
		{
			name:      "weekly monday midnight opens a new week",
			period:    plans.PeriodWeekly,
			now:       time.Date(2025, 3, 17, 0, 0, 0, 0, time.UTC),
			wantStart: time.Date(2025, 3, 17, 0, 0, 0, 0, time.UTC),
			wantEnd:   time.Date(2025, 3, 24, 0, 0, 0, 0, time.UTC),
		},
		{
			name:      "monthly last day of january",
			period:    plans.PeriodMonthly,
			now:       time.Date(2025, 1, 31, 18, 0, 0, 0, time.UTC),
			wantStart: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
			wantEnd:   time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC),
		},
		{
			name:      "monthly december rolls the year",
			period:    plans.PeriodMonthly,
			now:       time.Date(2025, 12, 15, 0, 0, 0, 0, time.UTC),
			wantStart: time.Date(2025, 12, 1, 0, 0, 0, 0, time.UTC),
			wantEnd:   time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			start, end := WindowFor(tt.period, tt.now)
			assert.Equal(t, tt.wantStart, start)
			assert.Equal(t, tt.wantEnd, end)
		})
	}
}

func TestWindowContainsNow(t *testing.T) {
	// Any instant must land inside its own window, half-open at the end.
	instants := []time.Time{
		time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC),
		time.Date(2025, 6, 30, 23, 59, 59, 0, time.UTC),
		time.Date(2024, 2, 29, 12, 0, 0, 0, time.UTC),
		time.Date(2025, 12, 31, 23, 59, 59, 0, time.UTC),
	}
	for _, period := range []plans.PeriodType{plans.PeriodDaily, plans.PeriodWeekly, plans.PeriodMonthly} {
		for _, now := range instants {
			start, end := WindowFor(period, now)
			assert.False(t, now.Before(start), "%s window for %s starts after it", period, now)
			assert.True(t, now.Before(end), "%s window for %s ends at or before it", period, now)
		}
	}
}

func TestWindowForUsage(t *testing.T) {
	now := time.Date(2025, 3, 12, 8, 0, 0, 0, time.UTC)

	start, end, ok := WindowForUsage(plans.UsageQuizzes, now)
	require.True(t, ok)
	assert.Equal(t, time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC), start)
	assert.Equal(t, time.Date(2025, 3, 17, 0, 0, 0, 0, time.UTC), end)

	_, _, ok = WindowForUsage(plans.UsageType("bogus"), now)
	assert.False(t, ok)
}

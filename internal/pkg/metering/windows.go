package metering

import (
	"time"

	"github.com/studyhubng/StudyHub/internal/pkg/plans"
)

// WindowFor computes the half-open [start, end) window containing now for a
// period kind. Pure UTC wall-clock arithmetic so every node agrees on the
// boundaries. Weeks start Monday 00:00 UTC.
func WindowFor(period plans.PeriodType, now time.Time) (time.Time, time.Time) {
	now = now.UTC()
	switch period {
	case plans.PeriodDaily:
		start := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
		return start, start.AddDate(0, 0, 1)
	case plans.PeriodWeekly:
		// time.Weekday counts Sunday as 0; shift so Monday opens the week.
		offset := (int(now.Weekday()) + 6) % 7
		start := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC).AddDate(0, 0, -offset)
		return start, start.AddDate(0, 0, 7)
	case plans.PeriodMonthly:
		start := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
		return start, start.AddDate(0, 1, 0)
	default:
		start := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
		return start, start.AddDate(0, 0, 1)
	}
}

// WindowForUsage resolves a usage type's period and returns its current
// window. The third return is false for unknown usage types.
func WindowForUsage(t plans.UsageType, now time.Time) (time.Time, time.Time, bool) {
	period, ok := plans.PeriodOf(t)
	if !ok {
		return time.Time{}, time.Time{}, false
	}
	start, end := WindowFor(period, now)
	return start, end, true
}

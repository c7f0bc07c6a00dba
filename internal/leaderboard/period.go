package leaderboard

import (
	"time"

	"github.com/alexbotov/progression/internal/domain"
)

// AllTimeAnchor is the fixed period_start of every ALL_TIME entry
var AllTimeAnchor = time.Date(2026, time.January, 1, 0, 0, 0, 0, time.UTC)

// Bounds returns the window of period containing now, in UTC.
// ALL_TIME windows have no end.
func Bounds(period domain.TimePeriod, now time.Time) (time.Time, *time.Time) {
	now = now.UTC()
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)

	var start, end time.Time
	switch period {
	case domain.PeriodDaily:
		start = midnight
		end = start.AddDate(0, 0, 1)
	case domain.PeriodWeekly:
		offset := (int(now.Weekday()) + 6) % 7
		start = midnight.AddDate(0, 0, -offset)
		end = start.AddDate(0, 0, 7)
	case domain.PeriodMonthly:
		start = time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
		end = start.AddDate(0, 1, 0)
	default:
		return AllTimeAnchor, nil
	}
	return start, &end
}

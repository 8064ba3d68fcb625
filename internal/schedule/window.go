// internal/schedule/window.go
package schedule

import (
	"time"

	"github.com/unclebandit/outreach-backend/internal/model"
)

// horizonDays bounds the next-slot search. Past it we fall back to
// "one day ahead" — a known approximation, kept deliberately.
const horizonDays = 14

// InLocation converts an instant to the lead's local time. Unknown or
// empty timezones fall back to UTC.
func InLocation(t time.Time, tz string) time.Time {
	loc, err := time.LoadLocation(tz)
	if err != nil || tz == "" {
		loc = time.UTC
	}
	return t.In(loc)
}

// weekday maps Go's Sunday=0 convention onto the rule's Monday=0.
func weekday(t time.Time) int {
	return (int(t.Weekday()) + 6) % 7
}

func dayAllowed(t time.Time, rule model.ScheduleRule) bool {
	day := weekday(t)
	allowed := false
	for _, d := range rule.DaysAllowed {
		if d == day {
			allowed = true
			break
		}
	}
	if !allowed {
		return false
	}

	date := t.Format("2006-01-02")
	for _, blackout := range rule.BlackoutDates {
		if blackout == date {
			return false
		}
	}
	return true
}

// Within reports whether localNow (already in the lead's timezone) falls
// inside the rule's allowed weekday, non-blackout date and [start, end)
// hour range.
func Within(localNow time.Time, rule model.ScheduleRule) bool {
	if !dayAllowed(localNow, rule) {
		return false
	}
	hour := localNow.Hour()
	return hour >= rule.StartHour && hour < rule.EndHour
}

// NextAvailable returns the next instant allowed by the rule, walking
// forward day by day from localNow. If localNow is already in window it is
// returned unchanged; if today is allowed but before start hour, today at
// start hour is returned. When no slot exists within the horizon the
// result is localNow + 24h.
func NextAvailable(localNow time.Time, rule model.ScheduleRule) time.Time {
	next := localNow
	for i := 0; i < horizonDays; i++ {
		if dayAllowed(next, rule) {
			if next.Hour() < rule.StartHour {
				return atHour(next, rule.StartHour)
			}
			if next.Hour() < rule.EndHour {
				return next
			}
		}
		next = atHour(next.AddDate(0, 0, 1), rule.StartHour)
	}
	return localNow.Add(24 * time.Hour)
}

func atHour(t time.Time, hour int) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), hour, 0, 0, 0, t.Location())
}

package extraction

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

const dateLayout = "2006-01-02"

var nDaysPattern = regexp.MustCompile(`(\d+)\s*day`)

var weekdays = map[string]time.Weekday{
	"monday":    time.Monday,
	"tuesday":   time.Tuesday,
	"wednesday": time.Wednesday,
	"thursday":  time.Thursday,
	"friday":    time.Friday,
	"saturday":  time.Saturday,
	"sunday":    time.Sunday,
}

// ResolveDueDate turns an absolute or relative due-date phrase into a
// YYYY-MM-DD date anchored on the call date. Weekday names resolve to the
// next future occurrence of that weekday, never the call date itself.
// Unrecognized phrases resolve to no due date rather than erroring.
func ResolveDueDate(raw string, callDate time.Time) string {
	s := strings.ToLower(strings.TrimSpace(raw))
	switch s {
	case "", "null", "none", "n/a":
		return ""
	}

	if _, err := time.Parse(dateLayout, s); err == nil {
		return s
	}

	switch {
	case strings.Contains(s, "today"):
		return callDate.Format(dateLayout)
	case strings.Contains(s, "tomorrow"):
		return callDate.AddDate(0, 0, 1).Format(dateLayout)
	case strings.Contains(s, "next week"):
		return callDate.AddDate(0, 0, 7).Format(dateLayout)
	case strings.Contains(s, "next month"):
		return callDate.AddDate(0, 0, 30).Format(dateLayout)
	}

	for name, day := range weekdays {
		if strings.Contains(s, name) {
			return nextWeekday(callDate, day).Format(dateLayout)
		}
	}

	if m := nDaysPattern.FindStringSubmatch(s); m != nil {
		days, err := strconv.Atoi(m[1])
		if err == nil {
			return callDate.AddDate(0, 0, days).Format(dateLayout)
		}
	}

	return ""
}

// nextWeekday returns the next occurrence of day strictly after base.
func nextWeekday(base time.Time, day time.Weekday) time.Time {
	delta := (int(day) - int(base.Weekday()) + 7) % 7
	if delta == 0 {
		delta = 7
	}
	return base.AddDate(0, 0, delta)
}

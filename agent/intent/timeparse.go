package intent

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Natural-language due phrases the dialog understands without the model:
// weekday names, today/tonight/tomorrow, "next week", and clock times like
// "5pm" or "17:30". All resolution happens in the user's timezone.

var weekdayNames = map[string]time.Weekday{
	"sunday": time.Sunday, "monday": time.Monday, "tuesday": time.Tuesday,
	"wednesday": time.Wednesday, "thursday": time.Thursday,
	"friday": time.Friday, "saturday": time.Saturday,
}

var (
	clockRe    = regexp.MustCompile(`\b(\d{1,2})(?::(\d{2}))?\s*(am|pm)\b`)
	clock24Re  = regexp.MustCompile(`\b(\d{1,2}):(\d{2})\b`)
	hoursRe    = regexp.MustCompile(`\b(\d+(?:\.\d+)?)\s*(?:hours?|hrs?)\b`)
	minutesRe  = regexp.MustCompile(`\b(\d+)\s*(?:minutes?|mins?)\b`)
	priorities = map[string]int{"low": 1, "medium": 2, "normal": 2, "high": 3, "urgent": 3}
)

// ParseDuePhrase resolves a natural-language due phrase relative to now in
// loc. Returns false when the text carries no recognizable date or time.
// A date without a clock time defaults to 17:00.
func ParseDuePhrase(text string, now time.Time, loc *time.Location) (time.Time, bool) {
	lower := strings.ToLower(text)
	local := now.In(loc)

	day, hasDay := parseDay(lower, local)
	hour, minute, hasClock := parseClock(lower)

	if !hasDay && !hasClock {
		return time.Time{}, false
	}
	if !hasClock {
		hour, minute = 17, 0
	}
	if !hasDay {
		day = local
		candidate := time.Date(day.Year(), day.Month(), day.Day(), hour, minute, 0, 0, loc)
		if !candidate.After(local) {
			day = day.AddDate(0, 0, 1)
		}
	}
	return time.Date(day.Year(), day.Month(), day.Day(), hour, minute, 0, 0, loc), true
}

func parseDay(lower string, local time.Time) (time.Time, bool) {
	switch {
	case strings.Contains(lower, "tomorrow"):
		return local.AddDate(0, 0, 1), true
	case strings.Contains(lower, "today") || strings.Contains(lower, "tonight"):
		return local, true
	case strings.Contains(lower, "next week"):
		return local.AddDate(0, 0, 7), true
	}
	for name, wd := range weekdayNames {
		if !strings.Contains(lower, name) {
			continue
		}
		// Bare weekday names always mean the next occurrence.
		days := (int(wd) - int(local.Weekday()) + 7) % 7
		if days == 0 {
			days = 7
		}
		return local.AddDate(0, 0, days), true
	}
	return time.Time{}, false
}

func parseClock(lower string) (hour, minute int, ok bool) {
	if m := clockRe.FindStringSubmatch(lower); m != nil {
		hour, _ = strconv.Atoi(m[1])
		if m[2] != "" {
			minute, _ = strconv.Atoi(m[2])
		}
		if m[3] == "pm" && hour < 12 {
			hour += 12
		}
		if m[3] == "am" && hour == 12 {
			hour = 0
		}
		return hour, minute, hour < 24 && minute < 60
	}
	if m := clock24Re.FindStringSubmatch(lower); m != nil {
		hour, _ = strconv.Atoi(m[1])
		minute, _ = strconv.Atoi(m[2])
		return hour, minute, hour < 24 && minute < 60
	}
	return 0, 0, false
}

// ParseDurationPhrase extracts an effort estimate in minutes from phrases
// like "2 hours" or "45 minutes".
func ParseDurationPhrase(text string) (int, bool) {
	lower := strings.ToLower(text)
	total := 0
	if m := hoursRe.FindStringSubmatch(lower); m != nil {
		h, err := strconv.ParseFloat(m[1], 64)
		if err == nil {
			total += int(h * 60)
		}
	}
	if m := minutesRe.FindStringSubmatch(lower); m != nil {
		mins, err := strconv.Atoi(m[1])
		if err == nil {
			total += mins
		}
	}
	return total, total > 0
}

// ParsePriority maps a priority word to the 1..3 scale.
func ParsePriority(text string) (int, bool) {
	p, ok := priorities[strings.ToLower(strings.TrimSpace(text))]
	return p, ok
}

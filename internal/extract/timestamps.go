package extract

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// timestampMatch is a timestamp found in scraped text. Exact is set only when
// both a calendar date and a time of day were shown.
type timestampMatch struct {
	At    time.Time
	Exact bool
	Text  string
}

var (
	isoDateTime = regexp.MustCompile(`(\d{4})-(\d{1,2})-(\d{1,2})(?:[ T]+(\d{1,2}):(\d{2})(?::(\d{2}))?)?`)
	usDateTime  = regexp.MustCompile(`(\d{1,2})/(\d{1,2})/(\d{4})(?:\s+(\d{1,2}):(\d{2}))?`)
	yesterdayAt = regexp.MustCompile(`(?i)\byesterday\b(?:\s+(\d{1,2}):(\d{2}))?`)
	todayAt     = regexp.MustCompile(`(?i)\btoday\b(?:\s+(\d{1,2}):(\d{2}))?`)
	minutesAgo  = regexp.MustCompile(`(?i)\b(\d+)\s*(?:minutes?|mins?)\s+ago\b`)
	hoursAgo    = regexp.MustCompile(`(?i)\b(\d+)\s*(?:hours?|hrs?)\s+ago\b`)
	justNow     = regexp.MustCompile(`(?i)\bjust now\b`)
	clockTime   = regexp.MustCompile(`\b(\d{1,2}):(\d{2})\b`)
)

// findTimestamp returns the first timestamp in text. Relative expressions are
// resolved against now; dates without a time fall at midnight in loc.
func findTimestamp(text string, now time.Time, loc *time.Location) (timestampMatch, bool) {
	if loc == nil {
		loc = time.UTC
	}
	now = now.In(loc)

	if m := isoDateTime.FindStringSubmatch(text); m != nil {
		if at, ok := dateTime(atoi(m[1]), atoi(m[2]), atoi(m[3]), m[4], m[5], m[6], loc); ok {
			return timestampMatch{At: at, Exact: m[4] != "", Text: m[0]}, true
		}
	}
	if m := usDateTime.FindStringSubmatch(text); m != nil {
		if at, ok := dateTime(atoi(m[3]), atoi(m[1]), atoi(m[2]), m[4], m[5], "", loc); ok {
			return timestampMatch{At: at, Exact: m[4] != "", Text: m[0]}, true
		}
	}
	if m := yesterdayAt.FindStringSubmatch(text); m != nil {
		return timestampMatch{At: onDay(now.AddDate(0, 0, -1), m[1], m[2]), Text: m[0]}, true
	}
	if m := todayAt.FindStringSubmatch(text); m != nil {
		return timestampMatch{At: onDay(now, m[1], m[2]), Text: m[0]}, true
	}
	if m := minutesAgo.FindStringSubmatch(text); m != nil {
		return timestampMatch{At: now.Add(-time.Duration(atoi(m[1])) * time.Minute), Text: m[0]}, true
	}
	if m := hoursAgo.FindStringSubmatch(text); m != nil {
		return timestampMatch{At: now.Add(-time.Duration(atoi(m[1])) * time.Hour), Text: m[0]}, true
	}
	if m := justNow.FindString(text); m != "" {
		return timestampMatch{At: now, Text: m}, true
	}
	for _, m := range clockTime.FindAllStringSubmatch(text, -1) {
		if atoi(m[1]) > 23 || atoi(m[2]) > 59 {
			continue
		}
		at := onDay(now, m[1], m[2])
		// A bare time later than now was shown for yesterday.
		if at.After(now.Add(time.Minute)) {
			at = at.AddDate(0, 0, -1)
		}
		return timestampMatch{At: at, Text: m[0]}, true
	}
	return timestampMatch{}, false
}

// isTimestampOnly reports whether text is nothing but a timestamp.
func isTimestampOnly(text string, now time.Time, loc *time.Location) bool {
	text = strings.TrimSpace(text)
	if text == "" {
		return false
	}
	m, ok := findTimestamp(text, now, loc)
	return ok && strings.TrimSpace(strings.Replace(text, m.Text, "", 1)) == ""
}

func dateTime(year, month, day int, hour, minute, second string, loc *time.Location) (time.Time, bool) {
	if month < 1 || month > 12 || day < 1 || day > 31 {
		return time.Time{}, false
	}
	h, mi, s := atoi(hour), atoi(minute), atoi(second)
	if h > 23 || mi > 59 || s > 59 {
		return time.Time{}, false
	}
	at := time.Date(year, time.Month(month), day, h, mi, s, 0, loc)
	if at.Day() != day {
		return time.Time{}, false
	}
	return at, true
}

func onDay(day time.Time, hour, minute string) time.Time {
	h, m := atoi(hour), atoi(minute)
	if hour == "" || h > 23 || m > 59 {
		h, m = day.Hour(), day.Minute()
	}
	return time.Date(day.Year(), day.Month(), day.Day(), h, m, 0, 0, day.Location())
}

// atoi returns 0 for empty or malformed input.
func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}

package logparse

import (
	"regexp"
	"strconv"
	"time"
)

var (
	isoTimestampRE    = regexp.MustCompile(`\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2}`)
	syslogTimestampRE = regexp.MustCompile(`([A-Za-z]{3})\s+(\d{1,2})\s+(\d{2}):(\d{2}):(\d{2})`)
)

var monthByAbbrev = map[string]time.Month{
	"Jan": time.January, "Feb": time.February, "Mar": time.March,
	"Apr": time.April, "May": time.May, "Jun": time.June,
	"Jul": time.July, "Aug": time.August, "Sep": time.September,
	"Oct": time.October, "Nov": time.November, "Dec": time.December,
}

// extractTimestamp pulls a timestamp out of a raw log line. It tries an
// ISO-8601 prefix first, then the syslog "Mon DD HH:MM:SS" form (assuming
// the current UTC year, since syslog lines carry no year — year-boundary
// rollover is an explicit non-goal). Falls back to now(UTC) if nothing
// parses, per spec.md §4.1.
func extractTimestamp(line string) time.Time {
	if m := isoTimestampRE.FindString(line); m != "" {
		if t, err := time.Parse("2006-01-02T15:04:05", m); err == nil {
			return t
		}
	}
	if m := syslogTimestampRE.FindStringSubmatch(line); m != nil {
		month, ok := monthByAbbrev[m[1]]
		if ok {
			day, _ := strconv.Atoi(m[2])
			hour, _ := strconv.Atoi(m[3])
			minute, _ := strconv.Atoi(m[4])
			second, _ := strconv.Atoi(m[5])
			year := time.Now().UTC().Year()
			if t, err := safeDate(year, month, day, hour, minute, second); err == nil {
				return t
			}
		}
	}
	return time.Now().UTC()
}

func safeDate(year int, month time.Month, day, hour, minute, second int) (time.Time, error) {
	t := time.Date(year, month, day, hour, minute, second, 0, time.UTC)
	// time.Date normalizes out-of-range fields instead of failing; reject
	// that silently by checking the round trip stays in the same month.
	if t.Month() != month || t.Day() != day {
		return time.Time{}, errInvalidDate
	}
	return t, nil
}

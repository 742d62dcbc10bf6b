package search

import (
	"time"
)

const rfc3339Millis = "2006-01-02T15:04:05.000Z07:00"

// TimeRange is a half-open interval of UTC instants.
type TimeRange struct {
	From time.Time
	To   time.Time
}

// ParseTimeRange resolves the from/to request parameters. A missing or
// unparseable bound, or an inverted interval, falls back to the last 24
// hours ending at now. Inputs without a timezone are read as UTC.
func ParseTimeRange(from, to string, now time.Time) TimeRange {
	now = now.UTC()
	fallback := TimeRange{From: now.Add(-24 * time.Hour), To: now}

	if from == "" || to == "" {
		return fallback
	}

	fromTime, err := parseUTC(from)
	if err != nil {
		return fallback
	}
	toTime, err := parseUTC(to)
	if err != nil {
		return fallback
	}
	if fromTime.After(toTime) {
		return fallback
	}
	return TimeRange{From: fromTime, To: toTime}
}

func parseUTC(value string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t.UTC(), nil
	}
	// Tolerate a bare timestamp without offset, read as UTC.
	t, err := time.ParseInLocation("2006-01-02T15:04:05", value, time.UTC)
	if err != nil {
		return time.Time{}, err
	}
	return t, nil
}

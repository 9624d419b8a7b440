package sqlitedb

import "time"

// TimeLayout is the ISO-8601 layout CinchDB stores all timestamps in.
const TimeLayout = time.RFC3339Nano

// FormatTime renders t for storage as TEXT.
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

// ParseTime parses a stored timestamp string back into a time.Time.
func ParseTime(s string) (time.Time, error) {
	return time.Parse(TimeLayout, s)
}

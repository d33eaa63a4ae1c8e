package store

import "time"

const dayLayout = "2006-01-02"

// Day-valued columns are stored as TEXT in YYYY-MM-DD form so that SQLite
// date comparisons work lexically; empty string means unset.

func dayString(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(dayLayout)
}

func parseDay(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(dayLayout, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

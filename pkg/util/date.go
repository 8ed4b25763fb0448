package util

import "time"

// DateKey formats a time as its calendar date, the key used by the run ledger.
func DateKey(t time.Time) string {
	return t.Format("2006-01-02")
}

// IsBusinessDay reports whether t falls on a weekday. Exchange holidays are
// not modeled; a holiday run simply finds no new bars and upserts nothing new.
func IsBusinessDay(t time.Time) bool {
	switch t.Weekday() {
	case time.Saturday, time.Sunday:
		return false
	}
	return true
}

// PrevBusinessDay returns the closest weekday strictly before t.
func PrevBusinessDay(t time.Time) time.Time {
	d := t.AddDate(0, 0, -1)
	for !IsBusinessDay(d) {
		d = d.AddDate(0, 0, -1)
	}
	return d
}

// Midnight truncates t to the start of its calendar day in t's location.
func Midnight(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

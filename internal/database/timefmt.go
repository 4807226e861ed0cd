package database

import "time"

// storedTimeLayout is fixed-width so created_at sorts lexically.
const storedTimeLayout = "2006-01-02 15:04:05.000"

// SummaryTimeLayout is the timestamp layout written with each summary.
const SummaryTimeLayout = "2006-01-02 15:04:05"

func formatStored(t time.Time) string {
	return t.UTC().Format(storedTimeLayout)
}

func parseStored(s string) time.Time {
	t, err := time.ParseInLocation(storedTimeLayout, s, time.UTC)
	if err != nil {
		return time.Time{}
	}
	return t
}

// FormatSummaryTime formats a summary timestamp in local time.
func FormatSummaryTime(t time.Time) string {
	return t.Local().Format(SummaryTimeLayout)
}

package utils

import "time"

// BeginningOfMonth truncates t to the first day of its month, midnight UTC.
func BeginningOfMonth(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}

// BillingPeriod returns the previous full calendar month as a half-open
// interval [start, end): the first day of the previous month and the first
// day of the current month.
func BillingPeriod(today time.Time) (start, end time.Time) {
	end = BeginningOfMonth(today)
	start = end.AddDate(0, -1, 0)
	return start, end
}

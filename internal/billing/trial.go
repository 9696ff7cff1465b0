package billing

import (
	"math"
	"time"
)

// AddCalendarMonths moves t forward by months calendar months. When the
// target month is shorter than t's day of month the result lands on its
// last day, so Jan 31 plus one month is the end of February.
func AddCalendarMonths(t time.Time, months int) time.Time {
	year, month, day := t.Date()
	idx := int(month) - 1 + months
	targetYear := year + floorDiv(idx, 12)
	targetMonth := time.Month(floorMod(idx, 12) + 1)

	lastDay := time.Date(targetYear, targetMonth+1, 0, 0, 0, 0, 0, t.Location()).Day()
	if day > lastDay {
		day = lastDay
	}
	return time.Date(targetYear, targetMonth, day, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
}

// TrialPeriodDays converts a month-denominated trial starting at now into
// the whole number of days the platform expects.
func TrialPeriodDays(now time.Time, months int) int {
	if months <= 0 {
		return 0
	}
	end := AddCalendarMonths(now, months)
	return int(math.Ceil(end.Sub(now).Hours() / 24))
}

func floorDiv(a, b int) int {
	q := a / b
	if a%b != 0 && (a < 0) != (b < 0) {
		q--
	}
	return q
}

func floorMod(a, b int) int {
	return a - floorDiv(a, b)*b
}

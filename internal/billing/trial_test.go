package billing

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestAddCalendarMonths(t *testing.T) {
	tests := []struct {
		name   string
		start  time.Time
		months int
		want   time.Time
	}{
		{"clamps to end of february", date(2025, time.January, 31), 1, date(2025, time.February, 28)},
		{"clamps to leap day", date(2024, time.January, 31), 1, date(2024, time.February, 29)},
		{"twelve months lands on the same day", date(2025, time.March, 15), 12, date(2026, time.March, 15)},
		{"wraps the year", date(2025, time.November, 30), 3, date(2026, time.February, 28)},
		{"six months from august", date(2025, time.August, 31), 6, date(2026, time.February, 28)},
		{"zero months", date(2025, time.May, 5), 0, date(2025, time.May, 5)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, AddCalendarMonths(tt.start, tt.months))
		})
	}
}

func TestTrialPeriodDays(t *testing.T) {
	assert.Equal(t, 28, TrialPeriodDays(date(2025, time.January, 31), 1))
	assert.Equal(t, 29, TrialPeriodDays(date(2024, time.January, 31), 1))
	assert.Equal(t, 365, TrialPeriodDays(date(2025, time.January, 15), 12))
	assert.Equal(t, 366, TrialPeriodDays(date(2024, time.January, 15), 12))
	assert.Equal(t, 181, TrialPeriodDays(date(2025, time.January, 1), 6))
	assert.Equal(t, 0, TrialPeriodDays(date(2025, time.January, 1), 0))

	// Local clocks cross a DST change inside the trial; the short day rounds up.
	ny, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Skip("tzdata unavailable")
	}
	assert.Equal(t, 31, TrialPeriodDays(time.Date(2025, time.March, 1, 12, 0, 0, 0, ny), 1))
}

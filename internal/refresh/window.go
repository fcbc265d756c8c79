package refresh

import (
	"time"

	"github.com/eunmann/shab-cache/pkg/publication"
)

// Window returns the refresh range for today: the yearsBack whole years
// ending on the last day of the previous month. A Feb 29 start is clamped to
// Feb 28 before the extra day is added.
func Window(today time.Time, yearsBack int) (start, end time.Time) {
	today = publication.Day(today)
	end = time.Date(today.Year(), today.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, -1)
	start = subtractYears(end, yearsBack).AddDate(0, 0, 1)
	return start, end
}

// subtractYears moves t back by n years, clamping the day to the length of
// the target month instead of overflowing into the next one.
func subtractYears(t time.Time, n int) time.Time {
	y, m, d := t.Date()
	y -= n
	if last := daysIn(y, m); d > last {
		d = last
	}
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func daysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

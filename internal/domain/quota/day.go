package quota

import "time"

// DayLayout is the calendar date format stored in usage records.
const DayLayout = "2006-01-02"

// Today returns the calendar date of now in loc. A nil loc means time.Local.
func Today(now time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.Local
	}
	return now.In(loc).Format(DayLayout)
}

// NextReset returns the next local midnight after now, when a new day's quota begins.
func NextReset(now time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.Local
	}
	local := now.In(loc)
	midnight := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
	return midnight.AddDate(0, 0, 1)
}

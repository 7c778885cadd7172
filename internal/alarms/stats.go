package alarms

import (
	"context"
	"fmt"
	"time"
)

// Counts holds alarm totals for calendar windows ending at the current day.
type Counts struct {
	Today int `json:"today"`
	Week  int `json:"week"`
	Month int `json:"month"`
	Year  int `json:"year"`
}

// Windows returns the half-open ranges [start 00:00, tomorrow 00:00) used by
// Stats, in now's location. Weeks start on Monday.
func Windows(now time.Time) (today, week, month, year TimeRange) {
	y, m, d := now.Date()
	loc := now.Location()
	midnight := time.Date(y, m, d, 0, 0, 0, 0, loc)
	end := midnight.AddDate(0, 0, 1)

	offset := (int(midnight.Weekday()) + 6) % 7
	today = TimeRange{Start: midnight, End: end}
	week = TimeRange{Start: midnight.AddDate(0, 0, -offset), End: end}
	month = TimeRange{Start: time.Date(y, m, 1, 0, 0, 0, 0, loc), End: end}
	year = TimeRange{Start: time.Date(y, time.January, 1, 0, 0, 0, 0, loc), End: end}
	return
}

// Stats counts alarms in the today/week/month/year windows relative to now.
func Stats(ctx context.Context, store Store, now time.Time) (Counts, error) {
	today, week, month, year := Windows(now)
	var c Counts
	for _, w := range []struct {
		r   TimeRange
		dst *int
	}{
		{today, &c.Today},
		{week, &c.Week},
		{month, &c.Month},
		{year, &c.Year},
	} {
		n, err := store.CountInRange(ctx, w.r.Start, w.r.End)
		if err != nil {
			return Counts{}, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
		}
		*w.dst = n
	}
	return c, nil
}

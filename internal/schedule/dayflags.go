package schedule

import (
	"time"
)

// DayFlag summarises one clinic-local calendar date of a query range.
type DayFlag struct {
	Date      string   `json:"date"`
	Weekday   string   `json:"weekday"`
	Open      bool     `json:"open"`
	Closed    bool     `json:"closed"`
	Corporate []string `json:"corporate,omitempty"`
	Visible   bool     `json:"visible"`
}

// DayFlags lists every local date touched by [rangeStart, rangeEnd). Open
// means weekly hours exist, Closed means a closure intersects the day, and
// Visible means the caller's corporate context may book on it.
func DayFlags(cfg ScheduleConfig, closures []Interval, corp CorporateContext, rangeStart, rangeEnd time.Time) ([]DayFlag, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	flags := make([]DayFlag, 0)
	if !rangeEnd.After(rangeStart) {
		return flags, nil
	}

	first := rangeStart.In(loc)
	last := rangeEnd.Add(-time.Nanosecond).In(loc)
	y, m, d := first.Date()

	for i := 0; ; i++ {
		dayStart := time.Date(y, m, d+i, 0, 0, 0, 0, loc)
		if dayStart.After(last) {
			break
		}
		dayEnd := time.Date(y, m, d+i+1, 0, 0, 0, 0, loc)
		date := dayStart.Format(dateLayout)
		wd := dayStart.Weekday()

		f := DayFlag{
			Date:    date,
			Weekday: WeekdayKey(wd),
			Open:    len(cfg.WeeklyHours[wd]) > 0,
			Closed:  intersectsAny(dayStart, dayEnd, closures),
			Visible: corporateAllows(cfg, corp, date, wd),
		}
		for _, p := range cfg.Programs {
			if p.AppliesOn(date, wd) {
				f.Corporate = append(f.Corporate, p.Slug)
			}
		}
		flags = append(flags, f)
	}
	return flags, nil
}

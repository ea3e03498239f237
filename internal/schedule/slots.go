package schedule

import (
	"time"
)

// dayPlan caches the per-date decisions that do not depend on the candidate
// time of day.
type dayPlan struct {
	intervals []OpeningInterval
}

func (p dayPlan) bookable() bool {
	return len(p.intervals) > 0
}

// ComputeSlots walks [rangeStart, rangeEnd) in steps of the configured slot
// size and returns every candidate that passes notice/advance limits,
// corporate gating, opening hours, closures and busy blocks, in ascending
// order. A trailing partial step is dropped.
func ComputeSlots(
	cfg ScheduleConfig,
	closures, busy []Interval,
	corp CorporateContext,
	rangeStart, rangeEnd, now time.Time,
) ([]Slot, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}

	step := cfg.Step()
	earliest := now.Add(cfg.MinNotice())
	latest := now.Add(cfg.MaxAdvance())

	plans := make(map[string]dayPlan)
	slots := make([]Slot, 0)

	for s := rangeStart; !s.Add(step).After(rangeEnd); s = s.Add(step) {
		e := s.Add(step)

		if s.Before(earliest) || s.After(latest) {
			continue
		}

		localStart := s.In(loc)
		date := localStart.Format(dateLayout)
		plan, ok := plans[date]
		if !ok {
			plan = planDay(cfg, corp, date, localStart.Weekday())
			plans[date] = plan
		}
		if !plan.bookable() {
			continue
		}

		if !withinOneInterval(plan.intervals, localStart, e.In(loc)) {
			continue
		}

		if intersectsAny(s, e, closures) || intersectsAny(s, e, busy) {
			continue
		}

		slots = append(slots, Slot{Start: s, End: e})
	}

	return slots, nil
}

func planDay(cfg ScheduleConfig, corp CorporateContext, date string, wd time.Weekday) dayPlan {
	if !corporateAllows(cfg, corp, date, wd) {
		return dayPlan{}
	}
	return dayPlan{intervals: cfg.WeeklyHours[wd]}
}

// corporateAllows hides program-owned days from general callers and shows a
// program's days only to callers of that program who have unlocked it.
func corporateAllows(cfg ScheduleConfig, corp CorporateContext, date string, wd time.Weekday) bool {
	if corp.Slug != "" {
		p, ok := cfg.Program(corp.Slug)
		if !ok {
			return false
		}
		return p.AppliesOn(date, wd) && p.Unlocked(corp.Code)
	}
	for _, p := range cfg.Programs {
		if p.AppliesOn(date, wd) {
			return false
		}
	}
	return true
}

// withinOneInterval requires both local endpoints inside the same opening
// interval. The end is measured from the start's local midnight so a slot
// ending at 24:00 still compares correctly.
func withinOneInterval(intervals []OpeningInterval, localStart, localEnd time.Time) bool {
	st := TimeOfDayOf(localStart)
	et := TimeOfDayOf(localEnd) + TimeOfDay(civilDay(localEnd)-civilDay(localStart))*24*3600
	if et <= st {
		return false
	}
	for _, iv := range intervals {
		if iv.contains(st, et) {
			return true
		}
	}
	return false
}

func civilDay(t time.Time) int64 {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC).Unix() / 86400
}

func intersectsAny(start, end time.Time, blocks []Interval) bool {
	for _, b := range blocks {
		if b.Overlaps(start, end) {
			return true
		}
	}
	return false
}

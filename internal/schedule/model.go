package schedule

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

const (
	DefaultSlotStepMinutes  = 30
	DefaultMinNoticeMinutes = 60
	DefaultMaxAdvanceDays   = 90

	dateLayout = "2006-01-02"
)

var (
	ErrInvalidTimeOfDay = errors.New("invalid time of day")
	ErrInvalidWeekday   = errors.New("invalid weekday")
	ErrInvalidTimezone  = errors.New("invalid timezone")
	ErrOverlappingHours = errors.New("opening intervals overlap")
)

var weekdayKeys = [7]string{"sun", "mon", "tue", "wed", "thu", "fri", "sat"}

// WeekdayKey returns the three-letter lower-case key used in stored configs.
func WeekdayKey(d time.Weekday) string {
	return weekdayKeys[d]
}

// ParseWeekday accepts the three-letter key or a full English weekday name.
func ParseWeekday(s string) (time.Weekday, error) {
	k := strings.ToLower(strings.TrimSpace(s))
	if len(k) >= 3 {
		k = k[:3]
	}
	for i, key := range weekdayKeys {
		if key == k {
			return time.Weekday(i), nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidWeekday, s)
}

// TimeOfDay is a clinic-local wall clock offset in seconds since midnight.
// 24:00 is representable so an interval can close at midnight.
type TimeOfDay int

func ParseTimeOfDay(s string) (TimeOfDay, error) {
	var h, m int
	if _, err := fmt.Sscanf(strings.TrimSpace(s), "%d:%d", &h, &m); err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidTimeOfDay, s)
	}
	if h < 0 || m < 0 || m > 59 || h > 24 || (h == 24 && m != 0) {
		return 0, fmt.Errorf("%w: %q", ErrInvalidTimeOfDay, s)
	}
	return TimeOfDay(h*3600 + m*60), nil
}

// Clock builds a TimeOfDay from hours and minutes.
func Clock(h, m int) TimeOfDay {
	return TimeOfDay(h*3600 + m*60)
}

// TimeOfDayOf returns the wall clock position of t in its own location.
func TimeOfDayOf(t time.Time) TimeOfDay {
	return TimeOfDay(t.Hour()*3600 + t.Minute()*60 + t.Second())
}

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", int(t)/3600, (int(t)%3600)/60)
}

func (t TimeOfDay) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

func (t *TimeOfDay) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	v, err := ParseTimeOfDay(s)
	if err != nil {
		return err
	}
	*t = v
	return nil
}

// OpeningInterval is a half-open [Start, End) local time-of-day range.
type OpeningInterval struct {
	Start TimeOfDay `json:"start"`
	End   TimeOfDay `json:"end"`
}

func (o OpeningInterval) contains(start, end TimeOfDay) bool {
	return o.Start <= start && end <= o.End
}

// WeeklyHours maps a weekday to its ordered, non-overlapping opening intervals.
type WeeklyHours map[time.Weekday][]OpeningInterval

func (w WeeklyHours) MarshalJSON() ([]byte, error) {
	out := make(map[string][]OpeningInterval, len(w))
	for d, iv := range w {
		out[WeekdayKey(d)] = iv
	}
	return json.Marshal(out)
}

func (w *WeeklyHours) UnmarshalJSON(b []byte) error {
	var raw map[string][]OpeningInterval
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	res := make(WeeklyHours, len(raw))
	for k, iv := range raw {
		d, err := ParseWeekday(k)
		if err != nil {
			return err
		}
		sort.Slice(iv, func(i, j int) bool { return iv[i].Start < iv[j].Start })
		res[d] = iv
	}
	*w = res
	return nil
}

type AccessMode string

const (
	AccessLinkOnly   AccessMode = "link-only"
	AccessCodeUnlock AccessMode = "code-unlock"
)

// CorporateProgram reserves calendar dates (explicit or by weekday) for one
// referral channel.
type CorporateProgram struct {
	Slug     string     `json:"slug"`
	Mode     AccessMode `json:"mode"`
	Dates    []string   `json:"dates,omitempty"`
	Weekdays []string   `json:"weekdays,omitempty"`
}

// AppliesOn reports whether the local calendar date belongs to the program.
func (p CorporateProgram) AppliesOn(date string, wd time.Weekday) bool {
	for _, d := range p.Dates {
		if d == date {
			return true
		}
	}
	key := WeekdayKey(wd)
	for _, w := range p.Weekdays {
		if strings.EqualFold(strings.TrimSpace(w), key) {
			return true
		}
	}
	return false
}

// Unlocked reports whether a caller holding code may see the program's days.
// Unknown modes are treated as code-gated.
func (p CorporateProgram) Unlocked(code string) bool {
	if p.Mode == AccessLinkOnly {
		return true
	}
	return strings.TrimSpace(code) != ""
}

// ScheduleConfig is the static booking configuration of one clinic. Nil
// numeric fields fall back to the package defaults.
type ScheduleConfig struct {
	ClinicID         string             `json:"clinicId"`
	Timezone         string             `json:"timezone"`
	SlotStepMinutes  *int               `json:"slotStepMinutes,omitempty"`
	MinNoticeMinutes *int               `json:"minNoticeMinutes,omitempty"`
	MaxAdvanceDays   *int               `json:"maxAdvanceDays,omitempty"`
	WeeklyHours      WeeklyHours        `json:"weeklyHours"`
	Programs         []CorporateProgram `json:"corporatePrograms,omitempty"`
}

// Minutes is a helper for populating the optional numeric fields.
func Minutes(n int) *int { return &n }

func (c ScheduleConfig) StepMinutes() int {
	if c.SlotStepMinutes == nil || *c.SlotStepMinutes <= 0 {
		return DefaultSlotStepMinutes
	}
	return *c.SlotStepMinutes
}

func (c ScheduleConfig) Step() time.Duration {
	return time.Duration(c.StepMinutes()) * time.Minute
}

func (c ScheduleConfig) MinNotice() time.Duration {
	if c.MinNoticeMinutes == nil || *c.MinNoticeMinutes < 0 {
		return DefaultMinNoticeMinutes * time.Minute
	}
	return time.Duration(*c.MinNoticeMinutes) * time.Minute
}

func (c ScheduleConfig) MaxAdvance() time.Duration {
	if c.MaxAdvanceDays == nil || *c.MaxAdvanceDays <= 0 {
		return DefaultMaxAdvanceDays * 24 * time.Hour
	}
	return time.Duration(*c.MaxAdvanceDays) * 24 * time.Hour
}

// Location resolves the clinic timezone; an empty name means UTC.
func (c ScheduleConfig) Location() (*time.Location, error) {
	if strings.TrimSpace(c.Timezone) == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidTimezone, c.Timezone)
	}
	return loc, nil
}

// Program looks up a corporate program by slug, case-insensitively.
func (c ScheduleConfig) Program(slug string) (CorporateProgram, bool) {
	for _, p := range c.Programs {
		if strings.EqualFold(p.Slug, strings.TrimSpace(slug)) {
			return p, true
		}
	}
	return CorporateProgram{}, false
}

// Validate checks timezone and that each weekday's intervals are well formed
// and do not overlap.
func (c ScheduleConfig) Validate() error {
	if _, err := c.Location(); err != nil {
		return err
	}
	for d, ivs := range c.WeeklyHours {
		sorted := append([]OpeningInterval(nil), ivs...)
		sort.Slice(sorted, func(i, j int) bool { return sorted[i].Start < sorted[j].Start })
		for i, iv := range sorted {
			if iv.End <= iv.Start {
				return fmt.Errorf("%s %s-%s: %w", WeekdayKey(d), iv.Start, iv.End, ErrInvalidTimeOfDay)
			}
			if i > 0 && iv.Start < sorted[i-1].End {
				return fmt.Errorf("%s: %w", WeekdayKey(d), ErrOverlappingHours)
			}
		}
	}
	return nil
}

// Interval is an absolute half-open [Start, End) instant range.
type Interval struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Overlaps uses half-open intersection: touching intervals do not overlap.
func (i Interval) Overlaps(start, end time.Time) bool {
	return start.Before(i.End) && end.After(i.Start)
}

// CorporateContext is what the caller supplied about a corporate channel.
type CorporateContext struct {
	Slug string
	Code string
}

type Slot struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

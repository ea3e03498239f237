package schedule

import (
	"encoding/json"
	"math/rand"
	"testing"
	"time"
)

// ---------- Helpers ----------

func mustLoc(t *testing.T, name string) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation(name)
	if err != nil {
		t.Fatalf("load location %s: %v", name, err)
	}
	return loc
}

func mondayMorningConfig() ScheduleConfig {
	return ScheduleConfig{
		ClinicID:         "clinic-1",
		Timezone:         "America/New_York",
		SlotStepMinutes:  Minutes(30),
		MinNoticeMinutes: Minutes(0),
		WeeklyHours: WeeklyHours{
			time.Monday: {{Start: Clock(9, 0), End: Clock(12, 0)}},
		},
	}
}

// 2024-01-15 is a Monday.
func mondayRange(t *testing.T) (start, end, now time.Time) {
	loc := mustLoc(t, "America/New_York")
	start = time.Date(2024, 1, 15, 8, 0, 0, 0, loc)
	end = time.Date(2024, 1, 15, 13, 0, 0, 0, loc)
	now = time.Date(2024, 1, 15, 0, 0, 0, 0, loc)
	return start, end, now
}

// ---------- Scenarios ----------

func TestComputeSlots_MondayMorning(t *testing.T) {
	start, end, now := mondayRange(t)

	slots, err := ComputeSlots(mondayMorningConfig(), nil, nil, CorporateContext{}, start, end, now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(slots) != 6 {
		t.Fatalf("expected 6 slots, got %d", len(slots))
	}

	loc := mustLoc(t, "America/New_York")
	first := slots[0].Start.In(loc)
	if first.Hour() != 9 || first.Minute() != 0 {
		t.Errorf("expected first slot at 09:00, got %s", first.Format("15:04"))
	}
	lastStart := slots[5].Start.In(loc)
	lastEnd := slots[5].End.In(loc)
	if lastStart.Format("15:04") != "11:30" || lastEnd.Format("15:04") != "12:00" {
		t.Errorf("expected last slot 11:30-12:00, got %s-%s", lastStart.Format("15:04"), lastEnd.Format("15:04"))
	}
	for i := 1; i < len(slots); i++ {
		if !slots[i].Start.After(slots[i-1].Start) {
			t.Error("slots are not in ascending order")
		}
	}
}

func TestComputeSlots_BusyBlockRemovesOneSlot(t *testing.T) {
	start, end, now := mondayRange(t)
	loc := mustLoc(t, "America/New_York")
	busy := []Interval{{
		Start: time.Date(2024, 1, 15, 10, 0, 0, 0, loc),
		End:   time.Date(2024, 1, 15, 10, 30, 0, 0, loc),
	}}

	slots, err := ComputeSlots(mondayMorningConfig(), nil, busy, CorporateContext{}, start, end, now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(slots) != 5 {
		t.Fatalf("expected 5 slots, got %d", len(slots))
	}
	for _, s := range slots {
		if s.Start.In(loc).Format("15:04") == "10:00" {
			t.Error("10:00 slot should be blocked")
		}
	}
}

func TestComputeSlots_ClosureBlocksOverlappingSlots(t *testing.T) {
	start, end, now := mondayRange(t)
	loc := mustLoc(t, "America/New_York")
	closures := []Interval{{
		Start: time.Date(2024, 1, 15, 9, 15, 0, 0, loc),
		End:   time.Date(2024, 1, 15, 10, 0, 0, 0, loc),
	}}

	slots, err := ComputeSlots(mondayMorningConfig(), closures, nil, CorporateContext{}, start, end, now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// 09:00 and 09:30 overlap the closure; 10:00 only touches its end.
	if len(slots) != 4 {
		t.Fatalf("expected 4 slots, got %d", len(slots))
	}
	if got := slots[0].Start.In(loc).Format("15:04"); got != "10:00" {
		t.Errorf("expected first slot 10:00, got %s", got)
	}
}

func TestComputeSlots_MinNoticeAndMaxAdvance(t *testing.T) {
	start, end, _ := mondayRange(t)
	loc := mustLoc(t, "America/New_York")
	cfg := mondayMorningConfig()
	cfg.MinNoticeMinutes = Minutes(60)

	now := time.Date(2024, 1, 15, 9, 10, 0, 0, loc)
	slots, err := ComputeSlots(cfg, nil, nil, CorporateContext{}, start, end, now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// earliest start is 10:10, so 10:30, 11:00, 11:30 remain.
	if len(slots) != 3 {
		t.Fatalf("expected 3 slots, got %d", len(slots))
	}

	cfg = mondayMorningConfig()
	cfg.MaxAdvanceDays = Minutes(1)
	weekStart := time.Date(2024, 1, 15, 0, 0, 0, 0, loc)
	weekEnd := weekStart.AddDate(0, 0, 14)
	now = time.Date(2024, 1, 14, 10, 0, 0, 0, loc)
	slots, err = ComputeSlots(cfg, nil, nil, CorporateContext{}, weekStart, weekEnd, now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// now+24h is Monday 10:00, so only 09:00, 09:30 and 10:00 are reachable.
	if len(slots) != 3 {
		t.Fatalf("expected 3 slots within advance window, got %d", len(slots))
	}
}

func TestComputeSlots_TruncatesPartialStep(t *testing.T) {
	loc := mustLoc(t, "America/New_York")
	start := time.Date(2024, 1, 15, 9, 0, 0, 0, loc)
	end := time.Date(2024, 1, 15, 10, 45, 0, 0, loc)
	now := time.Date(2024, 1, 15, 0, 0, 0, 0, loc)

	slots, err := ComputeSlots(mondayMorningConfig(), nil, nil, CorporateContext{}, start, end, now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(slots) != 3 {
		t.Fatalf("expected 3 slots, got %d", len(slots))
	}
}

func TestComputeSlots_NoHoursYieldsEmpty(t *testing.T) {
	start, end, now := mondayRange(t)
	cfg := mondayMorningConfig()
	cfg.WeeklyHours = WeeklyHours{}

	slots, err := ComputeSlots(cfg, nil, nil, CorporateContext{}, start, end, now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if slots == nil || len(slots) != 0 {
		t.Errorf("expected empty non-nil slot list, got %v", slots)
	}
}

func TestComputeSlots_PartialIntervalOverlapDropped(t *testing.T) {
	loc := mustLoc(t, "America/New_York")
	cfg := mondayMorningConfig()
	cfg.SlotStepMinutes = Minutes(50)
	start := time.Date(2024, 1, 15, 9, 0, 0, 0, loc)
	end := time.Date(2024, 1, 15, 13, 0, 0, 0, loc)
	now := time.Date(2024, 1, 15, 0, 0, 0, 0, loc)

	slots, err := ComputeSlots(cfg, nil, nil, CorporateContext{}, start, end, now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// 09:00, 09:50 and 10:40 fit; 11:30-12:20 straddles closing time and is not clipped.
	if len(slots) != 3 {
		t.Fatalf("expected 3 slots, got %d", len(slots))
	}
	last := slots[len(slots)-1]
	if last.End.In(loc).Format("15:04") != "11:30" {
		t.Errorf("expected last slot to end at 11:30, got %s", last.End.In(loc).Format("15:04"))
	}
}

func TestComputeSlots_IntervalEndingAtMidnight(t *testing.T) {
	loc := mustLoc(t, "America/New_York")
	cfg := mondayMorningConfig()
	cfg.WeeklyHours = WeeklyHours{
		time.Monday: {{Start: Clock(23, 0), End: Clock(24, 0)}},
	}
	start := time.Date(2024, 1, 15, 22, 0, 0, 0, loc)
	end := time.Date(2024, 1, 16, 2, 0, 0, 0, loc)
	now := time.Date(2024, 1, 15, 0, 0, 0, 0, loc)

	slots, err := ComputeSlots(cfg, nil, nil, CorporateContext{}, start, end, now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(slots) != 2 {
		t.Fatalf("expected 23:00 and 23:30, got %d slots", len(slots))
	}
}

func TestComputeSlots_UsesClinicLocalWeekday(t *testing.T) {
	// Monday 08:00 in Tokyo is Sunday 23:00 UTC.
	loc := mustLoc(t, "Asia/Tokyo")
	cfg := ScheduleConfig{
		Timezone:         "Asia/Tokyo",
		SlotStepMinutes:  Minutes(60),
		MinNoticeMinutes: Minutes(0),
		WeeklyHours: WeeklyHours{
			time.Monday: {{Start: Clock(8, 0), End: Clock(9, 0)}},
		},
	}
	start := time.Date(2024, 1, 14, 23, 0, 0, 0, time.UTC)
	end := start.Add(2 * time.Hour)
	now := start.Add(-time.Hour)

	slots, err := ComputeSlots(cfg, nil, nil, CorporateContext{}, start, end, now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(slots) != 1 {
		t.Fatalf("expected 1 slot, got %d", len(slots))
	}
	if got := slots[0].Start.In(loc); got.Weekday() != time.Monday || got.Hour() != 8 {
		t.Errorf("expected Monday 08:00 local, got %s", got)
	}
}

func TestComputeSlots_SpringForwardDay(t *testing.T) {
	// 2024-03-10 is a Sunday with a 23 hour day in New York.
	loc := mustLoc(t, "America/New_York")
	cfg := ScheduleConfig{
		Timezone:         "America/New_York",
		SlotStepMinutes:  Minutes(60),
		MinNoticeMinutes: Minutes(0),
		WeeklyHours: WeeklyHours{
			time.Sunday: {{Start: Clock(0, 0), End: Clock(24, 0)}},
		},
	}
	start := time.Date(2024, 3, 10, 0, 0, 0, 0, loc)
	end := time.Date(2024, 3, 11, 0, 0, 0, 0, loc)
	now := start.Add(-time.Hour)

	slots, err := ComputeSlots(cfg, nil, nil, CorporateContext{}, start, end, now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(slots) != 23 {
		t.Fatalf("expected 23 hourly slots on spring-forward day, got %d", len(slots))
	}
}

func TestComputeSlots_InvalidTimezone(t *testing.T) {
	start, end, now := mondayRange(t)
	cfg := mondayMorningConfig()
	cfg.Timezone = "Mars/Olympus"
	if _, err := ComputeSlots(cfg, nil, nil, CorporateContext{}, start, end, now); err == nil {
		t.Fatal("expected timezone error")
	}
}

func TestComputeSlots_Defaults(t *testing.T) {
	cfg := ScheduleConfig{}
	if cfg.StepMinutes() != DefaultSlotStepMinutes {
		t.Errorf("expected default step %d, got %d", DefaultSlotStepMinutes, cfg.StepMinutes())
	}
	if cfg.MinNotice() != DefaultMinNoticeMinutes*time.Minute {
		t.Errorf("unexpected default notice %s", cfg.MinNotice())
	}
	if cfg.MaxAdvance() != DefaultMaxAdvanceDays*24*time.Hour {
		t.Errorf("unexpected default advance %s", cfg.MaxAdvance())
	}
}

// ---------- Corporate gating ----------

func corporateConfig(mode AccessMode) ScheduleConfig {
	cfg := mondayMorningConfig()
	cfg.WeeklyHours[time.Tuesday] = []OpeningInterval{{Start: Clock(9, 0), End: Clock(12, 0)}}
	cfg.Programs = []CorporateProgram{{Slug: "acme", Mode: mode, Weekdays: []string{"tue"}}}
	return cfg
}

func tuesdayRange(t *testing.T) (start, end, now time.Time) {
	loc := mustLoc(t, "America/New_York")
	return time.Date(2024, 1, 16, 8, 0, 0, 0, loc),
		time.Date(2024, 1, 16, 13, 0, 0, 0, loc),
		time.Date(2024, 1, 15, 0, 0, 0, 0, loc)
}

func TestComputeSlots_CorporateGating(t *testing.T) {
	start, end, now := tuesdayRange(t)

	tests := []struct {
		name string
		mode AccessMode
		corp CorporateContext
		want int
	}{
		{"public query hides program day", AccessLinkOnly, CorporateContext{}, 0},
		{"link-only program visible", AccessLinkOnly, CorporateContext{Slug: "acme"}, 6},
		{"code-unlock without code", AccessCodeUnlock, CorporateContext{Slug: "acme"}, 0},
		{"code-unlock with code", AccessCodeUnlock, CorporateContext{Slug: "acme", Code: "X1"}, 6},
		{"unknown slug", AccessLinkOnly, CorporateContext{Slug: "globex"}, 0},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			slots, err := ComputeSlots(corporateConfig(tc.mode), nil, nil, tc.corp, start, end, now)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(slots) != tc.want {
				t.Errorf("expected %d slots, got %d", tc.want, len(slots))
			}
		})
	}
}

func TestComputeSlots_CorporateQueryExcludesNonProgramDays(t *testing.T) {
	start, end, now := mondayRange(t)
	slots, err := ComputeSlots(corporateConfig(AccessLinkOnly), nil, nil, CorporateContext{Slug: "acme"}, start, end, now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(slots) != 0 {
		t.Errorf("expected Monday to be hidden from acme callers, got %d slots", len(slots))
	}
}

func TestComputeSlots_CorporateExplicitDates(t *testing.T) {
	start, end, now := mondayRange(t)
	cfg := mondayMorningConfig()
	cfg.Programs = []CorporateProgram{{Slug: "acme", Mode: AccessLinkOnly, Dates: []string{"2024-01-15"}}}

	public, _ := ComputeSlots(cfg, nil, nil, CorporateContext{}, start, end, now)
	acme, _ := ComputeSlots(cfg, nil, nil, CorporateContext{Slug: "ACME"}, start, end, now)
	if len(public) != 0 || len(acme) != 6 {
		t.Errorf("expected 0 public and 6 acme slots, got %d and %d", len(public), len(acme))
	}
}

// ---------- Properties ----------

func TestComputeSlots_Properties(t *testing.T) {
	loc := mustLoc(t, "Europe/Berlin")
	cfg := ScheduleConfig{
		Timezone:         "Europe/Berlin",
		SlotStepMinutes:  Minutes(20),
		MinNoticeMinutes: Minutes(90),
		MaxAdvanceDays:   Minutes(10),
		WeeklyHours: WeeklyHours{
			time.Monday:    {{Start: Clock(8, 0), End: Clock(12, 0)}, {Start: Clock(13, 0), End: Clock(17, 30)}},
			time.Wednesday: {{Start: Clock(10, 0), End: Clock(18, 0)}},
			time.Friday:    {{Start: Clock(7, 30), End: Clock(11, 10)}},
		},
	}
	now := time.Date(2024, 3, 25, 9, 7, 0, 0, loc)
	rangeStart := time.Date(2024, 3, 25, 0, 0, 0, 0, loc)
	rangeEnd := rangeStart.AddDate(0, 0, 14)

	rng := rand.New(rand.NewSource(42))
	var blocked []Interval
	for i := 0; i < 40; i++ {
		s := rangeStart.Add(time.Duration(rng.Intn(14*24*60)) * time.Minute)
		blocked = append(blocked, Interval{Start: s, End: s.Add(time.Duration(5+rng.Intn(120)) * time.Minute)})
	}
	closures, busy := blocked[:10], blocked[10:]

	slots, err := ComputeSlots(cfg, closures, busy, CorporateContext{}, rangeStart, rangeEnd, now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(slots) == 0 {
		t.Fatal("expected some slots")
	}

	for _, s := range slots {
		for _, b := range blocked {
			if b.Overlaps(s.Start, s.End) {
				t.Fatalf("slot %s overlaps blocked %s-%s", s.Start, b.Start, b.End)
			}
		}
		if s.Start.Before(now.Add(cfg.MinNotice())) || s.Start.After(now.Add(cfg.MaxAdvance())) {
			t.Fatalf("slot %s outside notice/advance window", s.Start)
		}
		ls, le := s.Start.In(loc), s.End.In(loc)
		if !withinOneInterval(cfg.WeeklyHours[ls.Weekday()], ls, le) {
			t.Fatalf("slot %s-%s not inside one opening interval", ls, le)
		}
	}
}

// ---------- Config ----------

func TestScheduleConfig_JSONRoundTripAndValidate(t *testing.T) {
	raw := `{
		"clinicId": "c1",
		"timezone": "Europe/London",
		"slotStepMinutes": 15,
		"weeklyHours": {"mon": [{"start": "13:00", "end": "17:00"}, {"start": "09:00", "end": "12:00"}]},
		"corporatePrograms": [{"slug": "acme", "mode": "code-unlock", "weekdays": ["fri"]}]
	}`
	var cfg ScheduleConfig
	if err := json.Unmarshal([]byte(raw), &cfg); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	mon := cfg.WeeklyHours[time.Monday]
	if len(mon) != 2 || mon[0].Start != Clock(9, 0) {
		t.Errorf("expected sorted monday intervals, got %+v", mon)
	}
	if cfg.StepMinutes() != 15 {
		t.Errorf("expected step 15, got %d", cfg.StepMinutes())
	}

	out, err := json.Marshal(cfg.WeeklyHours)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(out) != `{"mon":[{"start":"09:00","end":"12:00"},{"start":"13:00","end":"17:00"}]}` {
		t.Errorf("unexpected weekly hours json %s", out)
	}
}

func TestScheduleConfig_ValidateRejectsOverlap(t *testing.T) {
	cfg := ScheduleConfig{WeeklyHours: WeeklyHours{
		time.Monday: {{Start: Clock(9, 0), End: Clock(12, 0)}, {Start: Clock(11, 0), End: Clock(13, 0)}},
	}}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected overlap error")
	}
}

func TestParseTimeOfDay(t *testing.T) {
	valid := map[string]TimeOfDay{"00:00": 0, "09:30": Clock(9, 30), "24:00": Clock(24, 0)}
	for in, want := range valid {
		got, err := ParseTimeOfDay(in)
		if err != nil || got != want {
			t.Errorf("ParseTimeOfDay(%q) = %v, %v; want %v", in, got, err, want)
		}
	}
	for _, in := range []string{"", "25:00", "24:30", "9", "ab:cd", "10:60"} {
		if _, err := ParseTimeOfDay(in); err == nil {
			t.Errorf("ParseTimeOfDay(%q) expected error", in)
		}
	}
}

package availability

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-booking/internal/clinic"
	"github.com/hackgods/clinic-booking/internal/schedule"
)

const MaxRange = 62 * 24 * time.Hour

var (
	ErrInvalidRange           = errors.New("rangeEnd must be after rangeStart")
	ErrRangeTooLong           = errors.New("range exceeds the maximum query window")
	ErrPractitionerNotAllowed = errors.New("practitioner is not publicly bookable")
	ErrMissingClinic          = errors.New("clinicId is required")
)

type Purpose string

const (
	PurposeBooking Purpose = "booking"
	// PurposeOpening asks when the clinic as a whole is open, ignoring
	// practitioner-specific busy time.
	PurposeOpening Purpose = "opening"
)

type Query struct {
	ClinicID         string
	PractitionerID   string
	ServiceID        string
	RangeStart       time.Time
	RangeEnd         time.Time
	TimezoneOverride string
	CorporateSlug    string
	CorporateCode    string
	Purpose          Purpose
}

type Result struct {
	Slots       []schedule.Slot      `json:"slots"`
	WeeklyHours schedule.WeeklyHours `json:"weeklyHours"`
	DayFlags    []schedule.DayFlag   `json:"dayFlags"`
	StepMinutes int                  `json:"stepMinutes"`
	Timezone    string               `json:"timezone"`
}

type BusyLoader interface {
	LoadBusy(ctx context.Context, clinicID, practitionerID string, from, to time.Time) ([]schedule.Interval, error)
	LoadClosures(ctx context.Context, clinicID string, from, to time.Time) ([]schedule.Interval, error)
}

type Service struct {
	dir  clinic.Directory
	busy BusyLoader
	now  func() time.Time
	log  zerolog.Logger
}

func NewService(dir clinic.Directory, busy BusyLoader, log zerolog.Logger) *Service {
	return &Service{
		dir:  dir,
		busy: busy,
		now:  time.Now,
		log:  log,
	}
}

// WithClock replaces the time source.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Query computes bookable slots for one clinic (and optionally one
// practitioner) over a range. The result is advisory: reservation re-checks.
func (s *Service) Query(ctx context.Context, q Query) (*Result, error) {
	q.ClinicID = strings.TrimSpace(q.ClinicID)
	q.PractitionerID = strings.TrimSpace(q.PractitionerID)
	if q.ClinicID == "" {
		return nil, ErrMissingClinic
	}
	if !q.RangeEnd.After(q.RangeStart) {
		return nil, ErrInvalidRange
	}
	if q.RangeEnd.Sub(q.RangeStart) > MaxRange {
		return nil, ErrRangeTooLong
	}

	cfg, err := s.dir.ScheduleConfig(ctx, q.ClinicID)
	if err != nil {
		return nil, fmt.Errorf("load schedule config: %w", err)
	}
	if strings.TrimSpace(cfg.Timezone) == "" && q.TimezoneOverride != "" {
		cfg.Timezone = q.TimezoneOverride
	}

	if q.PractitionerID != "" {
		allowed, err := s.dir.PublicPractitioners(ctx, q.ClinicID)
		if err != nil {
			return nil, fmt.Errorf("load practitioners: %w", err)
		}
		if _, ok := clinic.FindPractitioner(allowed, q.PractitionerID); !ok {
			return nil, ErrPractitionerNotAllowed
		}
	}

	busyScope := q.PractitionerID
	if q.Purpose == PurposeOpening {
		busyScope = ""
	}

	closures, err := s.busy.LoadClosures(ctx, q.ClinicID, q.RangeStart, q.RangeEnd)
	if err != nil {
		return nil, err
	}
	blocks, err := s.busy.LoadBusy(ctx, q.ClinicID, busyScope, q.RangeStart, q.RangeEnd)
	if err != nil {
		return nil, err
	}

	corp := schedule.CorporateContext{Slug: strings.TrimSpace(q.CorporateSlug), Code: q.CorporateCode}
	slots, err := schedule.ComputeSlots(cfg, closures, blocks, corp, q.RangeStart, q.RangeEnd, s.now())
	if err != nil {
		return nil, err
	}
	flags, err := schedule.DayFlags(cfg, closures, corp, q.RangeStart, q.RangeEnd)
	if err != nil {
		return nil, err
	}

	s.log.Debug().
		Str("clinic_id", q.ClinicID).
		Str("practitioner_id", q.PractitionerID).
		Str("service_id", q.ServiceID).
		Str("purpose", string(q.Purpose)).
		Int("slots", len(slots)).
		Msg("availability computed")

	weekly := cfg.WeeklyHours
	if weekly == nil {
		weekly = schedule.WeeklyHours{}
	}
	tz := cfg.Timezone
	if tz == "" {
		tz = "UTC"
	}

	return &Result{
		Slots:       slots,
		WeeklyHours: weekly,
		DayFlags:    flags,
		StepMinutes: cfg.StepMinutes(),
		Timezone:    tz,
	}, nil
}

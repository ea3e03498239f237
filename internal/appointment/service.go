package appointment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	redisclient "github.com/hackgods/clinic-booking/internal/redis"
	"github.com/hackgods/clinic-booking/internal/schedule"
)

const (
	EventAppointmentReserved = "APPOINTMENT_RESERVED"
	EventReservationRejected = "APPOINTMENT_RESERVATION_REJECTED"
)

var (
	ErrConflict         = errors.New("practitioner already has an appointment in this time range")
	ErrClosedSchedule   = errors.New("clinic is closed during the requested time")
	ErrInvalidInput     = errors.New("invalid reservation input")
	ErrPractitionerBusy = errors.New("practitioner calendar is being updated, please retry")
	ErrAlreadyReserved  = errors.New("booking request already has an appointment")
)

// ClosureSource returns active clinic closures intersecting a range.
type ClosureSource interface {
	LoadClosures(ctx context.Context, clinicID string, from, to time.Time) ([]schedule.Interval, error)
}

type Service struct {
	repo     Repository
	locker   redisclient.Locker
	closures ClosureSource
	now      func() time.Time
	log      zerolog.Logger
}

func NewService(repo Repository, locker redisclient.Locker, closures ClosureSource, log zerolog.Logger) *Service {
	return &Service{
		repo:     repo,
		locker:   locker,
		closures: closures,
		now:      time.Now,
		log:      log,
	}
}

func validate(in ReserveInput) error {
	switch {
	case strings.TrimSpace(in.ClinicID) == "":
		return fmt.Errorf("%w: clinic is required", ErrInvalidInput)
	case strings.TrimSpace(in.PractitionerID) == "":
		return fmt.Errorf("%w: practitioner is required", ErrInvalidInput)
	case in.Start.IsZero() || in.End.IsZero():
		return fmt.Errorf("%w: start and end are required", ErrInvalidInput)
	case !in.End.After(in.Start):
		return fmt.Errorf("%w: end must be after start", ErrInvalidInput)
	}
	switch in.Kind {
	case KindAppointment:
		if in.PatientID == nil {
			return fmt.Errorf("%w: appointment needs a patient", ErrInvalidInput)
		}
	case KindBlock:
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidInput, in.Kind)
	}
	return nil
}

// Reserve atomically books [Start, End) on the practitioner's calendar.
// It holds a per-practitioner lock across the overlap check and the insert;
// the database exclusion constraint backs this up if the lock is lost.
func (s *Service) Reserve(ctx context.Context, in ReserveInput) (*Appointment, error) {
	in.ClinicID = strings.TrimSpace(in.ClinicID)
	in.PractitionerID = strings.TrimSpace(in.PractitionerID)
	if err := validate(in); err != nil {
		return nil, err
	}

	if !in.Override {
		closed, err := s.closures.LoadClosures(ctx, in.ClinicID, in.Start, in.End)
		if err != nil {
			return nil, fmt.Errorf("load closures: %w", err)
		}
		if len(closed) > 0 {
			s.logRejection(ctx, in, ErrClosedSchedule)
			return nil, ErrClosedSchedule
		}
	}

	var created *Appointment

	err := s.locker.WithPractitionerLock(ctx, in.ClinicID, in.PractitionerID, func(lockCtx context.Context) error {
		// Inside the critical section re-check the practitioner's calendar
		overlap, err := s.repo.HasOverlap(lockCtx, in.ClinicID, in.PractitionerID, in.Start, in.End)
		if err != nil {
			return fmt.Errorf("check overlap: %w", err)
		}
		if overlap {
			return ErrConflict
		}

		appt, err := s.repo.Create(lockCtx, Appointment{
			ID:               uuid.New(),
			ClinicID:         in.ClinicID,
			PractitionerID:   in.PractitionerID,
			PatientID:        in.PatientID,
			ServiceID:        in.ServiceID,
			Kind:             in.Kind,
			Status:           StatusScheduled,
			Start:            in.Start,
			End:              in.End,
			BookingRequestID: in.BookingRequestID,
			CreatedBy:        in.Actor,
			Override:         in.Override,
			CreatedAt:        s.now(),
		})
		if err != nil {
			return err
		}
		created = appt

		payload := map[string]any{
			"clinic_id":       in.ClinicID,
			"practitioner_id": in.PractitionerID,
			"kind":            in.Kind,
			"start":           in.Start,
			"end":             in.End,
			"actor":           in.Actor,
			"override":        in.Override,
		}
		if in.BookingRequestID != nil {
			payload["booking_request_id"] = in.BookingRequestID.String()
		}
		s.logEvent(lockCtx, &appt.ID, EventAppointmentReserved, payload)

		return nil
	})

	if err != nil {
		if errors.Is(err, redisclient.ErrLockNotAcquired) {
			return nil, ErrPractitionerBusy
		}
		if errors.Is(err, ErrConflict) {
			s.logRejection(ctx, in, err)
			return nil, ErrConflict
		}
		if errors.Is(err, ErrAlreadyReserved) {
			return nil, ErrAlreadyReserved
		}
		return nil, fmt.Errorf("reserve appointment: %w", err)
	}

	return created, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return s.repo.GetByID(ctx, id)
}

// ForBookingRequest returns the appointment reserved for a booking request.
func (s *Service) ForBookingRequest(ctx context.Context, bookingRequestID uuid.UUID) (*Appointment, error) {
	return s.repo.GetByBookingRequest(ctx, bookingRequestID)
}

// AttachInvite links an issued intake invite to its appointment.
func (s *Service) AttachInvite(ctx context.Context, id, inviteID uuid.UUID) error {
	if err := s.repo.AttachInvite(ctx, id, inviteID); err != nil {
		return fmt.Errorf("attach intake invite: %w", err)
	}
	return nil
}

func (s *Service) logRejection(ctx context.Context, in ReserveInput, cause error) {
	s.logEvent(ctx, nil, EventReservationRejected, map[string]any{
		"clinic_id":       in.ClinicID,
		"practitioner_id": in.PractitionerID,
		"start":           in.Start,
		"end":             in.End,
		"reason":          cause.Error(),
	})
}

func (s *Service) logEvent(ctx context.Context, appointmentID *uuid.UUID, eventType string, payload map[string]any) {
	data, err := json.Marshal(payload)
	if err != nil {
		s.log.Error().Err(err).Str("event_type", eventType).Msg("failed to marshal event payload")
		data = nil
	}

	ev := EventLog{
		EventType:     eventType,
		AppointmentID: appointmentID,
		Payload:       data,
		CreatedAt:     s.now(),
	}

	if err := s.repo.InsertEvent(ctx, ev); err != nil {
		s.log.Error().Err(err).Str("event_type", eventType).Msg("failed to insert event log")
	}
}

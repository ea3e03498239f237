package booking

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-booking/internal/auth"
	"github.com/hackgods/clinic-booking/internal/patient"
)

var ErrInvalidSubmission = errors.New("invalid booking submission")

// Submission is the public booking payload.
type Submission struct {
	ClinicID                 string           `json:"clinicId" validate:"required,max=64"`
	PractitionerID           string           `json:"practitionerId" validate:"required,max=64"`
	Start                    string           `json:"start" validate:"required"`
	End                      string           `json:"end" validate:"required"`
	Patient                  patient.Snapshot `json:"patient" validate:"required"`
	AppointmentLengthMinutes int              `json:"appointmentLengthMinutes" validate:"omitempty,min=5,max=480"`
	ServiceKind              string           `json:"serviceKind" validate:"max=64"`
}

type Intake struct {
	store         Store
	defaultRegion string
	now           func() time.Time
	log           zerolog.Logger
}

func NewIntake(store Store, defaultRegion string, log zerolog.Logger) *Intake {
	return &Intake{store: store, defaultRegion: defaultRegion, now: time.Now, log: log}
}

// Submit records a pending request. Any caller identity works, anonymous
// included; scheduling rules are enforced later by the pipeline.
func (i *Intake) Submit(ctx context.Context, caller auth.Caller, s Submission) (*Request, error) {
	if caller.UID == "" {
		return nil, auth.ErrUnauthenticated
	}

	start, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(s.Start))
	if err != nil {
		return nil, fmt.Errorf("%w: start is not an ISO-8601 instant", ErrInvalidSubmission)
	}
	end, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(s.End))
	if err != nil {
		return nil, fmt.Errorf("%w: end is not an ISO-8601 instant", ErrInvalidSubmission)
	}
	if !end.After(start) {
		return nil, fmt.Errorf("%w: end must be after start", ErrInvalidSubmission)
	}
	if s.AppointmentLengthMinutes > 0 && end.Sub(start) != time.Duration(s.AppointmentLengthMinutes)*time.Minute {
		return nil, fmt.Errorf("%w: range does not match appointment length", ErrInvalidSubmission)
	}

	snap := s.Patient.Normalized(i.defaultRegion)
	if snap.EmailNormalized == "" && snap.PhoneNormalized == "" {
		return nil, fmt.Errorf("%w: patient email or phone is required", ErrInvalidSubmission)
	}

	now := i.now()
	req := Request{
		ID:                 uuid.New(),
		ClinicID:           strings.TrimSpace(s.ClinicID),
		PractitionerID:     strings.TrimSpace(s.PractitionerID),
		RequestedStart:     start.UTC().Format(time.RFC3339),
		RequestedEnd:       end.UTC().Format(time.RFC3339),
		Patient:            snap,
		ServiceKind:        strings.TrimSpace(s.ServiceKind),
		AppointmentMinutes: int(end.Sub(start) / time.Minute),
		CallerUID:          caller.UID,
		CallerAnonymous:    caller.Anonymous,
		Status:             StatusPending,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if err := i.store.Create(ctx, req); err != nil {
		return nil, fmt.Errorf("create booking request: %w", err)
	}

	i.log.Info().
		Str("booking_request_id", req.ID.String()).
		Str("clinic_id", req.ClinicID).
		Bool("anonymous", caller.Anonymous).
		Msg("booking request submitted")
	return &req, nil
}

// Status returns a request for polling clients.
func (i *Intake) Status(ctx context.Context, id uuid.UUID) (*Request, error) {
	return i.store.Get(ctx, id)
}

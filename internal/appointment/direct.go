package appointment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-booking/internal/auth"
)

var ErrMixedTimeFormats = errors.New("start and end must both be epoch milliseconds or both be ISO-8601")

// DirectRequest is the body of an authenticated scheduling call. Start and
// End hold either two epoch-millisecond numbers or two ISO-8601 strings.
type DirectRequest struct {
	ClinicID       string          `json:"clinicId" validate:"required,max=64"`
	Kind           Kind            `json:"kind" validate:"required,oneof=appointment block"`
	PatientID      string          `json:"patientId" validate:"omitempty,uuid"`
	ServiceID      string          `json:"serviceId" validate:"max=64"`
	PractitionerID string          `json:"practitionerId" validate:"required,max=64"`
	Start          json.RawMessage `json:"start" validate:"required"`
	End            json.RawMessage `json:"end" validate:"required"`
	Override       bool            `json:"override"`
}

// ParseInstantPair decodes start and end, refusing a millis/ISO mix.
func ParseInstantPair(start, end json.RawMessage) (time.Time, time.Time, error) {
	s, sMillis, err := parseInstant(start)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: start: %v", ErrInvalidInput, err)
	}
	e, eMillis, err := parseInstant(end)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: end: %v", ErrInvalidInput, err)
	}
	if sMillis != eMillis {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: %w", ErrInvalidInput, ErrMixedTimeFormats)
	}
	return s, e, nil
}

func parseInstant(raw json.RawMessage) (time.Time, bool, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return time.Time{}, false, errors.New("missing")
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return time.Time{}, false, err
		}
		t, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(s))
		if err != nil {
			return time.Time{}, false, errors.New("not an ISO-8601 instant")
		}
		return t, false, nil
	}
	ms, err := strconv.ParseInt(string(raw), 10, 64)
	if err != nil {
		return time.Time{}, true, errors.New("not an integer epoch-millisecond value")
	}
	return time.UnixMilli(ms).UTC(), true, nil
}

// RequiredPermissions lists what a caller needs for a direct request.
func RequiredPermissions(kind Kind, override bool) []string {
	var perms []string
	switch kind {
	case KindBlock:
		perms = append(perms, auth.PermScheduleBlock)
	default:
		perms = append(perms, auth.PermAppointmentsCreate)
	}
	if override {
		perms = append(perms, auth.PermScheduleOverride)
	}
	return perms
}

// CreateDirect schedules on behalf of an authenticated staff caller. The
// appointment has no originating booking request.
func (s *Service) CreateDirect(ctx context.Context, caller auth.Caller, req DirectRequest) (*Appointment, error) {
	if caller.UID == "" || caller.Anonymous {
		return nil, auth.ErrUnauthenticated
	}
	for _, perm := range RequiredPermissions(req.Kind, req.Override) {
		if !caller.Has(perm) {
			return nil, fmt.Errorf("%w: %s", auth.ErrPermissionDenied, perm)
		}
	}

	start, end, err := ParseInstantPair(req.Start, req.End)
	if err != nil {
		return nil, err
	}

	in := ReserveInput{
		ClinicID:       req.ClinicID,
		PractitionerID: req.PractitionerID,
		ServiceID:      strings.TrimSpace(req.ServiceID),
		Kind:           req.Kind,
		Start:          start,
		End:            end,
		Actor:          caller.UID,
		Override:       req.Override,
	}
	if req.PatientID != "" {
		id, err := uuid.Parse(req.PatientID)
		if err != nil {
			return nil, fmt.Errorf("%w: patientId", ErrInvalidInput)
		}
		in.PatientID = &id
	}

	appt, err := s.Reserve(ctx, in)
	if err != nil {
		return nil, err
	}
	s.log.Info().
		Str("appointment_id", appt.ID.String()).
		Str("actor", caller.UID).
		Str("kind", string(appt.Kind)).
		Bool("override", appt.Override).
		Msg("appointment created directly")
	return appt, nil
}

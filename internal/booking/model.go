package booking

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-booking/internal/patient"
)

type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
)

var (
	ErrRequestNotFound = errors.New("booking request not found")
	ErrNotPending      = errors.New("booking request is no longer pending")
	ErrInProgress      = errors.New("booking request is being handled by another worker")
)

// Request is a public booking request. Requested times are kept as
// submitted; the pipeline parses them.
type Request struct {
	ID                 uuid.UUID
	ClinicID           string
	PractitionerID     string
	RequestedStart     string
	RequestedEnd       string
	Patient            patient.Snapshot
	ServiceKind        string
	AppointmentMinutes int
	CallerUID          string
	CallerAnonymous    bool
	Status             Status
	RejectionReason    *string
	NotificationLockAt *time.Time
	NotificationSentAt *time.Time
	AppointmentID      *uuid.UUID
	PatientID          *uuid.UUID
	IntakeInviteID     *uuid.UUID
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// StoredRequest is a row as persisted. Older rows carry the practitioner
// under clinician_id instead of practitioner_id.
type StoredRequest struct {
	Request
	LegacyClinicianID string
}

// Normalize folds the legacy practitioner field into the canonical one.
func (s StoredRequest) Normalize() Request {
	r := s.Request
	r.PractitionerID = strings.TrimSpace(r.PractitionerID)
	if r.PractitionerID == "" {
		r.PractitionerID = strings.TrimSpace(s.LegacyClinicianID)
	}
	return r
}

// lockable reports whether a new holder may take the notification lock.
func lockable(r *Request, staleBefore time.Time) bool {
	if r.NotificationSentAt != nil {
		return false
	}
	if r.NotificationLockAt == nil {
		return true
	}
	return r.Status == StatusPending && r.NotificationLockAt.Before(staleBefore)
}

// Approval records the links written when a request is approved.
type Approval struct {
	AppointmentID  uuid.UUID
	PatientID      uuid.UUID
	PractitionerID string
	IntakeInviteID *uuid.UUID
}

// Event is an outbox row that triggers resolution of one request.
type Event struct {
	ID               uuid.UUID
	BookingRequestID uuid.UUID
	Attempts         int
}

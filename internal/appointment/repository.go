package appointment

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrAppointmentNotFound = errors.New("appointment not found")
)

// Repository contains all DB interactions needed by the service.
type Repository interface {
	// For conflict checks
	HasOverlap(ctx context.Context, clinicID, practitionerID string, start, end time.Time) (bool, error)

	// Create stores the appointment together with the practitioner busy block
	// covering it. An overlapping active appointment yields ErrConflict.
	Create(ctx context.Context, a Appointment) (*Appointment, error)
	GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	// GetByBookingRequest returns the appointment a booking request produced,
	// or ErrAppointmentNotFound.
	GetByBookingRequest(ctx context.Context, bookingRequestID uuid.UUID) (*Appointment, error)
	AttachInvite(ctx context.Context, id, inviteID uuid.UUID) error

	// Event logging
	InsertEvent(ctx context.Context, ev EventLog) error
}

package appointment

import (
	"time"

	"github.com/google/uuid"
)

type Kind string

const (
	KindAppointment Kind = "appointment"
	KindBlock       Kind = "block"
)

type Status string

const (
	StatusScheduled Status = "scheduled"
	StatusCancelled Status = "cancelled"
)

type Appointment struct {
	ID               uuid.UUID  `json:"id"`
	ClinicID         string     `json:"clinicId"`
	PractitionerID   string     `json:"practitionerId"`
	PatientID        *uuid.UUID `json:"patientId,omitempty"`
	ServiceID        string     `json:"serviceId,omitempty"`
	Kind             Kind       `json:"kind"`
	Status           Status     `json:"status"`
	Start            time.Time  `json:"start"`
	End              time.Time  `json:"end"`
	BookingRequestID *uuid.UUID `json:"bookingRequestId,omitempty"`
	IntakeInviteID   *uuid.UUID `json:"intakeInviteId,omitempty"`
	CreatedBy        string     `json:"createdBy,omitempty"`
	Override         bool       `json:"override"`
	CreatedAt        time.Time  `json:"createdAt"`
}

type EventLog struct {
	ID            int64
	EventType     string
	AppointmentID *uuid.UUID
	Payload       []byte
	CreatedAt     time.Time
}

// ReserveInput is the reservation contract shared by public booking and
// direct scheduling. BookingRequestID is nil for direct scheduling.
type ReserveInput struct {
	ClinicID         string
	PractitionerID   string
	PatientID        *uuid.UUID
	ServiceID        string
	Kind             Kind
	Start            time.Time
	End              time.Time
	Actor            string
	Override         bool
	BookingRequestID *uuid.UUID
}

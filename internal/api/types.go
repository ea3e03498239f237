package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-booking/internal/schedule"
)

type AvailabilityRequest struct {
	ClinicID         string `json:"clinicId" validate:"required,max=64"`
	PractitionerID   string `json:"practitionerId" validate:"max=64"`
	ServiceID        string `json:"serviceId" validate:"max=64"`
	RangeStart       string `json:"rangeStart" validate:"required"`
	RangeEnd         string `json:"rangeEnd" validate:"required"`
	TimezoneOverride string `json:"timezoneOverride" validate:"max=64"`
	CorporateSlug    string `json:"corporateSlug" validate:"max=64"`
	CorporateCode    string `json:"corporateCode" validate:"max=128"`
	Purpose          string `json:"purpose" validate:"omitempty,oneof=booking opening"`
}

type AvailabilityResponse struct {
	Slots       []schedule.Slot      `json:"slots"`
	WeeklyHours schedule.WeeklyHours `json:"weeklyHours"`
	DayFlags    []schedule.DayFlag   `json:"dayFlags"`
	StepMinutes int                  `json:"stepMinutes"`
	Timezone    string               `json:"timezone"`
}

type BookingSubmittedResponse struct {
	BookingRequestID uuid.UUID `json:"bookingRequestId"`
	Status           string    `json:"status"`
}

type BookingStatusResponse struct {
	BookingRequestID uuid.UUID  `json:"bookingRequestId"`
	Status           string     `json:"status"`
	RejectionReason  *string    `json:"rejectionReason,omitempty"`
	AppointmentID    *uuid.UUID `json:"appointmentId,omitempty"`
	PatientID        *uuid.UUID `json:"patientId,omitempty"`
	PractitionerID   string     `json:"practitionerId,omitempty"`
	Start            string     `json:"start"`
	End              string     `json:"end"`
	NotificationSent bool       `json:"notificationSent"`
}

type AppointmentResponse struct {
	ID             uuid.UUID  `json:"id"`
	ClinicID       string     `json:"clinicId"`
	PractitionerID string     `json:"practitionerId"`
	PatientID      *uuid.UUID `json:"patientId,omitempty"`
	Kind           string     `json:"kind"`
	Status         string     `json:"status"`
	Start          time.Time  `json:"start"`
	End            time.Time  `json:"end"`
	Override       bool       `json:"override"`
}

type IntakeConsumeRequest struct {
	Token string `json:"token" validate:"required,max=256"`
}

type IntakeConsumeResponse struct {
	ClinicID      string     `json:"clinicId"`
	AppointmentID uuid.UUID  `json:"appointmentId"`
	PatientID     *uuid.UUID `json:"patientId,omitempty"`
}

type AnonymousTokenResponse struct {
	Token     string    `json:"token"`
	UID       string    `json:"uid"`
	ExpiresAt time.Time `json:"expiresAt"`
}

type ErrorResponse struct {
	Error   string            `json:"error"`
	Details string            `json:"details,omitempty"`
	Fields  map[string]string `json:"fields,omitempty"`
}

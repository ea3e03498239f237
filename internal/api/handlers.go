package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/hackgods/clinic-booking/internal/appointment"
	"github.com/hackgods/clinic-booking/internal/auth"
	"github.com/hackgods/clinic-booking/internal/availability"
	"github.com/hackgods/clinic-booking/internal/booking"
	"github.com/hackgods/clinic-booking/internal/invite"
)

const anonymousTokenTTL = 24 * time.Hour

type AvailabilityService interface {
	Query(ctx context.Context, q availability.Query) (*availability.Result, error)
}

type BookingIntake interface {
	Submit(ctx context.Context, caller auth.Caller, s booking.Submission) (*booking.Request, error)
	Status(ctx context.Context, id uuid.UUID) (*booking.Request, error)
}

type AppointmentCreator interface {
	CreateDirect(ctx context.Context, caller auth.Caller, req appointment.DirectRequest) (*appointment.Appointment, error)
}

type InviteConsumer interface {
	Consume(ctx context.Context, token string) (invite.Invite, error)
}

type AnonymousIssuer interface {
	IssueAnonymous(ttl time.Duration) (string, auth.Caller, error)
}

type handlers struct {
	availability AvailabilityService
	intake       BookingIntake
	appointments AppointmentCreator
	invites      InviteConsumer
	tokens       AnonymousIssuer
	validate     *requestValidator
	now          func() time.Time
}

func decodeBody(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("%w: could not parse JSON body", errBadRequest)
	}
	return nil
}

func parseInstantParam(name, raw string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(raw))
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %s must be an ISO-8601 instant", errBadRequest, name)
	}
	return t, nil
}

func (h *handlers) getAvailability(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	req := AvailabilityRequest{
		ClinicID:         q.Get("clinicId"),
		PractitionerID:   q.Get("practitionerId"),
		ServiceID:        q.Get("serviceId"),
		RangeStart:       q.Get("rangeStart"),
		RangeEnd:         q.Get("rangeEnd"),
		TimezoneOverride: q.Get("timezoneOverride"),
		CorporateSlug:    q.Get("corporateSlug"),
		CorporateCode:    q.Get("corporateCode"),
		Purpose:          q.Get("purpose"),
	}
	if err := h.validate.Validate(req); err != nil {
		HandleError(w, r, err)
		return
	}

	start, err := parseInstantParam("rangeStart", req.RangeStart)
	if err != nil {
		HandleError(w, r, err)
		return
	}
	end, err := parseInstantParam("rangeEnd", req.RangeEnd)
	if err != nil {
		HandleError(w, r, err)
		return
	}

	purpose := availability.PurposeBooking
	if req.Purpose != "" {
		purpose = availability.Purpose(req.Purpose)
	}

	res, err := h.availability.Query(r.Context(), availability.Query{
		ClinicID:         req.ClinicID,
		PractitionerID:   req.PractitionerID,
		ServiceID:        req.ServiceID,
		RangeStart:       start,
		RangeEnd:         end,
		TimezoneOverride: req.TimezoneOverride,
		CorporateSlug:    req.CorporateSlug,
		CorporateCode:    req.CorporateCode,
		Purpose:          purpose,
	})
	if err != nil {
		HandleError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, AvailabilityResponse{
		Slots:       res.Slots,
		WeeklyHours: res.WeeklyHours,
		DayFlags:    res.DayFlags,
		StepMinutes: res.StepMinutes,
		Timezone:    res.Timezone,
	})
}

func (h *handlers) submitBooking(w http.ResponseWriter, r *http.Request) {
	caller, ok := auth.FromContext(r.Context())
	if !ok {
		HandleError(w, r, auth.ErrUnauthenticated)
		return
	}

	var sub booking.Submission
	if err := decodeBody(r, &sub); err != nil {
		HandleError(w, r, err)
		return
	}
	if err := h.validate.Validate(sub); err != nil {
		HandleError(w, r, err)
		return
	}

	req, err := h.intake.Submit(r.Context(), caller, sub)
	if err != nil {
		HandleError(w, r, err)
		return
	}

	writeJSON(w, http.StatusAccepted, BookingSubmittedResponse{
		BookingRequestID: req.ID,
		Status:           string(req.Status),
	})
}

func (h *handlers) getBooking(w http.ResponseWriter, r *http.Request) {
	caller, ok := auth.FromContext(r.Context())
	if !ok {
		HandleError(w, r, auth.ErrUnauthenticated)
		return
	}

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		HandleError(w, r, fmt.Errorf("%w: id must be a valid UUID", errBadRequest))
		return
	}

	req, err := h.intake.Status(r.Context(), id)
	if err != nil {
		HandleError(w, r, err)
		return
	}
	// another caller's request is reported as missing
	if req.CallerUID != caller.UID {
		HandleError(w, r, booking.ErrRequestNotFound)
		return
	}

	writeJSON(w, http.StatusOK, BookingStatusResponse{
		BookingRequestID: req.ID,
		Status:           string(req.Status),
		RejectionReason:  req.RejectionReason,
		AppointmentID:    req.AppointmentID,
		PatientID:        req.PatientID,
		PractitionerID:   req.PractitionerID,
		Start:            req.RequestedStart,
		End:              req.RequestedEnd,
		NotificationSent: req.NotificationSentAt != nil,
	})
}

func (h *handlers) createAppointment(w http.ResponseWriter, r *http.Request) {
	caller, ok := auth.FromContext(r.Context())
	if !ok {
		HandleError(w, r, auth.ErrUnauthenticated)
		return
	}

	var req appointment.DirectRequest
	if err := decodeBody(r, &req); err != nil {
		HandleError(w, r, err)
		return
	}
	if err := h.validate.Validate(req); err != nil {
		HandleError(w, r, err)
		return
	}

	appt, err := h.appointments.CreateDirect(r.Context(), caller, req)
	if err != nil {
		HandleError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, AppointmentResponse{
		ID:             appt.ID,
		ClinicID:       appt.ClinicID,
		PractitionerID: appt.PractitionerID,
		PatientID:      appt.PatientID,
		Kind:           string(appt.Kind),
		Status:         string(appt.Status),
		Start:          appt.Start,
		End:            appt.End,
		Override:       appt.Override,
	})
}

func (h *handlers) consumeIntake(w http.ResponseWriter, r *http.Request) {
	var req IntakeConsumeRequest
	if err := decodeBody(r, &req); err != nil {
		HandleError(w, r, err)
		return
	}
	if err := h.validate.Validate(req); err != nil {
		HandleError(w, r, err)
		return
	}

	inv, err := h.invites.Consume(r.Context(), strings.TrimSpace(req.Token))
	if err != nil {
		HandleError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, IntakeConsumeResponse{
		ClinicID:      inv.ClinicID,
		AppointmentID: inv.AppointmentID,
		PatientID:     inv.PatientID,
	})
}

func (h *handlers) issueAnonymousToken(w http.ResponseWriter, r *http.Request) {
	token, caller, err := h.tokens.IssueAnonymous(anonymousTokenTTL)
	if err != nil {
		HandleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, AnonymousTokenResponse{
		Token:     token,
		UID:       caller.UID,
		ExpiresAt: h.now().Add(anonymousTokenTTL).UTC(),
	})
}

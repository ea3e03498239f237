package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-booking/internal/appointment"
	"github.com/hackgods/clinic-booking/internal/auth"
	"github.com/hackgods/clinic-booking/internal/availability"
	"github.com/hackgods/clinic-booking/internal/booking"
	"github.com/hackgods/clinic-booking/internal/clinic"
	"github.com/hackgods/clinic-booking/internal/invite"
	"github.com/hackgods/clinic-booking/internal/schedule"
)

// Error codes returned to callers.
const (
	CodeUnauthenticated    = "unauthenticated"
	CodeInvalidArgument    = "invalid-argument"
	CodeFailedPrecondition = "failed-precondition"
	CodePermissionDenied   = "permission-denied"
	CodeNotFound           = "not-found"
	CodeDeadlineExceeded   = "deadline-exceeded"
	CodeInternal           = "internal"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, details string) {
	writeJSON(w, status, ErrorResponse{
		Error:   code,
		Details: details,
	})
}

var errBadRequest = errors.New("bad request")

// classify maps a service error onto the caller-facing taxonomy.
func classify(err error) (int, string) {
	var verrs validator.ValidationErrors
	switch {
	case errors.As(err, &verrs):
		return http.StatusBadRequest, CodeInvalidArgument

	case errors.Is(err, auth.ErrUnauthenticated),
		errors.Is(err, auth.ErrInvalidToken):
		return http.StatusUnauthorized, CodeUnauthenticated

	case errors.Is(err, auth.ErrPermissionDenied):
		return http.StatusForbidden, CodePermissionDenied

	case errors.Is(err, errBadRequest),
		errors.Is(err, availability.ErrInvalidRange),
		errors.Is(err, availability.ErrRangeTooLong),
		errors.Is(err, availability.ErrMissingClinic),
		errors.Is(err, availability.ErrPractitionerNotAllowed),
		errors.Is(err, schedule.ErrInvalidTimezone),
		errors.Is(err, booking.ErrInvalidSubmission),
		errors.Is(err, appointment.ErrInvalidInput):
		return http.StatusBadRequest, CodeInvalidArgument

	case errors.Is(err, clinic.ErrClinicNotFound),
		errors.Is(err, booking.ErrRequestNotFound),
		errors.Is(err, appointment.ErrAppointmentNotFound),
		errors.Is(err, invite.ErrNotFound):
		return http.StatusNotFound, CodeNotFound

	case errors.Is(err, appointment.ErrConflict),
		errors.Is(err, appointment.ErrPractitionerBusy):
		return http.StatusConflict, CodeFailedPrecondition

	case errors.Is(err, appointment.ErrClosedSchedule),
		errors.Is(err, invite.ErrUsed),
		errors.Is(err, invite.ErrExpired):
		return http.StatusPreconditionFailed, CodeFailedPrecondition

	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, CodeDeadlineExceeded
	}
	return http.StatusInternalServerError, CodeInternal
}

// HandleError writes err in the error envelope. Internal errors are logged
// and their details withheld.
func HandleError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := classify(err)

	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		writeJSON(w, status, ErrorResponse{
			Error:   code,
			Details: "request validation failed",
			Fields:  formatValidationErrors(verrs),
		})
		return
	}

	if code == CodeInternal {
		zerolog.Ctx(r.Context()).Error().Err(err).Msg("request failed")
		writeError(w, status, code, "internal error")
		return
	}
	writeError(w, status, code, err.Error())
}

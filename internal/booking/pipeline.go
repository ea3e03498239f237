package booking

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-booking/internal/appointment"
	"github.com/hackgods/clinic-booking/internal/busy"
	"github.com/hackgods/clinic-booking/internal/clinic"
	"github.com/hackgods/clinic-booking/internal/invite"
	"github.com/hackgods/clinic-booking/internal/notify"
	"github.com/hackgods/clinic-booking/internal/patient"
	"github.com/hackgods/clinic-booking/internal/schedule"
)

type PatientResolver interface {
	Resolve(ctx context.Context, clinicID string, snap patient.Snapshot) (patient.Resolution, error)
}

type Reserver interface {
	Reserve(ctx context.Context, in appointment.ReserveInput) (*appointment.Appointment, error)
	ForBookingRequest(ctx context.Context, bookingRequestID uuid.UUID) (*appointment.Appointment, error)
	AttachInvite(ctx context.Context, id, inviteID uuid.UUID) error
}

type BlockRecorder interface {
	RecordBlock(ctx context.Context, b busy.Block) (busy.Block, error)
}

type InviteIssuer interface {
	Issue(ctx context.Context, clinicID string, appointmentID uuid.UUID, patientID *uuid.UUID) (*invite.Issued, error)
}

type Notifier interface {
	Dispatch(ctx context.Context, n notify.Notice) []notify.Attempt
}

type PipelineDeps struct {
	Store    Store
	Clinics  clinic.Directory
	Patients PatientResolver
	Reserver Reserver
	Blocks   BlockRecorder
	Invites  InviteIssuer
	Notifier Notifier
	MinLead  time.Duration

	// StaleLockAfter is how long a pending request's lock is honoured
	// before another delivery may reclaim it. Keep it above the worker's
	// handle timeout.
	StaleLockAfter time.Duration
}

// Pipeline resolves one booking request into an appointment. It is safe to
// run more than once for the same request.
type Pipeline struct {
	PipelineDeps
	now func() time.Time
	log zerolog.Logger
}

func NewPipeline(deps PipelineDeps, log zerolog.Logger) *Pipeline {
	if deps.MinLead <= 0 {
		deps.MinLead = 30 * time.Minute
	}
	if deps.StaleLockAfter <= 0 {
		deps.StaleLockAfter = 5 * time.Minute
	}
	return &Pipeline{PipelineDeps: deps, now: time.Now, log: log}
}

// WithClock replaces the time source.
func (p *Pipeline) WithClock(now func() time.Time) *Pipeline {
	p.now = now
	return p
}

// Handle runs the pipeline for request id. Rejections for bad input return
// nil. A reservation that loses its slot is rejected and also returns the
// error. Any other failure leaves the request pending, releases its lock and
// returns the error so the event is redelivered.
func (p *Pipeline) Handle(ctx context.Context, id uuid.UUID) error {
	log := p.log.With().Str("booking_request_id", id.String()).Logger()

	now := p.now()
	req, acquired, err := p.Store.AcquireNotificationLock(ctx, id, now, now.Add(-p.StaleLockAfter))
	if err != nil {
		return fmt.Errorf("acquire notification lock: %w", err)
	}
	if !acquired {
		if req.Status == StatusPending {
			log.Debug().Msg("booking request locked elsewhere")
			return ErrInProgress
		}
		log.Debug().Msg("booking request already handled, skipping")
		return nil
	}

	earlier, err := p.earlierAppointment(ctx, req.ID)
	if err != nil {
		return p.retryLater(ctx, log, req, err)
	}
	if earlier != nil {
		return p.resume(ctx, log, req, earlier)
	}

	start, end, reason := p.validateTimes(req)
	if reason != "" {
		return p.reject(ctx, log, req, reason, nil)
	}

	if req.PractitionerID == "" {
		return p.reject(ctx, log, req, "practitioner is required", nil)
	}
	allowed, err := p.Clinics.PublicPractitioners(ctx, req.ClinicID)
	if err != nil {
		return p.retryLater(ctx, log, req, fmt.Errorf("load practitioners: %w", err))
	}
	practitioner, ok := clinic.FindPractitioner(allowed, req.PractitionerID)
	if !ok {
		return p.reject(ctx, log, req, "practitioner is not available for online booking", nil)
	}

	res, err := p.Patients.Resolve(ctx, req.ClinicID, req.Patient)
	if err != nil {
		if errors.Is(err, patient.ErrMissingIdentity) {
			return p.reject(ctx, log, req, err.Error(), nil)
		}
		return p.retryLater(ctx, log, req, fmt.Errorf("resolve patient: %w", err))
	}
	patientID := res.Patient.ID

	appt, err := p.Reserver.Reserve(ctx, appointment.ReserveInput{
		ClinicID:         req.ClinicID,
		PractitionerID:   practitioner.ID,
		PatientID:        &patientID,
		ServiceID:        req.ServiceKind,
		Kind:             appointment.KindAppointment,
		Start:            start,
		End:              end,
		Actor:            req.CallerUID,
		BookingRequestID: &req.ID,
	})
	if err != nil {
		if slotRejected(err) {
			return p.reject(ctx, log, req, err.Error(), fmt.Errorf("reserve appointment: %w", err))
		}
		return p.retryLater(ctx, log, req, fmt.Errorf("reserve appointment: %w", err))
	}
	log = log.With().Str("appointment_id", appt.ID.String()).Logger()
	log.Info().Str("patient_id", patientID.String()).Bool("patient_created", res.Created).Msg("appointment reserved")

	p.mirrorBlock(ctx, log, req, appt)
	issued := p.issueInvite(ctx, log, req, appt, patientID)
	return p.complete(ctx, log, req, appt, practitioner, patientID, issued)
}

// resume finishes a request whose appointment an earlier delivery already
// reserved.
func (p *Pipeline) resume(ctx context.Context, log zerolog.Logger, req *Request, appt *appointment.Appointment) error {
	log = log.With().Str("appointment_id", appt.ID.String()).Logger()
	log.Info().Msg("resuming booking request with existing appointment")

	practitioner := clinic.Practitioner{ID: appt.PractitionerID}
	if allowed, err := p.Clinics.PublicPractitioners(ctx, req.ClinicID); err == nil {
		if found, ok := clinic.FindPractitioner(allowed, appt.PractitionerID); ok {
			practitioner = found
		}
	} else {
		log.Warn().Err(err).Msg("failed to load practitioners, notifying without practitioner details")
	}

	var patientID uuid.UUID
	if appt.PatientID != nil {
		patientID = *appt.PatientID
	}

	// the raw token of an attached invite is gone, so only a missing one is issued
	var issued *invite.Issued
	if appt.IntakeInviteID == nil {
		issued = p.issueInvite(ctx, log, req, appt, patientID)
	}
	return p.complete(ctx, log, req, appt, practitioner, patientID, issued)
}

// complete approves the request and sends the confirmation. A failed
// approval releases the lock so a redelivery can resume.
func (p *Pipeline) complete(ctx context.Context, log zerolog.Logger, req *Request, appt *appointment.Appointment, practitioner clinic.Practitioner, patientID uuid.UUID, issued *invite.Issued) error {
	approval := Approval{AppointmentID: appt.ID, PatientID: patientID, PractitionerID: practitioner.ID, IntakeInviteID: appt.IntakeInviteID}
	if issued != nil {
		approval.IntakeInviteID = &issued.ID
	}

	wctx, cancel := detached(ctx)
	err := p.Store.Approve(wctx, req.ID, approval, p.now())
	cancel()
	if err != nil {
		return p.retryLater(ctx, log, req, fmt.Errorf("approve booking request: %w", err))
	}
	log.Info().Msg("booking request approved")

	p.notify(ctx, log, req, practitioner, appt.Start, appt.End, issued)
	return nil
}

// Abandon settles a request whose event ran out of deliveries. An existing
// appointment is approved; otherwise the patient is asked to submit again.
func (p *Pipeline) Abandon(ctx context.Context, id uuid.UUID, cause error) error {
	log := p.log.With().Str("booking_request_id", id.String()).Logger()
	wctx, cancel := detached(ctx)
	defer cancel()

	req, err := p.Store.Get(wctx, id)
	if err != nil {
		return fmt.Errorf("load booking request: %w", err)
	}
	if req.Status != StatusPending {
		return nil
	}

	appt, err := p.earlierAppointment(wctx, id)
	if err != nil {
		return err
	}
	if appt != nil {
		a := Approval{AppointmentID: appt.ID, PractitionerID: appt.PractitionerID, IntakeInviteID: appt.IntakeInviteID}
		if appt.PatientID != nil {
			a.PatientID = *appt.PatientID
		}
		if err := p.Store.Approve(wctx, id, a, p.now()); err != nil {
			return fmt.Errorf("approve abandoned booking request: %w", err)
		}
		log.Warn().Err(cause).Str("appointment_id", appt.ID.String()).Msg("abandoned booking request approved without notification")
		return nil
	}

	if err := p.Store.Reject(wctx, id, ReasonResubmit, p.now()); err != nil {
		return fmt.Errorf("reject abandoned booking request: %w", err)
	}
	log.Warn().Err(cause).Msg("abandoned booking request rejected")
	return nil
}

// ReasonResubmit is stored when a request could not be processed at all.
const ReasonResubmit = "your booking could not be processed, please submit it again"

func (p *Pipeline) earlierAppointment(ctx context.Context, id uuid.UUID) (*appointment.Appointment, error) {
	appt, err := p.Reserver.ForBookingRequest(ctx, id)
	if errors.Is(err, appointment.ErrAppointmentNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find appointment for booking request: %w", err)
	}
	return appt, nil
}

// slotRejected reports reservation failures that are final for the
// requested slot.
func slotRejected(err error) bool {
	return errors.Is(err, appointment.ErrConflict) ||
		errors.Is(err, appointment.ErrClosedSchedule) ||
		errors.Is(err, appointment.ErrInvalidInput) ||
		errors.Is(err, appointment.ErrPractitionerBusy)
}

func (p *Pipeline) validateTimes(req *Request) (time.Time, time.Time, string) {
	start, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(req.RequestedStart))
	if err != nil {
		return time.Time{}, time.Time{}, "start time could not be parsed"
	}
	end, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(req.RequestedEnd))
	if err != nil {
		return time.Time{}, time.Time{}, "end time could not be parsed"
	}
	if start.Sub(p.now()) < p.MinLead {
		return time.Time{}, time.Time{}, fmt.Sprintf("bookings must start at least %d minutes from now", int(p.MinLead/time.Minute))
	}
	if !end.After(start) {
		return time.Time{}, time.Time{}, "end must be after start"
	}
	return start, end, ""
}

// terminalWriteTimeout bounds status writes made after the handling
// context may have expired.
const terminalWriteTimeout = 5 * time.Second

func detached(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), terminalWriteTimeout)
}

// reject persists reason and returns cause, which is nil for plain
// validation failures. A failed write releases the lock and returns an
// error so the event is redelivered.
func (p *Pipeline) reject(ctx context.Context, log zerolog.Logger, req *Request, reason string, cause error) error {
	wctx, cancel := detached(ctx)
	err := p.Store.Reject(wctx, req.ID, reason, p.now())
	cancel()
	if err != nil {
		log.Error().Err(err).Str("reason", reason).Msg("failed to mark booking request rejected")
		return p.retryLater(ctx, log, req, fmt.Errorf("reject booking request: %w", err))
	}
	ev := log.Info()
	if cause != nil {
		ev = log.Warn().Err(cause)
	}
	ev.Str("reason", reason).Msg("booking request rejected")
	return cause
}

// retryLater leaves the request pending for the next delivery. If the
// release fails too, the lock goes stale and is reclaimed.
func (p *Pipeline) retryLater(ctx context.Context, log zerolog.Logger, req *Request, cause error) error {
	wctx, cancel := detached(ctx)
	defer cancel()
	if err := p.Store.ReleaseNotificationLock(wctx, req.ID); err != nil {
		log.Error().Err(err).Msg("failed to release notification lock")
	}
	log.Warn().Err(cause).Msg("booking request left pending for retry")
	return cause
}

func (p *Pipeline) mirrorBlock(ctx context.Context, log zerolog.Logger, req *Request, appt *appointment.Appointment) {
	apptID := appt.ID
	_, err := p.Blocks.RecordBlock(ctx, busy.Block{
		ClinicID:      req.ClinicID,
		Interval:      schedule.Interval{Start: appt.Start, End: appt.End},
		Scope:         busy.ScopeClinic,
		Kind:          busy.KindPublicAvailability,
		AppointmentID: &apptID,
	})
	if err != nil {
		log.Warn().Err(err).Msg("failed to record public availability block")
	}
}

func (p *Pipeline) issueInvite(ctx context.Context, log zerolog.Logger, req *Request, appt *appointment.Appointment, patientID uuid.UUID) *invite.Issued {
	issued, err := p.Invites.Issue(ctx, req.ClinicID, appt.ID, &patientID)
	if err != nil {
		log.Warn().Err(err).Msg("failed to issue intake invite")
		return nil
	}
	if err := p.Reserver.AttachInvite(ctx, appt.ID, issued.ID); err != nil {
		log.Warn().Err(err).Msg("failed to link intake invite to appointment")
	}
	return issued
}

func (p *Pipeline) notify(ctx context.Context, log zerolog.Logger, req *Request, practitioner clinic.Practitioner, start, end time.Time, issued *invite.Issued) {
	settings, err := p.Clinics.NotificationSettings(ctx, req.ClinicID)
	if err != nil {
		log.Warn().Err(err).Msg("failed to load notification settings")
	}
	var loc *time.Location
	if cfg, err := p.Clinics.ScheduleConfig(ctx, req.ClinicID); err == nil {
		if l, err := cfg.Location(); err == nil {
			loc = l
		}
	}

	n := notify.Notice{
		BookingRequestID:  req.ID.String(),
		ClinicName:        settings.ClinicName,
		Policy:            settings.RecipientPolicy,
		PatientName:       strings.TrimSpace(req.Patient.FirstName + " " + req.Patient.LastName),
		PatientEmail:      req.Patient.Email,
		PractitionerName:  practitioner.Name,
		PractitionerEmail: practitioner.Email,
		InboxEmail:        settings.InboxEmail,
		Start:             start,
		End:               end,
		Location:          loc,
	}
	if issued != nil {
		n.IntakeLink = issued.Link
	}
	p.Notifier.Dispatch(ctx, n)

	wctx, cancel := detached(ctx)
	defer cancel()
	if err := p.Store.MarkNotificationSent(wctx, req.ID, p.now()); err != nil {
		log.Error().Err(err).Msg("failed to mark notification sent")
	}
}

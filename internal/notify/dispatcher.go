package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

type Policy string

const (
	PolicyPractitioner Policy = "practitionerOnAppointment"
	PolicyClinicInbox  Policy = "clinicInbox"
	PolicyBoth         Policy = "both"
)

var ErrUnknownPolicy = errors.New("unknown recipient policy")

// ParsePolicy accepts the configured policy name. Empty means
// practitionerOnAppointment.
func ParsePolicy(s string) (Policy, error) {
	switch Policy(strings.TrimSpace(s)) {
	case "", PolicyPractitioner:
		return PolicyPractitioner, nil
	case PolicyClinicInbox:
		return PolicyClinicInbox, nil
	case PolicyBoth:
		return PolicyBoth, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownPolicy, s)
}

type Audience string

const (
	AudiencePatient      Audience = "patient"
	AudiencePractitioner Audience = "practitioner"
	AudienceClinicInbox  Audience = "clinicInbox"
)

type Outcome string

const (
	OutcomeAccepted Outcome = "accepted"
	OutcomeSkipped  Outcome = "skipped"
	OutcomeError    Outcome = "error"
)

type Attempt struct {
	Audience  Audience
	Recipient string
	Outcome   Outcome
	Err       error
}

// Notice describes a confirmed public booking.
type Notice struct {
	BookingRequestID  string
	ClinicName        string
	Policy            string
	PatientName       string
	PatientEmail      string
	PractitionerName  string
	PractitionerEmail string
	InboxEmail        string
	Start             time.Time
	End               time.Time
	Location          *time.Location
	IntakeLink        string
}

type Dispatcher struct {
	sender Sender
	log    zerolog.Logger
}

func NewDispatcher(sender Sender, log zerolog.Logger) *Dispatcher {
	return &Dispatcher{sender: sender, log: log}
}

// Dispatch sends the patient confirmation and the clinic alerts the policy
// asks for. It never fails; every attempt is logged and returned.
func (d *Dispatcher) Dispatch(ctx context.Context, n Notice) []Attempt {
	policy, err := ParsePolicy(n.Policy)
	if err != nil {
		d.log.Warn().Err(err).Str("booking_request_id", n.BookingRequestID).Msg("falling back to practitioner policy")
		policy = PolicyPractitioner
	}

	when := n.Start
	if n.Location != nil {
		when = when.In(n.Location)
	}
	slot := when.Format("Mon 2 Jan 2006 15:04 MST")

	attempts := []Attempt{
		d.send(ctx, n.BookingRequestID, AudiencePatient, n.PatientEmail, patientMessage(n, slot)),
	}
	if policy == PolicyPractitioner || policy == PolicyBoth {
		attempts = append(attempts, d.send(ctx, n.BookingRequestID, AudiencePractitioner, n.PractitionerEmail, clinicMessage(n, slot)))
	}
	if policy == PolicyClinicInbox || policy == PolicyBoth {
		attempts = append(attempts, d.send(ctx, n.BookingRequestID, AudienceClinicInbox, n.InboxEmail, clinicMessage(n, slot)))
	}
	return attempts
}

func (d *Dispatcher) send(ctx context.Context, requestID string, audience Audience, to string, m Message) Attempt {
	to = strings.TrimSpace(to)
	a := Attempt{Audience: audience, Recipient: Redact(to)}

	switch {
	case to == "":
		a.Outcome = OutcomeSkipped
	default:
		m.To = []string{to}
		err := d.sender.Send(ctx, m)
		switch {
		case err == nil:
			a.Outcome = OutcomeAccepted
		case errors.Is(err, ErrDisabled):
			a.Outcome = OutcomeSkipped
		default:
			a.Outcome = OutcomeError
			a.Err = err
		}
	}

	ev := d.log.Info()
	if a.Outcome == OutcomeError {
		ev = d.log.Warn().Err(a.Err)
	}
	ev.Str("booking_request_id", requestID).
		Str("audience", string(a.Audience)).
		Str("recipient", a.Recipient).
		Str("outcome", string(a.Outcome)).
		Msg("notification attempt")
	return a
}

func patientMessage(n Notice, slot string) Message {
	var b strings.Builder
	fmt.Fprintf(&b, "Hi %s,\n\nYour appointment at %s is confirmed for %s", n.PatientName, n.ClinicName, slot)
	if n.PractitionerName != "" {
		fmt.Fprintf(&b, " with %s", n.PractitionerName)
	}
	b.WriteString(".\n")
	if n.IntakeLink != "" {
		fmt.Fprintf(&b, "\nPlease complete your intake form before the visit:\n%s\n", n.IntakeLink)
	}
	return Message{
		Subject:  fmt.Sprintf("Appointment confirmed: %s", n.ClinicName),
		TextBody: b.String(),
	}
}

func clinicMessage(n Notice, slot string) Message {
	return Message{
		Subject: fmt.Sprintf("New online booking: %s", slot),
		TextBody: fmt.Sprintf("A new appointment was booked online.\n\nPatient: %s\nWhen: %s\nRequest: %s\n",
			n.PatientName, slot, n.BookingRequestID),
	}
}

// Redact keeps the first character of the local part and the domain.
func Redact(email string) string {
	email = strings.TrimSpace(email)
	if email == "" {
		return ""
	}
	at := strings.LastIndex(email, "@")
	if at <= 0 {
		return "***"
	}
	return email[:1] + "***" + email[at:]
}

package busy

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-booking/internal/schedule"
)

type Scope string

const (
	ScopeClinic       Scope = "clinic"
	ScopePractitioner Scope = "practitioner"
)

type Status string

const (
	StatusActive    Status = "active"
	StatusCancelled Status = "cancelled"
)

const (
	KindAdmin              = "admin"
	KindAppointment        = "appointment"
	KindPublicAvailability = "public-availability"
)

// Record is a busy block as persisted. Scope is empty on legacy rows.
type Record struct {
	ID             uuid.UUID
	ClinicID       string
	Start          time.Time
	End            time.Time
	Status         Status
	Scope          string
	Kind           string
	PractitionerID string
	AppointmentID  *uuid.UUID
}

// Block is the canonical form every consumer works with.
type Block struct {
	ID             uuid.UUID
	ClinicID       string
	Interval       schedule.Interval
	Status         Status
	Scope          Scope
	Kind           string
	PractitionerID string
	AppointmentID  *uuid.UUID
}

// Normalize classifies a stored record once. Legacy rows without a scope are
// clinic-wide when they are admin blocks with no practitioner, otherwise
// practitioner-scoped.
func Normalize(r Record) Block {
	b := Block{
		ID:             r.ID,
		ClinicID:       r.ClinicID,
		Interval:       schedule.Interval{Start: r.Start, End: r.End},
		Status:         r.Status,
		Kind:           r.Kind,
		PractitionerID: strings.TrimSpace(r.PractitionerID),
		AppointmentID:  r.AppointmentID,
	}
	if b.Status == "" {
		b.Status = StatusActive
	}

	switch Scope(strings.ToLower(strings.TrimSpace(r.Scope))) {
	case ScopeClinic:
		b.Scope = ScopeClinic
	case ScopePractitioner:
		b.Scope = ScopePractitioner
	default:
		if r.Kind == KindAdmin && b.PractitionerID == "" {
			b.Scope = ScopeClinic
		} else {
			b.Scope = ScopePractitioner
		}
	}
	return b
}

// AppliesTo reports whether the block constrains the given practitioner. An
// empty practitioner id asks for clinic-wide blocks only.
func (b Block) AppliesTo(practitionerID string) bool {
	if b.Status == StatusCancelled {
		return false
	}
	if b.Scope == ScopeClinic {
		return true
	}
	return practitionerID != "" && b.PractitionerID == practitionerID
}

// Closure is a clinic-wide unavailability such as a holiday.
type Closure struct {
	ID       uuid.UUID
	ClinicID string
	Active   bool
	Interval schedule.Interval
	Reason   string
}

package clinic

import (
	"context"
	"errors"
	"strings"

	"github.com/hackgods/clinic-booking/internal/schedule"
)

var (
	ErrClinicNotFound = errors.New("clinic not found")
)

type Practitioner struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Email  string `json:"email,omitempty"`
	Public bool   `json:"public"`
}

// NotificationSettings controls who hears about new public bookings.
// RecipientPolicy is one of practitionerOnAppointment, clinicInbox or both.
type NotificationSettings struct {
	ClinicName      string
	InboxEmail      string
	RecipientPolicy string
}

// Directory is the read-only view of clinic configuration owned by staff
// tooling outside this service.
type Directory interface {
	ScheduleConfig(ctx context.Context, clinicID string) (schedule.ScheduleConfig, error)
	PublicPractitioners(ctx context.Context, clinicID string) ([]Practitioner, error)
	NotificationSettings(ctx context.Context, clinicID string) (NotificationSettings, error)
}

// FindPractitioner looks up id in an allowlist.
func FindPractitioner(list []Practitioner, id string) (Practitioner, bool) {
	id = strings.TrimSpace(id)
	if id == "" {
		return Practitioner{}, false
	}
	for _, p := range list {
		if p.ID == id {
			return p, true
		}
	}
	return Practitioner{}, false
}

package patient

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusActive   Status = "active"
	StatusArchived Status = "archived"
)

// Snapshot is the patient block captured on a booking request.
type Snapshot struct {
	FirstName       string `json:"firstName" validate:"required,max=100"`
	LastName        string `json:"lastName" validate:"required,max=100"`
	DateOfBirth     string `json:"dateOfBirth" validate:"required,datetime=2006-01-02"`
	Email           string `json:"email" validate:"omitempty,email,max=254"`
	EmailNormalized string `json:"emailNormalized,omitempty" validate:"-"`
	Phone           string `json:"phone" validate:"omitempty,max=32"`
	PhoneNormalized string `json:"phoneNormalized,omitempty" validate:"-"`
	Address         string `json:"address" validate:"max=500"`
	Consent         bool   `json:"consent"`
}

// Normalized trims the free-text fields and fills the normalized contacts.
func (s Snapshot) Normalized(defaultRegion string) Snapshot {
	s.FirstName = strings.TrimSpace(s.FirstName)
	s.LastName = strings.TrimSpace(s.LastName)
	s.DateOfBirth = strings.TrimSpace(s.DateOfBirth)
	s.Email = strings.TrimSpace(s.Email)
	s.Phone = strings.TrimSpace(s.Phone)
	s.Address = strings.TrimSpace(s.Address)
	s.EmailNormalized = NormalizeEmail(s.Email)
	s.PhoneNormalized = NormalizePhone(s.Phone, defaultRegion)
	return s
}

type Patient struct {
	ID              uuid.UUID
	ClinicID        string
	FirstName       string
	LastName        string
	DateOfBirth     string
	Email           string
	EmailNormalized string
	Phone           string
	PhoneNormalized string
	Address         string
	SearchTokens    []string
	Status          Status
	CreatedAt       time.Time
}

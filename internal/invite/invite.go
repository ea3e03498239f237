package invite

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

const tokenBytes = 32

var (
	ErrNotFound      = errors.New("intake invite not found")
	ErrUsed          = errors.New("intake invite already used")
	ErrExpired       = errors.New("intake invite expired")
	ErrAlreadyIssued = errors.New("intake invite already issued for appointment")
)

// Invite is an intake invitation. Only the SHA-256 of the token is stored.
type Invite struct {
	ID            uuid.UUID
	ClinicID      string
	AppointmentID uuid.UUID
	PatientID     *uuid.UUID
	TokenHash     string
	ExpiresAt     time.Time
	UsedAt        *time.Time
	CreatedAt     time.Time
}

// Issued carries the raw token, which is never persisted.
type Issued struct {
	Invite
	Token string
	Link  string
}

type Store interface {
	Insert(ctx context.Context, inv Invite) error
	// Consume marks the invite with tokenHash used at now if it is unused and
	// unexpired. It returns ErrNotFound, ErrUsed or ErrExpired otherwise.
	Consume(ctx context.Context, tokenHash string, now time.Time) (Invite, error)
}

type Issuer struct {
	store   Store
	ttl     time.Duration
	baseURL string
	now     func() time.Time
}

func NewIssuer(store Store, ttl time.Duration, baseURL string) *Issuer {
	return &Issuer{
		store:   store,
		ttl:     ttl,
		baseURL: strings.TrimRight(baseURL, "/"),
		now:     time.Now,
	}
}

// HashToken returns the at-rest form of a raw token.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

func newToken() (string, error) {
	b := make([]byte, tokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate invite token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// Issue creates an invite for an appointment and returns its deep link.
func (i *Issuer) Issue(ctx context.Context, clinicID string, appointmentID uuid.UUID, patientID *uuid.UUID) (*Issued, error) {
	token, err := newToken()
	if err != nil {
		return nil, err
	}
	now := i.now()
	inv := Invite{
		ID:            uuid.New(),
		ClinicID:      clinicID,
		AppointmentID: appointmentID,
		PatientID:     patientID,
		TokenHash:     HashToken(token),
		ExpiresAt:     now.Add(i.ttl),
		CreatedAt:     now,
	}
	if err := i.store.Insert(ctx, inv); err != nil {
		return nil, err
	}
	return &Issued{
		Invite: inv,
		Token:  token,
		Link:   i.baseURL + "/intake/" + token,
	}, nil
}

// Consume redeems a raw token exactly once.
func (i *Issuer) Consume(ctx context.Context, token string) (Invite, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Invite{}, ErrNotFound
	}
	return i.store.Consume(ctx, HashToken(token), i.now())
}

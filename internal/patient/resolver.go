package patient

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

var ErrMissingIdentity = errors.New("patient needs a name and date of birth")

// Store finds candidates by normalized contact. Implementations must match
// both the nested contact record and the legacy flat columns.
type Store interface {
	FindByEmail(ctx context.Context, clinicID, normalizedEmail string) ([]Patient, error)
	FindByPhone(ctx context.Context, clinicID, normalizedPhone string) ([]Patient, error)
	Create(ctx context.Context, p Patient) error
}

type Resolution struct {
	Patient Patient
	Created bool
}

type Resolver struct {
	store         Store
	defaultRegion string
	now           func() time.Time
	log           zerolog.Logger
}

func NewResolver(store Store, defaultRegion string, log zerolog.Logger) *Resolver {
	return &Resolver{
		store:         store,
		defaultRegion: defaultRegion,
		now:           time.Now,
		log:           log,
	}
}

// Resolve returns the clinic's existing patient for the snapshot or creates
// one. A contact match only counts when the stored date of birth is exactly
// the incoming one, so people sharing a phone or inbox stay separate.
func (r *Resolver) Resolve(ctx context.Context, clinicID string, snap Snapshot) (Resolution, error) {
	snap = snap.Normalized(r.defaultRegion)
	if snap.DateOfBirth == "" || (snap.FirstName == "" && snap.LastName == "") {
		return Resolution{}, ErrMissingIdentity
	}

	if snap.EmailNormalized != "" {
		candidates, err := r.store.FindByEmail(ctx, clinicID, snap.EmailNormalized)
		if err != nil {
			return Resolution{}, fmt.Errorf("find patient by email: %w", err)
		}
		if p, ok := matchDOB(candidates, snap.DateOfBirth); ok {
			return Resolution{Patient: p}, nil
		}
	}
	if snap.PhoneNormalized != "" {
		candidates, err := r.store.FindByPhone(ctx, clinicID, snap.PhoneNormalized)
		if err != nil {
			return Resolution{}, fmt.Errorf("find patient by phone: %w", err)
		}
		if p, ok := matchDOB(candidates, snap.DateOfBirth); ok {
			return Resolution{Patient: p}, nil
		}
	}

	p := Patient{
		ID:              uuid.New(),
		ClinicID:        clinicID,
		FirstName:       snap.FirstName,
		LastName:        snap.LastName,
		DateOfBirth:     snap.DateOfBirth,
		Email:           snap.Email,
		EmailNormalized: snap.EmailNormalized,
		Phone:           snap.Phone,
		PhoneNormalized: snap.PhoneNormalized,
		Address:         snap.Address,
		SearchTokens:    SearchTokens(snap.FirstName, snap.LastName, snap.EmailNormalized, snap.PhoneNormalized),
		Status:          StatusActive,
		CreatedAt:       r.now(),
	}
	if err := r.store.Create(ctx, p); err != nil {
		return Resolution{}, fmt.Errorf("create patient: %w", err)
	}
	r.log.Info().Str("clinic_id", clinicID).Str("patient_id", p.ID.String()).Msg("patient created")
	return Resolution{Patient: p, Created: true}, nil
}

func matchDOB(candidates []Patient, dob string) (Patient, bool) {
	for _, c := range candidates {
		if c.DateOfBirth == dob {
			return c, true
		}
	}
	return Patient{}, false
}

package busy

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-booking/internal/schedule"
)

var ErrInvalidBlock = errors.New("invalid busy block")

// Store contains the persistence the loader needs.
type Store interface {
	ListBusy(ctx context.Context, clinicID string, from, to time.Time) ([]Record, error)
	ListClosures(ctx context.Context, clinicID string, from, to time.Time) ([]Closure, error)
	InsertBlock(ctx context.Context, b Block) error
}

type Loader struct {
	store Store
}

func NewLoader(store Store) *Loader {
	return &Loader{store: store}
}

// LoadBusy returns the active busy intervals intersecting [from, to) that
// apply to practitionerID, or only clinic-wide ones when it is empty.
func (l *Loader) LoadBusy(ctx context.Context, clinicID, practitionerID string, from, to time.Time) ([]schedule.Interval, error) {
	records, err := l.store.ListBusy(ctx, clinicID, from, to)
	if err != nil {
		return nil, fmt.Errorf("list busy blocks: %w", err)
	}

	out := make([]schedule.Interval, 0, len(records))
	for _, r := range records {
		b := Normalize(r)
		if !b.AppliesTo(practitionerID) {
			continue
		}
		if !b.Interval.Overlaps(from, to) {
			continue
		}
		out = append(out, b.Interval)
	}
	return out, nil
}

// LoadClosures returns active closures intersecting [from, to).
func (l *Loader) LoadClosures(ctx context.Context, clinicID string, from, to time.Time) ([]schedule.Interval, error) {
	closures, err := l.store.ListClosures(ctx, clinicID, from, to)
	if err != nil {
		return nil, fmt.Errorf("list closures: %w", err)
	}

	out := make([]schedule.Interval, 0, len(closures))
	for _, c := range closures {
		if !c.Active || !c.Interval.Overlaps(from, to) {
			continue
		}
		out = append(out, c.Interval)
	}
	return out, nil
}

// RecordBlock persists a new active block.
func (l *Loader) RecordBlock(ctx context.Context, b Block) (Block, error) {
	if b.ClinicID == "" || !b.Interval.End.After(b.Interval.Start) {
		return Block{}, ErrInvalidBlock
	}
	if b.Scope == ScopePractitioner && b.PractitionerID == "" {
		return Block{}, fmt.Errorf("%w: practitioner scope without practitioner", ErrInvalidBlock)
	}
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	b.Status = StatusActive
	if err := l.store.InsertBlock(ctx, b); err != nil {
		return Block{}, fmt.Errorf("insert busy block: %w", err)
	}
	return b, nil
}

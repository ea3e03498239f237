package busy

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PgStore struct {
	pool *pgxpool.Pool
}

func NewPgStore(pool *pgxpool.Pool) *PgStore {
	return &PgStore{pool: pool}
}

func scanRecord(row pgx.Row) (Record, error) {
	var r Record
	err := row.Scan(
		&r.ID,
		&r.ClinicID,
		&r.Start,
		&r.End,
		&r.Status,
		&r.Scope,
		&r.Kind,
		&r.PractitionerID,
		&r.AppointmentID,
	)
	return r, err
}

func (s *PgStore) ListBusy(ctx context.Context, clinicID string, from, to time.Time) ([]Record, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, clinic_id, starts_at, ends_at, status,
		       COALESCE(scope, ''), COALESCE(kind, ''), COALESCE(practitioner_id, ''),
		       appointment_id
		FROM busy_blocks
		WHERE clinic_id = $1
		  AND starts_at < $3
		  AND ends_at > $2
		ORDER BY starts_at
	`, clinicID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, r)
	}
	return result, rows.Err()
}

func (s *PgStore) ListClosures(ctx context.Context, clinicID string, from, to time.Time) ([]Closure, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, clinic_id, active, starts_at, ends_at, COALESCE(reason, '')
		FROM closures
		WHERE clinic_id = $1
		  AND starts_at < $3
		  AND ends_at > $2
		ORDER BY starts_at
	`, clinicID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Closure
	for rows.Next() {
		var c Closure
		if err := rows.Scan(&c.ID, &c.ClinicID, &c.Active, &c.Interval.Start, &c.Interval.End, &c.Reason); err != nil {
			return nil, err
		}
		result = append(result, c)
	}
	return result, rows.Err()
}

func (s *PgStore) InsertBlock(ctx context.Context, b Block) error {
	var practitioner *string
	if b.PractitionerID != "" {
		practitioner = &b.PractitionerID
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO busy_blocks (id, clinic_id, starts_at, ends_at, status, scope, kind, practitioner_id, appointment_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, now())
	`, b.ID, b.ClinicID, b.Interval.Start, b.Interval.End, b.Status, b.Scope, b.Kind, practitioner, b.AppointmentID)
	if err != nil {
		return fmt.Errorf("insert busy block: %w", err)
	}
	return nil
}

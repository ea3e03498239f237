package invite

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PgStore struct {
	pool *pgxpool.Pool
}

func NewPgStore(pool *pgxpool.Pool) *PgStore {
	return &PgStore{pool: pool}
}

func scanInvite(row pgx.Row) (Invite, error) {
	var inv Invite
	err := row.Scan(
		&inv.ID,
		&inv.ClinicID,
		&inv.AppointmentID,
		&inv.PatientID,
		&inv.TokenHash,
		&inv.ExpiresAt,
		&inv.UsedAt,
		&inv.CreatedAt,
	)
	return inv, err
}

func (s *PgStore) Insert(ctx context.Context, inv Invite) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO intake_invites (id, clinic_id, appointment_id, patient_id, token_hash, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, inv.ID, inv.ClinicID, inv.AppointmentID, inv.PatientID, inv.TokenHash, inv.ExpiresAt, inv.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrAlreadyIssued
		}
		return fmt.Errorf("insert intake invite: %w", err)
	}
	return nil
}

func (s *PgStore) Consume(ctx context.Context, tokenHash string, now time.Time) (Invite, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE intake_invites
		SET used_at = $2
		WHERE token_hash = $1
		  AND used_at IS NULL
		  AND expires_at > $2
		RETURNING id, clinic_id, appointment_id, patient_id, token_hash, expires_at, used_at, created_at
	`, tokenHash, now)
	inv, err := scanInvite(row)
	if err == nil {
		return inv, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return Invite{}, fmt.Errorf("consume intake invite: %w", err)
	}

	// Nothing updated: tell the caller why.
	inv, err = scanInvite(s.pool.QueryRow(ctx, `
		SELECT id, clinic_id, appointment_id, patient_id, token_hash, expires_at, used_at, created_at
		FROM intake_invites
		WHERE token_hash = $1
	`, tokenHash))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Invite{}, ErrNotFound
		}
		return Invite{}, fmt.Errorf("load intake invite: %w", err)
	}
	if inv.UsedAt != nil {
		return Invite{}, ErrUsed
	}
	return Invite{}, ErrExpired
}

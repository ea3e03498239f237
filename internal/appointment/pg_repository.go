package appointment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hackgods/clinic-booking/internal/busy"
)

const (
	// exclusion_violation, raised by appointments_no_overlap
	pgExclusionViolation = "23P01"
	// unique_violation, raised by idx_appointments_booking_request
	pgUniqueViolation = "23505"
)

type PgRepository struct {
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

// Helpers

const selectAppointment = `
	SELECT id, clinic_id, practitioner_id, patient_id, COALESCE(service_id, ''), kind, status,
	       starts_at, ends_at, booking_request_id, intake_invite_id, COALESCE(created_by, ''),
	       override, created_at
	FROM appointments
`

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment

	err := row.Scan(
		&a.ID,
		&a.ClinicID,
		&a.PractitionerID,
		&a.PatientID,
		&a.ServiceID,
		&a.Kind,
		&a.Status,
		&a.Start,
		&a.End,
		&a.BookingRequestID,
		&a.IntakeInviteID,
		&a.CreatedBy,
		&a.Override,
		&a.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}

	return &a, nil
}

func isExclusionViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgExclusionViolation
}

func isBookingRequestViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation &&
		pgErr.ConstraintName == "idx_appointments_booking_request"
}

// Interface methods

func (r *PgRepository) HasOverlap(ctx context.Context, clinicID, practitionerID string, start, end time.Time) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1
			FROM appointments
			WHERE clinic_id = $1
			  AND practitioner_id = $2
			  AND status <> 'cancelled'
			  AND starts_at < $4
			  AND ends_at > $3
		)
	`, clinicID, practitionerID, start, end).Scan(&exists)
	return exists, err
}

func (r *PgRepository) Create(ctx context.Context, a Appointment) (*Appointment, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	created, err := scanAppointment(tx.QueryRow(ctx, `
		INSERT INTO appointments (
			id, clinic_id, practitioner_id, patient_id, service_id, kind, status,
			starts_at, ends_at, booking_request_id, created_by, override, created_at
		)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6, $7, $8, $9, $10, NULLIF($11, ''), $12, $13)
		RETURNING id, clinic_id, practitioner_id, patient_id, COALESCE(service_id, ''), kind, status,
		          starts_at, ends_at, booking_request_id, intake_invite_id, COALESCE(created_by, ''),
		          override, created_at
	`, a.ID, a.ClinicID, a.PractitionerID, a.PatientID, a.ServiceID, a.Kind, a.Status,
		a.Start, a.End, a.BookingRequestID, a.CreatedBy, a.Override, a.CreatedAt))
	if err != nil {
		if isExclusionViolation(err) {
			return nil, ErrConflict
		}
		if isBookingRequestViolation(err) {
			return nil, ErrAlreadyReserved
		}
		return nil, fmt.Errorf("insert appointment: %w", err)
	}

	blockKind := busy.KindAppointment
	if a.Kind == KindBlock {
		blockKind = busy.KindAdmin
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO busy_blocks (id, clinic_id, starts_at, ends_at, status, scope, kind, practitioner_id, appointment_id, created_at)
		VALUES ($1, $2, $3, $4, 'active', 'practitioner', $5, $6, $7, now())
	`, uuid.New(), a.ClinicID, a.Start, a.End, blockKind, a.PractitionerID, a.ID)
	if err != nil {
		return nil, fmt.Errorf("insert practitioner busy block: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		if isExclusionViolation(err) {
			return nil, ErrConflict
		}
		return nil, fmt.Errorf("commit appointment: %w", err)
	}
	return created, nil
}

func (r *PgRepository) GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return scanAppointment(r.pool.QueryRow(ctx, selectAppointment+`WHERE id = $1`, id))
}

func (r *PgRepository) GetByBookingRequest(ctx context.Context, bookingRequestID uuid.UUID) (*Appointment, error) {
	return scanAppointment(r.pool.QueryRow(ctx, selectAppointment+`WHERE booking_request_id = $1`, bookingRequestID))
}

func (r *PgRepository) AttachInvite(ctx context.Context, id, inviteID uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE appointments
		SET intake_invite_id = $2
		WHERE id = $1
	`, id, inviteID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrAppointmentNotFound
	}
	return nil
}

func (r *PgRepository) InsertEvent(ctx context.Context, ev EventLog) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO event_logs (event_type, appointment_id, payload, created_at)
		VALUES ($1, $2, $3, COALESCE($4, now()))
	`, ev.EventType, ev.AppointmentID, ev.Payload, nullableTime(ev.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert event log: %w", err)
	}

	return nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

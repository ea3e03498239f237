package booking

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PgStore struct {
	pool *pgxpool.Pool
}

func NewPgStore(pool *pgxpool.Pool) *PgStore {
	return &PgStore{pool: pool}
}

const selectRequest = `
	SELECT id, clinic_id, COALESCE(practitioner_id, ''), COALESCE(clinician_id, ''),
	       requested_start, requested_end, patient, COALESCE(service_kind, ''),
	       appointment_minutes, caller_uid, caller_anonymous, status, rejection_reason,
	       notification_lock_at, notification_sent_at, appointment_id, patient_id,
	       intake_invite_id, created_at, updated_at
	FROM booking_requests
`

func scanRequest(row pgx.Row) (*Request, error) {
	var (
		s          StoredRequest
		rawPatient []byte
	)
	err := row.Scan(
		&s.ID,
		&s.ClinicID,
		&s.PractitionerID,
		&s.LegacyClinicianID,
		&s.RequestedStart,
		&s.RequestedEnd,
		&rawPatient,
		&s.ServiceKind,
		&s.AppointmentMinutes,
		&s.CallerUID,
		&s.CallerAnonymous,
		&s.Status,
		&s.RejectionReason,
		&s.NotificationLockAt,
		&s.NotificationSentAt,
		&s.AppointmentID,
		&s.PatientID,
		&s.IntakeInviteID,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrRequestNotFound
		}
		return nil, err
	}
	if len(rawPatient) > 0 {
		if err := json.Unmarshal(rawPatient, &s.Patient); err != nil {
			return nil, fmt.Errorf("decode patient snapshot: %w", err)
		}
	}
	r := s.Normalize()
	return &r, nil
}

func (s *PgStore) Create(ctx context.Context, r Request) error {
	rawPatient, err := json.Marshal(r.Patient)
	if err != nil {
		return fmt.Errorf("encode patient snapshot: %w", err)
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx, `
		INSERT INTO booking_requests (
			id, clinic_id, practitioner_id, requested_start, requested_end, patient,
			service_kind, appointment_minutes, caller_uid, caller_anonymous, status,
			created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''), $8, $9, $10, $11, $12, $13)
	`, r.ID, r.ClinicID, r.PractitionerID, r.RequestedStart, r.RequestedEnd, rawPatient,
		r.ServiceKind, r.AppointmentMinutes, r.CallerUID, r.CallerAnonymous, r.Status,
		r.CreatedAt, r.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert booking request: %w", err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO booking_events (id, booking_request_id, attempts, visible_at, created_at)
		VALUES ($1, $2, 0, $3, $3)
	`, uuid.New(), r.ID, r.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert booking event: %w", err)
	}

	return tx.Commit(ctx)
}

func (s *PgStore) Get(ctx context.Context, id uuid.UUID) (*Request, error) {
	return scanRequest(s.pool.QueryRow(ctx, selectRequest+`WHERE id = $1`, id))
}

func (s *PgStore) AcquireNotificationLock(ctx context.Context, id uuid.UUID, now, staleBefore time.Time) (*Request, bool, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, false, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	// read everything the decision needs before writing
	req, err := scanRequest(tx.QueryRow(ctx, selectRequest+`WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return nil, false, err
	}
	if !lockable(req, staleBefore) {
		return req, false, nil
	}

	if _, err := tx.Exec(ctx, `
		UPDATE booking_requests
		SET notification_lock_at = $2,
		    updated_at = $2
		WHERE id = $1
	`, id, now); err != nil {
		return nil, false, fmt.Errorf("set notification lock: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, false, fmt.Errorf("commit notification lock: %w", err)
	}

	req.NotificationLockAt = &now
	return req, true, nil
}

func (s *PgStore) ReleaseNotificationLock(ctx context.Context, id uuid.UUID) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE booking_requests
		SET notification_lock_at = NULL,
		    updated_at = now()
		WHERE id = $1
		  AND status = 'pending'
		  AND notification_sent_at IS NULL
	`, id)
	return err
}

func (s *PgStore) transition(ctx context.Context, query string, args ...any) error {
	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotPending
	}
	return nil
}

func (s *PgStore) Reject(ctx context.Context, id uuid.UUID, reason string, now time.Time) error {
	return s.transition(ctx, `
		UPDATE booking_requests
		SET status = 'rejected',
		    rejection_reason = $2,
		    updated_at = $3
		WHERE id = $1
		  AND status = 'pending'
	`, id, reason, now)
}

func (s *PgStore) Approve(ctx context.Context, id uuid.UUID, a Approval, now time.Time) error {
	return s.transition(ctx, `
		UPDATE booking_requests
		SET status = 'approved',
		    appointment_id = $2,
		    patient_id = $3,
		    practitioner_id = $4,
		    intake_invite_id = $5,
		    updated_at = $6
		WHERE id = $1
		  AND status = 'pending'
	`, id, a.AppointmentID, a.PatientID, a.PractitionerID, a.IntakeInviteID, now)
}

func (s *PgStore) MarkNotificationSent(ctx context.Context, id uuid.UUID, now time.Time) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE booking_requests
		SET notification_sent_at = $2,
		    updated_at = $2
		WHERE id = $1
		  AND notification_sent_at IS NULL
	`, id, now)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("notification already marked sent for %s", id)
	}
	return nil
}

func (s *PgStore) ClaimEvents(ctx context.Context, limit int, now, visibleUntil time.Time) ([]Event, error) {
	rows, err := s.pool.Query(ctx, `
		WITH due AS (
			SELECT id
			FROM booking_events
			WHERE processed_at IS NULL
			  AND parked_at IS NULL
			  AND visible_at <= $1
			ORDER BY visible_at
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)
		UPDATE booking_events e
		SET visible_at = $3,
		    attempts = e.attempts + 1
		FROM due
		WHERE e.id = due.id
		RETURNING e.id, e.booking_request_id, e.attempts
	`, now, limit, visibleUntil)
	if err != nil {
		return nil, fmt.Errorf("claim booking events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var ev Event
		if err := rows.Scan(&ev.ID, &ev.BookingRequestID, &ev.Attempts); err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

func (s *PgStore) AckEvent(ctx context.Context, id uuid.UUID, now time.Time) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE booking_events
		SET processed_at = $2,
		    last_error = NULL
		WHERE id = $1
	`, id, now)
	return err
}

func (s *PgStore) FailEvent(ctx context.Context, id uuid.UUID, errMsg string, retryAt time.Time, maxAttempts int) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE booking_events
		SET last_error = $2,
		    visible_at = $3,
		    parked_at = CASE WHEN attempts >= $4 THEN now() ELSE NULL END
		WHERE id = $1
	`, id, errMsg, retryAt, maxAttempts)
	return err
}

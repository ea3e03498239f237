package clinic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hackgods/clinic-booking/internal/schedule"
)

type PgDirectory struct {
	pool *pgxpool.Pool
}

func NewPgDirectory(pool *pgxpool.Pool) *PgDirectory {
	return &PgDirectory{pool: pool}
}

func (d *PgDirectory) ScheduleConfig(ctx context.Context, clinicID string) (schedule.ScheduleConfig, error) {
	var raw []byte
	err := d.pool.QueryRow(ctx, `
		SELECT config
		FROM clinic_schedules
		WHERE clinic_id = $1
	`, clinicID).Scan(&raw)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return schedule.ScheduleConfig{}, ErrClinicNotFound
		}
		return schedule.ScheduleConfig{}, fmt.Errorf("load schedule config: %w", err)
	}

	var cfg schedule.ScheduleConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return schedule.ScheduleConfig{}, fmt.Errorf("decode schedule config: %w", err)
	}
	cfg.ClinicID = clinicID
	if err := cfg.Validate(); err != nil {
		return schedule.ScheduleConfig{}, fmt.Errorf("schedule config for %s: %w", clinicID, err)
	}
	return cfg, nil
}

func (d *PgDirectory) PublicPractitioners(ctx context.Context, clinicID string) ([]Practitioner, error) {
	rows, err := d.pool.Query(ctx, `
		SELECT id, name, COALESCE(email, ''), public
		FROM practitioners
		WHERE clinic_id = $1
		  AND public = true
		ORDER BY name
	`, clinicID)
	if err != nil {
		return nil, fmt.Errorf("list practitioners: %w", err)
	}
	defer rows.Close()

	var result []Practitioner
	for rows.Next() {
		var p Practitioner
		if err := rows.Scan(&p.ID, &p.Name, &p.Email, &p.Public); err != nil {
			return nil, err
		}
		result = append(result, p)
	}
	return result, rows.Err()
}

func (d *PgDirectory) NotificationSettings(ctx context.Context, clinicID string) (NotificationSettings, error) {
	var s NotificationSettings
	err := d.pool.QueryRow(ctx, `
		SELECT name, COALESCE(inbox_email, ''), COALESCE(recipient_policy, '')
		FROM clinics
		WHERE id = $1
	`, clinicID).Scan(&s.ClinicName, &s.InboxEmail, &s.RecipientPolicy)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return NotificationSettings{}, ErrClinicNotFound
		}
		return NotificationSettings{}, fmt.Errorf("load notification settings: %w", err)
	}
	return s, nil
}

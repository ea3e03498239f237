package patient

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PgStore struct {
	pool *pgxpool.Pool
}

func NewPgStore(pool *pgxpool.Pool) *PgStore {
	return &PgStore{pool: pool}
}

// contact is the nested contact document. Older rows only carry the flat
// email_normalized / phone_normalized columns.
type contact struct {
	Email           string `json:"email,omitempty"`
	EmailNormalized string `json:"emailNormalized,omitempty"`
	Phone           string `json:"phone,omitempty"`
	PhoneNormalized string `json:"phoneNormalized,omitempty"`
}

const selectPatient = `
	SELECT id, clinic_id, first_name, last_name, date_of_birth,
	       COALESCE(contact, '{}'::jsonb),
	       COALESCE(email_normalized, ''), COALESCE(phone_normalized, ''),
	       COALESCE(address, ''), COALESCE(search_tokens, '{}'), status, created_at
	FROM patients
`

func scanPatient(row pgx.Row) (Patient, error) {
	var (
		p         Patient
		rawNested []byte
		flatEmail string
		flatPhone string
	)
	err := row.Scan(
		&p.ID,
		&p.ClinicID,
		&p.FirstName,
		&p.LastName,
		&p.DateOfBirth,
		&rawNested,
		&flatEmail,
		&flatPhone,
		&p.Address,
		&p.SearchTokens,
		&p.Status,
		&p.CreatedAt,
	)
	if err != nil {
		return Patient{}, err
	}

	var c contact
	if len(rawNested) > 0 {
		if err := json.Unmarshal(rawNested, &c); err != nil {
			return Patient{}, fmt.Errorf("decode patient contact: %w", err)
		}
	}
	p.Email = c.Email
	p.Phone = c.Phone
	p.EmailNormalized = c.EmailNormalized
	if p.EmailNormalized == "" {
		p.EmailNormalized = flatEmail
	}
	p.PhoneNormalized = c.PhoneNormalized
	if p.PhoneNormalized == "" {
		p.PhoneNormalized = flatPhone
	}
	return p, nil
}

func (s *PgStore) findBy(ctx context.Context, query string, args ...any) ([]Patient, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Patient
	for rows.Next() {
		p, err := scanPatient(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, p)
	}
	return result, rows.Err()
}

func (s *PgStore) FindByEmail(ctx context.Context, clinicID, normalizedEmail string) ([]Patient, error) {
	return s.findBy(ctx, selectPatient+`
		WHERE clinic_id = $1
		  AND (contact->>'emailNormalized' = $2 OR email_normalized = $2)
		ORDER BY created_at
	`, clinicID, normalizedEmail)
}

func (s *PgStore) FindByPhone(ctx context.Context, clinicID, normalizedPhone string) ([]Patient, error) {
	return s.findBy(ctx, selectPatient+`
		WHERE clinic_id = $1
		  AND (contact->>'phoneNormalized' = $2 OR phone_normalized = $2)
		ORDER BY created_at
	`, clinicID, normalizedPhone)
}

func (s *PgStore) Create(ctx context.Context, p Patient) error {
	nested, err := json.Marshal(contact{
		Email:           p.Email,
		EmailNormalized: p.EmailNormalized,
		Phone:           p.Phone,
		PhoneNormalized: p.PhoneNormalized,
	})
	if err != nil {
		return fmt.Errorf("encode patient contact: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO patients (
			id, clinic_id, first_name, last_name, date_of_birth, contact,
			email_normalized, phone_normalized, address, search_tokens, status, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''), NULLIF($8, ''), $9, $10, $11, $12)
	`, p.ID, p.ClinicID, p.FirstName, p.LastName, p.DateOfBirth, nested,
		p.EmailNormalized, p.PhoneNormalized, p.Address, p.SearchTokens, p.Status, p.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert patient: %w", err)
	}
	return nil
}

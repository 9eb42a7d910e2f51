package clinic

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PgRepository struct {
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

func scanClinic(row pgx.Row) (*Clinic, error) {
	var c Clinic

	err := row.Scan(
		&c.ID,
		&c.Name,
		&c.FacilityName,
		&c.Location,
		&c.MaxPatientsPerDay,
		&c.ContactPhone,
		&c.ContactEmail,
		&c.IsActive,
		&c.CreatedAt,
		&c.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrClinicNotFound
		}
		return nil, err
	}

	return &c, nil
}

func (r *PgRepository) GetByID(ctx context.Context, id uuid.UUID) (*Clinic, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, name, facility_name, location, max_patients_per_day,
		       contact_phone, contact_email, is_active, created_at, updated_at
		FROM clinics
		WHERE id = $1
	`, id)
	return scanClinic(row)
}

func (r *PgRepository) List(ctx context.Context, activeOnly bool, limit, offset int) ([]Clinic, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, name, facility_name, location, max_patients_per_day,
		       contact_phone, contact_email, is_active, created_at, updated_at
		FROM clinics
		WHERE ($1 = false OR is_active = true)
		ORDER BY name
		LIMIT $2 OFFSET $3
	`, activeOnly, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Clinic
	for rows.Next() {
		c, err := scanClinic(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *c)
	}

	return result, rows.Err()
}

func (r *PgRepository) Create(ctx context.Context, c *Clinic) (*Clinic, error) {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	if c.MaxPatientsPerDay <= 0 {
		c.MaxPatientsPerDay = 15
	}

	row := r.pool.QueryRow(ctx, `
		INSERT INTO clinics (id, name, facility_name, location, max_patients_per_day,
		                     contact_phone, contact_email, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now(), now())
		RETURNING id, name, facility_name, location, max_patients_per_day,
		          contact_phone, contact_email, is_active, created_at, updated_at
	`, c.ID, c.Name, c.FacilityName, c.Location, c.MaxPatientsPerDay,
		c.ContactPhone, c.ContactEmail, c.IsActive)

	return scanClinic(row)
}

package referral

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const referralColumns = `id, physician_id, patient_name, patient_id, medical_history,
	lab_results, diagnosis, conditions, referring_hospital, receiving_facility,
	priority, status, referral_token, patient_phone, stk_phone_number,
	patient_email, patient_date_of_birth, patient_national_id, booked_date,
	booked_time, stk_sent_count, completed_at, paid_at, biodata_code,
	created_at, updated_at`

type PgRepository struct {
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

func scanReferral(row pgx.Row) (*Referral, error) {
	var r Referral

	err := row.Scan(
		&r.ID,
		&r.PhysicianID,
		&r.PatientName,
		&r.PatientID,
		&r.MedicalHistory,
		&r.LabResults,
		&r.Diagnosis,
		&r.Conditions,
		&r.ReferringHospital,
		&r.ReceivingFacility,
		&r.Priority,
		&r.Status,
		&r.ReferralToken,
		&r.PatientPhone,
		&r.StkPhoneNumber,
		&r.PatientEmail,
		&r.PatientDateOfBirth,
		&r.PatientNationalID,
		&r.BookedDate,
		&r.BookedTime,
		&r.StkSentCount,
		&r.CompletedAt,
		&r.PaidAt,
		&r.BiodataCode,
		&r.CreatedAt,
		&r.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrReferralNotFound
		}
		return nil, err
	}

	return &r, nil
}

func (r *PgRepository) GetByID(ctx context.Context, id uuid.UUID) (*Referral, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+referralColumns+`
		FROM referrals
		WHERE id = $1
	`, id)
	return scanReferral(row)
}

func (r *PgRepository) GetByToken(ctx context.Context, token string) (*Referral, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+referralColumns+`
		FROM referrals
		WHERE referral_token = $1
	`, token)
	return scanReferral(row)
}

func (r *PgRepository) Create(ctx context.Context, ref *Referral) (*Referral, error) {
	id := uuid.New()

	row := r.pool.QueryRow(ctx, `
		INSERT INTO referrals (id, physician_id, patient_name, patient_id, medical_history,
			lab_results, diagnosis, conditions, referring_hospital, receiving_facility,
			priority, status, stk_sent_count, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, 'pending-admin', 0, now(), now())
		RETURNING `+referralColumns+`
	`, id, ref.PhysicianID, ref.PatientName, ref.PatientID, ref.MedicalHistory,
		ref.LabResults, ref.Diagnosis, ref.Conditions, ref.ReferringHospital,
		ref.ReceivingFacility, ref.Priority)

	return scanReferral(row)
}

func (r *PgRepository) SetToken(ctx context.Context, id uuid.UUID, token string) (*Referral, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE referrals
		SET referral_token = $2,
		    updated_at = now()
		WHERE id = $1
		  AND referral_token IS NULL
		RETURNING `+referralColumns+`
	`, id, token)

	ref, err := scanReferral(row)
	if err != nil {
		// referral_token carries no unique index today, so this mapping only
		// fires if the schema is ever tightened.
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, ErrTokenConflict
		}
		return nil, err
	}

	return ref, nil
}

func (r *PgRepository) FindPendingTokenByPatient(ctx context.Context, patientID string) (*string, error) {
	var token *string
	err := r.pool.QueryRow(ctx, `
		SELECT referral_token
		FROM referrals
		WHERE patient_id = $1
		  AND status = 'pending-admin'
		  AND referral_token IS NOT NULL
		ORDER BY created_at
		LIMIT 1
	`, patientID).Scan(&token)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return token, nil
}

func (r *PgRepository) ApplyPatch(ctx context.Context, id uuid.UUID, p Patch) (*Referral, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE referrals
		SET patient_phone         = COALESCE($2, patient_phone),
		    stk_phone_number      = COALESCE($3, stk_phone_number),
		    patient_email         = COALESCE($4, patient_email),
		    patient_date_of_birth = COALESCE($5, patient_date_of_birth),
		    patient_national_id   = COALESCE($6, patient_national_id),
		    booked_date           = COALESCE($7, booked_date),
		    booked_time           = COALESCE($8, booked_time),
		    status                = COALESCE($9, status),
		    biodata_code          = COALESCE($10, biodata_code),
		    completed_at          = COALESCE($11, completed_at),
		    paid_at               = COALESCE($12, paid_at),
		    updated_at            = now()
		WHERE id = $1
		RETURNING `+referralColumns+`
	`, id, p.PatientPhone, p.StkPhoneNumber, p.PatientEmail, p.PatientDateOfBirth,
		p.PatientNationalID, p.BookedDate, p.BookedTime, p.Status, p.BiodataCode,
		p.CompletedAt, p.PaidAt)

	return scanReferral(row)
}

func (r *PgRepository) UpdateStatus(ctx context.Context, id uuid.UUID, from, to Status) (*Referral, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE referrals
		SET status = $2,
		    updated_at = now()
		WHERE id = $1
		  AND status = $3
		RETURNING `+referralColumns+`
	`, id, to, from)

	return scanReferral(row)
}

func (r *PgRepository) MarkPaid(ctx context.Context, id uuid.UUID) (*Referral, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE referrals
		SET status = 'paid',
		    paid_at = now(),
		    updated_at = now()
		WHERE id = $1
		  AND status = 'pending-payment'
		RETURNING `+referralColumns+`
	`, id)

	return scanReferral(row)
}

func (r *PgRepository) IncrementStkCount(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE referrals
		SET stk_sent_count = stk_sent_count + 1,
		    updated_at = now()
		WHERE id = $1
	`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrReferralNotFound
	}
	return nil
}

func (r *PgRepository) List(ctx context.Context, f ListFilter) ([]Referral, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = 20
	}

	rows, err := r.pool.Query(ctx, `
		SELECT `+referralColumns+`
		FROM referrals
		WHERE ($1::uuid IS NULL OR physician_id = $1)
		  AND ($2 = '' OR status = $2)
		  AND ($3 = '' OR priority = $3)
		ORDER BY created_at DESC
		LIMIT $4 OFFSET $5
	`, nullableUUID(f.PhysicianID), string(f.Status), string(f.Priority), limit, f.Offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Referral
	for rows.Next() {
		ref, err := scanReferral(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *ref)
	}

	return result, rows.Err()
}

func nullableUUID(id uuid.UUID) *uuid.UUID {
	if id == uuid.Nil {
		return nil
	}
	return &id
}

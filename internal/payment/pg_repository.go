package payment

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const paymentColumns = `id, booking_id, referral_id, phone_number, amount, status,
	stk_request_id, mpesa_transaction_id, error_message, transaction_date,
	created_at, updated_at`

type PgRepository struct {
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

func scanPayment(row pgx.Row) (*Payment, error) {
	var p Payment

	err := row.Scan(
		&p.ID,
		&p.BookingID,
		&p.ReferralID,
		&p.PhoneNumber,
		&p.Amount,
		&p.Status,
		&p.StkRequestID,
		&p.MpesaTxnID,
		&p.ErrorMessage,
		&p.TransactionDate,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPaymentNotFound
		}
		return nil, err
	}

	return &p, nil
}

func (r *PgRepository) GetByID(ctx context.Context, id uuid.UUID) (*Payment, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+paymentColumns+`
		FROM payments
		WHERE id = $1
	`, id)
	return scanPayment(row)
}

func (r *PgRepository) GetByStkRequestID(ctx context.Context, stkRequestID string) (*Payment, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+paymentColumns+`
		FROM payments
		WHERE stk_request_id = $1
	`, stkRequestID)
	return scanPayment(row)
}

func (r *PgRepository) Create(ctx context.Context, p *Payment) (*Payment, error) {
	id := uuid.New()

	row := r.pool.QueryRow(ctx, `
		INSERT INTO payments (id, booking_id, referral_id, phone_number, amount, status,
			created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, 'pending', now(), now())
		RETURNING `+paymentColumns+`
	`, id, p.BookingID, p.ReferralID, p.PhoneNumber, p.Amount)

	return scanPayment(row)
}

func (r *PgRepository) FindPendingForOwner(ctx context.Context, bookingID, referralID *uuid.UUID) (*Payment, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+paymentColumns+`
		FROM payments
		WHERE status = 'pending'
		  AND ($1::uuid IS NULL OR booking_id = $1)
		  AND ($2::uuid IS NULL OR referral_id = $2)
		  AND ($1::uuid IS NOT NULL OR $2::uuid IS NOT NULL)
		ORDER BY created_at DESC
		LIMIT 1
	`, bookingID, referralID)
	return scanPayment(row)
}

func (r *PgRepository) SetStkRequestID(ctx context.Context, id uuid.UUID, stkRequestID string) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE payments
		SET stk_request_id = $2,
		    updated_at = now()
		WHERE id = $1
	`, id, stkRequestID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrPaymentNotFound
	}
	return nil
}

// Resolve only touches rows still pending, which makes terminal states
// immutable at the database level regardless of callback ordering.
func (r *PgRepository) Resolve(ctx context.Context, id uuid.UUID, status Status, mpesaTxnID, errorMessage *string, transactionDate *time.Time) (*Payment, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE payments
		SET status               = $2,
		    mpesa_transaction_id = $3,
		    error_message        = $4,
		    transaction_date     = $5,
		    updated_at           = now()
		WHERE id = $1
		  AND status = 'pending'
		RETURNING `+paymentColumns+`
	`, id, status, mpesaTxnID, errorMessage, transactionDate)

	return scanPayment(row)
}

func (r *PgRepository) MarkFailed(ctx context.Context, id uuid.UUID, errorMessage string) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE payments
		SET status = 'failed',
		    error_message = $2,
		    updated_at = now()
		WHERE id = $1
		  AND status = 'pending'
	`, id, errorMessage)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrPaymentNotFound
	}
	return nil
}

func (r *PgRepository) List(ctx context.Context, f ListFilter) ([]Payment, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = 20
	}

	rows, err := r.pool.Query(ctx, `
		SELECT `+paymentColumns+`
		FROM payments
		WHERE ($1 = '' OR status = $1)
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`, string(f.Status), limit, f.Offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *p)
	}

	return result, rows.Err()
}

package booking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const bookingColumns = `id, referral_id, patient_id, patient_phone, stk_phone_number,
	clinic_id, slot_id, booking_date, booking_time, status, payment_status,
	payment_amount, mpesa_transaction_id, stk_sent_count, expires_at, notes,
	created_at, updated_at`

type PgRepository struct {
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

func scanBooking(row pgx.Row) (*Booking, error) {
	var b Booking

	err := row.Scan(
		&b.ID,
		&b.ReferralID,
		&b.PatientID,
		&b.PatientPhone,
		&b.StkPhoneNumber,
		&b.ClinicID,
		&b.SlotID,
		&b.BookingDate,
		&b.BookingTime,
		&b.Status,
		&b.PaymentStatus,
		&b.PaymentAmount,
		&b.MpesaTxnID,
		&b.StkSentCount,
		&b.ExpiresAt,
		&b.Notes,
		&b.CreatedAt,
		&b.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrBookingNotFound
		}
		return nil, err
	}

	return &b, nil
}

func (r *PgRepository) GetByID(ctx context.Context, id uuid.UUID) (*Booking, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+bookingColumns+`
		FROM bookings
		WHERE id = $1
	`, id)
	return scanBooking(row)
}

// CreatePending relies on the partial unique index
// bookings_active_slot_key (clinic_id, booking_date, booking_time)
// WHERE status IN ('pending-payment','confirmed') to reject double bookings
// atomically, regardless of application-level checks.
func (r *PgRepository) CreatePending(ctx context.Context, b *Booking) (*Booking, error) {
	id := uuid.New()

	row := r.pool.QueryRow(ctx, `
		INSERT INTO bookings (id, referral_id, patient_id, patient_phone, stk_phone_number,
			clinic_id, slot_id, booking_date, booking_time, status, payment_status,
			payment_amount, stk_sent_count, expires_at, notes, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, 'pending-payment', 'pending',
			$10, 0, $11, $12, now(), now())
		RETURNING `+bookingColumns+`
	`, id, b.ReferralID, b.PatientID, b.PatientPhone, b.StkPhoneNumber,
		b.ClinicID, b.SlotID, b.BookingDate, b.BookingTime,
		b.PaymentAmount, b.ExpiresAt, b.Notes)

	created, err := scanBooking(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, ErrSlotConflict
		}
		return nil, err
	}

	return created, nil
}

func (r *PgRepository) ListBookedTimes(ctx context.Context, clinicID uuid.UUID, date time.Time) ([]string, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT booking_time
		FROM bookings
		WHERE clinic_id = $1
		  AND booking_date = $2
		  AND status IN ('pending-payment', 'confirmed')
	`, clinicID, date)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var times []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, err
		}
		times = append(times, t)
	}

	return times, rows.Err()
}

func (r *PgRepository) CountConfirmed(ctx context.Context, clinicID uuid.UUID, date time.Time) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx, `
		SELECT count(*)
		FROM bookings
		WHERE clinic_id = $1
		  AND booking_date = $2
		  AND status = 'confirmed'
	`, clinicID, date).Scan(&count)
	return count, err
}

func (r *PgRepository) UpdateStatus(ctx context.Context, id uuid.UUID, from, to Status) (*Booking, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE bookings
		SET status = $2,
		    updated_at = now()
		WHERE id = $1
		  AND status = $3
		RETURNING `+bookingColumns+`
	`, id, to, from)

	return scanBooking(row)
}

func (r *PgRepository) ApplyPatch(ctx context.Context, id uuid.UUID, p Patch) (*Booking, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE bookings
		SET status               = COALESCE($2, status),
		    payment_status       = COALESCE($3, payment_status),
		    mpesa_transaction_id = COALESCE($4, mpesa_transaction_id),
		    notes                = COALESCE($5, notes),
		    updated_at           = now()
		WHERE id = $1
		RETURNING `+bookingColumns+`
	`, id, p.Status, p.PaymentStatus, p.MpesaTxnID, p.Notes)

	return scanBooking(row)
}

func (r *PgRepository) ConfirmPayment(ctx context.Context, id uuid.UUID, mpesaTxnID string) (*Booking, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE bookings
		SET status               = 'confirmed',
		    payment_status       = 'completed',
		    mpesa_transaction_id = $2,
		    updated_at           = now()
		WHERE id = $1
		  AND status = 'pending-payment'
		RETURNING `+bookingColumns+`
	`, id, mpesaTxnID)

	return scanBooking(row)
}

func (r *PgRepository) IncrementStkCount(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE bookings
		SET stk_sent_count = stk_sent_count + 1,
		    updated_at = now()
		WHERE id = $1
	`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrBookingNotFound
	}
	return nil
}

func (r *PgRepository) FindExpiredPending(ctx context.Context, now time.Time) ([]Booking, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+bookingColumns+`
		FROM bookings
		WHERE status = 'pending-payment'
		  AND expires_at < $1
	`, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *b)
	}

	return result, rows.Err()
}

func (r *PgRepository) List(ctx context.Context, f ListFilter) ([]Booking, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = 20
	}

	rows, err := r.pool.Query(ctx, `
		SELECT `+bookingColumns+`
		FROM bookings
		WHERE ($1 = '' OR patient_id = $1)
		  AND ($2::uuid IS NULL OR clinic_id = $2)
		  AND ($3 = '' OR status = $3)
		ORDER BY created_at DESC
		LIMIT $4 OFFSET $5
	`, f.PatientID, nullableUUID(f.ClinicID), string(f.Status), limit, f.Offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *b)
	}

	return result, rows.Err()
}

func (r *PgRepository) InsertEvent(ctx context.Context, ev EventLog) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO booking_events (event_type, booking_id, payload, created_at)
		VALUES ($1, $2, $3, COALESCE($4, now()))
	`, ev.EventType, ev.BookingID, ev.Payload, nullableTime(ev.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert booking event: %w", err)
	}

	return nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func nullableUUID(id uuid.UUID) *uuid.UUID {
	if id == uuid.Nil {
		return nil
	}
	return &id
}

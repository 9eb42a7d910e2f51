package payment

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var ErrPaymentNotFound = errors.New("payment not found")

type ListFilter struct {
	Status Status
	Limit  int
	Offset int
}

type Repository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*Payment, error)
	GetByStkRequestID(ctx context.Context, stkRequestID string) (*Payment, error)

	Create(ctx context.Context, p *Payment) (*Payment, error)

	// FindPendingForOwner returns an unresolved payment for the booking or
	// referral, so a resend reuses the record instead of creating another.
	FindPendingForOwner(ctx context.Context, bookingID, referralID *uuid.UUID) (*Payment, error)

	// SetStkRequestID records the gateway correlation id. This must be
	// persisted before the initiating call returns, because it is the only
	// key the callback can use.
	SetStkRequestID(ctx context.Context, id uuid.UUID, stkRequestID string) error

	// Resolve moves a pending payment to a terminal status. Implementations
	// apply it only while status is still pending; a no-op match means the
	// payment was already resolved and ErrPaymentNotFound is returned.
	Resolve(ctx context.Context, id uuid.UUID, status Status, mpesaTxnID, errorMessage *string, transactionDate *time.Time) (*Payment, error)

	// MarkFailed records a gateway initiation failure so the payment never
	// sits pending forever.
	MarkFailed(ctx context.Context, id uuid.UUID, errorMessage string) error

	List(ctx context.Context, f ListFilter) ([]Payment, error)
}

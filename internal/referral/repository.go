package referral

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

var (
	ErrReferralNotFound = errors.New("referral not found")

	// ErrTokenConflict is returned when a minted token collides with an
	// existing one; the caller retries with a fresh token.
	ErrTokenConflict = errors.New("referral token already in use")
)

type ListFilter struct {
	PhysicianID uuid.UUID
	Status      Status
	Priority    Priority
	Limit       int
	Offset      int
}

type Repository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*Referral, error)
	GetByToken(ctx context.Context, token string) (*Referral, error)

	Create(ctx context.Context, r *Referral) (*Referral, error)

	// SetToken assigns the token only when none is present yet. Tokens are
	// not unique at the schema level because one patient may legitimately
	// share a token across pending referrals; the service checks for
	// collisions before minting.
	SetToken(ctx context.Context, id uuid.UUID, token string) (*Referral, error)

	// FindPendingTokenByPatient returns the token of another pending-admin
	// referral for the same external patient id, if any. Used so one patient
	// does not accumulate multiple tokens while still awaiting admin action.
	FindPendingTokenByPatient(ctx context.Context, patientID string) (*string, error)

	ApplyPatch(ctx context.Context, id uuid.UUID, p Patch) (*Referral, error)

	// UpdateStatus applies a guarded transition; no-op match failure is
	// ErrReferralNotFound.
	UpdateStatus(ctx context.Context, id uuid.UUID, from, to Status) (*Referral, error)

	// MarkPaid is the payment-success cascade: status=paid, paidAt=now. It
	// applies only while the referral is pending-payment; a referral that
	// was cancelled (or otherwise moved on) in the meantime is not touched
	// and ErrReferralNotFound is returned.
	MarkPaid(ctx context.Context, id uuid.UUID) (*Referral, error)

	IncrementStkCount(ctx context.Context, id uuid.UUID) error

	List(ctx context.Context, f ListFilter) ([]Referral, error)
}

package booking

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrBookingNotFound = errors.New("booking not found")

	// ErrSlotConflict is returned by CreatePending when another booking
	// already holds the same (clinic, date, time). The partial unique index
	// makes this atomic even without the slot lock.
	ErrSlotConflict = errors.New("slot already holds an active booking")
)

// ListFilter narrows List results. Zero values mean "no filter".
type ListFilter struct {
	PatientID string
	ClinicID  uuid.UUID
	Status    Status
	Limit     int
	Offset    int
}

// Repository contains all DB interactions needed by the booking service.
type Repository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*Booking, error)

	// CreatePending inserts a pending-payment booking. Implementations must
	// guarantee slot exclusivity: a second active booking for the same
	// (clinic, date, time) fails with ErrSlotConflict.
	CreatePending(ctx context.Context, b *Booking) (*Booking, error)

	// Slot ledger reads
	ListBookedTimes(ctx context.Context, clinicID uuid.UUID, date time.Time) ([]string, error)
	CountConfirmed(ctx context.Context, clinicID uuid.UUID, date time.Time) (int, error)

	// Guarded transitions: the update applies only when the current status
	// matches from, otherwise ErrBookingNotFound.
	UpdateStatus(ctx context.Context, id uuid.UUID, from, to Status) (*Booking, error)

	// ApplyPatch writes the allow-listed fields.
	ApplyPatch(ctx context.Context, id uuid.UUID, p Patch) (*Booking, error)

	// ConfirmPayment marks the booking confirmed with payment completed and
	// carries the gateway receipt onto the record. It applies only while the
	// booking is still pending-payment; a booking the sweeper has already
	// expired stays expired and ErrBookingNotFound is returned.
	ConfirmPayment(ctx context.Context, id uuid.UUID, mpesaTxnID string) (*Booking, error)

	IncrementStkCount(ctx context.Context, id uuid.UUID) error

	// Expiry sweeper
	FindExpiredPending(ctx context.Context, now time.Time) ([]Booking, error)

	List(ctx context.Context, f ListFilter) ([]Booking, error)

	InsertEvent(ctx context.Context, ev EventLog) error
}

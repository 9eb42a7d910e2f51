package booking

import (
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusPendingPayment Status = "pending-payment"
	StatusConfirmed      Status = "confirmed"
	StatusCompleted      Status = "completed"
	StatusCancelled      Status = "cancelled"
	StatusExpired        Status = "expired"
)

type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentCompleted PaymentStatus = "completed"
	PaymentFailed    PaymentStatus = "failed"
)

// DateLayout is the canonical wire format for booking dates.
const DateLayout = "2006-01-02"

// Booking reserves one clinic slot for one patient. It holds the slot while
// status is pending-payment or confirmed; expiry, cancellation and completion
// release it.
type Booking struct {
	ID             uuid.UUID
	ReferralID     *uuid.UUID
	PatientID      string
	PatientPhone   string
	StkPhoneNumber string
	ClinicID       uuid.UUID
	SlotID         string
	BookingDate    time.Time // date-only, midnight UTC
	BookingTime    string    // HH:MM from the canonical slot list
	Status         Status
	PaymentStatus  PaymentStatus
	PaymentAmount  int64 // whole KES
	MpesaTxnID     *string
	StkSentCount   int
	ExpiresAt      time.Time
	Notes          *string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// HoldsSlot reports whether the booking currently occupies its slot.
func (b *Booking) HoldsSlot() bool {
	return b.Status == StatusPendingPayment || b.Status == StatusConfirmed
}

// Patch carries the allow-listed updatable fields. Nil means "leave as is".
// Unknown fields in the inbound request are ignored by the API layer, never
// rejected.
type Patch struct {
	Status        *Status
	PaymentStatus *PaymentStatus
	MpesaTxnID    *string
	Notes         *string
}

// EventLog records a lifecycle transition for audit and debugging.
type EventLog struct {
	ID        int64
	EventType string
	BookingID *uuid.UUID
	Payload   []byte
	CreatedAt time.Time
}

package payment

import (
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Payment tracks one STK push collection attempt. Exactly one of BookingID
// or ReferralID is set. Once status leaves pending the record is immutable;
// duplicate callbacks are answered from it without further writes.
type Payment struct {
	ID              uuid.UUID
	BookingID       *uuid.UUID
	ReferralID      *uuid.UUID
	PhoneNumber     string
	Amount          int64 // whole KES
	Status          Status
	StkRequestID    *string // gateway CheckoutRequestID; callback lookup key
	MpesaTxnID      *string // gateway receipt number
	ErrorMessage    *string
	TransactionDate *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Terminal reports whether the payment has been resolved.
func (p *Payment) Terminal() bool {
	return p.Status != StatusPending
}

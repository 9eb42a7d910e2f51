package notification

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
)

// Notification is a persisted message for a user. Delivery (SMS, email, UI
// inbox) is handled by downstream consumers reading this table.
type Notification struct {
	ID        uuid.UUID
	UserID    string
	Type      string // booking, referral, payment
	Title     string
	Message   string
	Priority  Priority
	Metadata  map[string]string
	CreatedAt time.Time
}

// Sink accepts notifications for persistence and later delivery.
type Sink interface {
	Insert(ctx context.Context, n *Notification) error
}

package clinic

import (
	"time"

	"github.com/google/uuid"
)

// Clinic is a read-mostly capacity and availability reference. Bookings count
// against a clinic's daily patient limit.
type Clinic struct {
	ID                uuid.UUID
	Name              string
	FacilityName      string
	Location          string
	MaxPatientsPerDay int
	ContactPhone      *string
	ContactEmail      *string
	IsActive          bool
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

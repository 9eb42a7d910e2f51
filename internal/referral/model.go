package referral

import (
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusPendingAdmin    Status = "pending-admin"
	StatusAwaitingBiodata Status = "awaiting-biodata"
	StatusPendingPayment  Status = "pending-payment"
	StatusConfirmed       Status = "confirmed"
	StatusPaid            Status = "paid"
	StatusCompleted       Status = "completed"
	StatusCancelled       Status = "cancelled"
)

type Priority string

const (
	PriorityRoutine   Priority = "Routine"
	PriorityUrgent    Priority = "Urgent"
	PriorityEmergency Priority = "Emergency"
)

// Referral is a physician-initiated request to move a patient to a receiving
// facility. It carries the clinical payload from creation and acquires
// biodata, booking details and a human-readable token as the admin processes
// it. Referrals are never deleted.
type Referral struct {
	ID                 uuid.UUID
	PhysicianID        uuid.UUID
	PatientName        string
	PatientID          *string // external patient identifier
	MedicalHistory     string
	LabResults         string
	Diagnosis          string
	Conditions         []string // selected condition codes, at most two
	ReferringHospital  string
	ReceivingFacility  string
	Priority           Priority
	Status             Status
	ReferralToken      *string // minted once, immutable afterwards
	PatientPhone       *string
	StkPhoneNumber     *string
	PatientEmail       *string
	PatientDateOfBirth *time.Time
	PatientNationalID  *string
	BookedDate         *time.Time
	BookedTime         *string
	StkSentCount       int
	CompletedAt        *time.Time
	PaidAt             *time.Time
	BiodataCode        *string
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// Patch carries the allow-listed updatable fields. The referral token is
// deliberately absent: once assigned it never changes.
type Patch struct {
	PatientPhone       *string
	StkPhoneNumber     *string
	PatientEmail       *string
	PatientDateOfBirth *time.Time
	PatientNationalID  *string
	BookedDate         *time.Time
	BookedTime         *string
	Status             *Status
	BiodataCode        *string
	CompletedAt        *time.Time
	PaidAt             *time.Time
}

package clinic

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

var (
	ErrClinicNotFound = errors.New("clinic not found")
	ErrClinicInactive = errors.New("clinic is not active")
)

type Repository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*Clinic, error)
	List(ctx context.Context, activeOnly bool, limit, offset int) ([]Clinic, error)
	Create(ctx context.Context, c *Clinic) (*Clinic, error)
}

// GetActive loads a clinic and rejects inactive ones. Booking and availability
// paths must not operate on clinics that have been switched off.
func GetActive(ctx context.Context, repo Repository, id uuid.UUID) (*Clinic, error) {
	c, err := repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !c.IsActive {
		return nil, ErrClinicInactive
	}
	return c, nil
}

package referral

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

var (
	ErrMissingFields      = errors.New("patient name, medical history, lab results, diagnosis and both facilities are required")
	ErrTooManyConditions  = errors.New("at most two conditions may be selected")
	ErrInvalidPriority    = errors.New("priority must be Routine, Urgent or Emergency")
	ErrInvalidTransition  = errors.New("invalid referral status transition")
	ErrReferralTerminal   = errors.New("referral is already completed or cancelled")
	ErrTokenMintExhausted = errors.New("could not mint a unique referral token")
)

const (
	tokenChars  = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	tokenLength = 6
)

type Service struct {
	repo Repository
	log  zerolog.Logger
}

func NewService(repo Repository, log zerolog.Logger) *Service {
	return &Service{
		repo: repo,
		log:  log.With().Str("component", "referral").Logger(),
	}
}

// CreateInput is the physician-supplied clinical payload.
type CreateInput struct {
	PhysicianID       uuid.UUID
	PatientName       string
	PatientID         *string
	MedicalHistory    string
	LabResults        string
	Diagnosis         string
	Conditions        []string
	ReferringHospital string
	ReceivingFacility string
	Priority          Priority
}

// CreateReferral records a new referral with status pending-admin.
func (s *Service) CreateReferral(ctx context.Context, in CreateInput) (*Referral, error) {
	if in.PatientName == "" || in.MedicalHistory == "" || in.LabResults == "" ||
		in.Diagnosis == "" || in.ReferringHospital == "" || in.ReceivingFacility == "" {
		return nil, ErrMissingFields
	}
	if len(in.Conditions) > 2 {
		return nil, ErrTooManyConditions
	}
	if in.Priority == "" {
		in.Priority = PriorityRoutine
	}
	switch in.Priority {
	case PriorityRoutine, PriorityUrgent, PriorityEmergency:
	default:
		return nil, ErrInvalidPriority
	}

	ref, err := s.repo.Create(ctx, &Referral{
		PhysicianID:       in.PhysicianID,
		PatientName:       in.PatientName,
		PatientID:         in.PatientID,
		MedicalHistory:    in.MedicalHistory,
		LabResults:        in.LabResults,
		Diagnosis:         in.Diagnosis,
		Conditions:        in.Conditions,
		ReferringHospital: in.ReferringHospital,
		ReceivingFacility: in.ReceivingFacility,
		Priority:          in.Priority,
	})
	if err != nil {
		return nil, fmt.Errorf("create referral: %w", err)
	}

	s.log.Info().Str("referral_id", ref.ID.String()).Str("physician_id", in.PhysicianID.String()).Msg("referral created")
	return ref, nil
}

// EnsureToken mints the referral token lazily on first need. If the same
// external patient already holds a token on another pending-admin referral,
// that token is reused instead of minting a second one.
func (s *Service) EnsureToken(ctx context.Context, id uuid.UUID) (*Referral, error) {
	ref, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if ref.ReferralToken != nil {
		return ref, nil
	}

	if ref.PatientID != nil && ref.Status == StatusPendingAdmin {
		existing, err := s.repo.FindPendingTokenByPatient(ctx, *ref.PatientID)
		if err != nil {
			return nil, fmt.Errorf("look up existing patient token: %w", err)
		}
		if existing != nil {
			return s.repo.SetToken(ctx, id, *existing)
		}
	}

	for attempt := 0; attempt < 8; attempt++ {
		token := newToken()

		_, err := s.repo.GetByToken(ctx, token)
		if err == nil {
			continue // taken, try another
		}
		if !errors.Is(err, ErrReferralNotFound) {
			return nil, fmt.Errorf("check token collision: %w", err)
		}

		updated, err := s.repo.SetToken(ctx, id, token)
		if err != nil {
			if errors.Is(err, ErrTokenConflict) {
				continue
			}
			return nil, fmt.Errorf("set referral token: %w", err)
		}
		return updated, nil
	}

	return nil, ErrTokenMintExhausted
}

func newToken() string {
	b := make([]byte, tokenLength)
	for i := range b {
		b[i] = tokenChars[rand.IntN(len(tokenChars))]
	}
	return string(b)
}

// Biodata is the admin-entered patient identification captured before
// payment.
type Biodata struct {
	PatientPhone       string
	StkPhoneNumber     string
	PatientEmail       *string
	PatientDateOfBirth *time.Time
	PatientNationalID  *string
	BookedDate         *time.Time
	BookedTime         *string
	BiodataCode        *string
}

// AddBiodata moves a pending-admin referral to awaiting-biodata, attaching
// the patient's contact and booking details and minting the token.
func (s *Service) AddBiodata(ctx context.Context, id uuid.UUID, bd Biodata) (*Referral, error) {
	if bd.PatientPhone == "" || bd.StkPhoneNumber == "" {
		return nil, ErrMissingFields
	}

	if _, err := s.EnsureToken(ctx, id); err != nil {
		return nil, err
	}

	if _, err := s.repo.UpdateStatus(ctx, id, StatusPendingAdmin, StatusAwaitingBiodata); err != nil {
		if errors.Is(err, ErrReferralNotFound) {
			if _, getErr := s.repo.GetByID(ctx, id); getErr == nil {
				return nil, ErrInvalidTransition
			}
			return nil, ErrReferralNotFound
		}
		return nil, fmt.Errorf("transition to awaiting-biodata: %w", err)
	}

	return s.repo.ApplyPatch(ctx, id, Patch{
		PatientPhone:       &bd.PatientPhone,
		StkPhoneNumber:     &bd.StkPhoneNumber,
		PatientEmail:       bd.PatientEmail,
		PatientDateOfBirth: bd.PatientDateOfBirth,
		PatientNationalID:  bd.PatientNationalID,
		BookedDate:         bd.BookedDate,
		BookedTime:         bd.BookedTime,
		BiodataCode:        bd.BiodataCode,
	})
}

// UpdateReferral applies an allow-listed patch.
func (s *Service) UpdateReferral(ctx context.Context, id uuid.UUID, p Patch) (*Referral, error) {
	return s.repo.ApplyPatch(ctx, id, p)
}

// CompleteReferral marks a paid referral completed once the receiving
// facility has processed the patient.
func (s *Service) CompleteReferral(ctx context.Context, id uuid.UUID) (*Referral, error) {
	ref, err := s.repo.UpdateStatus(ctx, id, StatusPaid, StatusCompleted)
	if err != nil {
		if errors.Is(err, ErrReferralNotFound) {
			if _, getErr := s.repo.GetByID(ctx, id); getErr == nil {
				return nil, ErrInvalidTransition
			}
			return nil, ErrReferralNotFound
		}
		return nil, fmt.Errorf("complete referral: %w", err)
	}

	now := time.Now()
	return s.repo.ApplyPatch(ctx, ref.ID, Patch{CompletedAt: &now})
}

// CancelReferral cancels a referral from any non-terminal state.
func (s *Service) CancelReferral(ctx context.Context, id uuid.UUID) (*Referral, error) {
	ref, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if ref.Status == StatusCompleted || ref.Status == StatusCancelled {
		return nil, ErrReferralTerminal
	}

	cancelled := StatusCancelled
	return s.repo.ApplyPatch(ctx, id, Patch{Status: &cancelled})
}

// GetReferral retrieves a referral by ID.
func (s *Service) GetReferral(ctx context.Context, id uuid.UUID) (*Referral, error) {
	return s.repo.GetByID(ctx, id)
}

// GetByToken retrieves a referral by its public token.
func (s *Service) GetByToken(ctx context.Context, token string) (*Referral, error) {
	return s.repo.GetByToken(ctx, token)
}

// ListReferrals retrieves referrals matching the filter.
func (s *Service) ListReferrals(ctx context.Context, f ListFilter) ([]Referral, error) {
	if f.Limit <= 0 {
		f.Limit = 20
	}
	if f.Limit > 100 {
		f.Limit = 100
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	return s.repo.List(ctx, f)
}

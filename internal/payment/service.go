package payment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/uzimacare/uzimacare-backend/internal/booking"
	"github.com/uzimacare/uzimacare-backend/internal/clinic"
	"github.com/uzimacare/uzimacare-backend/internal/metrics"
	"github.com/uzimacare/uzimacare-backend/internal/mpesa"
	"github.com/uzimacare/uzimacare-backend/internal/referral"
)

var (
	ErrOwnerRequired = errors.New("exactly one of booking id or referral id is required")
	ErrMissingPhone  = errors.New("phone number is required")
	ErrInvalidAmount = errors.New("amount must be positive")
)

// fallbackClinicName appears in confirmation payloads when the clinic cannot
// be dereferenced.
const fallbackClinicName = "UzimaCare"

type Service struct {
	repo      Repository
	bookings  booking.Repository
	referrals referral.Repository
	clinics   clinic.Repository
	gateway   mpesa.Gateway
	log       zerolog.Logger
	metrics   *metrics.Collector
}

func NewService(repo Repository, bookings booking.Repository, referrals referral.Repository, clinics clinic.Repository, gateway mpesa.Gateway, log zerolog.Logger, m *metrics.Collector) *Service {
	return &Service{
		repo:      repo,
		bookings:  bookings,
		referrals: referrals,
		clinics:   clinics,
		gateway:   gateway,
		log:       log.With().Str("component", "payment").Logger(),
		metrics:   m,
	}
}

type InitiateInput struct {
	PhoneNumber string
	Amount      int64
	BookingID   *uuid.UUID
	ReferralID  *uuid.UUID
}

type InitiateResult struct {
	PaymentID         uuid.UUID
	CheckoutRequestID string
	MerchantRequestID string
}

// InitiateStkPush sends (or resends) an STK push for a booking or referral.
// A resend reuses the existing pending Payment record; every gateway call
// gets a fresh CheckoutRequestID, which overwrites the previous one. The
// correlation id is persisted before this function returns success, because
// it is the only key the asynchronous callback can present.
func (s *Service) InitiateStkPush(ctx context.Context, in InitiateInput) (*InitiateResult, error) {
	if in.PhoneNumber == "" {
		return nil, ErrMissingPhone
	}
	if in.Amount <= 0 {
		return nil, ErrInvalidAmount
	}
	if (in.BookingID == nil) == (in.ReferralID == nil) {
		return nil, ErrOwnerRequired
	}

	var accountRef, description string
	if in.BookingID != nil {
		b, err := s.bookings.GetByID(ctx, *in.BookingID)
		if err != nil {
			return nil, err
		}
		accountRef = b.ID.String()
		description = "Payment for booking - UzimaCare"
	} else {
		ref, err := s.referrals.GetByID(ctx, *in.ReferralID)
		if err != nil {
			return nil, err
		}
		accountRef = ref.ID.String()
		description = fmt.Sprintf("Payment for %s - Referral %s", ref.PatientName, ref.ID)
	}

	p, err := s.repo.FindPendingForOwner(ctx, in.BookingID, in.ReferralID)
	if err != nil {
		if !errors.Is(err, ErrPaymentNotFound) {
			return nil, fmt.Errorf("look up pending payment: %w", err)
		}
		p, err = s.repo.Create(ctx, &Payment{
			BookingID:   in.BookingID,
			ReferralID:  in.ReferralID,
			PhoneNumber: in.PhoneNumber,
			Amount:      in.Amount,
		})
		if err != nil {
			return nil, fmt.Errorf("create payment: %w", err)
		}
	}

	resp, err := s.gateway.InitiateStkPush(ctx, mpesa.StkPushRequest{
		PhoneNumber: in.PhoneNumber,
		Amount:      in.Amount,
		AccountRef:  accountRef,
		Description: description,
	})
	if err != nil {
		if s.metrics != nil {
			s.metrics.StkPushTotal.WithLabelValues("gateway_error").Inc()
		}
		if markErr := s.repo.MarkFailed(ctx, p.ID, err.Error()); markErr != nil && !errors.Is(markErr, ErrPaymentNotFound) {
			s.log.Error().Err(markErr).Str("payment_id", p.ID.String()).Msg("failed to mark payment failed")
		}
		return nil, fmt.Errorf("initiate stk push: %w", err)
	}

	if err := s.repo.SetStkRequestID(ctx, p.ID, resp.CheckoutRequestID); err != nil {
		return nil, fmt.Errorf("persist stk request id: %w", err)
	}

	s.recordStkSent(ctx, in.BookingID, in.ReferralID)

	if s.metrics != nil {
		s.metrics.StkPushTotal.WithLabelValues("ok").Inc()
	}
	s.log.Info().
		Str("payment_id", p.ID.String()).
		Str("checkout_request_id", resp.CheckoutRequestID).
		Msg("stk push initiated")

	return &InitiateResult{
		PaymentID:         p.ID,
		CheckoutRequestID: resp.CheckoutRequestID,
		MerchantRequestID: resp.MerchantRequestID,
	}, nil
}

// recordStkSent increments the owner's stk counter and, for referrals, moves
// awaiting-biodata to pending-payment. Both are best effort; the push itself
// already happened.
func (s *Service) recordStkSent(ctx context.Context, bookingID, referralID *uuid.UUID) {
	if bookingID != nil {
		if err := s.bookings.IncrementStkCount(ctx, *bookingID); err != nil {
			s.log.Error().Err(err).Str("booking_id", bookingID.String()).Msg("failed to increment stk count")
		}
		return
	}

	if err := s.referrals.IncrementStkCount(ctx, *referralID); err != nil {
		s.log.Error().Err(err).Str("referral_id", referralID.String()).Msg("failed to increment stk count")
	}
	if _, err := s.referrals.UpdateStatus(ctx, *referralID, referral.StatusAwaitingBiodata, referral.StatusPendingPayment); err != nil &&
		!errors.Is(err, referral.ErrReferralNotFound) {
		s.log.Error().Err(err).Str("referral_id", referralID.String()).Msg("failed to transition referral to pending-payment")
	}
}

// CallbackData is the normalized STK result extracted from the gateway
// webhook body.
type CallbackData struct {
	CheckoutRequestID string
	ResultCode        int
	ResultDesc        string
	ReceiptNumber     *string
	TransactionDate   *time.Time
	PhoneNumber       *string
}

// ReconciliationResult is the denormalized payload the notification layer
// needs to confirm a payment to the patient. It is rebuilt from the linked
// records on every call, including duplicate deliveries.
type ReconciliationResult struct {
	PaymentID        uuid.UUID
	Status           Status
	AlreadyProcessed bool
	PhoneNumber      string
	Amount           int64
	PatientName      string
	ReferralToken    string
	Date             string
	Time             string
	Clinic           string
	Email            string
}

// ProcessCallback applies an asynchronous STK result at most once. A payment
// already in a terminal state is never mutated again; the reconciliation
// payload is still rebuilt so a failed downstream notification can be
// retried safely.
func (s *Service) ProcessCallback(ctx context.Context, cb CallbackData) (*ReconciliationResult, error) {
	p, err := s.repo.GetByStkRequestID(ctx, cb.CheckoutRequestID)
	if err != nil {
		if errors.Is(err, ErrPaymentNotFound) {
			if s.metrics != nil {
				s.metrics.CallbacksTotal.WithLabelValues("unknown").Inc()
			}
			s.log.Warn().Str("checkout_request_id", cb.CheckoutRequestID).Msg("callback for unknown stk request")
		}
		return nil, err
	}

	if p.Terminal() {
		if s.metrics != nil {
			s.metrics.CallbacksTotal.WithLabelValues("duplicate").Inc()
		}
		s.log.Info().
			Str("payment_id", p.ID.String()).
			Str("status", string(p.Status)).
			Msg("duplicate callback for resolved payment")

		res := s.buildResult(ctx, p)
		res.AlreadyProcessed = true
		return res, nil
	}

	status := StatusFailed
	var errMsg *string
	if cb.ResultCode == 0 {
		status = StatusCompleted
	} else {
		errMsg = &cb.ResultDesc
	}

	resolved, err := s.repo.Resolve(ctx, p.ID, status, cb.ReceiptNumber, errMsg, cb.TransactionDate)
	if err != nil {
		if errors.Is(err, ErrPaymentNotFound) {
			// Lost a race with another delivery of the same callback.
			if p, err = s.repo.GetByID(ctx, p.ID); err != nil {
				return nil, err
			}
			if s.metrics != nil {
				s.metrics.CallbacksTotal.WithLabelValues("duplicate").Inc()
			}
			res := s.buildResult(ctx, p)
			res.AlreadyProcessed = true
			return res, nil
		}
		return nil, fmt.Errorf("resolve payment: %w", err)
	}

	if status == StatusCompleted {
		s.cascadeSuccess(ctx, resolved)
	}

	if s.metrics != nil {
		s.metrics.CallbacksTotal.WithLabelValues(string(status)).Inc()
	}
	s.log.Info().
		Str("payment_id", resolved.ID.String()).
		Str("status", string(status)).
		Int("result_code", cb.ResultCode).
		Msg("payment callback processed")

	return s.buildResult(ctx, resolved), nil
}

// cascadeSuccess propagates a completed payment onto the owning booking or
// referral. Failures are logged, not surfaced; the payment itself is
// already settled. The guarded repository updates refuse owners that left
// the payable state in the meantime (expired booking, cancelled referral),
// so a late success never reverts those states; the money is flagged for
// manual reconciliation instead.
func (s *Service) cascadeSuccess(ctx context.Context, p *Payment) {
	if p.ReferralID != nil {
		if _, err := s.referrals.MarkPaid(ctx, *p.ReferralID); err != nil {
			if errors.Is(err, referral.ErrReferralNotFound) {
				s.log.Warn().
					Str("payment_id", p.ID.String()).
					Str("referral_id", p.ReferralID.String()).
					Msg("payment completed but referral no longer pending-payment; needs manual reconciliation")
			} else {
				s.log.Error().Err(err).Str("referral_id", p.ReferralID.String()).Msg("failed to mark referral paid")
			}
		}
	}

	if p.BookingID != nil {
		receipt := ""
		if p.MpesaTxnID != nil {
			receipt = *p.MpesaTxnID
		}
		if _, err := s.bookings.ConfirmPayment(ctx, *p.BookingID, receipt); err != nil {
			if errors.Is(err, booking.ErrBookingNotFound) {
				s.log.Warn().
					Str("payment_id", p.ID.String()).
					Str("booking_id", p.BookingID.String()).
					Msg("payment completed but booking no longer pending-payment; needs manual reconciliation")
			} else {
				s.log.Error().Err(err).Str("booking_id", p.BookingID.String()).Msg("failed to confirm booking payment")
			}
		}
	}
}

// buildResult dereferences the linked referral, booking and clinic at
// reconciliation time rather than caching the data on the payment.
func (s *Service) buildResult(ctx context.Context, p *Payment) *ReconciliationResult {
	res := &ReconciliationResult{
		PaymentID:   p.ID,
		Status:      p.Status,
		PhoneNumber: p.PhoneNumber,
		Amount:      p.Amount,
		PatientName: "Patient",
		Date:        "N/A",
		Time:        "N/A",
		Clinic:      fallbackClinicName,
		Email:       "N/A",
	}

	if p.ReferralID != nil {
		if ref, err := s.referrals.GetByID(ctx, *p.ReferralID); err == nil {
			fillFromReferral(res, ref)
		}
		return res
	}

	if p.BookingID != nil {
		b, err := s.bookings.GetByID(ctx, *p.BookingID)
		if err != nil {
			return res
		}
		res.Date = b.BookingDate.Format(booking.DateLayout)
		res.Time = b.BookingTime

		if cl, err := s.clinics.GetByID(ctx, b.ClinicID); err == nil {
			res.Clinic = cl.Name
		}
		if b.ReferralID != nil {
			if ref, err := s.referrals.GetByID(ctx, *b.ReferralID); err == nil {
				res.PatientName = ref.PatientName
				if ref.ReferralToken != nil {
					res.ReferralToken = *ref.ReferralToken
				}
				if ref.PatientEmail != nil {
					res.Email = *ref.PatientEmail
				}
			}
		}
	}

	return res
}

func fillFromReferral(res *ReconciliationResult, ref *referral.Referral) {
	res.PatientName = ref.PatientName
	if ref.ReferralToken != nil {
		res.ReferralToken = *ref.ReferralToken
	}
	if ref.BookedDate != nil {
		res.Date = ref.BookedDate.Format(booking.DateLayout)
	}
	if ref.BookedTime != nil {
		res.Time = *ref.BookedTime
	}
	if ref.ReceivingFacility != "" {
		res.Clinic = ref.ReceivingFacility
	}
	if ref.PatientEmail != nil {
		res.Email = *ref.PatientEmail
	}
}

// CheckStatus returns the payment, polling the gateway first when it is
// still pending and has an outstanding STK request. Daraja's "still
// processing" code leaves the payment untouched; any other non-zero code is
// terminal failure.
func (s *Service) CheckStatus(ctx context.Context, id uuid.UUID) (*Payment, error) {
	p, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if p.Status != StatusPending || p.StkRequestID == nil {
		return p, nil
	}

	q, err := s.gateway.QueryStkStatus(ctx, *p.StkRequestID)
	if err != nil {
		// Poll failures are soft: the callback or the next poll resolves it.
		s.log.Error().Err(err).Str("payment_id", p.ID.String()).Msg("stk status query failed")
		return p, nil
	}

	switch q.ResultCode {
	case "0":
		resolved, err := s.repo.Resolve(ctx, p.ID, StatusCompleted, nil, nil, nil)
		if err != nil {
			if errors.Is(err, ErrPaymentNotFound) {
				return s.repo.GetByID(ctx, id)
			}
			return nil, fmt.Errorf("resolve polled payment: %w", err)
		}
		s.cascadeSuccess(ctx, resolved)
		return resolved, nil
	case mpesa.StillProcessingCode:
		return p, nil
	default:
		resolved, err := s.repo.Resolve(ctx, p.ID, StatusFailed, nil, &q.ResultDesc, nil)
		if err != nil {
			if errors.Is(err, ErrPaymentNotFound) {
				return s.repo.GetByID(ctx, id)
			}
			return nil, fmt.Errorf("resolve polled payment: %w", err)
		}
		return resolved, nil
	}
}

// GetPayment retrieves a payment by ID.
func (s *Service) GetPayment(ctx context.Context, id uuid.UUID) (*Payment, error) {
	return s.repo.GetByID(ctx, id)
}

// ListPayments retrieves payments matching the filter.
func (s *Service) ListPayments(ctx context.Context, f ListFilter) ([]Payment, error) {
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

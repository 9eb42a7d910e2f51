package booking

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/uzimacare/uzimacare-backend/internal/clinic"
	"github.com/uzimacare/uzimacare-backend/internal/config"
	"github.com/uzimacare/uzimacare-backend/internal/metrics"
	"github.com/uzimacare/uzimacare-backend/internal/notification"
	redisclient "github.com/uzimacare/uzimacare-backend/internal/redis"
)

const (
	EventBookingCreated   = "BOOKING_CREATED"
	EventBookingConfirmed = "BOOKING_CONFIRMED"
	EventBookingExpired   = "BOOKING_EXPIRED"
	EventBookingCancelled = "BOOKING_CANCELLED"
	EventBookingCompleted = "BOOKING_COMPLETED"
)

var (
	ErrSlotTaken         = errors.New("time slot is already booked")
	ErrClinicFull        = errors.New("clinic is fully booked for this date")
	ErrSlotBeingBooked   = errors.New("slot is currently being booked, please retry")
	ErrInvalidSlotTime   = errors.New("booking time is not a bookable slot")
	ErrMissingDate       = errors.New("date is required")
	ErrInvalidDate       = errors.New("date must be formatted YYYY-MM-DD")
	ErrInvalidAmount     = errors.New("payment amount must not be negative")
	ErrMissingPatient    = errors.New("patient id and phone are required")
	ErrInvalidTransition = errors.New("invalid booking status transition")
)

type Service struct {
	repo     Repository
	clinics  clinic.Repository
	locker   redisclient.Locker
	notifier notification.Sink
	cfg      config.Config
	log      zerolog.Logger
	metrics  *metrics.Collector
}

func NewService(repo Repository, clinics clinic.Repository, locker redisclient.Locker, notifier notification.Sink, cfg config.Config, log zerolog.Logger, m *metrics.Collector) *Service {
	return &Service{
		repo:     repo,
		clinics:  clinics,
		locker:   locker,
		notifier: notifier,
		cfg:      cfg,
		log:      log.With().Str("component", "booking").Logger(),
		metrics:  m,
	}
}

// CreateInput carries everything needed to reserve a slot.
type CreateInput struct {
	ClinicID       uuid.UUID
	Date           string // YYYY-MM-DD
	Time           string // HH:MM
	PaymentAmount  int64
	PatientID      string
	PatientPhone   string
	StkPhoneNumber string
	ReferralID     *uuid.UUID
	Notes          *string
}

// CreateBooking reserves a slot for a patient. Checks run in order: clinic
// exists and is active, slot free, daily capacity not exhausted. A Redis lock
// per (clinic, date, time) serialises concurrent attempts for the same slot;
// the partial unique index in the bookings table backstops the race if the
// lock is unavailable.
func (s *Service) CreateBooking(ctx context.Context, in CreateInput) (*Booking, error) {
	date, err := s.validateCreate(in)
	if err != nil {
		return nil, err
	}

	cl, err := clinic.GetActive(ctx, s.clinics, in.ClinicID)
	if err != nil {
		return nil, err
	}

	var created *Booking

	err = s.locker.WithSlotLock(ctx, in.ClinicID, in.Date, in.Time, func(lockCtx context.Context) error {
		bookedTimes, err := s.repo.ListBookedTimes(lockCtx, in.ClinicID, date)
		if err != nil {
			return fmt.Errorf("check booked times: %w", err)
		}
		for _, t := range bookedTimes {
			if t == in.Time {
				return ErrSlotTaken
			}
		}

		confirmed, err := s.repo.CountConfirmed(lockCtx, in.ClinicID, date)
		if err != nil {
			return fmt.Errorf("count confirmed bookings: %w", err)
		}
		if confirmed >= cl.MaxPatientsPerDay {
			return ErrClinicFull
		}

		expiresAt := time.Now().Add(s.cfg.BookingTTL)
		b := &Booking{
			ReferralID:     in.ReferralID,
			PatientID:      in.PatientID,
			PatientPhone:   in.PatientPhone,
			StkPhoneNumber: in.StkPhoneNumber,
			ClinicID:       in.ClinicID,
			SlotID:         fmt.Sprintf("%s/%s/%s", in.ClinicID, in.Date, in.Time),
			BookingDate:    date,
			BookingTime:    in.Time,
			PaymentAmount:  in.PaymentAmount,
			ExpiresAt:      expiresAt,
			Notes:          in.Notes,
		}

		created, err = s.repo.CreatePending(lockCtx, b)
		if err != nil {
			if errors.Is(err, ErrSlotConflict) {
				return ErrSlotTaken
			}
			return fmt.Errorf("create pending booking: %w", err)
		}

		s.logEvent(lockCtx, created.ID, EventBookingCreated, map[string]any{
			"clinic_id":    in.ClinicID.String(),
			"booking_date": in.Date,
			"booking_time": in.Time,
			"expires_at":   expiresAt,
		})

		return nil
	})

	if err != nil {
		s.countCreate(err)
		if errors.Is(err, redisclient.ErrLockNotAcquired) {
			return nil, ErrSlotBeingBooked
		}
		return nil, err
	}

	s.countCreate(nil)
	return created, nil
}

func (s *Service) validateCreate(in CreateInput) (time.Time, error) {
	if in.Date == "" {
		return time.Time{}, ErrMissingDate
	}
	date, err := time.Parse(DateLayout, in.Date)
	if err != nil {
		return time.Time{}, ErrInvalidDate
	}
	if in.PaymentAmount < 0 {
		return time.Time{}, ErrInvalidAmount
	}
	if in.PatientID == "" || in.PatientPhone == "" {
		return time.Time{}, ErrMissingPatient
	}

	for _, t := range s.cfg.SlotTimes {
		if t == in.Time {
			return date, nil
		}
	}
	return time.Time{}, ErrInvalidSlotTime
}

func (s *Service) countCreate(err error) {
	if s.metrics == nil {
		return
	}
	switch {
	case err == nil:
		s.metrics.BookingsCreatedTotal.WithLabelValues("created").Inc()
	case errors.Is(err, ErrSlotTaken), errors.Is(err, redisclient.ErrLockNotAcquired):
		s.metrics.BookingsCreatedTotal.WithLabelValues("slot_taken").Inc()
	case errors.Is(err, ErrClinicFull):
		s.metrics.BookingsCreatedTotal.WithLabelValues("clinic_full").Inc()
	default:
		s.metrics.BookingsCreatedTotal.WithLabelValues("error").Inc()
	}
}

// Availability is the slot ledger view for one clinic and date.
type Availability struct {
	AvailableSlots    []string
	TotalSlots        int
	BookedSlots       int
	MaxCapacity       int
	RemainingCapacity int
	IsFull            bool
}

// GetAvailability filters the canonical slot list by booked times, then
// truncates to the remaining daily capacity. Pure read, first-come ordering
// over the canonical list.
func (s *Service) GetAvailability(ctx context.Context, clinicID uuid.UUID, dateStr string) (*Availability, error) {
	if dateStr == "" {
		return nil, ErrMissingDate
	}
	date, err := time.Parse(DateLayout, dateStr)
	if err != nil {
		return nil, ErrInvalidDate
	}

	cl, err := clinic.GetActive(ctx, s.clinics, clinicID)
	if err != nil {
		return nil, err
	}

	bookedTimes, err := s.repo.ListBookedTimes(ctx, clinicID, date)
	if err != nil {
		return nil, fmt.Errorf("list booked times: %w", err)
	}
	booked := make(map[string]bool, len(bookedTimes))
	for _, t := range bookedTimes {
		booked[t] = true
	}

	confirmed, err := s.repo.CountConfirmed(ctx, clinicID, date)
	if err != nil {
		return nil, fmt.Errorf("count confirmed bookings: %w", err)
	}

	remaining := cl.MaxPatientsPerDay - confirmed
	if remaining < 0 {
		remaining = 0
	}

	available := make([]string, 0, len(s.cfg.SlotTimes))
	for _, t := range s.cfg.SlotTimes {
		if !booked[t] {
			available = append(available, t)
		}
	}
	if len(available) > remaining {
		available = available[:remaining]
	}

	return &Availability{
		AvailableSlots:    available,
		TotalSlots:        len(s.cfg.SlotTimes),
		BookedSlots:       len(bookedTimes),
		MaxCapacity:       cl.MaxPatientsPerDay,
		RemainingCapacity: remaining,
		IsFull:            remaining == 0,
	}, nil
}

// GetBooking retrieves a booking by ID.
func (s *Service) GetBooking(ctx context.Context, id uuid.UUID) (*Booking, error) {
	return s.repo.GetByID(ctx, id)
}

// ListBookings retrieves bookings matching the filter.
func (s *Service) ListBookings(ctx context.Context, f ListFilter) ([]Booking, error) {
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

// UpdateBooking applies an allow-listed patch.
func (s *Service) UpdateBooking(ctx context.Context, id uuid.UUID, p Patch) (*Booking, error) {
	return s.repo.ApplyPatch(ctx, id, p)
}

// CancelBooking moves a pending-payment booking to cancelled, releasing the
// slot.
func (s *Service) CancelBooking(ctx context.Context, id uuid.UUID) (*Booking, error) {
	b, err := s.repo.UpdateStatus(ctx, id, StatusPendingPayment, StatusCancelled)
	if err != nil {
		if errors.Is(err, ErrBookingNotFound) {
			// Either the booking does not exist or it already left
			// pending-payment.
			if _, getErr := s.repo.GetByID(ctx, id); getErr == nil {
				return nil, ErrInvalidTransition
			}
			return nil, ErrBookingNotFound
		}
		return nil, fmt.Errorf("cancel booking: %w", err)
	}

	s.logEvent(ctx, b.ID, EventBookingCancelled, map[string]any{})
	return b, nil
}

// CompleteBooking marks a confirmed booking completed after the clinic visit.
func (s *Service) CompleteBooking(ctx context.Context, id uuid.UUID) (*Booking, error) {
	b, err := s.repo.UpdateStatus(ctx, id, StatusConfirmed, StatusCompleted)
	if err != nil {
		if errors.Is(err, ErrBookingNotFound) {
			if _, getErr := s.repo.GetByID(ctx, id); getErr == nil {
				return nil, ErrInvalidTransition
			}
			return nil, ErrBookingNotFound
		}
		return nil, fmt.Errorf("complete booking: %w", err)
	}

	s.logEvent(ctx, b.ID, EventBookingCompleted, map[string]any{})
	return b, nil
}

// ExpirePendingBookings is called by the sweeper periodically. A failure on
// one booking does not abort the rest; each expired booking gets one high
// priority notification to its patient. Once a booking leaves
// pending-payment it is never selected again, which makes the sweep
// idempotent.
func (s *Service) ExpirePendingBookings(ctx context.Context) (int, error) {
	now := time.Now()
	candidates, err := s.repo.FindExpiredPending(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("find expired pending bookings: %w", err)
	}

	expired := 0
	for _, b := range candidates {
		updated, err := s.repo.UpdateStatus(ctx, b.ID, StatusPendingPayment, StatusExpired)
		if err != nil {
			if errors.Is(err, ErrBookingNotFound) {
				// Resolved concurrently (paid or cancelled); skip.
				continue
			}
			s.log.Error().Err(err).Str("booking_id", b.ID.String()).Msg("failed to expire booking")
			continue
		}

		expired++
		if s.metrics != nil {
			s.metrics.BookingsExpiredTotal.Inc()
		}

		s.logEvent(ctx, updated.ID, EventBookingExpired, map[string]any{
			"reason": "sweeper",
		})

		n := &notification.Notification{
			UserID:   updated.PatientID,
			Type:     "booking",
			Title:    "Booking Expired",
			Message:  fmt.Sprintf("Your booking for %s at %s has expired due to non-payment.", updated.BookingDate.Format(DateLayout), updated.BookingTime),
			Priority: notification.PriorityHigh,
			Metadata: map[string]string{
				"bookingId": updated.ID.String(),
			},
		}
		if err := s.notifier.Insert(ctx, n); err != nil {
			s.log.Error().Err(err).Str("booking_id", updated.ID.String()).Msg("failed to create expiry notification")
			continue
		}
		if s.metrics != nil {
			s.metrics.NotificationsTotal.Inc()
		}

		s.log.Info().Str("booking_id", updated.ID.String()).Msg("booking expired and notification sent")
	}

	return expired, nil
}

func (s *Service) logEvent(ctx context.Context, bookingID uuid.UUID, eventType string, payload map[string]any) {
	data, err := json.Marshal(payload)
	if err != nil {
		s.log.Error().Err(err).Str("event_type", eventType).Msg("failed to marshal event payload")
		data = nil
	}

	id := bookingID
	ev := EventLog{
		EventType: eventType,
		BookingID: &id,
		Payload:   data,
		CreatedAt: time.Now(),
	}

	if err := s.repo.InsertEvent(ctx, ev); err != nil {
		s.log.Error().Err(err).Str("event_type", eventType).Str("booking_id", bookingID.String()).Msg("failed to insert event log")
	}
}

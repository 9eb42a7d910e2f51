package payment

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/uzimacare/uzimacare-backend/internal/booking"
	"github.com/uzimacare/uzimacare-backend/internal/clinic"
	"github.com/uzimacare/uzimacare-backend/internal/mpesa"
	"github.com/uzimacare/uzimacare-backend/internal/referral"
)

type fakePaymentRepo struct {
	mu       sync.Mutex
	payments map[uuid.UUID]*Payment
}

func newFakePaymentRepo() *fakePaymentRepo {
	return &fakePaymentRepo{payments: make(map[uuid.UUID]*Payment)}
}

func (r *fakePaymentRepo) GetByID(_ context.Context, id uuid.UUID) (*Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.payments[id]
	if !ok {
		return nil, ErrPaymentNotFound
	}
	cp := *p
	return &cp, nil
}

func (r *fakePaymentRepo) GetByStkRequestID(_ context.Context, stkRequestID string) (*Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.payments {
		if p.StkRequestID != nil && *p.StkRequestID == stkRequestID {
			cp := *p
			return &cp, nil
		}
	}
	return nil, ErrPaymentNotFound
}

func (r *fakePaymentRepo) Create(_ context.Context, p *Payment) (*Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *p
	cp.ID = uuid.New()
	cp.Status = StatusPending
	cp.CreatedAt = time.Now()
	r.payments[cp.ID] = &cp
	out := cp
	return &out, nil
}

func (r *fakePaymentRepo) FindPendingForOwner(_ context.Context, bookingID, referralID *uuid.UUID) (*Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.payments {
		if p.Status != StatusPending {
			continue
		}
		if bookingID != nil && p.BookingID != nil && *p.BookingID == *bookingID {
			cp := *p
			return &cp, nil
		}
		if referralID != nil && p.ReferralID != nil && *p.ReferralID == *referralID {
			cp := *p
			return &cp, nil
		}
	}
	return nil, ErrPaymentNotFound
}

func (r *fakePaymentRepo) SetStkRequestID(_ context.Context, id uuid.UUID, stkRequestID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.payments[id]
	if !ok {
		return ErrPaymentNotFound
	}
	p.StkRequestID = &stkRequestID
	return nil
}

func (r *fakePaymentRepo) Resolve(_ context.Context, id uuid.UUID, status Status, mpesaTxnID, errorMessage *string, transactionDate *time.Time) (*Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.payments[id]
	if !ok || p.Status != StatusPending {
		return nil, ErrPaymentNotFound
	}
	p.Status = status
	p.MpesaTxnID = mpesaTxnID
	p.ErrorMessage = errorMessage
	p.TransactionDate = transactionDate
	cp := *p
	return &cp, nil
}

func (r *fakePaymentRepo) MarkFailed(_ context.Context, id uuid.UUID, errorMessage string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.payments[id]
	if !ok || p.Status != StatusPending {
		return ErrPaymentNotFound
	}
	p.Status = StatusFailed
	p.ErrorMessage = &errorMessage
	return nil
}

func (r *fakePaymentRepo) List(_ context.Context, f ListFilter) ([]Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Payment
	for _, p := range r.payments {
		if f.Status != "" && p.Status != f.Status {
			continue
		}
		out = append(out, *p)
	}
	return out, nil
}

// fakeBookings implements just enough of booking.Repository for the payment
// paths.
type fakeBookings struct {
	mu       sync.Mutex
	bookings map[uuid.UUID]*booking.Booking
	confirms int
}

func newFakeBookings() *fakeBookings {
	return &fakeBookings{bookings: make(map[uuid.UUID]*booking.Booking)}
}

func (f *fakeBookings) GetByID(_ context.Context, id uuid.UUID) (*booking.Booking, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.bookings[id]
	if !ok {
		return nil, booking.ErrBookingNotFound
	}
	cp := *b
	return &cp, nil
}

func (f *fakeBookings) CreatePending(_ context.Context, b *booking.Booking) (*booking.Booking, error) {
	return nil, errors.New("not used")
}

func (f *fakeBookings) ListBookedTimes(_ context.Context, _ uuid.UUID, _ time.Time) ([]string, error) {
	return nil, nil
}

func (f *fakeBookings) CountConfirmed(_ context.Context, _ uuid.UUID, _ time.Time) (int, error) {
	return 0, nil
}

func (f *fakeBookings) UpdateStatus(_ context.Context, id uuid.UUID, from, to booking.Status) (*booking.Booking, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.bookings[id]
	if !ok || b.Status != from {
		return nil, booking.ErrBookingNotFound
	}
	b.Status = to
	cp := *b
	return &cp, nil
}

func (f *fakeBookings) ApplyPatch(_ context.Context, id uuid.UUID, _ booking.Patch) (*booking.Booking, error) {
	return f.GetByID(context.Background(), id)
}

func (f *fakeBookings) ConfirmPayment(_ context.Context, id uuid.UUID, mpesaTxnID string) (*booking.Booking, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.bookings[id]
	if !ok || b.Status != booking.StatusPendingPayment {
		return nil, booking.ErrBookingNotFound
	}
	b.Status = booking.StatusConfirmed
	b.PaymentStatus = booking.PaymentCompleted
	b.MpesaTxnID = &mpesaTxnID
	f.confirms++
	cp := *b
	return &cp, nil
}

func (f *fakeBookings) IncrementStkCount(_ context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.bookings[id]
	if !ok {
		return booking.ErrBookingNotFound
	}
	b.StkSentCount++
	return nil
}

func (f *fakeBookings) FindExpiredPending(_ context.Context, _ time.Time) ([]booking.Booking, error) {
	return nil, nil
}

func (f *fakeBookings) List(_ context.Context, _ booking.ListFilter) ([]booking.Booking, error) {
	return nil, nil
}

func (f *fakeBookings) InsertEvent(_ context.Context, _ booking.EventLog) error { return nil }

type fakeReferrals struct {
	mu        sync.Mutex
	referrals map[uuid.UUID]*referral.Referral
}

func newFakeReferrals() *fakeReferrals {
	return &fakeReferrals{referrals: make(map[uuid.UUID]*referral.Referral)}
}

func (f *fakeReferrals) GetByID(_ context.Context, id uuid.UUID) (*referral.Referral, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ref, ok := f.referrals[id]
	if !ok {
		return nil, referral.ErrReferralNotFound
	}
	cp := *ref
	return &cp, nil
}

func (f *fakeReferrals) GetByToken(_ context.Context, _ string) (*referral.Referral, error) {
	return nil, referral.ErrReferralNotFound
}

func (f *fakeReferrals) Create(_ context.Context, _ *referral.Referral) (*referral.Referral, error) {
	return nil, errors.New("not used")
}

func (f *fakeReferrals) SetToken(_ context.Context, _ uuid.UUID, _ string) (*referral.Referral, error) {
	return nil, errors.New("not used")
}

func (f *fakeReferrals) FindPendingTokenByPatient(_ context.Context, _ string) (*string, error) {
	return nil, nil
}

func (f *fakeReferrals) ApplyPatch(_ context.Context, id uuid.UUID, _ referral.Patch) (*referral.Referral, error) {
	return f.GetByID(context.Background(), id)
}

func (f *fakeReferrals) UpdateStatus(_ context.Context, id uuid.UUID, from, to referral.Status) (*referral.Referral, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ref, ok := f.referrals[id]
	if !ok || ref.Status != from {
		return nil, referral.ErrReferralNotFound
	}
	ref.Status = to
	cp := *ref
	return &cp, nil
}

func (f *fakeReferrals) MarkPaid(_ context.Context, id uuid.UUID) (*referral.Referral, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ref, ok := f.referrals[id]
	if !ok || ref.Status != referral.StatusPendingPayment {
		return nil, referral.ErrReferralNotFound
	}
	now := time.Now()
	ref.Status = referral.StatusPaid
	ref.PaidAt = &now
	cp := *ref
	return &cp, nil
}

func (f *fakeReferrals) IncrementStkCount(_ context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	ref, ok := f.referrals[id]
	if !ok {
		return referral.ErrReferralNotFound
	}
	ref.StkSentCount++
	return nil
}

func (f *fakeReferrals) List(_ context.Context, _ referral.ListFilter) ([]referral.Referral, error) {
	return nil, nil
}

type fakeClinics struct {
	clinics map[uuid.UUID]*clinic.Clinic
}

func (f *fakeClinics) GetByID(_ context.Context, id uuid.UUID) (*clinic.Clinic, error) {
	c, ok := f.clinics[id]
	if !ok {
		return nil, clinic.ErrClinicNotFound
	}
	return c, nil
}

func (f *fakeClinics) List(_ context.Context, _ bool, _, _ int) ([]clinic.Clinic, error) {
	return nil, nil
}

func (f *fakeClinics) Create(_ context.Context, c *clinic.Clinic) (*clinic.Clinic, error) {
	return c, nil
}

type fakeGateway struct {
	mu         sync.Mutex
	pushes     int
	pushErr    error
	queryCode  string
	queryErr   error
	lastPush   mpesa.StkPushRequest
	checkoutID string
}

func (g *fakeGateway) InitiateStkPush(_ context.Context, req mpesa.StkPushRequest) (*mpesa.StkPushResponse, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.pushErr != nil {
		return nil, g.pushErr
	}
	g.pushes++
	g.lastPush = req
	g.checkoutID = fmt.Sprintf("ws_CO_%d", g.pushes)
	return &mpesa.StkPushResponse{
		CheckoutRequestID: g.checkoutID,
		MerchantRequestID: fmt.Sprintf("mr_%d", g.pushes),
	}, nil
}

func (g *fakeGateway) QueryStkStatus(_ context.Context, _ string) (*mpesa.StkQueryResponse, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.queryErr != nil {
		return nil, g.queryErr
	}
	return &mpesa.StkQueryResponse{ResultCode: g.queryCode, ResultDesc: "desc"}, nil
}

type paymentFixture struct {
	svc       *Service
	repo      *fakePaymentRepo
	bookings  *fakeBookings
	referrals *fakeReferrals
	gateway   *fakeGateway
	clinicID  uuid.UUID
}

func newFixture(t *testing.T) *paymentFixture {
	t.Helper()

	clinicID := uuid.New()
	clinics := &fakeClinics{clinics: map[uuid.UUID]*clinic.Clinic{
		clinicID: {ID: clinicID, Name: "Kasarani Clinic", IsActive: true},
	}}

	f := &paymentFixture{
		repo:      newFakePaymentRepo(),
		bookings:  newFakeBookings(),
		referrals: newFakeReferrals(),
		gateway:   &fakeGateway{},
		clinicID:  clinicID,
	}
	f.svc = NewService(f.repo, f.bookings, f.referrals, clinics, f.gateway, zerolog.Nop(), nil)
	return f
}

func (f *paymentFixture) addBooking(t *testing.T) *booking.Booking {
	t.Helper()
	b := &booking.Booking{
		ID:          uuid.New(),
		PatientID:   "PT-000123",
		ClinicID:    f.clinicID,
		BookingDate: time.Date(2026, 9, 15, 0, 0, 0, 0, time.UTC),
		BookingTime: "09:00",
		Status:      booking.StatusPendingPayment,
	}
	f.bookings.bookings[b.ID] = b
	return b
}

func (f *paymentFixture) addReferral(t *testing.T, status referral.Status) *referral.Referral {
	t.Helper()
	token := "AB12CD"
	email := "wanjiku@example.com"
	bookedTime := "09:30"
	bookedDate := time.Date(2026, 9, 16, 0, 0, 0, 0, time.UTC)
	ref := &referral.Referral{
		ID:                uuid.New(),
		PatientName:       "Wanjiku Kamau",
		ReceivingFacility: "Kenyatta National Hospital",
		Status:            status,
		ReferralToken:     &token,
		PatientEmail:      &email,
		BookedDate:        &bookedDate,
		BookedTime:        &bookedTime,
	}
	f.referrals.referrals[ref.ID] = ref
	return ref
}

func TestInitiateStkPushValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := uuid.New()

	cases := []struct {
		name    string
		in      InitiateInput
		wantErr error
	}{
		{"no phone", InitiateInput{Amount: 500, BookingID: &id}, ErrMissingPhone},
		{"zero amount", InitiateInput{PhoneNumber: "254712345678", BookingID: &id}, ErrInvalidAmount},
		{"no owner", InitiateInput{PhoneNumber: "254712345678", Amount: 500}, ErrOwnerRequired},
		{"both owners", InitiateInput{PhoneNumber: "254712345678", Amount: 500, BookingID: &id, ReferralID: &id}, ErrOwnerRequired},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := f.svc.InitiateStkPush(ctx, tc.in); !errors.Is(err, tc.wantErr) {
				t.Errorf("err = %v, want %v", err, tc.wantErr)
			}
		})
	}
}

func TestInitiateStkPushForBooking(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	b := f.addBooking(t)

	res, err := f.svc.InitiateStkPush(ctx, InitiateInput{
		PhoneNumber: "254712345678",
		Amount:      500,
		BookingID:   &b.ID,
	})
	if err != nil {
		t.Fatalf("InitiateStkPush: %v", err)
	}
	if res.CheckoutRequestID == "" {
		t.Fatal("no checkout request id returned")
	}

	p, err := f.repo.GetByID(ctx, res.PaymentID)
	if err != nil {
		t.Fatalf("payment lookup: %v", err)
	}
	if p.Status != StatusPending {
		t.Errorf("status = %s, want pending", p.Status)
	}
	if p.StkRequestID == nil || *p.StkRequestID != res.CheckoutRequestID {
		t.Errorf("stored stk request id = %v, want %s", p.StkRequestID, res.CheckoutRequestID)
	}

	got, _ := f.bookings.GetByID(ctx, b.ID)
	if got.StkSentCount != 1 {
		t.Errorf("booking stk count = %d, want 1", got.StkSentCount)
	}
}

// A resend reuses the pending payment record but carries the fresh checkout
// id.
func TestInitiateStkPushResend(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	b := f.addBooking(t)

	in := InitiateInput{PhoneNumber: "254712345678", Amount: 500, BookingID: &b.ID}

	first, err := f.svc.InitiateStkPush(ctx, in)
	if err != nil {
		t.Fatalf("first push: %v", err)
	}
	second, err := f.svc.InitiateStkPush(ctx, in)
	if err != nil {
		t.Fatalf("second push: %v", err)
	}

	if first.PaymentID != second.PaymentID {
		t.Errorf("resend created a second payment record")
	}
	if first.CheckoutRequestID == second.CheckoutRequestID {
		t.Errorf("resend reused the checkout request id")
	}

	p, _ := f.repo.GetByID(ctx, second.PaymentID)
	if *p.StkRequestID != second.CheckoutRequestID {
		t.Errorf("stored id = %s, want latest %s", *p.StkRequestID, second.CheckoutRequestID)
	}

	got, _ := f.bookings.GetByID(ctx, b.ID)
	if got.StkSentCount != 2 {
		t.Errorf("booking stk count = %d, want 2", got.StkSentCount)
	}
}

func TestInitiateStkPushGatewayFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	b := f.addBooking(t)

	f.gateway.pushErr = &mpesa.GatewayError{Code: "500.001.1001", Description: "unable to lock subscriber"}

	_, err := f.svc.InitiateStkPush(ctx, InitiateInput{
		PhoneNumber: "254712345678",
		Amount:      500,
		BookingID:   &b.ID,
	})
	var gwErr *mpesa.GatewayError
	if !errors.As(err, &gwErr) {
		t.Fatalf("err = %v, want GatewayError", err)
	}

	payments, _ := f.repo.List(ctx, ListFilter{})
	if len(payments) != 1 {
		t.Fatalf("payments = %d, want 1", len(payments))
	}
	if payments[0].Status != StatusFailed {
		t.Errorf("status = %s, want failed after gateway error", payments[0].Status)
	}
}

func TestInitiateStkPushReferralTransition(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ref := f.addReferral(t, referral.StatusAwaitingBiodata)

	if _, err := f.svc.InitiateStkPush(ctx, InitiateInput{
		PhoneNumber: "254712345678",
		Amount:      1500,
		ReferralID:  &ref.ID,
	}); err != nil {
		t.Fatalf("InitiateStkPush: %v", err)
	}

	got, _ := f.referrals.GetByID(ctx, ref.ID)
	if got.Status != referral.StatusPendingPayment {
		t.Errorf("referral status = %s, want pending-payment", got.Status)
	}
	if got.StkSentCount != 1 {
		t.Errorf("referral stk count = %d, want 1", got.StkSentCount)
	}
}

func initiated(t *testing.T, f *paymentFixture, in InitiateInput) *InitiateResult {
	t.Helper()
	res, err := f.svc.InitiateStkPush(context.Background(), in)
	if err != nil {
		t.Fatalf("InitiateStkPush: %v", err)
	}
	return res
}

func TestProcessCallbackSuccess(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	b := f.addBooking(t)
	res := initiated(t, f, InitiateInput{PhoneNumber: "254712345678", Amount: 500, BookingID: &b.ID})

	receipt := "SGH12XYZ"
	out, err := f.svc.ProcessCallback(ctx, CallbackData{
		CheckoutRequestID: res.CheckoutRequestID,
		ResultCode:        0,
		ResultDesc:        "The service request is processed successfully.",
		ReceiptNumber:     &receipt,
	})
	if err != nil {
		t.Fatalf("ProcessCallback: %v", err)
	}

	if out.AlreadyProcessed {
		t.Error("first delivery flagged as already processed")
	}
	if out.Status != StatusCompleted {
		t.Errorf("status = %s, want completed", out.Status)
	}
	if out.Clinic != "Kasarani Clinic" {
		t.Errorf("clinic = %q, want Kasarani Clinic", out.Clinic)
	}
	if out.Date != "2026-09-15" || out.Time != "09:00" {
		t.Errorf("slot = %s %s, want 2026-09-15 09:00", out.Date, out.Time)
	}

	got, _ := f.bookings.GetByID(ctx, b.ID)
	if got.Status != booking.StatusConfirmed {
		t.Errorf("booking status = %s, want confirmed", got.Status)
	}
	if got.PaymentStatus != booking.PaymentCompleted {
		t.Errorf("booking payment status = %s, want completed", got.PaymentStatus)
	}
	if got.MpesaTxnID == nil || *got.MpesaTxnID != receipt {
		t.Errorf("booking receipt = %v, want %s", got.MpesaTxnID, receipt)
	}
}

// Redelivered callbacks answer from the stored record without touching the
// booking again.
func TestProcessCallbackDuplicate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	b := f.addBooking(t)
	res := initiated(t, f, InitiateInput{PhoneNumber: "254712345678", Amount: 500, BookingID: &b.ID})

	receipt := "SGH12XYZ"
	cb := CallbackData{CheckoutRequestID: res.CheckoutRequestID, ResultCode: 0, ReceiptNumber: &receipt}

	if _, err := f.svc.ProcessCallback(ctx, cb); err != nil {
		t.Fatalf("first delivery: %v", err)
	}
	out, err := f.svc.ProcessCallback(ctx, cb)
	if err != nil {
		t.Fatalf("second delivery: %v", err)
	}

	if !out.AlreadyProcessed {
		t.Error("second delivery not flagged as already processed")
	}
	if out.Status != StatusCompleted {
		t.Errorf("status = %s, want completed", out.Status)
	}
	if f.bookings.confirms != 1 {
		t.Errorf("booking confirmed %d times, want once", f.bookings.confirms)
	}
}

func TestProcessCallbackFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	b := f.addBooking(t)
	res := initiated(t, f, InitiateInput{PhoneNumber: "254712345678", Amount: 500, BookingID: &b.ID})

	out, err := f.svc.ProcessCallback(ctx, CallbackData{
		CheckoutRequestID: res.CheckoutRequestID,
		ResultCode:        1032,
		ResultDesc:        "Request cancelled by user",
	})
	if err != nil {
		t.Fatalf("ProcessCallback: %v", err)
	}
	if out.Status != StatusFailed {
		t.Errorf("status = %s, want failed", out.Status)
	}

	p, _ := f.repo.GetByID(ctx, out.PaymentID)
	if p.ErrorMessage == nil || *p.ErrorMessage != "Request cancelled by user" {
		t.Errorf("error message = %v, want result description", p.ErrorMessage)
	}

	got, _ := f.bookings.GetByID(ctx, b.ID)
	if got.Status != booking.StatusPendingPayment {
		t.Errorf("booking status = %s, failure must not confirm it", got.Status)
	}

	// A later success delivery for the same push must not flip the terminal
	// state.
	receipt := "SGH12XYZ"
	late, err := f.svc.ProcessCallback(ctx, CallbackData{
		CheckoutRequestID: res.CheckoutRequestID,
		ResultCode:        0,
		ReceiptNumber:     &receipt,
	})
	if err != nil {
		t.Fatalf("late delivery: %v", err)
	}
	if !late.AlreadyProcessed || late.Status != StatusFailed {
		t.Errorf("late delivery: alreadyProcessed=%v status=%s, want true/failed", late.AlreadyProcessed, late.Status)
	}
}

func TestProcessCallbackUnknown(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.ProcessCallback(context.Background(), CallbackData{
		CheckoutRequestID: "ws_CO_unknown",
		ResultCode:        0,
	})
	if !errors.Is(err, ErrPaymentNotFound) {
		t.Fatalf("err = %v, want ErrPaymentNotFound", err)
	}
}

func TestProcessCallbackReferral(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ref := f.addReferral(t, referral.StatusAwaitingBiodata)
	res := initiated(t, f, InitiateInput{PhoneNumber: "254712345678", Amount: 1500, ReferralID: &ref.ID})

	receipt := "SGH99ABC"
	out, err := f.svc.ProcessCallback(ctx, CallbackData{
		CheckoutRequestID: res.CheckoutRequestID,
		ResultCode:        0,
		ReceiptNumber:     &receipt,
	})
	if err != nil {
		t.Fatalf("ProcessCallback: %v", err)
	}

	got, _ := f.referrals.GetByID(ctx, ref.ID)
	if got.Status != referral.StatusPaid {
		t.Errorf("referral status = %s, want paid", got.Status)
	}
	if got.PaidAt == nil {
		t.Error("paid_at not set")
	}

	if out.PatientName != "Wanjiku Kamau" {
		t.Errorf("patient name = %q", out.PatientName)
	}
	if out.ReferralToken != "AB12CD" {
		t.Errorf("token = %q, want AB12CD", out.ReferralToken)
	}
	if out.Clinic != "Kenyatta National Hospital" {
		t.Errorf("clinic = %q", out.Clinic)
	}
	if out.Email != "wanjiku@example.com" {
		t.Errorf("email = %q", out.Email)
	}
	if out.Date != "2026-09-16" || out.Time != "09:30" {
		t.Errorf("slot = %s %s", out.Date, out.Time)
	}
}

// A success callback that lands after the sweeper already expired the
// booking settles the payment but must not resurrect the booking: the slot
// and capacity were released at expiry.
func TestProcessCallbackAfterBookingExpired(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	b := f.addBooking(t)
	res := initiated(t, f, InitiateInput{PhoneNumber: "254712345678", Amount: 500, BookingID: &b.ID})

	if _, err := f.bookings.UpdateStatus(ctx, b.ID, booking.StatusPendingPayment, booking.StatusExpired); err != nil {
		t.Fatalf("expire booking: %v", err)
	}

	receipt := "SGH12XYZ"
	out, err := f.svc.ProcessCallback(ctx, CallbackData{
		CheckoutRequestID: res.CheckoutRequestID,
		ResultCode:        0,
		ReceiptNumber:     &receipt,
	})
	if err != nil {
		t.Fatalf("ProcessCallback: %v", err)
	}
	if out.Status != StatusCompleted {
		t.Errorf("payment status = %s, want completed", out.Status)
	}

	got, _ := f.bookings.GetByID(ctx, b.ID)
	if got.Status != booking.StatusExpired {
		t.Errorf("booking status = %s, expired booking must not revert to %s", got.Status, booking.StatusConfirmed)
	}
	if f.bookings.confirms != 0 {
		t.Errorf("booking confirmed %d times, want 0", f.bookings.confirms)
	}
}

// Same late-arrival shape on the referral side: a referral cancelled after
// the push went out stays cancelled.
func TestProcessCallbackAfterReferralCancelled(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ref := f.addReferral(t, referral.StatusAwaitingBiodata)
	res := initiated(t, f, InitiateInput{PhoneNumber: "254712345678", Amount: 1500, ReferralID: &ref.ID})

	if _, err := f.referrals.UpdateStatus(ctx, ref.ID, referral.StatusPendingPayment, referral.StatusCancelled); err != nil {
		t.Fatalf("cancel referral: %v", err)
	}

	receipt := "SGH99ABC"
	out, err := f.svc.ProcessCallback(ctx, CallbackData{
		CheckoutRequestID: res.CheckoutRequestID,
		ResultCode:        0,
		ReceiptNumber:     &receipt,
	})
	if err != nil {
		t.Fatalf("ProcessCallback: %v", err)
	}
	if out.Status != StatusCompleted {
		t.Errorf("payment status = %s, want completed", out.Status)
	}

	got, _ := f.referrals.GetByID(ctx, ref.ID)
	if got.Status != referral.StatusCancelled {
		t.Errorf("referral status = %s, cancelled referral must not move to paid", got.Status)
	}
	if got.PaidAt != nil {
		t.Error("paid_at set on a cancelled referral")
	}
}

func TestCheckStatusStillProcessing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	b := f.addBooking(t)
	res := initiated(t, f, InitiateInput{PhoneNumber: "254712345678", Amount: 500, BookingID: &b.ID})

	f.gateway.queryCode = mpesa.StillProcessingCode
	p, err := f.svc.CheckStatus(ctx, res.PaymentID)
	if err != nil {
		t.Fatalf("CheckStatus: %v", err)
	}
	if p.Status != StatusPending {
		t.Errorf("status = %s, still-processing must leave it pending", p.Status)
	}
}

func TestCheckStatusResolves(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	b := f.addBooking(t)
	res := initiated(t, f, InitiateInput{PhoneNumber: "254712345678", Amount: 500, BookingID: &b.ID})

	f.gateway.queryCode = "0"
	p, err := f.svc.CheckStatus(ctx, res.PaymentID)
	if err != nil {
		t.Fatalf("CheckStatus: %v", err)
	}
	if p.Status != StatusCompleted {
		t.Errorf("status = %s, want completed", p.Status)
	}

	got, _ := f.bookings.GetByID(ctx, b.ID)
	if got.Status != booking.StatusConfirmed {
		t.Errorf("booking status = %s, want confirmed", got.Status)
	}
}

func TestCheckStatusTerminalFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	b := f.addBooking(t)
	res := initiated(t, f, InitiateInput{PhoneNumber: "254712345678", Amount: 500, BookingID: &b.ID})

	f.gateway.queryCode = "1037"
	p, err := f.svc.CheckStatus(ctx, res.PaymentID)
	if err != nil {
		t.Fatalf("CheckStatus: %v", err)
	}
	if p.Status != StatusFailed {
		t.Errorf("status = %s, want failed", p.Status)
	}
}

func TestCheckStatusQueryErrorIsSoft(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	b := f.addBooking(t)
	res := initiated(t, f, InitiateInput{PhoneNumber: "254712345678", Amount: 500, BookingID: &b.ID})

	f.gateway.queryErr = errors.New("gateway unreachable")
	p, err := f.svc.CheckStatus(ctx, res.PaymentID)
	if err != nil {
		t.Fatalf("CheckStatus: %v", err)
	}
	if p.Status != StatusPending {
		t.Errorf("status = %s, query failure must not resolve the payment", p.Status)
	}
}

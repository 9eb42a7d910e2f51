package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/uzimacare/uzimacare-backend/internal/booking"
	"github.com/uzimacare/uzimacare-backend/internal/clinic"
	"github.com/uzimacare/uzimacare-backend/internal/mpesa"
	"github.com/uzimacare/uzimacare-backend/internal/notification"
	"github.com/uzimacare/uzimacare-backend/internal/payment"
	"github.com/uzimacare/uzimacare-backend/internal/referral"
)

// stubPaymentRepo holds a single payment keyed by its stk request id.
type stubPaymentRepo struct {
	payment *payment.Payment
}

func (s *stubPaymentRepo) GetByID(_ context.Context, id uuid.UUID) (*payment.Payment, error) {
	if s.payment != nil && s.payment.ID == id {
		cp := *s.payment
		return &cp, nil
	}
	return nil, payment.ErrPaymentNotFound
}

func (s *stubPaymentRepo) GetByStkRequestID(_ context.Context, stkRequestID string) (*payment.Payment, error) {
	if s.payment != nil && s.payment.StkRequestID != nil && *s.payment.StkRequestID == stkRequestID {
		cp := *s.payment
		return &cp, nil
	}
	return nil, payment.ErrPaymentNotFound
}

func (s *stubPaymentRepo) Create(_ context.Context, p *payment.Payment) (*payment.Payment, error) {
	return p, nil
}

func (s *stubPaymentRepo) FindPendingForOwner(_ context.Context, _, _ *uuid.UUID) (*payment.Payment, error) {
	return nil, payment.ErrPaymentNotFound
}

func (s *stubPaymentRepo) SetStkRequestID(_ context.Context, _ uuid.UUID, _ string) error {
	return nil
}

func (s *stubPaymentRepo) Resolve(_ context.Context, id uuid.UUID, status payment.Status, mpesaTxnID, errorMessage *string, transactionDate *time.Time) (*payment.Payment, error) {
	if s.payment == nil || s.payment.ID != id || s.payment.Status != payment.StatusPending {
		return nil, payment.ErrPaymentNotFound
	}
	s.payment.Status = status
	s.payment.MpesaTxnID = mpesaTxnID
	s.payment.ErrorMessage = errorMessage
	s.payment.TransactionDate = transactionDate
	cp := *s.payment
	return &cp, nil
}

func (s *stubPaymentRepo) MarkFailed(_ context.Context, _ uuid.UUID, _ string) error { return nil }

func (s *stubPaymentRepo) List(_ context.Context, _ payment.ListFilter) ([]payment.Payment, error) {
	return nil, nil
}

type stubBookings struct{ booking *booking.Booking }

func (s *stubBookings) GetByID(_ context.Context, id uuid.UUID) (*booking.Booking, error) {
	if s.booking != nil && s.booking.ID == id {
		cp := *s.booking
		return &cp, nil
	}
	return nil, booking.ErrBookingNotFound
}

func (s *stubBookings) CreatePending(_ context.Context, b *booking.Booking) (*booking.Booking, error) {
	return b, nil
}

func (s *stubBookings) ListBookedTimes(_ context.Context, _ uuid.UUID, _ time.Time) ([]string, error) {
	return nil, nil
}

func (s *stubBookings) CountConfirmed(_ context.Context, _ uuid.UUID, _ time.Time) (int, error) {
	return 0, nil
}

func (s *stubBookings) UpdateStatus(_ context.Context, _ uuid.UUID, _, _ booking.Status) (*booking.Booking, error) {
	return nil, booking.ErrBookingNotFound
}

func (s *stubBookings) ApplyPatch(_ context.Context, _ uuid.UUID, _ booking.Patch) (*booking.Booking, error) {
	return nil, booking.ErrBookingNotFound
}

func (s *stubBookings) ConfirmPayment(_ context.Context, id uuid.UUID, mpesaTxnID string) (*booking.Booking, error) {
	if s.booking != nil && s.booking.ID == id && s.booking.Status == booking.StatusPendingPayment {
		s.booking.Status = booking.StatusConfirmed
		s.booking.PaymentStatus = booking.PaymentCompleted
		s.booking.MpesaTxnID = &mpesaTxnID
		cp := *s.booking
		return &cp, nil
	}
	return nil, booking.ErrBookingNotFound
}

func (s *stubBookings) IncrementStkCount(_ context.Context, _ uuid.UUID) error { return nil }

func (s *stubBookings) FindExpiredPending(_ context.Context, _ time.Time) ([]booking.Booking, error) {
	return nil, nil
}

func (s *stubBookings) List(_ context.Context, _ booking.ListFilter) ([]booking.Booking, error) {
	return nil, nil
}

func (s *stubBookings) InsertEvent(_ context.Context, _ booking.EventLog) error { return nil }

type stubReferrals struct{}

func (stubReferrals) GetByID(_ context.Context, _ uuid.UUID) (*referral.Referral, error) {
	return nil, referral.ErrReferralNotFound
}

func (stubReferrals) GetByToken(_ context.Context, _ string) (*referral.Referral, error) {
	return nil, referral.ErrReferralNotFound
}

func (stubReferrals) Create(_ context.Context, r *referral.Referral) (*referral.Referral, error) {
	return r, nil
}

func (stubReferrals) SetToken(_ context.Context, _ uuid.UUID, _ string) (*referral.Referral, error) {
	return nil, referral.ErrReferralNotFound
}

func (stubReferrals) FindPendingTokenByPatient(_ context.Context, _ string) (*string, error) {
	return nil, nil
}

func (stubReferrals) ApplyPatch(_ context.Context, _ uuid.UUID, _ referral.Patch) (*referral.Referral, error) {
	return nil, referral.ErrReferralNotFound
}

func (stubReferrals) UpdateStatus(_ context.Context, _ uuid.UUID, _, _ referral.Status) (*referral.Referral, error) {
	return nil, referral.ErrReferralNotFound
}

func (stubReferrals) MarkPaid(_ context.Context, _ uuid.UUID) (*referral.Referral, error) {
	return nil, referral.ErrReferralNotFound
}

func (stubReferrals) IncrementStkCount(_ context.Context, _ uuid.UUID) error { return nil }

func (stubReferrals) List(_ context.Context, _ referral.ListFilter) ([]referral.Referral, error) {
	return nil, nil
}

type stubClinics struct{ clinic *clinic.Clinic }

func (s *stubClinics) GetByID(_ context.Context, id uuid.UUID) (*clinic.Clinic, error) {
	if s.clinic != nil && s.clinic.ID == id {
		return s.clinic, nil
	}
	return nil, clinic.ErrClinicNotFound
}

func (s *stubClinics) List(_ context.Context, _ bool, _, _ int) ([]clinic.Clinic, error) {
	return nil, nil
}

func (s *stubClinics) Create(_ context.Context, c *clinic.Clinic) (*clinic.Clinic, error) {
	return c, nil
}

type stubGateway struct{}

func (stubGateway) InitiateStkPush(_ context.Context, _ mpesa.StkPushRequest) (*mpesa.StkPushResponse, error) {
	return &mpesa.StkPushResponse{CheckoutRequestID: "ws_CO_1"}, nil
}

func (stubGateway) QueryStkStatus(_ context.Context, _ string) (*mpesa.StkQueryResponse, error) {
	return &mpesa.StkQueryResponse{ResultCode: "0"}, nil
}

type captureSink struct{ notifications []*notification.Notification }

func (c *captureSink) Insert(_ context.Context, n *notification.Notification) error {
	c.notifications = append(c.notifications, n)
	return nil
}

func callbackFixture() (*stubPaymentRepo, *stubBookings, *payment.Service) {
	clinicID := uuid.New()
	bookingID := uuid.New()
	checkout := "ws_CO_191220191020363925"

	bookings := &stubBookings{booking: &booking.Booking{
		ID:          bookingID,
		ClinicID:    clinicID,
		BookingDate: time.Date(2026, 9, 15, 0, 0, 0, 0, time.UTC),
		BookingTime: "09:00",
		Status:      booking.StatusPendingPayment,
	}}
	repo := &stubPaymentRepo{payment: &payment.Payment{
		ID:           uuid.New(),
		BookingID:    &bookingID,
		PhoneNumber:  "254712345678",
		Amount:       500,
		Status:       payment.StatusPending,
		StkRequestID: &checkout,
	}}
	clinics := &stubClinics{clinic: &clinic.Clinic{ID: clinicID, Name: "Kasarani Clinic", IsActive: true}}

	svc := payment.NewService(repo, bookings, stubReferrals{}, clinics, stubGateway{}, zerolog.Nop(), nil)
	return repo, bookings, svc
}

func postCallback(t *testing.T, handler http.HandlerFunc, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/payments/callback", strings.NewReader(body))
	rec := httptest.NewRecorder()
	handler(rec, req)
	return rec
}

func decodeAck(t *testing.T, rec *httptest.ResponseRecorder) callbackAck {
	t.Helper()
	var ack callbackAck
	if err := json.NewDecoder(rec.Body).Decode(&ack); err != nil {
		t.Fatalf("decode ack: %v", err)
	}
	return ack
}

const successCallback = `{
	"Body": {
		"stkCallback": {
			"MerchantRequestID": "29115-34620561-1",
			"CheckoutRequestID": "ws_CO_191220191020363925",
			"ResultCode": 0,
			"ResultDesc": "The service request is processed successfully.",
			"CallbackMetadata": {
				"Item": [
					{"Name": "Amount", "Value": 500.00},
					{"Name": "MpesaReceiptNumber", "Value": "NLJ7RT61SV"},
					{"Name": "TransactionDate", "Value": 20191219102115},
					{"Name": "PhoneNumber", "Value": 254712345678}
				]
			}
		}
	}
}`

func TestMpesaCallbackConfirmsBooking(t *testing.T) {
	repo, bookings, svc := callbackFixture()
	sink := &captureSink{}
	handler := mpesaCallbackHandler(svc, sink, zerolog.Nop())

	rec := postCallback(t, handler, successCallback)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if ack := decodeAck(t, rec); ack.ResultCode != 0 {
		t.Errorf("ack result code = %d, want 0", ack.ResultCode)
	}

	if repo.payment.Status != payment.StatusCompleted {
		t.Errorf("payment status = %s, want completed", repo.payment.Status)
	}
	if repo.payment.MpesaTxnID == nil || *repo.payment.MpesaTxnID != "NLJ7RT61SV" {
		t.Errorf("receipt = %v, want NLJ7RT61SV", repo.payment.MpesaTxnID)
	}
	if bookings.booking.Status != booking.StatusConfirmed {
		t.Errorf("booking status = %s, want confirmed", bookings.booking.Status)
	}

	if len(sink.notifications) != 1 {
		t.Fatalf("notifications = %d, want 1", len(sink.notifications))
	}
	if sink.notifications[0].Type != "payment" {
		t.Errorf("notification type = %q, want payment", sink.notifications[0].Type)
	}
}

// The gateway retries anything but 200, so even garbage and unknown
// correlation ids are acknowledged.
func TestMpesaCallbackAlwaysAcks(t *testing.T) {
	_, _, svc := callbackFixture()
	handler := mpesaCallbackHandler(svc, &captureSink{}, zerolog.Nop())

	cases := []struct {
		name string
		body string
	}{
		{"garbage body", `{{{not json`},
		{"unknown checkout id", `{"Body":{"stkCallback":{"CheckoutRequestID":"ws_CO_unknown","ResultCode":0}}}`},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := postCallback(t, handler, tc.body)
			if rec.Code != http.StatusOK {
				t.Errorf("status = %d, want 200", rec.Code)
			}
		})
	}
}

func TestMpesaCallbackDuplicateDoesNotRenotify(t *testing.T) {
	_, _, svc := callbackFixture()
	sink := &captureSink{}
	handler := mpesaCallbackHandler(svc, sink, zerolog.Nop())

	if rec := postCallback(t, handler, successCallback); rec.Code != http.StatusOK {
		t.Fatalf("first delivery status = %d", rec.Code)
	}
	if rec := postCallback(t, handler, successCallback); rec.Code != http.StatusOK {
		t.Fatalf("second delivery status = %d", rec.Code)
	}

	if len(sink.notifications) != 1 {
		t.Errorf("notifications = %d, want 1 despite redelivery", len(sink.notifications))
	}
}

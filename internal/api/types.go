package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/uzimacare/uzimacare-backend/internal/booking"
	"github.com/uzimacare/uzimacare-backend/internal/clinic"
	"github.com/uzimacare/uzimacare-backend/internal/payment"
	"github.com/uzimacare/uzimacare-backend/internal/referral"
)

type CreateClinicRequest struct {
	Name              string  `json:"name"`
	FacilityName      string  `json:"facility_name"`
	Location          string  `json:"location"`
	MaxPatientsPerDay int     `json:"max_patients_per_day"`
	ContactPhone      *string `json:"contact_phone"`
	ContactEmail      *string `json:"contact_email"`
}

type ClinicResponse struct {
	ID                uuid.UUID `json:"id"`
	Name              string    `json:"name"`
	FacilityName      string    `json:"facility_name"`
	Location          string    `json:"location"`
	MaxPatientsPerDay int       `json:"max_patients_per_day"`
	ContactPhone      *string   `json:"contact_phone,omitempty"`
	ContactEmail      *string   `json:"contact_email,omitempty"`
	IsActive          bool      `json:"is_active"`
	CreatedAt         time.Time `json:"created_at"`
}

func toClinicResponse(c *clinic.Clinic) ClinicResponse {
	return ClinicResponse{
		ID:                c.ID,
		Name:              c.Name,
		FacilityName:      c.FacilityName,
		Location:          c.Location,
		MaxPatientsPerDay: c.MaxPatientsPerDay,
		ContactPhone:      c.ContactPhone,
		ContactEmail:      c.ContactEmail,
		IsActive:          c.IsActive,
		CreatedAt:         c.CreatedAt,
	}
}

type AvailabilityResponse struct {
	ClinicID          uuid.UUID `json:"clinic_id"`
	Date              string    `json:"date"`
	AvailableSlots    []string  `json:"available_slots"`
	TotalSlots        int       `json:"total_slots"`
	BookedSlots       int       `json:"booked_slots"`
	MaxCapacity       int       `json:"max_capacity"`
	RemainingCapacity int       `json:"remaining_capacity"`
	IsFull            bool      `json:"is_full"`
}

type CreateBookingRequest struct {
	ClinicID       string  `json:"clinic_id"`
	Date           string  `json:"date"`
	Time           string  `json:"time"`
	PaymentAmount  int64   `json:"payment_amount"`
	PatientID      string  `json:"patient_id"`
	PatientPhone   string  `json:"patient_phone"`
	StkPhoneNumber string  `json:"stk_phone_number"`
	ReferralID     *string `json:"referral_id"`
	Notes          *string `json:"notes"`
}

type UpdateBookingRequest struct {
	Status        *string `json:"status"`
	PaymentStatus *string `json:"payment_status"`
	MpesaTxnID    *string `json:"mpesa_transaction_id"`
	Notes         *string `json:"notes"`
}

type BookingResponse struct {
	ID             uuid.UUID  `json:"id"`
	ReferralID     *uuid.UUID `json:"referral_id,omitempty"`
	PatientID      string     `json:"patient_id"`
	PatientPhone   string     `json:"patient_phone"`
	StkPhoneNumber string     `json:"stk_phone_number"`
	ClinicID       uuid.UUID  `json:"clinic_id"`
	SlotID         string     `json:"slot_id"`
	BookingDate    string     `json:"booking_date"`
	BookingTime    string     `json:"booking_time"`
	Status         string     `json:"status"`
	PaymentStatus  string     `json:"payment_status"`
	PaymentAmount  int64      `json:"payment_amount"`
	MpesaTxnID     *string    `json:"mpesa_transaction_id,omitempty"`
	StkSentCount   int        `json:"stk_sent_count"`
	ExpiresAt      time.Time  `json:"expires_at"`
	Notes          *string    `json:"notes,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

func toBookingResponse(b *booking.Booking) BookingResponse {
	return BookingResponse{
		ID:             b.ID,
		ReferralID:     b.ReferralID,
		PatientID:      b.PatientID,
		PatientPhone:   b.PatientPhone,
		StkPhoneNumber: b.StkPhoneNumber,
		ClinicID:       b.ClinicID,
		SlotID:         b.SlotID,
		BookingDate:    b.BookingDate.Format(booking.DateLayout),
		BookingTime:    b.BookingTime,
		Status:         string(b.Status),
		PaymentStatus:  string(b.PaymentStatus),
		PaymentAmount:  b.PaymentAmount,
		MpesaTxnID:     b.MpesaTxnID,
		StkSentCount:   b.StkSentCount,
		ExpiresAt:      b.ExpiresAt,
		Notes:          b.Notes,
		CreatedAt:      b.CreatedAt,
	}
}

type CreateReferralRequest struct {
	PhysicianID       string   `json:"physician_id"`
	PatientName       string   `json:"patient_name"`
	PatientID         *string  `json:"patient_id"`
	MedicalHistory    string   `json:"medical_history"`
	LabResults        string   `json:"lab_results"`
	Diagnosis         string   `json:"diagnosis"`
	Conditions        []string `json:"conditions"`
	ReferringHospital string   `json:"referring_hospital"`
	ReceivingFacility string   `json:"receiving_facility"`
	Priority          string   `json:"priority"`
}

type BiodataRequest struct {
	PatientPhone       string  `json:"patient_phone"`
	StkPhoneNumber     string  `json:"stk_phone_number"`
	PatientEmail       *string `json:"patient_email"`
	PatientDateOfBirth *string `json:"patient_date_of_birth"`
	PatientNationalID  *string `json:"patient_national_id"`
	BookedDate         *string `json:"booked_date"`
	BookedTime         *string `json:"booked_time"`
	BiodataCode        *string `json:"biodata_code"`
}

type UpdateReferralRequest struct {
	PatientPhone      *string `json:"patient_phone"`
	StkPhoneNumber    *string `json:"stk_phone_number"`
	PatientEmail      *string `json:"patient_email"`
	PatientNationalID *string `json:"patient_national_id"`
	BookedDate        *string `json:"booked_date"`
	BookedTime        *string `json:"booked_time"`
	Status            *string `json:"status"`
	BiodataCode       *string `json:"biodata_code"`
}

type ReferralResponse struct {
	ID                uuid.UUID  `json:"id"`
	PhysicianID       uuid.UUID  `json:"physician_id"`
	PatientName       string     `json:"patient_name"`
	PatientID         *string    `json:"patient_id,omitempty"`
	MedicalHistory    string     `json:"medical_history"`
	LabResults        string     `json:"lab_results"`
	Diagnosis         string     `json:"diagnosis"`
	Conditions        []string   `json:"conditions"`
	ReferringHospital string     `json:"referring_hospital"`
	ReceivingFacility string     `json:"receiving_facility"`
	Priority          string     `json:"priority"`
	Status            string     `json:"status"`
	ReferralToken     *string    `json:"referral_token,omitempty"`
	PatientPhone      *string    `json:"patient_phone,omitempty"`
	StkPhoneNumber    *string    `json:"stk_phone_number,omitempty"`
	PatientEmail      *string    `json:"patient_email,omitempty"`
	PatientNationalID *string    `json:"patient_national_id,omitempty"`
	BookedDate        *string    `json:"booked_date,omitempty"`
	BookedTime        *string    `json:"booked_time,omitempty"`
	StkSentCount      int        `json:"stk_sent_count"`
	CompletedAt       *time.Time `json:"completed_at,omitempty"`
	PaidAt            *time.Time `json:"paid_at,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
}

func toReferralResponse(ref *referral.Referral) ReferralResponse {
	var bookedDate *string
	if ref.BookedDate != nil {
		d := ref.BookedDate.Format(booking.DateLayout)
		bookedDate = &d
	}

	return ReferralResponse{
		ID:                ref.ID,
		PhysicianID:       ref.PhysicianID,
		PatientName:       ref.PatientName,
		PatientID:         ref.PatientID,
		MedicalHistory:    ref.MedicalHistory,
		LabResults:        ref.LabResults,
		Diagnosis:         ref.Diagnosis,
		Conditions:        ref.Conditions,
		ReferringHospital: ref.ReferringHospital,
		ReceivingFacility: ref.ReceivingFacility,
		Priority:          string(ref.Priority),
		Status:            string(ref.Status),
		ReferralToken:     ref.ReferralToken,
		PatientPhone:      ref.PatientPhone,
		StkPhoneNumber:    ref.StkPhoneNumber,
		PatientEmail:      ref.PatientEmail,
		PatientNationalID: ref.PatientNationalID,
		BookedDate:        bookedDate,
		BookedTime:        ref.BookedTime,
		StkSentCount:      ref.StkSentCount,
		CompletedAt:       ref.CompletedAt,
		PaidAt:            ref.PaidAt,
		CreatedAt:         ref.CreatedAt,
	}
}

type StkPushRequest struct {
	PhoneNumber string  `json:"phone_number"`
	Amount      int64   `json:"amount"`
	BookingID   *string `json:"booking_id"`
	ReferralID  *string `json:"referral_id"`
}

type StkPushResponse struct {
	PaymentID         uuid.UUID `json:"payment_id"`
	CheckoutRequestID string    `json:"checkout_request_id"`
	MerchantRequestID string    `json:"merchant_request_id"`
	CustomerMessage   string    `json:"customer_message"`
}

type PaymentResponse struct {
	ID              uuid.UUID  `json:"id"`
	BookingID       *uuid.UUID `json:"booking_id,omitempty"`
	ReferralID      *uuid.UUID `json:"referral_id,omitempty"`
	PhoneNumber     string     `json:"phone_number"`
	Amount          int64      `json:"amount"`
	Status          string     `json:"status"`
	StkRequestID    *string    `json:"stk_request_id,omitempty"`
	MpesaTxnID      *string    `json:"mpesa_transaction_id,omitempty"`
	ErrorMessage    *string    `json:"error_message,omitempty"`
	TransactionDate *time.Time `json:"transaction_date,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
}

func toPaymentResponse(p *payment.Payment) PaymentResponse {
	return PaymentResponse{
		ID:              p.ID,
		BookingID:       p.BookingID,
		ReferralID:      p.ReferralID,
		PhoneNumber:     p.PhoneNumber,
		Amount:          p.Amount,
		Status:          string(p.Status),
		StkRequestID:    p.StkRequestID,
		MpesaTxnID:      p.MpesaTxnID,
		ErrorMessage:    p.ErrorMessage,
		TransactionDate: p.TransactionDate,
		CreatedAt:       p.CreatedAt,
	}
}

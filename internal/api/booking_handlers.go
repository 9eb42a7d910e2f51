package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/uzimacare/uzimacare-backend/internal/booking"
	"github.com/uzimacare/uzimacare-backend/internal/clinic"
	redisclient "github.com/uzimacare/uzimacare-backend/internal/redis"
)

func createBookingHandler(svc *booking.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreateBookingRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		clinicID, err := uuid.Parse(req.ClinicID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_clinic_id", "clinic_id must be a valid UUID")
			return
		}

		var referralID *uuid.UUID
		if req.ReferralID != nil && *req.ReferralID != "" {
			id, err := uuid.Parse(*req.ReferralID)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_referral_id", "referral_id must be a valid UUID")
				return
			}
			referralID = &id
		}

		b, err := svc.CreateBooking(r.Context(), booking.CreateInput{
			ClinicID:       clinicID,
			Date:           req.Date,
			Time:           req.Time,
			PaymentAmount:  req.PaymentAmount,
			PatientID:      req.PatientID,
			PatientPhone:   req.PatientPhone,
			StkPhoneNumber: req.StkPhoneNumber,
			ReferralID:     referralID,
			Notes:          req.Notes,
		})
		if err != nil {
			handleCreateBookingError(w, err)
			return
		}

		writeJSON(w, http.StatusCreated, toBookingResponse(b))
	}
}

func handleCreateBookingError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, booking.ErrMissingDate),
		errors.Is(err, booking.ErrInvalidDate),
		errors.Is(err, booking.ErrInvalidSlotTime),
		errors.Is(err, booking.ErrInvalidAmount),
		errors.Is(err, booking.ErrMissingPatient):
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
	case errors.Is(err, clinic.ErrClinicNotFound):
		writeError(w, http.StatusNotFound, "clinic_not_found", err.Error())
	case errors.Is(err, clinic.ErrClinicInactive):
		writeError(w, http.StatusConflict, "clinic_inactive", err.Error())
	case errors.Is(err, booking.ErrSlotTaken):
		writeError(w, http.StatusConflict, "slot_taken", err.Error())
	case errors.Is(err, booking.ErrClinicFull):
		writeError(w, http.StatusConflict, "clinic_full", err.Error())
	case errors.Is(err, booking.ErrSlotBeingBooked),
		errors.Is(err, redisclient.ErrLockNotAcquired):
		writeError(w, http.StatusConflict, "slot_being_booked", "slot is currently being booked, please retry shortly")
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
	}
}

func listBookingsHandler(svc *booking.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit, offset := pagination(r)
		f := booking.ListFilter{
			PatientID: r.URL.Query().Get("patient_id"),
			Status:    booking.Status(r.URL.Query().Get("status")),
			Limit:     limit,
			Offset:    offset,
		}
		if v := r.URL.Query().Get("clinic_id"); v != "" {
			id, err := uuid.Parse(v)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_clinic_id", "clinic_id must be a valid UUID")
				return
			}
			f.ClinicID = id
		}

		bookings, err := svc.ListBookings(r.Context(), f)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
			return
		}

		resp := make([]BookingResponse, 0, len(bookings))
		for i := range bookings {
			resp = append(resp, toBookingResponse(&bookings[i]))
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func getBookingHandler(svc *booking.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_booking_id", "id must be a valid UUID")
			return
		}

		b, err := svc.GetBooking(r.Context(), id)
		if err != nil {
			handleBookingLookupError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, toBookingResponse(b))
	}
}

// updateBookingHandler applies an allow-listed patch. Fields outside the
// allow list are silently ignored rather than rejected.
func updateBookingHandler(svc *booking.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_booking_id", "id must be a valid UUID")
			return
		}

		var req UpdateBookingRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		var p booking.Patch
		if req.Status != nil {
			st := booking.Status(*req.Status)
			p.Status = &st
		}
		if req.PaymentStatus != nil {
			ps := booking.PaymentStatus(*req.PaymentStatus)
			p.PaymentStatus = &ps
		}
		p.MpesaTxnID = req.MpesaTxnID
		p.Notes = req.Notes

		b, err := svc.UpdateBooking(r.Context(), id, p)
		if err != nil {
			handleBookingLookupError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, toBookingResponse(b))
	}
}

func cancelBookingHandler(svc *booking.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_booking_id", "id must be a valid UUID")
			return
		}

		b, err := svc.CancelBooking(r.Context(), id)
		if err != nil {
			handleBookingTransitionError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, toBookingResponse(b))
	}
}

func completeBookingHandler(svc *booking.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_booking_id", "id must be a valid UUID")
			return
		}

		b, err := svc.CompleteBooking(r.Context(), id)
		if err != nil {
			handleBookingTransitionError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, toBookingResponse(b))
	}
}

func handleBookingLookupError(w http.ResponseWriter, err error) {
	if errors.Is(err, booking.ErrBookingNotFound) {
		writeError(w, http.StatusNotFound, "booking_not_found", err.Error())
		return
	}
	writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
}

func handleBookingTransitionError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, booking.ErrBookingNotFound):
		writeError(w, http.StatusNotFound, "booking_not_found", err.Error())
	case errors.Is(err, booking.ErrInvalidTransition):
		writeError(w, http.StatusConflict, "invalid_status_transition", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
	}
}

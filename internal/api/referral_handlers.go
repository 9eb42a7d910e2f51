package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/uzimacare/uzimacare-backend/internal/booking"
	"github.com/uzimacare/uzimacare-backend/internal/referral"
)

func createReferralHandler(svc *referral.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreateReferralRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		physicianID, err := uuid.Parse(req.PhysicianID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_physician_id", "physician_id must be a valid UUID")
			return
		}

		ref, err := svc.CreateReferral(r.Context(), referral.CreateInput{
			PhysicianID:       physicianID,
			PatientName:       req.PatientName,
			PatientID:         req.PatientID,
			MedicalHistory:    req.MedicalHistory,
			LabResults:        req.LabResults,
			Diagnosis:         req.Diagnosis,
			Conditions:        req.Conditions,
			ReferringHospital: req.ReferringHospital,
			ReceivingFacility: req.ReceivingFacility,
			Priority:          referral.Priority(req.Priority),
		})
		if err != nil {
			handleReferralValidationError(w, err)
			return
		}

		writeJSON(w, http.StatusCreated, toReferralResponse(ref))
	}
}

func handleReferralValidationError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, referral.ErrMissingFields),
		errors.Is(err, referral.ErrTooManyConditions),
		errors.Is(err, referral.ErrInvalidPriority):
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
	}
}

func listReferralsHandler(svc *referral.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit, offset := pagination(r)
		f := referral.ListFilter{
			Status:   referral.Status(r.URL.Query().Get("status")),
			Priority: referral.Priority(r.URL.Query().Get("priority")),
			Limit:    limit,
			Offset:   offset,
		}
		if v := r.URL.Query().Get("physician_id"); v != "" {
			id, err := uuid.Parse(v)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_physician_id", "physician_id must be a valid UUID")
				return
			}
			f.PhysicianID = id
		}

		referrals, err := svc.ListReferrals(r.Context(), f)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
			return
		}

		resp := make([]ReferralResponse, 0, len(referrals))
		for i := range referrals {
			resp = append(resp, toReferralResponse(&referrals[i]))
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func getReferralHandler(svc *referral.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_referral_id", "id must be a valid UUID")
			return
		}

		ref, err := svc.GetReferral(r.Context(), id)
		if err != nil {
			handleReferralLookupError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, toReferralResponse(ref))
	}
}

// getReferralByTokenHandler resolves the human-readable token patients quote
// at the receiving facility.
func getReferralByTokenHandler(svc *referral.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := chi.URLParam(r, "token")
		if token == "" {
			writeError(w, http.StatusBadRequest, "missing_token", "token is required")
			return
		}

		ref, err := svc.GetByToken(r.Context(), token)
		if err != nil {
			handleReferralLookupError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, toReferralResponse(ref))
	}
}

func addBiodataHandler(svc *referral.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_referral_id", "id must be a valid UUID")
			return
		}

		var req BiodataRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		bd := referral.Biodata{
			PatientPhone:      req.PatientPhone,
			StkPhoneNumber:    req.StkPhoneNumber,
			PatientEmail:      req.PatientEmail,
			PatientNationalID: req.PatientNationalID,
			BookedTime:        req.BookedTime,
			BiodataCode:       req.BiodataCode,
		}
		if req.PatientDateOfBirth != nil {
			dob, err := time.Parse(booking.DateLayout, *req.PatientDateOfBirth)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_date_of_birth", "patient_date_of_birth must be formatted YYYY-MM-DD")
				return
			}
			bd.PatientDateOfBirth = &dob
		}
		if req.BookedDate != nil {
			d, err := time.Parse(booking.DateLayout, *req.BookedDate)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_booked_date", "booked_date must be formatted YYYY-MM-DD")
				return
			}
			bd.BookedDate = &d
		}

		ref, err := svc.AddBiodata(r.Context(), id, bd)
		if err != nil {
			handleReferralTransitionError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, toReferralResponse(ref))
	}
}

func updateReferralHandler(svc *referral.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_referral_id", "id must be a valid UUID")
			return
		}

		var req UpdateReferralRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		p := referral.Patch{
			PatientPhone:      req.PatientPhone,
			StkPhoneNumber:    req.StkPhoneNumber,
			PatientEmail:      req.PatientEmail,
			PatientNationalID: req.PatientNationalID,
			BookedTime:        req.BookedTime,
			BiodataCode:       req.BiodataCode,
		}
		if req.Status != nil {
			st := referral.Status(*req.Status)
			p.Status = &st
		}
		if req.BookedDate != nil {
			d, err := time.Parse(booking.DateLayout, *req.BookedDate)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_booked_date", "booked_date must be formatted YYYY-MM-DD")
				return
			}
			p.BookedDate = &d
		}

		ref, err := svc.UpdateReferral(r.Context(), id, p)
		if err != nil {
			handleReferralLookupError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, toReferralResponse(ref))
	}
}

func cancelReferralHandler(svc *referral.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_referral_id", "id must be a valid UUID")
			return
		}

		ref, err := svc.CancelReferral(r.Context(), id)
		if err != nil {
			handleReferralTransitionError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, toReferralResponse(ref))
	}
}

func completeReferralHandler(svc *referral.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_referral_id", "id must be a valid UUID")
			return
		}

		ref, err := svc.CompleteReferral(r.Context(), id)
		if err != nil {
			handleReferralTransitionError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, toReferralResponse(ref))
	}
}

func handleReferralLookupError(w http.ResponseWriter, err error) {
	if errors.Is(err, referral.ErrReferralNotFound) {
		writeError(w, http.StatusNotFound, "referral_not_found", err.Error())
		return
	}
	writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
}

func handleReferralTransitionError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, referral.ErrReferralNotFound):
		writeError(w, http.StatusNotFound, "referral_not_found", err.Error())
	case errors.Is(err, referral.ErrMissingFields):
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
	case errors.Is(err, referral.ErrInvalidTransition):
		writeError(w, http.StatusConflict, "invalid_status_transition", err.Error())
	case errors.Is(err, referral.ErrReferralTerminal):
		writeError(w, http.StatusConflict, "referral_terminal", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
	}
}

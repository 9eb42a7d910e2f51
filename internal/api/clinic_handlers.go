package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/uzimacare/uzimacare-backend/internal/booking"
	"github.com/uzimacare/uzimacare-backend/internal/clinic"
)

func createClinicHandler(repo clinic.Repository) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreateClinicRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}
		if req.Name == "" || req.Location == "" {
			writeError(w, http.StatusBadRequest, "missing_fields", "name and location are required")
			return
		}

		c, err := repo.Create(r.Context(), &clinic.Clinic{
			Name:              req.Name,
			FacilityName:      req.FacilityName,
			Location:          req.Location,
			MaxPatientsPerDay: req.MaxPatientsPerDay,
			ContactPhone:      req.ContactPhone,
			ContactEmail:      req.ContactEmail,
			IsActive:          true,
		})
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
			return
		}

		writeJSON(w, http.StatusCreated, toClinicResponse(c))
	}
}

func listClinicsHandler(repo clinic.Repository) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		activeOnly := r.URL.Query().Get("active") == "true"
		limit, offset := pagination(r)

		clinics, err := repo.List(r.Context(), activeOnly, limit, offset)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
			return
		}

		resp := make([]ClinicResponse, 0, len(clinics))
		for i := range clinics {
			resp = append(resp, toClinicResponse(&clinics[i]))
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func getClinicHandler(repo clinic.Repository) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_clinic_id", "id must be a valid UUID")
			return
		}

		c, err := repo.GetByID(r.Context(), id)
		if err != nil {
			if errors.Is(err, clinic.ErrClinicNotFound) {
				writeError(w, http.StatusNotFound, "clinic_not_found", err.Error())
				return
			}
			writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
			return
		}

		writeJSON(w, http.StatusOK, toClinicResponse(c))
	}
}

func availabilityHandler(svc *booking.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		clinicID, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_clinic_id", "id must be a valid UUID")
			return
		}
		date := r.URL.Query().Get("date")

		av, err := svc.GetAvailability(r.Context(), clinicID, date)
		if err != nil {
			handleAvailabilityError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, AvailabilityResponse{
			ClinicID:          clinicID,
			Date:              date,
			AvailableSlots:    av.AvailableSlots,
			TotalSlots:        av.TotalSlots,
			BookedSlots:       av.BookedSlots,
			MaxCapacity:       av.MaxCapacity,
			RemainingCapacity: av.RemainingCapacity,
			IsFull:            av.IsFull,
		})
	}
}

func handleAvailabilityError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, booking.ErrMissingDate), errors.Is(err, booking.ErrInvalidDate):
		writeError(w, http.StatusBadRequest, "invalid_date", err.Error())
	case errors.Is(err, clinic.ErrClinicNotFound):
		writeError(w, http.StatusNotFound, "clinic_not_found", err.Error())
	case errors.Is(err, clinic.ErrClinicInactive):
		writeError(w, http.StatusConflict, "clinic_inactive", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
	}
}

func pagination(r *http.Request) (limit, offset int) {
	limit = 20
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > 100 {
		limit = 100
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}
	return limit, offset
}

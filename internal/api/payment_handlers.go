package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/uzimacare/uzimacare-backend/internal/booking"
	"github.com/uzimacare/uzimacare-backend/internal/mpesa"
	"github.com/uzimacare/uzimacare-backend/internal/notification"
	"github.com/uzimacare/uzimacare-backend/internal/payment"
	"github.com/uzimacare/uzimacare-backend/internal/referral"
)

func stkPushHandler(svc *payment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req StkPushRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		in := payment.InitiateInput{
			PhoneNumber: req.PhoneNumber,
			Amount:      req.Amount,
		}
		if req.BookingID != nil && *req.BookingID != "" {
			id, err := uuid.Parse(*req.BookingID)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_booking_id", "booking_id must be a valid UUID")
				return
			}
			in.BookingID = &id
		}
		if req.ReferralID != nil && *req.ReferralID != "" {
			id, err := uuid.Parse(*req.ReferralID)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_referral_id", "referral_id must be a valid UUID")
				return
			}
			in.ReferralID = &id
		}

		res, err := svc.InitiateStkPush(r.Context(), in)
		if err != nil {
			handleStkPushError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, StkPushResponse{
			PaymentID:         res.PaymentID,
			CheckoutRequestID: res.CheckoutRequestID,
			MerchantRequestID: res.MerchantRequestID,
			CustomerMessage:   "Check your phone to complete the payment.",
		})
	}
}

func handleStkPushError(w http.ResponseWriter, err error) {
	var gwErr *mpesa.GatewayError
	switch {
	case errors.Is(err, payment.ErrOwnerRequired),
		errors.Is(err, payment.ErrMissingPhone),
		errors.Is(err, payment.ErrInvalidAmount):
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
	case errors.Is(err, booking.ErrBookingNotFound):
		writeError(w, http.StatusNotFound, "booking_not_found", err.Error())
	case errors.Is(err, referral.ErrReferralNotFound):
		writeError(w, http.StatusNotFound, "referral_not_found", err.Error())
	case errors.As(err, &gwErr):
		writeError(w, http.StatusBadGateway, "gateway_error", gwErr.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
	}
}

// stkCallbackBody mirrors the Daraja webhook envelope.
type stkCallbackBody struct {
	Body struct {
		StkCallback struct {
			MerchantRequestID string `json:"MerchantRequestID"`
			CheckoutRequestID string `json:"CheckoutRequestID"`
			ResultCode        int    `json:"ResultCode"`
			ResultDesc        string `json:"ResultDesc"`
			CallbackMetadata  struct {
				Item []struct {
					Name  string `json:"Name"`
					Value any    `json:"Value"`
				} `json:"Item"`
			} `json:"CallbackMetadata"`
		} `json:"stkCallback"`
	} `json:"Body"`
}

type callbackAck struct {
	ResultCode int    `json:"ResultCode"`
	ResultDesc string `json:"ResultDesc"`
}

// mpesaCallbackHandler ingests asynchronous STK results. The gateway retries
// on anything but 200, so every path acknowledges; processing failures are
// logged and absorbed.
func mpesaCallbackHandler(svc *payment.Service, notifier notification.Sink, log zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ack := callbackAck{ResultCode: 0, ResultDesc: "Accepted"}

		var body stkCallbackBody
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			log.Warn().Err(err).Msg("unparseable mpesa callback body")
			writeJSON(w, http.StatusOK, ack)
			return
		}

		cb := payment.CallbackData{
			CheckoutRequestID: body.Body.StkCallback.CheckoutRequestID,
			ResultCode:        body.Body.StkCallback.ResultCode,
			ResultDesc:        body.Body.StkCallback.ResultDesc,
		}
		for _, item := range body.Body.StkCallback.CallbackMetadata.Item {
			switch item.Name {
			case "MpesaReceiptNumber":
				if s, ok := item.Value.(string); ok {
					cb.ReceiptNumber = &s
				}
			case "TransactionDate":
				if f, ok := item.Value.(float64); ok {
					if ts, err := mpesa.ParseTimestamp(int64(f)); err == nil {
						cb.TransactionDate = &ts
					}
				}
			case "PhoneNumber":
				switch v := item.Value.(type) {
				case string:
					cb.PhoneNumber = &v
				case float64:
					s := fmt.Sprintf("%.0f", v)
					cb.PhoneNumber = &s
				}
			}
		}

		res, err := svc.ProcessCallback(r.Context(), cb)
		if err != nil {
			if !errors.Is(err, payment.ErrPaymentNotFound) {
				log.Error().Err(err).Str("checkout_request_id", cb.CheckoutRequestID).Msg("callback processing failed")
			}
			writeJSON(w, http.StatusOK, ack)
			return
		}

		if res.Status == payment.StatusCompleted && !res.AlreadyProcessed {
			notifyPaymentConfirmed(r.Context(), notifier, log, res)
		}

		writeJSON(w, http.StatusOK, ack)
	}
}

func notifyPaymentConfirmed(ctx context.Context, notifier notification.Sink, log zerolog.Logger, res *payment.ReconciliationResult) {
	msg := fmt.Sprintf("Payment of KES %d received. Your visit at %s on %s at %s is confirmed.",
		res.Amount, res.Clinic, res.Date, res.Time)
	if res.ReferralToken != "" {
		msg += fmt.Sprintf(" Quote referral token %s on arrival.", res.ReferralToken)
	}

	n := &notification.Notification{
		UserID:   res.PhoneNumber,
		Type:     "payment",
		Title:    "Payment Confirmed",
		Message:  msg,
		Priority: notification.PriorityHigh,
		Metadata: map[string]string{
			"paymentId":   res.PaymentID.String(),
			"patientName": res.PatientName,
			"email":       res.Email,
		},
	}
	if err := notifier.Insert(ctx, n); err != nil {
		log.Error().Err(err).Str("payment_id", res.PaymentID.String()).Msg("failed to create payment notification")
	}
}

func paymentStatusHandler(svc *payment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_payment_id", "id must be a valid UUID")
			return
		}

		p, err := svc.CheckStatus(r.Context(), id)
		if err != nil {
			handlePaymentLookupError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, toPaymentResponse(p))
	}
}

func getPaymentHandler(svc *payment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_payment_id", "id must be a valid UUID")
			return
		}

		p, err := svc.GetPayment(r.Context(), id)
		if err != nil {
			handlePaymentLookupError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, toPaymentResponse(p))
	}
}

func listPaymentsHandler(svc *payment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit, offset := pagination(r)
		payments, err := svc.ListPayments(r.Context(), payment.ListFilter{
			Status: payment.Status(r.URL.Query().Get("status")),
			Limit:  limit,
			Offset: offset,
		})
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
			return
		}

		resp := make([]PaymentResponse, 0, len(payments))
		for i := range payments {
			resp = append(resp, toPaymentResponse(&payments[i]))
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func handlePaymentLookupError(w http.ResponseWriter, err error) {
	if errors.Is(err, payment.ErrPaymentNotFound) {
		writeError(w, http.StatusNotFound, "payment_not_found", err.Error())
		return
	}
	writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
}

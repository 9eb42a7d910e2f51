package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/uzimacare/uzimacare-backend/internal/booking"
	"github.com/uzimacare/uzimacare-backend/internal/clinic"
	"github.com/uzimacare/uzimacare-backend/internal/metrics"
	"github.com/uzimacare/uzimacare-backend/internal/notification"
	"github.com/uzimacare/uzimacare-backend/internal/payment"
	"github.com/uzimacare/uzimacare-backend/internal/referral"
)

type RouterConfig struct {
	Bookings  *booking.Service
	Referrals *referral.Service
	Payments  *payment.Service
	Clinics   clinic.Repository
	Notifier  notification.Sink
	Metrics   *metrics.Collector
	PgPool    *pgxpool.Pool
	Redis     *redis.Client
	Log       zerolog.Logger
	Env       string
	Version   string
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(cfg.Log))
	if cfg.Metrics != nil {
		r.Use(MetricsMiddleware(cfg.Metrics))
	}

	health := NewHealthHandler(cfg.PgPool, cfg.Redis, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/clinics", func(r chi.Router) {
		r.Post("/", createClinicHandler(cfg.Clinics))
		r.Get("/", listClinicsHandler(cfg.Clinics))
		r.Get("/{id}", getClinicHandler(cfg.Clinics))
		r.Get("/{id}/availability", availabilityHandler(cfg.Bookings))
	})

	r.Route("/bookings", func(r chi.Router) {
		r.Post("/", createBookingHandler(cfg.Bookings))
		r.Get("/", listBookingsHandler(cfg.Bookings))
		r.Get("/{id}", getBookingHandler(cfg.Bookings))
		r.Patch("/{id}", updateBookingHandler(cfg.Bookings))
		r.Post("/{id}/cancel", cancelBookingHandler(cfg.Bookings))
		r.Post("/{id}/complete", completeBookingHandler(cfg.Bookings))
	})

	r.Route("/referrals", func(r chi.Router) {
		r.Post("/", createReferralHandler(cfg.Referrals))
		r.Get("/", listReferralsHandler(cfg.Referrals))
		r.Get("/token/{token}", getReferralByTokenHandler(cfg.Referrals))
		r.Get("/{id}", getReferralHandler(cfg.Referrals))
		r.Patch("/{id}", updateReferralHandler(cfg.Referrals))
		r.Post("/{id}/biodata", addBiodataHandler(cfg.Referrals))
		r.Post("/{id}/cancel", cancelReferralHandler(cfg.Referrals))
		r.Post("/{id}/complete", completeReferralHandler(cfg.Referrals))
	})

	r.Route("/payments", func(r chi.Router) {
		r.Post("/stk-push", stkPushHandler(cfg.Payments))
		r.Post("/callback", mpesaCallbackHandler(cfg.Payments, cfg.Notifier, cfg.Log))
		r.Get("/", listPaymentsHandler(cfg.Payments))
		r.Get("/{id}", getPaymentHandler(cfg.Payments))
		r.Get("/{id}/status", paymentStatusHandler(cfg.Payments))
	})

	return r
}

package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/uzimacare/uzimacare-backend/internal/api"
	"github.com/uzimacare/uzimacare-backend/internal/booking"
	"github.com/uzimacare/uzimacare-backend/internal/clinic"
	"github.com/uzimacare/uzimacare-backend/internal/config"
	"github.com/uzimacare/uzimacare-backend/internal/db"
	"github.com/uzimacare/uzimacare-backend/internal/metrics"
	"github.com/uzimacare/uzimacare-backend/internal/mpesa"
	"github.com/uzimacare/uzimacare-backend/internal/notification"
	"github.com/uzimacare/uzimacare-backend/internal/payment"
	redisclient "github.com/uzimacare/uzimacare-backend/internal/redis"
	"github.com/uzimacare/uzimacare-backend/internal/referral"
)

const version = "0.1.0"

func main() {
	cfg, err := config.Load()
	if err != nil {
		bootLog := zerolog.New(os.Stderr)
		bootLog.Fatal().Err(err).Msg("config load error")
	}

	log := newLogger(cfg.Env).With().Str("service", "api-server").Logger()
	log.Info().Str("env", cfg.Env).Str("http_port", cfg.HTTPPort).Msg("starting up")

	if err := cfg.RequireDaraja(); err != nil {
		log.Fatal().Err(err).Msg("incomplete gateway configuration")
	}

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.Connect(pgCtx, cfg.PostgresDSN)
	cancelPg()
	if err != nil {
		log.Fatal().Err(err).Msg("postgres connection error")
	}
	defer pgPool.Close()
	log.Info().Msg("connected to Postgres")

	rdb, err := redisclient.New(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("redis connection error")
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			log.Error().Err(err).Msg("error closing redis")
		}
	}()
	log.Info().Msg("connected to Redis")

	collector := metrics.NewCollector(prometheus.DefaultRegisterer)

	clinicRepo := clinic.NewPgRepository(pgPool)
	bookingRepo := booking.NewPgRepository(pgPool)
	referralRepo := referral.NewPgRepository(pgPool)
	paymentRepo := payment.NewPgRepository(pgPool)
	notifier := notification.NewPgSink(pgPool)

	locker := redisclient.NewRedisSlotLocker(rdb, cfg.LockTTL)
	gateway := mpesa.NewClient(cfg.Daraja, log)

	bookingSvc := booking.NewService(bookingRepo, clinicRepo, locker, notifier, cfg, log, collector)
	referralSvc := referral.NewService(referralRepo, log)
	paymentSvc := payment.NewService(paymentRepo, bookingRepo, referralRepo, clinicRepo, gateway, log, collector)

	router := api.NewRouter(api.RouterConfig{
		Bookings:  bookingSvc,
		Referrals: referralSvc,
		Payments:  paymentSvc,
		Clinics:   clinicRepo,
		Notifier:  notifier,
		Metrics:   collector,
		PgPool:    pgPool,
		Redis:     rdb,
		Log:       log,
		Env:       cfg.Env,
		Version:   version,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Info().Str("addr", srv.Addr).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("http server error")
		}
	}()

	<-rootCtx.Done()
	log.Info().Msg("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http shutdown error")
	}

	log.Info().Msg("api-server stopped")
}

func newLogger(env string) zerolog.Logger {
	if env == "dev" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stderr).With().Timestamp().Logger()
}

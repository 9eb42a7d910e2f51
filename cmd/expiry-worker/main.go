package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/uzimacare/uzimacare-backend/internal/booking"
	"github.com/uzimacare/uzimacare-backend/internal/clinic"
	"github.com/uzimacare/uzimacare-backend/internal/config"
	"github.com/uzimacare/uzimacare-backend/internal/db"
	"github.com/uzimacare/uzimacare-backend/internal/metrics"
	"github.com/uzimacare/uzimacare-backend/internal/notification"
	redisclient "github.com/uzimacare/uzimacare-backend/internal/redis"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		bootLog := zerolog.New(os.Stderr)
		bootLog.Fatal().Err(err).Msg("config load error")
	}

	log := newLogger(cfg.Env).With().Str("service", "expiry-worker").Logger()
	log.Info().Str("env", cfg.Env).Dur("interval", cfg.SweepInterval).Msg("starting up")

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

	bookingRepo := booking.NewPgRepository(pgPool)
	clinicRepo := clinic.NewPgRepository(pgPool)
	notifier := notification.NewPgSink(pgPool)
	locker := redisclient.NewRedisSlotLocker(rdb, cfg.LockTTL)

	svc := booking.NewService(bookingRepo, clinicRepo, locker, notifier, cfg, log, collector)

	// Run once at startup so a worker restart does not postpone overdue
	// expirations by a full interval.
	runOnce(rootCtx, svc, log)

	ticker := time.NewTicker(cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rootCtx.Done():
			log.Info().Msg("shutdown signal received, stopping expiry worker")
			return
		case <-ticker.C:
			runOnce(rootCtx, svc, log)
		}
	}
}

func runOnce(ctx context.Context, svc *booking.Service, log zerolog.Logger) {
	runCtx, cancel := context.WithTimeout(ctx, 20*time.Second)
	defer cancel()

	start := time.Now()
	expired, err := svc.ExpirePendingBookings(runCtx)
	if err != nil {
		log.Error().Err(err).Msg("expiry run error")
		return
	}
	log.Info().Int("expired", expired).Dur("took", time.Since(start)).Msg("expiry run complete")
}

func newLogger(env string) zerolog.Logger {
	if env == "dev" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stderr).With().Timestamp().Logger()
}

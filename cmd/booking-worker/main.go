package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/hackgods/clinic-booking/internal/appointment"
	"github.com/hackgods/clinic-booking/internal/booking"
	"github.com/hackgods/clinic-booking/internal/busy"
	"github.com/hackgods/clinic-booking/internal/clinic"
	"github.com/hackgods/clinic-booking/internal/config"
	"github.com/hackgods/clinic-booking/internal/db"
	"github.com/hackgods/clinic-booking/internal/invite"
	"github.com/hackgods/clinic-booking/internal/logging"
	"github.com/hackgods/clinic-booking/internal/notify"
	"github.com/hackgods/clinic-booking/internal/patient"
	redisclient "github.com/hackgods/clinic-booking/internal/redis"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		bootLog := logging.New("prod", "info")
		bootLog.Fatal().Err(err).Msg("config load error")
	}

	logger := logging.New(cfg.Env, cfg.LogLevel)
	log := logging.Component(logger, "booking-worker")
	log.Info().
		Dur("interval", cfg.WorkerInterval).
		Int("batch_size", cfg.WorkerBatchSize).
		Bool("smtp_enabled", cfg.SMTP.Enabled).
		Msg("booking worker starting up")

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Connect Postgres
	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN, db.PoolOptions{MaxConns: cfg.PostgresMaxConn})
	cancelPg()
	if err != nil {
		log.Fatal().Err(err).Msg("postgres connection error")
	}
	defer pgPool.Close()
	log.Info().Msg("connected to Postgres")

	rdb, err := redisclient.NewRedisClient(rootCtx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("redis connection error")
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			log.Error().Err(err).Msg("error closing redis")
		}
	}()
	log.Info().Msg("connected to Redis")

	directory := clinic.NewCachedDirectory(
		clinic.NewPgDirectory(pgPool),
		clinic.NewRedisCache(rdb),
		cfg.ScheduleCacheTTL,
		logging.Component(logger, "clinic"),
	)
	loader := busy.NewLoader(busy.NewPgStore(pgPool))
	store := booking.NewPgStore(pgPool)

	pipeline := booking.NewPipeline(booking.PipelineDeps{
		Store:    store,
		Clinics:  directory,
		Patients: patient.NewResolver(patient.NewPgStore(pgPool), cfg.DefaultPhoneRegion, logging.Component(logger, "patient")),
		Reserver: appointment.NewService(
			appointment.NewPgRepository(pgPool),
			redisclient.NewRedisPractitionerLocker(rdb, cfg.LockTTL, cfg.LockWait),
			loader,
			logging.Component(logger, "appointment"),
		),
		Blocks:   loader,
		Invites:  invite.NewIssuer(invite.NewPgStore(pgPool), cfg.InviteTTL, cfg.PublicBaseURL),
		Notifier: notify.NewDispatcher(notify.NewSMTPSender(cfg.SMTP), logging.Component(logger, "notify")),
		MinLead:  cfg.BookingMinLead,

		StaleLockAfter: cfg.BookingLockStaleAfter,
	}, logging.Component(logger, "pipeline"))

	worker := booking.NewWorker(store, pipeline, booking.WorkerConfig{
		BatchSize:         cfg.WorkerBatchSize,
		VisibilityTimeout: cfg.EventVisibilityTimeout,
		MaxAttempts:       cfg.EventMaxAttempts,
		HandleTimeout:     cfg.EventHandleTimeout,
	}, log)

	worker.Run(rootCtx, cfg.WorkerInterval)

	log.Info().Msg("shutdown signal received, booking worker stopped")
}

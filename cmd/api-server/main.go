package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/hackgods/clinic-booking/internal/api"
	"github.com/hackgods/clinic-booking/internal/appointment"
	"github.com/hackgods/clinic-booking/internal/auth"
	"github.com/hackgods/clinic-booking/internal/availability"
	"github.com/hackgods/clinic-booking/internal/booking"
	"github.com/hackgods/clinic-booking/internal/busy"
	"github.com/hackgods/clinic-booking/internal/clinic"
	"github.com/hackgods/clinic-booking/internal/config"
	"github.com/hackgods/clinic-booking/internal/db"
	"github.com/hackgods/clinic-booking/internal/invite"
	"github.com/hackgods/clinic-booking/internal/logging"
	redisclient "github.com/hackgods/clinic-booking/internal/redis"
)

const version = "0.1.0"

func main() {
	cfg, err := config.Load()
	if err != nil {
		bootLog := logging.New("prod", "info")
		bootLog.Fatal().Err(err).Msg("config load error")
	}

	logger := logging.New(cfg.Env, cfg.LogLevel)
	log := logging.Component(logger, "api-server")
	log.Info().Str("http_port", cfg.HTTPPort).Msg("api-server starting up")

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

	if cfg.AutoMigrate {
		n, err := db.NewMigrator(pgPool, nil, logging.Component(logger, "migrate")).Up(rootCtx)
		if err != nil {
			log.Fatal().Err(err).Msg("migration error")
		}
		log.Info().Int("applied", n).Msg("migrations up to date")
	}

	// Connect Redis
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

	secret := cfg.JWTSecret
	if secret == "" {
		log.Warn().Msg("JWT_SECRET not set, using the development secret")
		secret = "dev-secret"
	}
	authn := auth.NewAuthenticator(secret)

	directory := clinic.NewCachedDirectory(
		clinic.NewPgDirectory(pgPool),
		clinic.NewRedisCache(rdb),
		cfg.ScheduleCacheTTL,
		logging.Component(logger, "clinic"),
	)
	loader := busy.NewLoader(busy.NewPgStore(pgPool))

	appointments := appointment.NewService(
		appointment.NewPgRepository(pgPool),
		redisclient.NewRedisPractitionerLocker(rdb, cfg.LockTTL, cfg.LockWait),
		loader,
		logging.Component(logger, "appointment"),
	)

	router := api.NewRouter(api.RouterConfig{
		Availability: availability.NewService(directory, loader, logging.Component(logger, "availability")),
		Intake:       booking.NewIntake(booking.NewPgStore(pgPool), cfg.DefaultPhoneRegion, logging.Component(logger, "intake")),
		Appointments: appointments,
		Invites:      invite.NewIssuer(invite.NewPgStore(pgPool), cfg.InviteTTL, cfg.PublicBaseURL),
		Tokens:       authn,
		Authenticate: authn.Middleware(api.HandleError),
		Checks: []api.DependencyCheck{
			{Name: "postgres", Critical: true, Ping: pgPool.Ping},
			{Name: "redis", Ping: func(ctx context.Context) error { return rdb.Ping(ctx).Err() }},
		},
		Logger:  logging.Component(logger, "http"),
		Env:     cfg.Env,
		Version: version,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Info().Str("addr", srv.Addr).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("http server error")
			stop()
		}
	}()

	<-rootCtx.Done()

	log.Info().Msg("shutting down api-server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown failed")
	}
}

package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"github.com/medcal/calendar/internal/config"
	"github.com/medcal/calendar/internal/domain/availability"
	"github.com/medcal/calendar/internal/domain/calendar"
	"github.com/medcal/calendar/internal/platform/db"
	"github.com/medcal/calendar/internal/platform/lock"
	"github.com/medcal/calendar/internal/platform/metrics"
	"github.com/medcal/calendar/internal/platform/middleware"
)

func runServer() error {
	// Logger
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if os.Getenv("ENV") == "" || os.Getenv("ENV") == "development" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}

	// Config
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid config")
	}

	ctx := context.Background()

	// Store
	store, pool, err := openStore(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open store")
	}
	if pool != nil {
		defer pool.Close()
	}

	// Booking lock
	var (
		locker lock.Locker = lock.NewLocalLocker()
		checks []db.Check
	)
	if cfg.LockBackend == "redis" {
		client, err := lock.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to redis")
		}
		defer client.Close()
		locker = lock.NewRedisLocker(client, cfg.LockTTL)
		checks = append(checks, db.Check{
			Name: "redis",
			Ping: func(ctx context.Context) error { return client.Ping(ctx).Err() },
		})
		logger.Info().Msg("using redis booking lock")
	}

	m := metrics.New()
	svc := availability.NewService(store, locker, m, logger, serviceOptions(cfg))

	// Echo server
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Global middleware
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(m.Middleware())
	e.Use(middleware.SecurityHeaders())
	e.Use(middleware.BodyLimit("64K"))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost},
		AllowHeaders: []string{"Content-Type", middleware.RequestIDHeader},
	}))
	e.Use(middleware.RequestTimeout(cfg.RequestTimeout, "/metrics"))

	e.GET("/health", db.HealthHandler(pool, checks...))
	e.GET("/metrics", m.Handler())

	apiV1 := e.Group("/api/v1")
	availability.NewHandler(svc).RegisterRoutes(apiV1)

	// Graceful shutdown
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Str("env", cfg.Env).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Fatal().Err(err).Msg("server shutdown failed")
	}
	logger.Info().Msg("server stopped")
	return nil
}

// openStore connects to PostgreSQL when DATABASE_URL is set. Without it the
// server runs on an in-memory store loaded with the demo clinic.
func openStore(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (calendar.Store, *pgxpool.Pool, error) {
	if cfg.DatabaseURL == "" {
		store := calendar.NewMemoryStore()
		rep, err := calendar.Seed(ctx, store, calendar.DemoClinic())
		if err != nil {
			return nil, nil, err
		}
		logger.Warn().
			Int("doctors", rep.Doctors).
			Int("appointments", rep.Appointments).
			Msg("DATABASE_URL not set, using in-memory store with demo data")
		return store, nil, nil
	}

	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		return nil, nil, err
	}
	logger.Info().Msg("connected to database")
	return calendar.NewPGStore(pool), pool, nil
}

func serviceOptions(cfg *config.Config) availability.Options {
	return availability.Options{
		Granularity:       cfg.Granularity(),
		ShiftPriority:     cfg.ShiftPriority,
		TieBreak:          availability.TieBreak(cfg.TieBreak),
		BookingWindowDays: cfg.BookingWindowDays,
		MaxSearchDays:     cfg.EarliestMaxDays,
		Concurrency:       cfg.AvailabilityConcurrency,
		LockWait:          cfg.LockWait,
	}
}

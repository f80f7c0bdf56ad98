package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/medanta-hms/opd-queue-core/internal/api"
	"github.com/medanta-hms/opd-queue-core/internal/audit"
	"github.com/medanta-hms/opd-queue-core/internal/booking"
	"github.com/medanta-hms/opd-queue-core/internal/calendar"
	"github.com/medanta-hms/opd-queue-core/internal/config"
	"github.com/medanta-hms/opd-queue-core/internal/db"
	"github.com/medanta-hms/opd-queue-core/internal/identity"
	"github.com/medanta-hms/opd-queue-core/internal/metrics"
	redisclient "github.com/medanta-hms/opd-queue-core/internal/redis"
	"github.com/medanta-hms/opd-queue-core/pkg/logging"
)

const version = "0.1.0"

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Default().Error("config load error", "error", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.LogLevel)
	logger.Info("api-server starting", "env", cfg.Env, "http_port", cfg.HTTPPort)

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN)
	cancelPg()
	if err != nil {
		logger.Error("postgres connection error", "error", err)
		os.Exit(1)
	}
	defer pgPool.Close()
	logger.Info("connected to Postgres")

	rdb, err := redisclient.NewRedisClient(cfg.RedisAddr, cfg.RedisUsername, cfg.RedisPassword)
	if err != nil {
		logger.Error("redis connection error", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			logger.Warn("error closing redis", "error", err)
		}
	}()
	logger.Info("connected to Redis")

	repo := booking.NewPgRepository(pgPool)
	locker := redisclient.NewRedisSlotLocker(rdb, cfg.LockTTL)
	policy := calendar.NewPolicy(repo, cfg.MaxAdvanceDays)
	sink := audit.NewPgSink(pgPool, logger)
	bookingMetrics := metrics.NewBookingMetrics(nil)

	svc := booking.NewService(repo, locker, policy, sink, bookingMetrics, logger, booking.ServiceConfig{
		LockRetries:    cfg.LockRetries,
		LockRetryDelay: cfg.LockRetryDelay,
		CancelCutoff:   cfg.CancelCutoff,
	})

	issuer := identity.NewIssuer(identity.NewPgSequenceRepository(pgPool), cfg.PatientIDPrefix)
	registrar := identity.NewRegistrar(issuer, repo)

	router := api.NewRouter(api.RouterConfig{
		Bookings:  svc,
		Policy:    policy,
		Registrar: registrar,
		PgPool:    pgPool,
		Redis:     rdb,
		Logger:    logger,
		Env:       cfg.Env,
		Version:   version,
	})

	server := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("http server listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
			stop()
		}
	}()

	<-rootCtx.Done()
	logger.Info("shutting down api-server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", "error", err)
	}
}

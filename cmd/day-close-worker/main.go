package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/medanta-hms/opd-queue-core/internal/audit"
	"github.com/medanta-hms/opd-queue-core/internal/booking"
	"github.com/medanta-hms/opd-queue-core/internal/calendar"
	"github.com/medanta-hms/opd-queue-core/internal/config"
	"github.com/medanta-hms/opd-queue-core/internal/db"
	redisclient "github.com/medanta-hms/opd-queue-core/internal/redis"
	"github.com/medanta-hms/opd-queue-core/pkg/logging"
)

// The day-close worker sweeps bookings left pending or verified after
// their service day has passed and marks them no-show under the
// configured system actor.
func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Default().Error("config load error", "error", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.LogLevel)
	logger.Info("day-close-worker starting", "env", cfg.Env, "interval", cfg.WorkerInterval.String())

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

	repo := booking.NewPgRepository(pgPool)
	locker := redisclient.NewRedisSlotLocker(rdb, cfg.LockTTL)
	policy := calendar.NewPolicy(repo, cfg.MaxAdvanceDays)
	sink := audit.NewPgSink(pgPool, logger)

	svc := booking.NewService(repo, locker, policy, sink, nil, logger, booking.ServiceConfig{
		LockRetries:    cfg.LockRetries,
		LockRetryDelay: cfg.LockRetryDelay,
		CancelCutoff:   cfg.CancelCutoff,
	})

	actor := booking.Actor{ID: cfg.SystemActorID, Role: booking.RoleStaff}

	// Run once at startup
	runOnce(rootCtx, svc, actor, logger)

	ticker := time.NewTicker(cfg.WorkerInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rootCtx.Done():
			logger.Info("shutdown signal received, stopping day-close worker")
			return
		case <-ticker.C:
			runOnce(rootCtx, svc, actor, logger)
		}
	}
}

func runOnce(ctx context.Context, svc *booking.Service, actor booking.Actor, logger *logging.Logger) {
	runCtx, cancel := context.WithTimeout(ctx, 20*time.Second)
	defer cancel()

	start := time.Now()
	closed, err := svc.CloseOverdue(runCtx, actor)
	if err != nil {
		logger.Error("day-close run error", "error", err)
		return
	}
	logger.Info("day-close run complete", "closed", closed, "duration", time.Since(start).String())
}

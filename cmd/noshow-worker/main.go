package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/vaxpoint/vaccine-slot-booking/internal/booking"
	"github.com/vaxpoint/vaccine-slot-booking/internal/config"
	"github.com/vaxpoint/vaccine-slot-booking/internal/db"
	"github.com/vaxpoint/vaccine-slot-booking/internal/redlock"
)

func main() {
	log := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	log.Info("noshow-worker starting up")

	cfg, err := config.Load()
	if err != nil {
		log.Error("config load error", "error", err)
		os.Exit(1)
	}

	log.Info("running no-show worker", "env", cfg.Env, "interval", cfg.WorkerInterval, "grace", cfg.NoShowGrace)

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Connect Postgres
	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	// The sweep runs one query plus per-row updates, a couple of conns suffice.
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN, 2)
	cancelPg()
	if err != nil {
		log.Error("postgres connection error", "error", err)
		os.Exit(1)
	}
	defer pgPool.Close()
	log.Info("connected to Postgres")

	rdb, err := redlock.NewClient(cfg.RedisAddr, cfg.RedisUsername, cfg.RedisPassword)
	if err != nil {
		log.Error("redis connection error", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			log.Warn("error closing redis", "error", err)
		}
	}()
	log.Info("connected to Redis")

	repo := booking.NewPgRepository(pgPool)
	locker := redlock.NewDateSlotLocker(rdb, cfg.LockTTL)
	svc := booking.NewService(repo, locker, log)

	// Run once at startup
	runOnce(rootCtx, svc, cfg.NoShowGrace, log)

	ticker := time.NewTicker(cfg.WorkerInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rootCtx.Done():
			log.Info("shutdown signal received, stopping no-show worker")
			return
		case <-ticker.C:
			runOnce(rootCtx, svc, cfg.NoShowGrace, log)
		}
	}
}

func runOnce(ctx context.Context, svc *booking.Service, grace time.Duration, log *slog.Logger) {
	runCtx, cancel := context.WithTimeout(ctx, 20*time.Second)
	defer cancel()

	start := time.Now()
	swept, err := svc.SweepNoShows(runCtx, grace)
	if err != nil {
		log.Error("no-show sweep error", "error", err)
		return
	}
	log.Info("no-show sweep run complete", "swept", swept, "duration", time.Since(start))
}

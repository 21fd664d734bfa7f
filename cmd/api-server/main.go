package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/vaxpoint/vaccine-slot-booking/internal/api"
	"github.com/vaxpoint/vaccine-slot-booking/internal/booking"
	"github.com/vaxpoint/vaccine-slot-booking/internal/config"
	"github.com/vaxpoint/vaccine-slot-booking/internal/db"
	"github.com/vaxpoint/vaccine-slot-booking/internal/redlock"
)

const version = "0.3.0"

func main() {
	log := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	log.Info("api-server starting up", "version", version)

	cfg, err := config.Load()
	if err != nil {
		log.Error("config load error", "error", err)
		os.Exit(1)
	}

	log.Info("configuration loaded", "env", cfg.Env, "http_port", cfg.HTTPPort, "lock_ttl", cfg.LockTTL)

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Connect Postgres
	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN, cfg.PGMaxConns)
	cancelPg()
	if err != nil {
		log.Error("postgres connection error", "error", err)
		os.Exit(1)
	}
	defer pgPool.Close()
	log.Info("connected to Postgres")

	// Connect Redis
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

	router := api.NewRouter(api.RouterConfig{
		Service: svc,
		Logger:  log,
		PgPool:  pgPool,
		Redis:   rdb,
		Env:     cfg.Env,
		Version: version,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Info("listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server error", "error", err)
			stop()
		}
	}()

	<-rootCtx.Done()
	log.Info("shutting down api-server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("graceful shutdown failed", "error", err)
	}
}

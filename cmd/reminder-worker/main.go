package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hackgods/medibook/internal/appointment"
	"github.com/hackgods/medibook/internal/config"
	"github.com/hackgods/medibook/internal/db"
	"github.com/hackgods/medibook/internal/logger"
	"github.com/hackgods/medibook/internal/metrics"
	"github.com/hackgods/medibook/internal/notification"
	redisclient "github.com/hackgods/medibook/internal/redis"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load error", "error", err)
		os.Exit(1)
	}

	log := logger.SetupDefault(os.Stdout, cfg.LogLevel)
	log.Info("reminder-worker starting up",
		"env", cfg.Env,
		"interval", cfg.WorkerInterval,
		"window", cfg.ReminderWindow,
	)

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN)
	cancelPg()
	if err != nil {
		log.Error("postgres connection error", "error", err)
		os.Exit(1)
	}
	defer pgPool.Close()
	log.Info("connected to Postgres")

	rdb, err := redisclient.NewRedisClient(rootCtx, redisclient.Options{
		Addr:     cfg.RedisAddr,
		Username: cfg.RedisUsername,
		Password: cfg.RedisPassword,
		PoolSize: 4,
	})
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

	rec := metrics.NewCollector(prometheus.NewRegistry())
	dispatcher := notification.NewDispatcher(notification.NewPgRepository(pgPool), redisclient.NewPubSubBroker(rdb), rec, log)
	defer dispatcher.Wait()

	repo := appointment.NewPgRepository(pgPool)
	locker := redisclient.NewRedisSlotLocker(rdb, cfg.LockTTL)
	svc := appointment.NewService(repo, locker, dispatcher, rec, cfg, log)

	// Run once at startup
	runOnce(rootCtx, log, svc)

	ticker := time.NewTicker(cfg.WorkerInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rootCtx.Done():
			log.Info("shutdown signal received, stopping reminder worker")
			return
		case <-ticker.C:
			runOnce(rootCtx, log, svc)
		}
	}
}

func runOnce(ctx context.Context, log *slog.Logger, svc *appointment.Service) {
	runCtx, cancel := context.WithTimeout(ctx, 20*time.Second)
	defer cancel()

	start := time.Now()
	sent, err := svc.SendReminders(runCtx)
	if err != nil {
		log.Error("reminder run error", "error", err)
		return
	}
	log.Info("reminder run complete", "sent", sent, "duration_ms", time.Since(start).Milliseconds())
}

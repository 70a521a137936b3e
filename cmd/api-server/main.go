package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/hackgods/medibook/internal/api"
	"github.com/hackgods/medibook/internal/appointment"
	"github.com/hackgods/medibook/internal/auth"
	"github.com/hackgods/medibook/internal/availability"
	"github.com/hackgods/medibook/internal/config"
	"github.com/hackgods/medibook/internal/db"
	"github.com/hackgods/medibook/internal/doctor"
	"github.com/hackgods/medibook/internal/logger"
	"github.com/hackgods/medibook/internal/metrics"
	"github.com/hackgods/medibook/internal/notification"
	"github.com/hackgods/medibook/internal/payment"
	"github.com/hackgods/medibook/internal/realtime"
	redisclient "github.com/hackgods/medibook/internal/redis"
	"github.com/hackgods/medibook/internal/review"
	"github.com/hackgods/medibook/internal/user"
)

var version = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load error", "error", err)
		os.Exit(1)
	}

	log := logger.SetupDefault(os.Stdout, cfg.LogLevel)
	log.Info("api-server starting up", "env", cfg.Env, "http_port", cfg.HTTPPort, "version", version)

	if cfg.SentryDSN != "" {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:              cfg.SentryDSN,
			Environment:      cfg.Env,
			Release:          version,
			TracesSampleRate: 0.2,
		}); err != nil {
			log.Error("sentry init failed", "error", err)
		} else {
			defer sentry.Flush(2 * time.Second)
		}
	}

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.RunMigrations {
		if err := db.RunMigrations(cfg.PostgresDSN); err != nil {
			log.Error("migrations failed", "error", err)
			os.Exit(1)
		}
		log.Info("migrations applied")
	}

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

	verifier := auth.NewVerifier(cfg.JWTSecret)
	if cfg.JWKSURL != "" {
		verifier, err = auth.NewJWKSVerifier(cfg.JWKSURL, cfg.JWKSRefresh, log)
		if err != nil {
			log.Error("jwks load error", "error", err)
			os.Exit(1)
		}
		defer verifier.Close()
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	rec := metrics.NewCollector(reg)

	broker := redisclient.NewPubSubBroker(rdb)
	dispatcher := notification.NewDispatcher(notification.NewPgRepository(pgPool), broker, rec, log)

	users := user.NewPgRepository(pgPool)
	slots := availability.NewManager(availability.NewPgRepository(pgPool), cfg.ClinicTimezone, log)
	reviews := review.NewService(review.NewPgRepository(pgPool), rec, log)
	doctors := doctor.NewService(doctor.NewPgRepository(pgPool), reviews, slots, log)

	locker := redisclient.NewRedisSlotLocker(rdb, cfg.LockTTL).WithWait(cfg.LockWait)
	appointments := appointment.NewService(appointment.NewPgRepository(pgPool), locker, dispatcher, rec, cfg, log)

	var gateway payment.Gateway
	if cfg.PaymentsEnabled() {
		gateway = payment.NewHTTPGateway(cfg.PaymentAPIURL, cfg.PaymentAPIKey, nil, log)
	} else {
		log.Warn("payment gateway not configured; payment creation and refunds are disabled")
	}
	payments := payment.NewService(gateway, appointments, cfg.PaymentWebhookSecret, cfg.PaymentCurrency, log)

	limiter := api.NewRateLimiter(cfg.BookingRatePerMinute, cfg.BookingBurst, 10*time.Minute)
	defer limiter.Stop()

	health := api.NewHealthHandler(cfg.Env, version,
		api.Dependency{Name: "postgres", Check: pgPool.Ping, Critical: true},
		api.Dependency{Name: "redis", Check: func(ctx context.Context) error { return rdb.Ping(ctx).Err() }},
	)

	handler := api.NewRouter(api.RouterDeps{
		Doctors:       doctors,
		Slots:         slots,
		Appointments:  appointments,
		Payments:      payments,
		Reviews:       reviews,
		Notifications: dispatcher,
		Users:         users,
		Verifier:      verifier,
		RateLimiter:   limiter,
		Realtime:      realtime.NewHandler(broker, verifier, log),
		Health:        health,
		Metrics:       rec,
		MetricsHTTP:   metrics.Handler(reg),
		Logger:        log,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return rootCtx },
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("http server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-rootCtx.Done():
		log.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			log.Error("http server error", "error", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http server shutdown error", "error", err)
	}
	dispatcher.Wait()

	log.Info("api-server stopped")
}

package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/lalithlochan/nudge/internal/analytics"
	"github.com/lalithlochan/nudge/internal/api"
	"github.com/lalithlochan/nudge/internal/circuitbreaker"
	"github.com/lalithlochan/nudge/internal/clock"
	"github.com/lalithlochan/nudge/internal/config"
	"github.com/lalithlochan/nudge/internal/db"
	"github.com/lalithlochan/nudge/internal/kv"
	"github.com/lalithlochan/nudge/internal/ledger"
	"github.com/lalithlochan/nudge/internal/metrics"
	"github.com/lalithlochan/nudge/internal/notifier"
	"github.com/lalithlochan/nudge/internal/observ"
	"github.com/lalithlochan/nudge/internal/platform"
	"github.com/lalithlochan/nudge/internal/reconcile"
	"github.com/lalithlochan/nudge/internal/redis"
	"github.com/lalithlochan/nudge/internal/store"
	"github.com/lalithlochan/nudge/internal/worker"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Load config
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// Setup logger
	logger, err := observ.NewLogger("nudged", cfg.Env, cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	loc := cfg.Location()
	logger.Info("starting nudge daemon",
		zap.String("env", cfg.Env),
		zap.Int("port", cfg.Port),
		zap.String("timezone", loc.String()),
		zap.String("ledger_backend", cfg.LedgerBackend),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	clk := clock.New()

	// Storage for the domain snapshot and the delivery ledger
	storage, redisClient, closeStorage, err := openStorage(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStorage()

	st := store.New(ctx, storage, logger)
	led := ledger.New(storage, cfg.LedgerRetentionDays, logger)

	// The scheduler is in-memory; the last known permission answer survives
	// restarts through the stored preferences.
	scheduler := platform.NewLocal(platform.LocalConfig{
		Location:          loc,
		GrantOnRequest:    cfg.GrantPermissions,
		InitialPermission: st.Snapshot().Preferences.OSPermissionStatus,
	}, clk, logger)

	// Analytics
	trackers := analytics.Multi{analytics.NewLogTracker(logger), analytics.MetricsTracker{}}
	if cfg.AnalyticsQueueURL != "" {
		sqsTracker, err := analytics.NewSQSTracker(ctx, analytics.SQSConfig{
			Region:   cfg.SQSRegion,
			QueueURL: cfg.AnalyticsQueueURL,
		}, logger)
		if err != nil {
			logger.Warn("sqs analytics unavailable, events will not be exported",
				zap.Error(err),
			)
		} else {
			trackers = append(trackers, sqsTracker)
			go sqsTracker.Run(ctx)
		}
	}

	svc := notifier.New(notifier.Deps{
		Scheduler: scheduler,
		Ledger:    led,
		Store:     st,
		Tracker:   trackers,
		Clock:     clk,
		Logger:    logger,
	}, notifier.Config{
		Location:   loc,
		DailyCap:   cfg.DailyNudgeCap,
		MinSpacing: time.Duration(cfg.NudgeSpacingHours) * time.Hour,
	})
	unsubscribe := st.Subscribe(svc.HandleStateChange)
	defer unsubscribe()
	svc.Init(ctx)

	// Transports for fired notifications
	senders := []worker.Sender{worker.NewLogSender(logger)}
	if cfg.PushEndpointARN != "" {
		snsSender, err := worker.NewSNSSender(ctx, worker.SNSConfig{
			Region:    cfg.SNSRegion,
			TargetARN: cfg.PushEndpointARN,
		}, logger)
		if err != nil {
			logger.Warn("SNS sender unavailable, mobile push disabled",
				zap.Error(err),
			)
		} else {
			senders = append(senders, protect(snsSender, clk, logger))
		}
	}
	if cfg.WebhookURL != "" {
		webhookSender := worker.NewWebhookSender(logger, worker.WebhookConfig{
			URL:     cfg.WebhookURL,
			Timeout: time.Duration(cfg.WebhookTimeout) * time.Second,
		})
		senders = append(senders, protect(webhookSender, clk, logger))
	}

	logger.Info("initialized delivery transports",
		zap.Int("count", len(senders)),
		zap.Bool("push_enabled", cfg.PushEndpointARN != ""),
		zap.Bool("webhook_enabled", cfg.WebhookURL != ""),
	)

	w := worker.New(scheduler, worker.NewMultiSender(logger, senders...), clk, worker.Config{
		PollInterval: cfg.DispatchInterval,
	}, logger)
	w.OnDelivered(svc.HandleReceived)
	go w.Start(ctx)

	// Reconciliation
	var locker reconcile.Locker = &reconcile.LocalLocker{}
	if redisClient != nil {
		locker = redis.NewLock(redisClient, "reconcile", 2*time.Minute, logger)
	}
	task := reconcile.NewTask(svc, scheduler, led, st, clk, reconcile.DefaultConfig(), logger)
	runner := reconcile.NewRunner(task, locker, cfg.ReconcileInterval, logger)
	go runner.Start(ctx)

	logger.Info("background loops started")

	// Setup router
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(metrics.Middleware)
	r.Use(api.RequestLogger(logger))

	handler := api.NewHandler(logger, api.Deps{
		Store:      st,
		Notifier:   svc,
		Reconciler: runner,
		Scheduler:  scheduler,
		Ledger:     led,
		Now:        clk.Now,
	})
	handler.Mount(r)

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	// Prometheus metrics endpoint
	r.Handle("/metrics", metrics.Handler())

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("server listening", zap.String("addr", srv.Addr))
		serverErrors <- srv.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		return fmt.Errorf("server error: %w", err)
	case sig := <-shutdown:
		logger.Info("shutdown signal received", zap.String("signal", sig.String()))

		// Stop the loops first so no pass starts mid-shutdown.
		cancel()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			srv.Close()
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}

		logger.Info("server stopped gracefully")
	}

	return nil
}

// openStorage selects the key-value backend. Redis falls back to memory
// when unreachable; Postgres does not. The redis client is returned for the
// reconcile lock and is nil for the other backends.
func openStorage(ctx context.Context, cfg *config.Config, logger *zap.Logger) (kv.Store, *redis.Client, func(), error) {
	switch cfg.LedgerBackend {
	case config.BackendPostgres:
		database, err := db.New(ctx, db.Config{
			Host:     cfg.DBHost,
			Port:     cfg.DBPort,
			User:     cfg.DBUser,
			Password: cfg.DBPassword,
			Database: cfg.DBName,
			SSLMode:  cfg.DBSSLMode,
		}, logger)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		logger.Info("database connection established",
			zap.String("host", cfg.DBHost),
			zap.Int("port", cfg.DBPort),
			zap.String("database", cfg.DBName),
		)
		return db.NewKVRepository(database, logger), nil, database.Close, nil

	case config.BackendRedis:
		client, err := redis.New(ctx, redis.Config{
			Host:      cfg.RedisHost,
			Port:      cfg.RedisPort,
			Password:  cfg.RedisPassword,
			DB:        cfg.RedisDB,
			KeyPrefix: "nudge",
		}, logger)
		if err != nil {
			logger.Warn("redis unavailable, ledger kept in memory",
				zap.Error(err),
				zap.String("host", cfg.RedisHost),
			)
			return kv.NewMemory(), nil, func() {}, nil
		}
		return redis.NewKVStore(client), client, func() { _ = client.Close() }, nil

	default:
		return kv.NewMemory(), nil, func() {}, nil
	}
}

func protect(s worker.Sender, clk clock.Clocker, logger *zap.Logger) worker.Sender {
	breaker := circuitbreaker.New(circuitbreaker.DefaultConfig(s.Name()), clk, logger)
	return circuitbreaker.NewProtectedSender(s, breaker, logger)
}

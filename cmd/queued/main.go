// File: cmd/queued/main.go
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"ai-request-queue/internal/config"
	"ai-request-queue/internal/domain/model"
	"ai-request-queue/internal/domain/policy"
	"ai-request-queue/internal/domain/ports/adapter"
	"ai-request-queue/internal/infra/api"
	"ai-request-queue/internal/infra/audit"
	"ai-request-queue/internal/infra/fsqueue"
	"ai-request-queue/internal/infra/logging"
	"ai-request-queue/internal/infra/metrics"
	"ai-request-queue/internal/infra/natsbus"
	red "ai-request-queue/internal/infra/redis"
	"ai-request-queue/internal/infra/sched"
	"ai-request-queue/internal/usecase"
)

var (
	version = "dev"
	commit  = "none"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ---- CLI flags ----
	cfgPath := flag.String("config", "config.yaml", "path to YAML config file")
	devMode := flag.Bool("dev", false, "enable developer mode (console logs, no sampling)")
	flag.Parse()

	cfg, err := config.LoadConfig(*cfgPath, *devMode)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger := logging.New(cfg.Log, cfg.Runtime.Dev)
	metrics.MustRegister()
	metrics.SetBuildInfo(version, commit)
	logger.Info().Str("version", version).Str("root", cfg.Queue.Root).Msg("starting request queue daemon")

	// ---- Queue store ----
	store := fsqueue.New(cfg.Queue.Root)
	if err := store.Init(); err != nil {
		logger.Fatal().Err(err).Msg("queue init")
	}

	// ---- Policy ----
	timeouts, err := cfg.Policy.TimeoutPolicy()
	if err != nil {
		logger.Fatal().Err(err).Msg("timeout policy")
	}

	// ---- Redis (optional scan lock) ----
	opts := usecase.ScannerOptions{
		AgeSource: usecase.AgeSource(cfg.Policy.AgeSource),
		LockKey:   cfg.Redis.LockKey,
		LockTTL:   cfg.Redis.LockTTL,
	}
	if cfg.Redis.URL != "" {
		redisClient, err := red.NewClient(ctx, &cfg.Redis)
		if err != nil {
			logger.Fatal().Err(err).Msg("redis")
		}
		defer redisClient.Close()
		opts.Locker = red.NewLocker(redisClient)
		logger.Info().Str("key", cfg.Redis.LockKey).Msg("scan lock enabled")
	}

	// ---- Transition sinks: SQLite history, NATS events ----
	var sinks []adapter.TransitionSink
	var history *audit.Log
	if cfg.Audit.Path != "" {
		history, err = audit.Open(cfg.Audit.Path)
		if err != nil {
			logger.Fatal().Err(err).Msg("audit log")
		}
		defer history.Close()
		sinks = append(sinks, history)
		logger.Info().Str("path", cfg.Audit.Path).Msg("transition history enabled")
	}
	var bus *natsbus.Publisher
	if cfg.NATS.URL != "" {
		bus, err = natsbus.Connect(cfg.NATS.URL, cfg.NATS.SubjectPrefix, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("nats")
		}
		defer bus.Close()
		sinks = append(sinks, bus)
		logger.Info().Str("prefix", cfg.NATS.SubjectPrefix).Msg("transition events enabled")
	}
	opts.Sink = usecase.FanOut(sinks...)

	// ---- Use cases ----
	scannerUC := usecase.NewScannerUseCase(store, timeouts, policy.NewClassifier(), opts, logger)
	healthUC := usecase.NewHealthUseCase(store, scannerUC, logger)
	queueUC := usecase.NewQueueUseCase(store, logger).WithSink(opts.Sink).WithDev(cfg.Runtime.Dev)

	// ---- Health refresher ----
	var watchDirs []string
	if cfg.Queue.Watch {
		for _, st := range model.AllStates {
			watchDirs = append(watchDirs, store.Dir(st))
		}
	}
	refresher := sched.NewHealthRefresher(cfg.Queue.HealthInterval, healthUC, watchDirs, logger)
	if bus != nil && cfg.NATS.Heartbeat {
		refresher.OnSnapshot(bus.PublishHealth)
	}
	if err := refresher.Start(ctx); err != nil {
		logger.Fatal().Err(err).Msg("health refresher")
	}
	defer refresher.Stop()

	// ---- Scan worker ----
	worker := sched.NewScanWorker(cfg.Queue.ScanInterval, cfg.Queue.ScanOnStartEnabled(), scannerUC, logger).
		AfterScan(refresher.Trigger)
	go func() {
		if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error().Err(err).Msg("scan worker stopped")
		}
	}()

	// ---- Admin HTTP server ----
	auth := api.NewAuthManager(cfg.Admin.JWTSecret, cfg.Admin.TokenTTL)
	if auth == nil {
		logger.Warn().Msg("admin.jwt_secret not set; /api/v1 routes are disabled")
	}
	srv := api.NewServer(scannerUC, healthUC, queueUC, auth, logger).WithHealthGate(cfg.Admin.Unhealthy503)
	if history != nil {
		srv.WithHistory(history)
	}
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Admin.Port),
		Handler:           srv.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info().Str("addr", server.Addr).Msg("admin http listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("http server error")
			cancel()
		}
	}()

	// ---- Graceful shutdown ----
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sigc:
		logger.Info().Msg("shutdown requested")
	case <-ctx.Done():
	}
	cancel()

	shutdownCtx, done := context.WithTimeout(context.Background(), 10*time.Second)
	defer done()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("http shutdown")
	}
}

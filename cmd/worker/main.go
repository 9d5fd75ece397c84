package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"bulk-operations-engine/internal/config"
	"bulk-operations-engine/internal/models"
	"bulk-operations-engine/internal/queue"
	"bulk-operations-engine/internal/store"
	"bulk-operations-engine/internal/telemetry"
	"bulk-operations-engine/internal/worker"
)

func main() {
	cfg := config.Load()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
		<-ch
		cancel()
	}()

	st, err := store.New(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatalf("connect postgres: %v", err)
	}
	defer st.Close()

	if err := st.RunMigrations(ctx); err != nil {
		log.Fatalf("migrations: %v", err)
	}

	q := queue.NewRedisQueue(cfg)
	orchestrator := worker.NewOrchestrator(cfg, q, st, logger)

	exportHandler, err := worker.NewExportHandler(ctx, cfg)
	if err != nil {
		log.Fatalf("init export handler: %v", err)
	}
	orchestrator.RegisterHandler(models.TypeAnalyticsExport, exportHandler.Handle)

	go func() {
		if err := http.ListenAndServe(cfg.MetricsAddr, telemetry.Handler()); err != nil {
			logger.Error("metrics server stopped", "err", err)
		}
	}()

	logger.Info("worker started",
		"visibility", cfg.VisibilityTimeout.String(),
		"poll_interval", cfg.WorkerPollInterval.String(),
		"timeout_factor", cfg.TimeoutFactor)
	if err := orchestrator.Run(ctx); err != nil {
		logger.Info("worker stopped", "err", err)
	}
}

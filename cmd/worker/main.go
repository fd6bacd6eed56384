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

	"github.com/robfig/cron/v3"

	"github.com/kirillkom/trading-knowledge/internal/bootstrap"
	"github.com/kirillkom/trading-knowledge/internal/config"
	"github.com/kirillkom/trading-knowledge/internal/observability/logging"
	"github.com/kirillkom/trading-knowledge/internal/observability/metrics"
)

const serviceName = "worker"

func main() {
	cfg := config.Load()
	logger := logging.NewJSONLogger(serviceName, cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx, cfg, serviceName, logger)
	if err != nil {
		logger.Error("bootstrap_failed", "error", err)
		os.Exit(1)
	}
	defer app.Close()

	workerMetrics := metrics.NewWorkerMetrics(serviceName)
	mux := http.NewServeMux()
	mux.Handle("/metrics", workerMetrics.Handler())
	metricsServer := &http.Server{
		Addr:              ":" + cfg.WorkerMetricsPort,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("worker_metrics_server_failed", "error", err)
		}
	}()

	sweep := func() {
		start := time.Now()
		workerMetrics.StartSweep()
		sweepCtx, cancel := context.WithTimeout(ctx, 5*time.Minute)
		defer cancel()

		failed, err := app.Sweeper.Sweep(sweepCtx)
		workerMetrics.FinishSweep(serviceName, failed, time.Since(start), err)
		if err != nil {
			logger.Error("stale_sweep_failed", "failed_documents", failed, "error", err)
			return
		}
		if failed > 0 {
			logger.Info("stale_sweep_finished", "failed_documents", failed)
		}
	}

	scheduler := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	if _, err := scheduler.AddFunc(cfg.StaleSweepSchedule, sweep); err != nil {
		logger.Error("invalid_sweep_schedule", "schedule", cfg.StaleSweepSchedule, "error", err)
		os.Exit(1)
	}
	scheduler.Start()
	logger.Info("worker_started", "schedule", cfg.StaleSweepSchedule, "stale_after", cfg.StaleAfter.String())

	<-ctx.Done()
	<-scheduler.Stop().Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("worker_metrics_shutdown_failed", "error", err)
	}
}

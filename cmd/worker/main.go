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

	"github.com/kirillkom/tagging-coordinator/internal/bootstrap"
	"github.com/kirillkom/tagging-coordinator/internal/config"
	"github.com/kirillkom/tagging-coordinator/internal/core/domain"
	"github.com/kirillkom/tagging-coordinator/internal/observability/logging"
	"github.com/kirillkom/tagging-coordinator/internal/observability/metrics"
)

const serviceName = "tagging-worker"

func main() {
	cfg := config.Load()
	slog.SetDefault(logging.NewJSONLogger(serviceName, cfg.LogLevel))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	workerMetrics := metrics.NewWorkerMetrics(serviceName)
	app, err := bootstrap.New(ctx, cfg, workerMetrics)
	if err != nil {
		slog.Error("bootstrap_failed", "error", err)
		os.Exit(1)
	}
	defer app.Close()

	mux := http.NewServeMux()
	mux.Handle("GET /metrics", workerMetrics.Handler())
	metricsServer := &http.Server{
		Addr:              ":" + cfg.WorkerMetricsPort,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	metricsLog := logging.Component(slog.Default(), "metrics")
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			metricsLog.Error("metrics_server_failed", "error", err)
		}
	}()

	go app.ReclaimUC.Run(ctx, cfg.ReclaimInterval)

	onboardLog := logging.Component(slog.Default(), "onboarding")
	onboardLog.Info("worker_subscribed", "subject", cfg.NATSSubject, "reclaim_interval", cfg.ReclaimInterval.String())
	err = app.Queue.SubscribeOnboardRequests(ctx, func(handlerCtx context.Context, req domain.OnboardRequest) error {
		processCtx, cancel := context.WithTimeout(handlerCtx, cfg.OnboardTimeout)
		defer cancel()

		workerMetrics.StartOnboard()
		start := time.Now()
		_, err := app.OnboardUC.Process(processCtx, req)
		workerMetrics.FinishOnboard(time.Since(start), err)
		return err
	})

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = metricsServer.Shutdown(shutdownCtx)

	if err != nil {
		onboardLog.Error("worker_subscribe_failed", "error", err)
		app.Close()
		os.Exit(1)
	}
}

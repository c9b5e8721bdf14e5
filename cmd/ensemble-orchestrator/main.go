// Ensemble Orchestrator — выполняет запросы из очереди.
//
// Orchestrator:
//   - Получает orchestration.requested из RabbitMQ
//   - Строит план и граф, выполняет узлы уровнями
//   - Коррелирует результаты, прогоняет quality gate, синтезирует артефакт
//   - Сохраняет run в PostgreSQL и публикует run.finished
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/shaiso/Ensemble/internal/app"
	"github.com/shaiso/Ensemble/internal/config"
	"github.com/shaiso/Ensemble/internal/orchestrator"
	"github.com/shaiso/Ensemble/internal/telemetry"
)

func main() {
	// Инициализируем structured logging
	logger := telemetry.SetupLogger("ensemble-orchestrator")
	logger.Info("starting ensemble-orchestrator")

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	// graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	res := app.Open(ctx, cfg, logger)
	defer res.Close()

	if res.Conn == nil {
		logger.Error("RabbitMQ is required for ensemble-orchestrator")
		os.Exit(1)
	}

	engine, err := app.Build(cfg, res.Infra(), logger)
	if err != nil {
		logger.Error("failed to build engine", "error", err)
		os.Exit(1)
	}

	svc := orchestrator.NewService(orchestrator.ServiceConfig{
		Orchestrator: engine.Orchestrator,
		Conn:         res.Conn,
		Prefetch:     cfg.Engine.Prefetch,
		Logger:       logger,
	})

	if err := svc.Start(ctx); err != nil {
		logger.Error("failed to start orchestrator", "error", err)
		os.Exit(1)
	}

	// HTTP mux: /healthz + /metrics
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		if svc.IsStopped() || !res.Conn.IsConnected() {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("unavailable"))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", promhttp.Handler())

	addr := ":" + cfg.Server.OrchestratorPort
	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("listening", "addr", addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
			cancel()
		}
	}()

	// Ожидаем сигнал завершения
	<-ctx.Done()

	// Останавливаем consumer и дожидаемся текущих runs
	svc.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = server.Shutdown(shutdownCtx)

	logger.Info("ensemble-orchestrator stopped")
}

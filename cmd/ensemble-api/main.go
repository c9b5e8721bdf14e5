// Ensemble API — HTTP API оркестратора.
//
// API:
//   - Выполняет запросы синхронно (тот же движок, что и в orchestrator)
//   - Ставит запросы в очередь RabbitMQ (async)
//   - Отдаёт сохранённые runs, итоги узлов и реестр агентов
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/shaiso/Ensemble/internal/api"
	"github.com/shaiso/Ensemble/internal/app"
	"github.com/shaiso/Ensemble/internal/config"
	"github.com/shaiso/Ensemble/internal/telemetry"
)

var (
	startTime = time.Now()
	reqTotal  = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ensemble_api_http_requests_total",
		Help: "Total HTTP requests handled by ensemble-api",
	})
)

func main() {
	// Инициализируем structured logging
	logger := telemetry.SetupLogger("ensemble-api")
	logger.Info("starting ensemble-api")

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	res := app.Open(ctx, cfg, logger)
	defer res.Close()

	engine, err := app.Build(cfg, res.Infra(), logger)
	if err != nil {
		logger.Error("failed to build engine", "error", err)
		os.Exit(1)
	}
	logger.Info("engine ready", "agents", engine.Registry.Len(), "plans", len(cfg.Plans))

	apiCfg := api.Config{
		Orchestrator: engine.Orchestrator,
		Agents:       engine.Registry,
		Logger:       logger,
	}
	if res.Store != nil {
		apiCfg.Runs = res.Store
	}
	if res.Publisher != nil {
		apiCfg.Publisher = res.Publisher
	}
	handler := api.NewHandler(apiCfg)

	mux := http.NewServeMux()

	// Health и metrics
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		reqTotal.Inc()
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, "ok %s", time.Since(startTime))
	})
	mux.Handle("/metrics", promhttp.Handler())

	// Регистрируем API маршруты
	handler.RegisterRoutes(mux)

	addr := ":" + cfg.Server.APIPort

	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("listening", "addr", addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
			cancel()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	// Синхронные runs дорабатывают до таймаута, затем отменяются
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
	}

	logger.Info("stopped")
}

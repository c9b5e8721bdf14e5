// Package telemetry обеспечивает наблюдаемость.
//
// Включает:
//   - logging.go — structured logging через slog
//   - metrics.go — Prometheus метрики агентов, уровней, runs и RabbitMQ
//
// Метрики регистрируются в глобальном реестре и отдаются на /metrics.
package telemetry

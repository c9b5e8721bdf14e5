package telemetry

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
)

// Ключи атрибутов, общие для всех сервисов. По ним в логах собирается
// история одного run: запрос API → run → узел → вызов агента.
const (
	KeyService       = "service"
	KeyRequestID     = "request_id"
	KeyRunID         = "run_id"
	KeyTaskID        = "task_id"
	KeyAgent         = "agent"
	KeyCorrelationID = "correlation_id"
)

// LogLevel читает уровень из LOG_LEVEL (DEBUG, INFO, WARN, ERROR,
// допускаются смещения вида WARN+2). Пустое или неверное значение — INFO.
func LogLevel() slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(os.Getenv("LOG_LEVEL")))); err != nil {
		return slog.LevelInfo
	}
	return level
}

// SetupLogger создаёт логгер сервиса и делает его глобальным.
//
// LOG_FORMAT=text включает текстовый вывод для локальной разработки,
// иначе пишется JSON. Каждая запись содержит поле service.
func SetupLogger(service string) *slog.Logger {
	logger := NewLogger(os.Stdout, os.Getenv("LOG_FORMAT"), LogLevel()).With(KeyService, service)
	slog.SetDefault(logger)
	return logger
}

// NewLogger создаёт логгер с заданным форматом и уровнем.
// На уровне DEBUG в запись добавляется место вызова.
func NewLogger(w io.Writer, format string, level slog.Level) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level <= slog.LevelDebug,
	}

	if strings.EqualFold(format, "text") {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

// Discard возвращает логгер, который ничего не пишет.
func Discard() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

type loggerKey struct{}

// WithLogger кладёт логгер в контекст запроса или run.
func WithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey{}, logger)
}

// FromContext возвращает логгер из контекста или глобальный.
func FromContext(ctx context.Context) *slog.Logger {
	if logger, ok := ctx.Value(loggerKey{}).(*slog.Logger); ok {
		return logger
	}
	return slog.Default()
}

func WithRequestID(logger *slog.Logger, id string) *slog.Logger {
	return logger.With(KeyRequestID, id)
}

func WithRunID(logger *slog.Logger, runID string) *slog.Logger {
	return logger.With(KeyRunID, runID)
}

func WithTaskID(logger *slog.Logger, taskID string) *slog.Logger {
	return logger.With(KeyTaskID, taskID)
}

// WithCall помечает записи одного вызова агента.
func WithCall(logger *slog.Logger, agent, correlationID string) *slog.Logger {
	return logger.With(KeyAgent, agent, KeyCorrelationID, correlationID)
}

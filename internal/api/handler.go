package api

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/shaiso/Ensemble/internal/agent"
	"github.com/shaiso/Ensemble/internal/domain"
	"github.com/shaiso/Ensemble/internal/mq"
	"github.com/shaiso/Ensemble/internal/repo"
)

// Orchestrator выполняет запрос синхронно. Реализуется orchestrator.Orchestrator.
type Orchestrator interface {
	Orchestrate(ctx context.Context, query string, runCtx map[string]any) (domain.OrchestrationResult, error)
}

// RunReader читает сохранённые runs. Реализуется repo.Store.
type RunReader interface {
	GetRun(ctx context.Context, id uuid.UUID) (*domain.OrchestrationRun, error)
	ListRuns(ctx context.Context, filter repo.RunFilter) ([]domain.OrchestrationRun, error)
	ListOutcomes(ctx context.Context, runID uuid.UUID) ([]domain.TaskOutcome, error)
}

// RequestPublisher ставит запрос в очередь. Реализуется mq.Publisher.
type RequestPublisher interface {
	PublishOrchestrationRequested(ctx context.Context, payload mq.OrchestrationRequestedPayload) error
}

// AgentLister отдаёт реестр агентов. Реализуется agent.Registry.
type AgentLister interface {
	List() []agent.AgentRef
}

// Handler — главный обработчик API с зависимостями.
type Handler struct {
	orchestrator Orchestrator
	runs         RunReader
	publisher    RequestPublisher
	agents       AgentLister
	logger       *slog.Logger
}

// Config — конфигурация для создания Handler.
// Любая зависимость может быть nil: соответствующие маршруты отвечают 503.
type Config struct {
	Orchestrator Orchestrator
	Runs         RunReader
	Publisher    RequestPublisher
	Agents       AgentLister
	Logger       *slog.Logger
}

// NewHandler создаёт новый Handler.
func NewHandler(cfg Config) *Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		orchestrator: cfg.Orchestrator,
		runs:         cfg.Runs,
		publisher:    cfg.Publisher,
		agents:       cfg.Agents,
		logger:       logger,
	}
}

package repo

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shaiso/Ensemble/internal/domain"
)

// Store объединяет репозитории, нужные оркестратору и API.
type Store struct {
	Runs     *RunRepo
	Outcomes *OutcomeRepo
}

// NewStore создаёт Store поверх пула.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{
		Runs:     NewRunRepo(pool),
		Outcomes: NewOutcomeRepo(pool),
	}
}

// CreateRun сохраняет новый run.
func (s *Store) CreateRun(ctx context.Context, run *domain.OrchestrationRun) error {
	return s.Runs.Create(ctx, run)
}

// UpdateRun обновляет run.
func (s *Store) UpdateRun(ctx context.Context, run *domain.OrchestrationRun) error {
	return s.Runs.Update(ctx, run)
}

// SaveOutcomes сохраняет итоги узлов run.
func (s *Store) SaveOutcomes(ctx context.Context, runID uuid.UUID, outcomes []domain.TaskOutcome) error {
	return s.Outcomes.SaveBatch(ctx, runID, outcomes)
}

// ListOutcomes возвращает итоги узлов run.
func (s *Store) ListOutcomes(ctx context.Context, runID uuid.UUID) ([]domain.TaskOutcome, error) {
	return s.Outcomes.ListByRunID(ctx, runID)
}

// GetRun возвращает run вместе с итогами узлов.
func (s *Store) GetRun(ctx context.Context, id uuid.UUID) (*domain.OrchestrationRun, error) {
	run, err := s.Runs.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	outcomes, err := s.Outcomes.ListByRunID(ctx, id)
	if err != nil {
		return nil, err
	}
	run.IntelligenceData = make(map[string]domain.TaskOutcome, len(outcomes))
	for _, o := range outcomes {
		run.IntelligenceData[o.TaskID] = o
	}
	return run, nil
}

// ListRuns возвращает runs по фильтру.
func (s *Store) ListRuns(ctx context.Context, filter RunFilter) ([]domain.OrchestrationRun, error) {
	return s.Runs.List(ctx, filter)
}

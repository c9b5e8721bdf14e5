package repo

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shaiso/Ensemble/internal/domain"
)

// DefaultListLimit — размер страницы List по умолчанию.
const DefaultListLimit = 50

// RunRepo — репозиторий для работы с orchestration runs.
type RunRepo struct {
	pool *pgxpool.Pool
}

// NewRunRepo создаёт новый RunRepo.
func NewRunRepo(pool *pgxpool.Pool) *RunRepo {
	return &RunRepo{pool: pool}
}

// runDetails — составные части run, которые хранятся одним JSONB.
type runDetails struct {
	Nodes      []domain.TaskNode         `json:"nodes,omitempty"`
	Levels     []domain.ExecutionLevel   `json:"levels,omitempty"`
	Level      int                       `json:"current_level,omitempty"`
	Correlated []domain.CorrelatedResult `json:"correlated,omitempty"`
	Verdict    *domain.QualityVerdict    `json:"verdict,omitempty"`
	Artifact   *domain.Artifact          `json:"artifact,omitempty"`
}

func detailsOf(run *domain.OrchestrationRun) runDetails {
	return runDetails{
		Nodes:      run.Nodes,
		Levels:     run.Levels,
		Level:      run.CurrentLevel,
		Correlated: run.Correlated,
		Verdict:    run.Verdict,
		Artifact:   run.Artifact,
	}
}

func (d runDetails) apply(run *domain.OrchestrationRun) {
	run.Nodes = d.Nodes
	run.Levels = d.Levels
	run.CurrentLevel = d.Level
	run.Correlated = d.Correlated
	run.Verdict = d.Verdict
	run.Artifact = d.Artifact
}

func verdictOf(run *domain.OrchestrationRun) (*string, float64) {
	if run.Verdict == nil {
		return nil, 0
	}
	return nullString(string(run.Verdict.Verdict)), run.Verdict.OverallScore
}

// Create сохраняет новый run.
//
// Повторная вставка того же ID перезаписывает запись: run, возвращённый
// в очередь после остановки сервиса, выполняется заново с тем же ID.
func (r *RunRepo) Create(ctx context.Context, run *domain.OrchestrationRun) error {
	contextJSON, err := json.Marshal(run.Context)
	if err != nil {
		return fmt.Errorf("marshal context: %w", err)
	}
	detailsJSON, err := json.Marshal(detailsOf(run))
	if err != nil {
		return fmt.Errorf("marshal details: %w", err)
	}
	verdict, score := verdictOf(run)

	query := `
		INSERT INTO orchestration_runs
		    (id, query, context, phase, verdict, overall_score, details, resumed_from, error, started_at, finished_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO UPDATE
		SET query = EXCLUDED.query, context = EXCLUDED.context, phase = EXCLUDED.phase,
		    verdict = EXCLUDED.verdict, overall_score = EXCLUDED.overall_score,
		    details = EXCLUDED.details, resumed_from = EXCLUDED.resumed_from,
		    error = EXCLUDED.error, started_at = EXCLUDED.started_at, finished_at = EXCLUDED.finished_at
	`
	_, err = r.pool.Exec(ctx, query,
		run.ID,
		run.Query,
		contextJSON,
		run.Phase,
		verdict,
		score,
		detailsJSON,
		run.ResumedFrom,
		nullString(run.Error),
		run.StartedAt,
		run.FinishedAt,
	)
	if err != nil {
		return dbError("insert run", err)
	}
	return nil
}

// Update обновляет фазу, вердикт и результаты run.
func (r *RunRepo) Update(ctx context.Context, run *domain.OrchestrationRun) error {
	detailsJSON, err := json.Marshal(detailsOf(run))
	if err != nil {
		return fmt.Errorf("marshal details: %w", err)
	}
	verdict, score := verdictOf(run)

	query := `
		UPDATE orchestration_runs
		SET phase = $2, verdict = $3, overall_score = $4, details = $5,
		    resumed_from = $6, error = $7, finished_at = $8
		WHERE id = $1
	`
	result, err := r.pool.Exec(ctx, query,
		run.ID,
		run.Phase,
		verdict,
		score,
		detailsJSON,
		run.ResumedFrom,
		nullString(run.Error),
		run.FinishedAt,
	)
	if err != nil {
		return dbError("update run", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

const selectRun = `
	SELECT id, query, context, phase, details, resumed_from, error, started_at, finished_at
	FROM orchestration_runs
`

// GetByID возвращает run по ID. Итоги узлов не загружаются (см. OutcomeRepo).
func (r *RunRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.OrchestrationRun, error) {
	return scanRun(r.pool.QueryRow(ctx, selectRun+` WHERE id = $1`, id))
}

// RunFilter — параметры фильтрации runs.
type RunFilter struct {
	Phase   domain.RunPhase
	Verdict domain.Verdict
	Limit   int
	Offset  int
}

func (f RunFilter) normalized() RunFilter {
	if f.Limit <= 0 || f.Limit > 500 {
		f.Limit = DefaultListLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	return f
}

// List возвращает runs, новые первыми.
func (r *RunRepo) List(ctx context.Context, filter RunFilter) ([]domain.OrchestrationRun, error) {
	filter = filter.normalized()

	query := selectRun + `
		WHERE ($1::text IS NULL OR phase = $1)
		  AND ($2::text IS NULL OR verdict = $2)
		ORDER BY started_at DESC
		LIMIT $3 OFFSET $4
	`
	rows, err := r.pool.Query(ctx, query,
		nullString(string(filter.Phase)),
		nullString(string(filter.Verdict)),
		filter.Limit,
		filter.Offset,
	)
	if err != nil {
		return nil, dbError("list runs", err)
	}
	defer rows.Close()

	runs := make([]domain.OrchestrationRun, 0)
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

// scanRun сканирует одну строку в OrchestrationRun.
// pgx.Rows удовлетворяет pgx.Row, поэтому функция общая для QueryRow и Query.
func scanRun(row pgx.Row) (*domain.OrchestrationRun, error) {
	var (
		run         domain.OrchestrationRun
		contextJSON []byte
		detailsJSON []byte
		runError    *string
		finishedAt  *time.Time
	)

	err := row.Scan(
		&run.ID,
		&run.Query,
		&contextJSON,
		&run.Phase,
		&detailsJSON,
		&run.ResumedFrom,
		&runError,
		&run.StartedAt,
		&finishedAt,
	)
	if err != nil {
		return nil, dbError("get run", err)
	}

	if err := decodeRunColumns(&run, contextJSON, detailsJSON); err != nil {
		return nil, err
	}
	if runError != nil {
		run.Error = *runError
	}
	run.FinishedAt = finishedAt

	return &run, nil
}

func decodeRunColumns(run *domain.OrchestrationRun, contextJSON, detailsJSON []byte) error {
	if len(contextJSON) > 0 {
		if err := json.Unmarshal(contextJSON, &run.Context); err != nil {
			return fmt.Errorf("unmarshal context: %w", err)
		}
	}
	if len(detailsJSON) > 0 {
		var details runDetails
		if err := json.Unmarshal(detailsJSON, &details); err != nil {
			return fmt.Errorf("unmarshal details: %w", err)
		}
		details.apply(run)
	}
	return nil
}

// nullString возвращает nil для пустой строки (для NULL в БД).
func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

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

// OutcomeRepo — репозиторий итогов узлов.
type OutcomeRepo struct {
	pool *pgxpool.Pool
}

// NewOutcomeRepo создаёт новый OutcomeRepo.
func NewOutcomeRepo(pool *pgxpool.Pool) *OutcomeRepo {
	return &OutcomeRepo{pool: pool}
}

const upsertOutcome = `
	INSERT INTO task_outcomes
	    (run_id, task_id, position, correlation_id, agent, status, text, payload,
	     error, attempts, elapsed_ms, entity, fallback)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	ON CONFLICT (run_id, task_id) DO UPDATE
	SET position = EXCLUDED.position, correlation_id = EXCLUDED.correlation_id,
	    agent = EXCLUDED.agent, status = EXCLUDED.status, text = EXCLUDED.text,
	    payload = EXCLUDED.payload, error = EXCLUDED.error, attempts = EXCLUDED.attempts,
	    elapsed_ms = EXCLUDED.elapsed_ms, entity = EXCLUDED.entity, fallback = EXCLUDED.fallback
`

// SaveBatch сохраняет итоги run одним batch. Порядок среза сохраняется в position.
func (r *OutcomeRepo) SaveBatch(ctx context.Context, runID uuid.UUID, outcomes []domain.TaskOutcome) error {
	if len(outcomes) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for i := range outcomes {
		args, err := outcomeArgs(runID, i, &outcomes[i])
		if err != nil {
			return err
		}
		batch.Queue(upsertOutcome, args...)
	}

	if err := r.pool.SendBatch(ctx, batch).Close(); err != nil {
		return dbError("save outcomes", err)
	}
	return nil
}

func outcomeArgs(runID uuid.UUID, position int, o *domain.TaskOutcome) ([]any, error) {
	var payloadJSON []byte
	if o.Payload != nil {
		var err error
		payloadJSON, err = json.Marshal(o.Payload)
		if err != nil {
			return nil, fmt.Errorf("marshal payload of %s: %w", o.TaskID, err)
		}
	}

	return []any{
		runID,
		o.TaskID,
		position,
		nullString(o.CorrelationID),
		nullString(o.Agent),
		o.Status,
		nullString(o.Text),
		payloadJSON,
		nullString(o.Error),
		o.Attempts,
		o.Elapsed.Milliseconds(),
		nullString(o.Entity),
		o.Fallback,
	}, nil
}

// ListByRunID возвращает итоги run в порядке сохранения.
func (r *OutcomeRepo) ListByRunID(ctx context.Context, runID uuid.UUID) ([]domain.TaskOutcome, error) {
	query := `
		SELECT task_id, correlation_id, agent, status, text, payload,
		       error, attempts, elapsed_ms, entity, fallback
		FROM task_outcomes
		WHERE run_id = $1
		ORDER BY position ASC
	`
	rows, err := r.pool.Query(ctx, query, runID)
	if err != nil {
		return nil, dbError("list outcomes", err)
	}
	defer rows.Close()

	outcomes := make([]domain.TaskOutcome, 0)
	for rows.Next() {
		outcome, err := scanOutcome(rows)
		if err != nil {
			return nil, err
		}
		outcomes = append(outcomes, outcome)
	}
	return outcomes, rows.Err()
}

func scanOutcome(row pgx.Row) (domain.TaskOutcome, error) {
	var (
		o             domain.TaskOutcome
		correlationID *string
		agentName     *string
		text          *string
		payloadJSON   []byte
		errText       *string
		elapsedMs     int64
		entity        *string
	)

	err := row.Scan(
		&o.TaskID,
		&correlationID,
		&agentName,
		&o.Status,
		&text,
		&payloadJSON,
		&errText,
		&o.Attempts,
		&elapsedMs,
		&entity,
		&o.Fallback,
	)
	if err != nil {
		return o, fmt.Errorf("scan outcome: %w", err)
	}

	if len(payloadJSON) > 0 {
		if err := json.Unmarshal(payloadJSON, &o.Payload); err != nil {
			return o, fmt.Errorf("unmarshal payload of %s: %w", o.TaskID, err)
		}
	}
	o.CorrelationID = deref(correlationID)
	o.Agent = deref(agentName)
	o.Text = deref(text)
	o.Error = deref(errText)
	o.Entity = deref(entity)
	o.Elapsed = time.Duration(elapsedMs) * time.Millisecond

	return o, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

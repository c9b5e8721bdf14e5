package domain

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
)

// ErrInvalidTransition — недопустимый переход между фазами run.
var ErrInvalidTransition = errors.New("invalid run phase transition")

// OrchestrationRun — одно выполнение запроса.
//
// Run создаётся на каждый входящий запрос и принадлежит только
// обрабатывающему его orchestrator'у. Между runs состояние не разделяется:
// повторное использование результатов идёт только через внешний кэш.
type OrchestrationRun struct {
	// ID — уникальный идентификатор run.
	ID uuid.UUID `json:"id"`

	// Query — исходный запрос.
	Query string `json:"query"`

	// Context — дополнительный контекст вызывающей стороны.
	Context map[string]any `json:"context,omitempty"`

	// Phase — текущая фаза.
	Phase RunPhase `json:"phase"`

	// Nodes — узлы плана в порядке вставки.
	Nodes []TaskNode `json:"nodes,omitempty"`

	// Levels — уровни выполнения графа.
	Levels []ExecutionLevel `json:"levels,omitempty"`

	// CurrentLevel — индекс последнего запущенного уровня.
	CurrentLevel int `json:"current_level"`

	// IntelligenceData — итоги узлов (taskID → outcome).
	IntelligenceData map[string]TaskOutcome `json:"intelligence_data,omitempty"`

	// Correlated — результаты, сгруппированные по сущностям.
	Correlated []CorrelatedResult `json:"correlated,omitempty"`

	// Verdict — решение quality gate (nil до валидации).
	Verdict *QualityVerdict `json:"verdict,omitempty"`

	// Artifact — итоговый артефакт синтеза (nil, если синтеза не было).
	Artifact *Artifact `json:"artifact,omitempty"`

	// ResumedFrom — run, чьи результаты переиспользованы.
	ResumedFrom *uuid.UUID `json:"resumed_from,omitempty"`

	// Error — причина фатального завершения.
	Error string `json:"error,omitempty"`

	// StartedAt — время создания run.
	StartedAt time.Time `json:"started_at"`

	// FinishedAt — время перехода в финальную фазу.
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// NewOrchestrationRun создаёт run в фазе BUILT.
func NewOrchestrationRun(query string, runCtx map[string]any) *OrchestrationRun {
	if runCtx == nil {
		runCtx = make(map[string]any)
	}
	return &OrchestrationRun{
		ID:               uuid.New(),
		Query:            query,
		Context:          runCtx,
		Phase:            RunPhaseBuilt,
		IntelligenceData: make(map[string]TaskOutcome),
		StartedAt:        time.Now(),
	}
}

// Transition переводит run в новую фазу.
func (r *OrchestrationRun) Transition(to RunPhase) error {
	if !CanTransition(r.Phase, to) {
		return fmt.Errorf("%w: %s → %s", ErrInvalidTransition, r.Phase, to)
	}
	r.Phase = to
	if to.IsTerminal() {
		now := time.Now()
		r.FinishedAt = &now
	}
	return nil
}

// EnterLevel отмечает запуск уровня index. Фаза остаётся EXECUTING
// (переход EXECUTING → EXECUTING на каждый уровень).
func (r *OrchestrationRun) EnterLevel(index int) error {
	if err := r.Transition(RunPhaseExecuting); err != nil {
		return err
	}
	r.CurrentLevel = index
	return nil
}

// MarkFailed переводит run в FAILED с ошибкой.
// Из финальной фазы не выходит.
func (r *OrchestrationRun) MarkFailed(err string) {
	if r.Phase.IsTerminal() {
		return
	}
	r.Error = err
	_ = r.Transition(RunPhaseFailed)
}

// Duration возвращает продолжительность run.
func (r *OrchestrationRun) Duration() time.Duration {
	if r.FinishedAt == nil {
		return time.Since(r.StartedAt)
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// Result собирает OrchestrationResult для вызывающей стороны.
func (r *OrchestrationRun) Result() OrchestrationResult {
	res := OrchestrationResult{
		RunID:      r.ID,
		Phase:      r.Phase,
		Artifact:   r.Artifact,
		Correlated: r.Correlated,
		Outcomes:   r.IntelligenceData,
		Error:      r.Error,
	}

	for id, outcome := range r.IntelligenceData {
		switch outcome.Status {
		case OutcomeSucceeded:
			res.Succeeded = append(res.Succeeded, id)
		case OutcomeSkipped:
			res.Skipped = append(res.Skipped, id)
		default:
			res.Failed = append(res.Failed, id)
		}
	}
	sort.Strings(res.Succeeded)
	sort.Strings(res.Failed)
	sort.Strings(res.Skipped)

	if r.Verdict != nil {
		res.Verdict = r.Verdict.Verdict
		res.OverallScore = r.Verdict.OverallScore
		res.Recommendations = r.Verdict.Recommendations
		res.FailedChecks = r.Verdict.FailedChecks
	}

	return res
}

// OrchestrationResult — структурированный ответ на Orchestrate.
//
// Возвращается всегда, в том числе для деградировавших runs:
// частичные данные лучше непрозрачной ошибки.
type OrchestrationResult struct {
	RunID           uuid.UUID              `json:"run_id"`
	Phase           RunPhase               `json:"phase"`
	Verdict         Verdict                `json:"verdict,omitempty"`
	OverallScore    float64                `json:"overall_score"`
	Artifact        *Artifact              `json:"artifact,omitempty"`
	Succeeded       []string               `json:"succeeded,omitempty"`
	Failed          []string               `json:"failed,omitempty"`
	Skipped         []string               `json:"skipped,omitempty"`
	FailedChecks    []string               `json:"failed_checks,omitempty"`
	Recommendations []string               `json:"recommendations,omitempty"`
	Correlated      []CorrelatedResult     `json:"correlated,omitempty"`
	Outcomes        map[string]TaskOutcome `json:"outcomes,omitempty"`
	Error           string                 `json:"error,omitempty"`
}

// NeedsInput возвращает true, если run ждёт дополнительного ввода.
func (r *OrchestrationResult) NeedsInput() bool {
	return r.Phase == RunPhaseAwaitingUser
}

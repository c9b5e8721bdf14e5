package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/shaiso/Ensemble/internal/correlate"
	"github.com/shaiso/Ensemble/internal/domain"
	"github.com/shaiso/Ensemble/internal/engine"
	"github.com/shaiso/Ensemble/internal/executor"
	"github.com/shaiso/Ensemble/internal/mq"
	"github.com/shaiso/Ensemble/internal/quality"
	"github.com/shaiso/Ensemble/internal/synth"
	"github.com/shaiso/Ensemble/internal/telemetry"
)

// RunStore сохраняет runs и их итоги. Реализуется repo.Store.
type RunStore interface {
	CreateRun(ctx context.Context, run *domain.OrchestrationRun) error
	UpdateRun(ctx context.Context, run *domain.OrchestrationRun) error
	SaveOutcomes(ctx context.Context, runID uuid.UUID, outcomes []domain.TaskOutcome) error
	ListOutcomes(ctx context.Context, runID uuid.UUID) ([]domain.TaskOutcome, error)
}

// EventPublisher публикует события runs. Реализуется mq.Publisher.
type EventPublisher interface {
	PublishRunFinished(ctx context.Context, payload mq.RunFinishedPayload) error
}

// OutcomeCache хранит итоги завершённых runs для resume.
// Реализуется cache.OutcomeCache.
type OutcomeCache interface {
	PutOutcomes(runID uuid.UUID, outcomes map[string]domain.TaskOutcome) error
	GetOutcomes(runID uuid.UUID) (map[string]domain.TaskOutcome, bool)
}

// Config — конфигурация Orchestrator.
type Config struct {
	// Planner раскладывает запрос на узлы. Обязателен.
	Planner Planner

	// Agents разрешает имена агентов. Обязателен.
	Agents executor.Resolver

	// Executor выполняет граф. Обязателен.
	Executor *executor.Executor

	// Thresholds — пороги quality gate.
	Thresholds quality.Thresholds

	// Correlator и Tagger задают группировку итогов.
	Correlator correlate.Correlator
	Tagger     correlate.Tagger

	// Synthesizer собирает артефакт. По умолчанию synth.SectionSynthesizer.
	Synthesizer synth.Synthesizer

	// Необязательные зависимости: nil отключает соответствующий шаг.
	Store     RunStore
	Publisher EventPublisher
	Cache     OutcomeCache

	Logger *slog.Logger
}

// Orchestrator выполняет запросы.
//
// Каждый вызов Orchestrate создаёт свой OrchestrationRun и свой граф.
// Между вызовами общего изменяемого состояния нет, поэтому один
// Orchestrator безопасно обслуживает параллельные запросы.
type Orchestrator struct {
	planner     Planner
	agents      executor.Resolver
	executor    *executor.Executor
	thresholds  quality.Thresholds
	correlator  correlate.Correlator
	tagger      correlate.Tagger
	synthesizer synth.Synthesizer

	store     RunStore
	publisher EventPublisher
	cache     OutcomeCache

	logger *slog.Logger
}

// New создаёт Orchestrator.
func New(cfg Config) *Orchestrator {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	synthesizer := cfg.Synthesizer
	if synthesizer == nil {
		synthesizer = synth.SectionSynthesizer{}
	}

	tagger := cfg.Tagger
	if tagger == nil {
		tagger = correlate.DefaultTagger
	}

	return &Orchestrator{
		planner:     cfg.Planner,
		agents:      cfg.Agents,
		executor:    cfg.Executor,
		thresholds:  cfg.Thresholds,
		correlator:  cfg.Correlator,
		tagger:      tagger,
		synthesizer: synthesizer,
		store:       cfg.Store,
		publisher:   cfg.Publisher,
		cache:       cfg.Cache,
		logger:      logger,
	}
}

// Orchestrate выполняет запрос от плана до синтеза.
//
// Результат возвращается всегда, в том числе частичный. error не nil
// только для фатальных случаев: план или граф не построены, либо
// ctx отменён. Провалы агентов и отказ quality gate — данные результата.
func (o *Orchestrator) Orchestrate(ctx context.Context, query string, runCtx map[string]any) (domain.OrchestrationResult, error) {
	run := domain.NewOrchestrationRun(query, runCtx)
	return o.Execute(ctx, run)
}

// Execute выполняет заранее созданный run (ID назначен вызывающей стороной).
func (o *Orchestrator) Execute(ctx context.Context, run *domain.OrchestrationRun) (domain.OrchestrationResult, error) {
	logger := telemetry.WithRunID(o.logger, run.ID.String())
	ctx = telemetry.WithLogger(ctx, logger)

	logger.Info("orchestration started", "query", truncate(run.Query, 120))
	o.persistCreate(ctx, run)

	seed := o.loadSeed(ctx, run)

	// 1. План и граф
	plan, err := o.planner.Plan(ctx, run.Query, run.Context)
	if err != nil {
		return o.fatal(ctx, run, "plan", err)
	}

	graph, err := engine.BuildGraph(plan)
	if err != nil {
		return o.fatal(ctx, run, "build graph", err)
	}

	run.Nodes = graph.Tasks()
	if run.Levels, err = graph.ComputeLevels(); err != nil {
		return o.fatal(ctx, run, "build graph", err)
	}

	logger.Info("graph built",
		"plan", plan.Name,
		"nodes", graph.Len(),
		"levels", len(run.Levels),
		"seeded", len(seed),
	)

	// 2. Выполнение уровнями
	if err := run.Transition(domain.RunPhaseExecuting); err != nil {
		return o.fatal(ctx, run, "execute", err)
	}

	outcomes, err := o.executor.RunGraph(ctx, graph, o.agents,
		executor.WithQuery(run.Query, run.Context),
		executor.WithSeed(seed),
		executor.WithLogger(logger),
		executor.OnLevel(func(index int, level domain.ExecutionLevel) {
			if err := run.EnterLevel(index); err != nil {
				logger.Warn("level not recorded", "level", index, "error", err)
				return
			}
			logger.Info("level started", "level", index, "of", len(run.Levels), "nodes", len(level))
			o.persistProgress(ctx, run)
		}),
		executor.OnNodeFinished(func(outcome domain.TaskOutcome) {
			logger.Debug("node finished",
				"task_id", outcome.TaskID,
				"status", outcome.Status,
				"attempts", outcome.Attempts,
			)
		}),
	)
	for id, outcome := range outcomes {
		run.IntelligenceData[id] = outcome
	}
	run.Nodes = graph.Tasks()
	if err != nil {
		return o.fatal(ctx, run, "execute", err)
	}

	// 3. Корреляция
	if err := run.Transition(domain.RunPhaseCorrelating); err != nil {
		return o.fatal(ctx, run, "correlate", err)
	}
	run.Correlated = o.correlator.Correlate(run.IntelligenceData, o.tagger)

	// 4. Quality gate
	if err := run.Transition(domain.RunPhaseValidating); err != nil {
		return o.fatal(ctx, run, "validate", err)
	}
	verdict := quality.Validate(run.Correlated, o.thresholds)
	run.Verdict = &verdict
	telemetry.ObserveVerdict(string(verdict.Verdict))

	logger.Info("quality gate",
		"verdict", verdict.Verdict,
		"score", verdict.OverallScore,
		"failed_checks", verdict.FailedChecks,
	)

	// 5. Решение по вердикту
	switch verdict.Verdict {
	case domain.VerdictApproved:
		o.synthesize(ctx, run, logger)

	case domain.VerdictConditional:
		_ = run.Transition(domain.RunPhaseAwaitingUser)

	default:
		run.MarkFailed(fmt.Sprintf("%s: %s", ErrRejected, strings.Join(verdict.FailedChecks, ", ")))
	}

	o.finish(ctx, run, logger)
	return run.Result(), nil
}

// synthesize выполняет стадию синтеза. Ошибка синтеза — данные run, не error.
func (o *Orchestrator) synthesize(ctx context.Context, run *domain.OrchestrationRun, logger *slog.Logger) {
	if err := run.Transition(domain.RunPhaseSynthesizing); err != nil {
		run.MarkFailed(err.Error())
		return
	}

	artifact, err := o.synthesizer.Synthesize(ctx, run)
	if err != nil {
		logger.Warn("synthesis failed", "error", err)
		run.MarkFailed(fmt.Errorf("%w: %w", ErrSynthesis, err).Error())
		return
	}

	run.Artifact = &artifact
	_ = run.Transition(domain.RunPhaseDone)
}

// fatal завершает run фатальной ошибкой и возвращает частичный результат.
func (o *Orchestrator) fatal(ctx context.Context, run *domain.OrchestrationRun, stage string, err error) (domain.OrchestrationResult, error) {
	logger := telemetry.FromContext(ctx)

	if ctxErr := ctx.Err(); ctxErr != nil {
		err = fmt.Errorf("%w: %w", ErrRunCancelled, ctxErr)
	} else {
		err = fmt.Errorf("%s: %w", stage, err)
	}

	run.MarkFailed(err.Error())
	logger.Error("orchestration failed", "stage", stage, "error", err)

	o.finish(ctx, run, logger)
	return run.Result(), err
}

// finish сохраняет, кэширует и публикует завершённый run.
//
// Работает и для отменённого ctx: результаты уже получены,
// терять их из-за отмены вызывающей стороны незачем.
func (o *Orchestrator) finish(ctx context.Context, run *domain.OrchestrationRun, logger *slog.Logger) {
	ctx = context.WithoutCancel(ctx)
	telemetry.ObserveRun(string(run.Phase), run.Duration())

	if o.cache != nil && len(run.IntelligenceData) > 0 {
		if err := o.cache.PutOutcomes(run.ID, run.IntelligenceData); err != nil {
			logger.Warn("failed to cache outcomes", "error", err)
		}
	}

	if o.store != nil {
		if err := o.store.UpdateRun(ctx, run); err != nil {
			logger.Error("failed to update run", "error", err)
		}
		if len(run.IntelligenceData) > 0 {
			if err := o.store.SaveOutcomes(ctx, run.ID, outcomeList(run)); err != nil {
				logger.Error("failed to save outcomes", "error", err)
			}
		}
	}

	result := run.Result()
	if o.publisher != nil {
		payload := mq.RunFinishedPayload{
			RunID:        run.ID,
			Phase:        string(run.Phase),
			Verdict:      string(result.Verdict),
			OverallScore: result.OverallScore,
			Succeeded:    len(result.Succeeded),
			Failed:       len(result.Failed),
			Skipped:      len(result.Skipped),
			Error:        run.Error,
			DurationMs:   run.Duration().Milliseconds(),
		}
		if err := o.publisher.PublishRunFinished(ctx, payload); err != nil {
			logger.Warn("failed to publish run.finished", "error", err)
		}
	}

	logger.Info("orchestration finished",
		"phase", run.Phase,
		"verdict", result.Verdict,
		"succeeded", len(result.Succeeded),
		"failed", len(result.Failed),
		"skipped", len(result.Skipped),
		"duration", run.Duration(),
	)
}

func (o *Orchestrator) persistCreate(ctx context.Context, run *domain.OrchestrationRun) {
	if o.store == nil {
		return
	}
	if err := o.store.CreateRun(context.WithoutCancel(ctx), run); err != nil {
		telemetry.FromContext(ctx).Error("failed to create run", "error", err)
	}
}

// persistProgress сохраняет фазу и текущий уровень, чтобы GET /runs/{id}
// показывал прогресс до завершения run. Ошибка хранилища не прерывает run.
func (o *Orchestrator) persistProgress(ctx context.Context, run *domain.OrchestrationRun) {
	if o.store == nil {
		return
	}
	if err := o.store.UpdateRun(context.WithoutCancel(ctx), run); err != nil {
		telemetry.FromContext(ctx).Warn("failed to update run progress", "error", err)
	}
}

// loadSeed достаёт итоги предыдущего run для resume: сначала из кэша,
// затем из хранилища. Неизвестный или битый ID не фатален: run идёт с нуля.
func (o *Orchestrator) loadSeed(ctx context.Context, run *domain.OrchestrationRun) map[string]domain.TaskOutcome {
	logger := telemetry.FromContext(ctx)

	raw, ok := run.Context[ContextKeyResumeRunID]
	if !ok {
		return nil
	}
	s, _ := raw.(string)
	prevID, err := uuid.Parse(s)
	if err != nil {
		logger.Warn("invalid resume run id, starting from scratch", "resume_run_id", raw)
		return nil
	}

	if o.cache != nil {
		if seed, ok := o.cache.GetOutcomes(prevID); ok {
			run.ResumedFrom = &prevID
			logger.Info("resuming from cached outcomes", "resumed_from", prevID, "outcomes", len(seed))
			return seed
		}
	}

	if o.store != nil {
		list, err := o.store.ListOutcomes(ctx, prevID)
		if err != nil {
			logger.Warn("failed to load outcomes for resume", "resumed_from", prevID, "error", err)
			return nil
		}
		if len(list) > 0 {
			seed := make(map[string]domain.TaskOutcome, len(list))
			for _, outcome := range list {
				seed[outcome.TaskID] = outcome
			}
			run.ResumedFrom = &prevID
			logger.Info("resuming from stored outcomes", "resumed_from", prevID, "outcomes", len(seed))
			return seed
		}
	}

	logger.Warn("no outcomes to resume from", "resume_run_id", prevID)
	return nil
}

// outcomeList возвращает итоги в порядке узлов плана.
func outcomeList(run *domain.OrchestrationRun) []domain.TaskOutcome {
	list := make([]domain.TaskOutcome, 0, len(run.IntelligenceData))
	seen := make(map[string]bool, len(run.Nodes))
	for _, node := range run.Nodes {
		if outcome, ok := run.IntelligenceData[node.ID]; ok {
			list = append(list, outcome)
			seen[node.ID] = true
		}
	}
	for id, outcome := range run.IntelligenceData {
		if !seen[id] {
			list = append(list, outcome)
		}
	}
	return list
}

// IsCancelled сообщает, что run прерван отменой.
func IsCancelled(err error) bool {
	return errors.Is(err, ErrRunCancelled)
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}

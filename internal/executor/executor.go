package executor

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/shaiso/Ensemble/internal/agent"
	"github.com/shaiso/Ensemble/internal/domain"
	"github.com/shaiso/Ensemble/internal/engine"
	"github.com/shaiso/Ensemble/internal/telemetry"
)

// DefaultMaxInFlight — число слотов пула по умолчанию.
const DefaultMaxInFlight = 6

// Resolver разрешает логическое имя агента. Реализуется agent.Registry.
type Resolver interface {
	Resolve(name string) (agent.AgentRef, error)
}

// Invoker вызывает агента. Реализуется agent.Client.
type Invoker interface {
	Invoke(ctx context.Context, target agent.AgentRef, instruction, correlationID string, opts ...agent.InvokeOption) (domain.TaskOutcome, error)
}

// CorrelationTracker связывает correlation id вызова с узлом.
// Реализуется correlate.Tracker.
type CorrelationTracker interface {
	Track(correlationID, taskID string)
	Forget(correlationID string)
}

// Config — конфигурация Executor.
type Config struct {
	Invoker Invoker

	// Tracker — необязательный индекс вызовов в полёте.
	Tracker CorrelationTracker

	// Pool — общий пул слотов. Если nil, создаётся пул на MaxInFlight.
	Pool *Pool

	// MaxInFlight — размер пула, если Pool не задан.
	MaxInFlight int

	Logger *slog.Logger
}

// Executor выполняет граф уровень за уровнем.
//
// Уровни идут строго последовательно. Узлы одного уровня запускаются
// параллельно, число одновременных вызовов ограничено пулом.
// Следующий уровень стартует только после того, как все узлы
// текущего достигли финального статуса.
type Executor struct {
	invoker Invoker
	tracker CorrelationTracker
	pool    *Pool
	logger  *slog.Logger
}

// New создаёт Executor.
func New(cfg Config) *Executor {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	pool := cfg.Pool
	if pool == nil {
		if cfg.MaxInFlight <= 0 {
			cfg.MaxInFlight = DefaultMaxInFlight
		}
		pool = NewPool(cfg.MaxInFlight)
	}
	return &Executor{
		invoker: cfg.Invoker,
		tracker: cfg.Tracker,
		pool:    pool,
		logger:  cfg.Logger,
	}
}

// RunOption настраивает один запуск графа.
type RunOption func(*runOptions)

type runOptions struct {
	query          string
	runCtx         map[string]any
	seed           map[string]domain.TaskOutcome
	onNodeFinished func(domain.TaskOutcome)
	onLevel        func(index int, level domain.ExecutionLevel)
	logger         *slog.Logger
}

// WithQuery передаёт запрос и контекст run в шаблоны инструкций.
func WithQuery(query string, runCtx map[string]any) RunOption {
	return func(o *runOptions) {
		o.query = query
		o.runCtx = runCtx
	}
}

// WithSeed передаёт итоги предыдущего run.
// Узлы с успешным итогом в seed повторно не вызываются.
func WithSeed(seed map[string]domain.TaskOutcome) RunOption {
	return func(o *runOptions) {
		o.seed = seed
	}
}

// OnNodeFinished регистрирует callback на каждый записанный итог.
// Вызывается последовательно после барьера уровня.
func OnNodeFinished(fn func(domain.TaskOutcome)) RunOption {
	return func(o *runOptions) {
		o.onNodeFinished = fn
	}
}

// OnLevel регистрирует callback перед запуском уровня.
func OnLevel(fn func(index int, level domain.ExecutionLevel)) RunOption {
	return func(o *runOptions) {
		o.onLevel = fn
	}
}

// WithLogger задаёт логгер run (например, с run_id).
func WithLogger(logger *slog.Logger) RunOption {
	return func(o *runOptions) {
		o.logger = logger
	}
}

// RunGraph выполняет граф и возвращает итог каждого узла.
//
// Узел, у которого хотя бы одна зависимость не завершилась успешно,
// получает SKIPPED и не вызывается. Ошибка узла не прерывает соседей.
//
// При отмене ctx новые уровни не запускаются, узлы, ожидающие слот,
// получают SKIPPED, уже начатые вызовы завершаются сами.
// Тогда возвращаются частичные итоги вместе с ctx.Err(). Итог есть у каждого узла.
//
// RunGraph меняет статусы узлов graph, поэтому граф не должен
// разделяться между runs.
func (e *Executor) RunGraph(ctx context.Context, graph *engine.Graph, resolver Resolver, opts ...RunOption) (map[string]domain.TaskOutcome, error) {
	options := runOptions{logger: e.logger}
	for _, opt := range opts {
		opt(&options)
	}
	logger := options.logger

	levels, err := graph.ComputeLevels()
	if err != nil {
		return nil, err
	}

	outcomes := make(map[string]domain.TaskOutcome, graph.Len())
	tmplCtx := engine.NewContext(options.query, options.runCtx)

	for li, level := range levels {
		slots := make([]domain.TaskOutcome, len(level))

		if ctx.Err() != nil {
			for i, id := range level {
				slots[i] = domain.SkippedOutcome(&graph.Node(id).Task, ErrRunCancelled.Error())
			}
			e.commit(graph, level, slots, outcomes, tmplCtx, options.onNodeFinished)
			continue
		}

		if options.onLevel != nil {
			options.onLevel(li, level)
		}
		telemetry.LevelExecuted()
		logger.Debug("executing level", "level", li, "nodes", len(level))

		var group errgroup.Group

		for i, id := range level {
			node := graph.Node(id)

			if seeded, ok := options.seed[id]; ok && seeded.Succeeded() {
				seeded.TaskID = id
				seeded.Entity = node.Task.Entity
				slots[i] = seeded
				continue
			}

			if blocker, status, blocked := blockingDependency(node, outcomes); blocked {
				reason := fmt.Sprintf("%s: %s is %s", ErrDependencyNotSucceeded, blocker, status)
				slots[i] = domain.SkippedOutcome(&node.Task, reason)
				continue
			}

			instruction, err := engine.RenderInstruction(node.Task.Instruction, tmplCtx)
			if err != nil {
				slots[i] = domain.TaskOutcome{
					TaskID: id,
					Agent:  node.Task.TargetAgent,
					Status: domain.OutcomeFailed,
					Error:  fmt.Errorf("%w: %w", ErrInstructionRender, err).Error(),
					Entity: node.Task.Entity,
				}
				continue
			}

			graph.SetStatus(id, domain.NodeStatusReady)

			group.Go(func() error {
				slots[i] = e.runNode(ctx, graph, node, instruction, resolver, logger)
				return nil
			})
		}

		// Барьер уровня
		_ = group.Wait()

		e.commit(graph, level, slots, outcomes, tmplCtx, options.onNodeFinished)
	}

	if err := ctx.Err(); err != nil {
		return outcomes, err
	}
	return outcomes, nil
}

// commit переносит итоги уровня в общую карту после барьера.
func (e *Executor) commit(
	graph *engine.Graph,
	level domain.ExecutionLevel,
	slots []domain.TaskOutcome,
	outcomes map[string]domain.TaskOutcome,
	tmplCtx *engine.Context,
	onFinished func(domain.TaskOutcome),
) {
	for i, id := range level {
		outcome := slots[i]
		outcomes[id] = outcome
		graph.SetStatus(id, outcome.Status.NodeStatus())
		tmplCtx.AddOutcome(outcome)
		if onFinished != nil {
			onFinished(outcome)
		}
	}
}

// runNode выполняет один узел в слоте пула.
func (e *Executor) runNode(
	ctx context.Context,
	graph *engine.Graph,
	node *engine.Node,
	instruction string,
	resolver Resolver,
	logger *slog.Logger,
) domain.TaskOutcome {
	var outcome domain.TaskOutcome
	nodeLogger := telemetry.WithTaskID(logger, node.ID())

	err := e.pool.Run(ctx, func() {
		telemetry.NodeStarted()
		defer telemetry.NodeFinished()

		graph.SetStatus(node.ID(), domain.NodeStatusRunning)
		outcome = e.invokeNode(ctx, node, instruction, resolver, nodeLogger)
	})
	if err != nil {
		nodeLogger.Debug("node not dispatched", "error", err)
		return domain.SkippedOutcome(&node.Task, ErrRunCancelled.Error())
	}

	return outcome
}

func (e *Executor) invokeNode(
	ctx context.Context,
	node *engine.Node,
	instruction string,
	resolver Resolver,
	logger *slog.Logger,
) domain.TaskOutcome {
	task := &node.Task

	ref, err := resolver.Resolve(task.TargetAgent)
	if err != nil {
		logger.Warn("agent not resolved", "agent", task.TargetAgent, "error", err)
		return domain.TaskOutcome{
			TaskID: task.ID,
			Agent:  task.TargetAgent,
			Status: domain.OutcomeFailed,
			Error:  err.Error(),
			Entity: task.Entity,
		}
	}

	correlationID := uuid.NewString()
	if e.tracker != nil {
		e.tracker.Track(correlationID, task.ID)
		defer e.tracker.Forget(correlationID)
	}

	outcome, err := e.invoker.Invoke(ctx, ref, instruction, correlationID)
	outcome.TaskID = task.ID
	outcome.Entity = task.Entity

	if err != nil {
		logger.Warn("node failed",
			"agent", ref.Name,
			"status", outcome.Status,
			"attempts", outcome.Attempts,
			"error", err,
		)
	} else {
		logger.Info("node succeeded",
			"agent", ref.Name,
			"attempts", outcome.Attempts,
			"elapsed", outcome.Elapsed,
		)
	}

	return outcome
}

// blockingDependency возвращает первую зависимость узла без успешного итога.
func blockingDependency(node *engine.Node, outcomes map[string]domain.TaskOutcome) (string, domain.OutcomeStatus, bool) {
	for _, dep := range node.DependsOn {
		outcome, ok := outcomes[dep]
		if !ok {
			return dep, domain.OutcomeSkipped, true
		}
		if !outcome.Succeeded() {
			return dep, outcome.Status, true
		}
	}
	return "", "", false
}

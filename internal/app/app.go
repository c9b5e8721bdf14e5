// Package app собирает движок Ensemble из конфигурации.
//
// Используется обоими бинарниками (ensemble-api для синхронных запросов и
// ensemble-orchestrator для очереди), чтобы сборка была одинаковой.
package app

import (
	"fmt"
	"log/slog"

	"github.com/shaiso/Ensemble/internal/agent"
	"github.com/shaiso/Ensemble/internal/config"
	"github.com/shaiso/Ensemble/internal/correlate"
	"github.com/shaiso/Ensemble/internal/executor"
	"github.com/shaiso/Ensemble/internal/orchestrator"
	"github.com/shaiso/Ensemble/internal/synth"
)

// Infra — внешние зависимости. Любое поле может быть nil.
type Infra struct {
	Store     orchestrator.RunStore
	Publisher orchestrator.EventPublisher
	Cache     orchestrator.OutcomeCache
}

// Engine — собранный движок.
type Engine struct {
	Registry     *agent.Registry
	Client       *agent.Client
	Orchestrator *orchestrator.Orchestrator
}

// Build собирает реестр агентов, клиент, executor и orchestrator.
func Build(cfg *config.Config, infra Infra, logger *slog.Logger) (*Engine, error) {
	if logger == nil {
		logger = slog.Default()
	}

	registry, err := agent.BuildRegistry(cfg.Agents, cfg.Timeouts.Connect)
	if err != nil {
		return nil, fmt.Errorf("build registry: %w", err)
	}
	return BuildWithRegistry(cfg, registry, infra, logger)
}

// BuildWithRegistry собирает движок поверх готового реестра.
// Нужен, когда агенты регистрируются в коде (agent.Local).
func BuildWithRegistry(cfg *config.Config, registry *agent.Registry, infra Infra, logger *slog.Logger) (*Engine, error) {
	if logger == nil {
		logger = slog.Default()
	}

	// Executor регистрирует вызовы, клиент по ним находит владельца чужого чанка.
	tracker := correlate.NewTracker()

	clientCfg := cfg.AgentConfig()
	clientCfg.Logger = logger
	clientCfg.Correlations = tracker
	client := agent.NewClient(clientCfg)

	exec := executor.New(executor.Config{
		Invoker:     client,
		Tracker:     tracker,
		MaxInFlight: cfg.Engine.MaxInFlight,
		Logger:      logger,
	})

	planner, err := buildPlanner(cfg, registry, client, logger)
	if err != nil {
		return nil, err
	}

	synthesizer, err := buildSynthesizer(cfg, registry, client, logger)
	if err != nil {
		return nil, err
	}

	orch := orchestrator.New(orchestrator.Config{
		Planner:     planner,
		Agents:      registry,
		Executor:    exec,
		Thresholds:  cfg.Quality,
		Correlator:  correlate.Correlator{Fields: cfg.Correlation.Fields},
		Synthesizer: synthesizer,
		Store:       infra.Store,
		Publisher:   infra.Publisher,
		Cache:       infra.Cache,
		Logger:      logger,
	})

	return &Engine{Registry: registry, Client: client, Orchestrator: orch}, nil
}

func buildPlanner(cfg *config.Config, registry *agent.Registry, client *agent.Client, logger *slog.Logger) (orchestrator.Planner, error) {
	static := &orchestrator.StaticPlanner{Templates: cfg.Plans, Default: cfg.DefaultPlan}

	if cfg.Planner.Agent == "" {
		return static, nil
	}

	ref, err := registry.Resolve(cfg.Planner.Agent)
	if err != nil {
		return nil, fmt.Errorf("planner agent: %w", err)
	}
	return &orchestrator.AgentPlanner{
		Invoker:  client,
		Agent:    ref,
		Agents:   registry,
		Fallback: static,
		Logger:   logger,
	}, nil
}

func buildSynthesizer(cfg *config.Config, registry *agent.Registry, client *agent.Client, logger *slog.Logger) (synth.Synthesizer, error) {
	if cfg.Synthesis.Agent == "" {
		return synth.SectionSynthesizer{}, nil
	}

	ref, err := registry.Resolve(cfg.Synthesis.Agent)
	if err != nil {
		return nil, fmt.Errorf("synthesis agent: %w", err)
	}
	return &synth.AgentSynthesizer{
		Invoker:     client,
		Agent:       ref,
		Instruction: cfg.Synthesis.Instruction,
		Logger:      logger,
	}, nil
}

package orchestrator

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/google/uuid"

	"github.com/shaiso/Ensemble/internal/agent"
	"github.com/shaiso/Ensemble/internal/domain"
	"github.com/shaiso/Ensemble/internal/engine"
	"github.com/shaiso/Ensemble/internal/executor"
	"github.com/shaiso/Ensemble/internal/mq"
	"github.com/shaiso/Ensemble/internal/quality"
	"github.com/shaiso/Ensemble/internal/telemetry"
)

// --- fakes ---

type memoryStore struct {
	mu       sync.Mutex
	created  []uuid.UUID
	updated  map[uuid.UUID]domain.RunPhase
	levels   map[uuid.UUID][]int
	outcomes map[uuid.UUID][]domain.TaskOutcome
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		updated:  make(map[uuid.UUID]domain.RunPhase),
		levels:   make(map[uuid.UUID][]int),
		outcomes: make(map[uuid.UUID][]domain.TaskOutcome),
	}
}

func (s *memoryStore) CreateRun(_ context.Context, run *domain.OrchestrationRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.created = append(s.created, run.ID)
	return nil
}

func (s *memoryStore) UpdateRun(_ context.Context, run *domain.OrchestrationRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updated[run.ID] = run.Phase
	if run.Phase == domain.RunPhaseExecuting {
		s.levels[run.ID] = append(s.levels[run.ID], run.CurrentLevel)
	}
	return nil
}

func (s *memoryStore) SaveOutcomes(_ context.Context, runID uuid.UUID, outcomes []domain.TaskOutcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outcomes[runID] = outcomes
	return nil
}

func (s *memoryStore) ListOutcomes(_ context.Context, runID uuid.UUID) ([]domain.TaskOutcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.outcomes[runID], nil
}

type memoryCache struct {
	mu   sync.Mutex
	runs map[uuid.UUID]map[string]domain.TaskOutcome
}

func newMemoryCache() *memoryCache {
	return &memoryCache{runs: make(map[uuid.UUID]map[string]domain.TaskOutcome)}
}

func (c *memoryCache) PutOutcomes(runID uuid.UUID, outcomes map[string]domain.TaskOutcome) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	cp := make(map[string]domain.TaskOutcome, len(outcomes))
	for k, v := range outcomes {
		cp[k] = v
	}
	c.runs[runID] = cp
	return nil
}

func (c *memoryCache) GetOutcomes(runID uuid.UUID) (map[string]domain.TaskOutcome, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	out, ok := c.runs[runID]
	return out, ok
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []mq.RunFinishedPayload
}

func (p *recordingPublisher) PublishRunFinished(_ context.Context, payload mq.RunFinishedPayload) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, payload)
	return nil
}

// --- helpers ---

type testEnv struct {
	registry  *agent.Registry
	calls     map[string]*atomic.Int32
	store     *memoryStore
	cache     *memoryCache
	publisher *recordingPublisher
}

func newTestEnv() *testEnv {
	return &testEnv{
		registry:  agent.NewRegistry(),
		calls:     make(map[string]*atomic.Int32),
		store:     newMemoryStore(),
		cache:     newMemoryCache(),
		publisher: &recordingPublisher{},
	}
}

func (e *testEnv) agent(t *testing.T, name string, fn agent.FuncTransport) {
	t.Helper()
	counter := &atomic.Int32{}
	e.calls[name] = counter
	wrapped := func(ctx context.Context, req agent.Request) (string, map[string]any, error) {
		counter.Add(1)
		return fn(ctx, req)
	}
	if err := e.registry.Register(agent.Local(name, wrapped)); err != nil {
		t.Fatalf("register %s: %v", name, err)
	}
}

func (e *testEnv) orchestrator(thresholds quality.Thresholds) *Orchestrator {
	client := agent.NewClient(agent.Config{MaxAttempts: 1, Logger: telemetry.Discard()})
	return New(Config{
		Planner:    &StaticPlanner{},
		Agents:     e.registry,
		Executor:   executor.New(executor.Config{Invoker: client, MaxInFlight: 4, Logger: telemetry.Discard()}),
		Thresholds: thresholds,
		Store:      e.store,
		Publisher:  e.publisher,
		Cache:      e.cache,
		Logger:     telemetry.Discard(),
	})
}

func reply(text string) agent.FuncTransport {
	return func(context.Context, agent.Request) (string, map[string]any, error) {
		return text, nil, nil
	}
}

func failing() agent.FuncTransport {
	return func(context.Context, agent.Request) (string, map[string]any, error) {
		return "", nil, &agent.NonRetryableAgentError{Agent: "x", StatusCode: 400, Err: errors.New("bad request")}
	}
}

func scenarioPlan() *domain.Plan {
	return &domain.Plan{Name: "fact-check", Nodes: []domain.TaskNode{
		{ID: "A", Instruction: "check facts: {{ .Query }}", TargetAgent: "fact"},
		{ID: "B", Instruction: "check bias: {{ .Query }}", TargetAgent: "bias"},
		{ID: "C", Instruction: "summarise {{ .Steps.A.Payload.score }} and {{ .Steps.B.Payload.score }}", TargetAgent: "summary", DependsOn: []string{"A", "B"}},
	}}
}

func scenarioThresholds() quality.Thresholds {
	return quality.Thresholds{Checks: map[string]float64{
		quality.CheckMinConfidence:   0.75,
		quality.CheckMinCoverage:     1,
		quality.CheckMaxRiskSeverity: 2,
	}}
}

// --- tests ---

func TestOrchestrate_EndToEnd(t *testing.T) {
	env := newTestEnv()
	env.agent(t, "fact", reply(`{"score":0.9,"entity_id":"X"}`))
	env.agent(t, "bias", reply(`{"score":0.8,"entity_id":"X"}`))

	var summaryInstruction string
	env.agent(t, "summary", func(_ context.Context, req agent.Request) (string, map[string]any, error) {
		summaryInstruction = req.Instruction
		return "Claim X holds.", map[string]any{"entity_id": "X"}, nil
	})

	o := env.orchestrator(scenarioThresholds())
	result, err := o.Orchestrate(context.Background(), "Is X true?", map[string]any{ContextKeyPlan: scenarioPlan()})
	if err != nil {
		t.Fatalf("Orchestrate failed: %v", err)
	}

	if result.Phase != domain.RunPhaseDone || result.Verdict != domain.VerdictApproved {
		t.Fatalf("expected DONE/APPROVED, got %s/%s (%v)", result.Phase, result.Verdict, result.FailedChecks)
	}
	if result.OverallScore != 1 {
		t.Errorf("expected score 1.0, got %v", result.OverallScore)
	}
	if strings.Join(result.Succeeded, ",") != "A,B,C" {
		t.Errorf("unexpected succeeded: %v", result.Succeeded)
	}
	if summaryInstruction != "summarise 0.9 and 0.8" {
		t.Errorf("C should see A and B outputs, got %q", summaryInstruction)
	}
	if result.Artifact == nil || len(result.Artifact.Sections) != 1 || result.Artifact.Sections[0].EntityID != "X" {
		t.Errorf("expected one section for X, got %+v", result.Artifact)
	}
	if len(result.Correlated) != 1 || len(result.Correlated[0].Outcomes) != 3 {
		t.Errorf("all outcomes should correlate to X: %+v", result.Correlated)
	}

	// Сохранение и событие
	if len(env.store.created) != 1 || env.store.created[0] != result.RunID {
		t.Errorf("run not created in store: %v", env.store.created)
	}
	if env.store.updated[result.RunID] != domain.RunPhaseDone {
		t.Errorf("final phase not persisted: %v", env.store.updated)
	}
	saved := env.store.outcomes[result.RunID]
	if len(saved) != 3 || saved[0].TaskID != "A" || saved[2].TaskID != "C" {
		t.Errorf("outcomes should be saved in plan order: %+v", saved)
	}
	if len(env.publisher.events) != 1 || env.publisher.events[0].Phase != "DONE" || env.publisher.events[0].Succeeded != 3 {
		t.Errorf("unexpected events: %+v", env.publisher.events)
	}
	if _, ok := env.cache.GetOutcomes(result.RunID); !ok {
		t.Error("outcomes should be cached")
	}
}

func TestOrchestrate_DependencyFailureSkips(t *testing.T) {
	env := newTestEnv()
	env.agent(t, "fact", reply(`{"score":0.9,"entity_id":"X"}`))
	env.agent(t, "bias", failing())
	env.agent(t, "summary", reply("never"))

	o := env.orchestrator(scenarioThresholds())
	result, err := o.Orchestrate(context.Background(), "Is X true?", map[string]any{ContextKeyPlan: scenarioPlan()})
	if err != nil {
		t.Fatalf("node failures must not be fatal: %v", err)
	}

	if strings.Join(result.Failed, ",") != "B" || strings.Join(result.Skipped, ",") != "C" {
		t.Errorf("expected B failed and C skipped, got failed=%v skipped=%v", result.Failed, result.Skipped)
	}
	if env.calls["summary"].Load() != 0 {
		t.Error("summary agent must not be called")
	}
	if !strings.Contains(result.Outcomes["C"].Error, "B is FAILED") {
		t.Errorf("unexpected skip reason: %q", result.Outcomes["C"].Error)
	}
}

func TestExecute_ReportsEachLevel(t *testing.T) {
	env := newTestEnv()
	env.agent(t, "fact", reply(`{"score":0.9,"entity_id":"X"}`))
	env.agent(t, "bias", reply(`{"score":0.8,"entity_id":"X"}`))
	env.agent(t, "summary", reply(`{"entity_id":"X"}`))

	run := domain.NewOrchestrationRun("Is X true?", map[string]any{ContextKeyPlan: scenarioPlan()})
	result, err := env.orchestrator(scenarioThresholds()).Execute(context.Background(), run)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if result.Phase != domain.RunPhaseDone {
		t.Fatalf("expected DONE, got %s (%s)", result.Phase, result.Error)
	}

	want := make([]int, len(run.Levels))
	for i := range want {
		want[i] = i
	}
	if len(want) < 2 {
		t.Fatalf("scenario plan must have several levels, got %v", run.Levels)
	}

	env.store.mu.Lock()
	got := env.store.levels[run.ID]
	env.store.mu.Unlock()

	if !slices.Equal(got, want) {
		t.Errorf("progress per level: expected %v, got %v", want, got)
	}
	if run.CurrentLevel != len(run.Levels)-1 {
		t.Errorf("expected current level %d, got %d", len(run.Levels)-1, run.CurrentLevel)
	}
}

func TestOrchestrate_ConditionalAwaitsUser(t *testing.T) {
	env := newTestEnv()
	env.agent(t, "fact", reply(`{"confidence":0.9}`))

	thresholds := quality.Thresholds{Checks: map[string]float64{
		quality.CheckMinConfidence:   0.75,
		quality.CheckMinCoverage:     2, // одна сущность из двух нужных
		quality.CheckMinConsistency:  0.5,
		quality.CheckMaxRiskSeverity: 2,
		quality.CheckMinSuccessRatio: 1,
	}}
	plan := &domain.Plan{Nodes: []domain.TaskNode{{ID: "A", Instruction: "go", TargetAgent: "fact"}}}

	result, err := env.orchestrator(thresholds).Orchestrate(context.Background(), "q", map[string]any{ContextKeyPlan: plan})
	if err != nil {
		t.Fatalf("Orchestrate failed: %v", err)
	}

	if result.Verdict != domain.VerdictConditional || !result.NeedsInput() {
		t.Errorf("expected CONDITIONAL/AWAITING_USER, got %s/%s", result.Verdict, result.Phase)
	}
	if result.Artifact != nil {
		t.Error("no synthesis without approval")
	}
	if len(result.Recommendations) != 1 {
		t.Errorf("expected one recommendation, got %v", result.Recommendations)
	}
}

func TestOrchestrate_Rejected(t *testing.T) {
	env := newTestEnv()
	env.agent(t, "fact", failing())

	plan := &domain.Plan{Nodes: []domain.TaskNode{{ID: "A", Instruction: "go", TargetAgent: "fact"}}}
	result, err := env.orchestrator(scenarioThresholds()).Orchestrate(context.Background(), "q", map[string]any{ContextKeyPlan: plan})
	if err != nil {
		t.Fatalf("rejection is not an error: %v", err)
	}

	if result.Phase != domain.RunPhaseFailed || result.Verdict != domain.VerdictRejected {
		t.Errorf("expected FAILED/REJECTED, got %s/%s", result.Phase, result.Verdict)
	}
	if !strings.Contains(result.Error, ErrRejected.Error()) {
		t.Errorf("unexpected error text: %q", result.Error)
	}
}

func TestOrchestrate_CycleIsFatal(t *testing.T) {
	env := newTestEnv()
	env.agent(t, "fact", reply("ok"))

	plan := &domain.Plan{Nodes: []domain.TaskNode{
		{ID: "A", Instruction: "a", TargetAgent: "fact", DependsOn: []string{"B"}},
		{ID: "B", Instruction: "b", TargetAgent: "fact", DependsOn: []string{"A"}},
	}}

	result, err := env.orchestrator(scenarioThresholds()).Orchestrate(context.Background(), "q", map[string]any{ContextKeyPlan: plan})
	if !errors.Is(err, engine.ErrCyclicGraph) {
		t.Fatalf("expected ErrCyclicGraph, got %v", err)
	}
	if result.Phase != domain.RunPhaseFailed || result.Error == "" {
		t.Errorf("expected FAILED with error, got %s %q", result.Phase, result.Error)
	}
	if env.calls["fact"].Load() != 0 {
		t.Error("no agent may be called for a cyclic plan")
	}
	if len(env.publisher.events) != 1 || env.publisher.events[0].Phase != "FAILED" {
		t.Errorf("failed run should still be published: %+v", env.publisher.events)
	}
}

func TestOrchestrate_NoPlan(t *testing.T) {
	env := newTestEnv()
	_, err := env.orchestrator(scenarioThresholds()).Orchestrate(context.Background(), "q", nil)
	if !errors.Is(err, ErrNoPlan) {
		t.Errorf("expected ErrNoPlan, got %v", err)
	}
}

func TestOrchestrate_CancelledBeforeStart(t *testing.T) {
	env := newTestEnv()
	env.agent(t, "fact", reply(`{"score":0.9}`))
	env.agent(t, "bias", reply(`{"score":0.9}`))
	env.agent(t, "summary", reply("ok"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := env.orchestrator(scenarioThresholds()).Orchestrate(ctx, "q", map[string]any{ContextKeyPlan: scenarioPlan()})
	if !IsCancelled(err) || !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation, got %v", err)
	}
	if strings.Join(result.Skipped, ",") != "A,B,C" {
		t.Errorf("all nodes should be skipped, got %v", result.Skipped)
	}
	if result.Phase != domain.RunPhaseFailed {
		t.Errorf("expected FAILED, got %s", result.Phase)
	}
}

func TestOrchestrate_CancelledMidRun(t *testing.T) {
	env := newTestEnv()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	env.agent(t, "fact", func(context.Context, agent.Request) (string, map[string]any, error) {
		cancel()
		return `{"score":0.9}`, nil, nil
	})
	env.agent(t, "bias", reply(`{"score":0.9}`))
	env.agent(t, "summary", reply("ok"))

	result, err := env.orchestrator(scenarioThresholds()).Orchestrate(ctx, "q", map[string]any{ContextKeyPlan: scenarioPlan()})
	if !IsCancelled(err) {
		t.Fatalf("expected cancellation, got %v", err)
	}
	if result.Outcomes["A"].Status != domain.OutcomeSucceeded {
		t.Errorf("started invocation should complete, got %s", result.Outcomes["A"].Status)
	}
	if result.Outcomes["C"].Status != domain.OutcomeSkipped {
		t.Errorf("next level should be skipped, got %s", result.Outcomes["C"].Status)
	}
	if env.calls["summary"].Load() != 0 {
		t.Error("summary agent must not be called after cancel")
	}
	if env.store.updated[result.RunID] != domain.RunPhaseFailed {
		t.Error("cancelled run should still be persisted")
	}
}

func TestOrchestrate_Resume(t *testing.T) {
	env := newTestEnv()
	env.agent(t, "fact", reply(`{"score":0.9,"entity_id":"X"}`))

	var biasUp atomic.Bool
	env.agent(t, "bias", func(context.Context, agent.Request) (string, map[string]any, error) {
		if !biasUp.Load() {
			return "", nil, &agent.NonRetryableAgentError{Agent: "bias", StatusCode: 400, Err: errors.New("down")}
		}
		return `{"score":0.8,"entity_id":"X"}`, nil, nil
	})
	env.agent(t, "summary", reply(`{"entity_id":"X","summary":"ok"}`))

	o := env.orchestrator(scenarioThresholds())
	first, err := o.Orchestrate(context.Background(), "q", map[string]any{ContextKeyPlan: scenarioPlan()})
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	if len(first.Skipped) != 1 {
		t.Fatalf("first run should skip C, got %v", first.Skipped)
	}

	biasUp.Store(true)
	second, err := o.Orchestrate(context.Background(), "q", map[string]any{
		ContextKeyPlan:        scenarioPlan(),
		ContextKeyResumeRunID: first.RunID.String(),
	})
	if err != nil {
		t.Fatalf("second run: %v", err)
	}

	if second.Phase != domain.RunPhaseDone {
		t.Errorf("resumed run should finish, got %s (%s)", second.Phase, second.Error)
	}
	if got := env.calls["fact"].Load(); got != 1 {
		t.Errorf("succeeded node A must be reused, fact called %d times", got)
	}
	if got := env.calls["bias"].Load(); got != 2 {
		t.Errorf("failed node B must be retried, bias called %d times", got)
	}
}

func TestOrchestrate_ResumeFromStore(t *testing.T) {
	env := newTestEnv()
	env.agent(t, "fact", reply(`{"score":0.9}`))

	prev := uuid.New()
	env.store.outcomes[prev] = []domain.TaskOutcome{
		{TaskID: "A", Status: domain.OutcomeSucceeded, Payload: map[string]any{"score": 0.95}},
	}

	plan := &domain.Plan{Nodes: []domain.TaskNode{{ID: "A", Instruction: "go", TargetAgent: "fact"}}}
	o := env.orchestrator(scenarioThresholds())
	o.cache = nil

	result, err := o.Orchestrate(context.Background(), "q", map[string]any{
		ContextKeyPlan:        plan,
		ContextKeyResumeRunID: prev.String(),
	})
	if err != nil {
		t.Fatalf("Orchestrate failed: %v", err)
	}
	if env.calls["fact"].Load() != 0 {
		t.Error("stored outcome should be reused")
	}
	if result.Outcomes["A"].Payload["score"] != 0.95 {
		t.Errorf("unexpected outcome: %+v", result.Outcomes["A"])
	}
}

func TestOrchestrate_ParallelRunsIsolated(t *testing.T) {
	env := newTestEnv()
	env.agent(t, "fact", func(_ context.Context, req agent.Request) (string, map[string]any, error) {
		return req.Instruction, map[string]any{"score": 0.9}, nil
	})

	o := env.orchestrator(quality.Thresholds{Checks: map[string]float64{quality.CheckMinCoverage: 1}})
	plan := &domain.Plan{Nodes: []domain.TaskNode{{ID: "A", Instruction: "{{ .Query }}", TargetAgent: "fact"}}}

	var wg sync.WaitGroup
	results := make([]domain.OrchestrationResult, 8)
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			query := strings.Repeat("q", i+1)
			results[i], _ = o.Orchestrate(context.Background(), query, map[string]any{ContextKeyPlan: plan})
		}()
	}
	wg.Wait()

	seen := make(map[uuid.UUID]bool)
	for i, r := range results {
		if want := strings.Repeat("q", i+1); r.Outcomes["A"].Text != want {
			t.Errorf("run %d saw %q, want %q", i, r.Outcomes["A"].Text, want)
		}
		if seen[r.RunID] {
			t.Errorf("duplicate run id %s", r.RunID)
		}
		seen[r.RunID] = true
	}
}

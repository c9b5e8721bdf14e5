package app

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/shaiso/Ensemble/internal/agent"
	"github.com/shaiso/Ensemble/internal/config"
	"github.com/shaiso/Ensemble/internal/correlate"
	"github.com/shaiso/Ensemble/internal/domain"
	"github.com/shaiso/Ensemble/internal/telemetry"
)

func testConfig() *config.Config {
	cfg := config.Defaults()
	cfg.Retry.MaxAttempts = 1
	cfg.Retry.BaseBackoff = time.Millisecond
	cfg.Plans = map[string]domain.Plan{
		"pair": {Name: "pair", Nodes: []domain.TaskNode{
			{ID: "A", Instruction: "collect {{ .Query }}", TargetAgent: "research"},
			{ID: "B", Instruction: "summarize {{ .Steps.A.Text }}", TargetAgent: "writer", DependsOn: []string{"A"}},
		}},
	}
	cfg.DefaultPlan = "pair"
	return &cfg
}

func testRegistry(t *testing.T) *agent.Registry {
	t.Helper()
	registry := agent.NewRegistry()
	for _, name := range []string{"research", "writer"} {
		ref := agent.Local(name, func(_ context.Context, req agent.Request) (string, map[string]any, error) {
			return name + ": " + req.Instruction, map[string]any{"confidence": 0.9}, nil
		})
		if err := registry.Register(ref); err != nil {
			t.Fatal(err)
		}
	}
	return registry
}

func TestBuildWithRegistryRunsDefaultPlan(t *testing.T) {
	engine, err := BuildWithRegistry(testConfig(), testRegistry(t), Infra{}, telemetry.Discard())
	if err != nil {
		t.Fatal(err)
	}

	res, err := engine.Orchestrator.Orchestrate(context.Background(), "acme", nil)
	if err != nil {
		t.Fatalf("orchestrate: %v", err)
	}
	if res.Phase != domain.RunPhaseDone {
		t.Fatalf("expected DONE, got %s (%s)", res.Phase, res.Error)
	}
	if got := res.Outcomes["B"].Text; !strings.Contains(got, "research: collect acme") {
		t.Errorf("B must see A's text, got %q", got)
	}
	if res.Artifact == nil {
		t.Fatal("expected artifact")
	}
}

func TestBuildSharesTrackerWithClient(t *testing.T) {
	engine, err := BuildWithRegistry(testConfig(), testRegistry(t), Infra{}, telemetry.Discard())
	if err != nil {
		t.Fatal(err)
	}

	if _, ok := engine.Client.Config().Correlations.(*correlate.Tracker); !ok {
		t.Errorf("client must resolve correlations through the executor tracker, got %T", engine.Client.Config().Correlations)
	}
}

func TestBuildWithRegistryUnknownRoleAgent(t *testing.T) {
	cfg := testConfig()
	cfg.Synthesis.Agent = "ghost"

	if _, err := BuildWithRegistry(cfg, testRegistry(t), Infra{}, nil); err == nil {
		t.Fatal("expected error for unknown synthesis agent")
	}

	cfg = testConfig()
	cfg.Planner.Agent = "ghost"
	if _, err := BuildWithRegistry(cfg, testRegistry(t), Infra{}, nil); err == nil {
		t.Fatal("expected error for unknown planner agent")
	}
}

func TestBuildWithRoleAgents(t *testing.T) {
	cfg := testConfig()
	cfg.Synthesis.Agent = "writer"
	cfg.Planner.Agent = "planner"

	registry := testRegistry(t)
	planner := agent.Local("planner", func(context.Context, agent.Request) (string, map[string]any, error) {
		return "", map[string]any{"nodes": []any{
			map[string]any{"id": "solo", "instruction": "collect {{ .Query }}", "target_agent": "research"},
		}}, nil
	})
	if err := registry.Register(planner); err != nil {
		t.Fatal(err)
	}

	engine, err := BuildWithRegistry(cfg, registry, Infra{}, telemetry.Discard())
	if err != nil {
		t.Fatal(err)
	}

	res, err := engine.Orchestrator.Orchestrate(context.Background(), "acme", nil)
	if err != nil {
		t.Fatalf("orchestrate: %v", err)
	}
	if res.Phase != domain.RunPhaseDone {
		t.Fatalf("expected DONE, got %s (%s)", res.Phase, res.Error)
	}
	if len(res.Outcomes) != 1 || res.Outcomes["solo"].Status != domain.OutcomeSucceeded {
		t.Errorf("expected the planned node only, got %v", res.Outcomes)
	}
	if res.Artifact.Data["synthesized_by"] != "writer" {
		t.Errorf("expected synthesis by writer, got %v", res.Artifact.Data["synthesized_by"])
	}
}

func TestBuildRejectsBadAgentSpec(t *testing.T) {
	cfg := testConfig()
	cfg.Agents = []agent.Spec{{Name: "x", Transport: "carrier-pigeon", URL: "http://x"}}

	if _, err := Build(cfg, Infra{}, nil); err == nil {
		t.Fatal("expected registry error")
	}
}

func TestResourcesInfraUsesNilInterfaces(t *testing.T) {
	infra := (&Resources{}).Infra()
	if infra.Store != nil || infra.Publisher != nil || infra.Cache != nil {
		t.Errorf("missing resources must be nil interfaces: %+v", infra)
	}
}

func TestOpenWithoutInfrastructure(t *testing.T) {
	cfg := testConfig()
	cfg.Database.URL = ""
	cfg.RabbitMQ.URL = ""

	res := Open(context.Background(), cfg, telemetry.Discard())
	defer res.Close()

	if res.Store != nil || res.Conn != nil {
		t.Error("database and broker must stay disabled")
	}
	if res.Cache == nil {
		t.Fatal("cache is enabled by default")
	}
	if res.Infra().Cache == nil {
		t.Error("cache must be passed to the orchestrator")
	}
}

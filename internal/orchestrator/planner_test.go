package orchestrator

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/shaiso/Ensemble/internal/agent"
	"github.com/shaiso/Ensemble/internal/domain"
)

func TestStaticPlanner(t *testing.T) {
	templates := map[string]domain.Plan{
		"default": {Nodes: []domain.TaskNode{{ID: "A", Instruction: "a", TargetAgent: "fact"}}},
		"pair": {Nodes: []domain.TaskNode{
			{ID: "A", Instruction: "a", TargetAgent: "fact"},
			{ID: "B", Instruction: "b", TargetAgent: "bias", DependsOn: []string{"A"}},
		}},
	}
	p := &StaticPlanner{Templates: templates, Default: "default"}

	tests := []struct {
		name    string
		runCtx  map[string]any
		wantIDs []string
		wantErr error
	}{
		{name: "default template", runCtx: nil, wantIDs: []string{"A"}},
		{name: "named template", runCtx: map[string]any{ContextKeyPlanName: "pair"}, wantIDs: []string{"A", "B"}},
		{name: "unknown template", runCtx: map[string]any{ContextKeyPlanName: "nope"}, wantErr: ErrUnknownTemplate},
		{
			name: "json plan from context",
			runCtx: map[string]any{ContextKeyPlan: map[string]any{
				"nodes": []any{
					map[string]any{"id": "X", "instruction": "x", "target_agent": "fact"},
					map[string]any{"id": "Y", "instruction": "y", "target_agent": "fact", "depends_on": []any{"X"}},
				},
			}},
			wantIDs: []string{"X", "Y"},
		},
		{
			name: "yaml plan from context",
			runCtx: map[string]any{ContextKeyPlan: `
nodes:
  - id: P
    instruction: p
    target_agent: fact
    entity: claim
`},
			wantIDs: []string{"P"},
		},
		{name: "node list from context", runCtx: map[string]any{ContextKeyPlan: []any{
			map[string]any{"id": "L", "instruction": "l", "target_agent": "fact"},
		}}, wantIDs: []string{"L"}},
		{name: "garbage plan", runCtx: map[string]any{ContextKeyPlan: 42}, wantErr: ErrInvalidPlan},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plan, err := p.Plan(context.Background(), "q", tt.runCtx)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("expected %v, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(plan.Nodes) != len(tt.wantIDs) {
				t.Fatalf("expected %d nodes, got %d", len(tt.wantIDs), len(plan.Nodes))
			}
			for i, id := range tt.wantIDs {
				if plan.Nodes[i].ID != id {
					t.Errorf("node %d: expected %s, got %s", i, id, plan.Nodes[i].ID)
				}
			}
		})
	}
}

func TestStaticPlanner_TemplateNotShared(t *testing.T) {
	templates := map[string]domain.Plan{
		"t": {Nodes: []domain.TaskNode{{ID: "A", Instruction: "a", TargetAgent: "fact", DependsOn: []string{"Z"}}}},
	}
	p := &StaticPlanner{Templates: templates, Default: "t"}

	plan, err := p.Plan(context.Background(), "q", nil)
	if err != nil {
		t.Fatalf("Plan failed: %v", err)
	}
	plan.Nodes[0].DependsOn[0] = "changed"

	if templates["t"].Nodes[0].DependsOn[0] != "Z" {
		t.Error("template must not be modified through returned plan")
	}
	if plan.Name != "t" {
		t.Errorf("plan name should default to template name, got %q", plan.Name)
	}
}

type plannerInvoker struct {
	outcome     domain.TaskOutcome
	err         error
	instruction string
}

func (p *plannerInvoker) Invoke(_ context.Context, _ agent.AgentRef, instruction, _ string, _ ...agent.InvokeOption) (domain.TaskOutcome, error) {
	p.instruction = instruction
	return p.outcome, p.err
}

type staticLister []agent.AgentRef

func (l staticLister) List() []agent.AgentRef { return l }

func TestAgentPlanner_PayloadNodes(t *testing.T) {
	inv := &plannerInvoker{outcome: domain.TaskOutcome{
		Status: domain.OutcomeSucceeded,
		Payload: map[string]any{"nodes": []any{
			map[string]any{"id": "A", "instruction": "a", "target_agent": "fact"},
		}},
	}}
	p := &AgentPlanner{
		Invoker: inv,
		Agent:   agent.AgentRef{Name: "planner"},
		Agents: staticLister{
			{Name: "fact", Description: "checks facts"},
			{Name: "planner", Description: "plans"},
		},
	}

	plan, err := p.Plan(context.Background(), "Is X true?", nil)
	if err != nil {
		t.Fatalf("Plan failed: %v", err)
	}
	if len(plan.Nodes) != 1 || plan.Nodes[0].TargetAgent != "fact" {
		t.Errorf("unexpected plan: %+v", plan)
	}
	if !strings.Contains(inv.instruction, "- fact: checks facts") || strings.Contains(inv.instruction, "- planner:") {
		t.Errorf("instruction should list other agents: %q", inv.instruction)
	}
	if !strings.Contains(inv.instruction, "Query: Is X true?") {
		t.Errorf("instruction should carry the query: %q", inv.instruction)
	}
}

func TestAgentPlanner_FencedText(t *testing.T) {
	inv := &plannerInvoker{outcome: domain.TaskOutcome{
		Status: domain.OutcomeSucceeded,
		Text:   "Here is the plan:\n```json\n{\"nodes\":[{\"id\":\"A\",\"instruction\":\"a\",\"target_agent\":\"fact\"}]}\n```",
	}}
	p := &AgentPlanner{Invoker: inv, Agent: agent.AgentRef{Name: "planner"}}

	plan, err := p.Plan(context.Background(), "q", nil)
	if err != nil {
		t.Fatalf("Plan failed: %v", err)
	}
	if len(plan.Nodes) != 1 || plan.Nodes[0].ID != "A" {
		t.Errorf("unexpected plan: %+v", plan)
	}
}

func TestAgentPlanner_Fallback(t *testing.T) {
	inv := &plannerInvoker{
		outcome: domain.TaskOutcome{Status: domain.OutcomeFailed},
		err:     errors.New("planner down"),
	}
	fallback := &StaticPlanner{
		Templates: map[string]domain.Plan{"d": {Nodes: []domain.TaskNode{{ID: "F", Instruction: "f", TargetAgent: "fact"}}}},
		Default:   "d",
	}

	p := &AgentPlanner{Invoker: inv, Agent: agent.AgentRef{Name: "planner"}, Fallback: fallback}
	plan, err := p.Plan(context.Background(), "q", nil)
	if err != nil {
		t.Fatalf("fallback should succeed: %v", err)
	}
	if plan.Nodes[0].ID != "F" {
		t.Errorf("expected fallback plan, got %+v", plan)
	}

	p.Fallback = nil
	if _, err := p.Plan(context.Background(), "q", nil); !errors.Is(err, ErrPlannerAgent) {
		t.Errorf("expected ErrPlannerAgent, got %v", err)
	}
}

func TestAgentPlanner_ExplicitPlanWins(t *testing.T) {
	inv := &plannerInvoker{}
	p := &AgentPlanner{Invoker: inv, Agent: agent.AgentRef{Name: "planner"}}

	plan, err := p.Plan(context.Background(), "q", map[string]any{
		ContextKeyPlan: &domain.Plan{Nodes: []domain.TaskNode{{ID: "E", Instruction: "e", TargetAgent: "fact"}}},
	})
	if err != nil {
		t.Fatalf("Plan failed: %v", err)
	}
	if plan.Nodes[0].ID != "E" || inv.instruction != "" {
		t.Error("explicit plan must bypass the planner agent")
	}
}

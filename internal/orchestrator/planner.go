package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/shaiso/Ensemble/internal/agent"
	"github.com/shaiso/Ensemble/internal/domain"
	"github.com/shaiso/Ensemble/internal/executor"
)

// Ключи контекста запроса, которые читает оркестратор.
const (
	ContextKeyPlan        = "plan"
	ContextKeyPlanName    = "plan_name"
	ContextKeyResumeRunID = "resume_run_id"
)

// Planner раскладывает запрос на узлы.
type Planner interface {
	Plan(ctx context.Context, query string, runCtx map[string]any) (*domain.Plan, error)
}

// StaticPlanner берёт план из контекста запроса или из шаблонов конфигурации.
//
// Порядок: context["plan"], затем context["plan_name"], затем Default.
type StaticPlanner struct {
	Templates map[string]domain.Plan
	Default   string
}

// Plan реализует Planner.
func (p *StaticPlanner) Plan(_ context.Context, _ string, runCtx map[string]any) (*domain.Plan, error) {
	if raw, ok := runCtx[ContextKeyPlan]; ok && raw != nil {
		return DecodePlan(raw)
	}

	name := p.Default
	if s, ok := runCtx[ContextKeyPlanName].(string); ok && s != "" {
		name = s
	}
	if name == "" {
		return nil, ErrNoPlan
	}

	tmpl, ok := p.Templates[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTemplate, name)
	}
	plan := clonePlan(tmpl)
	if plan.Name == "" {
		plan.Name = name
	}
	return plan, nil
}

// DecodePlan приводит план из контекста запроса к domain.Plan.
//
// Принимает domain.Plan, *domain.Plan, строку JSON/YAML
// и уже разобранный JSON (map или список узлов).
func DecodePlan(raw any) (*domain.Plan, error) {
	switch v := raw.(type) {
	case *domain.Plan:
		return clonePlan(*v), nil
	case domain.Plan:
		return clonePlan(v), nil
	case string:
		return parsePlanText(v)
	case []byte:
		return parsePlanText(string(v))
	case []any:
		return decodeJSONPlan(map[string]any{"nodes": v})
	case map[string]any:
		return decodeJSONPlan(v)
	default:
		return nil, fmt.Errorf("%w: unsupported plan type %T", ErrInvalidPlan, raw)
	}
}

func decodeJSONPlan(v any) (*domain.Plan, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidPlan, err)
	}
	var plan domain.Plan
	if err := json.Unmarshal(b, &plan); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidPlan, err)
	}
	return &plan, nil
}

// parsePlanText разбирает YAML. JSON — подмножество YAML, отдельной ветки не нужно.
func parsePlanText(text string) (*domain.Plan, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, fmt.Errorf("%w: empty plan", ErrInvalidPlan)
	}
	var plan domain.Plan
	if err := yaml.Unmarshal([]byte(text), &plan); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidPlan, err)
	}
	return &plan, nil
}

func clonePlan(p domain.Plan) *domain.Plan {
	out := domain.Plan{Name: p.Name, Nodes: make([]domain.TaskNode, len(p.Nodes))}
	for i, n := range p.Nodes {
		n.DependsOn = append([]string(nil), n.DependsOn...)
		n.Status = ""
		out.Nodes[i] = n
	}
	return &out
}

// AgentLister отдаёт известных агентов. Реализуется agent.Registry.
type AgentLister interface {
	List() []agent.AgentRef
}

// AgentPlanner просит агента-планировщика разложить запрос.
//
// Агент получает запрос и список доступных агентов и должен вернуть
// JSON-объект {"nodes": [...]}. Если план не получен, используется Fallback.
type AgentPlanner struct {
	Invoker executor.Invoker
	Agent   agent.AgentRef
	Agents  AgentLister

	// Fallback — план на случай отказа агента (обычно StaticPlanner).
	Fallback Planner

	Logger *slog.Logger
}

// Plan реализует Planner.
func (p *AgentPlanner) Plan(ctx context.Context, query string, runCtx map[string]any) (*domain.Plan, error) {
	// Явный план в запросе важнее агента
	if raw, ok := runCtx[ContextKeyPlan]; ok && raw != nil {
		return DecodePlan(raw)
	}

	plan, err := p.askAgent(ctx, query)
	if err == nil {
		return plan, nil
	}

	if p.Fallback == nil {
		return nil, err
	}
	p.logger().Warn("planner agent failed, using fallback plan", "agent", p.Agent.Name, "error", err)
	return p.Fallback.Plan(ctx, query, runCtx)
}

func (p *AgentPlanner) askAgent(ctx context.Context, query string) (*domain.Plan, error) {
	if p.Invoker == nil {
		return nil, fmt.Errorf("%w: no invoker", ErrPlannerAgent)
	}

	outcome, err := p.Invoker.Invoke(ctx, p.Agent, p.instruction(query), uuid.NewString())
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPlannerAgent, err)
	}

	if nodes, ok := outcome.Payload["nodes"]; ok {
		return DecodePlan(map[string]any{"nodes": nodes})
	}
	if obj := extractJSONObject(outcome.Text); obj != "" {
		return parsePlanText(obj)
	}
	return nil, fmt.Errorf("%w: response has no nodes", ErrPlannerAgent)
}

func (p *AgentPlanner) instruction(query string) string {
	var b strings.Builder
	b.WriteString("Decompose the query into independent tasks for the agents below. ")
	b.WriteString(`Reply with JSON only: {"nodes":[{"id":"...","instruction":"...","target_agent":"...","depends_on":[],"entity":""}]}.`)
	b.WriteString("\n\nAgents:\n")
	if p.Agents != nil {
		for _, ref := range p.Agents.List() {
			if ref.Name == p.Agent.Name {
				continue
			}
			fmt.Fprintf(&b, "- %s: %s\n", ref.Name, ref.Description)
		}
	}
	fmt.Fprintf(&b, "\nQuery: %s", query)
	return b.String()
}

func (p *AgentPlanner) logger() *slog.Logger {
	if p.Logger != nil {
		return p.Logger
	}
	return slog.Default()
}

// extractJSONObject вырезает первый JSON-объект из текста ответа
// (агенты любят оборачивать его в markdown).
func extractJSONObject(text string) string {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return ""
	}
	return text[start : end+1]
}

package api

import (
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/Ensemble/internal/agent"
	"github.com/shaiso/Ensemble/internal/domain"
)

// Orchestration DTOs

// CreateOrchestrationRequest — запрос на выполнение.
type CreateOrchestrationRequest struct {
	Query   string         `json:"query"`
	Context map[string]any `json:"context,omitempty"`

	// Async — поставить запрос в очередь и сразу вернуть run_id.
	Async bool `json:"async,omitempty"`
}

// AcceptedResponse — ответ на асинхронный запрос.
type AcceptedResponse struct {
	RunID uuid.UUID `json:"run_id"`
	Phase string    `json:"phase"`
}

// Run DTOs

// RunResponse — сохранённый run без итогов узлов.
type RunResponse struct {
	ID           uuid.UUID                 `json:"id"`
	Query        string                    `json:"query"`
	Context      map[string]any            `json:"context,omitempty"`
	Phase        string                    `json:"phase"`
	Verdict      string                    `json:"verdict,omitempty"`
	OverallScore float64                   `json:"overall_score"`
	FailedChecks []string                  `json:"failed_checks,omitempty"`
	Nodes        []domain.TaskNode         `json:"nodes,omitempty"`
	Levels       []domain.ExecutionLevel   `json:"levels,omitempty"`
	CurrentLevel int                       `json:"current_level"`
	Artifact     *domain.Artifact          `json:"artifact,omitempty"`
	ResumedFrom  *uuid.UUID                `json:"resumed_from,omitempty"`
	Error        string                    `json:"error,omitempty"`
	StartedAt    time.Time                 `json:"started_at"`
	FinishedAt   *time.Time                `json:"finished_at,omitempty"`
	DurationMs   int64                     `json:"duration_ms,omitempty"`
	Correlated   []domain.CorrelatedResult `json:"correlated,omitempty"`
}

// RunFromDomain конвертирует domain.OrchestrationRun в RunResponse.
func RunFromDomain(r domain.OrchestrationRun) RunResponse {
	resp := RunResponse{
		ID:           r.ID,
		Query:        r.Query,
		Context:      r.Context,
		Phase:        string(r.Phase),
		Nodes:        r.Nodes,
		Levels:       r.Levels,
		CurrentLevel: r.CurrentLevel,
		Artifact:     r.Artifact,
		ResumedFrom:  r.ResumedFrom,
		Error:        r.Error,
		StartedAt:    r.StartedAt,
		FinishedAt:   r.FinishedAt,
		Correlated:   r.Correlated,
	}
	if r.Verdict != nil {
		resp.Verdict = string(r.Verdict.Verdict)
		resp.OverallScore = r.Verdict.OverallScore
		resp.FailedChecks = r.Verdict.FailedChecks
	}
	if r.FinishedAt != nil {
		resp.DurationMs = r.Duration().Milliseconds()
	}
	return resp
}

// Outcome DTOs

// OutcomeResponse — итог одного узла.
type OutcomeResponse struct {
	TaskID        string         `json:"task_id"`
	CorrelationID string         `json:"correlation_id,omitempty"`
	Agent         string         `json:"agent,omitempty"`
	Status        string         `json:"status"`
	Text          string         `json:"text,omitempty"`
	Payload       map[string]any `json:"payload,omitempty"`
	Error         string         `json:"error,omitempty"`
	Attempts      int            `json:"attempts"`
	ElapsedMs     int64          `json:"elapsed_ms"`
	Entity        string         `json:"entity,omitempty"`
	Fallback      bool           `json:"fallback,omitempty"`
}

// OutcomeFromDomain конвертирует domain.TaskOutcome в OutcomeResponse.
func OutcomeFromDomain(o domain.TaskOutcome) OutcomeResponse {
	return OutcomeResponse{
		TaskID:        o.TaskID,
		CorrelationID: o.CorrelationID,
		Agent:         o.Agent,
		Status:        string(o.Status),
		Text:          o.Text,
		Payload:       o.Payload,
		Error:         o.Error,
		Attempts:      o.Attempts,
		ElapsedMs:     o.Elapsed.Milliseconds(),
		Entity:        o.Entity,
		Fallback:      o.Fallback,
	}
}

// Agent DTOs

// AgentResponse — агент из реестра.
type AgentResponse struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Kind        string `json:"kind"`
	Endpoint    string `json:"endpoint,omitempty"`
	HasFallback bool   `json:"has_fallback"`
}

// AgentFromRef конвертирует agent.AgentRef в AgentResponse.
func AgentFromRef(ref agent.AgentRef) AgentResponse {
	return AgentResponse{
		Name:        ref.Name,
		Description: ref.Description,
		Kind:        ref.Kind,
		Endpoint:    ref.Endpoint,
		HasFallback: len(ref.Fallback) > 0,
	}
}

// RunDetailResponse — run вместе с итогами узлов в порядке плана.
type RunDetailResponse struct {
	RunResponse
	Outcomes []OutcomeResponse `json:"outcomes"`
}

// RunDetailFromDomain конвертирует run с IntelligenceData.
func RunDetailFromDomain(r domain.OrchestrationRun) RunDetailResponse {
	detail := RunDetailResponse{
		RunResponse: RunFromDomain(r),
		Outcomes:    make([]OutcomeResponse, 0, len(r.IntelligenceData)),
	}

	seen := make(map[string]bool, len(r.IntelligenceData))
	for _, node := range r.Nodes {
		if o, ok := r.IntelligenceData[node.ID]; ok {
			detail.Outcomes = append(detail.Outcomes, OutcomeFromDomain(o))
			seen[node.ID] = true
		}
	}
	// Итоги без узла в плане (например, засеянные из прошлого run).
	rest := make([]string, 0)
	for id := range r.IntelligenceData {
		if !seen[id] {
			rest = append(rest, id)
		}
	}
	sort.Strings(rest)
	for _, id := range rest {
		detail.Outcomes = append(detail.Outcomes, OutcomeFromDomain(r.IntelligenceData[id]))
	}
	return detail
}

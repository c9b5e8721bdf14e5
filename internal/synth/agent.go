package synth

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"strings"

	"github.com/google/uuid"

	"github.com/shaiso/Ensemble/internal/agent"
	"github.com/shaiso/Ensemble/internal/domain"
)

// Invoker вызывает агента. Реализуется agent.Client.
type Invoker interface {
	Invoke(ctx context.Context, target agent.AgentRef, instruction, correlationID string, opts ...agent.InvokeOption) (domain.TaskOutcome, error)
}

// AgentSynthesizer отдаёт дайджест разделов агенту синтеза.
//
// Если агент не ответил, возвращается детерминированный артефакт
// SectionSynthesizer: синтез не делает run неуспешным.
type AgentSynthesizer struct {
	Invoker Invoker
	Agent   agent.AgentRef

	// Instruction — вступление к дайджесту. Пустое — используется стандартное.
	Instruction string

	Logger *slog.Logger
}

const defaultSynthesisInstruction = "Combine the findings below into one coherent answer to the query. " +
	"Keep each entity separate, mention disagreements and degraded sources."

// Synthesize реализует Synthesizer.
func (s *AgentSynthesizer) Synthesize(ctx context.Context, run *domain.OrchestrationRun) (domain.Artifact, error) {
	base, err := SectionSynthesizer{}.Synthesize(ctx, run)
	if err != nil {
		return base, err
	}

	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if s.Invoker == nil || s.Agent.Name == "" {
		return base, nil
	}

	outcome, err := s.Invoker.Invoke(ctx, s.Agent, s.digest(run, base), uuid.NewString())
	if err != nil || !outcome.Succeeded() {
		logger.Warn("synthesis agent failed, using section digest",
			"agent", s.Agent.Name,
			"run_id", run.ID,
			"error", err,
		)
		base.Data["synthesized_by"] = "sections"
		return base, nil
	}

	artifact := base
	if text := strings.TrimSpace(outcome.Text); text != "" {
		artifact.Text = text
	}
	artifact.Data = maps.Clone(base.Data)
	for k, v := range outcome.Payload {
		if _, taken := artifact.Data[k]; !taken {
			artifact.Data[k] = v
		}
	}
	artifact.Data["synthesized_by"] = s.Agent.Name

	return artifact, nil
}

func (s *AgentSynthesizer) digest(run *domain.OrchestrationRun, base domain.Artifact) string {
	instruction := s.Instruction
	if instruction == "" {
		instruction = defaultSynthesisInstruction
	}
	return fmt.Sprintf("%s\n\nQuery: %s\n\n%s", instruction, run.Query, base.Text)
}

package synth

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/shaiso/Ensemble/internal/agent"
	"github.com/shaiso/Ensemble/internal/domain"
)

func testRun() *domain.OrchestrationRun {
	run := domain.NewOrchestrationRun("Is claim X true?", nil)
	run.Correlated = []domain.CorrelatedResult{
		{
			EntityID:  "X",
			Agreement: 0.5,
			Compared:  1,
			Outcomes: []domain.TaskOutcome{
				{TaskID: "A", Agent: "fact", Status: domain.OutcomeSucceeded, Text: "claim is accurate"},
				{TaskID: "B", Agent: "bias", Status: domain.OutcomeSucceeded, Payload: map[string]any{"summary": "no bias"}},
				{TaskID: "D", Agent: "geo", Status: domain.OutcomeFailed, Error: "boom"},
			},
		},
		{
			EntityID:  "C",
			Agreement: 1,
			Singleton: true,
			Outcomes: []domain.TaskOutcome{
				{TaskID: "C", Agent: "summary", Status: domain.OutcomeSucceeded, Payload: map[string]any{"score": 0.9}},
			},
		},
	}
	run.Verdict = &domain.QualityVerdict{OverallScore: 1, Verdict: domain.VerdictApproved}
	return run
}

func TestSectionSynthesizer(t *testing.T) {
	artifact, err := SectionSynthesizer{}.Synthesize(context.Background(), testRun())
	if err != nil {
		t.Fatalf("Synthesize failed: %v", err)
	}

	if len(artifact.Sections) != 2 {
		t.Fatalf("expected 2 sections, got %d", len(artifact.Sections))
	}

	x := artifact.Sections[0]
	if !x.Degraded {
		t.Error("section X should be degraded")
	}
	if strings.Join(x.Sources, ",") != "A,B" {
		t.Errorf("unexpected sources: %v", x.Sources)
	}
	if !strings.Contains(x.Body, "[A] claim is accurate") || !strings.Contains(x.Body, "[B] no bias") {
		t.Errorf("unexpected body: %q", x.Body)
	}

	c := artifact.Sections[1]
	if c.Title != "C (summary)" {
		t.Errorf("unexpected singleton title: %q", c.Title)
	}
	if !strings.Contains(c.Body, `{"score":0.9}`) {
		t.Errorf("payload should be rendered when text is empty: %q", c.Body)
	}

	if !strings.HasPrefix(artifact.Text, "# Is claim X true?") {
		t.Errorf("text should start with query: %q", artifact.Text)
	}
	if strings.Index(artifact.Text, "## C") > strings.Index(artifact.Text, "## X") {
		t.Error("sections should be rendered in entity order")
	}
	if artifact.Data["entities"] != 2 {
		t.Errorf("unexpected data: %v", artifact.Data)
	}
}

func TestSectionSynthesizer_Deterministic(t *testing.T) {
	first, _ := SectionSynthesizer{}.Synthesize(context.Background(), testRun())
	for i := 0; i < 10; i++ {
		again, _ := SectionSynthesizer{}.Synthesize(context.Background(), testRun())
		if again.Text != first.Text {
			t.Fatalf("text changed between runs")
		}
	}
}

func TestSectionSynthesizer_NilRun(t *testing.T) {
	if _, err := (SectionSynthesizer{}).Synthesize(context.Background(), nil); err == nil {
		t.Error("expected error for nil run")
	}
}

type fakeInvoker struct {
	outcome     domain.TaskOutcome
	err         error
	instruction string
}

func (f *fakeInvoker) Invoke(_ context.Context, target agent.AgentRef, instruction, correlationID string, _ ...agent.InvokeOption) (domain.TaskOutcome, error) {
	f.instruction = instruction
	out := f.outcome
	out.Agent = target.Name
	out.CorrelationID = correlationID
	return out, f.err
}

func TestAgentSynthesizer(t *testing.T) {
	inv := &fakeInvoker{outcome: domain.TaskOutcome{
		Status:  domain.OutcomeSucceeded,
		Text:    "Claim X is accurate and unbiased.",
		Payload: map[string]any{"confidence": 0.9, "entities": 99},
	}}
	s := &AgentSynthesizer{Invoker: inv, Agent: agent.AgentRef{Name: "writer"}}

	artifact, err := s.Synthesize(context.Background(), testRun())
	if err != nil {
		t.Fatalf("Synthesize failed: %v", err)
	}

	if artifact.Text != "Claim X is accurate and unbiased." {
		t.Errorf("unexpected text: %q", artifact.Text)
	}
	if len(artifact.Sections) != 2 {
		t.Errorf("sections should be kept, got %d", len(artifact.Sections))
	}
	if artifact.Data["synthesized_by"] != "writer" || artifact.Data["confidence"] != 0.9 {
		t.Errorf("unexpected data: %v", artifact.Data)
	}
	if artifact.Data["entities"] != 2 {
		t.Errorf("agent payload must not override section data: %v", artifact.Data)
	}
	if !strings.Contains(inv.instruction, "Query: Is claim X true?") || !strings.Contains(inv.instruction, "## X") {
		t.Errorf("digest missing content: %q", inv.instruction)
	}
}

func TestAgentSynthesizer_FallbackOnFailure(t *testing.T) {
	inv := &fakeInvoker{
		outcome: domain.TaskOutcome{Status: domain.OutcomeFailed},
		err:     errors.New("unavailable"),
	}
	s := &AgentSynthesizer{Invoker: inv, Agent: agent.AgentRef{Name: "writer"}}

	artifact, err := s.Synthesize(context.Background(), testRun())
	if err != nil {
		t.Fatalf("fallback should not fail: %v", err)
	}

	base, _ := SectionSynthesizer{}.Synthesize(context.Background(), testRun())
	if artifact.Text != base.Text {
		t.Errorf("expected section text on failure, got %q", artifact.Text)
	}
	if artifact.Data["synthesized_by"] != "sections" {
		t.Errorf("unexpected data: %v", artifact.Data)
	}
}

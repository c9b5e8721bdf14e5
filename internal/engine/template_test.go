package engine

import (
	"errors"
	"strings"
	"testing"

	"github.com/shaiso/Ensemble/internal/domain"
)

func newTestContext() *Context {
	ctx := NewContext("assess photo", map[string]any{"region": "EU"})
	ctx.AddOutcome(domain.TaskOutcome{
		TaskID:  "A",
		Status:  domain.OutcomeSucceeded,
		Text:    `{"score": 0.9}`,
		Payload: map[string]any{"score": 0.9, "tags": []any{"x", "y"}},
		Agent:   "vision",
	})
	ctx.AddOutcome(domain.TaskOutcome{TaskID: "B", Status: domain.OutcomeFailed})
	return ctx
}

func TestRenderInstruction(t *testing.T) {
	ctx := newTestContext()

	tests := []struct {
		name     string
		instr    string
		expected string
	}{
		{"plain text", "no templates here", "no templates here"},
		{"query", "Q: {{ .Query }}", "Q: assess photo"},
		{"context", "{{ .Context.region }}", "EU"},
		{"step text", "{{ .Steps.A.Text }}", `{"score": 0.9}`},
		{"payload field", "{{ .Steps.A.Payload.score }}", "0.9"},
		{"status", "{{ .Steps.B.Status }}", "FAILED"},
		{"join", `{{ join "," .Steps.A.Payload.tags }}`, "x,y"},
		{"default", `{{ default "n/a" .Steps.B.Text }}`, "n/a"},
		{"coalesce", `{{ coalesce .Steps.B.Text .Steps.A.Agent }}`, "vision"},
		{"upper", "{{ upper .Query }}", "ASSESS PHOTO"},
		{"json", "{{ json .Steps.A.Payload.tags }}", `["x","y"]`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := RenderInstruction(tt.instr, ctx)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.expected {
				t.Errorf("expected %q, got %q", tt.expected, got)
			}
		})
	}
}

func TestRenderInstruction_Errors(t *testing.T) {
	ctx := newTestContext()

	if _, err := RenderInstruction("{{ .Query ", ctx); !errors.Is(err, ErrTemplateParse) {
		t.Errorf("expected ErrTemplateParse, got %v", err)
	}
	if _, err := RenderInstruction("{{ .Steps.missing.Text }}", ctx); !errors.Is(err, ErrTemplateRender) {
		t.Errorf("expected ErrTemplateRender, got %v", err)
	}
}

func TestContext_AddOutcome_NilPayload(t *testing.T) {
	ctx := NewContext("", nil)
	ctx.AddOutcome(domain.TaskOutcome{TaskID: "X", Status: domain.OutcomeSkipped})

	if ctx.Steps["X"].Payload == nil {
		t.Error("Payload should not be nil")
	}
	if ctx.Context == nil {
		t.Error("Context should not be nil")
	}
}

func TestRenderInstruction_UnknownStepInBranches(t *testing.T) {
	ctx := newTestContext()

	for _, instr := range []string{
		"{{ if .Steps.ghost }}x{{ end }}",
		"{{ with .Query }}{{ else }}{{ .Steps.ghost.Text }}{{ end }}",
		"{{ .Steps.ghost.Payload.score | default 0 }}",
		"{{ with .Context }}{{ $.Steps.ghost.Text }}{{ end }}",
	} {
		_, err := RenderInstruction(instr, ctx)
		if !errors.Is(err, ErrTemplateRender) {
			t.Errorf("%q: expected ErrTemplateRender, got %v", instr, err)
			continue
		}
		if !strings.Contains(err.Error(), `"ghost"`) {
			t.Errorf("%q: error must name the step, got %v", instr, err)
		}
	}
}

package quality

import (
	"testing"

	"github.com/shaiso/Ensemble/internal/domain"
)

func TestOutcomeSeverity(t *testing.T) {
	tests := []struct {
		name     string
		outcome  domain.TaskOutcome
		expected Severity
	}{
		{"empty", domain.TaskOutcome{}, SeverityNone},
		{"risk_level string", domain.TaskOutcome{Payload: map[string]any{"risk_level": "High"}}, SeverityHigh},
		{"risk_severity number", domain.TaskOutcome{Payload: map[string]any{"risk_severity": 4.0}}, SeverityCritical},
		{"out of range", domain.TaskOutcome{Payload: map[string]any{"risk_severity": 9.0}}, SeverityCritical},
		{"bias flag", domain.TaskOutcome{Payload: map[string]any{"bias_detected": true}}, SeverityMedium},
		{"bias flag false", domain.TaskOutcome{Payload: map[string]any{"bias_detected": false}}, SeverityNone},
		{"text critical", domain.TaskOutcome{Text: "Assessment: CRITICAL RISK of manipulation"}, SeverityCritical},
		{"text risk level", domain.TaskOutcome{Text: "risk level: low"}, SeverityLow},
		{"text bias", domain.TaskOutcome{Text: "the source appears biased"}, SeverityMedium},
		{"max of sources", domain.TaskOutcome{
			Text:    "low risk",
			Payload: map[string]any{"risk_level": "medium"},
		}, SeverityMedium},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := OutcomeSeverity(tt.outcome); got != tt.expected {
				t.Errorf("expected %s, got %s", tt.expected, got)
			}
		})
	}
}

func TestParseSeverity(t *testing.T) {
	if s, ok := ParseSeverity("moderate"); !ok || s != SeverityMedium {
		t.Errorf("moderate should parse as medium, got %v %v", s, ok)
	}
	if _, ok := ParseSeverity("unknown"); ok {
		t.Error("unknown should not parse")
	}
	if _, ok := ParseSeverity(true); ok {
		t.Error("bool should not parse")
	}
	if SeverityHigh.String() != "high" {
		t.Errorf("unexpected name: %s", SeverityHigh)
	}
}

package quality

import (
	"strings"

	"github.com/shaiso/Ensemble/internal/domain"
)

// Severity — уровень риска.
type Severity int

const (
	SeverityNone Severity = iota
	SeverityLow
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

var severityNames = map[string]Severity{
	"none":     SeverityNone,
	"low":      SeverityLow,
	"medium":   SeverityMedium,
	"moderate": SeverityMedium,
	"high":     SeverityHigh,
	"critical": SeverityCritical,
}

// String возвращает имя уровня.
func (s Severity) String() string {
	for name, sev := range severityNames {
		if sev == s && name != "moderate" {
			return name
		}
	}
	return "unknown"
}

// ParseSeverity разбирает уровень из строки или числа 0..4.
func ParseSeverity(v any) (Severity, bool) {
	switch val := v.(type) {
	case string:
		sev, ok := severityNames[strings.ToLower(strings.TrimSpace(val))]
		return sev, ok
	case float64:
		return clampSeverity(int(val)), true
	case int:
		return clampSeverity(val), true
	default:
		return SeverityNone, false
	}
}

func clampSeverity(n int) Severity {
	switch {
	case n < int(SeverityNone):
		return SeverityNone
	case n > int(SeverityCritical):
		return SeverityCritical
	default:
		return Severity(n)
	}
}

// OutcomeSeverity оценивает риск одного итога.
//
// Источники: поля risk_level и risk_severity, флаг bias_detected
// (не ниже medium), поиск флагов риска и предвзятости в тексте.
func OutcomeSeverity(outcome domain.TaskOutcome) Severity {
	sev := SeverityNone

	for _, key := range []string{"risk_level", "risk_severity"} {
		if s, ok := ParseSeverity(outcome.Payload[key]); ok && s > sev {
			sev = s
		}
	}

	if biased, ok := outcome.Payload["bias_detected"].(bool); ok && biased && sev < SeverityMedium {
		sev = SeverityMedium
	}

	if s := scanText(outcome.Text); s > sev {
		sev = s
	}

	return sev
}

// scanText ищет явные флаги риска в тексте ответа.
func scanText(text string) Severity {
	if text == "" {
		return SeverityNone
	}
	lower := strings.ToLower(text)
	sev := SeverityNone

	for _, level := range []string{"critical", "high", "medium", "low"} {
		s := severityNames[level]
		if s <= sev {
			continue
		}
		if strings.Contains(lower, level+" risk") ||
			strings.Contains(lower, "risk: "+level) ||
			strings.Contains(lower, "risk level: "+level) {
			sev = s
		}
	}

	if sev < SeverityMedium && (strings.Contains(lower, "bias detected") || strings.Contains(lower, "biased")) {
		sev = SeverityMedium
	}

	return sev
}

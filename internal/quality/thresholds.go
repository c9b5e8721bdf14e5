package quality

// Имена проверок.
const (
	CheckMinConfidence   = "minConfidence"
	CheckMinCoverage     = "minCoverage"
	CheckMinConsistency  = "minConsistency"
	CheckMaxRiskSeverity = "maxRiskSeverity"
	CheckMinSuccessRatio = "minSuccessRatio"
)

// Границы вердикта по умолчанию.
const (
	DefaultApproveAt     = 0.9
	DefaultConditionalAt = 0.8
)

// Thresholds — пороги quality gate.
//
// Проверка включена, если её имя есть в Checks.
type Thresholds struct {
	Checks map[string]float64 `yaml:"checks" json:"checks"`

	// ApproveAt — минимальный overallScore для APPROVED.
	ApproveAt float64 `yaml:"approve_at" json:"approve_at"`

	// ConditionalAt — минимальный overallScore для CONDITIONAL_NEEDS_INPUT.
	ConditionalAt float64 `yaml:"conditional_at" json:"conditional_at"`
}

// DefaultThresholds возвращает пороги по умолчанию.
// Проверок пять: одна проваленная даёт 0.8, то есть CONDITIONAL_NEEDS_INPUT.
func DefaultThresholds() Thresholds {
	return Thresholds{
		Checks: map[string]float64{
			CheckMinConfidence:   0.75,
			CheckMinCoverage:     1,
			CheckMinConsistency:  0.6,
			CheckMaxRiskSeverity: float64(SeverityMedium),
			CheckMinSuccessRatio: 0.75,
		},
		ApproveAt:     DefaultApproveAt,
		ConditionalAt: DefaultConditionalAt,
	}
}

func (t Thresholds) withDefaults() Thresholds {
	if t.ApproveAt <= 0 {
		t.ApproveAt = DefaultApproveAt
	}
	if t.ConditionalAt <= 0 {
		t.ConditionalAt = DefaultConditionalAt
	}
	return t
}

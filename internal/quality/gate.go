// Package quality — quality & risk gate.
//
// Validate прогоняет включённые проверки над сгруппированными итогами
// и выносит вердикт. Функция чистая и детерминированная.
package quality

import (
	"fmt"
	"sort"

	"github.com/shaiso/Ensemble/internal/domain"
)

// Validate проверяет результаты и возвращает вердикт.
//
// overallScore = пройденные / включённые проверки.
// Без включённых проверок вердикт REJECTED.
func Validate(results []domain.CorrelatedResult, thresholds Thresholds) domain.QualityVerdict {
	thresholds = thresholds.withDefaults()

	names := make([]string, 0, len(thresholds.Checks))
	for name := range thresholds.Checks {
		names = append(names, name)
	}
	sort.Strings(names)

	verdict := domain.QualityVerdict{
		Checks: make(map[string]domain.CheckResult, len(names)),
	}

	stats := collect(results)
	passed, total := 0, 0

	for _, name := range names {
		check, ok := checks[name]
		if !ok {
			verdict.Recommendations = append(verdict.Recommendations,
				fmt.Sprintf("%s: unknown check ignored", name))
			continue
		}

		threshold := thresholds.Checks[name]
		value, pass := check.eval(stats, threshold)

		verdict.Checks[name] = domain.CheckResult{
			Passed:    pass,
			Value:     value,
			Threshold: threshold,
		}
		total++
		if pass {
			passed++
			continue
		}
		verdict.FailedChecks = append(verdict.FailedChecks, name)
		verdict.Recommendations = append(verdict.Recommendations, check.recommend(value, threshold))
	}

	if total == 0 {
		verdict.Verdict = domain.VerdictRejected
		verdict.Recommendations = append(verdict.Recommendations,
			"no quality checks enabled: configure at least one threshold")
		return verdict
	}

	verdict.OverallScore = float64(passed) / float64(total)
	verdict.Verdict = VerdictFor(verdict.OverallScore, thresholds)
	return verdict
}

// VerdictFor переводит overallScore в вердикт. Границы включительные снизу.
func VerdictFor(score float64, thresholds Thresholds) domain.Verdict {
	thresholds = thresholds.withDefaults()
	switch {
	case score >= thresholds.ApproveAt:
		return domain.VerdictApproved
	case score >= thresholds.ConditionalAt:
		return domain.VerdictConditional
	default:
		return domain.VerdictRejected
	}
}

// stats — агрегаты по всем группам, общие для проверок.
type stats struct {
	total       int
	succeeded   int
	confidences []float64
	covered     int
	minAgree    float64
	agreeGroups int
	maxSeverity Severity
}

func collect(results []domain.CorrelatedResult) stats {
	s := stats{minAgree: 1}

	for i := range results {
		group := &results[i]
		if group.SucceededCount() > 0 {
			s.covered++
		}
		if group.Compared > 0 {
			s.agreeGroups++
			if group.Agreement < s.minAgree {
				s.minAgree = group.Agreement
			}
		}

		for _, outcome := range group.Outcomes {
			s.total++
			if !outcome.Succeeded() {
				continue
			}
			s.succeeded++
			if outcome.Fallback {
				continue
			}
			if c, ok := outcome.Confidence(); ok {
				s.confidences = append(s.confidences, c)
			}
			if sev := OutcomeSeverity(outcome); sev > s.maxSeverity {
				s.maxSeverity = sev
			}
		}
	}

	return s
}

type check struct {
	eval      func(s stats, threshold float64) (float64, bool)
	recommend func(value, threshold float64) string
}

var checks = map[string]check{
	CheckMinConfidence: {
		eval: func(s stats, threshold float64) (float64, bool) {
			if len(s.confidences) == 0 {
				return 0, false
			}
			var sum float64
			for _, c := range s.confidences {
				sum += c
			}
			mean := sum / float64(len(s.confidences))
			return mean, mean >= threshold
		},
		recommend: func(value, threshold float64) string {
			return fmt.Sprintf("%s: mean confidence %.2f below %.2f; re-run low-confidence agents or add corroborating sources",
				CheckMinConfidence, value, threshold)
		},
	},

	CheckMinCoverage: {
		eval: func(s stats, threshold float64) (float64, bool) {
			v := float64(s.covered)
			return v, v >= threshold
		},
		recommend: func(value, threshold float64) string {
			return fmt.Sprintf("%s: %d entities covered, need %d; provide more inputs or retry failed agents",
				CheckMinCoverage, int(value), int(threshold))
		},
	},

	CheckMinConsistency: {
		eval: func(s stats, threshold float64) (float64, bool) {
			if s.agreeGroups == 0 {
				return 1, true
			}
			return s.minAgree, s.minAgree >= threshold
		},
		recommend: func(value, threshold float64) string {
			return fmt.Sprintf("%s: agents agree at %.2f, need %.2f; resolve conflicting findings manually",
				CheckMinConsistency, value, threshold)
		},
	},

	CheckMaxRiskSeverity: {
		eval: func(s stats, threshold float64) (float64, bool) {
			v := float64(s.maxSeverity)
			return v, v <= threshold
		},
		recommend: func(value, threshold float64) string {
			return fmt.Sprintf("%s: %s risk found, allowed up to %s; review flagged bias or risk before release",
				CheckMaxRiskSeverity, Severity(int(value)), clampSeverity(int(threshold)))
		},
	},

	CheckMinSuccessRatio: {
		eval: func(s stats, threshold float64) (float64, bool) {
			if s.total == 0 {
				return 0, false
			}
			v := float64(s.succeeded) / float64(s.total)
			return v, v >= threshold
		},
		recommend: func(value, threshold float64) string {
			return fmt.Sprintf("%s: %.0f%% of agents succeeded, need %.0f%%; check failing agents",
				CheckMinSuccessRatio, value*100, threshold*100)
		},
	},
}

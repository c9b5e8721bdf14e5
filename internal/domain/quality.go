package domain

// ExecutionLevel — топологический пакет узлов.
// Все зависимости узлов уровня лежат в строго более ранних уровнях.
type ExecutionLevel []string

// CorrelatedResult — итоги узлов, относящиеся к одной сущности.
type CorrelatedResult struct {
	// EntityID — ключ сущности (или ID узла для одиночной группы).
	EntityID string `json:"entity_id"`

	// Outcomes — итоги участников группы, отсортированные по TaskID.
	Outcomes []TaskOutcome `json:"outcomes"`

	// Agreement — доля согласия участников по проверяемым полям (0..1).
	Agreement float64 `json:"agreement"`

	// Compared — сколько полей удалось сравнить.
	Compared int `json:"compared"`

	// Singleton — группа образована узлом без тега сущности.
	Singleton bool `json:"singleton,omitempty"`
}

// SucceededCount возвращает количество успешных участников.
func (c *CorrelatedResult) SucceededCount() int {
	n := 0
	for i := range c.Outcomes {
		if c.Outcomes[i].Succeeded() {
			n++
		}
	}
	return n
}

// CheckResult — результат одной проверки quality gate.
type CheckResult struct {
	// Passed — проверка пройдена.
	Passed bool `json:"passed"`

	// Value — измеренное значение.
	Value float64 `json:"value"`

	// Threshold — порог из конфигурации.
	Threshold float64 `json:"threshold"`
}

// QualityVerdict — итог quality gate. Неизменяем после создания.
type QualityVerdict struct {
	// OverallScore — passed / total (0..1).
	OverallScore float64 `json:"overall_score"`

	// Checks — результаты проверок по имени.
	Checks map[string]CheckResult `json:"checks"`

	// Verdict — итоговое решение.
	Verdict Verdict `json:"verdict"`

	// Recommendations — что исправить, по одной строке на проваленную проверку.
	Recommendations []string `json:"recommendations,omitempty"`

	// FailedChecks — имена проваленных проверок (отсортированы).
	FailedChecks []string `json:"failed_checks,omitempty"`
}

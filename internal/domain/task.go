package domain

import (
	"time"
)

// TaskNode — атомарная единица работы: одна инструкция для одного агента.
//
// Узлы создаются при декомпозиции запроса (Plan) и живут в пределах
// одного run. Status меняет только движок выполнения.
type TaskNode struct {
	// ID — уникальный идентификатор узла в графе.
	ID string `json:"id" yaml:"id"`

	// Label — человекочитаемое имя.
	Label string `json:"label,omitempty" yaml:"label,omitempty"`

	// Instruction — текст, отправляемый агенту.
	// Может содержать шаблоны: {{ .Steps.A.Text }}, {{ .Query }}.
	Instruction string `json:"instruction" yaml:"instruction"`

	// TargetAgent — логическое имя агента в реестре.
	TargetAgent string `json:"target_agent" yaml:"target_agent"`

	// DependsOn — ID узлов, которые должны успешно завершиться до запуска.
	DependsOn []string `json:"depends_on,omitempty" yaml:"depends_on,omitempty"`

	// Entity — тег сущности для корреляции (опционально).
	Entity string `json:"entity,omitempty" yaml:"entity,omitempty"`

	// Status — текущий статус узла.
	Status NodeStatus `json:"status,omitempty" yaml:"-"`
}

// TaskOutcome — итог выполнения узла.
//
// Записывается ровно один раз на узел и попадает в IntelligenceData run.
type TaskOutcome struct {
	// TaskID — ID узла.
	TaskID string `json:"task_id"`

	// CorrelationID — идентификатор, по которому сопоставлялся ответ агента.
	CorrelationID string `json:"correlation_id,omitempty"`

	// Agent — агент, который выполнял узел.
	Agent string `json:"agent,omitempty"`

	// Status — итог выполнения.
	Status OutcomeStatus `json:"status"`

	// Text — накопленный текст ответа.
	Text string `json:"text,omitempty"`

	// Payload — структурированный результат (JSON ответа или fallback).
	Payload map[string]any `json:"payload,omitempty"`

	// Error — текст ошибки (есть iff статус не SUCCEEDED).
	Error string `json:"error,omitempty"`

	// Attempts — количество сделанных попыток.
	Attempts int `json:"attempts"`

	// Elapsed — суммарное время выполнения, включая backoff.
	Elapsed time.Duration `json:"elapsed"`

	// Entity — тег сущности, унаследованный от узла.
	Entity string `json:"entity,omitempty"`

	// Fallback — true, если Payload подставлен вместо ответа агента.
	Fallback bool `json:"fallback,omitempty"`
}

// Succeeded возвращает true для успешного итога.
func (o *TaskOutcome) Succeeded() bool {
	return o.Status == OutcomeSucceeded
}

// Confidence извлекает оценку уверенности из payload.
// Ищет поля confidence, затем score. ok=false, если ни одного нет.
func (o *TaskOutcome) Confidence() (float64, bool) {
	for _, key := range []string{"confidence", "score"} {
		if v, ok := toFloat(o.Payload[key]); ok {
			return v, true
		}
	}
	return 0, false
}

// SkippedOutcome создаёт итог для узла, который не запускался.
func SkippedOutcome(node *TaskNode, reason string) TaskOutcome {
	return TaskOutcome{
		TaskID: node.ID,
		Agent:  node.TargetAgent,
		Status: OutcomeSkipped,
		Error:  reason,
		Entity: node.Entity,
	}
}

// toFloat приводит числовое значение из JSON к float64.
func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

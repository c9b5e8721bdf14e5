// Package correlate группирует итоги узлов по сущностям
// и считает согласованность агентов внутри группы.
package correlate

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/shaiso/Ensemble/internal/domain"
)

// DefaultFields — поля payload, по которым сравниваются ответы агентов.
var DefaultFields = []string{"location", "authentic", "verdict", "entity"}

// Tagger возвращает ключ сущности для итога. Пустая строка — без сущности.
type Tagger func(outcome domain.TaskOutcome) string

// DefaultTagger берёт payload.entity_id, затем payload.entity,
// затем тег сущности узла.
func DefaultTagger(outcome domain.TaskOutcome) string {
	for _, key := range []string{"entity_id", "entity"} {
		if s, ok := outcome.Payload[key].(string); ok && s != "" {
			return s
		}
	}
	return outcome.Entity
}

// NodeTagger использует только тег сущности узла.
func NodeTagger(outcome domain.TaskOutcome) string {
	return outcome.Entity
}

// Correlator группирует итоги. Нулевое значение использует DefaultFields.
type Correlator struct {
	// Fields — проверяемые поля payload.
	Fields []string
}

// Correlate группирует итоги с DefaultFields.
func Correlate(outcomes map[string]domain.TaskOutcome, tagger Tagger) []domain.CorrelatedResult {
	return Correlator{}.Correlate(outcomes, tagger)
}

// Correlate группирует итоги по ключу tagger.
//
// Итог без ключа образует отдельную группу с ID узла.
// Группы упорядочены по EntityID, участники по TaskID.
// Оценки pass/fail здесь нет: это дело quality gate.
func (c Correlator) Correlate(outcomes map[string]domain.TaskOutcome, tagger Tagger) []domain.CorrelatedResult {
	if tagger == nil {
		tagger = DefaultTagger
	}
	fields := c.Fields
	if len(fields) == 0 {
		fields = DefaultFields
	}

	type groupKey struct {
		id        string
		singleton bool
	}
	groups := make(map[groupKey][]domain.TaskOutcome)

	for id, outcome := range outcomes {
		if outcome.TaskID == "" {
			outcome.TaskID = id
		}
		key := groupKey{id: tagger(outcome)}
		if key.id == "" {
			key = groupKey{id: outcome.TaskID, singleton: true}
		}
		groups[key] = append(groups[key], outcome)
	}

	results := make([]domain.CorrelatedResult, 0, len(groups))
	for key, members := range groups {
		sort.Slice(members, func(i, j int) bool { return members[i].TaskID < members[j].TaskID })

		agreement, compared := crossValidate(members, fields)
		results = append(results, domain.CorrelatedResult{
			EntityID:  key.id,
			Outcomes:  members,
			Agreement: agreement,
			Compared:  compared,
			Singleton: key.singleton,
		})
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].EntityID != results[j].EntityID {
			return results[i].EntityID < results[j].EntityID
		}
		// группа сущности раньше одиночной с тем же ключом
		return !results[i].Singleton && results[j].Singleton
	})

	return results
}

// crossValidate считает согласие по полям.
//
// Поле сравнивается, если его сообщили хотя бы два успешных участника.
// Согласие по полю — доля участников с модальным значением.
// Итог — среднее по сравнённым полям. Если сравнивать нечего: 1 и 0.
func crossValidate(members []domain.TaskOutcome, fields []string) (float64, int) {
	if len(members) < 2 {
		return 1, 0
	}

	var sum float64
	compared := 0

	for _, field := range fields {
		counts := make(map[string]int)
		reporters := 0

		for i := range members {
			if !members[i].Succeeded() {
				continue
			}
			val, ok := members[i].Payload[field]
			if !ok || val == nil {
				continue
			}
			counts[canonical(val)]++
			reporters++
		}

		if reporters < 2 {
			continue
		}

		modal := 0
		for _, n := range counts {
			if n > modal {
				modal = n
			}
		}

		sum += float64(modal) / float64(reporters)
		compared++
	}

	if compared == 0 {
		return 1, 0
	}
	return sum / float64(compared), compared
}

// canonical приводит значение к строке для сравнения.
// Строки сравниваются без учёта регистра.
func canonical(v any) string {
	switch val := v.(type) {
	case string:
		return "s:" + strings.ToLower(strings.TrimSpace(val))
	case bool, float64, int, int64:
		return fmt.Sprintf("%T:%v", val, val)
	default:
		b, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprintf("%v", val)
		}
		return "j:" + string(b)
	}
}

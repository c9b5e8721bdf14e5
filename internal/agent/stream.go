package agent

import (
	"context"
	"encoding/json"
	"iter"
	"strings"
)

// StreamChunk — нормализованный фрагмент ответа агента.
//
// Транспорты приводят свои форматы (A2A события, NDJSON конверты)
// к StreamChunk. Клиент не знает о форме ответа на проводе.
type StreamChunk struct {
	// CorrelationID — запрос, к которому относится чанк.
	CorrelationID string

	// Text — текстовый фрагмент.
	Text string

	// Data — структурированная часть ответа.
	Data map[string]any

	// Final — последний чанк ответа.
	Final bool
}

// Request — один вызов агента.
type Request struct {
	Agent         string
	CorrelationID string
	Instruction   string
}

// Transport доставляет инструкцию агенту и отдаёт ответ потоком чанков.
//
// Реализация возвращает ошибку вторым значением итератора и прекращает
// поток. Отмена ctx обязана прерывать ожидание ответа.
type Transport interface {
	Stream(ctx context.Context, req Request) iter.Seq2[StreamChunk, error]
}

// accumulator собирает чанки одного correlation id в порядке поступления.
type accumulator struct {
	correlationID string
	text          strings.Builder
	data          map[string]any
	chunks        int
	discarded     int
}

func newAccumulator(correlationID string) *accumulator {
	return &accumulator{correlationID: correlationID}
}

// add принимает чанк. Возвращает false, если чанк чужой и отброшен.
func (a *accumulator) add(chunk StreamChunk) bool {
	if chunk.CorrelationID != a.correlationID {
		a.discarded++
		return false
	}
	a.chunks++
	a.text.WriteString(chunk.Text)
	if len(chunk.Data) > 0 {
		if a.data == nil {
			a.data = make(map[string]any, len(chunk.Data))
		}
		for k, v := range chunk.Data {
			a.data[k] = v
		}
	}
	return true
}

// result возвращает накопленный текст и payload.
//
// Если текст — JSON-объект, он раскладывается в payload;
// структурированные части накладываются поверх.
func (a *accumulator) result() (string, map[string]any) {
	text := a.text.String()

	var payload map[string]any
	if trimmed := strings.TrimSpace(text); strings.HasPrefix(trimmed, "{") {
		var decoded map[string]any
		if err := json.Unmarshal([]byte(trimmed), &decoded); err == nil {
			payload = decoded
		}
	}

	if len(a.data) > 0 {
		if payload == nil {
			payload = make(map[string]any, len(a.data))
		}
		for k, v := range a.data {
			payload[k] = v
		}
	}

	return text, payload
}

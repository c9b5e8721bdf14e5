package agent

import (
	"context"
	"iter"
)

// FuncTransport — транспорт до агента, работающего в том же процессе.
//
// Функция возвращает полный ответ. Он отдаётся одним финальным чанком.
type FuncTransport func(ctx context.Context, req Request) (text string, data map[string]any, err error)

// Stream реализует Transport.
func (f FuncTransport) Stream(ctx context.Context, req Request) iter.Seq2[StreamChunk, error] {
	return func(yield func(StreamChunk, error) bool) {
		text, data, err := f(ctx, req)
		if err != nil {
			yield(StreamChunk{}, err)
			return
		}
		yield(StreamChunk{
			CorrelationID: req.CorrelationID,
			Text:          text,
			Data:          data,
			Final:         true,
		}, nil)
	}
}

// Local создаёт AgentRef для FuncTransport.
func Local(name string, fn FuncTransport) AgentRef {
	return AgentRef{Name: name, Kind: "func", Transport: fn}
}

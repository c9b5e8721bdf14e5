package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"os"
	"strings"
	"sync"

	"github.com/a2aproject/a2a-go/a2a"
	"github.com/a2aproject/a2a-go/a2aclient"
	"github.com/a2aproject/a2a-go/a2aclient/agentcard"
)

// taskStateRejected — отказ агента от задачи.
const taskStateRejected a2a.TaskState = "rejected"

// A2ATransport — транспорт до агента по протоколу A2A (streaming).
//
// Agent card разрешается один раз при первом вызове: по URL через
// agentcard resolver или из локального JSON-файла. Неудачное разрешение
// повторяется при следующем вызове.
type A2ATransport struct {
	name   string
	source string

	mu   sync.Mutex
	card *a2a.AgentCard
}

// NewA2ATransport создаёт транспорт. source — URL агента, URL agent card
// или путь к файлу с agent card.
func NewA2ATransport(name, source string) *A2ATransport {
	return &A2ATransport{name: name, source: source}
}

// NewA2ATransportFromCard создаёт транспорт с уже известной agent card.
func NewA2ATransportFromCard(name string, card *a2a.AgentCard) *A2ATransport {
	return &A2ATransport{name: name, card: card}
}

// Stream реализует Transport.
func (t *A2ATransport) Stream(ctx context.Context, req Request) iter.Seq2[StreamChunk, error] {
	return func(yield func(StreamChunk, error) bool) {
		card, err := t.resolveCard(ctx)
		if err != nil {
			yield(StreamChunk{}, &TransientAgentError{Agent: t.name, Err: err})
			return
		}

		client, err := a2aclient.NewFromCard(ctx, card)
		if err != nil {
			yield(StreamChunk{}, &NonRetryableAgentError{Agent: t.name, Err: fmt.Errorf("create a2a client: %w", err)})
			return
		}
		defer func() { _ = client.Destroy() }()

		msg := a2a.NewMessage(a2a.MessageRoleUser, a2a.TextPart{Text: req.Instruction})
		msg.Metadata = map[string]any{"correlation_id": req.CorrelationID}

		params := &a2a.MessageSendParams{Message: msg}

		for event, err := range client.SendStreamingMessage(ctx, params) {
			if err != nil {
				yield(StreamChunk{}, err)
				return
			}

			chunk, err := convertEvent(t.name, req.CorrelationID, event)
			if err != nil {
				yield(StreamChunk{}, err)
				return
			}
			if !yield(chunk, nil) {
				return
			}
		}
	}
}

func (t *A2ATransport) resolveCard(ctx context.Context) (*a2a.AgentCard, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.card != nil {
		return t.card, nil
	}

	card, err := loadCard(ctx, t.source)
	if err != nil {
		return nil, err
	}
	t.card = card
	return card, nil
}

// loadCard загружает agent card по URL или из файла.
func loadCard(ctx context.Context, source string) (*a2a.AgentCard, error) {
	if strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://") {
		card, err := agentcard.DefaultResolver.Resolve(ctx, source)
		if err != nil {
			return nil, fmt.Errorf("resolve agent card %s: %w", source, err)
		}
		return card, nil
	}

	data, err := os.ReadFile(source)
	if err != nil {
		return nil, fmt.Errorf("read agent card %q: %w", source, err)
	}

	var card a2a.AgentCard
	if err := json.Unmarshal(data, &card); err != nil {
		return nil, fmt.Errorf("decode agent card %q: %w", source, err)
	}
	return &card, nil
}

// convertEvent приводит событие A2A к StreamChunk.
//
//   - *a2a.Message — финальный ответ
//   - *a2a.TaskArtifactUpdateEvent — часть артефакта, финальная при LastChunk
//   - *a2a.TaskStatusUpdateEvent — текст берётся только из завершающих статусов
//   - *a2a.Task — снимок задачи, финальный в терминальном состоянии
//
// failed, canceled и rejected превращаются в NonRetryableAgentError.
func convertEvent(agentName, correlationID string, event a2a.Event) (StreamChunk, error) {
	chunk := StreamChunk{CorrelationID: correlationID}

	switch e := event.(type) {
	case *a2a.Message:
		if id, ok := e.Metadata["correlation_id"].(string); ok && id != "" {
			chunk.CorrelationID = id
		}
		fillFromParts(&chunk, e.Parts)
		chunk.Final = true

	case *a2a.TaskArtifactUpdateEvent:
		if e.Artifact != nil {
			fillFromParts(&chunk, e.Artifact.Parts)
		}
		chunk.Final = e.LastChunk

	case *a2a.TaskStatusUpdateEvent:
		if err := stateError(agentName, e.Status); err != nil {
			return StreamChunk{}, err
		}
		if e.Status.State == a2a.TaskStateCompleted || e.Status.State == a2a.TaskStateInputRequired {
			if e.Status.Message != nil {
				fillFromParts(&chunk, e.Status.Message.Parts)
			}
		}
		markInputRequired(&chunk, e.Status.State)
		chunk.Final = e.Final || e.Status.State.Terminal() || e.Status.State == a2a.TaskStateInputRequired

	case *a2a.Task:
		if err := stateError(agentName, e.Status); err != nil {
			return StreamChunk{}, err
		}
		if e.Status.State.Terminal() || e.Status.State == a2a.TaskStateInputRequired {
			for _, artifact := range e.Artifacts {
				if artifact != nil {
					fillFromParts(&chunk, artifact.Parts)
				}
			}
			if chunk.Text == "" && e.Status.Message != nil {
				fillFromParts(&chunk, e.Status.Message.Parts)
			}
			markInputRequired(&chunk, e.Status.State)
			chunk.Final = true
		}
	}

	return chunk, nil
}

func stateError(agentName string, status a2a.TaskStatus) error {
	switch status.State {
	case a2a.TaskStateFailed, a2a.TaskStateCanceled, taskStateRejected:
	default:
		return nil
	}

	reason := string(status.State)
	if status.Message != nil {
		var c StreamChunk
		fillFromParts(&c, status.Message.Parts)
		if c.Text != "" {
			reason += ": " + c.Text
		}
	}
	return &NonRetryableAgentError{Agent: agentName, Err: errors.New(reason)}
}

func markInputRequired(chunk *StreamChunk, state a2a.TaskState) {
	if state != a2a.TaskStateInputRequired {
		return
	}
	if chunk.Data == nil {
		chunk.Data = make(map[string]any)
	}
	chunk.Data["input_required"] = true
}

func fillFromParts(chunk *StreamChunk, parts []a2a.Part) {
	var text strings.Builder
	text.WriteString(chunk.Text)

	for _, part := range parts {
		switch p := part.(type) {
		case a2a.TextPart:
			text.WriteString(p.Text)
		case *a2a.TextPart:
			text.WriteString(p.Text)
		case a2a.DataPart:
			mergeData(chunk, p.Data)
		case *a2a.DataPart:
			mergeData(chunk, p.Data)
		}
	}

	chunk.Text = text.String()
}

func mergeData(chunk *StreamChunk, data map[string]any) {
	if len(data) == 0 {
		return
	}
	if chunk.Data == nil {
		chunk.Data = make(map[string]any, len(data))
	}
	for k, v := range data {
		chunk.Data[k] = v
	}
}

package mq

import (
	"time"

	"github.com/google/uuid"
)

// MessageType — тип сообщения в очереди.
type MessageType string

// Типы сообщений.
const (
	MessageTypeOrchestrationRequested MessageType = "orchestration.requested"
	MessageTypeRunFinished            MessageType = "run.finished"
)

// Message — конверт сообщения. Payload после чтения из очереди
// приводится к типу через ParsePayload.
type Message struct {
	ID        string      `json:"id"`
	Type      MessageType `json:"type"`
	RunID     uuid.UUID   `json:"run_id"`
	Payload   any         `json:"payload"`
	Timestamp time.Time   `json:"timestamp"`
}

// NewMessage создаёт конверт с новым ID.
func NewMessage(msgType MessageType, runID uuid.UUID, payload any) *Message {
	return &Message{
		ID:        uuid.New().String(),
		Type:      msgType,
		RunID:     runID,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
	}
}

// OrchestrationRequestedPayload — запрос на асинхронный run.
//
// RunID назначает вызывающая сторона, чтобы сразу вернуть его клиенту.
type OrchestrationRequestedPayload struct {
	RunID   uuid.UUID      `json:"run_id"`
	Query   string         `json:"query"`
	Context map[string]any `json:"context,omitempty"`
}

// RunFinishedPayload — событие о завершении run (DONE, AWAITING_USER или FAILED).
type RunFinishedPayload struct {
	RunID        uuid.UUID `json:"run_id"`
	Phase        string    `json:"phase"`
	Verdict      string    `json:"verdict,omitempty"`
	OverallScore float64   `json:"overall_score"`
	Succeeded    int       `json:"succeeded"`
	Failed       int       `json:"failed"`
	Skipped      int       `json:"skipped"`
	Error        string    `json:"error,omitempty"`
	DurationMs   int64     `json:"duration_ms"`
}

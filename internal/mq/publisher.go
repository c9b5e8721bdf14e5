package mq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Publisher публикует события runs в ExchangeRuns.
type Publisher struct {
	conn   *Connection
	logger *slog.Logger
}

// NewPublisher создаёт Publisher поверх общего соединения.
func NewPublisher(conn *Connection, logger *slog.Logger) *Publisher {
	return &Publisher{conn: conn, logger: logger}
}

// PublishOrchestrationRequested ставит запрос в очередь ensemble-orchestrator.
func (p *Publisher) PublishOrchestrationRequested(ctx context.Context, payload OrchestrationRequestedPayload) error {
	msg := NewMessage(MessageTypeOrchestrationRequested, payload.RunID, payload)
	return p.Publish(ctx, msg)
}

// PublishRunFinished публикует итог run для внешних подписчиков.
func (p *Publisher) PublishRunFinished(ctx context.Context, payload RunFinishedPayload) error {
	msg := NewMessage(MessageTypeRunFinished, payload.RunID, payload)
	return p.Publish(ctx, msg)
}

// Publish отправляет сообщение по маршруту его типа.
//
// Если соединение в этот момент переподключается, Publish ждёт
// восстановления канала в пределах ctx и повторяет попытку один раз.
func (p *Publisher) Publish(ctx context.Context, msg *Message) error {
	route, ok := routes[msg.Type]
	if !ok {
		return fmt.Errorf("no route for message type %q", msg.Type)
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", msg.Type, err)
	}

	publishing := amqp.Publishing{
		ContentType:   "application/json",
		DeliveryMode:  amqp.Persistent,
		MessageId:     msg.ID,
		CorrelationId: msg.RunID.String(),
		Type:          string(msg.Type),
		Timestamp:     msg.Timestamp,
		Body:          body,
	}

	send := func(ch *amqp.Channel) error {
		return ch.PublishWithContext(ctx, string(route.exchange), string(route.key), false, false, publishing)
	}

	reconnected := p.conn.Reconnected()
	err = p.conn.WithChannel(ctx, send)
	if errors.Is(err, ErrNoChannel) || errors.Is(err, amqp.ErrClosed) {
		select {
		case <-ctx.Done():
			return fmt.Errorf("publish %s: %w", msg.Type, ctx.Err())
		case <-p.conn.Done():
			return fmt.Errorf("publish %s: %w", msg.Type, ErrConnectionClosed)
		case <-reconnected:
		}
		err = p.conn.WithChannel(ctx, send)
	}
	if err != nil {
		return fmt.Errorf("publish %s to %s/%s: %w", msg.Type, route.exchange, route.key, err)
	}

	p.logger.Debug("published message",
		"type", msg.Type,
		"message_id", msg.ID,
		"run_id", msg.RunID,
	)
	return nil
}

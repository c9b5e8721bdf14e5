package mq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/shaiso/Ensemble/internal/telemetry"
)

// ErrPermanent помечает ошибку, которую повтор не исправит.
// Такое сообщение уходит в DLQ, а не обратно в очередь.
var ErrPermanent = errors.New("permanent message failure")

// Handler обрабатывает одно сообщение.
//
// nil — ack. Ошибка с ErrPermanent — dead letter. Любая другая ошибка
// возвращает сообщение в очередь; число повторов ограничивает
// x-delivery-limit очереди.
type Handler func(ctx context.Context, msg *Delivery) error

// Delivery — разобранное сообщение вместе с исходной доставкой.
type Delivery struct {
	Message Message
	Raw     amqp.Delivery
}

// Attempt возвращает номер доставки, начиная с 1.
// Quorum-очередь передаёт счётчик в x-delivery-count.
func (d *Delivery) Attempt() int {
	if n, ok := d.Raw.Headers["x-delivery-count"].(int64); ok {
		return int(n) + 1
	}
	if d.Raw.Redelivered {
		return 2
	}
	return 1
}

// decision — что consumer сделал с сообщением.
type decision string

const (
	decisionAck        decision = "ack"
	decisionRequeue    decision = "requeue"
	decisionDeadLetter decision = "dead_letter"
)

// decide переводит результат обработчика в решение по сообщению.
func decide(err error) decision {
	switch {
	case err == nil:
		return decisionAck
	case errors.Is(err, ErrPermanent):
		return decisionDeadLetter
	default:
		return decisionRequeue
	}
}

// ConsumerConfig — конфигурация consumer.
type ConsumerConfig struct {
	// Queue — имя очереди.
	Queue string

	// Tag — consumer tag. Пустой — сгенерирует брокер.
	Tag string

	// Handler — обработчик сообщений.
	Handler Handler

	// Prefetch — сколько неподтверждённых сообщений держит consumer.
	// Столько же обработчиков работают одновременно, так что Prefetch
	// ограничивает число одновременных runs на процесс.
	Prefetch int
}

// Consumer читает очередь и подтверждает сообщения по решению Handler.
// Переживает разрыв соединения: после Reconnected подписка создаётся заново.
type Consumer struct {
	conn   *Connection
	logger *slog.Logger
	cfg    ConsumerConfig

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	stopped bool

	// inflight — обработчики, запущенные drain. Ждёт их только Start.
	inflight sync.WaitGroup
}

// NewConsumer создаёт Consumer. Prefetch меньше 1 заменяется на 1.
func NewConsumer(conn *Connection, logger *slog.Logger, cfg ConsumerConfig) *Consumer {
	if cfg.Prefetch <= 0 {
		cfg.Prefetch = 1
	}
	return &Consumer{
		conn:   conn,
		logger: logger.With("queue", cfg.Queue),
		cfg:    cfg,
	}
}

// Start читает очередь до отмены ctx, Stop или Close соединения.
// Перед возвратом ждёт завершения уже запущенных обработчиков.
func (c *Consumer) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return context.Canceled
	}
	c.cancel = cancel
	done := make(chan struct{})
	c.done = done
	c.mu.Unlock()

	defer close(done)
	defer c.inflight.Wait()

	for {
		// Берём до подписки: переподключение между ошибкой и ожиданием не теряется.
		reconnected := c.conn.Reconnected()

		deliveries, err := c.subscribe()
		if err != nil {
			c.logger.Error("failed to subscribe", "error", err)
		} else {
			c.logger.Info("consumer started", "prefetch", c.cfg.Prefetch)
			if err := c.drain(ctx, deliveries); err != nil {
				return err
			}
			c.logger.Warn("delivery channel closed, waiting for reconnect")
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.conn.Done():
			return ErrConnectionClosed
		case <-reconnected:
			c.logger.Info("reconnected, resubscribing")
		}
	}
}

// subscribe выставляет QoS и подписывается на очередь на текущем канале.
func (c *Consumer) subscribe() (<-chan amqp.Delivery, error) {
	var deliveries <-chan amqp.Delivery

	err := c.conn.WithChannel(context.Background(), func(ch *amqp.Channel) error {
		if err := ch.Qos(c.cfg.Prefetch, 0, false); err != nil {
			return fmt.Errorf("set qos: %w", err)
		}

		d, err := ch.Consume(c.cfg.Queue, c.cfg.Tag,
			false, // ручной ack
			false, false, false, nil)
		if err != nil {
			return fmt.Errorf("consume %s: %w", c.cfg.Queue, err)
		}
		deliveries = d
		return nil
	})

	return deliveries, err
}

// drain раздаёт сообщения обработчикам, пока канал доставки открыт.
// Одновременно работают не больше Prefetch обработчиков.
// Возвращает ошибку только при отмене ctx.
func (c *Consumer) drain(ctx context.Context, deliveries <-chan amqp.Delivery) error {
	slots := make(chan struct{}, c.cfg.Prefetch)

	for {
		// Слот берём до чтения: лишнее сообщение остаётся у брокера.
		select {
		case <-ctx.Done():
			return ctx.Err()
		case slots <- struct{}{}:
		}

		select {
		case <-ctx.Done():
			<-slots
			return ctx.Err()
		case raw, ok := <-deliveries:
			if !ok {
				<-slots
				return nil
			}
			c.inflight.Add(1)
			go func() {
				defer c.inflight.Done()
				defer func() { <-slots }()
				c.handleDelivery(ctx, raw)
			}()
		}
	}
}

// handleDelivery разбирает сообщение, вызывает Handler и подтверждает доставку.
func (c *Consumer) handleDelivery(ctx context.Context, raw amqp.Delivery) {
	var msg Message
	if err := json.Unmarshal(raw.Body, &msg); err != nil {
		c.logger.Error("malformed message", "error", err, "size", len(raw.Body))
		c.settle(raw, decisionDeadLetter)
		return
	}

	d := &Delivery{Message: msg, Raw: raw}
	logger := c.logger.With("message_id", msg.ID, "type", msg.Type, "attempt", d.Attempt())
	logger.Debug("received message")

	err := c.cfg.Handler(ctx, d)
	verdict := decide(err)
	if err != nil {
		logger.Error("handler failed", "error", err, "decision", verdict)
	}
	c.settle(raw, verdict)
}

func (c *Consumer) settle(raw amqp.Delivery, dec decision) {
	var err error
	switch dec {
	case decisionAck:
		err = raw.Ack(false)
	case decisionRequeue:
		err = raw.Nack(false, true)
	default:
		err = raw.Nack(false, false)
	}
	if err != nil {
		c.logger.Warn("failed to settle delivery", "decision", dec, "error", err)
	}
	telemetry.ObserveDelivery(c.cfg.Queue, string(dec))
}

// Stop прерывает Start и ждёт завершения запущенных обработчиков.
// Stop до Start делает последующий Start пустым.
func (c *Consumer) Stop() {
	c.mu.Lock()
	c.stopped = true
	cancel, done := c.cancel, c.done
	c.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
}

// ParsePayload приводит Payload сообщения к типу T.
// После json.Unmarshal в Message payload лежит как map[string]any.
func ParsePayload[T any](msg *Message) (T, error) {
	var result T

	raw, err := json.Marshal(msg.Payload)
	if err != nil {
		return result, fmt.Errorf("marshal payload: %w", err)
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return result, fmt.Errorf("decode %s payload: %w", msg.Type, err)
	}

	return result, nil
}

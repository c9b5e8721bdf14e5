package mq

import (
	"context"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Exchange — имя обменника.
type Exchange string

// Queue — имя очереди.
type Queue string

// RoutingKey — ключ маршрутизации.
type RoutingKey string

const (
	ExchangeRuns Exchange = "ensemble.runs"
	ExchangeDLQ  Exchange = "ensemble.dlq"
)

const (
	QueueOrchestrationsRequested Queue = "orchestrations.requested"
	QueueRunsFinished            Queue = "runs.finished"
	QueueDLQOrchestrations       Queue = "dlq.orchestrations"
)

const (
	RoutingKeyRequested        RoutingKey = "requested"
	RoutingKeyFinished         RoutingKey = "finished"
	RoutingKeyDLQOrchestration RoutingKey = "orchestrations"
)

// MaxDeliveries — сколько раз брокер выдаёт запрос, прежде чем
// отправить его в DLQ. Защищает от run, который роняет процесс.
const MaxDeliveries = 5

type route struct {
	exchange Exchange
	key      RoutingKey
}

// routes — куда публикуется каждый тип сообщения.
var routes = map[MessageType]route{
	MessageTypeOrchestrationRequested: {ExchangeRuns, RoutingKeyRequested},
	MessageTypeRunFinished:            {ExchangeRuns, RoutingKeyFinished},
}

type queueDecl struct {
	name     Queue
	exchange Exchange
	key      RoutingKey
	args     amqp.Table
}

// topology — очереди вместе с привязками.
//
//	ensemble.runs (direct)
//	├── orchestrations.requested [requested]  → ensemble-orchestrator, DLQ
//	└── runs.finished            [finished]   → внешние подписчики
//	ensemble.dlq (direct)
//	└── dlq.orchestrations       [orchestrations]
var topology = []queueDecl{
	{
		name:     QueueOrchestrationsRequested,
		exchange: ExchangeRuns,
		key:      RoutingKeyRequested,
		args: amqp.Table{
			"x-queue-type":              "quorum",
			"x-delivery-limit":          int32(MaxDeliveries),
			"x-dead-letter-exchange":    string(ExchangeDLQ),
			"x-dead-letter-routing-key": string(RoutingKeyDLQOrchestration),
		},
	},
	{name: QueueRunsFinished, exchange: ExchangeRuns, key: RoutingKeyFinished},
	{name: QueueDLQOrchestrations, exchange: ExchangeDLQ, key: RoutingKeyDLQOrchestration},
}

// SetupTopology объявляет обменники, очереди и привязки. Операция идемпотентна,
// её выполняют оба сервиса при старте.
func SetupTopology(ctx context.Context, conn *Connection) error {
	return conn.WithChannel(ctx, func(ch *amqp.Channel) error {
		for _, ex := range []Exchange{ExchangeRuns, ExchangeDLQ} {
			if err := ch.ExchangeDeclare(string(ex), amqp.ExchangeDirect, true, false, false, false, nil); err != nil {
				return fmt.Errorf("declare exchange %s: %w", ex, err)
			}
		}

		for _, q := range topology {
			if _, err := ch.QueueDeclare(string(q.name), true, false, false, false, q.args); err != nil {
				return fmt.Errorf("declare queue %s: %w", q.name, err)
			}
			if err := ch.QueueBind(string(q.name), string(q.key), string(q.exchange), false, nil); err != nil {
				return fmt.Errorf("bind %s to %s: %w", q.name, q.exchange, err)
			}
		}

		return nil
	})
}

// Package mq предоставляет инфраструктуру для работы с RabbitMQ.
//
// Структура:
//   - connection.go — управление соединением с RabbitMQ (reconnect, graceful shutdown)
//   - topology.go   — exchanges, quorum-очередь запросов с DLQ, маршруты
//   - message.go    — конверт сообщения и payload'ы
//   - publisher.go  — публикация с ожиданием переподключения
//   - consumer.go   — подписка, ack/requeue/dead letter по ошибке Handler
//
// Типы сообщений:
//   - orchestration.requested — запрос на асинхронный run
//   - run.finished            — run завершён (любая финальная фаза)
//
// Exchanges:
//   - ensemble.runs — запросы и события runs
//   - ensemble.dlq  — dead letter queue
package mq

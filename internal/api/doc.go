// Package api содержит HTTP API сервер.
//
// Структура:
//   - handler.go              — Handler с DI (orchestrator, хранилище, publisher, logger)
//   - routes.go               — регистрация маршрутов
//   - middleware.go           — request id, логирование, recovery, лимит тела
//   - response.go             — унифицированные JSON-ответы и обработка ошибок
//   - dto.go                  — Data Transfer Objects (request/response)
//   - orchestration_handler.go — POST /orchestrations (синхронно или через очередь)
//   - run_handler.go          — чтение сохранённых runs и итогов узлов
//   - agent_handler.go        — реестр агентов
//
// Все ответы обёрнуты в {"data": ...} или {"error": {...}}.
package api

// Package agent — клиент удалённых агентов.
//
// Client.Invoke отправляет инструкцию агенту, повторяет попытку
// на временных ошибках с экспоненциальным backoff, ограничивает
// попытку по времени и собирает потоковый ответ в один TaskOutcome.
//
// Форматы на проводе скрыты за Transport:
//   - A2ATransport  — протокол A2A (a2a-go, streaming)
//   - HTTPTransport — JSON или NDJSON поверх HTTP
//   - FuncTransport — агент в том же процессе
//
// Registry сопоставляет логическое имя агента с AgentRef.
package agent

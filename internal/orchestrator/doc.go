// Package orchestrator связывает стадии одного run.
//
// Orchestrator отвечает за:
//   - Декомпозицию запроса на узлы (Planner)
//   - Построение графа зависимостей и его выполнение уровнями
//   - Корреляцию итогов и quality gate
//   - Синтез артефакта или остановку в AWAITING_USER / FAILED
//   - Сохранение run, публикацию run.finished и кэш итогов для resume
//
// Service — долгоживущий режим: запросы приходят из RabbitMQ.
package orchestrator

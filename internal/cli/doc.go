// Package cli реализует инструмент командной строки Ensemble.
//
// # Обзор
//
// CLI — клиентская утилита для Ensemble API.
// Работает через HTTP, не импортирует внутренние пакеты системы.
//
// # Ключевые компоненты
//
// ## Client
//
// HTTP-клиент для Ensemble API. Инкапсулирует HTTP-запросы,
// парсинг ответов (data, list, error) и обработку ошибок.
// Для фатально завершённого run возвращает частичный результат вместе с ошибкой.
//
//	client := cli.NewClient("http://localhost:8080", 0)
//	res, err := client.Orchestrate(cli.OrchestrateRequest{Query: "acme"})
//
// ## Output
//
// Форматирование вывода. Поддерживает два режима:
//   - Таблицы (text/tabwriter) — по умолчанию
//   - JSON (json.MarshalIndent) — с флагом --json
//
// Данные выводятся в stdout, подсказки (Notef/Warnf) — в stderr.
// Это позволяет использовать pipe: ensemble run list --json | jq .
//
// ## Commands
//
//   - orchestrate QUERY [--context K=V] [--plan FILE] [--plan-name NAME] [--resume RUN_ID] [--async]
//   - run: list, show, outcomes
//   - agent: list
package cli

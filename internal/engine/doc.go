// Package engine содержит граф зависимостей узлов.
//
// Включает:
//   - graph.go    — граф и разбиение на уровни выполнения
//   - parser.go   — валидация Plan и построение графа
//   - template.go — рендеринг инструкций ({{ .Steps.A.Text }})
//
// Engine не выполняет узлы: это делает пакет executor.
package engine

// Package executor выполняет граф зависимостей.
//
// Executor.RunGraph идёт по уровням графа, внутри уровня запускает узлы
// параллельно через общий Pool (golang.org/x/sync/semaphore) и ждёт
// барьера перед следующим уровнем. Зависимые от неуспешных узлов
// получают SKIPPED.
package executor

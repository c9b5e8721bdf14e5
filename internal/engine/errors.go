package engine

import (
	"errors"
	"strings"
)

// Ошибки построения графа. Все фатальны для run.
var (
	// ErrDuplicateID — узел с таким ID уже есть в графе.
	ErrDuplicateID = errors.New("duplicate node id")

	// ErrUnknownNode — ребро ссылается на отсутствующий узел.
	ErrUnknownNode = errors.New("unknown node")

	// ErrCyclicGraph — в зависимостях есть цикл.
	ErrCyclicGraph = errors.New("cyclic dependency graph")
)

// Ошибки валидации Plan.
var (
	// ErrEmptyPlan — план не содержит узлов.
	ErrEmptyPlan = errors.New("plan has no nodes")

	// ErrEmptyNodeID — узел без ID.
	ErrEmptyNodeID = errors.New("node has empty id")

	// ErrEmptyAgent — узел не указывает агента.
	ErrEmptyAgent = errors.New("node has no target agent")

	// ErrSelfDependency — узел зависит сам от себя.
	ErrSelfDependency = errors.New("node depends on itself")
)

// Ошибки рендеринга инструкций.
var (
	// ErrTemplateParse — ошибка парсинга шаблона.
	ErrTemplateParse = errors.New("instruction template parse failed")

	// ErrTemplateRender — ошибка выполнения шаблона.
	ErrTemplateRender = errors.New("instruction template render failed")
)

// GraphError — ошибка графа с контекстом: операция и затронутые узлы.
type GraphError struct {
	Op      string   // add_node, add_dependency, compute_levels, validate
	NodeIDs []string // узлы, вызвавшие ошибку
	Err     error    // базовая ошибка
}

// Error реализует интерфейс error.
func (e *GraphError) Error() string {
	var b strings.Builder
	b.WriteString("graph ")
	b.WriteString(e.Op)
	if len(e.NodeIDs) > 0 {
		b.WriteString(" [")
		b.WriteString(strings.Join(e.NodeIDs, ", "))
		b.WriteString("]")
	}
	b.WriteString(": ")
	b.WriteString(e.Err.Error())
	return b.String()
}

// Unwrap возвращает базовую ошибку.
func (e *GraphError) Unwrap() error {
	return e.Err
}

func newGraphError(op string, err error, ids ...string) *GraphError {
	return &GraphError{Op: op, NodeIDs: ids, Err: err}
}

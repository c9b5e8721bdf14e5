package engine

import (
	"github.com/shaiso/Ensemble/internal/domain"
)

// Node — узел графа зависимостей.
type Node struct {
	// Task — копия узла плана. Status меняет только движок выполнения.
	Task domain.TaskNode

	// DependsOn — ID узлов, от которых зависит этот узел.
	DependsOn []string

	// Dependents — ID узлов, которые зависят от этого узла.
	Dependents []string
}

// ID возвращает идентификатор узла.
func (n *Node) ID() string {
	return n.Task.ID
}

// Graph — направленный граф зависимостей между узлами.
//
// Ребро from → to означает: to нельзя запускать, пока не завершился from.
// Graph — чистая структура данных без I/O и не безопасна для
// конкурентной записи.
type Graph struct {
	nodes map[string]*Node
	order []string // порядок вставки
}

// NewGraph создаёт пустой граф.
func NewGraph() *Graph {
	return &Graph{
		nodes: make(map[string]*Node),
	}
}

// AddNode добавляет узел. Повторный ID возвращает ErrDuplicateID.
func (g *Graph) AddNode(task domain.TaskNode) error {
	if _, exists := g.nodes[task.ID]; exists {
		return newGraphError("add_node", ErrDuplicateID, task.ID)
	}

	if task.Status == "" {
		task.Status = domain.NodeStatusPending
	}
	// DependsOn узла заполняется через AddDependency
	task.DependsOn = nil

	g.nodes[task.ID] = &Node{Task: task}
	g.order = append(g.order, task.ID)
	return nil
}

// AddDependency добавляет ребро fromID → toID: toID зависит от fromID.
// Повторное ребро игнорируется.
func (g *Graph) AddDependency(fromID, toID string) error {
	from, ok := g.nodes[fromID]
	if !ok {
		return newGraphError("add_dependency", ErrUnknownNode, fromID)
	}
	to, ok := g.nodes[toID]
	if !ok {
		return newGraphError("add_dependency", ErrUnknownNode, toID)
	}

	for _, dep := range to.DependsOn {
		if dep == fromID {
			return nil
		}
	}

	to.DependsOn = append(to.DependsOn, fromID)
	to.Task.DependsOn = append(to.Task.DependsOn, fromID)
	from.Dependents = append(from.Dependents, toID)
	return nil
}

// ComputeLevels разбивает узлы на уровни выполнения (алгоритм Кана по слоям).
//
// Уровень k содержит узлы, у которых все зависимости лежат в уровнях < k.
// Внутри уровня сохраняется порядок вставки. Если удаление узлов
// с нулевой входящей степенью останавливается раньше, чем граф опустел,
// возвращается ErrCyclicGraph со списком оставшихся узлов.
func (g *Graph) ComputeLevels() ([]domain.ExecutionLevel, error) {
	inDegree := make(map[string]int, len(g.nodes))
	for id, node := range g.nodes {
		inDegree[id] = len(node.DependsOn)
	}

	remaining := make([]string, len(g.order))
	copy(remaining, g.order)

	levels := make([]domain.ExecutionLevel, 0)

	for len(remaining) > 0 {
		var level domain.ExecutionLevel
		next := remaining[:0:0]

		for _, id := range remaining {
			if inDegree[id] == 0 {
				level = append(level, id)
			} else {
				next = append(next, id)
			}
		}

		if len(level) == 0 {
			return nil, newGraphError("compute_levels", ErrCyclicGraph, next...)
		}

		// Снимаем рёбра только после формирования уровня целиком
		for _, id := range level {
			for _, dep := range g.nodes[id].Dependents {
				inDegree[dep]--
			}
		}

		levels = append(levels, level)
		remaining = next
	}

	return levels, nil
}

// Node возвращает узел по ID (nil, если нет).
func (g *Graph) Node(id string) *Node {
	return g.nodes[id]
}

// Nodes возвращает узлы в порядке вставки.
func (g *Graph) Nodes() []*Node {
	nodes := make([]*Node, 0, len(g.order))
	for _, id := range g.order {
		nodes = append(nodes, g.nodes[id])
	}
	return nodes
}

// Tasks возвращает копии узлов плана в порядке вставки.
func (g *Graph) Tasks() []domain.TaskNode {
	tasks := make([]domain.TaskNode, 0, len(g.order))
	for _, id := range g.order {
		tasks = append(tasks, g.nodes[id].Task)
	}
	return tasks
}

// Len возвращает количество узлов.
func (g *Graph) Len() int {
	return len(g.order)
}

// SetStatus меняет статус узла. Неизвестный ID игнорируется.
func (g *Graph) SetStatus(id string, status domain.NodeStatus) {
	if node, ok := g.nodes[id]; ok {
		node.Task.Status = status
	}
}

// Clone возвращает независимую копию графа для одного run.
func (g *Graph) Clone() *Graph {
	c := &Graph{
		nodes: make(map[string]*Node, len(g.nodes)),
		order: append([]string(nil), g.order...),
	}
	for id, node := range g.nodes {
		task := node.Task
		task.DependsOn = append([]string(nil), node.Task.DependsOn...)
		c.nodes[id] = &Node{
			Task:       task,
			DependsOn:  append([]string(nil), node.DependsOn...),
			Dependents: append([]string(nil), node.Dependents...),
		}
	}
	return c
}

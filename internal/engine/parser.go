package engine

import (
	"fmt"

	"github.com/shaiso/Ensemble/internal/domain"
)

// Validate проверяет план без построения графа.
//
// Проверяет наличие узлов, непустые и уникальные ID, наличие агента,
// отсутствие зависимости на самого себя и ссылки depends_on.
// Циклы обнаруживает только ComputeLevels.
func Validate(plan *domain.Plan) error {
	if plan == nil || len(plan.Nodes) == 0 {
		return newGraphError("validate", ErrEmptyPlan)
	}

	ids := make(map[string]bool, len(plan.Nodes))

	for i := range plan.Nodes {
		node := &plan.Nodes[i]

		if node.ID == "" {
			return &GraphError{
				Op:  "validate",
				Err: fmt.Errorf("%w (position %d)", ErrEmptyNodeID, i),
			}
		}
		if ids[node.ID] {
			return newGraphError("validate", ErrDuplicateID, node.ID)
		}
		ids[node.ID] = true

		if node.TargetAgent == "" {
			return newGraphError("validate", ErrEmptyAgent, node.ID)
		}

		for _, dep := range node.DependsOn {
			if dep == node.ID {
				return newGraphError("validate", ErrSelfDependency, node.ID)
			}
		}
	}

	for i := range plan.Nodes {
		node := &plan.Nodes[i]
		for _, dep := range node.DependsOn {
			if !ids[dep] {
				return &GraphError{
					Op:      "validate",
					NodeIDs: []string{node.ID},
					Err:     fmt.Errorf("%w: %s", ErrUnknownNode, dep),
				}
			}
		}
	}

	return nil
}

// BuildGraph валидирует план и строит граф.
//
// Узлы добавляются в порядке плана, затем связываются по depends_on.
// Возвращённый граф уже проверен на циклы.
func BuildGraph(plan *domain.Plan) (*Graph, error) {
	if err := Validate(plan); err != nil {
		return nil, err
	}

	g := NewGraph()

	for i := range plan.Nodes {
		if err := g.AddNode(plan.Nodes[i]); err != nil {
			return nil, err
		}
	}

	for i := range plan.Nodes {
		node := &plan.Nodes[i]
		for _, dep := range node.DependsOn {
			if err := g.AddDependency(dep, node.ID); err != nil {
				return nil, err
			}
		}
	}

	if _, err := g.ComputeLevels(); err != nil {
		return nil, err
	}

	return g, nil
}

package planner

// Graph is an immutable stage graph. Stages keep declaration order.
type Graph struct {
	order      []ID
	stages     map[ID]Stage
	dependents map[ID][]ID
}

func newGraph(stages []Stage) *Graph {
	graph := &Graph{
		order:      make([]ID, 0, len(stages)),
		stages:     make(map[ID]Stage, len(stages)),
		dependents: map[ID][]ID{},
	}

	for _, stage := range stages {
		graph.order = append(graph.order, stage.ID)
		graph.stages[stage.ID] = stage
	}

	for _, id := range graph.order {
		for _, dep := range graph.stages[id].DependsOn {
			graph.dependents[dep] = append(graph.dependents[dep], id)
		}
	}

	return graph
}

// Len returns the number of stages.
func (g *Graph) Len() int {
	if g == nil {
		return 0
	}

	return len(g.order)
}

// IDs returns the stage IDs in declaration order.
func (g *Graph) IDs() []ID {
	if g == nil {
		return nil
	}

	return append([]ID(nil), g.order...)
}

// Stages returns the stages in declaration order.
func (g *Graph) Stages() []Stage {
	if g == nil {
		return nil
	}

	stages := make([]Stage, 0, len(g.order))
	for _, id := range g.order {
		stages = append(stages, g.stages[id])
	}

	return stages
}

// Stage returns the stage with the given ID.
func (g *Graph) Stage(id ID) (Stage, bool) {
	if g == nil {
		return Stage{}, false
	}

	stage, ok := g.stages[id]

	return stage, ok
}

// Dependencies returns the IDs a stage waits for.
func (g *Graph) Dependencies(id ID) []ID {
	stage, ok := g.Stage(id)
	if !ok {
		return nil
	}

	return append([]ID(nil), stage.DependsOn...)
}

// Dependents returns the IDs waiting for a stage, in declaration order.
func (g *Graph) Dependents(id ID) []ID {
	if g == nil {
		return nil
	}

	return append([]ID(nil), g.dependents[id]...)
}

// TopologicalOrder returns every stage after all of its dependencies. Ties
// keep declaration order.
func (g *Graph) TopologicalOrder() []ID {
	if g == nil {
		return nil
	}

	remaining := make(map[ID]int, len(g.order))
	for _, id := range g.order {
		remaining[id] = len(g.stages[id].DependsOn)
	}

	ordered := make([]ID, 0, len(g.order))
	done := make(map[ID]bool, len(g.order))

	for len(ordered) < len(g.order) {
		progressed := false

		for _, id := range g.order {
			if done[id] || remaining[id] > 0 {
				continue
			}

			done[id] = true
			ordered = append(ordered, id)
			progressed = true

			for _, dependent := range g.dependents[id] {
				remaining[dependent]--
			}
		}

		if !progressed {
			break
		}
	}

	return ordered
}

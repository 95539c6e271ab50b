package planner

import (
	"fmt"

	"github.com/cheap-k8s/stageflow/pkg/svc/catalog"
)

// Plan builds the stage graph for a list of targets. Unknown target
// references and dependency cycles fail with a *PlanInvalidError.
func Plan(targets []catalog.Target) (*Graph, error) {
	known := make(map[catalog.Ref]catalog.Target, len(targets))
	for _, target := range targets {
		if _, exists := known[target.Ref()]; exists {
			return nil, &PlanInvalidError{Reason: "duplicate target " + target.Ref().String()}
		}

		known[target.Ref()] = target
	}

	stages := make([]Stage, 0, len(targets)*3)

	for _, target := range targets {
		targetStages, err := expand(target, known)
		if err != nil {
			return nil, err
		}

		stages = append(stages, targetStages...)
	}

	graph := newGraph(stages)

	cycle := findCycle(graph)
	if cycle != nil {
		return nil, &PlanInvalidError{Cycle: cycle}
	}

	return graph, nil
}

// PlanCatalog plans every target of a catalog.
func PlanCatalog(cat *catalog.Catalog) (*Graph, error) {
	targets, err := cat.Snapshot()
	if err != nil {
		return nil, fmt.Errorf("plan catalog: %w", err)
	}

	return Plan(targets)
}

// FirstStage is the entry stage of a target: pre when enabled, apply otherwise.
func FirstStage(target catalog.Target) ID {
	if target.Pre.Enabled {
		return stageID(target, KindPre)
	}

	return stageID(target, KindApply)
}

// LastStage is the final stage of a target: post when enabled, apply otherwise.
func LastStage(target catalog.Target) ID {
	if target.Post.Enabled {
		return stageID(target, KindPost)
	}

	return stageID(target, KindApply)
}

func stageID(target catalog.Target, kind Kind) ID {
	return ID{Repository: target.Repository, Target: target.Name, Kind: kind}
}

func expand(target catalog.Target, known map[catalog.Ref]catalog.Target) ([]Stage, error) {
	var external []ID

	for _, ref := range target.DependsOn {
		dependency, ok := known[ref]
		if !ok {
			return nil, &PlanInvalidError{
				Reason: fmt.Sprintf("target %s depends on unknown target %s", target.Ref(), ref),
			}
		}

		external = append(external, LastStage(dependency))
	}

	base := Stage{
		Namespace:     target.Namespace,
		Interval:      target.Interval,
		Timeout:       target.Timeout,
		RetryInterval: target.RetryInterval,
		Prune:         target.Prune,
		Wait:          true,
	}

	stages := make([]Stage, 0, 3+len(target.Secrets))

	for _, secret := range target.Secrets {
		stage := base
		stage.ID = ID{Repository: target.Repository, Target: target.Name, Kind: KindCopy, Name: secret.Name}
		stage.Copy = &CopySpec{FromNamespace: secret.FromNamespace, FromName: secret.FromName, Name: secret.Name}
		stages = append(stages, stage)
	}

	entryDeps := external

	if target.Pre.Enabled {
		pre := base
		pre.ID = stageID(target, KindPre)
		pre.Path = target.Pre.Path
		pre.Force = target.Pre.Force
		pre.DependsOn = entryDeps
		stages = append(stages, pre)
		entryDeps = []ID{pre.ID}
	}

	apply := base
	apply.ID = stageID(target, KindApply)
	apply.Path = target.Path
	apply.DependsOn = entryDeps
	stages = append(stages, apply)

	if target.Post.Enabled {
		post := base
		post.ID = stageID(target, KindPost)
		post.Path = target.Post.Path
		post.Force = target.Post.Force
		post.DependsOn = []ID{apply.ID}
		stages = append(stages, post)
	}

	return stages, nil
}

// findCycle runs a depth-first search along dependency edges and returns the
// first cycle found, or nil.
func findCycle(graph *Graph) []ID {
	const (
		unvisited = iota
		visiting
		visited
	)

	state := make(map[ID]int, graph.Len())
	stack := make([]ID, 0, graph.Len())

	var visit func(id ID) []ID

	visit = func(id ID) []ID {
		state[id] = visiting
		stack = append(stack, id)

		for _, dep := range graph.stages[id].DependsOn {
			switch state[dep] {
			case visiting:
				start := 0

				for i, entry := range stack {
					if entry == dep {
						start = i

						break
					}
				}

				cycle := append([]ID(nil), stack[start:]...)

				return append(cycle, dep)
			case unvisited:
				if cycle := visit(dep); cycle != nil {
					return cycle
				}
			}
		}

		stack = stack[:len(stack)-1]
		state[id] = visited

		return nil
	}

	for _, id := range graph.order {
		if state[id] != unvisited {
			continue
		}

		if cycle := visit(id); cycle != nil {
			return cycle
		}
	}

	return nil
}

package definition

import (
	"slices"

	"github.com/dukex/pipewright/pkg/models"
)

func checkDependencies(def *models.WorkflowDefinition) error {
	for _, name := range def.JobNames() {
		for _, dep := range def.Jobs[name].Needs {
			if _, ok := def.Jobs[dep]; !ok {
				return &ValidationError{
					Err:        ErrUnknownDependency,
					Job:        name,
					Dependency: dep,
				}
			}
		}
	}

	return nil
}

const (
	unvisited = iota
	visiting
	visited
)

// checkCycles runs a depth-first search over the needs relation, keeping the
// current path on a stack. The first back edge found names the cycle.
func checkCycles(def *models.WorkflowDefinition) error {
	state := make(map[string]int, len(def.Jobs))
	stack := make([]string, 0, len(def.Jobs))

	var visit func(name string) []string

	visit = func(name string) []string {
		state[name] = visiting
		stack = append(stack, name)

		for _, dep := range def.Jobs[name].Needs {
			switch state[dep] {
			case visiting:
				start := slices.Index(stack, dep)
				cycle := slices.Clone(stack[start:])

				return append(cycle, dep)
			case unvisited:
				if cycle := visit(dep); cycle != nil {
					return cycle
				}
			}
		}

		stack = stack[:len(stack)-1]
		state[name] = visited

		return nil
	}

	for _, name := range def.JobNames() {
		if state[name] != unvisited {
			continue
		}

		if cycle := visit(name); cycle != nil {
			return &ValidationError{
				Err:   ErrCyclicDependency,
				Job:   cycle[0],
				Cycle: cycle,
			}
		}
	}

	return nil
}

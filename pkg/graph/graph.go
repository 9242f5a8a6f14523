// Package graph builds the job dependency graph of a validated definition.
package graph

import (
	"maps"
	"sort"

	"github.com/dukex/pipewright/pkg/models"
)

// Node is one job in the graph.
type Node struct {
	Spec         *models.JobSpec
	Execution    *models.JobExecution
	Dependencies []string
	Dependents   []string
}

// JobGraph is immutable once built. Dependency counters live in the
// scheduler, not here.
type JobGraph struct {
	nodes map[string]*Node
	names []string
	env   map[string]string
}

// Build creates one node and one JobExecution per job. Jobs without
// dependencies start ready, every other job starts pending. The definition
// must already be validated.
func Build(def *models.WorkflowDefinition) *JobGraph {
	g := &JobGraph{
		nodes: make(map[string]*Node, len(def.Jobs)),
		names: def.JobNames(),
		env:   maps.Clone(def.Env),
	}

	for _, name := range g.names {
		spec := def.Jobs[name]

		status := models.JobStatusPending
		if len(spec.Needs) == 0 {
			status = models.JobStatusReady
		}

		dependencies := uniqueSorted(spec.Needs)

		g.nodes[name] = &Node{
			Spec:         spec,
			Dependencies: dependencies,
			Execution: &models.JobExecution{
				Name:   name,
				Status: status,
				Needs:  dependencies,
				Steps:  models.NotRunResults(spec.Steps, 0),
			},
		}
	}

	for _, name := range g.names {
		for _, dep := range g.nodes[name].Dependencies {
			if parent, ok := g.nodes[dep]; ok {
				parent.Dependents = append(parent.Dependents, name)
			}
		}
	}

	return g
}

// Node returns the named node, or nil.
func (g *JobGraph) Node(name string) *Node {
	return g.nodes[name]
}

// Names returns all job names in lexical order.
func (g *JobGraph) Names() []string {
	return append([]string(nil), g.names...)
}

// Len returns the number of jobs.
func (g *JobGraph) Len() int {
	return len(g.names)
}

// Roots returns the jobs with no dependencies, in lexical order.
func (g *JobGraph) Roots() []string {
	var roots []string

	for _, name := range g.names {
		if len(g.nodes[name].Dependencies) == 0 {
			roots = append(roots, name)
		}
	}

	return roots
}

// Dependents returns the jobs that directly need name, in lexical order.
func (g *JobGraph) Dependents(name string) []string {
	node, ok := g.nodes[name]
	if !ok {
		return nil
	}

	return node.Dependents
}

// Env returns the workflow-level environment shared by every job.
func (g *JobGraph) Env() map[string]string {
	return g.env
}

// SetEnv adds a workflow-level variable. Call it before the graph runs.
func (g *JobGraph) SetEnv(key, value string) {
	if g.env == nil {
		g.env = make(map[string]string)
	}

	g.env[key] = value
}

// Executions returns the job executions in lexical order.
func (g *JobGraph) Executions() []*models.JobExecution {
	executions := make([]*models.JobExecution, 0, len(g.names))
	for _, name := range g.names {
		executions = append(executions, g.nodes[name].Execution)
	}

	return executions
}

func uniqueSorted(items []string) []string {
	if len(items) == 0 {
		return nil
	}

	seen := make(map[string]bool, len(items))
	unique := make([]string, 0, len(items))

	for _, item := range items {
		if !seen[item] {
			seen[item] = true
			unique = append(unique, item)
		}
	}

	sort.Strings(unique)

	return unique
}

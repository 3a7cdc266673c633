package swarm

import (
	"fmt"
)

// Graph is a task dependency DAG held as adjacency list plus in-degree
// counts. Edges point from a dependency to its dependents.
type Graph struct {
	tasks    map[string]*Task
	order    []string // submission order, for deterministic levels
	edges    map[string][]string
	inDegree map[string]int
}

// NewGraph builds the graph, rejecting duplicate IDs and unknown dependencies
func NewGraph(tasks []*Task) (*Graph, error) {
	g := &Graph{
		tasks:    make(map[string]*Task, len(tasks)),
		edges:    make(map[string][]string, len(tasks)),
		inDegree: make(map[string]int, len(tasks)),
	}
	for _, t := range tasks {
		if _, dup := g.tasks[t.ID]; dup {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateTask, t.ID)
		}
		g.tasks[t.ID] = t
		g.order = append(g.order, t.ID)
		g.inDegree[t.ID] = 0
	}

	for _, t := range tasks {
		seen := make(map[string]bool, len(t.Dependencies))
		for _, dep := range t.Dependencies {
			if _, ok := g.tasks[dep]; !ok {
				return nil, fmt.Errorf("%w: %s depends on %s", ErrUnknownDependency, t.ID, dep)
			}
			if seen[dep] {
				continue
			}
			seen[dep] = true
			g.edges[dep] = append(g.edges[dep], t.ID)
			g.inDegree[t.ID]++
		}
	}
	return g, nil
}

// Levels groups tasks by dependency depth using Kahn's algorithm. Every task
// of a level depends only on tasks of earlier levels.
func (g *Graph) Levels() ([][]*Task, error) {
	inDegree := make(map[string]int, len(g.inDegree))
	for id, d := range g.inDegree {
		inDegree[id] = d
	}

	var current []string
	for _, id := range g.order {
		if inDegree[id] == 0 {
			current = append(current, id)
		}
	}

	var levels [][]*Task
	processed := 0
	for len(current) > 0 {
		level := make([]*Task, 0, len(current))
		nextSet := make(map[string]bool)
		for _, id := range current {
			level = append(level, g.tasks[id])
			processed++
			for _, dependent := range g.edges[id] {
				inDegree[dependent]--
				if inDegree[dependent] == 0 {
					nextSet[dependent] = true
				}
			}
		}
		levels = append(levels, level)

		current = nil
		for _, id := range g.order {
			if nextSet[id] {
				current = append(current, id)
			}
		}
	}

	if processed != len(g.tasks) {
		return nil, ErrCycle
	}
	return levels, nil
}

// Order returns a topological order of all tasks
func (g *Graph) Order() ([]*Task, error) {
	levels, err := g.Levels()
	if err != nil {
		return nil, err
	}
	out := make([]*Task, 0, len(g.tasks))
	for _, level := range levels {
		out = append(out, level...)
	}
	return out, nil
}

// Sinks returns the tasks nothing depends on, in submission order
func (g *Graph) Sinks() []string {
	var out []string
	for _, id := range g.order {
		if len(g.edges[id]) == 0 {
			out = append(out, id)
		}
	}
	return out
}

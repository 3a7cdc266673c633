package coordinator

import (
	"fmt"
	"strings"

	"github.com/Abelhubprog/HandyWriterzAi-sub001/internal/model"
)

// validateTasks checks IDs, priorities and the dependency graph of a workflow
func validateTasks(tasks []*model.Task) error {
	if len(tasks) == 0 {
		return fmt.Errorf("%w: no tasks", ErrInvalidWorkflow)
	}

	graph := make(map[string][]string, len(tasks))
	for _, t := range tasks {
		if t.ID == "" || strings.Contains(t.ID, "/") {
			return fmt.Errorf("%w: task id %q", ErrInvalidWorkflow, t.ID)
		}
		if t.AgentType == "" {
			return fmt.Errorf("%w: task %s has no agent type", ErrInvalidWorkflow, t.ID)
		}
		if _, dup := graph[t.ID]; dup {
			return fmt.Errorf("%w: %s", ErrDuplicateTask, t.ID)
		}
		if !t.Priority.Valid() {
			return fmt.Errorf("%w: task %s priority %d", ErrInvalidPriority, t.ID, t.Priority)
		}
		graph[t.ID] = t.Dependencies
	}

	for id, deps := range graph {
		for _, dep := range deps {
			if _, ok := graph[dep]; !ok {
				return fmt.Errorf("%w: task %s depends on %s", ErrUnknownDependency, id, dep)
			}
		}
	}

	return checkCircularDependencies(tasks, graph)
}

// checkCircularDependencies walks the graph depth first; a node met again on
// the current path closes a cycle
func checkCircularDependencies(tasks []*model.Task, graph map[string][]string) error {
	visited := make(map[string]bool, len(graph))
	path := make(map[string]bool)

	var visit func(string) error
	visit = func(current string) error {
		if path[current] {
			return fmt.Errorf("%w: task %s", ErrCircularDependency, current)
		}
		if visited[current] {
			return nil
		}

		visited[current] = true
		path[current] = true
		for _, dep := range graph[current] {
			if err := visit(dep); err != nil {
				return err
			}
		}
		path[current] = false
		return nil
	}

	// walk in submission order so the reported task is deterministic
	for _, t := range tasks {
		if err := visit(t.ID); err != nil {
			return err
		}
	}
	return nil
}

// readyTasks returns pending tasks whose dependencies all completed
func readyTasks(tasks []*model.Task) []*model.Task {
	completed := make(map[string]bool, len(tasks))
	for _, t := range tasks {
		if t.Status == model.TaskStatusCompleted {
			completed[t.ID] = true
		}
	}

	var ready []*model.Task
	for _, t := range tasks {
		if t.Status != model.TaskStatusPending {
			continue
		}
		ok := true
		for _, dep := range t.Dependencies {
			if !completed[dep] {
				ok = false
				break
			}
		}
		if ok {
			ready = append(ready, t)
		}
	}
	return ready
}

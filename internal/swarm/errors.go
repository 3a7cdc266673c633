package swarm

import "errors"

var (
	// ErrSwarmNotFound is returned when a swarm ID is unknown
	ErrSwarmNotFound = errors.New("swarm not found")

	// ErrSwarmExists is returned when creating a swarm with an ID already in use
	ErrSwarmExists = errors.New("swarm already exists")

	// ErrUnknownContentType is returned for content types without a configuration or template
	ErrUnknownContentType = errors.New("unknown content type")

	// ErrNoPipeline is returned when executing a swarm before its pipeline was generated
	ErrNoPipeline = errors.New("swarm has no pipeline")

	// ErrCycle is returned when the task graph is not acyclic
	ErrCycle = errors.New("task graph contains a cycle")

	// ErrUnknownDependency is returned when a task depends on a task outside the swarm
	ErrUnknownDependency = errors.New("unknown dependency")

	// ErrDuplicateTask is returned when two tasks share an ID
	ErrDuplicateTask = errors.New("duplicate task")

	// ErrNoResult is returned when no agent produced a valid result for a task
	ErrNoResult = errors.New("no valid result")

	// ErrRouting is returned when a run could not be routed to a provider or
	// was refused by the budget; it never reached an agent
	ErrRouting = errors.New("provider routing failed")

	// ErrUnknownStrategy is returned for strategies outside the known set
	ErrUnknownStrategy = errors.New("unknown execution strategy")
)

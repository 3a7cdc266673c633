package pool

import "errors"

var (
	// ErrNoCapacity is returned when no agent qualifies; callers retry later
	ErrNoCapacity = errors.New("no agent capacity available")

	// ErrAgentNotFound is returned when an agent is not registered
	ErrAgentNotFound = errors.New("agent not found")

	// ErrCircuitOpen is returned when acquiring an agent whose breaker rejects calls
	ErrCircuitOpen = errors.New("agent circuit open")

	// ErrAgentUnavailable is returned when acquiring an agent in maintenance or at capacity
	ErrAgentUnavailable = errors.New("agent unavailable")

	// ErrTaskNotHeld is returned when releasing a task the agent does not hold
	ErrTaskNotHeld = errors.New("task not held by agent")

	// ErrInvalidAgent is returned when registering an agent without id, type or capacity
	ErrInvalidAgent = errors.New("invalid agent")
)

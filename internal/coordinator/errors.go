package coordinator

import "errors"

var (
	// ErrHandlerMissing is returned when no handler is registered for an agent type; never retried
	ErrHandlerMissing = errors.New("no handler registered for agent type")

	// ErrTaskTimeout is returned when a handler exceeds the task deadline
	ErrTaskTimeout = errors.New("task timed out")

	// ErrTaskFailed wraps handler errors
	ErrTaskFailed = errors.New("task failed")

	// ErrPermanent marks handler errors that retrying cannot fix
	ErrPermanent = errors.New("permanent failure")

	// ErrTaskCancelled is returned when a task was cancelled while running
	ErrTaskCancelled = errors.New("task cancelled")

	// ErrTaskNotFound is returned when a task is not found
	ErrTaskNotFound = errors.New("task not found")

	// ErrWorkflowTimeout is recorded on workflows force-failed by the global deadline
	ErrWorkflowTimeout = errors.New("workflow timed out")

	// ErrWorkflowNotFound is returned when a workflow is not found
	ErrWorkflowNotFound = errors.New("workflow not found")

	// ErrWorkflowBusy is returned when another holder kept the workflow lease past the lock timeout
	ErrWorkflowBusy = errors.New("workflow busy")

	// ErrDuplicateWorkflow is returned when a workflow ID is already in use
	ErrDuplicateWorkflow = errors.New("duplicate workflow")

	// ErrInvalidWorkflow is returned when a workflow fails validation
	ErrInvalidWorkflow = errors.New("invalid workflow")

	// ErrDuplicateTask is returned when two tasks share an ID
	ErrDuplicateTask = errors.New("duplicate task")

	// ErrUnknownDependency is returned when a task depends on a task outside its workflow
	ErrUnknownDependency = errors.New("unknown dependency")

	// ErrCircularDependency is returned when a circular dependency is detected
	ErrCircularDependency = errors.New("circular dependency detected")

	// ErrInvalidPriority is returned when an invalid priority is specified
	ErrInvalidPriority = errors.New("invalid task priority")
)

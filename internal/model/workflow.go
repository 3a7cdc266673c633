package model

import "time"

// WorkflowStatus represents the aggregate status of a workflow
type WorkflowStatus string

const (
	WorkflowStatusPending   WorkflowStatus = "pending"
	WorkflowStatusRunning   WorkflowStatus = "running"
	WorkflowStatusCompleted WorkflowStatus = "completed"
	WorkflowStatusFailed    WorkflowStatus = "failed"
	WorkflowStatusCancelled WorkflowStatus = "cancelled"
)

// Terminal reports whether the workflow status is final
func (s WorkflowStatus) Terminal() bool {
	switch s {
	case WorkflowStatusCompleted, WorkflowStatusFailed, WorkflowStatusCancelled:
		return true
	case WorkflowStatusPending, WorkflowStatusRunning:
		return false
	default:
		return false
	}
}

// Workflow is a user-level request decomposed into dependent tasks
type Workflow struct {
	ID       string            `json:"id"`
	UserID   string            `json:"user_id,omitempty"`
	TaskIDs  []string          `json:"task_ids"`
	Status   WorkflowStatus    `json:"status"`
	Metadata map[string]string `json:"metadata,omitempty"`

	// Error carries the error of the task that failed the workflow
	Error      string `json:"error,omitempty"`
	FailedTask string `json:"failed_task,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	// Tasks is populated on submission and on reads; it is stored separately
	Tasks []*Task `json:"tasks,omitempty"`
}

// Header returns a copy of the workflow without its task bodies
func (w *Workflow) Header() *Workflow {
	h := *w
	h.Tasks = nil
	h.TaskIDs = append([]string(nil), w.TaskIDs...)
	if w.Metadata != nil {
		h.Metadata = make(map[string]string, len(w.Metadata))
		for k, v := range w.Metadata {
			h.Metadata[k] = v
		}
	}
	return &h
}

// DeriveStatus computes the aggregate status from the given tasks.
// A workflow is failed as soon as any task failed terminally, cancelled when
// every task is terminal and at least one was cancelled, completed when every
// task completed, and running once any task left the pending state.
func DeriveStatus(tasks []*Task) WorkflowStatus {
	if len(tasks) == 0 {
		return WorkflowStatusCompleted
	}

	allTerminal := true
	anyCancelled := false
	started := false
	for _, t := range tasks {
		if t.TerminallyFailed() {
			return WorkflowStatusFailed
		}
		if !t.Terminal() {
			allTerminal = false
		}
		if t.Status == TaskStatusCancelled {
			anyCancelled = true
		}
		switch t.Status {
		case TaskStatusPending:
			if t.RetryCount > 0 {
				started = true
			}
		case TaskStatusAssigned, TaskStatusRunning, TaskStatusCompleted,
			TaskStatusFailed, TaskStatusCancelled:
			started = true
		}
	}

	switch {
	case allTerminal && anyCancelled:
		return WorkflowStatusCancelled
	case allTerminal:
		return WorkflowStatusCompleted
	case started:
		return WorkflowStatusRunning
	default:
		return WorkflowStatusPending
	}
}

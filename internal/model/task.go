package model

import (
	"encoding/json"
	"time"
)

// TaskStatus represents the current status of a task
type TaskStatus string

const (
	TaskStatusPending   TaskStatus = "pending"
	TaskStatusAssigned  TaskStatus = "assigned"
	TaskStatusRunning   TaskStatus = "running"
	TaskStatusCompleted TaskStatus = "completed"
	TaskStatusFailed    TaskStatus = "failed"
	TaskStatusCancelled TaskStatus = "cancelled"
)

// Valid reports whether s is a known task status
func (s TaskStatus) Valid() bool {
	switch s {
	case TaskStatusPending, TaskStatusAssigned, TaskStatusRunning,
		TaskStatusCompleted, TaskStatusFailed, TaskStatusCancelled:
		return true
	default:
		return false
	}
}

// TaskPriority represents the priority level of a task. Higher values are dispatched first.
type TaskPriority int

const (
	TaskPriorityLow      TaskPriority = 1
	TaskPriorityMedium   TaskPriority = 2
	TaskPriorityHigh     TaskPriority = 3
	TaskPriorityCritical TaskPriority = 4
)

// Valid reports whether p is a known priority
func (p TaskPriority) Valid() bool {
	switch p {
	case TaskPriorityLow, TaskPriorityMedium, TaskPriorityHigh, TaskPriorityCritical:
		return true
	default:
		return false
	}
}

func (p TaskPriority) String() string {
	switch p {
	case TaskPriorityLow:
		return "low"
	case TaskPriorityMedium:
		return "medium"
	case TaskPriorityHigh:
		return "high"
	case TaskPriorityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// Task represents a unit of work dispatched to a single agent
type Task struct {
	ID           string          `json:"id"`
	WorkflowID   string          `json:"workflow_id"`
	AgentType    string          `json:"agent_type"`
	Capabilities []string        `json:"capabilities,omitempty"`
	Payload      json.RawMessage `json:"payload,omitempty"`
	Priority     TaskPriority    `json:"priority"`
	Dependencies []string        `json:"dependencies,omitempty"`
	Timeout      time.Duration   `json:"timeout"`
	RetryCount   int             `json:"retry_count"`
	MaxRetries   int             `json:"max_retries"`

	// EstimatedCost is the caller's USD estimate, used for budget admission
	EstimatedCost float64 `json:"estimated_cost,omitempty"`

	// Execution details
	AssignedAgent string          `json:"assigned_agent,omitempty"`
	Status        TaskStatus      `json:"status"`
	Permanent     bool            `json:"permanent,omitempty"`
	Result        json.RawMessage `json:"result,omitempty"`
	Error         string          `json:"error,omitempty"`

	// Timing fields
	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// RetriesExhausted reports whether a failed task may not be requeued again
func (t *Task) RetriesExhausted() bool {
	return t.Permanent || t.RetryCount >= t.MaxRetries
}

// Terminal reports whether the task will never change state again
func (t *Task) Terminal() bool {
	switch t.Status {
	case TaskStatusCompleted, TaskStatusCancelled:
		return true
	case TaskStatusFailed:
		return t.RetriesExhausted()
	case TaskStatusPending, TaskStatusAssigned, TaskStatusRunning:
		return false
	default:
		return false
	}
}

// TerminallyFailed reports whether the task failed with no retries left
func (t *Task) TerminallyFailed() bool {
	return t.Status == TaskStatusFailed && t.RetriesExhausted()
}

// Clone returns a deep copy of the task
func (t *Task) Clone() *Task {
	c := *t
	c.Capabilities = append([]string(nil), t.Capabilities...)
	c.Dependencies = append([]string(nil), t.Dependencies...)
	if t.Payload != nil {
		c.Payload = append(json.RawMessage(nil), t.Payload...)
	}
	if t.Result != nil {
		c.Result = append(json.RawMessage(nil), t.Result...)
	}
	if t.StartedAt != nil {
		s := *t.StartedAt
		c.StartedAt = &s
	}
	if t.CompletedAt != nil {
		d := *t.CompletedAt
		c.CompletedAt = &d
	}
	return &c
}

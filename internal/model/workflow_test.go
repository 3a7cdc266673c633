package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func task(status TaskStatus, retry, max int) *Task {
	return &Task{Status: status, RetryCount: retry, MaxRetries: max}
}

func TestDeriveStatus(t *testing.T) {
	tests := []struct {
		name  string
		tasks []*Task
		want  WorkflowStatus
	}{
		{
			name:  "all completed",
			tasks: []*Task{task(TaskStatusCompleted, 0, 3), task(TaskStatusCompleted, 0, 3), task(TaskStatusCompleted, 1, 3)},
			want:  WorkflowStatusCompleted,
		},
		{
			name:  "one exhausted failure",
			tasks: []*Task{task(TaskStatusCompleted, 0, 3), task(TaskStatusCompleted, 0, 3), task(TaskStatusFailed, 3, 3)},
			want:  WorkflowStatusFailed,
		},
		{
			name:  "failure with retries left is not terminal",
			tasks: []*Task{task(TaskStatusCompleted, 0, 3), task(TaskStatusFailed, 1, 3)},
			want:  WorkflowStatusRunning,
		},
		{
			name:  "nothing started",
			tasks: []*Task{task(TaskStatusPending, 0, 3), task(TaskStatusPending, 0, 3)},
			want:  WorkflowStatusPending,
		},
		{
			name:  "one running",
			tasks: []*Task{task(TaskStatusRunning, 0, 3), task(TaskStatusPending, 0, 3)},
			want:  WorkflowStatusRunning,
		},
		{
			name:  "all cancelled",
			tasks: []*Task{task(TaskStatusCancelled, 0, 3)},
			want:  WorkflowStatusCancelled,
		},
		{
			name:  "completed and cancelled mix",
			tasks: []*Task{task(TaskStatusCompleted, 0, 3), task(TaskStatusCancelled, 0, 3)},
			want:  WorkflowStatusCancelled,
		},
		{
			name:  "cancelled with work still running",
			tasks: []*Task{task(TaskStatusCancelled, 0, 3), task(TaskStatusRunning, 0, 3)},
			want:  WorkflowStatusRunning,
		},
		{
			name:  "failure outranks cancellation",
			tasks: []*Task{task(TaskStatusCancelled, 0, 3), task(TaskStatusFailed, 3, 3)},
			want:  WorkflowStatusFailed,
		},
		{
			name:  "permanent failure",
			tasks: []*Task{{Status: TaskStatusFailed, MaxRetries: 3, Permanent: true}},
			want:  WorkflowStatusFailed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DeriveStatus(tt.tasks))
		})
	}
}

func TestTaskTerminal(t *testing.T) {
	assert.True(t, task(TaskStatusCompleted, 0, 1).Terminal())
	assert.True(t, task(TaskStatusCancelled, 0, 1).Terminal())
	assert.True(t, task(TaskStatusFailed, 1, 1).Terminal())
	assert.False(t, task(TaskStatusFailed, 0, 1).Terminal())
	assert.False(t, task(TaskStatusRunning, 0, 1).Terminal())
	assert.False(t, task(TaskStatusPending, 0, 0).Terminal())
}

func TestPriorityOrdering(t *testing.T) {
	assert.Greater(t, TaskPriorityCritical, TaskPriorityHigh)
	assert.Greater(t, TaskPriorityHigh, TaskPriorityMedium)
	assert.Greater(t, TaskPriorityMedium, TaskPriorityLow)
	assert.False(t, TaskPriority(0).Valid())
	assert.Equal(t, "high", TaskPriorityHigh.String())
}

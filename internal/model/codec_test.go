package model

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleTask() *Task {
	created := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	started := created.Add(2 * time.Second)
	completed := started.Add(5 * time.Second)
	return &Task{
		ID:            "task-1",
		WorkflowID:    "wf-1",
		AgentType:     "writer",
		Capabilities:  []string{"drafting", "citations"},
		Payload:       json.RawMessage(`{"section":"intro"}`),
		Priority:      TaskPriorityHigh,
		Dependencies:  []string{"task-0"},
		Timeout:       90 * time.Second,
		RetryCount:    1,
		MaxRetries:    3,
		EstimatedCost: 0.042,
		AssignedAgent: "agent-7",
		Status:        TaskStatusCompleted,
		Result:        json.RawMessage(`{"words":420}`),
		CreatedAt:     created,
		StartedAt:     &started,
		CompletedAt:   &completed,
	}
}

func TestTaskRoundTrip(t *testing.T) {
	task := sampleTask()

	data, err := EncodeTask(task)
	require.NoError(t, err)

	decoded, err := DecodeTask(data)
	require.NoError(t, err)
	assert.Equal(t, task, decoded)

	writtenAt, err := DecodeWithMeta(data, KindTask, &Task{})
	require.NoError(t, err)
	assert.False(t, writtenAt.IsZero())
}

func TestLargePayloadIsCompressed(t *testing.T) {
	task := sampleTask()
	task.Payload = json.RawMessage(`{"text":"` + strings.Repeat("lorem ipsum ", 1000) + `"}`)

	data, err := EncodeTask(task)
	require.NoError(t, err)

	var env envelope
	require.NoError(t, json.Unmarshal(data, &env))
	assert.True(t, env.Compressed)
	assert.Empty(t, env.Data)
	assert.Less(t, len(data), len(task.Payload))

	decoded, err := DecodeTask(data)
	require.NoError(t, err)
	assert.Equal(t, task, decoded)
}

func TestDecodeRejectsUnknownVersion(t *testing.T) {
	raw := []byte(`{"v":99,"kind":"task","data":{}}`)
	_, err := DecodeTask(raw)
	assert.ErrorIs(t, err, ErrUnsupportedVersion)
}

func TestDecodeRejectsKindMismatch(t *testing.T) {
	data, err := EncodeWorkflow(&Workflow{ID: "wf-1", Status: WorkflowStatusPending})
	require.NoError(t, err)

	_, err = DecodeTask(data)
	assert.ErrorIs(t, err, ErrKindMismatch)
}

func TestWorkflowEncodeDropsTaskBodies(t *testing.T) {
	wf := &Workflow{
		ID:      "wf-1",
		UserID:  "user-1",
		TaskIDs: []string{"task-1"},
		Status:  WorkflowStatusRunning,
		Tasks:   []*Task{sampleTask()},
	}

	data, err := EncodeWorkflow(wf)
	require.NoError(t, err)

	decoded, err := DecodeWorkflow(data)
	require.NoError(t, err)
	assert.Nil(t, decoded.Tasks)
	assert.Equal(t, []string{"task-1"}, decoded.TaskIDs)
	assert.Len(t, wf.Tasks, 1, "encoding must not mutate the original")
}

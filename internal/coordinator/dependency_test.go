package coordinator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Abelhubprog/HandyWriterzAi-sub001/internal/model"
)

func depTask(id string, deps ...string) *model.Task {
	return &model.Task{
		ID:           id,
		AgentType:    "writer",
		Priority:     model.TaskPriorityMedium,
		Status:       model.TaskStatusPending,
		Dependencies: deps,
	}
}

func TestValidateTasks(t *testing.T) {
	tests := []struct {
		name  string
		tasks []*model.Task
		err   error
	}{
		{"Empty", nil, ErrInvalidWorkflow},
		{"Diamond", []*model.Task{depTask("a"), depTask("b", "a"), depTask("c", "a"), depTask("d", "b", "c")}, nil},
		{"Duplicate", []*model.Task{depTask("a"), depTask("a")}, ErrDuplicateTask},
		{"UnknownDependency", []*model.Task{depTask("a", "ghost")}, ErrUnknownDependency},
		{"SelfLoop", []*model.Task{depTask("a", "a")}, ErrCircularDependency},
		{"Cycle", []*model.Task{depTask("a", "c"), depTask("b", "a"), depTask("c", "b")}, ErrCircularDependency},
		{"SlashInID", []*model.Task{depTask("a/b")}, ErrInvalidWorkflow},
		{"NoAgentType", []*model.Task{{ID: "a", Priority: model.TaskPriorityLow}}, ErrInvalidWorkflow},
		{"BadPriority", []*model.Task{{ID: "a", AgentType: "writer", Priority: 9}}, ErrInvalidPriority},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateTasks(tt.tasks)
			if tt.err == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.err)
		})
	}
}

func TestReadyTasks(t *testing.T) {
	a, b, c, d := depTask("a"), depTask("b", "a"), depTask("c", "a"), depTask("d", "b", "c")
	tasks := []*model.Task{a, b, c, d}

	ids := func(ts []*model.Task) []string {
		var out []string
		for _, t := range ts {
			out = append(out, t.ID)
		}
		return out
	}

	assert.Equal(t, []string{"a"}, ids(readyTasks(tasks)))

	a.Status = model.TaskStatusCompleted
	assert.Equal(t, []string{"b", "c"}, ids(readyTasks(tasks)))

	b.Status = model.TaskStatusCompleted
	c.Status = model.TaskStatusRunning
	require.Empty(t, readyTasks(tasks), "d waits for c")

	c.Status = model.TaskStatusCompleted
	assert.Equal(t, []string{"d"}, ids(readyTasks(tasks)))
}

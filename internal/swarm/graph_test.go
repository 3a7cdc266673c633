package swarm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func task(id string, deps ...string) *Task {
	return &Task{ID: id, SectionType: id, AgentType: AgentWriter, Dependencies: deps}
}

func ids(tasks []*Task) []string {
	out := make([]string, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, t.ID)
	}
	return out
}

func TestGraphLevels(t *testing.T) {
	g, err := NewGraph([]*Task{
		task("a"),
		task("c", "a"),
		task("b", "a"),
		task("d", "b", "c", "b"),
		task("e"),
	})
	require.NoError(t, err)

	levels, err := g.Levels()
	require.NoError(t, err)
	require.Len(t, levels, 3)
	assert.Equal(t, []string{"a", "e"}, ids(levels[0]))
	assert.Equal(t, []string{"c", "b"}, ids(levels[1]))
	assert.Equal(t, []string{"d"}, ids(levels[2]))

	order, err := g.Order()
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "e", "c", "b", "d"}, ids(order))

	assert.Equal(t, []string{"d", "e"}, g.Sinks())
}

func TestGraphErrors(t *testing.T) {
	t.Run("duplicate", func(t *testing.T) {
		_, err := NewGraph([]*Task{task("a"), task("a")})
		assert.ErrorIs(t, err, ErrDuplicateTask)
	})

	t.Run("unknown dependency", func(t *testing.T) {
		_, err := NewGraph([]*Task{task("a", "ghost")})
		assert.ErrorIs(t, err, ErrUnknownDependency)
	})

	t.Run("cycle", func(t *testing.T) {
		g, err := NewGraph([]*Task{task("root"), task("a", "root", "b"), task("b", "a")})
		require.NoError(t, err)

		_, err = g.Levels()
		assert.ErrorIs(t, err, ErrCycle)
		_, err = g.Order()
		assert.ErrorIs(t, err, ErrCycle)
	})

	t.Run("self dependency", func(t *testing.T) {
		g, err := NewGraph([]*Task{task("a", "a")})
		require.NoError(t, err)
		_, err = g.Levels()
		assert.ErrorIs(t, err, ErrCycle)
	})
}

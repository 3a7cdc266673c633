package coordinator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Abelhubprog/HandyWriterzAi-sub001/internal/model"
	"github.com/Abelhubprog/HandyWriterzAi-sub001/internal/store"
)

func TestExponentialBackoff(t *testing.T) {
	b := DefaultBackoff()

	var got []time.Duration
	for attempt := 1; attempt <= 6; attempt++ {
		got = append(got, b.NextRetry(attempt))
	}
	assert.Equal(t, []time.Duration{
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
		16 * time.Second,
		30 * time.Second,
		30 * time.Second,
	}, got)
	assert.Equal(t, 30*time.Second, b.NextRetry(100))
}

func TestRetryManager(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	var mu sync.Mutex
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}
	advance := func(d time.Duration) {
		mu.Lock()
		now = now.Add(d)
		mu.Unlock()
	}

	ctx := context.Background()
	q := NewTaskQueue(store.NewMemory())
	rm := NewRetryManager(q, time.Second, clock, zap.NewNop())

	require.NoError(t, rm.Schedule(ctx, "wf-1", "a", model.TaskPriorityLow, 2*time.Second))
	require.NoError(t, rm.Schedule(ctx, "wf-1", "b", model.TaskPriorityLow, 10*time.Second))
	require.NoError(t, rm.Schedule(ctx, "wf-2", "c", model.TaskPriorityHigh, 3*time.Second))

	pending := func() int64 {
		n, err := rm.Pending(ctx)
		require.NoError(t, err)
		return n
	}
	assert.Equal(t, int64(3), pending())

	t.Run("NothingDue", func(t *testing.T) {
		advance(time.Second)
		assert.Zero(t, rm.processRetries(ctx))
		depth, err := q.Depth(ctx)
		require.NoError(t, err)
		assert.Zero(t, depth)
	})

	t.Run("DueOnly", func(t *testing.T) {
		require.NoError(t, q.Push(ctx, "wf-9", "queued", model.TaskPriorityLow))
		advance(2 * time.Second)
		assert.Equal(t, int64(2), rm.processRetries(ctx))
		assert.Equal(t, int64(1), pending())

		wf, id, prio, err := q.Pop(ctx)
		require.NoError(t, err)
		assert.Equal(t, "wf-2", wf)
		assert.Equal(t, "c", id)
		assert.Equal(t, model.TaskPriorityHigh, prio)

		_, id, prio, err = q.Pop(ctx)
		require.NoError(t, err)
		assert.Equal(t, "queued", id, "promoted retries queue behind waiting tasks")
		assert.Equal(t, model.TaskPriorityLow, prio)

		_, id, _, err = q.Pop(ctx)
		require.NoError(t, err)
		assert.Equal(t, "a", id)
	})

	t.Run("RescheduleReplaces", func(t *testing.T) {
		require.NoError(t, rm.Schedule(ctx, "wf-1", "b", model.TaskPriorityLow, time.Hour))
		assert.Equal(t, int64(1), pending())
		advance(time.Minute)
		assert.Zero(t, rm.processRetries(ctx))
	})

	t.Run("Loop", func(t *testing.T) {
		q := NewTaskQueue(store.NewMemory())
		rm := NewRetryManager(q, 10*time.Millisecond, nil, zap.NewNop())
		require.NoError(t, rm.Schedule(ctx, "wf", "t", model.TaskPriorityLow, 0))
		rm.Start(ctx)
		defer rm.Stop()

		assert.Eventually(t, func() bool {
			depth, err := q.Depth(ctx)
			return err == nil && depth == 1
		}, time.Second, 10*time.Millisecond)
		rm.Stop()
	})
}

package monitor

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/Abelhubprog/HandyWriterzAi-sub001/internal/bus"
	"github.com/Abelhubprog/HandyWriterzAi-sub001/internal/testutil"
)

func TestNopSink(t *testing.T) {
	var s Sink = NopSink{}
	s.RecordAgentRequest(AgentRequest{AgentID: "a1"})
}

func TestCollectorAggregates(t *testing.T) {
	c := NewCollector("node-a", nil, time.Minute, zap.NewNop())

	c.RecordAgentRequest(AgentRequest{AgentID: "a1", AgentType: "writer", Provider: "openai", Model: "gpt-4o",
		Duration: time.Second, Cost: 0.02, Success: true, Quality: 0.8})
	c.RecordAgentRequest(AgentRequest{AgentID: "a1", AgentType: "writer", Provider: "openai", Model: "gpt-4o",
		Duration: 3 * time.Second, Cost: 0.04, Success: false, Quality: 0.6})
	c.RecordAgentRequest(AgentRequest{AgentID: "a0", AgentType: "research", Success: true})

	s, ok := c.Agent("a1")
	require.True(t, ok)
	assert.Equal(t, int64(2), s.Requests)
	assert.Equal(t, int64(1), s.Failures)
	assert.InDelta(t, 0.06, s.TotalCost, 1e-9)
	assert.Equal(t, 4*time.Second, s.TotalDuration)
	assert.InDelta(t, 0.7, s.AvgQuality, 1e-9)

	snap := c.Snapshot()
	require.Len(t, snap.Agents, 2)
	assert.Equal(t, "a0", snap.Agents[0].AgentID)
	assert.Equal(t, "node-a", snap.Source)

	_, ok = c.Agent("missing")
	assert.False(t, ok)
}

func TestCollectorPublishes(t *testing.T) {
	_, nc, cleanup := testutil.StartNATS(t)
	defer cleanup()

	logger := zaptest.NewLogger(t)
	b := bus.NewNATS(nc, logger)
	c := NewCollector("node-a", b, 50*time.Millisecond, logger)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, c.Start(ctx))
	defer c.Stop()
	require.NoError(t, nc.Flush())

	t.Run("Heartbeats", func(t *testing.T) {
		require.NoError(t, b.Publish(bus.TopicHeartbeat("node-b"), bus.NewEvent("heartbeat", "node-b", map[string]any{
			"instance_id": "node-b",
			"in_flight":   3,
			"queue_depth": 7,
		})))

		require.True(t, testutil.Eventually(t, 2*time.Second, func() bool {
			return len(c.Snapshot().Peers) == 1
		}))
		peer := c.Snapshot().Peers[0]
		assert.Equal(t, "node-b", peer.InstanceID)
		assert.Equal(t, 3, peer.InFlight)
		assert.Equal(t, int64(7), peer.QueueDepth)
	})

	t.Run("Snapshots", func(t *testing.T) {
		c.RecordAgentRequest(AgentRequest{AgentID: "a1", Success: true})

		msgs, err := testutil.ConsumeMessages(nc, bus.TopicMetrics, 300*time.Millisecond)
		require.NoError(t, err)
		require.NotEmpty(t, msgs)

		var snap Snapshot
		require.NoError(t, json.Unmarshal(msgs[len(msgs)-1], &snap))
		assert.Equal(t, "node-a", snap.Source)
		assert.NotZero(t, snap.Timestamp)
		assert.GreaterOrEqual(t, snap.CPUUsage, 0.0)
		assert.GreaterOrEqual(t, snap.MemoryUsage, 0.0)
		require.Len(t, snap.Agents, 1)
		assert.Equal(t, int64(1), snap.Agents[0].Requests)
	})
}

package monitor

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
	"go.uber.org/zap"

	"github.com/Abelhubprog/HandyWriterzAi-sub001/internal/bus"
	"github.com/Abelhubprog/HandyWriterzAi-sub001/internal/model"
)

// AgentStats aggregates observations for one agent
type AgentStats struct {
	AgentID       string        `json:"agent_id"`
	AgentType     string        `json:"agent_type"`
	Provider      string        `json:"provider"`
	Model         string        `json:"model"`
	Requests      int64         `json:"requests"`
	Failures      int64         `json:"failures"`
	TotalCost     float64       `json:"total_cost"`
	TotalDuration time.Duration `json:"total_duration"`
	AvgQuality    float64       `json:"avg_quality"`
	LastSeen      time.Time     `json:"last_seen"`

	qualitySamples int64
}

// Snapshot is the periodically published metrics payload
type Snapshot struct {
	Source      string             `json:"source"`
	Timestamp   time.Time          `json:"timestamp"`
	CPUUsage    float64            `json:"cpu_usage"`
	MemoryUsage float64            `json:"memory_usage"`
	Agents      []AgentStats       `json:"agents"`
	Peers       []*model.Heartbeat `json:"peers,omitempty"`
}

// Subscriber is implemented by buses that can deliver events
type Subscriber interface {
	Subscribe(ctx context.Context, subject string, handler func(subject string, ev bus.Event)) error
}

// Collector implements Sink and publishes snapshots on an interval
type Collector struct {
	logger    *zap.Logger
	source    string
	publisher bus.Publisher
	interval  time.Duration
	mu        sync.RWMutex
	agents    map[string]*AgentStats
	peers     map[string]*model.Heartbeat
	now       func() time.Time
	stop      chan struct{}
	stopOnce  sync.Once
}

// NewCollector creates a collector publishing as source every interval
func NewCollector(source string, publisher bus.Publisher, interval time.Duration, logger *zap.Logger) *Collector {
	if publisher == nil {
		publisher = bus.Nop{}
	}
	return &Collector{
		logger:    logger.Named("metrics-collector"),
		source:    source,
		publisher: publisher,
		interval:  interval,
		agents:    make(map[string]*AgentStats),
		peers:     make(map[string]*model.Heartbeat),
		now:       time.Now,
		stop:      make(chan struct{}),
	}
}

// RecordAgentRequest implements Sink
func (c *Collector) RecordAgentRequest(r AgentRequest) {
	c.mu.Lock()
	defer c.mu.Unlock()

	s, ok := c.agents[r.AgentID]
	if !ok {
		s = &AgentStats{AgentID: r.AgentID}
		c.agents[r.AgentID] = s
	}
	s.AgentType = r.AgentType
	s.Provider = r.Provider
	s.Model = r.Model
	s.Requests++
	if !r.Success {
		s.Failures++
	}
	s.TotalCost += r.Cost
	s.TotalDuration += r.Duration
	if r.Quality > 0 {
		s.qualitySamples++
		s.AvgQuality += (r.Quality - s.AvgQuality) / float64(s.qualitySamples)
	}
	s.LastSeen = c.now()
}

// Start subscribes to peer heartbeats when the bus supports it and runs the publish loop
func (c *Collector) Start(ctx context.Context) error {
	c.logger.Info("Starting metrics collector", zap.Duration("interval", c.interval))

	if sub, ok := c.publisher.(Subscriber); ok {
		if err := sub.Subscribe(ctx, bus.TopicHeartbeatAll, c.handleHeartbeat); err != nil {
			return fmt.Errorf("failed to subscribe to heartbeats: %w", err)
		}
	}

	go c.collectLoop(ctx)
	return nil
}

// Stop stops the publish loop
func (c *Collector) Stop() {
	c.stopOnce.Do(func() {
		c.logger.Info("Stopping metrics collector")
		close(c.stop)
	})
}

func (c *Collector) handleHeartbeat(subject string, ev bus.Event) {
	id, _ := ev.Data["instance_id"].(string)
	if id == "" {
		c.logger.Error("Heartbeat without instance id", zap.String("subject", subject))
		return
	}

	hb := &model.Heartbeat{InstanceID: id, Timestamp: ev.Timestamp, Status: model.InstanceStatusHealthy}
	if v, ok := ev.Data["in_flight"].(float64); ok {
		hb.InFlight = int(v)
	}
	if v, ok := ev.Data["queue_depth"].(float64); ok {
		hb.QueueDepth = int64(v)
	}

	c.mu.Lock()
	c.peers[id] = hb
	c.mu.Unlock()
}

func (c *Collector) collectLoop(ctx context.Context) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stop:
			return
		case <-ticker.C:
			c.Collect()
		}
	}
}

// Collect builds a snapshot with host load and publishes it
func (c *Collector) Collect() *Snapshot {
	snap := c.Snapshot()

	if cpuPercent, err := cpu.Percent(0, false); err != nil {
		c.logger.Warn("Failed to get CPU usage", zap.Error(err))
	} else if len(cpuPercent) > 0 {
		snap.CPUUsage = cpuPercent[0]
	}
	if memInfo, err := mem.VirtualMemory(); err != nil {
		c.logger.Warn("Failed to get memory usage", zap.Error(err))
	} else {
		snap.MemoryUsage = memInfo.UsedPercent
	}

	if err := c.publisher.Publish(bus.TopicMetrics, snap); err != nil {
		c.logger.Error("Failed to publish metrics", zap.Error(err))
	}

	c.logger.Debug("Metrics collected",
		zap.Float64("cpu_usage", snap.CPUUsage),
		zap.Float64("memory_usage", snap.MemoryUsage),
		zap.Int("agent_count", len(snap.Agents)),
		zap.Int("peer_count", len(snap.Peers)))
	return snap
}

// Snapshot returns the aggregated stats without host load
func (c *Collector) Snapshot() *Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	snap := &Snapshot{Source: c.source, Timestamp: c.now().UTC()}
	for _, s := range c.agents {
		snap.Agents = append(snap.Agents, *s)
	}
	sort.Slice(snap.Agents, func(i, j int) bool { return snap.Agents[i].AgentID < snap.Agents[j].AgentID })

	for _, hb := range c.peers {
		cp := *hb
		snap.Peers = append(snap.Peers, &cp)
	}
	sort.Slice(snap.Peers, func(i, j int) bool { return snap.Peers[i].InstanceID < snap.Peers[j].InstanceID })
	return snap
}

// Agent returns the stats of one agent
func (c *Collector) Agent(id string) (AgentStats, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	s, ok := c.agents[id]
	if !ok {
		return AgentStats{}, false
	}
	return *s, true
}

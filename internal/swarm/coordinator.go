// Package swarm generates adaptive section pipelines for a content request
// and executes them under one coordination strategy, sharing a bounded
// memory between sibling tasks.
package swarm

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Abelhubprog/HandyWriterzAi-sub001/internal/bus"
	"github.com/Abelhubprog/HandyWriterzAi-sub001/internal/model"
	"github.com/Abelhubprog/HandyWriterzAi-sub001/internal/monitor"
	"github.com/Abelhubprog/HandyWriterzAi-sub001/internal/pool"
	"github.com/Abelhubprog/HandyWriterzAi-sub001/internal/resource"
	"github.com/Abelhubprog/HandyWriterzAi-sub001/internal/store"
)

// Agents is the agent pool swarms draw from
type Agents interface {
	AcquireBest(req pool.Request) (*pool.Lease, error)
	AcquireWait(ctx context.Context, req pool.Request, interval time.Duration) (*pool.Lease, error)
}

// Resources routes each run to a provider/model and governs spend
type Resources interface {
	SelectOptimalProvider(ctx context.Context, req resource.Request) (*model.ProviderSelection, error)
	CheckBudget(ctx context.Context, estimate float64, userID string) error
	RecordRequest(ctx context.Context, rec resource.Record) error
}

// CoordinatorConfig configures the swarm coordinator
type CoordinatorConfig struct {
	AcquireTimeout  time.Duration `mapstructure:"acquire_timeout"`
	AcquireInterval time.Duration `mapstructure:"acquire_interval"`

	// LeadAgentType is the pool type hierarchical swarms plan and synthesize with
	LeadAgentType string `mapstructure:"lead_agent_type"`
	// Collaborators is the number of agents per task under the collaborative strategy
	Collaborators int `mapstructure:"collaborators"`

	DecisionLog     int                    `mapstructure:"decision_log"`
	EstimatedTokens int                    `mapstructure:"estimated_tokens"`
	Rubric          Rubric                 `mapstructure:"rubric"`
	Profiles        map[ContentType]Config `mapstructure:"profiles"`
}

// DefaultCoordinatorConfig returns the stock settings
func DefaultCoordinatorConfig() CoordinatorConfig {
	return CoordinatorConfig{
		AcquireTimeout:  30 * time.Second,
		AcquireInterval: 50 * time.Millisecond,
		LeadAgentType:   AgentLead,
		Collaborators:   2,
		DecisionLog:     defaultDecisionLog,
		EstimatedTokens: 2000,
		Rubric:          DefaultRubric(),
		Profiles:        DefaultConfigs(),
	}
}

// Coordinator creates, plans and executes swarms
type Coordinator struct {
	logger    *zap.Logger
	cfg       CoordinatorConfig
	store     store.Store
	agents    Agents
	runner    Runner
	resources Resources
	sink      monitor.Sink
	publisher bus.Publisher
	now       func() time.Time

	mu       sync.Mutex
	memories map[string]*Memory
	leaseSeq atomic.Int64
}

// Option configures a Coordinator
type Option func(*Coordinator)

// WithResources routes runs through the resource manager
func WithResources(r Resources) Option {
	return func(c *Coordinator) { c.resources = r }
}

// WithSink reports agent runs to an observability sink
func WithSink(s monitor.Sink) Option {
	return func(c *Coordinator) { c.sink = s }
}

// WithPublisher publishes swarm events
func WithPublisher(p bus.Publisher) Option {
	return func(c *Coordinator) { c.publisher = p }
}

// WithClock overrides the clock, mainly for tests
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

// NewCoordinator creates a swarm coordinator
func NewCoordinator(cfg CoordinatorConfig, st store.Store, agents Agents, runner Runner, logger *zap.Logger, opts ...Option) *Coordinator {
	def := DefaultCoordinatorConfig()
	if cfg.AcquireTimeout <= 0 {
		cfg.AcquireTimeout = def.AcquireTimeout
	}
	if cfg.AcquireInterval <= 0 {
		cfg.AcquireInterval = def.AcquireInterval
	}
	if cfg.LeadAgentType == "" {
		cfg.LeadAgentType = def.LeadAgentType
	}
	if cfg.Collaborators <= 0 {
		cfg.Collaborators = def.Collaborators
	}
	if cfg.DecisionLog <= 0 {
		cfg.DecisionLog = def.DecisionLog
	}
	if cfg.EstimatedTokens <= 0 {
		cfg.EstimatedTokens = def.EstimatedTokens
	}
	if cfg.Rubric == (Rubric{}) {
		cfg.Rubric = def.Rubric
	}
	profiles := def.Profiles
	for ct, p := range cfg.Profiles {
		profiles[ct] = p
	}
	cfg.Profiles = profiles

	c := &Coordinator{
		logger:    logger.Named("swarm-coordinator"),
		cfg:       cfg,
		store:     st,
		agents:    agents,
		runner:    runner,
		sink:      monitor.NopSink{},
		publisher: bus.Nop{},
		now:       time.Now,
		memories:  make(map[string]*Memory),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// CreateSwarm registers a swarm with a fresh memory and the profile of its
// content type. A "user_id" string requirement attributes spend to that user.
func (c *Coordinator) CreateSwarm(ctx context.Context, id string, contentType ContentType, requirements map[string]any) (*Swarm, error) {
	cfg, ok := c.cfg.Profiles[contentType]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownContentType, contentType)
	}
	if !cfg.Strategy.Valid() {
		return nil, fmt.Errorf("%w: %s", ErrUnknownStrategy, cfg.Strategy)
	}
	if id == "" {
		id = uuid.NewString()
	}

	if _, err := c.store.HGet(ctx, store.KeySwarms, id); err == nil {
		return nil, fmt.Errorf("%w: %s", ErrSwarmExists, id)
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("failed to check swarm: %w", err)
	}

	now := c.now()
	sw := &Swarm{
		ID:           id,
		ContentType:  contentType,
		Requirements: requirements,
		Config:       cfg,
		Status:       StatusCreated,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if uid, ok := requirements["user_id"].(string); ok {
		sw.UserID = uid
	}

	mem := NewMemory(c.cfg.DecisionLog)
	if style, ok := requirements["style"].(string); ok {
		mem.SetStyle("style", style)
	}
	if level, ok := requirements["academic_level"].(string); ok {
		mem.SetStyle("academic_level", level)
	}
	sw.Memory = mem.State()

	if err := c.save(ctx, sw); err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.memories[id] = mem
	c.mu.Unlock()

	c.logger.Info("Swarm created",
		zap.String("swarm_id", id),
		zap.String("content_type", string(contentType)),
		zap.String("strategy", string(cfg.Strategy)))
	c.publish(id, "created", map[string]any{
		"content_type": string(contentType),
		"strategy":     string(cfg.Strategy),
	})
	return sw, nil
}

// GenerateAdaptivePipeline derives the swarm's task graph from its content
// type and the request's complexity, file count and special requirements
func (c *Coordinator) GenerateAdaptivePipeline(ctx context.Context, id string, complexity float64, fileCount int, special []string) ([]*Task, error) {
	sw, err := c.GetSwarm(ctx, id)
	if err != nil {
		return nil, err
	}

	tasks, err := GeneratePipeline(sw.ContentType, PipelineOptions{
		Complexity: complexity,
		FileCount:  fileCount,
		Special:    special,
	})
	if err != nil {
		return nil, err
	}
	for _, t := range tasks {
		for k, v := range sw.Requirements {
			if _, taken := t.Requirements[k]; !taken {
				t.Requirements[k] = v
			}
		}
	}

	sw.Tasks = tasks
	sw.Status = StatusPlanned
	sw.UpdatedAt = c.now()
	if err := c.save(ctx, sw); err != nil {
		return nil, err
	}

	c.logger.Info("Pipeline generated",
		zap.String("swarm_id", id),
		zap.Float64("complexity", complexity),
		zap.Int("file_count", fileCount),
		zap.Int("tasks", len(tasks)))
	c.publish(id, "planned", map[string]any{"tasks": len(tasks)})
	return tasks, nil
}

// Execute runs the swarm's pipeline under its strategy and stores the result.
// The returned result is set even when execution fails.
func (c *Coordinator) Execute(ctx context.Context, id string) (*Result, error) {
	sw, err := c.GetSwarm(ctx, id)
	if err != nil {
		return nil, err
	}
	if len(sw.Tasks) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoPipeline, id)
	}
	graph, err := NewGraph(sw.Tasks)
	if err != nil {
		return nil, err
	}

	mem := c.memory(sw)
	saveCtx := context.WithoutCancel(ctx)
	if sw.Config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, sw.Config.Timeout)
		defer cancel()
	}

	started := c.now()
	sw.Status = StatusRunning
	sw.UpdatedAt = started
	if err := c.save(ctx, sw); err != nil {
		return nil, err
	}
	c.logger.Info("Swarm started",
		zap.String("swarm_id", id),
		zap.String("strategy", string(sw.Config.Strategy)),
		zap.Int("tasks", len(sw.Tasks)))
	c.publish(id, "started", map[string]any{"strategy": string(sw.Config.Strategy)})

	run := newExecution(sw, graph, mem)
	runErr := c.runStrategy(ctx, run)

	result := run.result(c.now().Sub(started))
	if runErr != nil {
		result.Status = StatusFailed
		result.Error = runErr.Error()
	} else {
		result.Status = StatusCompleted
	}

	sw.Status = result.Status
	sw.Result = result
	sw.Memory = mem.State()
	sw.UpdatedAt = c.now()
	if err := c.save(saveCtx, sw); err != nil {
		c.logger.Error("Failed to store swarm result", zap.String("swarm_id", id), zap.Error(err))
	}

	if runErr != nil {
		c.logger.Error("Swarm failed", zap.String("swarm_id", id), zap.Error(runErr))
		c.publish(id, "failed", map[string]any{"error": runErr.Error()})
		return result, fmt.Errorf("swarm %s failed: %w", id, runErr)
	}

	c.logger.Info("Swarm completed",
		zap.String("swarm_id", id),
		zap.Float64("total_cost", result.TotalCost),
		zap.Duration("duration", result.Duration),
		zap.Strings("below_threshold", result.BelowThreshold))
	c.publish(id, "completed", map[string]any{
		"tasks":           len(result.Tasks),
		"total_cost":      result.TotalCost,
		"below_threshold": result.BelowThreshold,
	})
	return result, nil
}

// GetSwarm loads a swarm record
func (c *Coordinator) GetSwarm(ctx context.Context, id string) (*Swarm, error) {
	raw, err := c.store.HGet(ctx, store.KeySwarms, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrSwarmNotFound, id)
		}
		return nil, fmt.Errorf("failed to load swarm: %w", err)
	}
	var sw Swarm
	if err := model.Decode(raw, model.KindSwarm, &sw); err != nil {
		return nil, err
	}
	return &sw, nil
}

// Memory returns the live shared memory of a swarm created by this instance
func (c *Coordinator) Memory(id string) (*Memory, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	m, ok := c.memories[id]
	return m, ok
}

// memory returns the live memory or restores it from the record
func (c *Coordinator) memory(sw *Swarm) *Memory {
	c.mu.Lock()
	defer c.mu.Unlock()
	if m, ok := c.memories[sw.ID]; ok {
		return m
	}
	m := RestoreMemory(sw.Memory, c.cfg.DecisionLog)
	c.memories[sw.ID] = m
	return m
}

func (c *Coordinator) save(ctx context.Context, sw *Swarm) error {
	data, err := model.Encode(model.KindSwarm, sw)
	if err != nil {
		return err
	}
	if err := c.store.HSet(ctx, store.KeySwarms, sw.ID, data); err != nil {
		return fmt.Errorf("failed to save swarm: %w", err)
	}
	return nil
}

func (c *Coordinator) publish(swarmID, event string, data map[string]any) {
	if data == nil {
		data = make(map[string]any)
	}
	data["swarm_id"] = swarmID
	if err := c.publisher.Publish(bus.TopicSwarm(swarmID, event), bus.NewEvent("swarm_"+event, "swarm-coordinator", data)); err != nil {
		c.logger.Warn("Failed to publish swarm event", zap.String("event", event), zap.Error(err))
	}
}

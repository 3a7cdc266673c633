// Package coordinator accepts workflows, keeps their ready tasks in the
// shared priority queue and runs the worker loop that dispatches each task
// to an agent through a registered handler.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/Abelhubprog/HandyWriterzAi-sub001/internal/bus"
	"github.com/Abelhubprog/HandyWriterzAi-sub001/internal/model"
	"github.com/Abelhubprog/HandyWriterzAi-sub001/internal/monitor"
	"github.com/Abelhubprog/HandyWriterzAi-sub001/internal/pool"
	"github.com/Abelhubprog/HandyWriterzAi-sub001/internal/resource"
	"github.com/Abelhubprog/HandyWriterzAi-sub001/internal/storage"
	"github.com/Abelhubprog/HandyWriterzAi-sub001/internal/store"
)

// Agents is the agent pool the worker loop acquires from
type Agents interface {
	AcquireWait(ctx context.Context, req pool.Request, interval time.Duration) (*pool.Lease, error)
	Stats() pool.Stats
	Sync(ctx context.Context, s store.Store) error
}

// Resources governs provider admission and spend
type Resources interface {
	Admit(provider string) error
	CheckBudget(ctx context.Context, estimate float64, userID string) error
	RecordRequest(ctx context.Context, rec resource.Record) error
}

// History records task executions
type History interface {
	Store(ctx context.Context, exec *storage.Execution) error
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// Config configures the coordinator
type Config struct {
	InstanceID string `mapstructure:"instance_id"`
	Workers    int    `mapstructure:"workers"`

	// PollInterval is how long an idle worker sleeps before polling the queue again
	PollInterval time.Duration `mapstructure:"poll_interval"`
	// AcquireTimeout bounds the wait for agent capacity per dispatch attempt
	AcquireTimeout  time.Duration `mapstructure:"acquire_timeout"`
	AcquireInterval time.Duration `mapstructure:"acquire_interval"`
	// RequeueDelay applies when a task could not start for lack of capacity or rate budget
	RequeueDelay       time.Duration `mapstructure:"requeue_delay"`
	DefaultTaskTimeout time.Duration `mapstructure:"default_task_timeout"`

	WorkflowTimeout   time.Duration `mapstructure:"workflow_timeout"`
	Retention         time.Duration `mapstructure:"retention"`
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
	MonitorInterval   time.Duration `mapstructure:"monitor_interval"`
	InstanceTTL       time.Duration `mapstructure:"instance_ttl"`

	RetryInterval time.Duration      `mapstructure:"retry_interval"`
	Backoff       ExponentialBackoff `mapstructure:"backoff"`

	// LockTTL bounds how long a crashed instance can hold a workflow lease
	LockTTL     time.Duration `mapstructure:"lock_ttl"`
	LockTimeout time.Duration `mapstructure:"lock_timeout"`
	LockRetry   time.Duration `mapstructure:"lock_retry"`
}

// DefaultConfig returns the stock coordinator settings
func DefaultConfig() Config {
	return Config{
		Workers:            4,
		PollInterval:       100 * time.Millisecond,
		AcquireTimeout:     5 * time.Second,
		AcquireInterval:    50 * time.Millisecond,
		RequeueDelay:       time.Second,
		DefaultTaskTimeout: 5 * time.Minute,
		WorkflowTimeout:    time.Hour,
		Retention:          24 * time.Hour,
		HeartbeatInterval:  10 * time.Second,
		MonitorInterval:    time.Minute,
		InstanceTTL:        30 * time.Second,
		RetryInterval:      250 * time.Millisecond,
		Backoff:            *DefaultBackoff(),
		LockTTL:            30 * time.Second,
		LockTimeout:        10 * time.Second,
		LockRetry:          5 * time.Millisecond,
	}
}

func (cfg Config) withDefaults() Config {
	def := DefaultConfig()
	if cfg.InstanceID == "" {
		host, _ := os.Hostname()
		cfg.InstanceID = fmt.Sprintf("%s-%s", host, uuid.NewString()[:8])
	}
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	if cfg.AcquireTimeout <= 0 {
		cfg.AcquireTimeout = def.AcquireTimeout
	}
	if cfg.AcquireInterval <= 0 {
		cfg.AcquireInterval = def.AcquireInterval
	}
	if cfg.RequeueDelay <= 0 {
		cfg.RequeueDelay = def.RequeueDelay
	}
	if cfg.DefaultTaskTimeout <= 0 {
		cfg.DefaultTaskTimeout = def.DefaultTaskTimeout
	}
	if cfg.WorkflowTimeout <= 0 {
		cfg.WorkflowTimeout = def.WorkflowTimeout
	}
	if cfg.Retention <= 0 {
		cfg.Retention = def.Retention
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = def.HeartbeatInterval
	}
	if cfg.MonitorInterval <= 0 {
		cfg.MonitorInterval = def.MonitorInterval
	}
	if cfg.InstanceTTL <= 0 {
		cfg.InstanceTTL = 3 * cfg.HeartbeatInterval
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = def.RetryInterval
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = def.LockTTL
	}
	if cfg.LockTimeout <= 0 {
		cfg.LockTimeout = def.LockTimeout
	}
	if cfg.LockRetry <= 0 {
		cfg.LockRetry = def.LockRetry
	}
	if cfg.Backoff.InitialDelay <= 0 || cfg.Backoff.Multiplier <= 0 || cfg.Backoff.MaxDelay <= 0 {
		cfg.Backoff = def.Backoff
	}
	return cfg
}

// Coordinator owns workflow state and the dispatch loop of one instance
type Coordinator struct {
	logger    *zap.Logger
	cfg       Config
	store     store.Store
	queue     *TaskQueue
	agents    Agents
	resources Resources
	history   History
	sink      monitor.Sink
	publisher bus.Publisher
	handlers  *registry
	backoff   RetryStrategy
	retries   *RetryManager
	cron      *cron.Cron
	now       func() time.Time

	inflightMu sync.Mutex
	inflight   map[string]context.CancelFunc

	wg       sync.WaitGroup
	stop     chan struct{}
	stopOnce sync.Once
}

// Option configures a Coordinator
type Option func(*Coordinator)

// WithResources enables budget and rate-limit admission
func WithResources(r Resources) Option {
	return func(c *Coordinator) { c.resources = r }
}

// WithHistory records every execution attempt
func WithHistory(h History) Option {
	return func(c *Coordinator) { c.history = h }
}

// WithSink reports agent requests to an observability sink
func WithSink(s monitor.Sink) Option {
	return func(c *Coordinator) { c.sink = s }
}

// WithPublisher publishes task, workflow and heartbeat events
func WithPublisher(p bus.Publisher) Option {
	return func(c *Coordinator) { c.publisher = p }
}

// WithRetryStrategy overrides the backoff between attempts
func WithRetryStrategy(s RetryStrategy) Option {
	return func(c *Coordinator) { c.backoff = s }
}

// WithClock overrides the clock, mainly for tests
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

// New creates a coordinator
func New(cfg Config, st store.Store, agents Agents, logger *zap.Logger, opts ...Option) *Coordinator {
	cfg = cfg.withDefaults()
	c := &Coordinator{
		logger:    logger.Named("coordinator"),
		cfg:       cfg,
		store:     st,
		queue:     NewTaskQueue(st),
		agents:    agents,
		sink:      monitor.NopSink{},
		publisher: bus.Nop{},
		handlers:  newRegistry(),
		now:       time.Now,
		inflight:  make(map[string]context.CancelFunc),
		stop:      make(chan struct{}),
	}
	backoff := cfg.Backoff
	c.backoff = &backoff
	for _, opt := range opts {
		opt(c)
	}

	c.retries = NewRetryManager(c.queue, cfg.RetryInterval, c.now, logger)
	return c
}

// InstanceID returns this instance's identity
func (c *Coordinator) InstanceID() string {
	return c.cfg.InstanceID
}

// RegisterHandler registers the handler for an agent type
func (c *Coordinator) RegisterHandler(agentType string, h Handler) {
	c.handlers.register(agentType, h)
	c.logger.Info("Registered handler", zap.String("agent_type", agentType))
}

// Start launches the workers, the retry loop and the background monitors
func (c *Coordinator) Start(ctx context.Context) error {
	c.logger.Info("Starting coordinator",
		zap.String("instance_id", c.cfg.InstanceID),
		zap.Int("workers", c.cfg.Workers))

	c.retries.Start(ctx)

	if err := c.startMonitors(ctx); err != nil {
		return err
	}

	for i := 0; i < c.cfg.Workers; i++ {
		c.wg.Add(1)
		go c.worker(ctx, i)
	}
	return nil
}

// Stop stops the workers after their current task and waits for them
func (c *Coordinator) Stop() {
	c.stopOnce.Do(func() {
		c.logger.Info("Stopping coordinator")
		close(c.stop)
		c.wg.Wait()
		c.retries.Stop()
		if c.cron != nil {
			<-c.cron.Stop().Done()
		}
	})
}

// SubmitWorkflow validates and persists a workflow and enqueues its root
// tasks. Budget rejection is synchronous and returns a *resource.BudgetError.
func (c *Coordinator) SubmitWorkflow(ctx context.Context, wf *model.Workflow) (*model.Workflow, error) {
	id := wf.ID
	if id == "" {
		id = uuid.NewString()
	}
	if strings.Contains(id, "/") {
		return nil, fmt.Errorf("%w: workflow id %q", ErrInvalidWorkflow, id)
	}

	now := c.now()
	tasks := make([]*model.Task, 0, len(wf.Tasks))
	var estimate float64
	for _, in := range wf.Tasks {
		t := in.Clone()
		if t.ID == "" {
			t.ID = uuid.NewString()
		}
		if t.Priority == 0 {
			t.Priority = model.TaskPriorityMedium
		}
		if t.Timeout <= 0 {
			t.Timeout = c.cfg.DefaultTaskTimeout
		}
		t.WorkflowID = id
		t.Status = model.TaskStatusPending
		t.RetryCount = 0
		t.AssignedAgent = ""
		t.Permanent = false
		t.Result, t.Error = nil, ""
		t.CreatedAt = now
		t.StartedAt, t.CompletedAt = nil, nil
		tasks = append(tasks, t)
		estimate += t.EstimatedCost
	}

	if err := validateTasks(tasks); err != nil {
		return nil, err
	}

	if c.resources != nil {
		if err := c.resources.CheckBudget(ctx, estimate, wf.UserID); err != nil {
			c.logger.Warn("Workflow rejected by budget",
				zap.String("workflow_id", id),
				zap.String("user_id", wf.UserID),
				zap.Float64("estimate", estimate),
				zap.Error(err))
			return nil, err
		}
	}

	header := &model.Workflow{
		ID:        id,
		UserID:    wf.UserID,
		Status:    model.WorkflowStatusPending,
		Metadata:  wf.Metadata,
		CreatedAt: now,
		UpdatedAt: now,
	}
	for _, t := range tasks {
		header.TaskIDs = append(header.TaskIDs, t.ID)
	}

	claimed, err := c.store.SetNX(ctx, store.WorkflowClaimKey(id), []byte(c.cfg.InstanceID), 0)
	if err != nil {
		return nil, fmt.Errorf("failed to claim workflow id: %w", err)
	}
	if !claimed {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateWorkflow, id)
	}

	if err := c.persistNew(ctx, header, tasks); err != nil {
		if derr := c.store.Del(context.WithoutCancel(ctx), store.WorkflowClaimKey(id)); derr != nil {
			c.logger.Error("Failed to release workflow id", zap.String("workflow_id", id), zap.Error(derr))
		}
		return nil, err
	}

	for _, t := range tasks {
		if len(t.Dependencies) > 0 {
			continue
		}
		if _, err := c.queue.PushOnce(ctx, id, t.ID, t.Priority); err != nil {
			return nil, err
		}
	}

	c.logger.Info("Workflow submitted",
		zap.String("workflow_id", id),
		zap.String("user_id", wf.UserID),
		zap.Int("tasks", len(tasks)))
	c.publishWorkflow(header, "submitted")

	out := header.Header()
	for _, t := range tasks {
		out.Tasks = append(out.Tasks, t.Clone())
	}
	return out, nil
}

// persistNew stores the tasks before the header so that readers never see a
// header whose tasks are missing
func (c *Coordinator) persistNew(ctx context.Context, header *model.Workflow, tasks []*model.Task) error {
	for _, t := range tasks {
		if err := c.saveTask(ctx, t); err != nil {
			return err
		}
	}
	return c.saveHeader(ctx, header)
}

// CancelWorkflow cancels every non-terminal task. Running handlers see their
// context cancelled; it is up to them to stop early.
func (c *Coordinator) CancelWorkflow(ctx context.Context, workflowID string) error {
	return c.withWorkflow(ctx, workflowID, func() error {
		return c.cancelWorkflowLocked(ctx, workflowID)
	})
}

func (c *Coordinator) cancelWorkflowLocked(ctx context.Context, workflowID string) error {
	header, err := c.loadHeader(ctx, workflowID)
	if err != nil {
		return err
	}
	if header.Status.Terminal() {
		return nil
	}

	tasks, err := c.loadTasks(ctx, header)
	if err != nil {
		return err
	}
	if err := c.cancelRemainingLocked(ctx, header, tasks); err != nil {
		return err
	}

	now := c.now()
	header.Status = model.WorkflowStatusCancelled
	header.UpdatedAt = now
	header.CompletedAt = &now
	if err := c.saveHeader(ctx, header); err != nil {
		return err
	}

	c.logger.Info("Workflow cancelled", zap.String("workflow_id", workflowID))
	c.publishWorkflow(header, "cancelled")
	return nil
}

// GetWorkflow returns a workflow with its tasks in submission order
func (c *Coordinator) GetWorkflow(ctx context.Context, workflowID string) (*model.Workflow, error) {
	header, err := c.loadHeader(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	tasks, err := c.loadTasks(ctx, header)
	if err != nil {
		return nil, err
	}
	header.Tasks = tasks
	return header, nil
}

// GetTask returns one task
func (c *Coordinator) GetTask(ctx context.Context, workflowID, taskID string) (*model.Task, error) {
	return c.loadTask(ctx, workflowID, taskID)
}

// QueueDepth returns the number of ready tasks waiting in the shared queue
func (c *Coordinator) QueueDepth(ctx context.Context) (int64, error) {
	return c.queue.Depth(ctx)
}

// InFlight returns the number of handlers running in this instance
func (c *Coordinator) InFlight() int {
	c.inflightMu.Lock()
	defer c.inflightMu.Unlock()
	return len(c.inflight)
}

// cancelRemainingLocked must be called with the workflow lease held
func (c *Coordinator) cancelRemainingLocked(ctx context.Context, header *model.Workflow, tasks []*model.Task) error {
	now := c.now()
	var ids []string
	for _, t := range tasks {
		if t.Terminal() {
			continue
		}
		t.Status = model.TaskStatusCancelled
		t.CompletedAt = &now
		if err := c.saveTask(ctx, t); err != nil {
			return err
		}
		ids = append(ids, t.ID)
	}

	if err := c.queue.Remove(ctx, header.ID, ids...); err != nil {
		return fmt.Errorf("failed to remove cancelled tasks from queue: %w", err)
	}

	c.inflightMu.Lock()
	for _, id := range ids {
		if cancel, ok := c.inflight[memberKey(header.ID, id)]; ok {
			cancel()
		}
	}
	c.inflightMu.Unlock()

	if len(ids) > 0 {
		c.logger.Info("Cancelled remaining tasks",
			zap.String("workflow_id", header.ID),
			zap.Strings("task_ids", ids))
	}
	return nil
}

func (c *Coordinator) loadHeader(ctx context.Context, workflowID string) (*model.Workflow, error) {
	raw, err := c.store.HGet(ctx, store.KeyWorkflows, workflowID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrWorkflowNotFound, workflowID)
		}
		return nil, fmt.Errorf("failed to load workflow: %w", err)
	}
	return model.DecodeWorkflow(raw)
}

func (c *Coordinator) saveHeader(ctx context.Context, header *model.Workflow) error {
	data, err := model.EncodeWorkflow(header)
	if err != nil {
		return err
	}
	if err := c.store.HSet(ctx, store.KeyWorkflows, header.ID, data); err != nil {
		return fmt.Errorf("failed to save workflow: %w", err)
	}
	return nil
}

func (c *Coordinator) loadTask(ctx context.Context, workflowID, taskID string) (*model.Task, error) {
	raw, err := c.store.HGet(ctx, store.WorkflowTasksKey(workflowID), taskID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s/%s", ErrTaskNotFound, workflowID, taskID)
		}
		return nil, fmt.Errorf("failed to load task: %w", err)
	}
	return model.DecodeTask(raw)
}

func (c *Coordinator) saveTask(ctx context.Context, t *model.Task) error {
	data, err := model.EncodeTask(t)
	if err != nil {
		return err
	}
	if err := c.store.HSet(ctx, store.WorkflowTasksKey(t.WorkflowID), t.ID, data); err != nil {
		return fmt.Errorf("failed to save task: %w", err)
	}
	return nil
}

// loadTasks returns the workflow's tasks in submission order
func (c *Coordinator) loadTasks(ctx context.Context, header *model.Workflow) ([]*model.Task, error) {
	all, err := c.store.HGetAll(ctx, store.WorkflowTasksKey(header.ID))
	if err != nil {
		return nil, fmt.Errorf("failed to load tasks: %w", err)
	}

	tasks := make([]*model.Task, 0, len(header.TaskIDs))
	for _, id := range header.TaskIDs {
		raw, ok := all[id]
		if !ok {
			return nil, fmt.Errorf("%w: %s/%s", ErrTaskNotFound, header.ID, id)
		}
		t, err := model.DecodeTask(raw)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, nil
}

func (c *Coordinator) publishWorkflow(header *model.Workflow, event string) {
	data := map[string]any{
		"workflow_id": header.ID,
		"status":      string(header.Status),
	}
	if header.Error != "" {
		data["error"] = header.Error
		data["failed_task"] = header.FailedTask
	}
	_ = c.publisher.Publish(bus.TopicWorkflow(event), bus.NewEvent("workflow_"+event, c.cfg.InstanceID, data))
}

func (c *Coordinator) publishTask(t *model.Task, event string) {
	data := map[string]any{
		"workflow_id": t.WorkflowID,
		"task_id":     t.ID,
		"agent_type":  t.AgentType,
		"status":      string(t.Status),
		"retry_count": t.RetryCount,
	}
	if t.AssignedAgent != "" {
		data["agent_id"] = t.AssignedAgent
	}
	if t.Error != "" {
		data["error"] = t.Error
	}
	_ = c.publisher.Publish(bus.TopicTask(event), bus.NewEvent("task_"+event, c.cfg.InstanceID, data))
}

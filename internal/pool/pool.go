package pool

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Abelhubprog/HandyWriterzAi-sub001/internal/model"
	"github.com/Abelhubprog/HandyWriterzAi-sub001/internal/store"
)

// emaAlpha is the smoothing factor for response time and cost averages
const emaAlpha = 0.1

// Request describes the agent a caller needs
type Request struct {
	Type         string
	Capabilities []string
	Exclude      []string
	TaskID       string
}

type entry struct {
	agent   *model.AgentInstance
	breaker *CircuitBreaker
	tasks   map[string]time.Time
}

// Pool owns the agent registry, selection and load tracking
type Pool struct {
	logger  *zap.Logger
	mu      sync.Mutex
	agents  map[string]*entry
	weights ScoreWeights
	breaker BreakerConfig
	now     func() time.Time
}

// Option configures a Pool
type Option func(*Pool)

// WithScoreWeights overrides the selection weights
func WithScoreWeights(w ScoreWeights) Option {
	return func(p *Pool) { p.weights = w }
}

// WithBreakerConfig overrides the circuit breaker settings
func WithBreakerConfig(cfg BreakerConfig) Option {
	return func(p *Pool) { p.breaker = cfg }
}

// WithClock overrides the clock, mainly for tests
func WithClock(now func() time.Time) Option {
	return func(p *Pool) { p.now = now }
}

// New creates an empty agent pool
func New(logger *zap.Logger, opts ...Option) *Pool {
	p := &Pool{
		logger:  logger.Named("agent-pool"),
		agents:  make(map[string]*entry),
		weights: DefaultScoreWeights(),
		breaker: DefaultBreakerConfig(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Register adds an agent and attaches a fresh circuit breaker.
// Registering a known id refreshes its static fields and keeps runtime state.
func (p *Pool) Register(agent *model.AgentInstance) error {
	if agent.ID == "" || agent.Type == "" || agent.MaxConcurrent <= 0 {
		return fmt.Errorf("%w: id=%q type=%q max_concurrent=%d", ErrInvalidAgent, agent.ID, agent.Type, agent.MaxConcurrent)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if e, exists := p.agents[agent.ID]; exists {
		e.agent.Type = agent.Type
		e.agent.Provider = agent.Provider
		e.agent.Model = agent.Model
		e.agent.MaxConcurrent = agent.MaxConcurrent
		e.agent.Capabilities = append([]string(nil), agent.Capabilities...)
		p.updateStatus(e)
		p.logger.Debug("Agent re-registered", zap.String("agent_id", agent.ID))
		return nil
	}

	a := agent.Clone()
	now := p.now()
	a.CurrentLoad = 0
	if a.Status == "" {
		a.Status = model.AgentStatusIdle
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = now
	}
	if a.Metrics.TotalRequests == 0 {
		a.Metrics.SuccessRate = 1
	}
	if a.Metrics.LastActivity.IsZero() {
		a.Metrics.LastActivity = now
	}

	p.agents[a.ID] = &entry{
		agent:   a,
		breaker: NewCircuitBreaker(p.breaker, p.now),
		tasks:   make(map[string]time.Time),
	}

	p.logger.Info("Agent registered",
		zap.String("agent_id", a.ID),
		zap.String("type", a.Type),
		zap.String("provider", a.Provider),
		zap.String("model", a.Model),
		zap.Int("max_concurrent", a.MaxConcurrent))
	return nil
}

// GetBestAgent returns the highest scoring agent that can take work now
func (p *Pool) GetBestAgent(agentType string, capabilities, exclude []string) (*model.AgentInstance, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	e := p.bestLocked(Request{Type: agentType, Capabilities: capabilities, Exclude: exclude})
	if e == nil {
		return nil, ErrNoCapacity
	}
	return e.agent.Clone(), nil
}

// Acquire takes one load slot on the agent for the task
func (p *Pool) Acquire(agentID, taskID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	e, ok := p.agents[agentID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrAgentNotFound, agentID)
	}
	return p.acquireLocked(e, taskID)
}

// Release returns the slot and folds the outcome into the agent metrics
func (p *Pool) Release(agentID, taskID string, success bool, responseTime time.Duration, cost float64) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	e, ok := p.agents[agentID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrAgentNotFound, agentID)
	}

	if err := p.releaseSlotLocked(e, taskID); err != nil {
		return err
	}

	m := &e.agent.Metrics
	m.TotalRequests++
	if success {
		m.SuccessfulRequests++
		e.breaker.RecordSuccess()
	} else {
		e.breaker.RecordFailure()
	}
	m.SuccessRate = float64(m.SuccessfulRequests) / float64(m.TotalRequests)
	if m.TotalRequests == 1 {
		m.AvgResponseTime = responseTime
		m.AvgCost = cost
	} else {
		m.AvgResponseTime = time.Duration(emaAlpha*float64(responseTime) + (1-emaAlpha)*float64(m.AvgResponseTime))
		m.AvgCost = emaAlpha*cost + (1-emaAlpha)*m.AvgCost
	}
	m.LastActivity = p.now()

	p.updateStatus(e)

	p.logger.Debug("Agent released",
		zap.String("agent_id", agentID),
		zap.String("task_id", taskID),
		zap.Bool("success", success),
		zap.Duration("response_time", responseTime),
		zap.Int("load", e.agent.CurrentLoad))
	return nil
}

func (p *Pool) abort(agentID, taskID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	e, ok := p.agents[agentID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrAgentNotFound, agentID)
	}
	if err := p.releaseSlotLocked(e, taskID); err != nil {
		return err
	}
	e.breaker.Abort()
	p.updateStatus(e)
	return nil
}

// AcquireBest selects and acquires the best agent atomically
func (p *Pool) AcquireBest(req Request) (*Lease, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	e := p.bestLocked(req)
	if e == nil {
		return nil, ErrNoCapacity
	}
	if err := p.acquireLocked(e, req.TaskID); err != nil {
		return nil, err
	}
	return newLease(p, e.agent.Clone(), req.TaskID, p.now()), nil
}

// AcquireWait polls for capacity until an agent is acquired or ctx is done
func (p *Pool) AcquireWait(ctx context.Context, req Request, interval time.Duration) (*Lease, error) {
	if interval <= 0 {
		interval = 50 * time.Millisecond
	}

	for {
		lease, err := p.AcquireBest(req)
		if err == nil {
			return lease, nil
		}
		if !errors.Is(err, ErrNoCapacity) {
			return nil, err
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %v", ErrNoCapacity, ctx.Err())
		case <-time.After(interval):
		}
	}
}

// WithAgent runs fn on the best agent and releases it on every exit path.
// fn reports the cost it incurred; a panic is recorded as a failure and re-raised.
func (p *Pool) WithAgent(ctx context.Context, req Request, fn func(ctx context.Context, agent *model.AgentInstance) (float64, error)) (err error) {
	lease, err := p.AcquireBest(req)
	if err != nil {
		return err
	}

	var cost float64
	defer func() {
		if r := recover(); r != nil {
			lease.Done(fmt.Errorf("panic: %v", r), cost)
			panic(r)
		}
		lease.Done(err, cost)
	}()

	cost, err = fn(ctx, lease.Agent)
	return err
}

// SetMaintenance takes an agent out of rotation or returns it
func (p *Pool) SetMaintenance(agentID string, on bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	e, ok := p.agents[agentID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrAgentNotFound, agentID)
	}
	if on {
		e.agent.Status = model.AgentStatusMaintenance
	} else {
		e.agent.Status = model.AgentStatusIdle
		p.updateStatus(e)
	}

	p.logger.Info("Agent maintenance toggled",
		zap.String("agent_id", agentID),
		zap.Bool("maintenance", on))
	return nil
}

// Get returns a snapshot of one agent
func (p *Pool) Get(agentID string) (*model.AgentInstance, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	e, ok := p.agents[agentID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrAgentNotFound, agentID)
	}
	return e.agent.Clone(), nil
}

// BreakerState returns the breaker state of an agent
func (p *Pool) BreakerState(agentID string) (BreakerState, error) {
	p.mu.Lock()
	e, ok := p.agents[agentID]
	p.mu.Unlock()

	if !ok {
		return "", fmt.Errorf("%w: %s", ErrAgentNotFound, agentID)
	}
	return e.breaker.State(), nil
}

// Agents returns snapshots of all agents ordered by id
func (p *Pool) Agents() []*model.AgentInstance {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]*model.AgentInstance, 0, len(p.agents))
	for _, e := range p.agents {
		out = append(out, e.agent.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Stats summarises pool occupancy
type Stats struct {
	Agents      int `json:"agents"`
	Busy        int `json:"busy"`
	Idle        int `json:"idle"`
	Errored     int `json:"errored"`
	Maintenance int `json:"maintenance"`
	Load        int `json:"load"`
	Capacity    int `json:"capacity"`
}

// Stats returns current pool occupancy
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()

	var s Stats
	for _, e := range p.agents {
		s.Agents++
		s.Load += e.agent.CurrentLoad
		s.Capacity += e.agent.MaxConcurrent
		switch e.agent.Status {
		case model.AgentStatusIdle:
			s.Idle++
		case model.AgentStatusBusy:
			s.Busy++
		case model.AgentStatusError:
			s.Errored++
		case model.AgentStatusMaintenance:
			s.Maintenance++
		}
	}
	return s
}

// Sync mirrors agent snapshots to the shared store
func (p *Pool) Sync(ctx context.Context, s store.Store) error {
	for _, a := range p.Agents() {
		data, err := model.Encode(model.KindAgent, a)
		if err != nil {
			return err
		}
		if err := s.HSet(ctx, store.KeyAgents, a.ID, data); err != nil {
			return fmt.Errorf("failed to sync agent %s: %w", a.ID, err)
		}
	}
	return nil
}

// bestLocked must be called with lock held
func (p *Pool) bestLocked(req Request) *entry {
	excluded := make(map[string]struct{}, len(req.Exclude))
	for _, id := range req.Exclude {
		excluded[id] = struct{}{}
	}

	now := p.now()
	var (
		best      *entry
		bestScore float64
	)
	for id, e := range p.agents {
		if _, skip := excluded[id]; skip {
			continue
		}
		if !p.selectable(e, req) {
			continue
		}
		score := p.weights.Score(e.agent, now)
		if best == nil || score > bestScore || (score == bestScore && id < best.agent.ID) {
			best, bestScore = e, score
		}
	}
	return best
}

func (p *Pool) selectable(e *entry, req Request) bool {
	a := e.agent
	if req.Type != "" && a.Type != req.Type {
		return false
	}
	switch a.Status {
	case model.AgentStatusIdle, model.AgentStatusError:
	case model.AgentStatusBusy, model.AgentStatusMaintenance:
		return false
	default:
		return false
	}
	if a.CurrentLoad >= a.MaxConcurrent {
		return false
	}
	if !a.HasCapabilities(req.Capabilities) {
		return false
	}
	return e.breaker.CanExecute()
}

// acquireLocked must be called with lock held
func (p *Pool) acquireLocked(e *entry, taskID string) error {
	a := e.agent
	if a.Status == model.AgentStatusMaintenance || a.CurrentLoad >= a.MaxConcurrent {
		return fmt.Errorf("%w: %s", ErrAgentUnavailable, a.ID)
	}
	if _, held := e.tasks[taskID]; held {
		return fmt.Errorf("%w: %s already holds %s", ErrAgentUnavailable, a.ID, taskID)
	}
	if !e.breaker.Begin() {
		return fmt.Errorf("%w: %s", ErrCircuitOpen, a.ID)
	}

	a.CurrentLoad++
	e.tasks[taskID] = p.now()
	p.updateStatus(e)

	p.logger.Debug("Agent acquired",
		zap.String("agent_id", a.ID),
		zap.String("task_id", taskID),
		zap.Int("load", a.CurrentLoad))
	return nil
}

// releaseSlotLocked frees the slot held for taskID. A task the agent does not
// hold leaves the load untouched. Must be called with lock held.
func (p *Pool) releaseSlotLocked(e *entry, taskID string) error {
	if _, held := e.tasks[taskID]; !held {
		return fmt.Errorf("%w: %s on %s", ErrTaskNotHeld, taskID, e.agent.ID)
	}
	delete(e.tasks, taskID)
	if e.agent.CurrentLoad > 0 {
		e.agent.CurrentLoad--
	}
	return nil
}

// updateStatus derives the status from load and breaker state. Must be called with lock held.
func (p *Pool) updateStatus(e *entry) {
	a := e.agent
	if a.Status == model.AgentStatusMaintenance {
		return
	}

	prev := a.Status
	switch {
	case e.breaker.State() == BreakerOpen:
		a.Status = model.AgentStatusError
	case a.CurrentLoad >= a.MaxConcurrent:
		a.Status = model.AgentStatusBusy
	default:
		a.Status = model.AgentStatusIdle
	}

	if prev != a.Status && a.Status == model.AgentStatusError {
		p.logger.Warn("Agent circuit opened",
			zap.String("agent_id", a.ID),
			zap.Int("failures", e.breaker.Failures()))
	}
}

package swarm

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Abelhubprog/HandyWriterzAi-sub001/internal/monitor"
	"github.com/Abelhubprog/HandyWriterzAi-sub001/internal/pool"
	"github.com/Abelhubprog/HandyWriterzAi-sub001/internal/resource"
)

// execution is the mutable state of one Execute call
type execution struct {
	swarm  *Swarm
	graph  *Graph
	memory *Memory

	mu       sync.Mutex
	results  map[string]*TaskResult
	contents map[string]string
	cost     float64
}

func newExecution(sw *Swarm, g *Graph, mem *Memory) *execution {
	return &execution{
		swarm:    sw,
		graph:    g,
		memory:   mem,
		results:  make(map[string]*TaskResult),
		contents: make(map[string]string),
	}
}

// input assembles the runner input of a task. Dependency content is taken
// from accepted results, so callers must run tasks in dependency order.
func (r *execution) input(task *Task, mode Mode, withMemory bool) *Input {
	in := &Input{
		SwarmID:      r.swarm.ID,
		ContentType:  r.swarm.ContentType,
		Task:         task,
		Mode:         mode,
		Requirements: make(map[string]any, len(task.Requirements)+1),
		Dependencies: make(map[string]string, len(task.Dependencies)),
	}
	for k, v := range task.Requirements {
		in.Requirements[k] = v
	}

	r.mu.Lock()
	for _, dep := range task.Dependencies {
		in.Dependencies[dep] = r.contents[dep]
	}
	r.mu.Unlock()

	if withMemory {
		snap := r.memory.Snapshot()
		in.Memory = &snap
	}
	return in
}

func (r *execution) accept(task *Task, res *TaskResult, out *Output, merge bool, at time.Time) {
	r.mu.Lock()
	r.results[task.ID] = res
	r.contents[task.ID] = res.Content
	r.mu.Unlock()

	if merge && out != nil {
		r.memory.Merge(task.ID, out, at)
	}
}

func (r *execution) addCost(cost float64) {
	r.mu.Lock()
	r.cost += cost
	r.mu.Unlock()
}

func (r *execution) result(d time.Duration) *Result {
	r.mu.Lock()
	defer r.mu.Unlock()

	res := &Result{
		SwarmID:   r.swarm.ID,
		Strategy:  r.swarm.Config.Strategy,
		TotalCost: r.cost,
		Duration:  d,
	}
	for _, t := range r.swarm.Tasks {
		tr, ok := r.results[t.ID]
		if !ok {
			continue
		}
		res.Tasks = append(res.Tasks, tr)
		if tr.Score < r.swarm.Config.QualityThreshold {
			res.BelowThreshold = append(res.BelowThreshold, t.ID)
		}
	}
	return res
}

func (c *Coordinator) leaseID(swarmID, taskID string) string {
	return fmt.Sprintf("%s/%s#%d", swarmID, taskID, c.leaseSeq.Add(1))
}

// acquire waits up to AcquireTimeout for a qualifying agent
func (c *Coordinator) acquire(ctx context.Context, run *execution, taskID string, req pool.Request) (*pool.Lease, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.AcquireTimeout)
	defer cancel()
	req.TaskID = c.leaseID(run.swarm.ID, taskID)
	return c.agents.AcquireWait(ctx, req, c.cfg.AcquireInterval)
}

// acquireDistinct leases up to n different agents for a task. It waits for
// the first and takes whatever else is free right away.
func (c *Coordinator) acquireDistinct(ctx context.Context, run *execution, task *Task, agentType string, n int) ([]*pool.Lease, error) {
	req := pool.Request{Type: agentType, Capabilities: task.Capabilities}
	first, err := c.acquire(ctx, run, task.ID, req)
	if err != nil {
		return nil, err
	}
	leases := []*pool.Lease{first}
	req.Exclude = []string{first.Agent.ID}

	for len(leases) < n {
		req.TaskID = c.leaseID(run.swarm.ID, task.ID)
		lease, err := c.agents.AcquireBest(req)
		if err != nil {
			break
		}
		leases = append(leases, lease)
		req.Exclude = append(req.Exclude, lease.Agent.ID)
	}
	return leases, nil
}

// dispatch performs one runner call on a leased agent. The lease is always
// settled: aborted when routing refuses the call, released otherwise.
func (c *Coordinator) dispatch(ctx context.Context, run *execution, lease *pool.Lease, in *Input) (*TaskResult, *Output, error) {
	agent := lease.Agent
	a := Assignment{Agent: agent, Provider: agent.Provider, Model: agent.Model}

	if c.resources != nil {
		sel, err := c.resources.SelectOptimalProvider(ctx, resource.Request{
			Role:            agent.Type,
			UserID:          run.swarm.UserID,
			EstimatedTokens: c.cfg.EstimatedTokens,
		})
		if err != nil {
			lease.Abort()
			return nil, nil, fmt.Errorf("%w: %w", ErrRouting, err)
		}
		if err := c.resources.CheckBudget(ctx, sel.EstimatedCost, run.swarm.UserID); err != nil {
			lease.Abort()
			return nil, nil, fmt.Errorf("%w: %w", ErrRouting, err)
		}
		a.Provider = sel.Provider
		a.Model = sel.Model
	}

	started := c.now()
	out, err := c.call(ctx, a, in)
	if err == nil && out == nil {
		err = ErrNoResult
	}
	duration := c.now().Sub(started)

	var cost float64
	if out != nil {
		cost = out.Cost
	}
	lease.Done(err, cost)
	run.addCost(cost)

	var score float64
	if err == nil {
		score = c.cfg.Rubric.Score(out.Quality)
	}

	if c.resources != nil {
		rec := resource.Record{
			Provider:     a.Provider,
			Model:        a.Model,
			Cost:         cost,
			Success:      err == nil,
			ResponseTime: duration,
			UserID:       run.swarm.UserID,
			Timestamp:    c.now(),
		}
		if recErr := c.resources.RecordRequest(context.WithoutCancel(ctx), rec); recErr != nil {
			c.logger.Warn("Failed to record provider request", zap.String("provider", a.Provider), zap.Error(recErr))
		}
	}
	c.sink.RecordAgentRequest(monitor.AgentRequest{
		AgentID:   agent.ID,
		AgentType: agent.Type,
		Provider:  a.Provider,
		Model:     a.Model,
		Duration:  duration,
		Cost:      cost,
		Success:   err == nil,
		Quality:   score,
	})

	if err != nil {
		c.logger.Warn("Agent run failed",
			zap.String("swarm_id", run.swarm.ID),
			zap.String("task_id", in.Task.ID),
			zap.String("agent_id", agent.ID),
			zap.String("mode", string(in.Mode)),
			zap.Error(err))
		return nil, nil, err
	}

	c.logger.Debug("Agent run completed",
		zap.String("swarm_id", run.swarm.ID),
		zap.String("task_id", in.Task.ID),
		zap.String("agent_id", agent.ID),
		zap.String("mode", string(in.Mode)),
		zap.Float64("score", score))

	return &TaskResult{
		TaskID:   in.Task.ID,
		AgentID:  agent.ID,
		Provider: a.Provider,
		Model:    a.Model,
		Content:  out.Content,
		Quality:  out.Quality,
		Score:    score,
		Insights: append([]string(nil), out.Insights...),
		Cost:     cost,
		Duration: duration,
		Attempts: 1,
	}, out, nil
}

func (c *Coordinator) call(ctx context.Context, a Assignment, in *Input) (out *Output, err error) {
	defer func() {
		if r := recover(); r != nil {
			out, err = nil, fmt.Errorf("runner panic: %v", r)
		}
	}()
	return c.runner.Run(ctx, a, in)
}

// runWithFallback runs a task on the best agent and, when the agent fails,
// once more on a different agent that is free right now
func (c *Coordinator) runWithFallback(ctx context.Context, run *execution, task *Task, in *Input) (*TaskResult, *Output, error) {
	req := pool.Request{Type: task.AgentType, Capabilities: task.Capabilities}
	lease, err := c.acquire(ctx, run, task.ID, req)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to acquire agent: %w", err)
	}

	res, out, err := c.dispatch(ctx, run, lease, in)
	if err == nil {
		return res, out, nil
	}
	if ctx.Err() != nil || errors.Is(err, ErrRouting) {
		return nil, nil, err
	}

	req.Exclude = []string{lease.Agent.ID}
	req.TaskID = c.leaseID(run.swarm.ID, task.ID)
	fallback, acqErr := c.agents.AcquireBest(req)
	if acqErr != nil {
		return nil, nil, err
	}
	c.logger.Info("Retrying task on fallback agent",
		zap.String("swarm_id", run.swarm.ID),
		zap.String("task_id", task.ID),
		zap.String("failed_agent", lease.Agent.ID),
		zap.String("fallback_agent", fallback.Agent.ID))

	res, out, retryErr := c.dispatch(ctx, run, fallback, in)
	if retryErr != nil {
		return nil, nil, errors.Join(err, retryErr)
	}
	res.Attempts = 2
	return res, out, nil
}

package swarm

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Abelhubprog/HandyWriterzAi-sub001/internal/pool"
)

func (c *Coordinator) runStrategy(ctx context.Context, run *execution) error {
	switch run.swarm.Config.Strategy {
	case StrategyParallel:
		return c.runParallel(ctx, run)
	case StrategySequential:
		return c.runSequential(ctx, run)
	case StrategyCompetitive:
		return c.runCompetitive(ctx, run)
	case StrategyCollaborative:
		return c.runCollaborative(ctx, run)
	case StrategyHierarchical:
		return c.runHierarchical(ctx, run)
	default:
		return fmt.Errorf("%w: %s", ErrUnknownStrategy, run.swarm.Config.Strategy)
	}
}

// runLevels executes the graph level by level, running at most limit tasks
// of a level at once. The first failure cancels the level.
func (c *Coordinator) runLevels(ctx context.Context, run *execution, limit int, fn func(ctx context.Context, task *Task) error) error {
	levels, err := run.graph.Levels()
	if err != nil {
		return err
	}
	for _, level := range levels {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(max(1, limit))
		for _, task := range level {
			task := task
			g.Go(func() error {
				if err := fn(gctx, task); err != nil {
					return fmt.Errorf("task %s: %w", task.ID, err)
				}
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}
	}
	return nil
}

// runParallel fans each dependency level out to up to MaxAgents agents
func (c *Coordinator) runParallel(ctx context.Context, run *execution) error {
	share := run.swarm.Config.ShareMemory
	return c.runLevels(ctx, run, run.swarm.Config.MaxAgents, func(ctx context.Context, task *Task) error {
		res, out, err := c.runWithFallback(ctx, run, task, run.input(task, ModeExecute, share))
		if err != nil {
			return err
		}
		run.accept(task, res, out, share, c.now())
		return nil
	})
}

// runSequential runs one task at a time in topological order
func (c *Coordinator) runSequential(ctx context.Context, run *execution) error {
	order, err := run.graph.Order()
	if err != nil {
		return err
	}
	share := run.swarm.Config.ShareMemory
	for _, task := range order {
		res, out, err := c.runWithFallback(ctx, run, task, run.input(task, ModeExecute, share))
		if err != nil {
			return fmt.Errorf("task %s: %w", task.ID, err)
		}
		run.accept(task, res, out, share, c.now())
	}
	return nil
}

// runCompetitive races several agents on every task and keeps the best score
func (c *Coordinator) runCompetitive(ctx context.Context, run *execution) error {
	order, err := run.graph.Order()
	if err != nil {
		return err
	}
	for _, task := range order {
		if err := c.competeTask(ctx, run, task); err != nil {
			return fmt.Errorf("task %s: %w", task.ID, err)
		}
	}
	return nil
}

type attempt struct {
	res *TaskResult
	out *Output
	err error
}

// fanOut runs the same input on every lease concurrently, keeping the
// attempts in lease order
func (c *Coordinator) fanOut(ctx context.Context, run *execution, leases []*pool.Lease, in *Input) []attempt {
	attempts := make([]attempt, len(leases))
	var g errgroup.Group
	for i, lease := range leases {
		i, lease := i, lease
		g.Go(func() error {
			res, out, err := c.dispatch(ctx, run, lease, in)
			attempts[i] = attempt{res: res, out: out, err: err}
			return nil
		})
	}
	_ = g.Wait()
	return attempts
}

func (c *Coordinator) competeTask(ctx context.Context, run *execution, task *Task) error {
	n := run.swarm.Config.Competitors
	if n <= 0 {
		n = 3
	}
	if run.swarm.Config.MaxAgents > 0 {
		n = min(n, run.swarm.Config.MaxAgents)
	}

	leases, err := c.acquireDistinct(ctx, run, task, task.AgentType, n)
	if err != nil {
		return fmt.Errorf("failed to acquire agent: %w", err)
	}
	share := run.swarm.Config.ShareMemory
	attempts := c.fanOut(ctx, run, leases, run.input(task, ModeExecute, share))

	var (
		best *attempt
		errs []error
	)
	for i := range attempts {
		a := &attempts[i]
		if a.err != nil {
			errs = append(errs, a.err)
			continue
		}
		if best == nil || a.res.Score > best.res.Score {
			best = a
		}
	}
	if best == nil {
		return fmt.Errorf("%w: %w", ErrNoResult, errors.Join(errs...))
	}

	best.res.Attempts = len(attempts)
	c.logger.Debug("Competitive winner selected",
		zap.String("swarm_id", run.swarm.ID),
		zap.String("task_id", task.ID),
		zap.String("agent_id", best.res.AgentID),
		zap.Int("competitors", len(attempts)),
		zap.Float64("score", best.res.Score))
	run.accept(task, best.res, best.out, share, c.now())
	return nil
}

// runCollaborative has several agents work each task against the shared
// memory; the most coherent draft is accepted and every insight is kept.
// Tasks run one at a time in topological order so each sees every earlier merge.
func (c *Coordinator) runCollaborative(ctx context.Context, run *execution) error {
	order, err := run.graph.Order()
	if err != nil {
		return err
	}
	for _, task := range order {
		if err := c.collaborateTask(ctx, run, task); err != nil {
			return fmt.Errorf("task %s: %w", task.ID, err)
		}
	}
	return nil
}

func (c *Coordinator) collaborateTask(ctx context.Context, run *execution, task *Task) error {
	leases, err := c.acquireDistinct(ctx, run, task, task.AgentType, c.cfg.Collaborators)
	if err != nil {
		return fmt.Errorf("failed to acquire agent: %w", err)
	}

	in := run.input(task, ModeExecute, true)
	in.Requirements["shared_memory"] = *in.Memory
	attempts := c.fanOut(ctx, run, leases, in)

	var (
		best     *attempt
		done     []*attempt
		errs     []error
		insights []string
		seen     = make(map[string]bool)
	)
	for i := range attempts {
		a := &attempts[i]
		if a.err != nil {
			errs = append(errs, a.err)
			continue
		}
		done = append(done, a)
		for _, ins := range a.res.Insights {
			if !seen[ins] {
				seen[ins] = true
				insights = append(insights, ins)
			}
		}
		if best == nil || a.res.Quality.Coherence > best.res.Quality.Coherence {
			best = a
		}
	}
	if best == nil {
		return fmt.Errorf("%w: %w", ErrNoResult, errors.Join(errs...))
	}

	// the accepted draft merges last so its summary is the one kept
	at := c.now()
	for _, a := range done {
		if a != best {
			run.memory.Merge(task.ID, a.out, at)
		}
	}
	run.memory.Merge(task.ID, best.out, at)

	best.res.Insights = insights
	best.res.Attempts = len(attempts)
	run.accept(task, best.res, best.out, false, at)
	return nil
}

// runHierarchical lets a lead agent split every task into specialist
// subtasks and synthesize their outputs. Tasks run in topological order.
func (c *Coordinator) runHierarchical(ctx context.Context, run *execution) error {
	order, err := run.graph.Order()
	if err != nil {
		return err
	}
	for _, task := range order {
		if err := c.delegateTask(ctx, run, task); err != nil {
			return fmt.Errorf("task %s: %w", task.ID, err)
		}
	}
	return nil
}

func (c *Coordinator) delegateTask(ctx context.Context, run *execution, task *Task) error {
	share := run.swarm.Config.ShareMemory
	leadReq := pool.Request{
		Type:   c.cfg.LeadAgentType,
		TaskID: c.leaseID(run.swarm.ID, task.ID),
	}
	lead, err := c.agents.AcquireBest(leadReq)
	if err != nil {
		c.logger.Info("No lead agent available, collaborating instead",
			zap.String("swarm_id", run.swarm.ID),
			zap.String("task_id", task.ID))
		return c.collaborateTask(ctx, run, task)
	}

	plan, planCost, err := c.dispatchPlan(ctx, run, lead, task, share)
	if err != nil {
		if ctx.Err() != nil {
			return err
		}
		c.logger.Warn("Lead planning failed, collaborating instead",
			zap.String("swarm_id", run.swarm.ID),
			zap.String("task_id", task.ID),
			zap.Error(err))
		return c.collaborateTask(ctx, run, task)
	}

	subtasks := plan
	if len(subtasks) == 0 {
		subtasks = []Subtask{{ID: "main", AgentType: task.AgentType, Capabilities: task.Capabilities}}
	}

	outputs := make([]SubtaskOutput, len(subtasks))
	results := make([]*TaskResult, len(subtasks))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(1, run.swarm.Config.MaxAgents))
	for i, sub := range subtasks {
		i, sub := i, sub
		g.Go(func() error {
			st := subtaskOf(task, sub)
			res, _, err := c.runWithFallback(gctx, run, st, run.input(st, ModeExecute, share))
			if err != nil {
				return fmt.Errorf("subtask %s: %w", sub.ID, err)
			}
			outputs[i] = SubtaskOutput{Subtask: sub, Content: res.Content}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	lead, err = c.acquire(ctx, run, task.ID, pool.Request{Type: c.cfg.LeadAgentType})
	if err != nil {
		return fmt.Errorf("failed to acquire lead agent: %w", err)
	}
	in := run.input(task, ModeSynthesize, share)
	in.Subtasks = outputs
	res, out, err := c.dispatch(ctx, run, lead, in)
	if err != nil {
		return fmt.Errorf("synthesis failed: %w", err)
	}

	// the section carries the cost and runs of the whole delegation
	insights := append([]string(nil), res.Insights...)
	res.Cost += planCost
	for _, r := range results {
		res.Cost += r.Cost
		res.Attempts += r.Attempts
		insights = append(insights, r.Insights...)
	}
	res.Attempts++ // planning
	res.Insights = dedupe(insights)
	run.accept(task, res, out, share, c.now())
	return nil
}

// dispatchPlan asks the lead for a plan, naming unnamed or clashing subtasks
func (c *Coordinator) dispatchPlan(ctx context.Context, run *execution, lead *pool.Lease, task *Task, share bool) ([]Subtask, float64, error) {
	res, out, err := c.dispatch(ctx, run, lead, run.input(task, ModePlan, share))
	if err != nil {
		return nil, 0, err
	}
	subtasks := make([]Subtask, 0, len(out.Subtasks))
	ids := make(map[string]bool, len(out.Subtasks))
	for i, s := range out.Subtasks {
		if s.ID == "" || ids[s.ID] {
			s.ID = fmt.Sprintf("sub-%d", i+1)
		}
		ids[s.ID] = true
		subtasks = append(subtasks, s)
	}
	return subtasks, res.Cost, nil
}

// subtaskOf derives the task a specialist runs for one planned subtask
func subtaskOf(parent *Task, sub Subtask) *Task {
	// a subtask for another role does not inherit the parent's capabilities
	agentType, caps := sub.AgentType, sub.Capabilities
	if agentType == "" {
		agentType = parent.AgentType
		if caps == nil {
			caps = parent.Capabilities
		}
	}
	req := make(map[string]any, len(parent.Requirements)+2)
	for k, v := range parent.Requirements {
		req[k] = v
	}
	req["parent_task"] = parent.ID
	if sub.Instructions != "" {
		req["instructions"] = sub.Instructions
	}
	return &Task{
		ID:           parent.ID + "/" + sub.ID,
		SectionType:  parent.SectionType,
		AgentType:    agentType,
		Capabilities: append([]string(nil), caps...),
		Requirements: req,
		Dependencies: append([]string(nil), parent.Dependencies...),
	}
}

func dedupe(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}

package coordinator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Abelhubprog/HandyWriterzAi-sub001/internal/model"
	"github.com/Abelhubprog/HandyWriterzAi-sub001/internal/monitor"
	"github.com/Abelhubprog/HandyWriterzAi-sub001/internal/pool"
	"github.com/Abelhubprog/HandyWriterzAi-sub001/internal/resource"
	"github.com/Abelhubprog/HandyWriterzAi-sub001/internal/storage"
)

// outcome is the result of one dispatch attempt
type outcome struct {
	result    *Result
	err       error
	permanent bool
}

func (c *Coordinator) worker(ctx context.Context, id int) {
	defer c.wg.Done()
	logger := c.logger.With(zap.Int("worker", id))

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stop:
			return
		default:
		}

		worked, err := c.processNext(ctx)
		if err != nil {
			logger.Error("Failed to process task", zap.Error(err))
		}
		if worked && err == nil {
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-c.stop:
			return
		case <-time.After(c.cfg.PollInterval):
		}
	}
}

// processNext dispatches at most one task. It reports whether a queue entry
// was consumed.
func (c *Coordinator) processNext(ctx context.Context) (bool, error) {
	wfID, taskID, priority, err := c.queue.Pop(ctx)
	if isEmpty(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to pop task: %w", err)
	}

	logger := c.logger.With(zap.String("workflow_id", wfID), zap.String("task_id", taskID))

	header, err := c.loadHeader(ctx, wfID)
	if err != nil {
		return true, c.dropOrRequeue(ctx, logger, wfID, taskID, priority, err)
	}
	task, err := c.loadTask(ctx, wfID, taskID)
	if err != nil {
		return true, c.dropOrRequeue(ctx, logger, wfID, taskID, priority, err)
	}
	if header.Status.Terminal() || task.Status != model.TaskStatusPending {
		logger.Debug("Skipping task", zap.String("status", string(task.Status)))
		return true, nil
	}

	h, ok := c.handlers.get(task.AgentType)
	if !ok {
		logger.Error("No handler registered", zap.String("agent_type", task.AgentType))
		return true, c.settle(ctx, wfID, taskID, outcome{
			err:       fmt.Errorf("%w: %s", ErrHandlerMissing, task.AgentType),
			permanent: true,
		})
	}

	actx, cancel := context.WithTimeout(ctx, c.cfg.AcquireTimeout)
	lease, err := c.agents.AcquireWait(actx, pool.Request{
		Type:         task.AgentType,
		Capabilities: task.Capabilities,
		TaskID:       memberKey(task.WorkflowID, task.ID),
	}, c.cfg.AcquireInterval)
	cancel()
	if err != nil {
		logger.Debug("No agent capacity, requeueing", zap.Error(err))
		return true, c.retries.Schedule(ctx, wfID, taskID, task.Priority, c.cfg.RequeueDelay)
	}

	if c.resources != nil {
		if err := c.resources.CheckBudget(ctx, task.EstimatedCost, header.UserID); err != nil {
			lease.Abort()
			var be *resource.BudgetError
			if errors.As(err, &be) {
				return true, c.settle(ctx, wfID, taskID, outcome{err: err, permanent: true})
			}
			if serr := c.retries.Schedule(ctx, wfID, taskID, task.Priority, c.cfg.RequeueDelay); serr != nil {
				return true, fmt.Errorf("failed to check budget: %w; %w", err, serr)
			}
			return true, fmt.Errorf("failed to check budget: %w", err)
		}
		if err := c.resources.Admit(lease.Agent.Provider); err != nil {
			lease.Abort()
			logger.Debug("Provider not admitted, requeueing",
				zap.String("provider", lease.Agent.Provider),
				zap.Error(err))
			return true, c.retries.Schedule(ctx, wfID, taskID, task.Priority, c.cfg.RequeueDelay)
		}
	}

	return true, c.execute(ctx, header, task, h, lease)
}

// dropOrRequeue handles a queue entry whose state could not be loaded.
// Purged state drops the entry; a store failure puts it back.
func (c *Coordinator) dropOrRequeue(ctx context.Context, logger *zap.Logger, wfID, taskID string, priority model.TaskPriority, err error) error {
	if errors.Is(err, ErrWorkflowNotFound) || errors.Is(err, ErrTaskNotFound) {
		logger.Debug("Dropping queue entry without state")
		return nil
	}
	if serr := c.retries.Schedule(ctx, wfID, taskID, priority, c.cfg.RequeueDelay); serr != nil {
		return fmt.Errorf("%w; %w", err, serr)
	}
	return err
}

func (c *Coordinator) execute(ctx context.Context, header *model.Workflow, task *model.Task, h Handler, lease *pool.Lease) error {
	task, err := c.markStarted(ctx, task.WorkflowID, task.ID, lease.Agent.ID)
	if err != nil || task == nil {
		lease.Abort()
		return err
	}

	timeout := task.Timeout
	if timeout <= 0 {
		timeout = c.cfg.DefaultTaskTimeout
	}
	member := memberKey(task.WorkflowID, task.ID)
	hctx, cancel := context.WithTimeout(ctx, timeout)
	c.inflightMu.Lock()
	c.inflight[member] = cancel
	c.inflightMu.Unlock()

	started := c.now()
	res, herr := c.invoke(hctx, h, lease.Agent, task.Payload, timeout)

	c.inflightMu.Lock()
	delete(c.inflight, member)
	c.inflightMu.Unlock()
	cancel()

	cancelled := errors.Is(herr, ErrTaskCancelled)
	var cost float64
	if res != nil {
		cost = res.Cost
	}
	if cancelled {
		lease.Abort()
	} else {
		lease.Done(herr, cost)
	}

	c.record(ctx, header, task, lease.Agent, res, herr, started)

	if herr != nil && !cancelled {
		c.logger.Warn("Task attempt failed",
			zap.String("workflow_id", task.WorkflowID),
			zap.String("task_id", task.ID),
			zap.String("agent_id", lease.Agent.ID),
			zap.Int("retry_count", task.RetryCount),
			zap.Error(herr))
	}

	return c.settle(context.WithoutCancel(ctx), task.WorkflowID, task.ID, outcome{
		result:    res,
		err:       herr,
		permanent: errors.Is(herr, ErrPermanent),
	})
}

// invoke runs the handler under ctx and converts panics, deadline and
// cancellation into task errors
func (c *Coordinator) invoke(ctx context.Context, h Handler, agent *model.AgentInstance, payload json.RawMessage, timeout time.Duration) (*Result, error) {
	type ret struct {
		res *Result
		err error
	}
	done := make(chan ret, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- ret{err: fmt.Errorf("%w: handler panic: %v", ErrTaskFailed, r)}
			}
		}()
		res, err := h.Handle(ctx, agent, payload)
		done <- ret{res: res, err: err}
	}()

	ctxErr := func() error {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("%w after %s", ErrTaskTimeout, timeout)
		}
		return fmt.Errorf("%w: %w", ErrTaskCancelled, ctx.Err())
	}

	select {
	case r := <-done:
		if r.err != nil {
			if ctx.Err() != nil {
				return nil, ctxErr()
			}
			if errors.Is(r.err, ErrTaskFailed) {
				return nil, r.err
			}
			return nil, fmt.Errorf("%w: %w", ErrTaskFailed, r.err)
		}
		if r.res == nil {
			r.res = &Result{}
		}
		return r.res, nil
	case <-ctx.Done():
		return nil, ctxErr()
	}
}

// markStarted moves a pending task through ASSIGNED to RUNNING. It returns
// nil when the task was cancelled or picked up meanwhile.
func (c *Coordinator) markStarted(ctx context.Context, wfID, taskID, agentID string) (*model.Task, error) {
	var started *model.Task
	err := c.withWorkflow(ctx, wfID, func() error {
		var err error
		started, err = c.markStartedLocked(ctx, wfID, taskID, agentID)
		return err
	})
	return started, err
}

func (c *Coordinator) markStartedLocked(ctx context.Context, wfID, taskID, agentID string) (*model.Task, error) {
	header, err := c.loadHeader(ctx, wfID)
	if err != nil {
		return nil, err
	}
	task, err := c.loadTask(ctx, wfID, taskID)
	if err != nil {
		return nil, err
	}
	if header.Status.Terminal() || task.Status != model.TaskStatusPending {
		return nil, nil
	}

	task.Status = model.TaskStatusAssigned
	task.AssignedAgent = agentID
	if err := c.saveTask(ctx, task); err != nil {
		return nil, err
	}
	c.publishTask(task, "assigned")

	now := c.now()
	task.Status = model.TaskStatusRunning
	task.StartedAt = &now
	if err := c.saveTask(ctx, task); err != nil {
		return nil, err
	}
	c.publishTask(task, "started")

	if header.Status == model.WorkflowStatusPending {
		header.Status = model.WorkflowStatusRunning
		header.UpdatedAt = now
		if err := c.saveHeader(ctx, header); err != nil {
			return nil, err
		}
		c.publishWorkflow(header, "started")
	}

	c.logger.Debug("Task started",
		zap.String("workflow_id", wfID),
		zap.String("task_id", taskID),
		zap.String("agent_id", agentID))
	return task, nil
}

// record reports the attempt to resources, the sink and execution history.
// Failures here are logged and never fail the task.
func (c *Coordinator) record(ctx context.Context, header *model.Workflow, task *model.Task, agent *model.AgentInstance, res *Result, herr error, started time.Time) {
	provider, mdl := agent.Provider, agent.Model
	var cost, quality float64
	var output json.RawMessage
	if res != nil {
		if res.Provider != "" {
			provider = res.Provider
		}
		if res.Model != "" {
			mdl = res.Model
		}
		cost, quality, output = res.Cost, res.Quality, res.Output
	}

	now := c.now()
	elapsed := now.Sub(started)
	cancelled := errors.Is(herr, ErrTaskCancelled)

	if c.resources != nil && provider != "" && !cancelled {
		if err := c.resources.RecordRequest(ctx, resource.Record{
			Provider:     provider,
			Model:        mdl,
			Cost:         cost,
			Success:      herr == nil,
			ResponseTime: elapsed,
			UserID:       header.UserID,
			Timestamp:    now,
		}); err != nil {
			c.logger.Error("Failed to record provider usage",
				zap.String("provider", provider),
				zap.Error(err))
		}
	}

	if !cancelled {
		c.sink.RecordAgentRequest(monitor.AgentRequest{
			AgentID:   agent.ID,
			AgentType: agent.Type,
			Provider:  provider,
			Model:     mdl,
			Duration:  elapsed,
			Cost:      cost,
			Success:   herr == nil,
			Quality:   quality,
		})
	}

	if c.history == nil {
		return
	}
	exec := &storage.Execution{
		ID:          uuid.NewString(),
		WorkflowID:  task.WorkflowID,
		TaskID:      task.ID,
		AgentID:     agent.ID,
		AgentType:   task.AgentType,
		Provider:    provider,
		Model:       mdl,
		Status:      model.TaskStatusCompleted,
		Attempt:     task.RetryCount + 1,
		Cost:        cost,
		Result:      output,
		StartedAt:   started,
		CompletedAt: now,
		Duration:    elapsed,
	}
	switch {
	case cancelled:
		exec.Status = model.TaskStatusCancelled
		exec.Error = herr.Error()
	case herr != nil:
		exec.Status = model.TaskStatusFailed
		exec.Error = herr.Error()
	}
	if err := c.history.Store(ctx, exec); err != nil {
		c.logger.Error("Failed to store execution history",
			zap.String("task_id", task.ID),
			zap.Error(err))
	}
}

// settle applies an attempt outcome to the stored task and advances the workflow
func (c *Coordinator) settle(ctx context.Context, wfID, taskID string, out outcome) error {
	return c.withWorkflow(ctx, wfID, func() error {
		return c.settleLocked(ctx, wfID, taskID, out)
	})
}

func (c *Coordinator) settleLocked(ctx context.Context, wfID, taskID string, out outcome) error {
	header, err := c.loadHeader(ctx, wfID)
	if err != nil {
		return err
	}
	task, err := c.loadTask(ctx, wfID, taskID)
	if err != nil {
		return err
	}

	now := c.now()
	if task.Status == model.TaskStatusCancelled {
		return nil
	}
	if header.Status.Terminal() {
		if !task.Terminal() {
			task.Status = model.TaskStatusCancelled
			task.CompletedAt = &now
			return c.saveTask(ctx, task)
		}
		return nil
	}

	logger := c.logger.With(zap.String("workflow_id", wfID), zap.String("task_id", taskID))

	switch {
	case out.err == nil:
		task.Status = model.TaskStatusCompleted
		task.Error = ""
		if out.result != nil {
			task.Result = out.result.Output
		}
		task.CompletedAt = &now
		if err := c.saveTask(ctx, task); err != nil {
			return err
		}
		logger.Info("Task completed", zap.String("agent_id", task.AssignedAgent))
		c.publishTask(task, "completed")

	case errors.Is(out.err, ErrTaskCancelled):
		// the run was interrupted by shutdown; hand it back untouched
		task.Status = model.TaskStatusPending
		task.AssignedAgent = ""
		task.StartedAt = nil
		if err := c.saveTask(ctx, task); err != nil {
			return err
		}
		if err := c.queue.Push(ctx, wfID, taskID, task.Priority); err != nil {
			return err
		}
		logger.Info("Task interrupted, requeued")
		return nil

	default:
		task.Error = out.err.Error()
		task.Permanent = task.Permanent || out.permanent
		task.Status = model.TaskStatusFailed
		if !task.RetriesExhausted() {
			task.RetryCount++
			task.Status = model.TaskStatusPending
			task.AssignedAgent = ""
			task.StartedAt = nil
			if err := c.saveTask(ctx, task); err != nil {
				return err
			}
			delay := c.backoff.NextRetry(task.RetryCount)
			if err := c.retries.Schedule(ctx, wfID, taskID, task.Priority, delay); err != nil {
				return err
			}
			logger.Warn("Task failed, retrying",
				zap.Int("retry_count", task.RetryCount),
				zap.Int("max_retries", task.MaxRetries),
				zap.Duration("delay", delay),
				zap.Error(out.err))
			c.publishTask(task, "retrying")
		} else {
			task.CompletedAt = &now
			if err := c.saveTask(ctx, task); err != nil {
				return err
			}
			logger.Error("Task failed",
				zap.Int("retry_count", task.RetryCount),
				zap.Bool("permanent", task.Permanent),
				zap.Error(out.err))
			c.publishTask(task, "failed")
		}
	}

	return c.advanceLocked(ctx, header)
}

// advanceLocked enqueues newly ready tasks and updates the workflow status.
// It must be called with the workflow lease held.
func (c *Coordinator) advanceLocked(ctx context.Context, header *model.Workflow) error {
	tasks, err := c.loadTasks(ctx, header)
	if err != nil {
		return err
	}

	status := model.DeriveStatus(tasks)
	if status != model.WorkflowStatusFailed {
		for _, t := range readyTasks(tasks) {
			if _, err := c.queue.PushOnce(ctx, header.ID, t.ID, t.Priority); err != nil {
				return err
			}
		}
	}
	if status == header.Status {
		return nil
	}

	now := c.now()
	header.Status = status
	header.UpdatedAt = now

	switch status {
	case model.WorkflowStatusFailed:
		for _, t := range tasks {
			if t.TerminallyFailed() {
				header.FailedTask = t.ID
				header.Error = t.Error
				break
			}
		}
		if err := c.cancelRemainingLocked(ctx, header, tasks); err != nil {
			return err
		}
		header.CompletedAt = &now
	case model.WorkflowStatusCompleted, model.WorkflowStatusCancelled:
		header.CompletedAt = &now
	case model.WorkflowStatusPending, model.WorkflowStatusRunning:
	}

	if err := c.saveHeader(ctx, header); err != nil {
		return err
	}

	if status.Terminal() {
		c.logger.Info("Workflow finished",
			zap.String("workflow_id", header.ID),
			zap.String("status", string(status)),
			zap.String("failed_task", header.FailedTask))
	}
	c.publishWorkflow(header, string(status))
	return nil
}

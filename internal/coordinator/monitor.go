package coordinator

import (
	"context"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
	"go.uber.org/zap"

	"github.com/Abelhubprog/HandyWriterzAi-sub001/internal/bus"
	"github.com/Abelhubprog/HandyWriterzAi-sub001/internal/model"
	"github.com/Abelhubprog/HandyWriterzAi-sub001/internal/store"
)

// cronLogger adapts zap.Logger to cron.Logger
type cronLogger struct {
	logger *zap.Logger
}

func (l *cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug(msg, zap.Any("details", keysAndValues))
}

func (l *cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error(msg, zap.Error(err), zap.Any("details", keysAndValues))
}

func every(d time.Duration) string {
	return "@every " + d.String()
}

// startMonitors schedules heartbeat, timeout and purge jobs
func (c *Coordinator) startMonitors(ctx context.Context) error {
	cl := &cronLogger{logger: c.logger.Named("cron")}
	c.cron = cron.New(
		cron.WithSeconds(),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)

	jobs := []struct {
		name     string
		interval time.Duration
		run      func(context.Context) error
	}{
		{"heartbeat", c.cfg.HeartbeatInterval, c.Heartbeat},
		{"timeouts", c.cfg.MonitorInterval, func(ctx context.Context) error {
			_, err := c.CheckTimeouts(ctx)
			return err
		}},
		{"purge", c.cfg.MonitorInterval, func(ctx context.Context) error {
			_, err := c.PurgeCompleted(ctx)
			return err
		}},
	}

	for _, job := range jobs {
		job := job
		if _, err := c.cron.AddFunc(every(job.interval), func() {
			if err := job.run(ctx); err != nil {
				c.logger.Error("Monitor job failed", zap.String("job", job.name), zap.Error(err))
			}
		}); err != nil {
			return fmt.Errorf("failed to schedule %s job: %w", job.name, err)
		}
	}

	c.cron.Start()

	if err := c.Heartbeat(ctx); err != nil {
		c.logger.Warn("Initial heartbeat failed", zap.Error(err))
	}
	return nil
}

// CheckTimeouts force-fails workflows that stayed non-terminal past the
// global timeout. It returns how many were failed.
func (c *Coordinator) CheckTimeouts(ctx context.Context) (int, error) {
	all, err := c.store.HGetAll(ctx, store.KeyWorkflows)
	if err != nil {
		return 0, fmt.Errorf("failed to list workflows: %w", err)
	}

	now := c.now()
	n := 0
	for id, raw := range all {
		header, err := model.DecodeWorkflow(raw)
		if err != nil {
			c.logger.Error("Failed to decode workflow", zap.String("workflow_id", id), zap.Error(err))
			continue
		}
		if header.Status.Terminal() || now.Sub(header.CreatedAt) < c.cfg.WorkflowTimeout {
			continue
		}

		timedOut, err := c.timeoutWorkflow(ctx, id)
		if err != nil {
			c.logger.Error("Failed to time out workflow", zap.String("workflow_id", id), zap.Error(err))
			continue
		}
		if timedOut {
			n++
		}
	}
	return n, nil
}

func (c *Coordinator) timeoutWorkflow(ctx context.Context, workflowID string) (bool, error) {
	var timedOut bool
	err := c.withWorkflow(ctx, workflowID, func() error {
		var err error
		timedOut, err = c.timeoutWorkflowLocked(ctx, workflowID)
		return err
	})
	return timedOut, err
}

func (c *Coordinator) timeoutWorkflowLocked(ctx context.Context, workflowID string) (bool, error) {
	header, err := c.loadHeader(ctx, workflowID)
	if err != nil {
		return false, err
	}
	if header.Status.Terminal() {
		return false, nil
	}
	tasks, err := c.loadTasks(ctx, header)
	if err != nil {
		return false, err
	}
	if err := c.cancelRemainingLocked(ctx, header, tasks); err != nil {
		return false, err
	}

	now := c.now()
	header.Status = model.WorkflowStatusFailed
	header.Error = fmt.Sprintf("%s after %s", ErrWorkflowTimeout, c.cfg.WorkflowTimeout)
	header.UpdatedAt = now
	header.CompletedAt = &now
	if err := c.saveHeader(ctx, header); err != nil {
		return false, err
	}

	c.logger.Warn("Workflow timed out",
		zap.String("workflow_id", workflowID),
		zap.Duration("timeout", c.cfg.WorkflowTimeout))
	c.publishWorkflow(header, "timeout")
	return true, nil
}

// PurgeCompleted deletes workflows that have been terminal longer than the
// retention period, together with their tasks and old execution history
func (c *Coordinator) PurgeCompleted(ctx context.Context) (int, error) {
	all, err := c.store.HGetAll(ctx, store.KeyWorkflows)
	if err != nil {
		return 0, fmt.Errorf("failed to list workflows: %w", err)
	}

	cutoff := c.now().Add(-c.cfg.Retention)
	n := 0
	for id, raw := range all {
		header, err := model.DecodeWorkflow(raw)
		if err != nil {
			c.logger.Error("Failed to decode workflow", zap.String("workflow_id", id), zap.Error(err))
			continue
		}
		if !header.Status.Terminal() {
			continue
		}
		finished := header.UpdatedAt
		if header.CompletedAt != nil {
			finished = *header.CompletedAt
		}
		if finished.After(cutoff) {
			continue
		}

		if err := c.withWorkflow(ctx, id, func() error { return c.purgeLocked(ctx, header) }); err != nil {
			return n, err
		}
		n++
	}

	if c.history != nil {
		deleted, err := c.history.DeleteBefore(ctx, cutoff)
		if err != nil {
			return n, fmt.Errorf("failed to purge execution history: %w", err)
		}
		if deleted > 0 {
			c.logger.Info("Purged execution history", zap.Int64("records", deleted))
		}
	}

	if n > 0 {
		c.logger.Info("Purged completed workflows", zap.Int("count", n))
	}
	return n, nil
}

// purgeLocked deletes tasks before the header so a failed purge is retried on
// the next run. Dropping the ID claim last makes the ID reusable.
func (c *Coordinator) purgeLocked(ctx context.Context, header *model.Workflow) error {
	id := header.ID
	if err := c.store.Del(ctx, store.WorkflowTasksKey(id)); err != nil {
		return fmt.Errorf("failed to delete tasks of %s: %w", id, err)
	}
	if err := c.queue.Forget(ctx, id, header.TaskIDs...); err != nil {
		return fmt.Errorf("failed to delete claims of %s: %w", id, err)
	}
	if err := c.store.HDel(ctx, store.KeyWorkflows, id); err != nil {
		return fmt.Errorf("failed to delete workflow %s: %w", id, err)
	}
	if err := c.store.Del(ctx, store.WorkflowClaimKey(id)); err != nil {
		return fmt.Errorf("failed to release workflow id %s: %w", id, err)
	}
	return nil
}

// Heartbeat records this instance's liveness and load in the shared store
// and on the bus, and mirrors the agent pool
func (c *Coordinator) Heartbeat(ctx context.Context) error {
	depth, err := c.queue.Depth(ctx)
	if err != nil {
		return err
	}

	hostname, _ := os.Hostname()
	hb := &model.Heartbeat{
		InstanceID: c.cfg.InstanceID,
		Hostname:   hostname,
		Status:     model.InstanceStatusHealthy,
		Workers:    c.cfg.Workers,
		InFlight:   c.InFlight(),
		QueueDepth: depth,
		Agents:     c.agents.Stats().Agents,
		Timestamp:  c.now(),
	}
	if pct, err := cpu.Percent(0, false); err == nil && len(pct) > 0 {
		hb.CPUUsage = pct[0]
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		hb.MemoryUsage = vm.UsedPercent
	}

	data, err := model.Encode(model.KindHeartbeat, hb)
	if err != nil {
		return err
	}
	if err := c.store.HSet(ctx, store.KeyCoordinators, hb.InstanceID, data); err != nil {
		return fmt.Errorf("failed to store heartbeat: %w", err)
	}

	if err := c.publisher.Publish(bus.TopicHeartbeat(hb.InstanceID), bus.NewEvent("heartbeat", hb.InstanceID, map[string]any{
		"instance_id": hb.InstanceID,
		"workers":     hb.Workers,
		"in_flight":   hb.InFlight,
		"queue_depth": hb.QueueDepth,
		"agents":      hb.Agents,
		"cpu_usage":   hb.CPUUsage,
		"memory":      hb.MemoryUsage,
	})); err != nil {
		c.logger.Warn("Failed to publish heartbeat", zap.Error(err))
	}

	return c.agents.Sync(ctx, c.store)
}

// ListInstances returns every coordinator that has sent a heartbeat, marked
// stale when its last heartbeat is older than the instance TTL
func (c *Coordinator) ListInstances(ctx context.Context) ([]*model.Heartbeat, error) {
	all, err := c.store.HGetAll(ctx, store.KeyCoordinators)
	if err != nil {
		return nil, fmt.Errorf("failed to list instances: %w", err)
	}

	now := c.now()
	out := make([]*model.Heartbeat, 0, len(all))
	for id, raw := range all {
		var hb model.Heartbeat
		if err := model.Decode(raw, model.KindHeartbeat, &hb); err != nil {
			c.logger.Error("Failed to decode heartbeat", zap.String("instance_id", id), zap.Error(err))
			continue
		}
		hb.Status = model.InstanceStatusHealthy
		if now.Sub(hb.Timestamp) > c.cfg.InstanceTTL {
			hb.Status = model.InstanceStatusStale
		}
		out = append(out, &hb)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].InstanceID < out[j].InstanceID })
	return out, nil
}

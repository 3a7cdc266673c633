package coordinator

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Abelhubprog/HandyWriterzAi-sub001/internal/store"
)

// withWorkflow runs fn while holding the workflow's lease in the shared store,
// so state transitions of one workflow never interleave across instances.
// fn must only touch the store; handlers run outside the lease.
func (c *Coordinator) withWorkflow(ctx context.Context, workflowID string, fn func() error) error {
	key := store.WorkflowLockKey(workflowID)
	token := []byte(c.cfg.InstanceID + ":" + uuid.NewString())

	if err := c.acquireLease(ctx, key, token, workflowID); err != nil {
		return err
	}
	defer func() {
		released, err := c.store.CompareAndDelete(context.WithoutCancel(ctx), key, token)
		switch {
		case err != nil:
			c.logger.Error("Failed to release workflow lease",
				zap.String("workflow_id", workflowID),
				zap.Error(err))
		case !released:
			c.logger.Warn("Workflow lease expired before release",
				zap.String("workflow_id", workflowID),
				zap.Duration("ttl", c.cfg.LockTTL))
		}
	}()

	return fn()
}

func (c *Coordinator) acquireLease(ctx context.Context, key string, token []byte, workflowID string) error {
	deadline := time.NewTimer(c.cfg.LockTimeout)
	defer deadline.Stop()

	for {
		ok, err := c.store.SetNX(ctx, key, token, c.cfg.LockTTL)
		if err != nil {
			return fmt.Errorf("failed to lock workflow %s: %w", workflowID, err)
		}
		if ok {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			return fmt.Errorf("%w: %s", ErrWorkflowBusy, workflowID)
		case <-time.After(c.cfg.LockRetry):
		}
	}
}

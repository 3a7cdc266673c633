package coordinator

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/Abelhubprog/HandyWriterzAi-sub001/internal/model"
	"github.com/Abelhubprog/HandyWriterzAi-sub001/internal/store"
)

const (
	// priorityBand separates priorities in the queue score so that arrival
	// order never crosses a priority boundary
	priorityBand = 1e12
	claimTTL     = 24 * time.Hour
)

// TaskQueue is the shared priority queue of ready tasks. Members are
// "workflow/task"; higher score pops first.
type TaskQueue struct {
	store store.Store
}

// NewTaskQueue creates a queue over the shared store
func NewTaskQueue(s store.Store) *TaskQueue {
	return &TaskQueue{store: s}
}

func memberKey(workflowID, taskID string) string {
	return workflowID + "/" + taskID
}

func splitMember(member string) (string, string, error) {
	wf, task, ok := strings.Cut(member, "/")
	if !ok || wf == "" || task == "" {
		return "", "", fmt.Errorf("malformed queue member %q", member)
	}
	return wf, task, nil
}

// Push enqueues a task; among equal priorities earlier pushes pop first
func (q *TaskQueue) Push(ctx context.Context, workflowID, taskID string, priority model.TaskPriority) error {
	seq, err := q.store.Incr(ctx, store.KeyQueueSeq)
	if err != nil {
		return fmt.Errorf("failed to allocate queue sequence: %w", err)
	}
	score := float64(priority)*priorityBand - float64(seq)
	if err := q.store.ZAdd(ctx, store.KeyQueue, score, memberKey(workflowID, taskID)); err != nil {
		return fmt.Errorf("failed to enqueue task: %w", err)
	}
	return nil
}

// Defer parks a task in the delayed set until due. It takes its place among
// equal priorities when PromoteDue moves it into the queue.
func (q *TaskQueue) Defer(ctx context.Context, workflowID, taskID string, priority model.TaskPriority, due time.Time) error {
	entry := store.DeferredMember(float64(priority)*priorityBand, memberKey(workflowID, taskID))
	if err := q.store.ZAdd(ctx, store.KeyQueueDelayed, float64(due.UnixMilli()), entry); err != nil {
		return fmt.Errorf("failed to defer task: %w", err)
	}
	return nil
}

// PromoteDue atomically moves up to limit delayed tasks due by now into the queue
func (q *TaskQueue) PromoteDue(ctx context.Context, now time.Time, limit int64) (int64, error) {
	return q.store.ZMoveDue(ctx, store.KeyQueueDelayed, store.KeyQueue, store.KeyQueueSeq, float64(now.UnixMilli()), limit)
}

// Deferred returns the number of delayed tasks
func (q *TaskQueue) Deferred(ctx context.Context) (int64, error) {
	return q.store.ZCard(ctx, store.KeyQueueDelayed)
}

// PushOnce enqueues a task unless it was already enqueued by any instance.
// It reports whether this call enqueued it.
func (q *TaskQueue) PushOnce(ctx context.Context, workflowID, taskID string, priority model.TaskPriority) (bool, error) {
	claimed, err := q.store.SetNX(ctx, store.QueueClaimKey(workflowID, taskID), []byte("1"), claimTTL)
	if err != nil {
		return false, fmt.Errorf("failed to claim task enqueue: %w", err)
	}
	if !claimed {
		return false, nil
	}
	return true, q.Push(ctx, workflowID, taskID, priority)
}

// Pop removes the highest priority task and returns it with the priority it
// was queued at; store.ErrEmpty when none is ready
func (q *TaskQueue) Pop(ctx context.Context) (string, string, model.TaskPriority, error) {
	member, score, err := q.store.ZPopMax(ctx, store.KeyQueue)
	if err != nil {
		return "", "", 0, err
	}
	wf, task, err := splitMember(member)
	if err != nil {
		return "", "", 0, err
	}
	return wf, task, model.TaskPriority(math.Ceil(score / priorityBand)), nil
}

// Remove drops tasks of a workflow from the queue
func (q *TaskQueue) Remove(ctx context.Context, workflowID string, taskIDs ...string) error {
	if len(taskIDs) == 0 {
		return nil
	}
	members := make([]string, 0, len(taskIDs))
	for _, id := range taskIDs {
		members = append(members, memberKey(workflowID, id))
	}
	return q.store.ZRem(ctx, store.KeyQueue, members...)
}

// Forget deletes enqueue claims of a workflow's tasks
func (q *TaskQueue) Forget(ctx context.Context, workflowID string, taskIDs ...string) error {
	if len(taskIDs) == 0 {
		return nil
	}
	keys := make([]string, 0, len(taskIDs))
	for _, id := range taskIDs {
		keys = append(keys, store.QueueClaimKey(workflowID, id))
	}
	return q.store.Del(ctx, keys...)
}

// Depth returns the number of queued tasks
func (q *TaskQueue) Depth(ctx context.Context) (int64, error) {
	return q.store.ZCard(ctx, store.KeyQueue)
}

func isEmpty(err error) bool {
	return errors.Is(err, store.ErrEmpty)
}

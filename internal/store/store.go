// Package store defines the shared key-value/queue store that cooperating
// coordinator instances use to observe a consistent view of budgets, task
// state and the dispatch queue. Every mutation is a single atomic operation.
package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

var (
	// ErrNotFound is returned when a key or hash field does not exist
	ErrNotFound = errors.New("store: not found")

	// ErrEmpty is returned when popping from an empty sorted set
	ErrEmpty = errors.New("store: empty")
)

// Key layout shared by all components
const (
	KeyAgents       = "pool:agents"
	KeyQueue        = "queue:tasks"
	KeyQueueSeq     = "queue:seq"
	KeyQueueDelayed = "queue:delayed"
	KeyWorkflows    = "workflows"
	KeyCoordinators = "coordinators"
	KeySwarms       = "swarms"
)

// Store is the shared external store
type Store interface {
	// HSet sets a hash field
	HSet(ctx context.Context, key, field string, value []byte) error
	// HGet returns a hash field or ErrNotFound
	HGet(ctx context.Context, key, field string) ([]byte, error)
	// HGetAll returns every field of a hash
	HGetAll(ctx context.Context, key string) (map[string][]byte, error)
	// HDel removes hash fields
	HDel(ctx context.Context, key string, fields ...string) error

	// IncrByFloat atomically adds delta to a counter and refreshes its TTL
	IncrByFloat(ctx context.Context, key string, delta float64, ttl time.Duration) (float64, error)
	// GetFloat returns a counter value, zero when missing
	GetFloat(ctx context.Context, key string) (float64, error)
	// Incr atomically increments an integer counter
	Incr(ctx context.Context, key string) (int64, error)
	// SetNX sets key only if it does not exist and reports whether it was set
	SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)
	// CompareAndDelete removes key only while it still holds value and
	// reports whether it did
	CompareAndDelete(ctx context.Context, key string, value []byte) (bool, error)
	// Del removes keys of any type
	Del(ctx context.Context, keys ...string) error

	// ZAdd adds or updates a sorted set member
	ZAdd(ctx context.Context, key string, score float64, member string) error
	// ZPopMax removes and returns the highest scored member or ErrEmpty
	ZPopMax(ctx context.Context, key string) (string, float64, error)
	// ZRem removes sorted set members
	ZRem(ctx context.Context, key string, members ...string) error
	// ZCard returns the sorted set size
	ZCard(ctx context.Context, key string) (int64, error)
	// ZMoveDue moves up to limit members of src scored at most max into dst
	// in one atomic step, lowest scores first. Members of src are built with
	// DeferredMember; each enters dst at its base score minus the next value
	// of the seqKey counter. It returns how many members moved.
	ZMoveDue(ctx context.Context, src, dst, seqKey string, max float64, limit int64) (int64, error)

	// Close releases the store connection
	Close() error
}

// WorkflowTasksKey returns the hash key holding a workflow's tasks
func WorkflowTasksKey(workflowID string) string {
	return "workflow:" + workflowID + ":tasks"
}

// WorkflowClaimKey returns the conditional-set key reserving a workflow ID
func WorkflowClaimKey(workflowID string) string {
	return "workflow:" + workflowID + ":claim"
}

// WorkflowLockKey returns the lease key serialising a workflow's state changes
func WorkflowLockKey(workflowID string) string {
	return "workflow:" + workflowID + ":lock"
}

// DeferredMember encodes a sorted set member waiting for ZMoveDue together
// with the base score it will enter the destination set at
func DeferredMember(base float64, member string) string {
	return strconv.FormatFloat(base, 'f', -1, 64) + "|" + member
}

// SplitDeferredMember reverses DeferredMember
func SplitDeferredMember(entry string) (float64, string, error) {
	prefix, member, ok := strings.Cut(entry, "|")
	if !ok || member == "" {
		return 0, "", fmt.Errorf("malformed deferred member %q", entry)
	}
	base, err := strconv.ParseFloat(prefix, 64)
	if err != nil {
		return 0, "", fmt.Errorf("malformed deferred member %q: %w", entry, err)
	}
	return base, member, nil
}

// QueueClaimKey returns the conditional-set key guarding a task enqueue
func QueueClaimKey(workflowID, taskID string) string {
	return "queue:claim:" + workflowID + ":" + taskID
}

// DailyBudgetKey returns the global daily spend counter key
func DailyBudgetKey(t time.Time) string {
	return "budget:daily:" + t.UTC().Format("2006-01-02")
}

// HourlyBudgetKey returns the global hourly spend counter key
func HourlyBudgetKey(t time.Time) string {
	return "budget:hourly:" + t.UTC().Format("2006-01-02T15")
}

// UserDailyBudgetKey returns the per-user daily spend counter key
func UserDailyBudgetKey(userID string, t time.Time) string {
	return "budget:user:" + userID + ":daily:" + t.UTC().Format("2006-01-02")
}

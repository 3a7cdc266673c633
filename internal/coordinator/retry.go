package coordinator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Abelhubprog/HandyWriterzAi-sub001/internal/model"
)

// RetryStrategy defines the interface for retry strategies
type RetryStrategy interface {
	// NextRetry returns the delay before the given attempt (1-based)
	NextRetry(attempt int) time.Duration
}

// ExponentialBackoff implements exponential backoff retry strategy
type ExponentialBackoff struct {
	InitialDelay time.Duration `mapstructure:"initial_delay"`
	MaxDelay     time.Duration `mapstructure:"max_delay"`
	Multiplier   float64       `mapstructure:"multiplier"`
}

// DefaultBackoff yields min(2^attempt seconds, 30s)
func DefaultBackoff() *ExponentialBackoff {
	return &ExponentialBackoff{
		InitialDelay: time.Second,
		MaxDelay:     30 * time.Second,
		Multiplier:   2,
	}
}

// NextRetry calculates the next retry time using exponential backoff
func (s *ExponentialBackoff) NextRetry(attempt int) time.Duration {
	delay := float64(s.InitialDelay)
	for i := 0; i < attempt; i++ {
		delay *= s.Multiplier
		if delay > float64(s.MaxDelay) {
			return s.MaxDelay
		}
	}
	return time.Duration(delay)
}

// retryBatch caps how many due retries one store round trip promotes
const retryBatch = 100

// RetryManager parks tasks in the shared delayed set until their backoff
// elapsed and promotes due ones into the queue. Any instance promotes for all.
type RetryManager struct {
	logger   *zap.Logger
	queue    *TaskQueue
	interval time.Duration
	now      func() time.Time
	stop     chan struct{}
	stopOnce sync.Once
}

// NewRetryManager creates a new retry manager
func NewRetryManager(queue *TaskQueue, interval time.Duration, now func() time.Time, logger *zap.Logger) *RetryManager {
	if now == nil {
		now = time.Now
	}
	return &RetryManager{
		logger:   logger.Named("retry-manager"),
		queue:    queue,
		interval: interval,
		now:      now,
		stop:     make(chan struct{}),
	}
}

// Start starts the retry loop
func (rm *RetryManager) Start(ctx context.Context) {
	rm.logger.Info("Starting retry manager", zap.Duration("interval", rm.interval))
	go rm.retryLoop(ctx)
}

// Stop stops the retry loop
func (rm *RetryManager) Stop() {
	rm.stopOnce.Do(func() {
		rm.logger.Info("Stopping retry manager")
		close(rm.stop)
	})
}

// Schedule requeues the task after delay
func (rm *RetryManager) Schedule(ctx context.Context, workflowID, taskID string, priority model.TaskPriority, delay time.Duration) error {
	if err := rm.queue.Defer(ctx, workflowID, taskID, priority, rm.now().Add(delay)); err != nil {
		return fmt.Errorf("failed to schedule retry: %w", err)
	}

	rm.logger.Debug("Task scheduled for retry",
		zap.String("workflow_id", workflowID),
		zap.String("task_id", taskID),
		zap.Duration("delay", delay))
	return nil
}

// Pending returns the number of waiting retries across all instances
func (rm *RetryManager) Pending(ctx context.Context) (int64, error) {
	return rm.queue.Deferred(ctx)
}

func (rm *RetryManager) retryLoop(ctx context.Context) {
	ticker := time.NewTicker(rm.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-rm.stop:
			return
		case <-ticker.C:
			rm.processRetries(ctx)
		}
	}
}

// processRetries moves every due entry into the queue and returns how many moved
func (rm *RetryManager) processRetries(ctx context.Context) int64 {
	now := rm.now()
	var total int64
	for {
		moved, err := rm.queue.PromoteDue(ctx, now, retryBatch)
		if err != nil {
			rm.logger.Error("Failed to promote due retries", zap.Error(err))
			return total
		}
		total += moved
		if moved < retryBatch {
			break
		}
	}

	if total > 0 {
		rm.logger.Debug("Retries promoted", zap.Int64("count", total))
	}
	return total
}

package pool

import (
	"sync"
	"time"
)

// BreakerState is the state of a circuit breaker
type BreakerState string

const (
	BreakerClosed   BreakerState = "closed"
	BreakerOpen     BreakerState = "open"
	BreakerHalfOpen BreakerState = "half_open"
)

// BreakerConfig configures per-agent circuit breakers
type BreakerConfig struct {
	FailureThreshold int           `mapstructure:"failure_threshold"`
	Cooldown         time.Duration `mapstructure:"cooldown"`
}

// DefaultBreakerConfig opens after 5 consecutive failures for 30 seconds
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 5,
		Cooldown:         30 * time.Second,
	}
}

// CircuitBreaker gates dispatch to a persistently failing agent.
// While half-open exactly one trial call is admitted.
type CircuitBreaker struct {
	mu       sync.Mutex
	cfg      BreakerConfig
	state    BreakerState
	failures int
	openedAt time.Time
	trial    bool
	now      func() time.Time
}

// NewCircuitBreaker creates a closed breaker
func NewCircuitBreaker(cfg BreakerConfig, now func() time.Time) *CircuitBreaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = DefaultBreakerConfig().FailureThreshold
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = DefaultBreakerConfig().Cooldown
	}
	if now == nil {
		now = time.Now
	}
	return &CircuitBreaker{cfg: cfg, state: BreakerClosed, now: now}
}

// State returns the current state, moving OPEN to HALF_OPEN once the cooldown elapsed
func (b *CircuitBreaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.advance()
	return b.state
}

// CanExecute reports whether a call may be dispatched now
func (b *CircuitBreaker) CanExecute() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.advance()

	switch b.state {
	case BreakerClosed:
		return true
	case BreakerHalfOpen:
		return !b.trial
	case BreakerOpen:
		return false
	default:
		return false
	}
}

// Begin reserves a call slot; in HALF_OPEN it claims the single trial
func (b *CircuitBreaker) Begin() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.advance()

	switch b.state {
	case BreakerClosed:
		return true
	case BreakerHalfOpen:
		if b.trial {
			return false
		}
		b.trial = true
		return true
	case BreakerOpen:
		return false
	default:
		return false
	}
}

// Abort gives back a reserved call slot without recording an outcome
func (b *CircuitBreaker) Abort() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == BreakerHalfOpen {
		b.trial = false
	}
}

// RecordSuccess closes the breaker and resets the failure count
func (b *CircuitBreaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = 0
	b.trial = false
	b.state = BreakerClosed
}

// RecordFailure counts a failure; the breaker opens at the threshold or on a failed trial
func (b *CircuitBreaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.advance()

	switch b.state {
	case BreakerHalfOpen:
		b.trip()
	case BreakerClosed:
		b.failures++
		if b.failures >= b.cfg.FailureThreshold {
			b.trip()
		}
	case BreakerOpen:
		b.openedAt = b.now()
	}
}

// Failures returns the consecutive failure count
func (b *CircuitBreaker) Failures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures
}

func (b *CircuitBreaker) trip() {
	b.state = BreakerOpen
	b.openedAt = b.now()
	b.trial = false
}

// advance must be called with lock held
func (b *CircuitBreaker) advance() {
	if b.state == BreakerOpen && b.now().Sub(b.openedAt) >= b.cfg.Cooldown {
		b.state = BreakerHalfOpen
		b.trial = false
	}
}

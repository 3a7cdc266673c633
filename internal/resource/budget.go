package resource

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/Abelhubprog/HandyWriterzAi-sub001/internal/store"
)

const (
	hourlyCounterTTL = 2 * time.Hour
	dailyCounterTTL  = 48 * time.Hour
)

// Usage is current spend against the configured ceilings
type Usage struct {
	Daily          float64 `json:"daily"`
	DailyLimit     float64 `json:"daily_limit"`
	Hourly         float64 `json:"hourly"`
	HourlyLimit    float64 `json:"hourly_limit"`
	UserDaily      float64 `json:"user_daily,omitempty"`
	UserDailyLimit float64 `json:"user_daily_limit,omitempty"`
}

type budgetCheck struct {
	scope string
	limit float64
	key   string
}

// CheckBudget rejects a request whose estimated cost would push any applicable
// counter over its ceiling. It never mutates the counters.
func (m *Manager) CheckBudget(ctx context.Context, estimate float64, userID string) error {
	budget := m.cfg.Budget

	if budget.PerRequestMax > 0 && estimate > budget.PerRequestMax {
		return m.reject(&BudgetError{Scope: ScopePerRequest, Limit: budget.PerRequestMax, Estimate: estimate}, userID)
	}

	now := m.now()
	checks := []budgetCheck{
		{ScopeDaily, budget.DailyLimit, store.DailyBudgetKey(now)},
		{ScopeHourly, budget.HourlyLimit, store.HourlyBudgetKey(now)},
	}
	if userID != "" {
		checks = append(checks, budgetCheck{ScopeUserDaily, budget.UserDailyLimit, store.UserDailyBudgetKey(userID, now)})
	}

	for _, c := range checks {
		if c.limit <= 0 {
			continue
		}
		current, err := m.store.GetFloat(ctx, c.key)
		if err != nil {
			return fmt.Errorf("failed to read %s budget: %w", c.scope, err)
		}
		if current+estimate > c.limit {
			return m.reject(&BudgetError{Scope: c.scope, Limit: c.limit, Current: current, Estimate: estimate}, userID)
		}
	}
	return nil
}

func (m *Manager) reject(err *BudgetError, userID string) error {
	m.logger.Warn("Budget check rejected request",
		zap.String("scope", err.Scope),
		zap.String("user_id", userID),
		zap.Float64("limit", err.Limit),
		zap.Float64("current", err.Current),
		zap.Float64("estimate", err.Estimate))
	return err
}

// recordSpend increments the shared counters; each rolls over through its TTL
func (m *Manager) recordSpend(ctx context.Context, cost float64, userID string) error {
	if cost <= 0 {
		return nil
	}

	now := m.now()
	if _, err := m.store.IncrByFloat(ctx, store.DailyBudgetKey(now), cost, dailyCounterTTL); err != nil {
		return fmt.Errorf("failed to record daily spend: %w", err)
	}
	if _, err := m.store.IncrByFloat(ctx, store.HourlyBudgetKey(now), cost, hourlyCounterTTL); err != nil {
		return fmt.Errorf("failed to record hourly spend: %w", err)
	}
	if userID != "" {
		if _, err := m.store.IncrByFloat(ctx, store.UserDailyBudgetKey(userID, now), cost, dailyCounterTTL); err != nil {
			return fmt.Errorf("failed to record user spend: %w", err)
		}
	}
	return nil
}

// Usage reports current spend; userID may be empty
func (m *Manager) Usage(ctx context.Context, userID string) (*Usage, error) {
	now := m.now()
	u := &Usage{
		DailyLimit:  m.cfg.Budget.DailyLimit,
		HourlyLimit: m.cfg.Budget.HourlyLimit,
	}

	var err error
	if u.Daily, err = m.store.GetFloat(ctx, store.DailyBudgetKey(now)); err != nil {
		return nil, err
	}
	if u.Hourly, err = m.store.GetFloat(ctx, store.HourlyBudgetKey(now)); err != nil {
		return nil, err
	}
	if userID != "" {
		u.UserDailyLimit = m.cfg.Budget.UserDailyLimit
		if u.UserDaily, err = m.store.GetFloat(ctx, store.UserDailyBudgetKey(userID, now)); err != nil {
			return nil, err
		}
	}
	return u, nil
}

package resource

import (
	"errors"
	"fmt"
)

var (
	// ErrNoProvider is returned when no provider/model pair is admissible
	ErrNoProvider = errors.New("no provider available")

	// ErrRateLimited is returned when every candidate was rejected by its token buckets
	ErrRateLimited = errors.New("rate limited")

	// ErrBudgetExceeded is returned when a request would push spend over a ceiling
	ErrBudgetExceeded = errors.New("budget exceeded")

	// ErrInvalidProvider is returned when registering a provider without name or models
	ErrInvalidProvider = errors.New("invalid provider")
)

// Budget scopes
const (
	ScopePerRequest = "per_request"
	ScopeDaily      = "daily"
	ScopeHourly     = "hourly"
	ScopeUserDaily  = "user_daily"
)

// BudgetError carries the ceiling that rejected a request
type BudgetError struct {
	Scope    string  `json:"scope"`
	Limit    float64 `json:"limit"`
	Current  float64 `json:"current"`
	Estimate float64 `json:"estimate"`
}

func (e *BudgetError) Error() string {
	return fmt.Sprintf("%s: %s limit $%.4f, current $%.4f, estimate $%.4f",
		ErrBudgetExceeded, e.Scope, e.Limit, e.Current, e.Estimate)
}

func (e *BudgetError) Unwrap() error { return ErrBudgetExceeded }

package model

// ProviderHealth represents the live health of a provider
type ProviderHealth string

const (
	ProviderHealthy     ProviderHealth = "healthy"
	ProviderDegraded    ProviderHealth = "degraded"
	ProviderUnavailable ProviderHealth = "unavailable"
)

// ModelSpec describes one model offered by a provider
type ModelSpec struct {
	CostPer1K       float64  `json:"cost_per_1k" yaml:"cost_per_1k"`
	Capabilities    []string `json:"capabilities,omitempty" yaml:"capabilities"`
	ContextWindow   int      `json:"context_window,omitempty" yaml:"context_window"`
	TokensPerMinute int      `json:"tokens_per_minute,omitempty" yaml:"tokens_per_minute"`
	Quality         float64  `json:"quality,omitempty" yaml:"quality"`
}

// HasCapabilities reports whether the model offers every required capability
func (m ModelSpec) HasCapabilities(required []string) bool {
	for _, r := range required {
		if !m.HasCapability(r) {
			return false
		}
	}
	return true
}

// HasCapability reports whether the model is tagged with c
func (m ModelSpec) HasCapability(c string) bool {
	for _, have := range m.Capabilities {
		if have == c {
			return true
		}
	}
	return false
}

// RateLimitConfig bounds requests per time window; zero disables a window
type RateLimitConfig struct {
	RequestsPerMinute int `json:"requests_per_minute,omitempty" yaml:"requests_per_minute"`
	RequestsPerHour   int `json:"requests_per_hour,omitempty" yaml:"requests_per_hour"`
	RequestsPerDay    int `json:"requests_per_day,omitempty" yaml:"requests_per_day"`
}

// ProviderConfig is a catalog entry for one provider
type ProviderConfig struct {
	Name       string               `json:"name" yaml:"name"`
	Models     map[string]ModelSpec `json:"models" yaml:"models"`
	RateLimits RateLimitConfig      `json:"rate_limits" yaml:"rate_limits"`
	// Priority is a weight in [0, 10]; higher is preferred
	Priority float64 `json:"priority" yaml:"priority"`
	Disabled bool    `json:"disabled,omitempty" yaml:"disabled"`
}

// BudgetConfig holds spend ceilings in USD; zero means unlimited
type BudgetConfig struct {
	DailyLimit     float64 `json:"daily_limit" mapstructure:"daily_limit"`
	HourlyLimit    float64 `json:"hourly_limit" mapstructure:"hourly_limit"`
	UserDailyLimit float64 `json:"user_daily_limit" mapstructure:"user_daily_limit"`
	PerRequestMax  float64 `json:"per_request_max" mapstructure:"per_request_max"`
}

// ProviderSelection is the outcome of provider routing
type ProviderSelection struct {
	Provider      string  `json:"provider"`
	Model         string  `json:"model"`
	Score         float64 `json:"score"`
	CostPer1K     float64 `json:"cost_per_1k"`
	EstimatedCost float64 `json:"estimated_cost"`
}

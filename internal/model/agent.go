package model

import "time"

// AgentStatus represents the status of an agent instance
type AgentStatus string

const (
	AgentStatusIdle        AgentStatus = "idle"
	AgentStatusBusy        AgentStatus = "busy"
	AgentStatusError       AgentStatus = "error"
	AgentStatusMaintenance AgentStatus = "maintenance"
)

// AgentMetrics holds rolling performance figures for an agent
type AgentMetrics struct {
	TotalRequests      int64         `json:"total_requests"`
	SuccessfulRequests int64         `json:"successful_requests"`
	SuccessRate        float64       `json:"success_rate"`
	AvgResponseTime    time.Duration `json:"avg_response_time"`
	AvgCost            float64       `json:"avg_cost"`
	LastActivity       time.Time     `json:"last_activity"`
}

// AgentInstance is a worker bound to one provider, model and role
type AgentInstance struct {
	ID            string       `json:"id"`
	Type          string       `json:"type"`
	Provider      string       `json:"provider"`
	Model         string       `json:"model"`
	Status        AgentStatus  `json:"status"`
	CurrentLoad   int          `json:"current_load"`
	MaxConcurrent int          `json:"max_concurrent"`
	Capabilities  []string     `json:"capabilities,omitempty"`
	Metrics       AgentMetrics `json:"metrics"`
	CreatedAt     time.Time    `json:"created_at"`
}

// HasCapabilities reports whether the agent offers every required capability
func (a *AgentInstance) HasCapabilities(required []string) bool {
	if len(required) == 0 {
		return true
	}
	have := make(map[string]struct{}, len(a.Capabilities))
	for _, c := range a.Capabilities {
		have[c] = struct{}{}
	}
	for _, r := range required {
		if _, ok := have[r]; !ok {
			return false
		}
	}
	return true
}

// Clone returns a copy safe to hand out of the pool lock
func (a *AgentInstance) Clone() *AgentInstance {
	c := *a
	c.Capabilities = append([]string(nil), a.Capabilities...)
	return &c
}

// Package monitor receives per-request agent observations and publishes
// aggregated snapshots alongside host load.
package monitor

import "time"

// AgentRequest is one observed agent request
type AgentRequest struct {
	AgentID   string        `json:"agent_id"`
	AgentType string        `json:"agent_type"`
	Provider  string        `json:"provider"`
	Model     string        `json:"model"`
	Duration  time.Duration `json:"duration"`
	Cost      float64       `json:"cost"`
	Success   bool          `json:"success"`
	Quality   float64       `json:"quality,omitempty"`
}

// Sink receives agent request observations
type Sink interface {
	RecordAgentRequest(r AgentRequest)
}

// NopSink drops every observation
type NopSink struct{}

func (NopSink) RecordAgentRequest(AgentRequest) {}

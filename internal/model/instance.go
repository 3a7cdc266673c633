package model

import "time"

// InstanceStatus represents the liveness of a coordinator instance
type InstanceStatus string

const (
	InstanceStatusHealthy InstanceStatus = "healthy"
	InstanceStatusStale   InstanceStatus = "stale"
)

// Heartbeat is the liveness and load payload a coordinator instance publishes
type Heartbeat struct {
	InstanceID  string         `json:"instance_id"`
	Hostname    string         `json:"hostname,omitempty"`
	Status      InstanceStatus `json:"status"`
	Workers     int            `json:"workers"`
	InFlight    int            `json:"in_flight"`
	QueueDepth  int64          `json:"queue_depth"`
	Agents      int            `json:"agents"`
	CPUUsage    float64        `json:"cpu_usage"`
	MemoryUsage float64        `json:"memory_usage"`
	Timestamp   time.Time      `json:"timestamp"`
}

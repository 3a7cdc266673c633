package bus

import "fmt"

// Subjects published by the orchestration core

func TopicHeartbeat(instanceID string) string {
	return fmt.Sprintf("coordinator.heartbeat.%s", instanceID)
}

func TopicTask(status string) string {
	return fmt.Sprintf("task.%s", status)
}

func TopicWorkflow(status string) string {
	return fmt.Sprintf("workflow.%s", status)
}

func TopicSwarm(swarmID, event string) string {
	return fmt.Sprintf("swarm.%s.%s", swarmID, event)
}

const (
	TopicHeartbeatAll = "coordinator.heartbeat.*"
	TopicTaskAll      = "task.*"
	TopicWorkflowAll  = "workflow.*"
	TopicMetrics      = "metrics.agents"
)

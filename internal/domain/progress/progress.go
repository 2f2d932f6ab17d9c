package progress

import (
	"time"
)

// EventType names a lifecycle event pushed to clients
type EventType string

const (
	WorkflowStarted   EventType = "workflow_started"
	WorkflowCompleted EventType = "workflow_completed"
	WorkflowFailed    EventType = "workflow_failed"
	NodeStarted       EventType = "node_started"
	NodeCompleted     EventType = "node_completed"
	NodeFailed        EventType = "node_failed"
	AgentUpdate       EventType = "agent_update"
)

// Event is one message on the wire. There is no envelope and no batching.
type Event struct {
	Type        EventType              `json:"type"`
	WorkflowID  string                 `json:"workflowId,omitempty"`
	ExecutionID string                 `json:"executionId,omitempty"`
	NodeID      string                 `json:"nodeId,omitempty"`
	AgentID     string                 `json:"agentId,omitempty"`
	Data        map[string]interface{} `json:"data,omitempty"`
	Timestamp   time.Time              `json:"timestamp"`
}

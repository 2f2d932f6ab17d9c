package workflow

import (
	"time"
)

// ExecutionStatus is the lifecycle state of a WorkflowExecution record
type ExecutionStatus string

const (
	ExecutionRunning ExecutionStatus = "RUNNING"
	ExecutionSuccess ExecutionStatus = "SUCCESS"
	ExecutionFailed  ExecutionStatus = "FAILED"
)

// NodeStatus is the outcome of one node attempt
type NodeStatus string

const (
	NodeSuccess NodeStatus = "SUCCESS"
	NodeFailed  NodeStatus = "FAILED"
	NodeSkipped NodeStatus = "SKIPPED"
)

// ExecutionContext is the variable bag threaded through one run. It is owned
// by that run alone and only the scheduler writes to it.
type ExecutionContext struct {
	Variables    map[string]interface{} `json:"variables"`
	AgentOutputs map[string]interface{} `json:"agentOutputs"`
}

// NewExecutionContext seeds the variables with a copy of input.
func NewExecutionContext(input map[string]interface{}) *ExecutionContext {
	vars := make(map[string]interface{}, len(input))
	for k, v := range input {
		vars[k] = v
	}
	return &ExecutionContext{
		Variables:    vars,
		AgentOutputs: make(map[string]interface{}),
	}
}

// Snapshot returns a shallow copy of the variables.
func (c *ExecutionContext) Snapshot() map[string]interface{} {
	out := make(map[string]interface{}, len(c.Variables))
	for k, v := range c.Variables {
		out[k] = v
	}
	return out
}

type NodeExecutionResult struct {
	NodeID   string      `json:"nodeId"`
	NodeType string      `json:"nodeType,omitempty"`
	Status   NodeStatus  `json:"status"`
	Output   interface{} `json:"output"`
	Duration int64       `json:"duration"` // milliseconds
	Error    string      `json:"error,omitempty"`
}

// WorkflowExecution is the persisted record of one run. It is created RUNNING
// and finalized exactly once.
type WorkflowExecution struct {
	ID              string                 `json:"id" gorm:"primaryKey"`
	WorkflowID      string                 `json:"workflowId" gorm:"not null;index"`
	Status          ExecutionStatus        `json:"status" gorm:"not null;index"`
	Input           map[string]interface{} `json:"input" gorm:"serializer:json"`
	Output          *FinalOutput           `json:"output" gorm:"serializer:json"`
	Steps           []NodeExecutionResult  `json:"steps" gorm:"serializer:json"`
	ExecutionTimeMs int64                  `json:"executionTimeMs"`
	ErrorMessage    string                 `json:"errorMessage"`
	TriggeredBy     string                 `json:"triggeredBy"`
	StartedAt       time.Time              `json:"startedAt"`
	FinishedAt      *time.Time             `json:"finishedAt"`
	CreatedAt       time.Time              `json:"createdAt"`
	UpdatedAt       time.Time              `json:"updatedAt"`
}

// WorkflowExecutionUpdate carries the fields to change; nil means untouched.
type WorkflowExecutionUpdate struct {
	Status          *ExecutionStatus
	Output          *FinalOutput
	Steps           []NodeExecutionResult
	ExecutionTimeMs *int64
	ErrorMessage    *string
	FinishedAt      *time.Time
}

type Summary struct {
	TotalNodes      int   `json:"totalNodes"`
	SuccessfulNodes int   `json:"successfulNodes"`
	FailedNodes     int   `json:"failedNodes"`
	TotalDurationMs int64 `json:"totalDurationMs"`
}

type FinalOutput struct {
	Summary        Summary                `json:"summary"`
	NodeResults    []NodeExecutionResult  `json:"nodeResults"`
	FinalVariables map[string]interface{} `json:"finalVariables"`
	AgentOutputs   map[string]interface{} `json:"agentOutputs"`
}

// NewFinalOutput summarizes the results of a finished run.
func NewFinalOutput(results []NodeExecutionResult, execCtx *ExecutionContext) *FinalOutput {
	summary := Summary{TotalNodes: len(results)}
	for _, r := range results {
		switch r.Status {
		case NodeSuccess:
			summary.SuccessfulNodes++
		case NodeFailed:
			summary.FailedNodes++
		}
		summary.TotalDurationMs += r.Duration
	}

	return &FinalOutput{
		Summary:        summary,
		NodeResults:    results,
		FinalVariables: execCtx.Variables,
		AgentOutputs:   execCtx.AgentOutputs,
	}
}

// AnyFailed reports whether at least one result is FAILED.
func AnyFailed(results []NodeExecutionResult) bool {
	for _, r := range results {
		if r.Status == NodeFailed {
			return true
		}
	}
	return false
}

// RunResult is what callers of the engine receive.
type RunResult struct {
	ExecutionID string                `json:"executionId"`
	Success     bool                  `json:"success"`
	Results     []NodeExecutionResult `json:"results"`
	Output      *FinalOutput          `json:"output"`
}

// Run identifies one in-flight execution and carries its context.
type Run struct {
	WorkflowID  string
	ExecutionID string
	Context     *ExecutionContext
}

package agent

import (
	"time"
)

type Status string

const (
	StatusIdle Status = "IDLE"
	StatusBusy Status = "BUSY"
)

// Agent is a configured AI persona. Memory is durable across runs and only
// ever appended to.
type Agent struct {
	ID           string      `json:"id" gorm:"primaryKey"`
	OwnerUserID  string      `json:"ownerUserId" gorm:"not null;index"`
	Name         string      `json:"name" gorm:"not null"`
	Description  string      `json:"description"`
	Personality  Personality `json:"personality" gorm:"serializer:json"`
	Capabilities []string    `json:"capabilities" gorm:"serializer:json"`
	ModelConfig  ModelConfig `json:"modelConfig" gorm:"serializer:json"`
	Memory       Memory      `json:"memory" gorm:"serializer:json"`
	Status       Status      `json:"status" gorm:"default:'IDLE'"`
	CreatedAt    time.Time   `json:"createdAt"`
	UpdatedAt    time.Time   `json:"updatedAt"`
}

type Personality struct {
	Traits             []string `json:"traits"`
	CommunicationStyle string   `json:"communicationStyle"`
	Expertise          []string `json:"expertise"`
}

type ModelConfig struct {
	Provider   string                 `json:"provider"`
	Model      string                 `json:"model"`
	Parameters map[string]interface{} `json:"parameters"`
}

type Memory struct {
	ConversationHistory []ConversationEntry `json:"conversationHistory"`
}

type ConversationEntry struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Recent returns at most the last n conversation entries.
func (m Memory) Recent(n int) []ConversationEntry {
	history := m.ConversationHistory
	if n <= 0 || len(history) == 0 {
		return nil
	}
	if len(history) > n {
		history = history[len(history)-n:]
	}
	return history
}

// Update carries the fields to change; nil means untouched.
type Update struct {
	Status *Status
	Memory *Memory
}

type ExecutionStatus string

const (
	ExecutionRunning ExecutionStatus = "RUNNING"
	ExecutionSuccess ExecutionStatus = "SUCCESS"
	ExecutionFailed  ExecutionStatus = "FAILED"
)

// Execution records one AI node invocation.
type Execution struct {
	ID                  string                 `json:"id" gorm:"primaryKey"`
	AgentID             string                 `json:"agentId" gorm:"not null;index"`
	WorkflowExecutionID string                 `json:"workflowExecutionId" gorm:"index"`
	Status              ExecutionStatus        `json:"status"`
	Task                string                 `json:"task"`
	Input               map[string]interface{} `json:"input" gorm:"serializer:json"`
	Output              map[string]interface{} `json:"output" gorm:"serializer:json"`
	ExecutionTimeMs     int64                  `json:"executionTimeMs"`
	ErrorMessage        string                 `json:"errorMessage"`
	CreatedAt           time.Time              `json:"createdAt"`
	UpdatedAt           time.Time              `json:"updatedAt"`
}

func (Execution) TableName() string {
	return "agent_executions"
}

type ExecutionUpdate struct {
	Status          *ExecutionStatus
	Output          map[string]interface{}
	ExecutionTimeMs *int64
	ErrorMessage    *string
}

package workflow

import (
	"errors"
	"time"
)

var (
	ErrUnknownNodeType = errors.New("unknown node type")
	ErrInvalidNodeData = errors.New("invalid node data")
)

// Workflow is the immutable graph definition handed to the engine. The engine
// only reads it.
type Workflow struct {
	ID          string    `json:"id" gorm:"primaryKey"`
	Name        string    `json:"name" gorm:"not null"`
	Description string    `json:"description"`
	UserID      string    `json:"userId" gorm:"not null;index"`
	Nodes       []Node    `json:"nodes" gorm:"serializer:json"`
	Edges       []Edge    `json:"edges" gorm:"serializer:json"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

type Node struct {
	ID   string                 `json:"id"`
	Type string                 `json:"type"`
	Data map[string]interface{} `json:"data"`
}

// Edge means Target depends on Source.
type Edge struct {
	Source string `json:"source"`
	Target string `json:"target"`
}

// Node types
const (
	NodeTypeTrigger   = "trigger"
	NodeTypeAI        = "ai"
	NodeTypeAction    = "action"
	NodeTypeCondition = "condition"
	NodeTypeAPI       = "api"
)

// Disabled reports whether the node was switched off in the editor.
func (n Node) Disabled() bool {
	disabled, _ := n.Data["disabled"].(bool)
	return disabled
}

package ports

import (
	"context"
	"errors"

	"github.com/agentflow-go/internal/domain/agent"
	"github.com/agentflow-go/internal/domain/workflow"
)

var ErrNotFound = errors.New("record not found")

// ExecutionRepository is the record store the engine reads workflows and
// agents from and writes execution records to. Calls are not cached.
type ExecutionRepository interface {
	GetWorkflow(ctx context.Context, id string) (*workflow.Workflow, error)
	CreateWorkflowExecution(ctx context.Context, execution *workflow.WorkflowExecution) error
	UpdateWorkflowExecution(ctx context.Context, id string, update workflow.WorkflowExecutionUpdate) error
	GetWorkflowExecution(ctx context.Context, id string) (*workflow.WorkflowExecution, error)

	GetAgent(ctx context.Context, id string) (*agent.Agent, error)
	UpdateAgent(ctx context.Context, id string, update agent.Update) error
	CreateAgentExecution(ctx context.Context, execution *agent.Execution) error
	UpdateAgentExecution(ctx context.Context, id string, update agent.ExecutionUpdate) error
}

package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/agentflow-go/internal/domain/agent"
	"github.com/agentflow-go/internal/domain/workflow"
	"github.com/agentflow-go/internal/execution/ports"
	"github.com/agentflow-go/pkg/database"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ExecutionRepository is the gorm-backed record store.
type ExecutionRepository struct {
	db *database.DB
}

var _ ports.ExecutionRepository = (*ExecutionRepository)(nil)

func NewExecutionRepository(db *database.DB) *ExecutionRepository {
	return &ExecutionRepository{db: db}
}

// Models lists every table this repository owns, for AutoMigrate.
func Models() []interface{} {
	return []interface{}{
		&workflow.Workflow{},
		&workflow.WorkflowExecution{},
		&agent.Agent{},
		&agent.Execution{},
	}
}

func (r *ExecutionRepository) Migrate() error {
	return r.db.Migrate(Models()...)
}

func (r *ExecutionRepository) CreateWorkflow(ctx context.Context, wf *workflow.Workflow) error {
	if wf.ID == "" {
		wf.ID = uuid.New().String()
	}
	return r.db.WithContext(ctx).Create(wf).Error
}

func (r *ExecutionRepository) GetWorkflow(ctx context.Context, id string) (*workflow.Workflow, error) {
	var wf workflow.Workflow
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&wf).Error; err != nil {
		return nil, notFound("workflow", id, err)
	}
	return &wf, nil
}

func (r *ExecutionRepository) CreateWorkflowExecution(ctx context.Context, execution *workflow.WorkflowExecution) error {
	if execution.ID == "" {
		execution.ID = uuid.New().String()
	}
	if execution.StartedAt.IsZero() {
		execution.StartedAt = time.Now().UTC()
	}
	return r.db.WithContext(ctx).Create(execution).Error
}

func (r *ExecutionRepository) UpdateWorkflowExecution(ctx context.Context, id string, update workflow.WorkflowExecutionUpdate) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var execution workflow.WorkflowExecution
		if err := tx.Where("id = ?", id).First(&execution).Error; err != nil {
			return notFound("workflow execution", id, err)
		}

		if update.Status != nil {
			execution.Status = *update.Status
		}
		if update.Output != nil {
			execution.Output = update.Output
		}
		if update.Steps != nil {
			execution.Steps = update.Steps
		}
		if update.ExecutionTimeMs != nil {
			execution.ExecutionTimeMs = *update.ExecutionTimeMs
		}
		if update.ErrorMessage != nil {
			execution.ErrorMessage = *update.ErrorMessage
		}
		if update.FinishedAt != nil {
			execution.FinishedAt = update.FinishedAt
		}

		return tx.Save(&execution).Error
	})
}

func (r *ExecutionRepository) GetWorkflowExecution(ctx context.Context, id string) (*workflow.WorkflowExecution, error) {
	var execution workflow.WorkflowExecution
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&execution).Error; err != nil {
		return nil, notFound("workflow execution", id, err)
	}
	return &execution, nil
}

func (r *ExecutionRepository) CreateAgent(ctx context.Context, a *agent.Agent) error {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	if a.Status == "" {
		a.Status = agent.StatusIdle
	}
	return r.db.WithContext(ctx).Create(a).Error
}

func (r *ExecutionRepository) GetAgent(ctx context.Context, id string) (*agent.Agent, error) {
	var a agent.Agent
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&a).Error; err != nil {
		return nil, notFound("agent", id, err)
	}
	return &a, nil
}

func (r *ExecutionRepository) UpdateAgent(ctx context.Context, id string, update agent.Update) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var a agent.Agent
		if err := tx.Where("id = ?", id).First(&a).Error; err != nil {
			return notFound("agent", id, err)
		}

		if update.Status != nil {
			a.Status = *update.Status
		}
		if update.Memory != nil {
			a.Memory = *update.Memory
		}

		return tx.Save(&a).Error
	})
}

func (r *ExecutionRepository) CreateAgentExecution(ctx context.Context, execution *agent.Execution) error {
	if execution.ID == "" {
		execution.ID = uuid.New().String()
	}
	return r.db.WithContext(ctx).Create(execution).Error
}

func (r *ExecutionRepository) UpdateAgentExecution(ctx context.Context, id string, update agent.ExecutionUpdate) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var execution agent.Execution
		if err := tx.Where("id = ?", id).First(&execution).Error; err != nil {
			return notFound("agent execution", id, err)
		}

		if update.Status != nil {
			execution.Status = *update.Status
		}
		if update.Output != nil {
			execution.Output = update.Output
		}
		if update.ExecutionTimeMs != nil {
			execution.ExecutionTimeMs = *update.ExecutionTimeMs
		}
		if update.ErrorMessage != nil {
			execution.ErrorMessage = *update.ErrorMessage
		}

		return tx.Save(&execution).Error
	})
}

func (r *ExecutionRepository) ListAgentExecutions(ctx context.Context, workflowExecutionID string) ([]*agent.Execution, error) {
	var executions []*agent.Execution
	err := r.db.WithContext(ctx).
		Where("workflow_execution_id = ?", workflowExecutionID).
		Order("created_at ASC").
		Find(&executions).Error
	return executions, err
}

func notFound(kind, id string, err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%s %s: %w", kind, id, ports.ErrNotFound)
	}
	return fmt.Errorf("failed to load %s %s: %w", kind, id, err)
}

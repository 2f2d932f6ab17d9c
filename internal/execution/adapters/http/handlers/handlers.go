package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/agentflow-go/internal/domain/workflow"
	"github.com/agentflow-go/internal/execution/ports"
	"github.com/agentflow-go/pkg/logger"
	"github.com/gin-gonic/gin"
)

type WorkflowRunner interface {
	ExecuteWorkflow(ctx context.Context, workflowID string, input map[string]interface{}, triggeredBy string) (*workflow.RunResult, error)
	GetExecution(ctx context.Context, id string) (*workflow.WorkflowExecution, error)
}

type Pinger interface {
	Ping(ctx context.Context) error
}

type ExecutionHandlers struct {
	engine WorkflowRunner
	db     Pinger
	logger logger.Logger
}

func NewExecutionHandlers(engine WorkflowRunner, db Pinger, logger logger.Logger) *ExecutionHandlers {
	return &ExecutionHandlers{
		engine: engine,
		db:     db,
		logger: logger,
	}
}

type ExecuteRequest struct {
	Input map[string]interface{} `json:"input"`
}

func (h *ExecutionHandlers) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}

func (h *ExecutionHandlers) Ready(c *gin.Context) {
	if h.db != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := h.db.Ping(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not ready", "error": err.Error()})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

// ExecuteWorkflow runs the workflow synchronously and returns the run result.
// Node failures still answer 200 with success=false.
func (h *ExecutionHandlers) ExecuteWorkflow(c *gin.Context) {
	workflowID := c.Param("id")

	var req ExecuteRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	triggeredBy := c.GetHeader("X-User-ID")
	if triggeredBy == "" {
		triggeredBy = "api"
	}

	result, err := h.engine.ExecuteWorkflow(c.Request.Context(), workflowID, req.Input, triggeredBy)
	if err != nil {
		if errors.Is(err, ports.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		h.logger.Error("Failed to execute workflow", "workflowId", workflowID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, result)
}

func (h *ExecutionHandlers) GetExecution(c *gin.Context) {
	id := c.Param("id")

	execution, err := h.engine.GetExecution(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, ports.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "execution not found"})
			return
		}
		h.logger.Error("Failed to load execution", "executionId", id, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load execution"})
		return
	}

	c.JSON(http.StatusOK, execution)
}

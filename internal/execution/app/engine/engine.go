// Package engine is the run entry point: it owns the execution record and
// the workflow-level lifecycle events around one scheduler pass.
package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/agentflow-go/internal/domain/progress"
	"github.com/agentflow-go/internal/domain/workflow"
	"github.com/agentflow-go/internal/execution/ports"
	"github.com/agentflow-go/pkg/logger"
	"github.com/agentflow-go/pkg/metrics"
	"github.com/agentflow-go/pkg/telemetry"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

type Runner interface {
	Run(ctx context.Context, wf *workflow.Workflow, run workflow.Run) []workflow.NodeExecutionResult
}

type Events interface {
	WorkflowEvent(ctx context.Context, event progress.Event)
}

type Engine struct {
	repository ports.ExecutionRepository
	runner     Runner
	events     Events
	tracer     trace.Tracer
	logger     logger.Logger
}

func New(repo ports.ExecutionRepository, runner Runner, events Events, tracer trace.Tracer, log logger.Logger) *Engine {
	return &Engine{
		repository: repo,
		runner:     runner,
		events:     events,
		tracer:     tracer,
		logger:     log,
	}
}

// ExecuteWorkflow runs every node of the workflow once. Node failures are
// reported in the result; only run-level failures (record creation, workflow
// lookup) are returned as errors.
func (e *Engine) ExecuteWorkflow(ctx context.Context, workflowID string, input map[string]interface{}, triggeredBy string) (*workflow.RunResult, error) {
	if input == nil {
		input = map[string]interface{}{}
	}
	if triggeredBy == "" {
		triggeredBy = "manual"
	}

	ctx, span := e.tracer.Start(ctx, "workflow.execute", trace.WithAttributes(
		telemetry.WorkflowIDAttribute(workflowID),
	))
	defer span.End()

	start := time.Now()
	execution := &workflow.WorkflowExecution{
		ID:          uuid.New().String(),
		WorkflowID:  workflowID,
		Status:      workflow.ExecutionRunning,
		Input:       input,
		TriggeredBy: triggeredBy,
		StartedAt:   start.UTC(),
	}
	if err := e.repository.CreateWorkflowExecution(ctx, execution); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to create execution record: %w", err)
	}
	span.SetAttributes(telemetry.ExecutionIDAttribute(execution.ID))

	log := e.logger.With("workflowId", workflowID, "executionId", execution.ID)

	wf, err := e.repository.GetWorkflow(ctx, workflowID)
	if err != nil {
		err = fmt.Errorf("failed to load workflow %s: %w", workflowID, err)
		e.fail(ctx, execution, start, err, log)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		metrics.RecordWorkflowExecution(string(workflow.ExecutionFailed), triggeredBy, time.Since(start).Seconds())
		return nil, err
	}

	log.Info("Starting workflow execution", "nodes", len(wf.Nodes), "triggeredBy", triggeredBy)
	e.emit(ctx, progress.WorkflowStarted, execution, map[string]interface{}{
		"workflowName": wf.Name,
		"totalNodes":   len(wf.Nodes),
	})

	run := workflow.Run{
		WorkflowID:  workflowID,
		ExecutionID: execution.ID,
		Context:     workflow.NewExecutionContext(input),
	}
	results := e.runner.Run(ctx, wf, run)

	output := workflow.NewFinalOutput(results, run.Context)
	success := !workflow.AnyFailed(results)
	status := workflow.ExecutionSuccess
	if !success {
		status = workflow.ExecutionFailed
		span.SetStatus(codes.Error, "one or more nodes failed")
	}

	elapsed := time.Since(start)
	elapsedMs := elapsed.Milliseconds()
	finished := time.Now().UTC()
	if err := e.repository.UpdateWorkflowExecution(ctx, execution.ID, workflow.WorkflowExecutionUpdate{
		Status:          &status,
		Output:          output,
		Steps:           results,
		ExecutionTimeMs: &elapsedMs,
		FinishedAt:      &finished,
	}); err != nil {
		log.Error("Failed to finalize execution record", "error", err)
		e.finalizeStatus(ctx, execution.ID, status, fmt.Sprintf("failed to store run output: %v", err), elapsedMs, finished, log)
	}

	metrics.RecordWorkflowExecution(string(status), triggeredBy, elapsed.Seconds())
	e.emit(ctx, progress.WorkflowCompleted, execution, map[string]interface{}{
		"status":  status,
		"success": success,
		"summary": output.Summary,
	})
	log.Info("Workflow execution finished",
		"status", status,
		"failedNodes", output.Summary.FailedNodes,
		"duration", elapsed,
	)

	return &workflow.RunResult{
		ExecutionID: execution.ID,
		Success:     success,
		Results:     results,
		Output:      output,
	}, nil
}

func (e *Engine) fail(ctx context.Context, execution *workflow.WorkflowExecution, start time.Time, cause error, log logger.Logger) {
	status := workflow.ExecutionFailed
	message := cause.Error()
	elapsedMs := time.Since(start).Milliseconds()
	finished := time.Now().UTC()

	if err := e.repository.UpdateWorkflowExecution(ctx, execution.ID, workflow.WorkflowExecutionUpdate{
		Status:          &status,
		ErrorMessage:    &message,
		ExecutionTimeMs: &elapsedMs,
		FinishedAt:      &finished,
	}); err != nil {
		log.Error("Failed to finalize execution record", "error", err)
	}

	log.Error("Workflow execution failed", "error", cause)
	e.emit(ctx, progress.WorkflowFailed, execution, map[string]interface{}{"error": message})
}

// finalizeStatus closes the record without output or steps, so a payload the
// store rejects never leaves it RUNNING.
func (e *Engine) finalizeStatus(ctx context.Context, id string, status workflow.ExecutionStatus, message string, elapsedMs int64, finished time.Time, log logger.Logger) {
	if err := e.repository.UpdateWorkflowExecution(ctx, id, workflow.WorkflowExecutionUpdate{
		Status:          &status,
		ErrorMessage:    &message,
		ExecutionTimeMs: &elapsedMs,
		FinishedAt:      &finished,
	}); err != nil {
		log.Error("Failed to close execution record", "error", err)
	}
}

func (e *Engine) emit(ctx context.Context, eventType progress.EventType, execution *workflow.WorkflowExecution, data map[string]interface{}) {
	if e.events == nil {
		return
	}
	e.events.WorkflowEvent(ctx, progress.Event{
		Type:        eventType,
		WorkflowID:  execution.WorkflowID,
		ExecutionID: execution.ID,
		Data:        data,
		Timestamp:   time.Now().UTC(),
	})
}

// GetExecution returns a stored execution record.
func (e *Engine) GetExecution(ctx context.Context, id string) (*workflow.WorkflowExecution, error) {
	return e.repository.GetWorkflowExecution(ctx, id)
}

package scheduler

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/agentflow-go/internal/domain/progress"
	"github.com/agentflow-go/internal/domain/workflow"
	"github.com/agentflow-go/pkg/logger"
	"github.com/agentflow-go/pkg/metrics"
	"github.com/agentflow-go/pkg/telemetry"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

type NodeDispatcher interface {
	Dispatch(ctx context.Context, node workflow.Node, run workflow.Run) (map[string]interface{}, error)
}

type Events interface {
	WorkflowEvent(ctx context.Context, event progress.Event)
}

// Scheduler runs a workflow's nodes one at a time in dependency order.
type Scheduler struct {
	dispatcher NodeDispatcher
	events     Events
	tracer     trace.Tracer
	logger     logger.Logger
}

func New(dispatcher NodeDispatcher, events Events, tracer trace.Tracer, log logger.Logger) *Scheduler {
	return &Scheduler{
		dispatcher: dispatcher,
		events:     events,
		tracer:     tracer,
		logger:     log,
	}
}

// Run attempts every node and returns one result per node in execution
// order. A failed node does not stop the run; its id stays absent from the
// context.
func (s *Scheduler) Run(ctx context.Context, wf *workflow.Workflow, run workflow.Run) []workflow.NodeExecutionResult {
	order, fallback := TopologicalOrder(wf)
	if fallback {
		metrics.SchedulerFallbackTotal.Inc()
		s.logger.Warn("Workflow graph is not a DAG, running nodes in declared order",
			"workflowId", wf.ID,
			"executionId", run.ExecutionID,
		)
	}

	results := make([]workflow.NodeExecutionResult, 0, len(order))
	for _, node := range order {
		results = append(results, s.runNode(ctx, node, run))
	}
	return results
}

func (s *Scheduler) runNode(ctx context.Context, node workflow.Node, run workflow.Run) workflow.NodeExecutionResult {
	log := s.logger.With("executionId", run.ExecutionID, "nodeId", node.ID, "nodeType", node.Type)

	if node.Disabled() {
		log.Debug("Skipping disabled node")
		metrics.RecordNodeExecution(node.Type, string(workflow.NodeSkipped), 0)
		s.emit(ctx, progress.NodeCompleted, node, run, map[string]interface{}{"status": workflow.NodeSkipped})
		return workflow.NodeExecutionResult{NodeID: node.ID, NodeType: node.Type, Status: workflow.NodeSkipped}
	}

	ctx, span := s.tracer.Start(ctx, "node."+node.Type, trace.WithAttributes(
		telemetry.ExecutionIDAttribute(run.ExecutionID),
		telemetry.NodeIDAttribute(node.ID),
		telemetry.NodeTypeAttribute(node.Type),
	))
	defer span.End()

	s.emit(ctx, progress.NodeStarted, node, run, map[string]interface{}{"nodeType": node.Type})

	start := time.Now()
	output, err := s.dispatch(ctx, node, run)
	elapsed := time.Since(start)
	result := workflow.NodeExecutionResult{
		NodeID:   node.ID,
		NodeType: node.Type,
		Duration: elapsed.Milliseconds(),
	}

	if err != nil {
		result.Status = workflow.NodeFailed
		result.Error = err.Error()

		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		log.Error("Node failed", "error", err, "duration", elapsed)
		metrics.RecordNodeExecution(node.Type, string(workflow.NodeFailed), elapsed.Seconds())
		s.emit(ctx, progress.NodeFailed, node, run, map[string]interface{}{
			"error":    result.Error,
			"duration": result.Duration,
		})
		return result
	}

	result.Status = workflow.NodeSuccess
	result.Output = output
	run.Context.Variables[node.ID] = output
	if node.Type == workflow.NodeTypeAI {
		run.Context.AgentOutputs[node.ID] = output
	}

	log.Debug("Node completed", "duration", elapsed)
	metrics.RecordNodeExecution(node.Type, string(workflow.NodeSuccess), elapsed.Seconds())
	s.emit(ctx, progress.NodeCompleted, node, run, map[string]interface{}{
		"output":   output,
		"duration": result.Duration,
	})
	return result
}

// dispatch turns a panic inside a node into an error.
func (s *Scheduler) dispatch(ctx context.Context, node workflow.Node, run workflow.Run) (output map[string]interface{}, err error) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Node panicked", "nodeId", node.ID, "panic", r, "stack", string(debug.Stack()))
			output = nil
			err = fmt.Errorf("node panicked: %v", r)
		}
	}()
	return s.dispatcher.Dispatch(ctx, node, run)
}

func (s *Scheduler) emit(ctx context.Context, eventType progress.EventType, node workflow.Node, run workflow.Run, data map[string]interface{}) {
	if s.events == nil {
		return
	}
	s.events.WorkflowEvent(ctx, progress.Event{
		Type:        eventType,
		WorkflowID:  run.WorkflowID,
		ExecutionID: run.ExecutionID,
		NodeID:      node.ID,
		Data:        data,
		Timestamp:   time.Now().UTC(),
	})
}

// Package reporter routes lifecycle events to the owner of the workflow or
// agent they concern.
package reporter

import (
	"context"
	"time"

	"github.com/agentflow-go/internal/domain/agent"
	"github.com/agentflow-go/internal/domain/progress"
	"github.com/agentflow-go/internal/domain/workflow"
	"github.com/agentflow-go/pkg/logger"
	"github.com/agentflow-go/pkg/metrics"
)

type OwnerStore interface {
	GetWorkflow(ctx context.Context, id string) (*workflow.Workflow, error)
	GetAgent(ctx context.Context, id string) (*agent.Agent, error)
}

type Notifier interface {
	Notify(ctx context.Context, ownerID string, event progress.Event) int
}

// Reporter looks the owner up at every event. Events whose owner cannot be
// resolved are dropped.
type Reporter struct {
	store    OwnerStore
	notifier Notifier
	logger   logger.Logger
}

func New(store OwnerStore, notifier Notifier, log logger.Logger) *Reporter {
	return &Reporter{store: store, notifier: notifier, logger: log}
}

func (r *Reporter) WorkflowEvent(ctx context.Context, event progress.Event) {
	wf, err := r.store.GetWorkflow(ctx, event.WorkflowID)
	if err != nil || wf.UserID == "" {
		r.drop(event, err)
		return
	}
	r.send(ctx, wf.UserID, event)
}

func (r *Reporter) AgentEvent(ctx context.Context, agentID string, data map[string]interface{}) {
	event := progress.Event{Type: progress.AgentUpdate, AgentID: agentID, Data: data}

	a, err := r.store.GetAgent(ctx, agentID)
	if err != nil || a.OwnerUserID == "" {
		r.drop(event, err)
		return
	}
	r.send(ctx, a.OwnerUserID, event)
}

func (r *Reporter) send(ctx context.Context, ownerID string, event progress.Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	r.notifier.Notify(ctx, ownerID, event)
}

func (r *Reporter) drop(event progress.Event, err error) {
	metrics.RecordNotifierEvent(string(event.Type), "owner_unresolved")
	r.logger.Debug("Dropping event without owner",
		"type", event.Type,
		"workflowId", event.WorkflowID,
		"agentId", event.AgentID,
		"error", err,
	)
}

package dispatcher

import (
	"context"
	"fmt"
	"time"

	"github.com/agentflow-go/internal/agent/app/invoker"
	"github.com/agentflow-go/internal/domain/agent"
	"github.com/agentflow-go/internal/domain/workflow"
	"github.com/agentflow-go/internal/execution/app/expression"
	"github.com/agentflow-go/pkg/logger"
)

type AgentLoader interface {
	GetAgent(ctx context.Context, id string) (*agent.Agent, error)
}

type AgentRunner interface {
	Invoke(ctx context.Context, a *agent.Agent, spec workflow.AISpec, run workflow.Run) (*invoker.Output, error)
}

// Dispatcher executes a single node by kind.
type Dispatcher struct {
	agents  AgentLoader
	invoker AgentRunner
	logger  logger.Logger
	now     func() time.Time
}

func New(agents AgentLoader, runner AgentRunner, log logger.Logger) *Dispatcher {
	return &Dispatcher{
		agents:  agents,
		invoker: runner,
		logger:  log,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Dispatch returns the node's output. It reads the run context but never
// writes to it.
func (d *Dispatcher) Dispatch(ctx context.Context, node workflow.Node, run workflow.Run) (map[string]interface{}, error) {
	spec, err := node.Spec()
	if err != nil {
		return nil, err
	}

	switch s := spec.(type) {
	case workflow.TriggerSpec:
		return d.trigger(run), nil
	case workflow.AISpec:
		return d.ai(ctx, node, s, run)
	case workflow.ActionSpec:
		return d.action(s), nil
	case workflow.ConditionSpec:
		return d.condition(s, run), nil
	case workflow.APISpec:
		return d.api(s), nil
	default:
		return nil, fmt.Errorf("%w: %s", workflow.ErrUnknownNodeType, spec.Kind())
	}
}

func (d *Dispatcher) trigger(run workflow.Run) map[string]interface{} {
	out := run.Context.Snapshot()
	out["timestamp"] = d.now().Format(time.RFC3339Nano)
	return out
}

func (d *Dispatcher) ai(ctx context.Context, node workflow.Node, spec workflow.AISpec, run workflow.Run) (map[string]interface{}, error) {
	if spec.AgentID == "" {
		d.logger.Debug("AI node has no agent, simulating", "nodeId", node.ID)
		return map[string]interface{}{
			"simulated": true,
			"content":   fmt.Sprintf("Simulated response for node %s", node.ID),
			"prompt":    spec.Prompt,
		}, nil
	}

	a, err := d.agents.GetAgent(ctx, spec.AgentID)
	if err != nil {
		return nil, fmt.Errorf("failed to load agent %s: %w", spec.AgentID, err)
	}

	out, err := d.invoker.Invoke(ctx, a, spec, run)
	if err != nil {
		return nil, err
	}
	return out.Map(), nil
}

func (d *Dispatcher) action(spec workflow.ActionSpec) map[string]interface{} {
	return map[string]interface{}{
		"action":    spec.Action,
		"params":    spec.Params,
		"executed":  true,
		"timestamp": d.now().Format(time.RFC3339Nano),
	}
}

func (d *Dispatcher) condition(spec workflow.ConditionSpec, run workflow.Run) map[string]interface{} {
	result := expression.Evaluate(spec.Condition, run.Context.Variables)
	branch := "false"
	if result {
		branch = "true"
	}
	return map[string]interface{}{
		"condition":   spec.Condition,
		"result":      result,
		"branchTaken": branch,
	}
}

func (d *Dispatcher) api(spec workflow.APISpec) map[string]interface{} {
	return map[string]interface{}{
		"method":    spec.Method,
		"url":       spec.URL,
		"executed":  true,
		"timestamp": d.now().Format(time.RFC3339Nano),
	}
}

package invoker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/agentflow-go/internal/agent/adapters/providers"
	"github.com/agentflow-go/internal/domain/agent"
	"github.com/agentflow-go/internal/domain/tool"
	"github.com/agentflow-go/internal/domain/workflow"
	"github.com/agentflow-go/pkg/logger"
	"github.com/agentflow-go/pkg/metrics"
	"github.com/goccy/go-json"
)

const DefaultMemoryWindow = 5

var ErrToolNotAvailable = errors.New("tool not available to this agent")

// AgentStore is the slice of the record store the invoker writes to.
type AgentStore interface {
	AgentReadWriter
	CreateAgentExecution(ctx context.Context, execution *agent.Execution) error
	UpdateAgentExecution(ctx context.Context, id string, update agent.ExecutionUpdate) error
}

type ProviderResolver interface {
	Get(name string) (providers.ChatProvider, error)
}

type Tools interface {
	ForCapabilities(capabilities []string) []tool.Definition
	ExecuteAll(ctx context.Context, calls []tool.Call) []tool.Result
}

// AgentEvents receives agent status changes.
type AgentEvents interface {
	AgentEvent(ctx context.Context, agentID string, data map[string]interface{})
}

type Output struct {
	Provider  string          `json:"provider"`
	Model     string          `json:"model"`
	Content   string          `json:"content"`
	Usage     providers.Usage `json:"usage"`
	ToolCalls []tool.Result   `json:"toolCalls,omitempty"`
}

// Map is the output as stored in the execution context.
func (o *Output) Map() map[string]interface{} {
	out := map[string]interface{}{
		"provider": o.Provider,
		"model":    o.Model,
		"content":  o.Content,
		"usage": map[string]interface{}{
			"promptTokens":     o.Usage.PromptTokens,
			"completionTokens": o.Usage.CompletionTokens,
			"totalTokens":      o.Usage.TotalTokens,
		},
	}
	if len(o.ToolCalls) > 0 {
		calls := make([]interface{}, 0, len(o.ToolCalls))
		for _, r := range o.ToolCalls {
			call := map[string]interface{}{"name": r.Name, "result": r.Result}
			if r.Error != "" {
				call["error"] = r.Error
			}
			calls = append(calls, call)
		}
		out["toolCalls"] = calls
	}
	return out
}

// Invoker runs one AI node against an agent: prompt, completion, at most one
// tool round-trip, memory append.
type Invoker struct {
	store        AgentStore
	providers    ProviderResolver
	tools        Tools
	memory       *MemoryLog
	events       AgentEvents
	logger       logger.Logger
	memoryWindow int
}

func New(store AgentStore, resolver ProviderResolver, tools Tools, events AgentEvents, log logger.Logger, memoryWindow int) *Invoker {
	if memoryWindow <= 0 {
		memoryWindow = DefaultMemoryWindow
	}
	return &Invoker{
		store:        store,
		providers:    resolver,
		tools:        tools,
		memory:       NewMemoryLog(store),
		events:       events,
		logger:       log,
		memoryWindow: memoryWindow,
	}
}

func (i *Invoker) Invoke(ctx context.Context, a *agent.Agent, spec workflow.AISpec, run workflow.Run) (out *Output, err error) {
	start := time.Now()
	log := i.logger.With("agentId", a.ID, "executionId", run.ExecutionID)

	i.setStatus(ctx, a.ID, agent.StatusBusy, log)
	defer i.setStatus(ctx, a.ID, agent.StatusIdle, log)

	vars := run.Context.Snapshot()
	prompt := ResolveTemplate(spec.Prompt, vars)

	record := &agent.Execution{
		AgentID:             a.ID,
		WorkflowExecutionID: run.ExecutionID,
		Status:              agent.ExecutionRunning,
		Task:                prompt,
		Input:               map[string]interface{}{"prompt": prompt, "variables": vars},
	}
	if cerr := i.store.CreateAgentExecution(ctx, record); cerr != nil {
		log.Warn("Failed to record agent execution", "error", cerr)
		record = nil
	}

	defer func() {
		status := "success"
		switch {
		case err == nil:
		case isConfigError(err):
			status = "config_error"
		default:
			status = "provider_error"
		}
		metrics.RecordAgentInvocation(a.ModelConfig.Provider, status)
		i.finishRecord(ctx, record, out, err, time.Since(start), log)
	}()

	provider, err := i.providers.Get(a.ModelConfig.Provider)
	if err != nil {
		return nil, err
	}

	req := providers.CompletionRequest{
		Model:    a.ModelConfig.Model,
		System:   BuildSystemPrompt(a),
		Messages: []providers.Message{{Role: providers.RoleUser, Content: BuildUserPrompt(prompt, a.Memory.Recent(i.memoryWindow), vars)}},
		Tools:    i.tools.ForCapabilities(a.Capabilities),
	}
	applyParameters(&req, a.ModelConfig.Parameters)

	resp, err := provider.Complete(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("completion failed: %w", err)
	}

	out = &Output{
		Provider: provider.Name(),
		Model:    resp.Model,
		Content:  resp.Text,
		Usage:    resp.Usage,
	}
	if out.Model == "" {
		out.Model = a.ModelConfig.Model
	}

	if len(resp.ToolCalls) > 0 {
		log.Debug("Running tool round-trip", "toolCalls", len(resp.ToolCalls))
		results := i.runTools(ctx, req.Tools, resp.ToolCalls, log)

		req.Messages = append(req.Messages, providers.Message{
			Role:      providers.RoleAssistant,
			Content:   resp.Text,
			ToolCalls: resp.ToolCalls,
		})
		for _, r := range results {
			req.Messages = append(req.Messages, providers.Message{
				Role:       providers.RoleTool,
				ToolCallID: r.CallID,
				Name:       r.Name,
				Content:    encodeToolResult(r),
			})
		}
		req.DisableTools = true

		followUp, ferr := provider.Complete(ctx, req)
		if ferr != nil {
			return nil, fmt.Errorf("follow-up completion failed: %w", ferr)
		}
		out.Content = followUp.Text
		out.Usage = out.Usage.Add(followUp.Usage)
		out.ToolCalls = results
	}

	now := time.Now().UTC()
	if merr := i.memory.Append(ctx, a.ID,
		agent.ConversationEntry{Role: "user", Content: prompt, Timestamp: now},
		agent.ConversationEntry{Role: "assistant", Content: out.Content, Timestamp: now},
	); merr != nil {
		return nil, merr
	}

	return out, nil
}

// runTools executes the calls naming an offered tool. Any other call gets an
// error result in its slot so the follow-up still answers every call id.
func (i *Invoker) runTools(ctx context.Context, offered []tool.Definition, calls []tool.Call, log logger.Logger) []tool.Result {
	allowed := make(map[string]struct{}, len(offered))
	for _, d := range offered {
		allowed[d.Name] = struct{}{}
	}

	results := make([]tool.Result, len(calls))
	permitted := make([]tool.Call, 0, len(calls))
	slots := make([]int, 0, len(calls))
	for idx, call := range calls {
		if _, ok := allowed[call.Name]; !ok {
			log.Warn("Model requested a tool outside the agent's capabilities", "tool", call.Name)
			results[idx] = tool.Result{CallID: call.ID, Name: call.Name, Error: ErrToolNotAvailable.Error()}
			continue
		}
		permitted = append(permitted, call)
		slots = append(slots, idx)
	}

	if len(permitted) > 0 {
		for n, r := range i.tools.ExecuteAll(ctx, permitted) {
			results[slots[n]] = r
		}
	}
	return results
}

// setStatus never fails the invocation.
func (i *Invoker) setStatus(ctx context.Context, agentID string, status agent.Status, log logger.Logger) {
	if err := i.store.UpdateAgent(ctx, agentID, agent.Update{Status: &status}); err != nil {
		log.Warn("Failed to update agent status", "status", status, "error", err)
	}
	if i.events != nil {
		i.events.AgentEvent(ctx, agentID, map[string]interface{}{"status": status})
	}
}

func (i *Invoker) finishRecord(ctx context.Context, record *agent.Execution, out *Output, err error, elapsed time.Duration, log logger.Logger) {
	if record == nil {
		return
	}

	ms := elapsed.Milliseconds()
	update := agent.ExecutionUpdate{ExecutionTimeMs: &ms}
	if err != nil {
		status := agent.ExecutionFailed
		msg := err.Error()
		update.Status = &status
		update.ErrorMessage = &msg
	} else {
		status := agent.ExecutionSuccess
		update.Status = &status
		update.Output = out.Map()
	}

	if uerr := i.store.UpdateAgentExecution(ctx, record.ID, update); uerr != nil {
		log.Warn("Failed to finalize agent execution", "error", uerr)
	}
}

func applyParameters(req *providers.CompletionRequest, params map[string]interface{}) {
	if t, ok := number(params["temperature"]); ok {
		req.Temperature = &t
	}
	for _, key := range []string{"maxTokens", "max_tokens"} {
		if n, ok := number(params[key]); ok && n > 0 {
			req.MaxTokens = int(n)
			break
		}
	}
}

func number(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

func encodeToolResult(r tool.Result) string {
	encoded, err := json.Marshal(r)
	if err != nil {
		return fmt.Sprintf(`{"name":%q,"error":"unencodable result"}`, r.Name)
	}
	return string(encoded)
}

func isConfigError(err error) bool {
	return errors.Is(err, providers.ErrMissingCredentials) || errors.Is(err, providers.ErrUnsupportedProvider)
}

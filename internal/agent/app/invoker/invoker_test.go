package invoker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/agentflow-go/internal/agent/adapters/providers"
	"github.com/agentflow-go/internal/domain/agent"
	"github.com/agentflow-go/internal/domain/tool"
	"github.com/agentflow-go/internal/domain/workflow"
	"github.com/agentflow-go/internal/tools/app/registry"
	"github.com/agentflow-go/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type memoryStore struct {
	mu         sync.Mutex
	agents     map[string]*agent.Agent
	executions map[string]*agent.Execution
	statuses   []agent.Status
	statusErr  error
	seq        int
}

func newMemoryStore(agents ...*agent.Agent) *memoryStore {
	s := &memoryStore{agents: map[string]*agent.Agent{}, executions: map[string]*agent.Execution{}}
	for _, a := range agents {
		s.agents[a.ID] = a
	}
	return s
}

func (s *memoryStore) GetAgent(_ context.Context, id string) (*agent.Agent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.agents[id]
	if !ok {
		return nil, errors.New("not found")
	}
	cp := *a
	return &cp, nil
}

func (s *memoryStore) UpdateAgent(_ context.Context, id string, update agent.Update) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if update.Status != nil {
		if s.statusErr != nil {
			return s.statusErr
		}
		s.statuses = append(s.statuses, *update.Status)
		s.agents[id].Status = *update.Status
	}
	if update.Memory != nil {
		s.agents[id].Memory = *update.Memory
	}
	return nil
}

func (s *memoryStore) CreateAgentExecution(_ context.Context, e *agent.Execution) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	e.ID = fmt.Sprintf("exec-%d", s.seq)
	cp := *e
	s.executions[e.ID] = &cp
	return nil
}

func (s *memoryStore) UpdateAgentExecution(_ context.Context, id string, update agent.ExecutionUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.executions[id]
	if update.Status != nil {
		e.Status = *update.Status
	}
	if update.Output != nil {
		e.Output = update.Output
	}
	if update.ErrorMessage != nil {
		e.ErrorMessage = *update.ErrorMessage
	}
	return nil
}

type fakeProvider struct {
	responses []*providers.CompletionResponse
	requests  []providers.CompletionRequest
	err       error
}

func (p *fakeProvider) Name() string { return "openai" }

func (p *fakeProvider) Complete(_ context.Context, req providers.CompletionRequest) (*providers.CompletionResponse, error) {
	p.requests = append(p.requests, req)
	if p.err != nil {
		return nil, p.err
	}
	resp := p.responses[0]
	p.responses = p.responses[1:]
	return resp, nil
}

type MockAgentEvents struct {
	mock.Mock
}

func (m *MockAgentEvents) AgentEvent(ctx context.Context, agentID string, data map[string]interface{}) {
	m.Called(ctx, agentID, data)
}

func testAgent() *agent.Agent {
	return &agent.Agent{
		ID:          "agent-1",
		OwnerUserID: "user-1",
		Name:        "Helper",
		Personality: agent.Personality{Traits: []string{"precise"}, CommunicationStyle: "concise"},
		ModelConfig: agent.ModelConfig{Provider: "openai", Model: "gpt-4o-mini", Parameters: map[string]interface{}{"temperature": 0.2}},
		Memory: agent.Memory{ConversationHistory: []agent.ConversationEntry{
			{Role: "user", Content: "earlier question"},
			{Role: "assistant", Content: "earlier answer"},
		}},
		Status: agent.StatusIdle,
	}
}

func countingTools(t *testing.T, calls *int32) *registry.Executor {
	r := registry.NewRegistry()
	for _, name := range []string{"lookup", "broken"} {
		name := name
		require.NoError(t, r.Register(registry.Tool{
			Definition: tool.Definition{Name: name, Parameters: tool.Parameters{Type: "object"}},
			Handler: func(context.Context, map[string]interface{}) (interface{}, error) {
				atomic.AddInt32(calls, 1)
				if name == "broken" {
					return nil, errors.New("tool exploded")
				}
				return "found", nil
			},
		}))
	}
	return registry.NewExecutor(r, nil, logger.NewNop())
}

func testRun(vars map[string]interface{}) workflow.Run {
	return workflow.Run{WorkflowID: "wf-1", ExecutionID: "run-1", Context: workflow.NewExecutionContext(vars)}
}

func TestInvoker_ToolRoundTrip(t *testing.T) {
	a := testAgent()
	store := newMemoryStore(a)
	var toolCalls int32

	provider := &fakeProvider{responses: []*providers.CompletionResponse{
		{
			Model: "gpt-4o-mini",
			ToolCalls: []tool.Call{
				{ID: "c1", Name: "lookup"},
				{ID: "c2", Name: "broken"},
				{ID: "c3", Name: "lookup"},
			},
			Usage: providers.Usage{PromptTokens: 10, CompletionTokens: 2, TotalTokens: 12},
		},
		{Text: "final answer", Usage: providers.Usage{PromptTokens: 20, CompletionTokens: 5, TotalTokens: 25}},
	}}

	events := &MockAgentEvents{}
	events.On("AgentEvent", mock.Anything, "agent-1", mock.Anything).Return()

	inv := New(store, providers.NewRegistry(provider), countingTools(t, &toolCalls), events, logger.NewNop(), 0)
	out, err := inv.Invoke(context.Background(), a, workflow.AISpec{AgentID: a.ID, Prompt: "Check {{ticket}}"}, testRun(map[string]interface{}{"ticket": "T-1"}))
	require.NoError(t, err)

	assert.Equal(t, int32(3), atomic.LoadInt32(&toolCalls))
	require.Len(t, provider.requests, 2)
	assert.False(t, provider.requests[0].DisableTools)
	assert.True(t, provider.requests[1].DisableTools)
	assert.NotEmpty(t, provider.requests[1].Tools)

	followUp := provider.requests[1].Messages
	require.Len(t, followUp, 5)
	assert.Equal(t, providers.RoleAssistant, followUp[1].Role)
	assert.Len(t, followUp[1].ToolCalls, 3)
	assert.Equal(t, "c2", followUp[3].ToolCallID)
	assert.Contains(t, followUp[3].Content, "tool exploded")

	assert.Equal(t, "openai", out.Provider)
	assert.Equal(t, "final answer", out.Content)
	assert.Equal(t, 37, out.Usage.TotalTokens)
	assert.Len(t, out.ToolCalls, 3)

	history := store.agents["agent-1"].Memory.ConversationHistory
	require.Len(t, history, 4)
	assert.Equal(t, agent.ConversationEntry{Role: "user", Content: `Check "T-1"`, Timestamp: history[2].Timestamp}, history[2])
	assert.Equal(t, "final answer", history[3].Content)

	assert.Equal(t, []agent.Status{agent.StatusBusy, agent.StatusIdle}, store.statuses)
	events.AssertNumberOfCalls(t, "AgentEvent", 2)

	require.Len(t, store.executions, 1)
	assert.Equal(t, agent.ExecutionSuccess, store.executions["exec-1"].Status)
	assert.Equal(t, "final answer", store.executions["exec-1"].Output["content"])
}

func TestInvoker_RefusesToolsOutsideCapabilities(t *testing.T) {
	a := testAgent()
	a.Capabilities = []string{"lookup"}
	store := newMemoryStore(a)
	var toolCalls int32

	provider := &fakeProvider{responses: []*providers.CompletionResponse{
		{ToolCalls: []tool.Call{
			{ID: "c1", Name: "broken"},
			{ID: "c2", Name: "lookup"},
		}},
		{Text: "done"},
	}}

	inv := New(store, providers.NewRegistry(provider), countingTools(t, &toolCalls), nil, logger.NewNop(), 5)
	out, err := inv.Invoke(context.Background(), a, workflow.AISpec{AgentID: a.ID, Prompt: "go"}, testRun(nil))
	require.NoError(t, err)

	require.Len(t, provider.requests, 2)
	require.Len(t, provider.requests[0].Tools, 1)
	assert.Equal(t, "lookup", provider.requests[0].Tools[0].Name)
	assert.Equal(t, int32(1), atomic.LoadInt32(&toolCalls))

	require.Len(t, out.ToolCalls, 2)
	assert.Equal(t, "c1", out.ToolCalls[0].CallID)
	assert.Equal(t, ErrToolNotAvailable.Error(), out.ToolCalls[0].Error)
	assert.Nil(t, out.ToolCalls[0].Result)
	assert.Equal(t, "c2", out.ToolCalls[1].CallID)
	assert.Equal(t, "found", out.ToolCalls[1].Result)

	followUp := provider.requests[1].Messages
	require.Len(t, followUp, 4)
	assert.Equal(t, "c1", followUp[2].ToolCallID)
	assert.Contains(t, followUp[2].Content, "not available")
	assert.Equal(t, "c2", followUp[3].ToolCallID)
}

func TestInvoker_NoToolCalls(t *testing.T) {
	a := testAgent()
	store := newMemoryStore(a)
	var toolCalls int32
	provider := &fakeProvider{responses: []*providers.CompletionResponse{{Text: "direct"}}}

	inv := New(store, providers.NewRegistry(provider), countingTools(t, &toolCalls), nil, logger.NewNop(), 5)
	out, err := inv.Invoke(context.Background(), a, workflow.AISpec{AgentID: a.ID, Prompt: "hello"}, testRun(nil))
	require.NoError(t, err)

	assert.Equal(t, "direct", out.Content)
	assert.Equal(t, "gpt-4o-mini", out.Model)
	assert.Len(t, provider.requests, 1)
	assert.Zero(t, atomic.LoadInt32(&toolCalls))
	require.NotNil(t, provider.requests[0].Temperature)
	assert.Equal(t, 0.2, *provider.requests[0].Temperature)
	assert.Contains(t, provider.requests[0].Messages[0].Content, "earlier answer")
	assert.Contains(t, provider.requests[0].System, "concise")
}

func TestInvoker_UnsupportedProvider(t *testing.T) {
	a := testAgent()
	a.ModelConfig.Provider = "mistral"
	store := newMemoryStore(a)
	var toolCalls int32

	inv := New(store, providers.NewRegistry(&fakeProvider{}), countingTools(t, &toolCalls), nil, logger.NewNop(), 5)
	_, err := inv.Invoke(context.Background(), a, workflow.AISpec{Prompt: "x"}, testRun(nil))

	assert.ErrorIs(t, err, providers.ErrUnsupportedProvider)
	assert.Equal(t, agent.ExecutionFailed, store.executions["exec-1"].Status)
	assert.Equal(t, agent.StatusIdle, store.agents["agent-1"].Status)
	assert.Len(t, store.agents["agent-1"].Memory.ConversationHistory, 2)
}

func TestInvoker_StatusFailuresAreSwallowed(t *testing.T) {
	a := testAgent()
	store := newMemoryStore(a)
	store.statusErr = errors.New("db hiccup")
	var toolCalls int32
	provider := &fakeProvider{responses: []*providers.CompletionResponse{{Text: "still fine"}}}

	inv := New(store, providers.NewRegistry(provider), countingTools(t, &toolCalls), nil, logger.NewNop(), 5)
	out, err := inv.Invoke(context.Background(), a, workflow.AISpec{Prompt: "x"}, testRun(nil))

	require.NoError(t, err)
	assert.Equal(t, "still fine", out.Content)
}

func TestInvoker_ProviderErrorFailsNode(t *testing.T) {
	a := testAgent()
	store := newMemoryStore(a)
	var toolCalls int32
	provider := &fakeProvider{err: providers.ErrMissingCredentials}

	inv := New(store, providers.NewRegistry(provider), countingTools(t, &toolCalls), nil, logger.NewNop(), 5)
	_, err := inv.Invoke(context.Background(), a, workflow.AISpec{Prompt: "x"}, testRun(nil))

	assert.ErrorIs(t, err, providers.ErrMissingCredentials)
	assert.Contains(t, store.executions["exec-1"].ErrorMessage, "credentials")
}

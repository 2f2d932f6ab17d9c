package providers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/agentflow-go/internal/domain/tool"
	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenAIProvider_ToolCallResponse(t *testing.T) {
	var captured map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"model": "gpt-4o-mini",
			"choices": [{"message": {"role": "assistant", "content": null, "tool_calls": [
				{"id": "call_1", "type": "function", "function": {"name": "calculate", "arguments": "{\"expression\":\"1+1\"}"}}
			]}}],
			"usage": {"prompt_tokens": 10, "completion_tokens": 5, "total_tokens": 15}
		}`))
	}))
	defer srv.Close()

	p := NewOpenAIProvider(Config{APIKey: "sk-test", BaseURL: srv.URL})
	resp, err := p.Complete(context.Background(), CompletionRequest{
		System:   "be brief",
		Messages: []Message{{Role: RoleUser, Content: "what is 1+1"}},
		Tools: []tool.Definition{{
			Name:       "calculate",
			Parameters: tool.Parameters{Type: "object", Properties: map[string]tool.Property{"expression": {Type: "string"}}},
		}},
	})
	require.NoError(t, err)

	assert.Equal(t, "gpt-4o-mini", captured["model"])
	assert.Equal(t, "auto", captured["tool_choice"])
	messages := captured["messages"].([]interface{})
	require.Len(t, messages, 2)
	assert.Equal(t, "system", messages[0].(map[string]interface{})["role"])

	require.Len(t, resp.ToolCalls, 1)
	assert.Equal(t, "call_1", resp.ToolCalls[0].ID)
	assert.Equal(t, "calculate", resp.ToolCalls[0].Name)
	assert.Equal(t, "1+1", resp.ToolCalls[0].Arguments["expression"])
	assert.Equal(t, 15, resp.Usage.TotalTokens)
	assert.Empty(t, resp.Text)
}

func TestOpenAIProvider_FollowUpDisablesTools(t *testing.T) {
	var captured map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"2"}}],"usage":{"total_tokens":3}}`))
	}))
	defer srv.Close()

	p := NewOpenAIProvider(Config{APIKey: "sk-test", BaseURL: srv.URL})
	resp, err := p.Complete(context.Background(), CompletionRequest{
		Messages: []Message{
			{Role: RoleUser, Content: "what is 1+1"},
			{Role: RoleAssistant, ToolCalls: []tool.Call{{ID: "call_1", Name: "calculate", Arguments: map[string]interface{}{"expression": "1+1"}}}},
			{Role: RoleTool, ToolCallID: "call_1", Name: "calculate", Content: `{"name":"calculate","result":2}`},
		},
		Tools:        []tool.Definition{{Name: "calculate", Parameters: tool.Parameters{Type: "object"}}},
		DisableTools: true,
	})
	require.NoError(t, err)
	assert.Equal(t, "2", resp.Text)

	assert.Equal(t, "none", captured["tool_choice"])
	messages := captured["messages"].([]interface{})
	require.Len(t, messages, 3)
	assistant := messages[1].(map[string]interface{})
	assert.Nil(t, assistant["content"])
	calls := assistant["tool_calls"].([]interface{})
	assert.Equal(t, `{"expression":"1+1"}`, calls[0].(map[string]interface{})["function"].(map[string]interface{})["arguments"])
	toolMsg := messages[2].(map[string]interface{})
	assert.Equal(t, "tool", toolMsg["role"])
	assert.Equal(t, "call_1", toolMsg["tool_call_id"])
}

func TestOpenAIProvider_Errors(t *testing.T) {
	t.Run("missing credentials", func(t *testing.T) {
		p := NewOpenAIProvider(Config{})
		_, err := p.Complete(context.Background(), CompletionRequest{})
		assert.ErrorIs(t, err, ErrMissingCredentials)
	})

	t.Run("api error", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":{"message":"bad key","type":"invalid_request_error"}}`))
		}))
		defer srv.Close()

		p := NewOpenAIProvider(Config{APIKey: "sk-bad", BaseURL: srv.URL})
		_, err := p.Complete(context.Background(), CompletionRequest{Messages: []Message{{Role: RoleUser, Content: "hi"}}})

		var apiErr *APIError
		require.ErrorAs(t, err, &apiErr)
		assert.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)
		assert.Equal(t, "bad key", apiErr.Message)
		assert.False(t, IsTransient(err))
	})
}

package providers

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/agentflow-go/internal/domain/tool"
	"github.com/goccy/go-json"
	openai "github.com/sashabaranov/go-openai"
)

const (
	openAIName         = "openai"
	openAIDefaultModel = "gpt-4o-mini"
)

// OpenAIProvider speaks the chat completions API through go-openai.
type OpenAIProvider struct {
	apiKey string
	client *openai.Client
}

func NewOpenAIProvider(cfg Config) *OpenAIProvider {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	clientCfg.HTTPClient = newHTTPClient(cfg.Timeout)

	return &OpenAIProvider{
		apiKey: cfg.APIKey,
		client: openai.NewClientWithConfig(clientCfg),
	}
}

func (p *OpenAIProvider) Name() string {
	return openAIName
}

func (p *OpenAIProvider) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	if p.apiKey == "" {
		return nil, fmt.Errorf("%s: %w", openAIName, ErrMissingCredentials)
	}

	body, err := p.buildRequest(req)
	if err != nil {
		return nil, err
	}

	resp, err := p.client.CreateChatCompletion(ctx, body)
	if err != nil {
		return nil, openAIError(err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("%s returned no choices", openAIName)
	}

	msg := resp.Choices[0].Message
	out := &CompletionResponse{
		Model: resp.Model,
		Text:  msg.Content,
		Usage: Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
	}
	for _, tc := range msg.ToolCalls {
		args := map[string]interface{}{}
		if tc.Function.Arguments != "" {
			if err := json.Unmarshal([]byte(tc.Function.Arguments), &args); err != nil {
				return nil, fmt.Errorf("%s returned malformed arguments for tool %s: %w", openAIName, tc.Function.Name, err)
			}
		}
		out.ToolCalls = append(out.ToolCalls, tool.Call{ID: tc.ID, Name: tc.Function.Name, Arguments: args})
	}
	return out, nil
}

func (p *OpenAIProvider) buildRequest(req CompletionRequest) (openai.ChatCompletionRequest, error) {
	model := req.Model
	if model == "" {
		model = openAIDefaultModel
	}
	body := openai.ChatCompletionRequest{
		Model:     model,
		MaxTokens: req.MaxTokens,
	}
	if req.Temperature != nil {
		body.Temperature = float32(*req.Temperature)
	}

	if req.System != "" {
		body.Messages = append(body.Messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: req.System})
	}

	for _, m := range req.Messages {
		switch m.Role {
		case RoleAssistant:
			msg := openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: m.Content}
			for _, c := range m.ToolCalls {
				args, err := json.Marshal(c.Arguments)
				if err != nil {
					return body, fmt.Errorf("failed to encode arguments for tool %s: %w", c.Name, err)
				}
				msg.ToolCalls = append(msg.ToolCalls, openai.ToolCall{
					ID:       c.ID,
					Type:     openai.ToolTypeFunction,
					Function: openai.FunctionCall{Name: c.Name, Arguments: string(args)},
				})
			}
			body.Messages = append(body.Messages, msg)
		case RoleTool:
			body.Messages = append(body.Messages, openai.ChatCompletionMessage{
				Role:       openai.ChatMessageRoleTool,
				Content:    m.Content,
				ToolCallID: m.ToolCallID,
			})
		default:
			body.Messages = append(body.Messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: m.Content})
		}
	}

	for _, d := range req.Tools {
		body.Tools = append(body.Tools, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        d.Name,
				Description: d.Description,
				Parameters:  d.Parameters,
			},
		})
	}
	if len(body.Tools) > 0 {
		body.ToolChoice = "auto"
		if req.DisableTools {
			body.ToolChoice = "none"
		}
	}

	return body, nil
}

// openAIError maps SDK errors onto APIError so retry and breaker decisions
// see the HTTP status.
func openAIError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return &APIError{Provider: openAIName, StatusCode: apiErr.HTTPStatusCode, Message: apiErr.Message}
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		msg := reqErr.Error()
		if reqErr.Err != nil {
			msg = reqErr.Err.Error()
		}
		return &APIError{Provider: openAIName, StatusCode: reqErr.HTTPStatusCode, Message: msg}
	}
	return fmt.Errorf("%s request failed: %w", openAIName, err)
}

package providers

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/agentflow-go/internal/domain/tool"
	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/goccy/go-json"
)

const (
	anthropicName             = "anthropic"
	anthropicDefaultModel     = "claude-3-5-sonnet-latest"
	anthropicDefaultMaxTokens = 1024
)

// AnthropicProvider speaks the messages API through the official SDK.
type AnthropicProvider struct {
	apiKey string
	client anthropic.Client
}

func NewAnthropicProvider(cfg Config) *AnthropicProvider {
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithHTTPClient(newHTTPClient(cfg.Timeout)),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	return &AnthropicProvider{
		apiKey: cfg.APIKey,
		client: anthropic.NewClient(opts...),
	}
}

func (p *AnthropicProvider) Name() string {
	return anthropicName
}

func (p *AnthropicProvider) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	if p.apiKey == "" {
		return nil, fmt.Errorf("%s: %w", anthropicName, ErrMissingCredentials)
	}

	msg, err := p.client.Messages.New(ctx, p.buildRequest(req))
	if err != nil {
		return nil, anthropicError(err)
	}

	out := &CompletionResponse{
		Model: string(msg.Model),
		Usage: Usage{
			PromptTokens:     int(msg.Usage.InputTokens),
			CompletionTokens: int(msg.Usage.OutputTokens),
			TotalTokens:      int(msg.Usage.InputTokens + msg.Usage.OutputTokens),
		},
	}

	var text []string
	for _, block := range msg.Content {
		switch block.Type {
		case "text":
			text = append(text, block.Text)
		case "tool_use":
			args := map[string]interface{}{}
			if len(block.Input) > 0 {
				if err := json.Unmarshal(block.Input, &args); err != nil {
					return nil, fmt.Errorf("%s returned malformed input for tool %s: %w", anthropicName, block.Name, err)
				}
			}
			out.ToolCalls = append(out.ToolCalls, tool.Call{ID: block.ID, Name: block.Name, Arguments: args})
		}
	}
	out.Text = strings.Join(text, "")
	return out, nil
}

func (p *AnthropicProvider) buildRequest(req CompletionRequest) anthropic.MessageNewParams {
	model := req.Model
	if model == "" {
		model = anthropicDefaultModel
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = anthropicDefaultMaxTokens
	}

	body := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: int64(maxTokens),
	}
	if req.System != "" {
		body.System = []anthropic.TextBlockParam{{Text: req.System}}
	}
	if req.Temperature != nil {
		body.Temperature = anthropic.Float(*req.Temperature)
	}

	// Results answering one assistant turn share a single user turn.
	groupingResults := false
	for _, m := range req.Messages {
		switch m.Role {
		case RoleAssistant:
			var blocks []anthropic.ContentBlockParamUnion
			if m.Content != "" {
				blocks = append(blocks, anthropic.NewTextBlock(m.Content))
			}
			for _, c := range m.ToolCalls {
				input := c.Arguments
				if input == nil {
					input = map[string]interface{}{}
				}
				blocks = append(blocks, anthropic.NewToolUseBlock(c.ID, input, c.Name))
			}
			body.Messages = append(body.Messages, anthropic.NewAssistantMessage(blocks...))
			groupingResults = false
		case RoleTool:
			block := anthropic.NewToolResultBlock(m.ToolCallID, m.Content, false)
			if n := len(body.Messages); groupingResults && n > 0 {
				body.Messages[n-1].Content = append(body.Messages[n-1].Content, block)
				continue
			}
			body.Messages = append(body.Messages, anthropic.NewUserMessage(block))
			groupingResults = true
		default:
			body.Messages = append(body.Messages, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
			groupingResults = false
		}
	}

	for _, d := range req.Tools {
		body.Tools = append(body.Tools, anthropic.ToolUnionParam{OfTool: &anthropic.ToolParam{
			Name:        d.Name,
			Description: anthropic.String(d.Description),
			InputSchema: anthropic.ToolInputSchemaParam{
				Properties: d.Parameters.Properties,
				Required:   d.Parameters.Required,
			},
		}})
	}
	if len(body.Tools) > 0 {
		if req.DisableTools {
			body.ToolChoice = anthropic.ToolChoiceUnionParam{OfNone: &anthropic.ToolChoiceNoneParam{}}
		} else {
			body.ToolChoice = anthropic.ToolChoiceUnionParam{OfAuto: &anthropic.ToolChoiceAutoParam{}}
		}
	}

	return body
}

func anthropicError(err error) error {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return &APIError{Provider: anthropicName, StatusCode: apiErr.StatusCode, Message: apiErr.Error()}
	}
	return fmt.Errorf("%s request failed: %w", anthropicName, err)
}

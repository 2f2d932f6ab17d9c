// Package providers adapts language-model chat APIs to one capability
// interface. Each supported vendor is a variant of ChatProvider.
package providers

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/agentflow-go/internal/domain/tool"
)

var (
	ErrMissingCredentials  = errors.New("provider credentials are not configured")
	ErrUnsupportedProvider = errors.New("unsupported provider")
	ErrRateLimited         = errors.New("provider rate limit exceeded")
)

// APIError is a non-2xx answer from a provider.
type APIError struct {
	Provider   string
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s api error (status %d): %s", e.Provider, e.StatusCode, e.Message)
}

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message is one conversation turn. An assistant turn may carry ToolCalls; a
// tool turn answers the call named by ToolCallID.
type Message struct {
	Role       Role
	Content    string
	ToolCalls  []tool.Call
	ToolCallID string
	Name       string
}

type CompletionRequest struct {
	Model    string
	System   string
	Messages []Message
	Tools    []tool.Definition
	// DisableTools keeps the catalog in the request but forbids the model
	// from calling any of it.
	DisableTools bool
	Temperature  *float64
	MaxTokens    int
}

type Usage struct {
	PromptTokens     int `json:"promptTokens"`
	CompletionTokens int `json:"completionTokens"`
	TotalTokens      int `json:"totalTokens"`
}

func (u Usage) Add(other Usage) Usage {
	return Usage{
		PromptTokens:     u.PromptTokens + other.PromptTokens,
		CompletionTokens: u.CompletionTokens + other.CompletionTokens,
		TotalTokens:      u.TotalTokens + other.TotalTokens,
	}
}

type CompletionResponse struct {
	Model     string
	Text      string
	ToolCalls []tool.Call
	Usage     Usage
}

// ChatProvider is chat completion with optional tool calling.
type ChatProvider interface {
	Name() string
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)
}

// Config is the process-wide setup of one provider.
type Config struct {
	APIKey  string
	BaseURL string
	Timeout time.Duration
}

// Registry maps modelConfig.provider values to providers.
type Registry struct {
	providers map[string]ChatProvider
}

func NewRegistry(providers ...ChatProvider) *Registry {
	r := &Registry{providers: make(map[string]ChatProvider, len(providers))}
	for _, p := range providers {
		r.providers[strings.ToLower(p.Name())] = p
	}
	return r
}

func (r *Registry) Get(name string) (ChatProvider, error) {
	p, ok := r.providers[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedProvider, name)
	}
	return p, nil
}

func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

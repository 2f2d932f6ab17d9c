package registry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/agentflow-go/internal/domain/tool"
)

var (
	ErrUnknownTool     = errors.New("unknown tool")
	ErrDuplicateTool   = errors.New("tool already registered")
	ErrMissingArgument = errors.New("missing required argument")
)

// Handler runs a tool. The returned value becomes the result payload.
type Handler func(ctx context.Context, args map[string]interface{}) (interface{}, error)

type Tool struct {
	Definition tool.Definition
	Handler    Handler
	// CacheTTL > 0 lets the executor reuse a successful result for identical
	// arguments.
	CacheTTL time.Duration
}

// Registry is the process-wide tool catalog. It is read-mostly after startup.
type Registry struct {
	tools map[string]*Tool
	order []string
	mu    sync.RWMutex
}

func NewRegistry() *Registry {
	return &Registry{
		tools: make(map[string]*Tool),
	}
}

func (r *Registry) Register(t Tool) error {
	if t.Definition.Name == "" || t.Handler == nil {
		return errors.New("tool must have a name and a handler")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tools[t.Definition.Name]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateTool, t.Definition.Name)
	}
	r.tools[t.Definition.Name] = &t
	r.order = append(r.order, t.Definition.Name)
	return nil
}

func (r *Registry) Get(name string) (*Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Definitions returns the whole catalog in registration order.
func (r *Registry) Definitions() []tool.Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	defs := make([]tool.Definition, 0, len(r.order))
	for _, name := range r.order {
		defs = append(defs, r.tools[name].Definition)
	}
	return defs
}

// ForCapabilities filters the catalog to an agent's allow-list. An empty list
// means the agent sees every tool. Unknown names are ignored.
func (r *Registry) ForCapabilities(capabilities []string) []tool.Definition {
	if len(capabilities) == 0 {
		return r.Definitions()
	}

	allowed := make(map[string]struct{}, len(capabilities))
	for _, c := range capabilities {
		allowed[c] = struct{}{}
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	defs := make([]tool.Definition, 0, len(capabilities))
	for _, name := range r.order {
		if _, ok := allowed[name]; ok {
			defs = append(defs, r.tools[name].Definition)
		}
	}
	return defs
}

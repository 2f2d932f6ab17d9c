package registry

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/agentflow-go/internal/domain/tool"
	"github.com/agentflow-go/pkg/cache"
	"github.com/agentflow-go/pkg/logger"
	"github.com/agentflow-go/pkg/metrics"
	"github.com/goccy/go-json"
	"golang.org/x/sync/errgroup"
)

// Executor dispatches tool calls by name. It never returns an error: every
// failure ends up in Result.Error.
type Executor struct {
	registry *Registry
	cache    cache.Cache
	logger   logger.Logger
}

// NewExecutor builds an executor. c may be nil to disable result caching.
func NewExecutor(registry *Registry, c cache.Cache, log logger.Logger) *Executor {
	return &Executor{
		registry: registry,
		cache:    c,
		logger:   log,
	}
}

func (e *Executor) Registry() *Registry {
	return e.registry
}

// ForCapabilities is the tool set an agent with these capabilities sees.
func (e *Executor) ForCapabilities(capabilities []string) []tool.Definition {
	return e.registry.ForCapabilities(capabilities)
}

func (e *Executor) Execute(ctx context.Context, call tool.Call) (result tool.Result) {
	result = tool.Result{CallID: call.ID, Name: call.Name}

	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("Tool panicked", "tool", call.Name, "panic", r)
			result.Result = nil
			result.Error = fmt.Sprintf("tool panicked: %v", r)
		}
		status := "success"
		if result.Error != "" {
			status = "error"
		}
		metrics.RecordToolExecution(call.Name, status)
	}()

	t, ok := e.registry.Get(call.Name)
	if !ok {
		result.Error = fmt.Sprintf("%v: %s", ErrUnknownTool, call.Name)
		return result
	}

	args := call.Arguments
	if args == nil {
		args = map[string]interface{}{}
	}
	for _, name := range t.Definition.Parameters.Required {
		if _, ok := args[name]; !ok {
			result.Error = fmt.Sprintf("%v: %s", ErrMissingArgument, name)
			return result
		}
	}

	var key string
	if t.CacheTTL > 0 && e.cache != nil {
		key = cacheKey(call.Name, args)
		var cached interface{}
		err := e.cache.Get(ctx, key, &cached)
		switch {
		case err == nil:
			e.logger.Debug("Tool result served from cache", "tool", call.Name)
			result.Result = cached
			return result
		case !errors.Is(err, cache.ErrCacheMiss):
			e.logger.Warn("Tool cache read failed", "tool", call.Name, "error", err)
		}
	}

	value, err := t.Handler(ctx, args)
	if err != nil {
		e.logger.Warn("Tool returned an error", "tool", call.Name, "error", err)
		result.Error = err.Error()
		return result
	}
	result.Result = value

	if key != "" {
		if err := e.cache.Set(ctx, key, value, t.CacheTTL); err != nil {
			e.logger.Warn("Tool cache write failed", "tool", call.Name, "error", err)
		}
	}
	return result
}

// ExecuteAll runs calls concurrently. Results keep the order of calls and a
// failing tool never affects its siblings.
func (e *Executor) ExecuteAll(ctx context.Context, calls []tool.Call) []tool.Result {
	results := make([]tool.Result, len(calls))

	g, gctx := errgroup.WithContext(ctx)
	for i, call := range calls {
		i, call := i, call
		g.Go(func() error {
			results[i] = e.Execute(gctx, call)
			return nil
		})
	}
	_ = g.Wait()

	return results
}

func cacheKey(name string, args map[string]interface{}) string {
	// Map keys are marshaled in sorted order, so equal arguments hash equally.
	raw, err := json.Marshal(args)
	if err != nil {
		raw = []byte(fmt.Sprintf("%v", args))
	}
	sum := sha256.Sum256(raw)
	return "tool:" + name + ":" + hex.EncodeToString(sum[:])
}

package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/hupe1980/agentstep/core"
	"github.com/hupe1980/agentstep/logging"
	"github.com/hupe1980/agentstep/model"
)

// RegistryOptions configures a Registry.
type RegistryOptions struct {
	Logger logging.Logger
}

// Registry keeps tools in registration order and dispatches function calls.
type Registry struct {
	mu     sync.RWMutex
	tools  map[string]Tool
	order  []string
	logger logging.Logger
}

// NewRegistry creates a Registry holding the given tools.
// It panics on duplicate names, mirroring a programming error at wiring time.
func NewRegistry(tools []Tool, optFns ...func(o *RegistryOptions)) *Registry {
	opts := RegistryOptions{Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}
	r := &Registry{tools: make(map[string]Tool), logger: opts.Logger}
	for _, t := range tools {
		if err := r.Register(t); err != nil {
			panic(err)
		}
	}
	return r
}

// Register adds a tool; names must be unique.
func (r *Registry) Register(t Tool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	name := t.Name()
	if name == "" {
		return fmt.Errorf("tool name must not be empty")
	}
	if _, exists := r.tools[name]; exists {
		return fmt.Errorf("tool %q already registered", name)
	}
	r.tools[name] = t
	r.order = append(r.order, name)
	return nil
}

// Get returns the named tool.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Names returns tool names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Len reports the number of registered tools.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

// Definitions converts the registered tools into model tool definitions.
func (r *Registry) Definitions() []model.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	defs := make([]model.ToolDefinition, 0, len(r.order))
	for _, name := range r.order {
		t := r.tools[name]
		defs = append(defs, model.ToolDefinition{
			Type: "function",
			Function: model.FunctionDefinition{
				Name:        t.Name(),
				Description: t.Description(),
				Parameters:  t.Parameters(),
			},
		})
	}
	return defs
}

// Execute decodes the call arguments and runs the matching tool. Panics
// inside the tool are converted into an EXECUTION_ERROR.
func (r *Registry) Execute(ctx context.Context, call core.FunctionCall) (result any, err error) {
	t, ok := r.Get(call.Name)
	if !ok {
		return nil, NewToolError(call.Name, "tool not found", CodeNotFound)
	}

	args := map[string]any{}
	if call.Arguments != "" {
		if uerr := json.Unmarshal([]byte(call.Arguments), &args); uerr != nil {
			return nil, &ToolError{
				Tool:    call.Name,
				Message: fmt.Sprintf("invalid arguments: %v", uerr),
				Code:    CodeValidation,
			}
		}
	}

	start := time.Now()
	r.logger.Debug("tool.call.start", "tool", call.Name, "fc_id", call.ID)

	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("tool.call.panic", "tool", call.Name, "panic", fmt.Sprint(rec), "stack", string(debug.Stack()))
			result, err = nil, &ToolError{
				Tool:    call.Name,
				Message: fmt.Sprintf("panic: %v", rec),
				Code:    CodeExecution,
			}
		}
	}()

	result, err = t.Call(ctx, args)
	if err != nil {
		r.logger.Error("tool.call.error", "tool", call.Name, "fc_id", call.ID, "error", err.Error())
		return nil, err
	}
	r.logger.Info("tool.call.success", "tool", call.Name, "fc_id", call.ID, "duration_ms", time.Since(start).Milliseconds())
	return result, nil
}

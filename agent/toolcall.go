package agent

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/hupe1980/agentstep/core"
	"github.com/hupe1980/agentstep/internal/util"
	"github.com/hupe1980/agentstep/logging"
	"github.com/hupe1980/agentstep/model"
	"github.com/hupe1980/agentstep/tool"
)

// DefaultNextStepPrompt nudges the model towards tool use on every step.
const DefaultNextStepPrompt = "Based on user needs, proactively select the most appropriate tool or combination of tools. " +
	"For complex tasks, you can break down the problem and use different tools step by step to solve it. " +
	"After using each tool, clearly explain the execution results and suggest the next steps. " +
	"This is step {{.step}} of at most {{.max_steps}}. " +
	"If you want to stop the interaction at any point, use the `terminate` tool/function call."

// ToolCallOptions configures a ToolCallAgent.
//
// Use functional options with NewToolCallAgent to override defaults.
type ToolCallOptions struct {
	// NextStepPrompt is rendered with step and max_steps and appended as a
	// user message before every model call. Empty disables it.
	NextStepPrompt string
	// MaxModelCalls caps model invocations per run; zero means unlimited.
	MaxModelCalls int
	Logger        logging.Logger
}

// ToolCallAgent is a Reasoner that asks a model for tool calls in the think
// phase and executes them through a tool.Registry in the act phase. Wrap it
// with ReAct to obtain a Stepper.
//
// A ToolCallAgent holds per-run state and must not be shared between agents.
type ToolCallAgent struct {
	llm            model.Model
	tools          *tool.Registry
	nextStepPrompt string
	limiter        *core.ModelLimiter
	logger         *logging.RunLogger

	mu      sync.Mutex
	pending []core.FunctionCall
}

// NewToolCallAgent creates a ToolCallAgent. A nil registry is replaced by an
// empty one.
func NewToolCallAgent(llm model.Model, tools *tool.Registry, optFns ...func(o *ToolCallOptions)) *ToolCallAgent {
	opts := ToolCallOptions{
		NextStepPrompt: DefaultNextStepPrompt,
		Logger:         logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if tools == nil {
		tools = tool.NewRegistry(nil)
	}
	return &ToolCallAgent{
		llm:            llm,
		tools:          tools,
		nextStepPrompt: opts.NextStepPrompt,
		limiter:        core.NewModelLimiter(opts.MaxModelCalls),
		logger:         logging.NewRunLogger(opts.Logger).With("model", llm.Info().Name),
	}
}

// Think implements Reasoner. It returns true when the model requested tool calls.
func (t *ToolCallAgent) Think(ctx context.Context, run *RunState) (bool, error) {
	if t.nextStepPrompt != "" {
		prompt, err := util.RenderTemplate(t.nextStepPrompt, map[string]any{
			"step":      run.CurrentStep(),
			"max_steps": run.MaxSteps(),
		})
		if err != nil {
			return false, fmt.Errorf("render next step prompt: %w", err)
		}
		run.Append(core.NewUserContent(prompt))
	}

	if err := t.limiter.Increment(); err != nil {
		return false, err
	}

	start := time.Now()
	resp, err := model.GenerateOnce(ctx, t.llm, model.Request{
		Contents: run.Messages(),
		Tools:    t.tools.Definitions(),
	})
	t.logger.LogLLMCall(t.llm.Info().Name, time.Since(start), err)
	if err != nil {
		return false, fmt.Errorf("model call failed: %w", err)
	}

	calls := resp.Content.FunctionCalls()
	resp.Content.Role = core.RoleAssistant
	run.Append(resp.Content)

	t.mu.Lock()
	t.pending = calls
	t.mu.Unlock()

	t.logger.Debug("agent.think.completed", "step", run.CurrentStep(), "tool_calls", len(calls))
	return len(calls) > 0, nil
}

// Act implements Reasoner. Tool responses are appended to the history; a
// terminate call finishes the run.
func (t *ToolCallAgent) Act(ctx context.Context, run *RunState) Outcome {
	t.mu.Lock()
	calls := t.pending
	t.pending = nil
	t.mu.Unlock()

	if len(calls) == 0 {
		return NoAction()
	}

	lines := make([]string, 0, len(calls))
	terminate := false
	for _, call := range calls {
		start := time.Now()
		result, err := t.tools.Execute(ctx, call)
		t.logger.LogToolCall(call.Name, time.Since(start), err)

		run.Append(core.NewFunctionResponseContent(call.ID, call.Name, result, err))
		if err != nil {
			lines = append(lines, fmt.Sprintf("Tool %s failed: %v", call.Name, err))
			continue
		}
		lines = append(lines, fmt.Sprintf("Tool %s completed with result: %v", call.Name, result))
		if call.Name == tool.TerminateName {
			terminate = true
		}
	}

	joined := strings.Join(lines, "\n")
	if terminate {
		run.Finish()
		return Complete(joined)
	}
	return Continue(joined)
}

// Cleanup implements Cleaner.
func (t *ToolCallAgent) Cleanup(context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pending = nil
	t.limiter.Reset()
	return nil
}

// Pending returns the tool calls awaiting execution.
func (t *ToolCallAgent) Pending() []core.FunctionCall {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]core.FunctionCall, len(t.pending))
	copy(out, t.pending)
	return out
}

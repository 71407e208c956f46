package main

import (
	"fmt"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"
	"go.opentelemetry.io/otel"
	"golang.org/x/time/rate"

	"github.com/hupe1980/agentstep/agent"
	"github.com/hupe1980/agentstep/chat"
	"github.com/hupe1980/agentstep/config"
	"github.com/hupe1980/agentstep/logging"
	"github.com/hupe1980/agentstep/model"
	"github.com/hupe1980/agentstep/model/anthropic"
	"github.com/hupe1980/agentstep/model/middleware"
	"github.com/hupe1980/agentstep/model/openai"
	"github.com/hupe1980/agentstep/runner"
	"github.com/hupe1980/agentstep/tool"
)

// DefaultAgentPrompt is the system prompt of the general purpose agent.
const DefaultAgentPrompt = "You are an all-capable AI assistant aimed at solving any task presented by the user. " +
	"You have various tools at your disposal that you can call upon to efficiently complete complex requests. " +
	"Break the task into steps, use one tool at a time and explain what you found."

func newModel(cfg config.ModelConfig) (model.Model, error) {
	var base model.Model
	switch cfg.Provider {
	case "openai":
		base = openai.NewModel(func(o *openai.Options) {
			o.APIKey, o.BaseURL = cfg.APIKey, cfg.BaseURL
			if cfg.Name != "" {
				o.Model = cfg.Name
			}
		})
	case "anthropic":
		base = anthropic.NewModel(func(o *anthropic.Options) {
			o.APIKey, o.BaseURL = cfg.APIKey, cfg.BaseURL
			if cfg.Name != "" {
				o.Model = anthropicsdk.Model(cfg.Name)
			}
		})
	case "mock":
		base = model.NewMockModel("mock", "mock")
	default:
		return nil, fmt.Errorf("unknown model provider %q", cfg.Provider)
	}

	mws := []middleware.Middleware{middleware.Trace(otel.Tracer("github.com/hupe1980/agentstep/model"))}
	if cfg.RateLimit > 0 {
		burst := int(cfg.RateLimit)
		if burst < 1 {
			burst = 1
		}
		mws = append(mws, middleware.RateLimit(rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)))
	}
	return middleware.Chain(base, mws...), nil
}

func newRegistry(cfg config.ToolsConfig, logger logging.Logger) *tool.Registry {
	tools := []tool.Tool{tool.NewTerminateTool()}
	if cfg.WebFetch.Enabled {
		tools = append(tools, tool.NewWebFetchTool(func(o *tool.WebFetchOptions) {
			o.MaxChars = cfg.WebFetch.MaxChars
			o.CacheSize = cfg.WebFetch.CacheSize
			o.CacheTTL = cfg.WebFetch.CacheTTL
		}))
	}
	return tool.NewRegistry(tools, func(o *tool.RegistryOptions) { o.Logger = logger })
}

// newFactory returns a runner.Factory building a fresh tool-calling agent
// per task. The registry and model are shared; per-run state is not.
func newFactory(cfg config.AgentConfig, llm model.Model, tools *tool.Registry, logger logging.Logger) runner.Factory {
	systemPrompt := cfg.SystemPrompt
	if systemPrompt == "" {
		systemPrompt = DefaultAgentPrompt
	}
	return func() (*agent.Agent, error) {
		reasoner := agent.NewToolCallAgent(llm, tools, func(o *agent.ToolCallOptions) {
			if cfg.NextStepPrompt != "" {
				o.NextStepPrompt = cfg.NextStepPrompt
			}
			o.MaxModelCalls = cfg.MaxModelCalls
			o.Logger = logger
		})
		return agent.New(agent.ReAct(reasoner), func(o *agent.Options) {
			o.Name = cfg.Name
			o.Instruction = agent.NewInstructionFromText(systemPrompt)
			o.MaxSteps = cfg.MaxSteps
			o.StreamTimeout = cfg.StreamTimeout
			o.NoActionLimit = cfg.NoActionLimit
			o.Logger = logger
		}), nil
	}
}

func newChatApp(cfg config.ChatConfig, llm model.Model, logger logging.Logger) *chat.App {
	advisors := []chat.Advisor{chat.NewLoggingAdvisor(logger)}
	if cfg.ReReading {
		advisors = append(advisors, chat.NewReReadingAdvisor(""))
	}
	return chat.New(llm, func(o *chat.Options) {
		if cfg.SystemPrompt != "" {
			o.SystemPrompt = cfg.SystemPrompt
		}
		o.HistorySize = cfg.HistorySize
		o.Advisors = advisors
		o.Logger = logger
	})
}

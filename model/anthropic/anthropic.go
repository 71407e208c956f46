// Package anthropic provides a model wrapper for the Anthropic Claude API.
package anthropic

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/shared/constant"
	"github.com/hupe1980/agentstep/core"
	"github.com/hupe1980/agentstep/model"
)

// Options configures the Anthropic model adapter.
type Options struct {
	Model       anthropic.Model
	Temperature float64
	MaxTokens   int64
	APIKey      string
	BaseURL     string
}

// Model wraps the Anthropic Messages API behind the generic model.Model interface.
type Model struct {
	client *anthropic.Client
	opts   Options
}

func defaultOptions(optFns []func(o *Options)) Options {
	opts := Options{
		Model:       anthropic.ModelClaude3_5Sonnet20241022,
		Temperature: 0.7,
		MaxTokens:   4096,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return opts
}

// NewModel creates an Anthropic model with its own client. APIKey and BaseURL
// override the SDK's environment defaults when set.
func NewModel(optFns ...func(o *Options)) *Model {
	opts := defaultOptions(optFns)
	var clientOpts []option.RequestOption
	if opts.APIKey != "" {
		clientOpts = append(clientOpts, option.WithAPIKey(opts.APIKey))
	}
	if opts.BaseURL != "" {
		clientOpts = append(clientOpts, option.WithBaseURL(opts.BaseURL))
	}
	client := anthropic.NewClient(clientOpts...)
	return &Model{client: &client, opts: opts}
}

// NewModelFromClient wraps an existing client.
func NewModelFromClient(client *anthropic.Client, optFns ...func(o *Options)) *Model {
	return &Model{client: client, opts: defaultOptions(optFns)}
}

// Generate implements model.Model on top of the Messages API.
func (m *Model) Generate(ctx context.Context, req model.Request) (<-chan model.Response, <-chan error) {
	out := make(chan model.Response, 32)
	errCh := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errCh)

		params := m.params(req)
		if req.Stream {
			m.handleStreaming(ctx, params, out, errCh)
			return
		}
		msg, err := m.client.Messages.New(ctx, params)
		if err != nil {
			errCh <- fmt.Errorf("anthropic api error: %w", err)
			return
		}
		send(ctx, out, convertMessage(msg))
	}()

	return out, errCh
}

func (m *Model) params(req model.Request) anthropic.MessageNewParams {
	params := anthropic.MessageNewParams{
		Model:       m.opts.Model,
		Messages:    toMessages(req.Contents),
		MaxTokens:   m.opts.MaxTokens,
		Temperature: anthropic.Float(m.opts.Temperature),
		System:      systemBlocks(req),
	}
	if len(req.Tools) > 0 {
		params.Tools = toTools(req.Tools)
	}
	return params
}

// handleStreaming forwards text deltas as partial responses while the SDK
// accumulates the full message, which is emitted last.
func (m *Model) handleStreaming(
	ctx context.Context,
	params anthropic.MessageNewParams,
	out chan<- model.Response,
	errCh chan<- error,
) {
	stream := m.client.Messages.NewStreaming(ctx, params)
	defer stream.Close()

	var msg anthropic.Message
	for stream.Next() {
		event := stream.Current()
		if err := msg.Accumulate(event); err != nil {
			errCh <- fmt.Errorf("anthropic stream accumulate: %w", err)
			return
		}
		delta, ok := event.AsAny().(anthropic.ContentBlockDeltaEvent)
		if !ok {
			continue
		}
		text, ok := delta.Delta.AsAny().(anthropic.TextDelta)
		if !ok || text.Text == "" {
			continue
		}
		partial := model.Response{ID: msg.ID, Partial: true, Content: core.NewAssistantContent(text.Text)}
		if !send(ctx, out, partial) {
			errCh <- ctx.Err()
			return
		}
	}
	if err := stream.Err(); err != nil {
		errCh <- fmt.Errorf("anthropic streaming error: %w", err)
		return
	}
	if !send(ctx, out, convertMessage(&msg)) {
		errCh <- ctx.Err()
	}
}

func send(ctx context.Context, out chan<- model.Response, r model.Response) bool {
	select {
	case out <- r:
		return true
	case <-ctx.Done():
		return false
	}
}

// convertMessage maps text and tool_use blocks onto a final response.
func convertMessage(msg *anthropic.Message) model.Response {
	var parts []core.Part
	for _, block := range msg.Content {
		switch b := block.AsAny().(type) {
		case anthropic.TextBlock:
			if b.Text != "" {
				parts = append(parts, core.TextPart{Text: b.Text})
			}
		case anthropic.ToolUseBlock:
			args := ""
			if raw, err := json.Marshal(b.Input); err == nil && len(b.Input) > 0 {
				args = string(raw)
			}
			parts = append(parts, core.FunctionCallPart{FunctionCall: core.FunctionCall{
				ID:        b.ID,
				Name:      b.Name,
				Arguments: args,
			}})
		}
	}

	finish := "stop"
	if msg.StopReason != "" {
		finish = string(msg.StopReason)
	}
	in, outTokens := int(msg.Usage.InputTokens), int(msg.Usage.OutputTokens)
	return model.Response{
		ID:           msg.ID,
		Content:      core.Content{Role: core.RoleAssistant, Parts: parts},
		FinishReason: finish,
		Usage: &model.TokenUsage{
			PromptTokens:     in,
			CompletionTokens: outTokens,
			TotalTokens:      in + outTokens,
		},
	}
}

// toMessages converts contents to alternating user/assistant turns. System
// contents go to the system prompt. Tool results are sent as tool_result
// blocks in the user turn that directly follows the assistant tool_use turn.
func toMessages(contents []core.Content) []anthropic.MessageParam {
	results := map[string]core.FunctionResponse{}
	for _, c := range contents {
		if c.Role != core.RoleTool {
			continue
		}
		for _, fr := range c.FunctionResponses() {
			if fr.ID != "" {
				results[fr.ID] = fr
			}
		}
	}

	var msgs []anthropic.MessageParam
	for _, c := range contents {
		switch c.Role {
		case core.RoleSystem, core.RoleTool:
		case core.RoleAssistant:
			blocks, answers := assistantBlocks(c, results)
			if len(blocks) > 0 {
				msgs = append(msgs, anthropic.NewAssistantMessage(blocks...))
			}
			if len(answers) > 0 {
				msgs = append(msgs, anthropic.NewUserMessage(answers...))
			}
		default:
			if blocks := textBlocks(c); len(blocks) > 0 {
				msgs = append(msgs, anthropic.NewUserMessage(blocks...))
			}
		}
	}
	return msgs
}

func textBlocks(c core.Content) []anthropic.ContentBlockParamUnion {
	var blocks []anthropic.ContentBlockParamUnion
	for _, p := range c.Parts {
		if tp, ok := p.(core.TextPart); ok && tp.Text != "" {
			blocks = append(blocks, anthropic.NewTextBlock(tp.Text))
		}
	}
	return blocks
}

func assistantBlocks(
	c core.Content,
	results map[string]core.FunctionResponse,
) (blocks, answers []anthropic.ContentBlockParamUnion) {
	blocks = textBlocks(c)
	for _, fc := range c.FunctionCalls() {
		var input any
		if fc.Arguments != "" {
			if err := json.Unmarshal([]byte(fc.Arguments), &input); err != nil {
				input = fc.Arguments
			}
		}
		blocks = append(blocks, anthropic.NewToolUseBlock(fc.ID, input, fc.Name))

		fr, ok := results[fc.ID]
		if !ok {
			continue
		}
		delete(results, fc.ID)
		answers = append(answers, anthropic.NewToolResultBlock(fc.ID, toolResultText(fr), fr.Error != ""))
	}
	return blocks, answers
}

func toolResultText(fr core.FunctionResponse) string {
	if fr.Error != "" {
		return fr.Error
	}
	if s, ok := fr.Response.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", fr.Response)
}

// systemBlocks leads with the request instructions followed by any system contents.
func systemBlocks(req model.Request) []anthropic.TextBlockParam {
	var blocks []anthropic.TextBlockParam
	if req.Instructions != "" {
		blocks = append(blocks, anthropic.TextBlockParam{Text: req.Instructions})
	}
	for _, c := range req.Contents {
		if c.Role != core.RoleSystem {
			continue
		}
		if text := c.Text(); text != "" {
			blocks = append(blocks, anthropic.TextBlockParam{Text: text})
		}
	}
	return blocks
}

func toTools(defs []model.ToolDefinition) []anthropic.ToolUnionParam {
	tools := make([]anthropic.ToolUnionParam, 0, len(defs))
	for _, def := range defs {
		schema := anthropic.ToolInputSchemaParam{Type: constant.Object("object")}
		if props, ok := def.Function.Parameters["properties"]; ok {
			schema.Properties = props
		}
		schema.Required = requiredFields(def.Function.Parameters["required"])

		tp := anthropic.ToolParam{Name: def.Function.Name, InputSchema: schema}
		if def.Function.Description != "" {
			tp.Description = anthropic.String(def.Function.Description)
		}
		tools = append(tools, anthropic.ToolUnionParam{OfTool: &tp})
	}
	return tools
}

// requiredFields accepts both []string and the []any produced by JSON decoding.
func requiredFields(v any) []string {
	switch req := v.(type) {
	case []string:
		return req
	case []any:
		out := make([]string, 0, len(req))
		for _, r := range req {
			if s, ok := r.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

// Info returns metadata describing this Anthropic model implementation.
func (m *Model) Info() model.Info {
	return model.Info{
		Name:          string(m.opts.Model),
		Provider:      "anthropic",
		SupportsTools: true,
	}
}

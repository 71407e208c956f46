// Package openai provides an implementation of model.Model using the OpenAI
// Chat Completions API (including streaming + function/tool calling). It
// adapts the module's normalized Request/Response structures into the SDK's
// message format and back.
package openai

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/hupe1980/agentstep/core"
	"github.com/hupe1980/agentstep/model"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// Options configure the OpenAI model adapter.
type Options struct {
	Model               string
	Temperature         float64
	MaxCompletionTokens int64
	// APIKey and BaseURL are only used by NewModel; empty values fall back
	// to the SDK's environment defaults.
	APIKey  string
	BaseURL string
}

// Model wraps the OpenAI Chat Completions API behind the generic model.Model interface.
type Model struct {
	client *openai.Client
	opts   Options
}

func defaultOptions() Options {
	return Options{
		Model:               openai.ChatModelGPT4oMini,
		Temperature:         0.7,
		MaxCompletionTokens: 4096,
	}
}

// NewModel creates a new OpenAI model using the official client.
func NewModel(optFns ...func(o *Options)) *Model {
	opts := defaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}
	var reqOpts []option.RequestOption
	if opts.APIKey != "" {
		reqOpts = append(reqOpts, option.WithAPIKey(opts.APIKey))
	}
	if opts.BaseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(opts.BaseURL))
	}
	client := openai.NewClient(reqOpts...)
	return &Model{client: &client, opts: opts}
}

// NewModelFromClient creates a new OpenAI model from an existing client.
func NewModelFromClient(client *openai.Client, optFns ...func(o *Options)) *Model {
	opts := defaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Model{client: client, opts: opts}
}

// Generate implements unified streaming / non-streaming generation.
// It adapts OpenAI Chat Completions (with function/tool calling) into model.Response events.
func (m *Model) Generate(ctx context.Context, req model.Request) (<-chan model.Response, <-chan error) {
	out := make(chan model.Response, 32)
	errCh := make(chan error, 1)
	go func() {
		defer close(out)
		defer close(errCh)
		params := m.buildParams(req, toMessages(req))
		if req.Stream {
			m.handleStreaming(ctx, params, out, errCh)
			return
		}
		m.handleNonStreaming(ctx, params, out, errCh)
	}()
	return out, errCh
}

// toolResults indexes tool outcomes by call id, keeping first-seen order so
// results without a matching assistant turn can still be appended.
func toolResults(contents []core.Content) (map[string]string, []string) {
	results := map[string]string{}
	var order []string
	for _, c := range contents {
		if c.Role != core.RoleTool {
			continue
		}
		for _, fr := range c.FunctionResponses() {
			if fr.ID == "" {
				continue
			}
			if _, seen := results[fr.ID]; seen {
				continue
			}
			results[fr.ID] = toolResultText(fr)
			order = append(order, fr.ID)
		}
	}
	return results, order
}

// toolResultText renders a tool outcome as the content of a tool message.
func toolResultText(fr core.FunctionResponse) string {
	if fr.Error != "" {
		return "Error: " + fr.Error
	}
	if s, ok := fr.Response.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", fr.Response)
}

// toMessages converts normalized contents into chat messages. Tool results
// are placed directly after the assistant turn that requested them since the
// API rejects tool messages without a preceding tool call.
func toMessages(req model.Request) []openai.ChatCompletionMessageParamUnion {
	results, order := toolResults(req.Contents)
	var msgs []openai.ChatCompletionMessageParamUnion
	if req.Instructions != "" {
		msgs = append(msgs, openai.SystemMessage(req.Instructions))
	}
	for _, c := range req.Contents {
		switch c.Role {
		case core.RoleTool:
		case core.RoleSystem:
			msgs = append(msgs, openai.SystemMessage(c.Text()))
		case core.RoleAssistant:
			calls := c.FunctionCalls()
			if len(calls) == 0 {
				msgs = append(msgs, openai.AssistantMessage(c.Text()))
				continue
			}
			msgs = append(msgs, assistantToolCalls(calls))
			for _, fc := range calls {
				if text, ok := results[fc.ID]; ok {
					msgs = append(msgs, openai.ToolMessage(text, fc.ID))
					delete(results, fc.ID)
				}
			}
		default:
			if text := c.Text(); text != "" || c.Role == core.RoleUser {
				msgs = append(msgs, openai.UserMessage(text))
			}
		}
	}
	for _, id := range order {
		if text, ok := results[id]; ok {
			msgs = append(msgs, openai.ToolMessage(text, id))
		}
	}
	return msgs
}

func assistantToolCalls(calls []core.FunctionCall) openai.ChatCompletionMessageParamUnion {
	params := make([]openai.ChatCompletionMessageToolCallParam, 0, len(calls))
	for _, fc := range calls {
		params = append(params, openai.ChatCompletionMessageToolCallParam{
			ID:   fc.ID,
			Type: "function",
			Function: openai.ChatCompletionMessageToolCallFunctionParam{
				Name:      fc.Name,
				Arguments: fc.Arguments,
			},
		})
	}
	return openai.ChatCompletionMessageParamUnion{OfAssistant: &openai.ChatCompletionAssistantMessageParam{
		ToolCalls: params,
	}}
}

func (m *Model) buildParams(
	req model.Request,
	messages []openai.ChatCompletionMessageParamUnion,
) openai.ChatCompletionNewParams {
	return openai.ChatCompletionNewParams{
		Model:               m.opts.Model,
		Messages:            messages,
		Tools:               toTools(req.Tools),
		Temperature:         openai.Float(m.opts.Temperature),
		MaxCompletionTokens: openai.Int(m.opts.MaxCompletionTokens),
	}
}

func toTools(defs []model.ToolDefinition) []openai.ChatCompletionToolParam {
	if len(defs) == 0 {
		return nil
	}
	tools := make([]openai.ChatCompletionToolParam, 0, len(defs))
	for _, def := range defs {
		fn := openai.FunctionDefinitionParam{
			Name:       def.Function.Name,
			Parameters: def.Function.Parameters,
		}
		if def.Function.Description != "" {
			fn.Description = openai.String(def.Function.Description)
		}
		tools = append(tools, openai.ChatCompletionToolParam{Function: fn})
	}
	return tools
}

// handleStreaming forwards text and tool call deltas as partial responses
// and emits one final response once the stream is exhausted. Usage is
// requested from the API and attached to the final response.
func (m *Model) handleStreaming(
	ctx context.Context,
	params openai.ChatCompletionNewParams,
	out chan<- model.Response,
	errCh chan<- error,
) {
	params.StreamOptions = openai.ChatCompletionStreamOptionsParam{IncludeUsage: openai.Bool(true)}
	stream := m.client.Chat.Completions.NewStreaming(ctx, params)
	defer stream.Close()

	acc := newStreamAccumulator()
	for stream.Next() {
		ck := stream.Current()
		acc.observe(ck)
		for _, ch := range ck.Choices {
			for _, partial := range acc.add(ch) {
				if !send(ctx, out, partial) {
					errCh <- ctx.Err()
					return
				}
			}
		}
	}
	if err := stream.Err(); err != nil {
		errCh <- fmt.Errorf("openai streaming error: %w", err)
		return
	}
	if !send(ctx, out, acc.final()) {
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

// aggCall aggregates the streamed deltas of one tool call.
type aggCall struct{ id, name, args string }

type streamAccumulator struct {
	id     string
	text   strings.Builder
	calls  map[int64]*aggCall
	finish string
	usage  *model.TokenUsage
}

func newStreamAccumulator() *streamAccumulator {
	return &streamAccumulator{calls: map[int64]*aggCall{}}
}

func (a *streamAccumulator) observe(ck openai.ChatCompletionChunk) {
	if a.id == "" {
		a.id = ck.ID
	}
	if ck.Usage.TotalTokens > 0 {
		a.usage = &model.TokenUsage{
			PromptTokens:     int(ck.Usage.PromptTokens),
			CompletionTokens: int(ck.Usage.CompletionTokens),
			TotalTokens:      int(ck.Usage.TotalTokens),
		}
	}
}

// add folds a choice delta into the accumulator and returns the partial
// responses to forward.
func (a *streamAccumulator) add(ch openai.ChatCompletionChunkChoice) []model.Response {
	var partials []model.Response
	if ch.Delta.Content != "" {
		a.text.WriteString(ch.Delta.Content)
		partials = append(partials, model.Response{
			ID:      a.id,
			Partial: true,
			Content: core.NewAssistantContent(ch.Delta.Content),
		})
	}
	for _, tc := range ch.Delta.ToolCalls {
		ac, ok := a.calls[tc.Index]
		if !ok {
			ac = &aggCall{}
			a.calls[tc.Index] = ac
		}
		if tc.ID != "" {
			ac.id = tc.ID
		}
		if tc.Function.Name != "" {
			ac.name = tc.Function.Name
		}
		ac.args += tc.Function.Arguments
		partials = append(partials, model.Response{
			ID:      a.id,
			Partial: true,
			Content: core.Content{
				Role:  core.RoleAssistant,
				Parts: []core.Part{core.FunctionCallPart{FunctionCall: ac.call()}},
			},
		})
	}
	if ch.FinishReason != "" {
		a.finish = ch.FinishReason
	}
	return partials
}

func (a *streamAccumulator) final() model.Response {
	parts := make([]core.Part, 0, len(a.calls)+1)
	if a.text.Len() > 0 {
		parts = append(parts, core.TextPart{Text: a.text.String()})
	}
	indexes := make([]int64, 0, len(a.calls))
	for idx := range a.calls {
		indexes = append(indexes, idx)
	}
	slices.Sort(indexes)
	for _, idx := range indexes {
		parts = append(parts, core.FunctionCallPart{FunctionCall: a.calls[idx].call()})
	}
	finish := a.finish
	if finish == "" {
		finish = "stop"
	}
	return model.Response{
		ID:           a.id,
		Content:      core.Content{Role: core.RoleAssistant, Parts: parts},
		FinishReason: finish,
		Usage:        a.usage,
	}
}

func (c *aggCall) call() core.FunctionCall {
	return core.FunctionCall{ID: c.id, Name: c.name, Arguments: c.args}
}

func (m *Model) handleNonStreaming(
	ctx context.Context,
	params openai.ChatCompletionNewParams,
	out chan<- model.Response,
	errCh chan<- error,
) {
	completion, err := m.client.Chat.Completions.New(ctx, params)
	if err != nil {
		errCh <- fmt.Errorf("openai api error: %w", err)
		return
	}
	if len(completion.Choices) == 0 {
		errCh <- errors.New("openai returned no choices")
		return
	}
	send(ctx, out, toResponse(completion))
}

// toResponse converts the first choice of a completion.
func toResponse(c *openai.ChatCompletion) model.Response {
	choice := c.Choices[0]
	var parts []core.Part
	if choice.Message.Content != "" {
		parts = append(parts, core.TextPart{Text: choice.Message.Content})
	}
	for _, tc := range choice.Message.ToolCalls {
		parts = append(parts, core.FunctionCallPart{FunctionCall: core.FunctionCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		}})
	}
	return model.Response{
		ID:           c.ID,
		Content:      core.Content{Role: core.RoleAssistant, Parts: parts},
		FinishReason: choice.FinishReason,
		Usage: &model.TokenUsage{
			PromptTokens:     int(c.Usage.PromptTokens),
			CompletionTokens: int(c.Usage.CompletionTokens),
			TotalTokens:      int(c.Usage.TotalTokens),
		},
	}
}

// Info returns metadata describing this OpenAI model implementation.
func (m *Model) Info() model.Info {
	return model.Info{
		Name:          m.opts.Model,
		Provider:      "openai",
		SupportsTools: true,
	}
}

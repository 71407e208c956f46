package model

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/hupe1980/agentstep/core"
)

// ErrNoResponse is returned by Collect when a provider closed its stream
// without emitting a final (non-partial) response.
var ErrNoResponse = errors.New("model returned no final response")

// ToolCall represents a function call request surfaced by a model provider.
// Unified across vendors so downstream logic does not need per-provider branching.
type ToolCall struct {
	ID       string           `json:"id"`
	Type     string           `json:"type"` // "function"
	Function ToolCallFunction `json:"function"`
}

// ToolCallFunction describes the concrete function target of a tool call.
type ToolCallFunction struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"` // JSON string of arguments
}

// ToolDefinition declaratively exposes a callable function to the model.
type ToolDefinition struct {
	Type     string             `json:"type"` // "function"
	Function FunctionDefinition `json:"function"`
}

// FunctionDefinition describes an individual function (tool) exposed to the model.
// Parameters is a JSON Schema object (draft agnostic, minimal subset expected).
type FunctionDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"` // JSON Schema
}

// Request captures the normalized model input produced by agents.
type Request struct {
	Instructions string           `json:"instructions"` // System instructions for the model
	Contents     []core.Content   `json:"contents"`     // Conversation converted to provider messages
	Tools        []ToolDefinition `json:"tools,omitempty"`
	Stream       bool             `json:"stream,omitempty"`
}

// TokenUsage captures token usage statistics for a response.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Response is a (partial or final) chunk emitted by a streaming model.
type Response struct {
	ID           string       `json:"id"`
	Partial      bool         `json:"partial"` // Indicates if this is a partial response
	Content      core.Content `json:"content"`
	FinishReason string       `json:"finish_reason"` // "stop", "length", "tool_calls", etc.
	Usage        *TokenUsage  `json:"usage,omitempty"`
}

// Info contains metadata about a model implementation.
type Info struct {
	Name          string `json:"name"`
	Provider      string `json:"provider"` // "openai", "anthropic", "mock", etc.
	SupportsTools bool   `json:"supports_tools"`
}

// Model is the minimal interface required by agents to drive generation.
// Implementations close both channels when generation ends; at most one
// error is delivered.
type Model interface {
	Generate(ctx context.Context, req Request) (<-chan Response, <-chan error)

	// Info returns information about the model implementation.
	Info() Info
}

// Collect drains a Generate result and returns the final response. Partial
// chunks are skipped.
func Collect(ctx context.Context, respCh <-chan Response, errCh <-chan error) (Response, error) {
	var (
		final Response
		got   bool
	)
	for respCh != nil || errCh != nil {
		select {
		case <-ctx.Done():
			return Response{}, ctx.Err()
		case r, ok := <-respCh:
			if !ok {
				respCh = nil
				continue
			}
			if !r.Partial {
				final, got = r, true
			}
		case err, ok := <-errCh:
			if !ok {
				errCh = nil
				continue
			}
			if err != nil {
				return Response{}, err
			}
		}
	}
	if !got {
		return Response{}, ErrNoResponse
	}
	return final, nil
}

// GenerateOnce runs a non-streaming request and returns the final response.
func GenerateOnce(ctx context.Context, m Model, req Request) (Response, error) {
	req.Stream = false
	respCh, errCh := m.Generate(ctx, req)
	return Collect(ctx, respCh, errCh)
}

// MockModel is a lightweight in-memory Model useful for tests & examples.
type MockModel struct {
	info      Info
	mu        sync.RWMutex
	responses map[string]string
}

// NewMockModel constructs a MockModel with basic tool support enabled.
func NewMockModel(name, provider string) *MockModel {
	return &MockModel{
		info: Info{
			Name:          name,
			Provider:      provider,
			SupportsTools: true,
		},
		responses: make(map[string]string),
	}
}

// AddResponse registers a deterministic canned completion for an input prompt.
func (m *MockModel) AddResponse(prompt, response string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses[prompt] = response
}

// Generate implements Model; emits optional streaming char chunks then final response.
func (m *MockModel) Generate(ctx context.Context, req Request) (<-chan Response, <-chan error) {
	respCh := make(chan Response, 16)
	errCh := make(chan error, 1)

	go func() {
		defer close(respCh)
		defer close(errCh)
		if len(req.Contents) == 0 {
			errCh <- fmt.Errorf("no contents provided")
			return
		}
		inputText := req.Contents[len(req.Contents)-1].Text()
		m.mu.RLock()
		full := m.responses[inputText]
		m.mu.RUnlock()
		if full == "" {
			full = fmt.Sprintf("Mock response to: %s", inputText)
		}
		if req.Stream {
			for _, r := range full {
				select {
				case <-ctx.Done():
					errCh <- ctx.Err()
					return
				case respCh <- Response{
					Partial: true,
					Content: core.NewAssistantContent(string(r)),
				}:
				}
			}
		}
		respCh <- Response{
			Partial:      false,
			Content:      core.NewAssistantContent(full),
			FinishReason: "stop",
		}
	}()
	return respCh, errCh
}

// Info implements Model interface.
func (m *MockModel) Info() Info { return m.info }

// ScriptedTurn is one pre-programmed reply of a ScriptedModel.
type ScriptedTurn struct {
	Content core.Content
	Err     error
}

// ScriptedModel replays a fixed sequence of turns, one per Generate call,
// and records every request it receives. Once the script is exhausted the
// last turn is repeated.
type ScriptedModel struct {
	mu       sync.Mutex
	turns    []ScriptedTurn
	next     int
	requests []Request
}

// NewScriptedModel creates a ScriptedModel replaying turns in order.
func NewScriptedModel(turns ...ScriptedTurn) *ScriptedModel {
	return &ScriptedModel{turns: turns}
}

// Generate implements Model.
func (m *ScriptedModel) Generate(ctx context.Context, req Request) (<-chan Response, <-chan error) {
	respCh := make(chan Response, 1)
	errCh := make(chan error, 1)

	m.mu.Lock()
	m.requests = append(m.requests, req)
	var turn ScriptedTurn
	if len(m.turns) > 0 {
		idx := m.next
		if idx >= len(m.turns) {
			idx = len(m.turns) - 1
		}
		turn = m.turns[idx]
		m.next++
	}
	m.mu.Unlock()

	defer close(respCh)
	defer close(errCh)

	switch {
	case ctx.Err() != nil:
		errCh <- ctx.Err()
	case turn.Err != nil:
		errCh <- turn.Err
	default:
		finish := "stop"
		if len(turn.Content.FunctionCalls()) > 0 {
			finish = "tool_calls"
		}
		respCh <- Response{Content: turn.Content, FinishReason: finish}
	}
	return respCh, errCh
}

// Requests returns a copy of the recorded requests.
func (m *ScriptedModel) Requests() []Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Request, len(m.requests))
	copy(out, m.requests)
	return out
}

// Info implements Model.
func (m *ScriptedModel) Info() Info {
	return Info{Name: "scripted", Provider: "mock", SupportsTools: true}
}

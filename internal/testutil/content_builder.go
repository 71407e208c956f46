package testutil

import (
	"github.com/hupe1980/agentstep/core"
)

// ContentBuilder provides a fluent helper for constructing messages in tests.
// Example:
//
//	c := NewContentBuilder().AssistantText("checking").FunctionCall("c1", "terminate", `{"status":"success"}`).Build()
//
// Chain only the parts you need; the role defaults to assistant.
type ContentBuilder struct {
	role          string
	textParts     []string
	funcCalls     []core.FunctionCall
	funcResponses []core.FunctionResponse
	customParts   []core.Part
}

// NewContentBuilder creates an empty builder.
func NewContentBuilder() *ContentBuilder { return &ContentBuilder{} }

// UserText appends a user role text part and sets role to user (chainable).
func (b *ContentBuilder) UserText(t string) *ContentBuilder {
	b.role = core.RoleUser
	b.textParts = append(b.textParts, t)
	return b
}

// AssistantText appends an assistant role text part and sets role to assistant (chainable).
func (b *ContentBuilder) AssistantText(t string) *ContentBuilder {
	b.role = core.RoleAssistant
	b.textParts = append(b.textParts, t)
	return b
}

// AddPart appends a custom content part (chainable).
func (b *ContentBuilder) AddPart(p core.Part) *ContentBuilder {
	b.customParts = append(b.customParts, p)
	return b
}

// FunctionCall adds a function call part with the provided id, name and JSON argument string (chainable).
func (b *ContentBuilder) FunctionCall(id, name, args string) *ContentBuilder {
	b.funcCalls = append(b.funcCalls, core.FunctionCall{ID: id, Name: name, Arguments: args})
	return b
}

// FunctionResponse adds a function response part and sets role to tool (chainable).
func (b *ContentBuilder) FunctionResponse(id, name string, result any, err error) *ContentBuilder {
	fr := core.FunctionResponse{ID: id, Name: name, Response: result}
	if err != nil {
		fr.Error = err.Error()
	}
	b.role = core.RoleTool
	b.funcResponses = append(b.funcResponses, fr)
	return b
}

// Build constructs the core.Content value.
func (b *ContentBuilder) Build() core.Content {
	parts := make([]core.Part, 0, len(b.textParts)+len(b.funcCalls)+len(b.funcResponses)+len(b.customParts))
	for _, t := range b.textParts {
		parts = append(parts, core.TextPart{Text: t})
	}
	for _, fc := range b.funcCalls {
		parts = append(parts, core.FunctionCallPart{FunctionCall: fc})
	}
	for _, fr := range b.funcResponses {
		parts = append(parts, core.FunctionResponsePart{FunctionResponse: fr})
	}
	parts = append(parts, b.customParts...)

	role := b.role
	if role == "" {
		role = core.RoleAssistant
	}
	return core.Content{Role: role, Parts: parts}
}

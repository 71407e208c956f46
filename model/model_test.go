package model

import (
	"context"
	"errors"
	"testing"

	"github.com/hupe1980/agentstep/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollect_SkipsPartials(t *testing.T) {
	respCh := make(chan Response, 3)
	errCh := make(chan error)
	respCh <- Response{Partial: true, Content: core.NewAssistantContent("h")}
	respCh <- Response{Partial: true, Content: core.NewAssistantContent("i")}
	respCh <- Response{Content: core.NewAssistantContent("hi"), FinishReason: "stop"}
	close(respCh)
	close(errCh)

	resp, err := Collect(context.Background(), respCh, errCh)
	require.NoError(t, err)
	assert.Equal(t, "hi", resp.Content.Text())
	assert.Equal(t, "stop", resp.FinishReason)
}

func TestCollect_NoFinalResponse(t *testing.T) {
	respCh := make(chan Response, 1)
	errCh := make(chan error)
	respCh <- Response{Partial: true}
	close(respCh)
	close(errCh)

	_, err := Collect(context.Background(), respCh, errCh)
	assert.ErrorIs(t, err, ErrNoResponse)
}

func TestCollect_PropagatesError(t *testing.T) {
	respCh := make(chan Response)
	errCh := make(chan error, 1)
	errCh <- errors.New("rate limited")
	close(respCh)
	close(errCh)

	_, err := Collect(context.Background(), respCh, errCh)
	assert.EqualError(t, err, "rate limited")
}

func TestCollect_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Collect(ctx, make(chan Response), make(chan error))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestMockModel_CannedAndDefault(t *testing.T) {
	m := NewMockModel("mock-1", "mock")
	m.AddResponse("ping", "pong")

	resp, err := GenerateOnce(context.Background(), m, Request{Contents: []core.Content{core.NewUserContent("ping")}})
	require.NoError(t, err)
	assert.Equal(t, "pong", resp.Content.Text())

	resp, err = GenerateOnce(context.Background(), m, Request{Contents: []core.Content{core.NewUserContent("other")}})
	require.NoError(t, err)
	assert.Equal(t, "Mock response to: other", resp.Content.Text())
	assert.Equal(t, "mock", m.Info().Provider)
}

func TestMockModel_Streaming(t *testing.T) {
	m := NewMockModel("mock-1", "mock")
	m.AddResponse("q", "abc")

	respCh, errCh := m.Generate(context.Background(), Request{
		Contents: []core.Content{core.NewUserContent("q")},
		Stream:   true,
	})

	var partials int
	var final Response
	for r := range respCh {
		if r.Partial {
			partials++
			continue
		}
		final = r
	}
	require.NoError(t, <-errCh)
	assert.Equal(t, 3, partials)
	assert.Equal(t, "abc", final.Content.Text())
}

func TestMockModel_NoContents(t *testing.T) {
	_, err := GenerateOnce(context.Background(), NewMockModel("m", "mock"), Request{})
	assert.Error(t, err)
}

func TestScriptedModel_ReplaysAndRepeatsLast(t *testing.T) {
	call := core.Content{Role: core.RoleAssistant, Parts: []core.Part{
		core.FunctionCallPart{FunctionCall: core.FunctionCall{ID: "c1", Name: "terminate", Arguments: "{}"}},
	}}
	m := NewScriptedModel(
		ScriptedTurn{Content: core.NewAssistantContent("thinking")},
		ScriptedTurn{Content: call},
	)
	ctx := context.Background()
	req := Request{Contents: []core.Content{core.NewUserContent("go")}}

	r1, err := GenerateOnce(ctx, m, req)
	require.NoError(t, err)
	assert.Equal(t, "thinking", r1.Content.Text())
	assert.Equal(t, "stop", r1.FinishReason)

	r2, err := GenerateOnce(ctx, m, req)
	require.NoError(t, err)
	assert.Equal(t, "tool_calls", r2.FinishReason)

	r3, err := GenerateOnce(ctx, m, req)
	require.NoError(t, err)
	assert.Equal(t, r2.Content, r3.Content)

	assert.Len(t, m.Requests(), 3)
}

func TestScriptedModel_Error(t *testing.T) {
	m := NewScriptedModel(ScriptedTurn{Err: errors.New("upstream down")})
	_, err := GenerateOnce(context.Background(), m, Request{})
	assert.EqualError(t, err, "upstream down")
}

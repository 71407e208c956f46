package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/hupe1980/agentstep/core"
	"github.com/hupe1980/agentstep/model"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerate_NonStreaming(t *testing.T) {
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "chatcmpl-1",
			"object": "chat.completion",
			"created": 1,
			"model": "gpt-4o-mini",
			"choices": [{"index": 0, "message": {"role": "assistant", "content": "hello"}, "finish_reason": "stop"}],
			"usage": {"prompt_tokens": 3, "completion_tokens": 2, "total_tokens": 5}
		}`))
	}))
	defer srv.Close()

	client := openai.NewClient(option.WithBaseURL(srv.URL+"/"), option.WithAPIKey("test"))
	m := NewModelFromClient(&client)

	resp, err := model.GenerateOnce(context.Background(), m, model.Request{
		Instructions: "be brief",
		Contents:     []core.Content{core.NewUserContent("hi")},
	})
	require.NoError(t, err)
	assert.Equal(t, "hello", resp.Content.Text())
	assert.Equal(t, "stop", resp.FinishReason)
	require.NotNil(t, resp.Usage)
	assert.Equal(t, 5, resp.Usage.TotalTokens)

	msgs, ok := body["messages"].([]any)
	require.True(t, ok)
	require.Len(t, msgs, 2)
	assert.Equal(t, "system", msgs[0].(map[string]any)["role"])
}

func TestToMessages_PlacesToolResultsAfterCalls(t *testing.T) {
	req := model.Request{Contents: []core.Content{
		core.NewUserContent("book it"),
		{Role: core.RoleAssistant, Parts: []core.Part{
			core.FunctionCallPart{FunctionCall: core.FunctionCall{ID: "c1", Name: "book", Arguments: "{}"}},
		}},
		core.NewFunctionResponseContent("c1", "book", "ok", nil),
		core.NewFunctionResponseContent("orphan", "book", "late", nil),
	}}

	msgs := toMessages(req)
	require.Len(t, msgs, 4)
	assert.NotNil(t, msgs[0].OfUser)
	assert.NotNil(t, msgs[1].OfAssistant)
	require.NotNil(t, msgs[2].OfTool)
	assert.Equal(t, "c1", msgs[2].OfTool.ToolCallID)
	require.NotNil(t, msgs[3].OfTool)
	assert.Equal(t, "orphan", msgs[3].OfTool.ToolCallID)
}

func TestToolResultText(t *testing.T) {
	assert.Equal(t, "ok", toolResultText(core.FunctionResponse{Response: "ok"}))
	assert.Equal(t, "42", toolResultText(core.FunctionResponse{Response: 42}))
	assert.Equal(t, "Error: no such city", toolResultText(core.FunctionResponse{Response: "ignored", Error: "no such city"}))
}

func TestGenerate_Streaming(t *testing.T) {
	chunks := []string{
		`{"id":"c1","object":"chat.completion.chunk","created":1,"model":"gpt-4o-mini","choices":[{"index":0,"delta":{"role":"assistant","content":"Hel"}}]}`,
		`{"id":"c1","object":"chat.completion.chunk","created":1,"model":"gpt-4o-mini","choices":[{"index":0,"delta":{"content":"lo"}}]}`,
		`{"id":"c1","object":"chat.completion.chunk","created":1,"model":"gpt-4o-mini","choices":[{"index":0,"delta":{"tool_calls":[{"index":1,"id":"b","type":"function","function":{"name":"second","arguments":"{}"}}]}}]}`,
		`{"id":"c1","object":"chat.completion.chunk","created":1,"model":"gpt-4o-mini","choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"id":"a","type":"function","function":{"name":"first","arguments":"{\"x\":"}}]}}]}`,
		`{"id":"c1","object":"chat.completion.chunk","created":1,"model":"gpt-4o-mini","choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"function":{"arguments":"1}"}}]},"finish_reason":"tool_calls"}]}`,
		`{"id":"c1","object":"chat.completion.chunk","created":1,"model":"gpt-4o-mini","choices":[],"usage":{"prompt_tokens":4,"completion_tokens":6,"total_tokens":10}}`,
	}
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		w.Header().Set("Content-Type", "text/event-stream")
		for _, c := range chunks {
			_, _ = w.Write([]byte("data: " + c + "\n\n"))
		}
		_, _ = w.Write([]byte("data: [DONE]\n\n"))
	}))
	defer srv.Close()

	m := NewModel(func(o *Options) {
		o.APIKey = "test"
		o.BaseURL = srv.URL + "/"
	})
	respCh, errCh := m.Generate(context.Background(), model.Request{
		Contents: []core.Content{core.NewUserContent("hi")},
		Stream:   true,
	})

	var partials int
	var final model.Response
	for r := range respCh {
		if r.Partial {
			partials++
			continue
		}
		final = r
	}
	require.NoError(t, <-errCh)

	assert.Equal(t, 5, partials)
	assert.Equal(t, "c1", final.ID)
	assert.Equal(t, "Hello", final.Content.Text())
	assert.Equal(t, "tool_calls", final.FinishReason)
	calls := final.Content.FunctionCalls()
	require.Len(t, calls, 2)
	assert.Equal(t, core.FunctionCall{ID: "a", Name: "first", Arguments: `{"x":1}`}, calls[0])
	assert.Equal(t, "second", calls[1].Name)
	require.NotNil(t, final.Usage)
	assert.Equal(t, 10, final.Usage.TotalTokens)

	opts, ok := body["stream_options"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, true, opts["include_usage"])
}

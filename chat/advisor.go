package chat

import (
	"context"

	"github.com/hupe1980/agentstep/internal/util"
	"github.com/hupe1980/agentstep/logging"
)

// Request is the advised form of a chat turn. Advisors may rewrite any field
// before the model is called.
type Request struct {
	ChatID   string
	System   string
	UserText string
	// Params are extra template values available to advisors.
	Params map[string]any
}

// Response is the model's answer as seen by advisors.
type Response struct {
	Text         string
	FinishReason string
}

// Advisor intercepts chat turns. Before runs in registration order, After in
// reverse order.
type Advisor interface {
	Name() string
	Before(ctx context.Context, req Request) (Request, error)
	After(ctx context.Context, req Request, resp Response) Response
}

// DefaultReReadingTemplate repeats the question to the model.
const DefaultReReadingTemplate = "{{.query}}\nRead the question again: {{.query}}"

// ReReadingAdvisor rewrites the user text so the model reads the question
// twice before answering.
type ReReadingAdvisor struct {
	template string
}

// NewReReadingAdvisor creates the advisor. An empty tmpl selects
// DefaultReReadingTemplate; {{.query}} is replaced with the user text.
func NewReReadingAdvisor(tmpl string) *ReReadingAdvisor {
	if tmpl == "" {
		tmpl = DefaultReReadingTemplate
	}
	return &ReReadingAdvisor{template: tmpl}
}

// Name implements Advisor.
func (a *ReReadingAdvisor) Name() string { return "re_reading" }

// Before implements Advisor.
func (a *ReReadingAdvisor) Before(_ context.Context, req Request) (Request, error) {
	params := make(map[string]any, len(req.Params)+1)
	for k, v := range req.Params {
		params[k] = v
	}
	params["query"] = req.UserText

	text, err := util.RenderTemplate(a.template, params)
	if err != nil {
		return req, err
	}
	req.UserText = text
	req.Params = params
	return req, nil
}

// After implements Advisor.
func (a *ReReadingAdvisor) After(_ context.Context, _ Request, resp Response) Response { return resp }

// LoggingAdvisor logs each request and response at info level.
type LoggingAdvisor struct {
	logger logging.Logger
}

// NewLoggingAdvisor creates a LoggingAdvisor. A nil logger discards output.
func NewLoggingAdvisor(logger logging.Logger) *LoggingAdvisor {
	if logger == nil {
		logger = logging.NoOpLogger{}
	}
	return &LoggingAdvisor{logger: logger}
}

// Name implements Advisor.
func (a *LoggingAdvisor) Name() string { return "logging" }

// Before implements Advisor.
func (a *LoggingAdvisor) Before(_ context.Context, req Request) (Request, error) {
	a.logger.Info("chat.request", "chat_id", req.ChatID, "text", req.UserText)
	return req, nil
}

// After implements Advisor.
func (a *LoggingAdvisor) After(_ context.Context, req Request, resp Response) Response {
	a.logger.Info("chat.response", "chat_id", req.ChatID, "text", resp.Text, "finish_reason", resp.FinishReason)
	return resp
}

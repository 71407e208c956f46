package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/hupe1980/agentstep/core"
	"github.com/hupe1980/agentstep/logging"
	"github.com/hupe1980/agentstep/memory"
	"github.com/hupe1980/agentstep/model"
)

// DefaultHistorySize is the number of remembered messages sent with each turn.
const DefaultHistorySize = 10

// DefaultSystemPrompt introduces the assistant as a planning expert.
const DefaultSystemPrompt = "You are an expert in planning and time management. " +
	"Introduce yourself and tell the user they can ask about any planning problem, such as goal setting, scheduling or task prioritization. " +
	"Ask about daily plans, project plans and long-term goals, and guide the user to describe their plan, progress, obstacles and ideas " +
	"so you can give a tailored solution."

// ErrEmptyMessage is returned for a blank chat message.
var ErrEmptyMessage = errors.New("chat: empty message")

// Options configures an App.
type Options struct {
	SystemPrompt string
	// HistorySize is the number of remembered messages sent with each turn.
	HistorySize int
	Memory      memory.ChatMemory
	Advisors    []Advisor
	Logger      logging.Logger
}

// App answers chat messages with a single model call per turn.
type App struct {
	llm         model.Model
	system      string
	historySize int
	memory      memory.ChatMemory
	advisors    []Advisor
	logger      logging.Logger
}

// New creates an App around llm.
func New(llm model.Model, optFns ...func(o *Options)) *App {
	opts := Options{
		SystemPrompt: DefaultSystemPrompt,
		HistorySize:  DefaultHistorySize,
		Logger:       logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Memory == nil {
		opts.Memory = memory.NewInMemoryStore()
	}
	if opts.HistorySize <= 0 {
		opts.HistorySize = DefaultHistorySize
	}
	return &App{
		llm:         llm,
		system:      opts.SystemPrompt,
		historySize: opts.HistorySize,
		memory:      opts.Memory,
		advisors:    opts.Advisors,
		logger:      opts.Logger,
	}
}

// Chat answers message within the conversation chatID.
func (a *App) Chat(ctx context.Context, chatID, message string) (string, error) {
	req, mreq, err := a.prepare(ctx, chatID, message)
	if err != nil {
		return "", err
	}

	resp, err := model.GenerateOnce(ctx, a.llm, mreq)
	if err != nil {
		a.logger.Error("chat.generate.failed", "chat_id", chatID, "error", err.Error())
		return "", fmt.Errorf("chat: %w", err)
	}

	out := a.finish(ctx, req, message, Response{Text: resp.Content.Text(), FinishReason: resp.FinishReason})
	return out.Text, nil
}

// ChatStream streams the answer as text chunks. Both channels are closed
// when the answer is complete; at most one error is delivered. The turn is
// remembered only once the final response arrived.
func (a *App) ChatStream(ctx context.Context, chatID, message string) (<-chan string, <-chan error) {
	chunks := make(chan string, 16)
	errs := make(chan error, 1)

	req, mreq, err := a.prepare(ctx, chatID, message)
	if err != nil {
		errs <- err
		close(chunks)
		close(errs)
		return chunks, errs
	}
	mreq.Stream = true

	go func() {
		defer close(chunks)
		defer close(errs)

		respCh, errCh := a.llm.Generate(ctx, mreq)
		var (
			final    model.Response
			got      bool
			streamed bool
		)
		send := func(text string) bool {
			select {
			case chunks <- text:
				return true
			case <-ctx.Done():
				return false
			}
		}

		for respCh != nil || errCh != nil {
			select {
			case <-ctx.Done():
				errs <- ctx.Err()
				return
			case r, ok := <-respCh:
				if !ok {
					respCh = nil
					continue
				}
				if !r.Partial {
					final, got = r, true
					continue
				}
				if text := r.Content.Text(); text != "" {
					streamed = true
					if !send(text) {
						errs <- ctx.Err()
						return
					}
				}
			case e, ok := <-errCh:
				if !ok {
					errCh = nil
					continue
				}
				if e != nil {
					a.logger.Error("chat.stream.failed", "chat_id", chatID, "error", e.Error())
					errs <- fmt.Errorf("chat: %w", e)
					return
				}
			}
		}
		if !got {
			errs <- fmt.Errorf("chat: %w", model.ErrNoResponse)
			return
		}

		out := a.finish(ctx, req, message, Response{Text: final.Content.Text(), FinishReason: final.FinishReason})
		if !streamed && out.Text != "" {
			send(out.Text)
		}
	}()

	return chunks, errs
}

// History returns the remembered messages of a conversation.
func (a *App) History(chatID string) []core.Content { return a.memory.Get(chatID, 0) }

func (a *App) prepare(ctx context.Context, chatID, message string) (Request, model.Request, error) {
	if strings.TrimSpace(message) == "" {
		return Request{}, model.Request{}, ErrEmptyMessage
	}
	if chatID == "" {
		chatID = "default"
	}

	req := Request{ChatID: chatID, System: a.system, UserText: message}
	for _, adv := range a.advisors {
		var err error
		if req, err = adv.Before(ctx, req); err != nil {
			return Request{}, model.Request{}, fmt.Errorf("chat: advisor %s: %w", adv.Name(), err)
		}
	}

	contents := a.memory.Get(req.ChatID, a.historySize)
	contents = append(contents, core.NewUserContent(req.UserText))
	return req, model.Request{Instructions: req.System, Contents: contents}, nil
}

// finish runs the after-advisors and remembers the original message with
// the answer.
func (a *App) finish(ctx context.Context, req Request, message string, resp Response) Response {
	for i := len(a.advisors) - 1; i >= 0; i-- {
		resp = a.advisors[i].After(ctx, req, resp)
	}
	if err := a.memory.Add(req.ChatID, core.NewUserContent(message), core.NewAssistantContent(resp.Text)); err != nil {
		a.logger.Warn("chat.memory.failed", "chat_id", req.ChatID, "error", err.Error())
	}
	return resp
}

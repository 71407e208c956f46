// Package middleware provides model.Model decorators for cross-cutting
// concerns: client side rate limiting and OpenTelemetry tracing.
package middleware

import (
	"context"
	"fmt"

	"github.com/hupe1980/agentstep/model"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"
)

// Middleware wraps a model with additional behaviour.
type Middleware func(model.Model) model.Model

// Chain applies middlewares so that the first one is the outermost.
func Chain(m model.Model, mws ...Middleware) model.Model {
	for i := len(mws) - 1; i >= 0; i-- {
		if mws[i] != nil {
			m = mws[i](m)
		}
	}
	return m
}

type rateLimited struct {
	inner   model.Model
	limiter *rate.Limiter
}

// RateLimit blocks each Generate call until the limiter grants a token.
// A nil limiter disables limiting.
func RateLimit(limiter *rate.Limiter) Middleware {
	return func(m model.Model) model.Model {
		if limiter == nil {
			return m
		}
		return &rateLimited{inner: m, limiter: limiter}
	}
}

// Generate implements model.Model.
func (r *rateLimited) Generate(ctx context.Context, req model.Request) (<-chan model.Response, <-chan error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return failed(fmt.Errorf("model rate limit: %w", err))
	}
	return r.inner.Generate(ctx, req)
}

// Info implements model.Model.
func (r *rateLimited) Info() model.Info { return r.inner.Info() }

type traced struct {
	inner  model.Model
	tracer trace.Tracer
}

// Trace records one client span per Generate call. The span ends when the
// underlying channels are drained.
func Trace(tracer trace.Tracer) Middleware {
	return func(m model.Model) model.Model {
		if tracer == nil {
			return m
		}
		return &traced{inner: m, tracer: tracer}
	}
}

// Generate implements model.Model.
func (t *traced) Generate(ctx context.Context, req model.Request) (<-chan model.Response, <-chan error) {
	info := t.inner.Info()
	ctx, span := t.tracer.Start(
		ctx,
		"model.generate",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("agentstep.model", info.Name),
			attribute.String("agentstep.provider", info.Provider),
			attribute.Bool("agentstep.stream", req.Stream),
			attribute.Int("agentstep.contents", len(req.Contents)),
			attribute.Int("agentstep.tools", len(req.Tools)),
		),
	)

	innerResp, innerErr := t.inner.Generate(ctx, req)
	out := make(chan model.Response, cap(innerResp))
	errCh := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errCh)
		defer span.End()

		var failedErr error
		for innerResp != nil || innerErr != nil {
			select {
			case r, ok := <-innerResp:
				if !ok {
					innerResp = nil
					continue
				}
				if !r.Partial {
					if r.FinishReason != "" {
						span.AddEvent("model.stop", trace.WithAttributes(attribute.String("reason", r.FinishReason)))
					}
					if r.Usage != nil {
						span.AddEvent("model.usage", trace.WithAttributes(
							attribute.Int("prompt_tokens", r.Usage.PromptTokens),
							attribute.Int("completion_tokens", r.Usage.CompletionTokens),
							attribute.Int("total_tokens", r.Usage.TotalTokens),
						))
					}
				}
				out <- r
			case err, ok := <-innerErr:
				if !ok {
					innerErr = nil
					continue
				}
				if err != nil && failedErr == nil {
					failedErr = err
					errCh <- err
				}
			}
		}

		if failedErr != nil {
			span.RecordError(failedErr)
			span.SetStatus(codes.Error, "model generate failed")
			return
		}
		span.SetStatus(codes.Ok, "ok")
	}()

	return out, errCh
}

// Info implements model.Model.
func (t *traced) Info() model.Info { return t.inner.Info() }

func failed(err error) (<-chan model.Response, <-chan error) {
	out := make(chan model.Response)
	errCh := make(chan error, 1)
	errCh <- err
	close(out)
	close(errCh)
	return out, errCh
}

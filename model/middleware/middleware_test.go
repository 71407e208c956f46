package middleware

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hupe1980/agentstep/core"
	"github.com/hupe1980/agentstep/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"golang.org/x/time/rate"
)

func userReq(text string) model.Request {
	return model.Request{Contents: []core.Content{core.NewUserContent(text)}}
}

func TestRateLimit_WaitsForToken(t *testing.T) {
	limiter := rate.NewLimiter(rate.Every(50*time.Millisecond), 1)
	m := Chain(model.NewMockModel("mock", "mock"), RateLimit(limiter))

	start := time.Now()
	for i := 0; i < 3; i++ {
		_, err := model.GenerateOnce(context.Background(), m, userReq("hi"))
		require.NoError(t, err)
	}
	assert.GreaterOrEqual(t, time.Since(start), 90*time.Millisecond)
}

func TestRateLimit_ContextCancelled(t *testing.T) {
	limiter := rate.NewLimiter(rate.Every(time.Hour), 1)
	m := RateLimit(limiter)(model.NewMockModel("mock", "mock"))

	_, err := model.GenerateOnce(context.Background(), m, userReq("first"))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = model.GenerateOnce(ctx, m, userReq("second"))
	assert.Error(t, err)
}

func TestRateLimit_NilLimiterPassthrough(t *testing.T) {
	inner := model.NewMockModel("mock", "mock")
	assert.Same(t, inner, RateLimit(nil)(inner))
}

func TestTrace_RecordsSpan(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	m := Trace(tp.Tracer("test"))(model.NewMockModel("mock-1", "mock"))

	resp, err := model.GenerateOnce(context.Background(), m, userReq("hi"))
	require.NoError(t, err)
	assert.Equal(t, "Mock response to: hi", resp.Content.Text())

	require.Eventually(t, func() bool { return len(rec.Ended()) == 1 }, time.Second, 5*time.Millisecond)
	span := rec.Ended()[0]
	assert.Equal(t, "model.generate", span.Name())
	assert.Equal(t, codes.Ok, span.Status().Code)
}

func TestTrace_RecordsError(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	inner := model.NewScriptedModel(model.ScriptedTurn{Err: errors.New("boom")})
	m := Trace(tp.Tracer("test"))(inner)

	_, err := model.GenerateOnce(context.Background(), m, userReq("hi"))
	require.EqualError(t, err, "boom")

	require.Eventually(t, func() bool { return len(rec.Ended()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, codes.Error, rec.Ended()[0].Status().Code)
}

func TestChain_Order(t *testing.T) {
	var order []string
	mk := func(name string) Middleware {
		return func(m model.Model) model.Model {
			order = append(order, name)
			return m
		}
	}
	Chain(model.NewMockModel("m", "mock"), mk("outer"), mk("inner"))
	assert.Equal(t, []string{"inner", "outer"}, order)
}

package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestSetup_DisabledWithoutEndpoint(t *testing.T) {
	shutdown, err := Setup(context.Background(), Config{})
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
}

func TestSetup_UnknownProtocol(t *testing.T) {
	_, err := Setup(context.Background(), Config{Endpoint: "localhost:4317", Protocol: "carrier-pigeon"})
	assert.ErrorContains(t, err, "unknown protocol")
}

func TestNewProvider_AttachesServiceResource(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	tp, err := NewProvider(context.Background(), Config{Version: "test"}, sdktrace.WithSpanProcessor(rec))
	require.NoError(t, err)

	_, span := tp.Tracer("t").Start(context.Background(), "op")
	span.End()
	require.NoError(t, tp.Shutdown(context.Background()))

	spans := rec.Ended()
	require.Len(t, spans, 1)
	var service string
	for _, kv := range spans[0].Resource().Attributes() {
		if kv.Key == "service.name" {
			service = kv.Value.AsString()
		}
	}
	assert.Equal(t, "agentstep", service)
}

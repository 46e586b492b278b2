package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	"github.com/freekieb7/causeway/config"
)

func TestSetup_Disabled(t *testing.T) {
	shutdown, err := Setup(context.Background(), config.TelemetryConfig{})
	require.NoError(t, err)
	require.NoError(t, shutdown(context.Background()))

	// trace context is still propagated
	require.ElementsMatch(t, []string{"traceparent", "tracestate", "baggage"}, otel.GetTextMapPropagator().Fields())
}

func TestNewResource(t *testing.T) {
	res, err := newResource(context.Background(), config.TelemetryConfig{
		ServiceName: "causeway-test",
		Environment: "test",
	})
	require.NoError(t, err)

	value, ok := res.Set().Value(semconv.ServiceNameKey)
	require.True(t, ok)
	require.Equal(t, "causeway-test", value.AsString())
}

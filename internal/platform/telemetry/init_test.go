package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"

	"hookline/internal/platform/config"
)

func TestInit_DisabledWithoutURL(t *testing.T) {
	shutdown, err := Init(config.ObservabilityConfig{ServiceName: "hookline"})
	require.NoError(t, err)
	require.NotNil(t, shutdown)
	shutdown(context.Background())

	assert.Contains(t, otel.GetTextMapPropagator().Fields(), "traceparent")
}

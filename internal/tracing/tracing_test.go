package tracing

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitWithoutEndpoint(t *testing.T) {
	ctx := context.Background()
	tp, tracer, err := Init(ctx, Config{})
	require.NoError(t, err)
	require.NotNil(t, tracer)

	_, span := tracer.Start(ctx, "cycle")
	assert.True(t, span.SpanContext().IsValid())
	span.End()

	assert.NoError(t, tp.Shutdown(ctx))
}

func TestInitWithEndpoint(t *testing.T) {
	ctx := context.Background()
	tp, _, err := Init(ctx, Config{ServiceName: "gtrader-test", Endpoint: "127.0.0.1:4317", Insecure: true})
	require.NoError(t, err)
	// Nothing was recorded, so shutdown does not need a collector.
	_ = tp.Shutdown(ctx)
}

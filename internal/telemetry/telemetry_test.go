package telemetry

import (
	"bytes"
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
)

func TestSetupTracingNone(t *testing.T) {
	shutdown, err := SetupTracing(ExporterNone, nil)
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
}

func TestSetupTracingStdout(t *testing.T) {
	prev := otel.GetTracerProvider()
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	var buf bytes.Buffer
	shutdown, err := SetupTracing(ExporterStdout, &buf)
	require.NoError(t, err)

	_, span := otel.Tracer("fingraph.test").Start(context.Background(), "test.span")
	span.End()
	require.NoError(t, shutdown(context.Background()))

	assert.Contains(t, buf.String(), "test.span")
}

func TestSetupTracingUnknown(t *testing.T) {
	_, err := SetupTracing("jaeger", nil)
	assert.Error(t, err)
}

func TestCountersIncrement(t *testing.T) {
	before := testutil.ToFloat64(QueryCacheRequests.WithLabelValues("hit"))
	QueryCacheRequests.WithLabelValues("hit").Inc()
	assert.Equal(t, before+1, testutil.ToFloat64(QueryCacheRequests.WithLabelValues("hit")))
}

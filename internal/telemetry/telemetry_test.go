package telemetry

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestInit_Disabled(t *testing.T) {
	shutdown, err := Init(context.Background(), Config{})
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
}

func TestInit_RequiresServiceName(t *testing.T) {
	_, err := Init(context.Background(), Config{Enabled: true})
	assert.Error(t, err)
}

func TestNewTracerProvider_EmitsSpans(t *testing.T) {
	exp := tracetest.NewInMemoryExporter()

	tp, err := NewTracerProvider(exp, Config{ServiceName: "calmplan-test", ServiceVersion: "v0"})
	require.NoError(t, err)

	_, sp := tp.Tracer("test").Start(context.Background(), "cascade.update_step")
	sp.End()
	require.NoError(t, tp.ForceFlush(context.Background()))

	spans := exp.GetSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, "cascade.update_step", spans[0].Name)

	found := false
	for _, kv := range spans[0].Resource.Attributes() {
		if kv.Key == attribute.Key("service.name") {
			found = kv.Value.AsString() == "calmplan-test"
		}
	}
	assert.True(t, found, "resource should carry service.name")
	require.NoError(t, tp.Shutdown(context.Background()))
}

func TestMetrics_Registered(t *testing.T) {
	before := testutil.ToFloat64(CascadeOperations.WithLabelValues("update_step", "applied"))
	CascadeOperations.WithLabelValues("update_step", "applied").Inc()
	assert.Equal(t, before+1, testutil.ToFloat64(CascadeOperations.WithLabelValues("update_step", "applied")))
}

package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func TestAdd_RecordsAttributes(t *testing.T) {
	ctx := context.Background()
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = provider.Shutdown(ctx) })

	counter, err := provider.Meter("test").Int64Counter("decisions")
	require.NoError(t, err)

	Add(ctx, counter, 1, "status", "approved", "deferred", "false")
	Add(ctx, counter, 2, "status", "approved", "deferred", "false")
	Add(ctx, counter, 1, "status", "rejected", "dangling")

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(ctx, &rm))
	require.Len(t, rm.ScopeMetrics, 1)
	require.Len(t, rm.ScopeMetrics[0].Metrics, 1)

	sum, ok := rm.ScopeMetrics[0].Metrics[0].Data.(metricdata.Sum[int64])
	require.True(t, ok)

	byStatus := map[string]int64{}
	for _, dp := range sum.DataPoints {
		status, _ := dp.Attributes.Value(attribute.Key("status"))
		byStatus[status.AsString()] = dp.Value
		if status.AsString() == "rejected" {
			require.Equal(t, 1, dp.Attributes.Len())
		}
	}
	require.Equal(t, map[string]int64{"approved": 3, "rejected": 1}, byStatus)
}

func TestAdd_NilCounterIsIgnored(t *testing.T) {
	require.NotPanics(t, func() {
		Add(context.Background(), nil, 1, "k", "v")
	})
}

func TestGetMetrics_AllInstrumentsBound(t *testing.T) {
	m := GetMetrics()
	require.Same(t, m, GetMetrics())
	require.NotNil(t, m.ResolveTotal)
	require.NotNil(t, m.ResolveDuration)
	require.NotNil(t, m.FallbackReadsTotal)
	require.NotNil(t, m.InvitesRedeemedTotal)
	require.NotNil(t, m.AccessDecisionsTotal)
}

package metrics

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func TestNilMetricsAreNoop(t *testing.T) {
	var m *VerificationMetrics
	ctx := context.Background()

	assert.NotPanics(t, func() {
		m.RecordStepCompletion(ctx, 1, "ok", 0.1)
		m.RecordRollback(ctx, 1)
		m.RecordStoreRetry(ctx, "upsert_progress")
		m.RecordReconcileCorrections(ctx, "read", 2)
		m.RecordCacheLookup(ctx, true)
		m.RecordInvalidation(ctx, "published", "profiles")
		m.RecordStatusTransition(ctx, "pending", "in_progress")
	})
}

func TestRecordCacheLookup(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	defer func() { _ = provider.Shutdown(context.Background()) }()

	m, err := New(provider.Meter("test"))
	require.NoError(t, err)

	ctx := context.Background()
	m.RecordCacheLookup(ctx, true)
	m.RecordCacheLookup(ctx, true)
	m.RecordCacheLookup(ctx, false)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(ctx, &rm))

	totals := map[string]int64{}
	for _, sm := range rm.ScopeMetrics {
		for _, md := range sm.Metrics {
			if md.Name != "verification_cache_lookups_total" {
				continue
			}
			sum, ok := md.Data.(metricdata.Sum[int64])
			require.True(t, ok)
			for _, dp := range sum.DataPoints {
				result, _ := dp.Attributes.Value("result")
				totals[result.AsString()] += dp.Value
			}
		}
	}
	assert.Equal(t, map[string]int64{"hit": 2, "miss": 1}, totals)
}

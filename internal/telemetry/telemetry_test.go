package telemetry

import (
	"context"
	"path/filepath"
	"time"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/beadsync/beadsync/internal/storage"
	"github.com/beadsync/beadsync/internal/storage/sqlite"
	"github.com/beadsync/beadsync/internal/types"
)

func newStore(t *testing.T) *sqlite.SQLiteStorage {
	t.Helper()
	ctx := context.Background()
	store, err := sqlite.New(ctx, filepath.Join(t.TempDir(), "beads.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	require.NoError(t, store.SetConfig(ctx, sqlite.ConfigIssuePrefix, "bd"))
	return store
}

// installProviders points the global providers at in-memory collectors.
func installProviders(t *testing.T) (*tracetest.SpanRecorder, *sdkmetric.ManualReader) {
	t.Helper()
	prevTP, prevMP := otel.GetTracerProvider(), otel.GetMeterProvider()
	spans := tracetest.NewSpanRecorder()
	reader := sdkmetric.NewManualReader()
	otel.SetTracerProvider(sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(spans)))
	otel.SetMeterProvider(sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)))
	t.Cleanup(func() {
		otel.SetTracerProvider(prevTP)
		otel.SetMeterProvider(prevMP)
	})
	return spans, reader
}

func sumOf(t *testing.T, reader *sdkmetric.ManualReader, name string) int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	var total int64
	for _, scope := range rm.ScopeMetrics {
		for _, m := range scope.Metrics {
			if m.Name != name {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			require.True(t, ok, "%s is not an int64 sum", name)
			for _, dp := range sum.DataPoints {
				total += dp.Value
			}
		}
	}
	return total
}

func TestWrapStorageDisabledReturnsStore(t *testing.T) {
	t.Setenv("BD_OTEL_ENABLED", "")
	store := newStore(t)
	assert.Same(t, store, WrapStorage(store))
}

func TestWrapStorageEnabled(t *testing.T) {
	t.Setenv("BD_OTEL_ENABLED", "true")
	store := newStore(t)
	wrapped, ok := WrapStorage(store).(*InstrumentedStorage)
	require.True(t, ok)
	assert.Same(t, store, wrapped.Unwrap())
	assert.Equal(t, store.Path(), wrapped.Path())
}

func TestInstrumentedStorageRecordsSpansAndMetrics(t *testing.T) {
	ctx := context.Background()
	spans, reader := installProviders(t)
	s := newInstrumented(newStore(t))

	issue := &types.Issue{ID: "bd-a", Title: "A", Status: types.StatusOpen, Priority: 2, IssueType: types.TypeTask}
	require.NoError(t, s.CreateIssue(ctx, issue, "tester"))
	got, err := s.GetIssue(ctx, "bd-a")
	require.NoError(t, err)
	assert.Equal(t, "A", got.Title)

	_, err = s.GetIssue(ctx, "bd-missing")
	require.ErrorIs(t, err, storage.ErrNotFound)

	err = s.RunInTransaction(ctx, func(tx storage.Transaction) error {
		return tx.AddLabel(ctx, "bd-a", "backend", "tester")
	})
	require.NoError(t, err)

	var names []string
	for _, span := range spans.Ended() {
		names = append(names, span.Name())
	}
	assert.Equal(t, []string{"storage.CreateIssue", "storage.GetIssue", "storage.GetIssue", "storage.RunInTransaction"}, names)
	failed := spans.Ended()[2]
	assert.Equal(t, "Error", failed.Status().Code.String())

	assert.Equal(t, int64(4), sumOf(t, reader, "bd.storage.operations"))
	assert.Equal(t, int64(1), sumOf(t, reader, "bd.storage.errors"))
}

func TestIsBlockedPassesBlockers(t *testing.T) {
	ctx := context.Background()
	installProviders(t)
	store := newStore(t)
	s := newInstrumented(store)
	for _, id := range []string{"bd-a", "bd-b"} {
		require.NoError(t, store.CreateIssue(ctx, &types.Issue{ID: id, Title: id, Status: types.StatusOpen, Priority: 2, IssueType: types.TypeTask}, "tester"))
	}
	require.NoError(t, s.AddDependency(ctx, &types.Dependency{IssueID: "bd-a", DependsOnID: "bd-b", Type: types.DepBlocks}, "tester"))

	blocked, blockers, err := s.IsBlocked(ctx, "bd-a")
	require.NoError(t, err)
	assert.True(t, blocked)
	assert.Equal(t, []string{"bd-b"}, blockers)
}

func TestInitDisabledInstallsNoop(t *testing.T) {
	t.Setenv("BD_OTEL_ENABLED", "")
	require.NoError(t, Init(context.Background(), "bd", "test"))
	assert.NoError(t, Shutdown(context.Background()))
	assert.False(t, Enabled())
}

func TestInitWithInstallsSDKProviders(t *testing.T) {
	ctx := context.Background()
	require.NoError(t, InitWith(ctx, Settings{Enabled: true, ServiceName: "bd-test"}, "bd", "test"))
	assert.Len(t, shutdownFns, 2)
	assert.NoError(t, Shutdown(ctx))
	assert.Empty(t, shutdownFns)
}

func TestSettingsFromEnv(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		for _, key := range []string{"BD_OTEL_ENABLED", "BD_OTEL_STDOUT", "BD_OTEL_METRIC_INTERVAL",
			"OTEL_EXPORTER_OTLP_METRICS_ENDPOINT", "OTEL_EXPORTER_OTLP_ENDPOINT", "OTEL_SERVICE_NAME"} {
			t.Setenv(key, "")
		}
		s := SettingsFromEnv()
		assert.False(t, s.Enabled)
		assert.False(t, s.Stdout)
		assert.Empty(t, s.MetricsURL)
		assert.Equal(t, defaultMetricInterval, s.MetricInterval)
	})

	t.Run("metrics endpoint wins over generic endpoint", func(t *testing.T) {
		t.Setenv("BD_OTEL_ENABLED", "true")
		t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4318")
		t.Setenv("OTEL_EXPORTER_OTLP_METRICS_ENDPOINT", "http://collector:4318/v1/metrics")
		t.Setenv("BD_OTEL_METRIC_INTERVAL", "5s")
		s := SettingsFromEnv()
		assert.True(t, s.Enabled)
		assert.Equal(t, "http://collector:4318/v1/metrics", s.MetricsURL)
		assert.Equal(t, 5*time.Second, s.MetricInterval)
	})

	t.Run("bad interval falls back", func(t *testing.T) {
		t.Setenv("BD_OTEL_METRIC_INTERVAL", "soon")
		assert.Equal(t, defaultMetricInterval, SettingsFromEnv().MetricInterval)
	})
}

func TestFirstNonEmpty(t *testing.T) {
	assert.Equal(t, "b", firstNonEmpty("", "b", "c"))
	assert.Empty(t, firstNonEmpty("", ""))
}

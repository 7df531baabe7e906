package telemetry

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestInitTracingDisabled(t *testing.T) {
	shutdown, err := InitTracing(context.Background(), DefaultOTLPConfig("test"))
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
}

func TestSpansReachProvider(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	_, ok := StartSpan(context.Background(), "pipeline.read", attribute.Int("lines", 3))
	EndSpan(ok, nil)
	_, failed := StartSpan(context.Background(), "export.parquet")
	EndSpan(failed, errors.New("disk full"))

	spans := rec.Ended()
	require.Len(t, spans, 2)
	assert.Equal(t, "pipeline.read", spans[0].Name())
	assert.Equal(t, codes.Unset, spans[0].Status().Code)
	assert.Equal(t, "export.parquet", spans[1].Name())
	assert.Equal(t, codes.Error, spans[1].Status().Code)
	assert.Equal(t, "disk full", spans[1].Status().Description)
}

func TestSampler(t *testing.T) {
	assert.Equal(t, sdktrace.AlwaysSample().Description(), sampler(1).Description())
	assert.Equal(t, sdktrace.NeverSample().Description(), sampler(0).Description())
	assert.Contains(t, sampler(0.25).Description(), "TraceIDRatioBased")
}

func TestMetricsAreIsolated(t *testing.T) {
	a := NewMetrics()
	b := NewMetrics()

	a.LinesRead.Add(5)
	a.Records.WithLabelValues("data").Inc()
	a.Rejected.WithLabelValues("no_marker").Add(2)

	assert.Equal(t, 5.0, testutil.ToFloat64(a.LinesRead))
	assert.Equal(t, 1.0, testutil.ToFloat64(a.Records.WithLabelValues("data")))
	assert.Equal(t, 2.0, testutil.ToFloat64(a.Rejected.WithLabelValues("no_marker")))
	assert.Equal(t, 0.0, testutil.ToFloat64(b.LinesRead))
}

func TestWriteTextfile(t *testing.T) {
	m := NewMetrics()
	m.Runs.Inc()
	m.Fits.WithLabelValues("robust").Add(2)

	path := filepath.Join(t.TempDir(), "bcilog.prom")
	require.NoError(t, m.WriteTextfile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "bcilog_runs_total 1")
	assert.Contains(t, string(data), `bcilog_clock_fits_total{status="robust"} 2`)
}

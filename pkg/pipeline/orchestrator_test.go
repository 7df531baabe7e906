package pipeline

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap/zaptest"

	"github.com/logflow/bcilog/internal/model"
	"github.com/logflow/bcilog/pkg/assemble"
	"github.com/logflow/bcilog/pkg/clocksync"
	lferrors "github.com/logflow/bcilog/pkg/errors"
)

// Two senders: 10.0.0.1 runs 1000 ticks behind the server, 10.0.0.2 runs at
// half speed.
const twoSenders = `sts:1000 MC ts:0 mode:calibrate <-/10.0.0.1:8400
sts:100 SE ts:50 v[4]:{1,1,2,0} <-/10.0.0.2:8400
sts:1100 DP ts:100 v[2x2]:[1,2,3,4] <-/10.0.0.1:8400
sts:200 SE ts:100 v[2]:{1,0} <-/10.0.0.2:8400
keepalive
sts:1200 DP ts:200 v[2x2]:[5,6,7,8] <-/10.0.0.1:8400
`

func newTestOrchestrator(t *testing.T) *Orchestrator {
	t.Helper()
	return NewOrchestrator(DefaultConfig(), WithLogger(zaptest.NewLogger(t)))
}

func TestRunCorrectsEachSender(t *testing.T) {
	o := newTestOrchestrator(t)

	res, err := o.Run(context.Background(), strings.NewReader(twoSenders))
	require.NoError(t, err)
	assert.NotEmpty(t, res.RunID)

	require.Len(t, res.Fits, 2)
	a, b := res.Fits["10.0.0.1:8400"], res.Fits["10.0.0.2:8400"]
	assert.Equal(t, clocksync.StatusRobust, a.Status)
	assert.InDelta(t, 1.0, a.Slope, 1e-9)
	assert.InDelta(t, 1000.0, a.Intercept, 1e-6)
	assert.Equal(t, clocksync.StatusRobust, b.Status)
	assert.InDelta(t, 2.0, b.Slope, 1e-9)
	assert.InDelta(t, 0.0, b.Intercept, 1e-6)
}

func TestRunAssemblesSamplesAndEvents(t *testing.T) {
	o := newTestOrchestrator(t)

	res, err := o.Run(context.Background(), strings.NewReader(twoSenders))
	require.NoError(t, err)

	require.Equal(t, 4, res.Samples.Rows())
	assert.Equal(t, 2, res.Samples.Channels())
	ts := res.Samples.Timestamps()
	assert.InDelta(t, 1100, ts[0], 1e-6)
	assert.InDelta(t, 1100, ts[1], 1e-6)
	assert.InDelta(t, 1150, ts[2], 1e-6)
	assert.InDelta(t, 1200, ts[3], 1e-6)
	assert.Equal(t, []float64{7, 8, ts[3]}, res.Samples.Row(3))

	kinds := make([]model.Kind, len(res.Events))
	for i, ev := range res.Events {
		kinds[i] = ev.Kind
		assert.True(t, ev.Corrected)
	}
	assert.Equal(t, []model.Kind{model.KindModeChange, model.KindStimulus, model.KindStimulus}, kinds)
	assert.InDelta(t, 1000, res.Events[0].Timestamp, 1e-6)

	assert.Equal(t, 6, res.Stats.Lines)
	assert.Equal(t, 5, res.Stats.Records)
	assert.Equal(t, 1, res.Stats.Skipped())
	assert.Equal(t, 2, res.Stats.Senders)
	assert.Equal(t, 2, res.Stats.Packets)
	assert.Contains(t, res.Stats.Summary(), "6 lines")
}

func TestReadRecordsKeepsTranscriptOrder(t *testing.T) {
	o := newTestOrchestrator(t)

	records, err := o.ReadRecords(context.Background(), strings.NewReader(twoSenders))
	require.NoError(t, err)
	require.Len(t, records, 5)

	raw := make([]int64, len(records))
	for i, r := range records {
		raw[i] = r.RawTimestamp
	}
	assert.Equal(t, []int64{0, 50, 100, 100, 200}, raw)
	assert.Equal(t, "10.0.0.2:8400", records[1].SenderID)
	assert.InDelta(t, 100, records[1].Timestamp, 1e-6)
	assert.InDelta(t, 200, records[3].Timestamp, 1e-6)
}

func TestRunUpdatesMetrics(t *testing.T) {
	o := newTestOrchestrator(t)
	_, err := o.Run(context.Background(), strings.NewReader(twoSenders))
	require.NoError(t, err)

	m := o.Metrics()
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Runs))
	assert.Equal(t, 6.0, testutil.ToFloat64(m.LinesRead))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.Records.WithLabelValues("data")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Rejected.WithLabelValues("no_marker")))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.Samples))
}

func TestRunTracesStages(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	otel.SetTracerProvider(sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec)))

	_, err := newTestOrchestrator(t).Run(context.Background(), strings.NewReader(twoSenders))
	require.NoError(t, err)

	var names []string
	for _, s := range rec.Ended() {
		names = append(names, s.Name())
	}
	assert.Equal(t, []string{"pipeline.read", "pipeline.synchronize", "pipeline.assemble"}, names)
}

func TestRunEmptyTranscript(t *testing.T) {
	res, err := newTestOrchestrator(t).Run(context.Background(), strings.NewReader(""))
	require.NoError(t, err)
	assert.True(t, res.Samples.Empty())
	assert.Empty(t, res.Events)
	assert.Empty(t, res.Fits)
}

func TestRunErrors(t *testing.T) {
	t.Run("canceled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := newTestOrchestrator(t).Run(ctx, strings.NewReader(twoSenders))
		require.Error(t, err)
		assert.True(t, lferrors.IsCode(err, lferrors.CodeContextCanceled))
	})

	t.Run("channel mismatch", func(t *testing.T) {
		input := "DP ts:1 v[2x1]:[1,2]\nDP ts:2 v[3x1]:[1,2,3]\n"
		_, err := newTestOrchestrator(t).Run(context.Background(), strings.NewReader(input))
		require.Error(t, err)
		assert.True(t, lferrors.IsCode(err, lferrors.CodeAssembleFailed))
		assert.True(t, errors.Is(err, assemble.ErrChannelMismatch))
	})
}

func TestRunSource(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.txt")
	require.NoError(t, os.WriteFile(path, []byte(twoSenders), 0o644))

	var wrapped int64
	o := NewOrchestrator(DefaultConfig(),
		WithLogger(zaptest.NewLogger(t)),
		WithReaderWrap(func(r io.Reader, size int64) io.Reader {
			wrapped = size
			return r
		}),
	)

	res, err := o.RunSource(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, path, res.Source)
	assert.Equal(t, int64(len(twoSenders)), wrapped)

	_, err = o.RunSource(context.Background(), filepath.Join(t.TempDir(), "missing.txt"))
	assert.True(t, lferrors.IsCode(err, lferrors.CodeFileNotFound))
}

func TestSendersSorted(t *testing.T) {
	fits := map[string]clocksync.Fit{"b": {}, "a": {}, "": {}}
	assert.Equal(t, []string{"", "a", "b"}, Senders(fits))
}

func TestRunKeepsRecordsWhenAsked(t *testing.T) {
	res, err := newTestOrchestrator(t).Run(context.Background(), strings.NewReader(twoSenders))
	require.NoError(t, err)
	assert.Nil(t, res.Records)

	cfg := DefaultConfig()
	cfg.KeepRecords = true
	res, err = NewOrchestrator(cfg, WithLogger(zaptest.NewLogger(t))).Run(context.Background(), strings.NewReader(twoSenders))
	require.NoError(t, err)

	require.Len(t, res.Records, 5)
	assert.Equal(t, model.KindData, res.Records[2].Kind)
	assert.InDelta(t, 1100, res.Records[2].Timestamp, 1e-6)
	assert.InDelta(t, 200, res.Records[3].Timestamp, 1e-6)
}

package tui

import (
	"bytes"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/logflow/bcilog/internal/model"
	"github.com/logflow/bcilog/pkg/clocksync"
	"github.com/logflow/bcilog/pkg/parser"
	"github.com/logflow/bcilog/pkg/pipeline"
	"github.com/logflow/bcilog/pkg/writer"
)

func TestPrinterCountsAndFits(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf)

	p.Counts(parser.Stats{
		Lines:    5,
		Records:  4,
		ByKind:   map[model.Kind]int{model.KindStimulus: 2, model.KindData: 1, model.KindModeChange: 1},
		Rejected: map[string]int{"no_marker": 1},
	})
	p.Fits(map[string]clocksync.Fit{
		"10.0.0.1:1":   {Slope: 1, Intercept: 1000, Pairs: 3, Status: clocksync.StatusRobust},
		model.NoSender: clocksync.Identity(),
	})

	out := buf.String()
	for _, want := range []string{"RECORDS", "stimulus", "modechange", "skipped no_marker", "CLOCK MAPS", "10.0.0.1:1", "(no sender)", "robust", "identity"} {
		assert.Contains(t, out, want)
	}
	assert.Less(t, strings.Index(out, "(no sender)"), strings.Index(out, "10.0.0.1:1"))
}

func TestPrinterRecordsLimit(t *testing.T) {
	var buf bytes.Buffer
	records := []model.Record{
		model.NewModeChange(1, "idle"),
		model.NewModeChange(2, "run"),
		model.NewModeChange(3, "stop"),
	}

	NewPrinter(&buf).Records(records, 2)
	assert.Contains(t, buf.String(), "idle")
	assert.Contains(t, buf.String(), "run")
	assert.NotContains(t, buf.String(), "stop")

	buf.Reset()
	NewPrinter(&buf).Records(records, 10)
	assert.Contains(t, buf.String(), "stop")
}

func TestPrinterRunReport(t *testing.T) {
	var buf bytes.Buffer
	res := &pipeline.Result{RunID: "run-1", Source: "session.txt"}
	res.Stats.Samples = 1200
	res.Stats.StartTime = time.Unix(0, 0)
	res.Stats.EndTime = res.Stats.StartTime.Add(1500 * time.Millisecond)

	NewPrinter(&buf).RunReport(res, []writer.Output{
		{Format: writer.FormatParquet, Path: "out/session.samples.parquet"},
		{Format: writer.FormatXLSX, Path: "out/session.xlsx", URI: "s3://b/session.xlsx"},
	})

	out := buf.String()
	assert.Contains(t, out, "run-1")
	assert.Contains(t, out, "1.2K")
	assert.Contains(t, out, "1.5s")
	assert.Contains(t, out, "out/session.samples.parquet")
	assert.Contains(t, out, "s3://b/session.xlsx")
	assert.NotContains(t, out, "out/session.xlsx")
}

func TestProgressReaderPassesDataThrough(t *testing.T) {
	payload := strings.Repeat("sts:1 DP ts:1 v[1x1]:[1.0]\n", 100)
	var bar bytes.Buffer

	r := ProgressReader(strings.NewReader(payload), int64(len(payload)), "reading", &bar)
	got, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, payload, string(got))
}

func TestFormatting(t *testing.T) {
	assert.Equal(t, "512 B", formatBytes(512))
	assert.Equal(t, "1.5 KB", formatBytes(1536))
	assert.Equal(t, "999", formatNumber(999))
	assert.Equal(t, "2.5M", formatNumber(2500000))
	assert.Equal(t, "250ms", formatDuration(250*time.Millisecond))
	assert.Equal(t, "2m5s", formatDuration(125*time.Second))
}

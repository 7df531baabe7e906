package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/logflow/bcilog/pkg/config"
	lferrors "github.com/logflow/bcilog/pkg/errors"
	"github.com/logflow/bcilog/pkg/writer"
)

const transcript = `sts:1000 MC ts:0 mode:calibrate <-/10.0.0.1:8400
sts:1100 DP ts:100 v[2x2]:[1,2,3,4] <-/10.0.0.1:8400
sts:1150 SE ts:150 v[2]:{3,1} <-/10.0.0.1:8400
sts:1200 DP ts:200 v[2x2]:[5,6,7,8] <-/10.0.0.1:8400
`

func resetFlags(t *testing.T) {
	t.Helper()
	formatsFlag, outDirFlag, compressionFlag, nameFlag = nil, "", "", ""
	headFlag = 10
	t.Cleanup(func() {
		formatsFlag, outDirFlag, compressionFlag, nameFlag = nil, "", "", ""
		configPath, metricsFile = "", ""
	})
}

func TestResolveConvertOptions(t *testing.T) {
	resetFlags(t)
	state.cfg = config.Default()

	opts, err := resolveConvertOptions()
	require.NoError(t, err)
	assert.Equal(t, []writer.Format{writer.FormatParquet}, opts.formats)
	assert.Equal(t, ".", opts.outDir)
	assert.Equal(t, writer.CompressionSnappy, opts.writer.Compression)

	formatsFlag = []string{"duckdb", "XLSX"}
	outDirFlag = "exports"
	compressionFlag = "zstd"
	opts, err = resolveConvertOptions()
	require.NoError(t, err)
	assert.Equal(t, []writer.Format{writer.FormatDuckDB, writer.FormatXLSX}, opts.formats)
	assert.Equal(t, "exports", opts.outDir)
	assert.Equal(t, writer.CompressionZstd, opts.writer.Compression)

	formatsFlag = []string{"csv"}
	_, err = resolveConvertOptions()
	assert.True(t, lferrors.IsCode(err, lferrors.CodeInvalidConfig))
}

func TestConvertCommandWritesExports(t *testing.T) {
	resetFlags(t)
	t.Setenv("HOME", t.TempDir())
	dir := t.TempDir()
	src := filepath.Join(dir, "session.txt")
	require.NoError(t, os.WriteFile(src, []byte(transcript), 0o644))
	out := filepath.Join(dir, "out")
	metrics := filepath.Join(dir, "bcilog.prom")

	var stdout bytes.Buffer
	rootCmd.SetOut(&stdout)
	rootCmd.SetArgs([]string{"convert", src, "--format", "parquet,xlsx", "--out", out, "--no-progress", "--metrics-file", metrics})
	require.NoError(t, execute(context.Background()))

	for _, name := range []string{"session.samples.parquet", "session.events.parquet", "session.clock_fits.parquet", "session.xlsx"} {
		assert.FileExists(t, filepath.Join(out, name))
	}
	assert.Contains(t, stdout.String(), "CONVERSION COMPLETE")

	prom, err := os.ReadFile(metrics)
	require.NoError(t, err)
	assert.Contains(t, string(prom), "bcilog_runs_total 1")
}

func TestFailedConvertStillTearsDown(t *testing.T) {
	resetFlags(t)
	t.Setenv("HOME", t.TempDir())
	dir := t.TempDir()
	metrics := filepath.Join(dir, "bcilog.prom")

	var stdout, stderr bytes.Buffer
	rootCmd.SetOut(&stdout)
	rootCmd.SetErr(&stderr)
	t.Cleanup(func() { rootCmd.SetErr(nil) })
	rootCmd.SetArgs([]string{"convert", filepath.Join(dir, "missing.txt"), "--no-progress", "--metrics-file", metrics})

	err := execute(context.Background())
	require.Error(t, err)
	assert.True(t, lferrors.IsCode(err, lferrors.CodeFileNotFound))
	assert.Equal(t, 3, exitCode(err))

	prom, readErr := os.ReadFile(metrics)
	require.NoError(t, readErr)
	assert.Contains(t, string(prom), "bcilog_runs_total 0")

	// main prints the error once; cobra stays quiet.
	assert.NotContains(t, stderr.String(), "Error:")
	assert.Nil(t, state.metrics)
}

func TestInfoCommand(t *testing.T) {
	resetFlags(t)
	t.Setenv("HOME", t.TempDir())
	src := filepath.Join(t.TempDir(), "session.txt")
	require.NoError(t, os.WriteFile(src, []byte(transcript), 0o644))

	var stdout bytes.Buffer
	rootCmd.SetOut(&stdout)
	rootCmd.SetArgs([]string{"info", src, "--head", "2"})
	require.NoError(t, execute(context.Background()))

	out := stdout.String()
	assert.Contains(t, out, "CLOCK MAPS")
	assert.Contains(t, out, "10.0.0.1:8400")
	assert.Contains(t, out, "mode:calibrate")
	assert.NotContains(t, out, "{3:1}")
}

func TestWatchCommandRedisLedgerUnreachable(t *testing.T) {
	resetFlags(t)
	t.Setenv("HOME", t.TempDir())
	t.Setenv("BCILOG_WATCH_REDIS_ADDRESS", "127.0.0.1:1")

	rootCmd.SetArgs([]string{"watch", t.TempDir()})
	err := execute(context.Background())
	require.Error(t, err)
	assert.True(t, lferrors.IsCode(err, lferrors.CodeInvalidConfig))
	assert.Contains(t, err.Error(), "watch ledger")
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, 2, exitCode(lferrors.InvalidConfig("x", 1)))
	assert.Equal(t, 3, exitCode(lferrors.FileNotFound("a", os.ErrNotExist)))
	assert.Equal(t, 1, exitCode(assert.AnError))
}

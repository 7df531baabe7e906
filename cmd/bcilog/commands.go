package main

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	lferrors "github.com/logflow/bcilog/pkg/errors"
	"github.com/logflow/bcilog/pkg/pipeline"
	"github.com/logflow/bcilog/pkg/storage"
	"github.com/logflow/bcilog/pkg/tui"
	"github.com/logflow/bcilog/pkg/watch"
	"github.com/logflow/bcilog/pkg/writer"
)

// Command flags
var (
	formatsFlag     []string
	outDirFlag      string
	compressionFlag string
	nameFlag        string
	noProgress      bool

	headFlag int

	patternFlag  string
	debounceFlag time.Duration
	existingFlag bool
)

var convertCmd = &cobra.Command{
	Use:   "convert <transcript>",
	Short: "Reconstruct a transcript and export it",
	Long: `Read a transcript, correct every sender clock, assemble the sample table
and write the result in each requested format.

The transcript may be a local path (optionally .gz), "-" for stdin or an
s3://bucket/key URI.

Examples:
  bcilog convert session.txt
  bcilog convert session.txt.gz --format parquet,duckdb --out exports/
  bcilog convert s3://lab-raw/2024/session.txt --format xlsx
  cat session.txt | bcilog convert - --name session`,
	Args: cobra.ExactArgs(1),
	RunE: runConvert,
}

var infoCmd = &cobra.Command{
	Use:   "info <transcript>",
	Short: "Summarise a transcript",
	Long:  `Show record counts per kind, the clock map of every sender and the first records.`,
	Args:  cobra.ExactArgs(1),
	RunE:  runInfo,
}

var watchCmd = &cobra.Command{
	Use:   "watch <dir>",
	Short: "Convert transcripts as they land in a directory",
	Long: `Watch a directory and convert every transcript that matches the pattern
once it has stopped changing for the debounce interval. Files are converted
one at a time; a failed conversion is logged and the watch continues.`,
	Args: cobra.ExactArgs(1),
	RunE: runWatch,
}

func init() {
	convertCmd.Flags().StringSliceVarP(&formatsFlag, "format", "f", nil, "Output formats (parquet, arrow, duckdb, xlsx); defaults to export.formats")
	convertCmd.Flags().StringVarP(&outDirFlag, "out", "o", "", "Output directory; defaults to export.output_dir")
	convertCmd.Flags().StringVar(&compressionFlag, "compression", "", "Parquet compression (none, snappy, gzip, zstd, lz4, brotli)")
	convertCmd.Flags().StringVar(&nameFlag, "name", "", "Output file name prefix; defaults to the transcript base name")
	convertCmd.Flags().BoolVar(&noProgress, "no-progress", false, "Disable the progress bar")

	infoCmd.Flags().IntVarP(&headFlag, "head", "n", 10, "Number of records to show")

	defaults := watch.DefaultConfig("")
	watchCmd.Flags().StringSliceVarP(&formatsFlag, "format", "f", nil, "Output formats; defaults to export.formats")
	watchCmd.Flags().StringVarP(&outDirFlag, "out", "o", "", "Output directory; defaults to export.output_dir")
	watchCmd.Flags().StringVar(&patternFlag, "pattern", defaults.Pattern, "Glob matched against file names")
	watchCmd.Flags().DurationVar(&debounceFlag, "debounce", defaults.Debounce, "Quiet period before a file is converted")
	watchCmd.Flags().BoolVar(&existingFlag, "existing", false, "Also convert files already in the directory")
}

// convertOptions resolves the export settings from flags over config.
type convertOptions struct {
	formats []writer.Format
	outDir  string
	writer  writer.Config
}

func resolveConvertOptions() (convertOptions, error) {
	ec := state.cfg.Export
	opts := convertOptions{outDir: ec.OutputDir, writer: writer.DefaultConfig()}
	if outDirFlag != "" {
		opts.outDir = outDirFlag
	}
	if opts.outDir == "" {
		opts.outDir = "."
	}

	names := ec.Formats
	if len(formatsFlag) > 0 {
		names = formatsFlag
	}
	for _, n := range names {
		f, err := writer.ParseFormat(n)
		if err != nil {
			return opts, lferrors.InvalidConfig("format", n)
		}
		opts.formats = append(opts.formats, f)
	}

	compression := ec.Compression
	if compressionFlag != "" {
		compression = compressionFlag
	}
	c, err := writer.ParseCompression(compression)
	if err != nil {
		return opts, lferrors.InvalidConfig("compression", compression)
	}
	opts.writer.Compression = c
	return opts, nil
}

func pipelineConfig(keepRecords bool) pipeline.Config {
	cfg := pipeline.DefaultConfig()
	cfg.Parser = state.cfg.Parser
	cfg.Clock = state.cfg.Clock
	cfg.Assemble = state.cfg.Assemble
	cfg.KeepRecords = keepRecords
	return cfg
}

// s3Client returns a client when export.s3.bucket is set, else nil.
func s3Client(ctx context.Context) (*storage.S3Client, error) {
	s3cfg := state.cfg.Export.S3
	if s3cfg.Bucket == "" {
		return nil, nil
	}
	return storage.NewS3Client(ctx, storage.S3Config{
		Region:       s3cfg.Region,
		Bucket:       s3cfg.Bucket,
		Prefix:       s3cfg.Prefix,
		Endpoint:     s3cfg.Endpoint,
		UsePathStyle: s3cfg.Endpoint != "",
	})
}

// redisLedger connects the watch ledger when watch.redis.address is set.
// Without it the watcher remembers handled files in memory only.
func redisLedger(ctx context.Context) (*watch.RedisLedger, error) {
	rc := state.cfg.Watch.Redis
	if rc.Address == "" {
		return nil, nil
	}
	ledger, err := watch.NewRedisLedger(ctx, watch.RedisConfig{
		Address:  rc.Address,
		Password: rc.Password,
		Database: rc.Database,
		Prefix:   rc.Prefix,
		TTL:      rc.TTL,
	})
	if err != nil {
		return nil, lferrors.Wrap(err, lferrors.CodeInvalidConfig, "failed to connect watch ledger").
			WithContext("address", rc.Address)
	}
	return ledger, nil
}

func newOrchestrator(client *storage.S3Client, keepRecords, progress bool) *pipeline.Orchestrator {
	opts := []pipeline.Option{
		pipeline.WithLogger(state.log),
		pipeline.WithMetrics(state.metrics),
		pipeline.WithOpener(storage.NewOpener(client)),
	}
	if progress {
		opts = append(opts, pipeline.WithReaderWrap(func(r io.Reader, size int64) io.Reader {
			return tui.ProgressReader(r, size, "reading", os.Stderr)
		}))
	}
	return pipeline.NewOrchestrator(pipelineConfig(keepRecords), opts...)
}

// convert runs one transcript through the pipeline and every exporter.
func convert(ctx context.Context, orch *pipeline.Orchestrator, client *storage.S3Client, src, name string, opts convertOptions) (*pipeline.Result, []writer.Output, error) {
	res, err := orch.RunSource(ctx, src)
	if err != nil {
		return nil, nil, err
	}
	if name == "" {
		name = storage.BaseName(res.Source)
	}

	exportOpts := []writer.ExporterOption{
		writer.WithExportLogger(state.log),
		writer.WithExportMetrics(state.metrics),
	}
	if client != nil {
		exportOpts = append(exportOpts, writer.WithUploader(client))
	}
	outputs, err := writer.NewExporter(opts.outDir, opts.writer, exportOpts...).Export(ctx, res, name, opts.formats)
	if err != nil {
		return res, nil, err
	}
	return res, outputs, nil
}

func runConvert(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	opts, err := resolveConvertOptions()
	if err != nil {
		return err
	}
	client, err := s3Client(ctx)
	if err != nil {
		return err
	}

	src := args[0]
	progress := !noProgress && src != "-" && isTerminal(os.Stderr)
	orch := newOrchestrator(client, false, progress)

	res, outputs, err := convert(ctx, orch, client, src, nameFlag, opts)
	if err != nil {
		return err
	}

	state.log.Debug(res.Stats.Summary())
	tui.NewPrinter(cmd.OutOrStdout()).RunReport(res, outputs)
	return nil
}

func runInfo(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	client, err := s3Client(ctx)
	if err != nil {
		return err
	}

	res, err := newOrchestrator(client, true, false).RunSource(ctx, args[0])
	if err != nil {
		return err
	}

	size := int64(-1)
	if fi, err := os.Stat(args[0]); err == nil {
		size = fi.Size()
	}

	p := tui.NewPrinter(cmd.OutOrStdout())
	p.Header(version)
	p.Source(res.Source, size)
	p.Counts(res.Stats.Stats)
	p.Fits(res.Fits)
	p.Records(res.Records, headFlag)
	return nil
}

func runWatch(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	opts, err := resolveConvertOptions()
	if err != nil {
		return err
	}
	client, err := s3Client(ctx)
	if err != nil {
		return err
	}

	orch := newOrchestrator(client, false, false)
	out := tui.NewPrinter(cmd.OutOrStdout())

	handle := func(ctx context.Context, path string) error {
		res, outputs, err := convert(ctx, orch, client, path, "", opts)
		if err != nil {
			out.Error(path + ": " + err.Error())
			return err
		}
		out.RunReport(res, outputs)
		return nil
	}

	wcfg := watch.Config{
		Dir:      args[0],
		Pattern:  patternFlag,
		Debounce: debounceFlag,
		Existing: existingFlag,
	}
	ledger, err := redisLedger(ctx)
	if err != nil {
		return err
	}
	if ledger != nil {
		defer ledger.Close()
		wcfg.Ledger = ledger
		state.log.Info("watch ledger in redis", zap.String("address", state.cfg.Watch.Redis.Address))
	}

	w, err := watch.NewWatcher(wcfg, handle, state.log)
	if err != nil {
		return lferrors.Wrap(err, lferrors.CodeInvalidConfig, "failed to start watcher").
			WithContext("dir", args[0])
	}

	state.log.Info("watching",
		zap.String("dir", args[0]),
		zap.String("pattern", patternFlag),
		zap.Duration("debounce", debounceFlag),
	)
	err = w.Run(ctx)
	stats := w.Stats()
	state.log.Info("watch stopped", zap.Int64("handled", stats.Handled), zap.Int64("failed", stats.Failed))
	return err
}

// isTerminal reports whether f is a character device.
func isTerminal(f *os.File) bool {
	fi, err := f.Stat()
	return err == nil && fi.Mode()&os.ModeCharDevice != 0
}

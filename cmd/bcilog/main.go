// bcilog reconstructs BCI session transcripts into clock-corrected sample
// tables and event lists, and exports them as Parquet, Arrow, DuckDB or XLSX.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/logflow/bcilog/internal/logger"
	"github.com/logflow/bcilog/pkg/config"
	lferrors "github.com/logflow/bcilog/pkg/errors"
	"github.com/logflow/bcilog/pkg/telemetry"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

// Global flags
var (
	configPath  string
	verbose     bool
	metricsFile string
)

// app is the state shared by every command, set up before a command runs.
type app struct {
	cfg      *config.Config
	log      *zap.Logger
	metrics  *telemetry.Metrics
	shutdown telemetry.ShutdownFunc
}

var state app

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := execute(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitCode(err))
	}
}

var rootCmd = &cobra.Command{
	Use:   "bcilog",
	Short: "bcilog - Reconstruct BCI session transcripts",
	Long: `bcilog reads the text transcript of a brain-computer interface session,
corrects every sender's clock onto the server clock, assembles the data
packets into one sample table and exports the result.`,
	Version:            fmt.Sprintf("%s (%s)", version, commit),
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: setup,
}

// execute runs the selected command and tears the shared state down whether
// or not the command failed. The command's own error comes first.
func execute(ctx context.Context) error {
	var errs lferrors.MultiError
	errs.Add(rootCmd.ExecuteContext(ctx))
	errs.Add(teardown(ctx))
	return errs.Combined()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file (merged over the standard locations)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringVar(&metricsFile, "metrics-file", "", "Write run counters in Prometheus text format to this file")

	rootCmd.AddCommand(convertCmd)
	rootCmd.AddCommand(infoCmd)
	rootCmd.AddCommand(watchCmd)
}

func setup(cmd *cobra.Command, _ []string) error {
	mgr := config.NewManager(configPath)
	if err := mgr.Load(); err != nil {
		return err
	}
	cfg := mgr.Get()
	if verbose {
		cfg.Logging.Level = "debug"
	}

	if err := logger.Init(cfg.Logging); err != nil {
		return err
	}
	log := logger.L()
	if paths := mgr.GetPaths(); len(paths) > 0 {
		log.Debug("config loaded", zap.Strings("paths", paths))
	}

	shutdown, err := telemetry.InitTracing(cmd.Context(), cfg.Telemetry)
	if err != nil {
		return err
	}

	state = app{
		cfg:      cfg,
		log:      log,
		metrics:  telemetry.NewMetrics(),
		shutdown: shutdown,
	}
	return nil
}

func teardown(ctx context.Context) error {
	defer func() { state = app{} }()

	var errs lferrors.MultiError
	if metricsFile != "" && state.metrics != nil {
		if err := state.metrics.WriteTextfile(metricsFile); err != nil {
			errs.Add(lferrors.Wrap(err, lferrors.CodeWriteFailed, "failed to write metrics file").
				WithContext("path", metricsFile))
		}
	}
	if state.shutdown != nil {
		if err := state.shutdown(context.WithoutCancel(ctx)); err != nil {
			errs.Add(err)
		}
	}
	_ = logger.Sync()
	return errs.Combined()
}

// exitCode maps error categories to process exit codes.
func exitCode(err error) int {
	switch lferrors.GetCode(err) {
	case lferrors.CodeInvalidConfig:
		return 2
	case lferrors.CodeFileNotFound, lferrors.CodeFilePermission:
		return 3
	case lferrors.CodeContextCanceled:
		return 130
	default:
		return 1
	}
}

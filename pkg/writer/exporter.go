package writer

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	lferrors "github.com/logflow/bcilog/pkg/errors"
	"github.com/logflow/bcilog/pkg/pipeline"
	"github.com/logflow/bcilog/pkg/telemetry"
)

// Uploader copies a finished file to remote storage and returns its URI.
type Uploader interface {
	Upload(ctx context.Context, localPath string) (string, error)
}

// Output is one file produced by an export.
type Output struct {
	Format Format
	Path   string

	// URI is set when the file was uploaded.
	URI string
}

// Exporter writes a run in several formats at once.
type Exporter struct {
	outDir   string
	cfg      Config
	uploader Uploader
	logger   *zap.Logger
	metrics  *telemetry.Metrics
}

// ExporterOption configures an Exporter.
type ExporterOption func(*Exporter)

// WithUploader uploads every produced file after it is written.
func WithUploader(u Uploader) ExporterOption {
	return func(e *Exporter) { e.uploader = u }
}

// WithExportLogger sets the logger.
func WithExportLogger(l *zap.Logger) ExporterOption {
	return func(e *Exporter) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithExportMetrics sets the counters exported files are recorded in.
func WithExportMetrics(m *telemetry.Metrics) ExporterOption {
	return func(e *Exporter) { e.metrics = m }
}

// NewExporter creates an Exporter writing into outDir.
func NewExporter(outDir string, cfg Config, opts ...ExporterOption) *Exporter {
	e := &Exporter{
		outDir: outDir,
		cfg:    cfg.withDefaults(),
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Export writes res in every requested format concurrently. Each format
// owns its files, so writers never share state. name is the file name
// prefix inside the output directory.
func (e *Exporter) Export(ctx context.Context, res *pipeline.Result, name string, formats []Format) ([]Output, error) {
	if err := os.MkdirAll(e.outDir, 0o755); err != nil {
		return nil, lferrors.Wrap(err, lferrors.CodeWriteFailed, "failed to create output directory").
			WithContext("dir", e.outDir)
	}

	ds := &Dataset{Samples: res.Samples, Events: res.Events, Fits: res.Fits}
	base := filepath.Join(e.outDir, name)

	var (
		mu      sync.Mutex
		outputs []Output
	)

	g, gctx := errgroup.WithContext(ctx)
	for _, f := range dedupFormats(formats) {
		f := f
		g.Go(func() error {
			w, err := New(f, e.cfg)
			if err != nil {
				return lferrors.InvalidConfig("export.formats", string(f))
			}

			sctx, span := telemetry.StartSpan(gctx, "export."+string(f), attribute.String("run_id", res.RunID))
			start := time.Now()
			paths, err := w.Write(sctx, ds, base)
			if err == nil {
				var produced []Output
				produced, err = e.publish(sctx, f, paths)
				mu.Lock()
				outputs = append(outputs, produced...)
				mu.Unlock()
			}
			telemetry.EndSpan(span, err)
			if err != nil {
				return err
			}

			if e.metrics != nil {
				e.metrics.ExportedFiles.WithLabelValues(string(f)).Add(float64(len(paths)))
			}
			e.logger.Info("export written",
				zap.String("format", string(f)),
				zap.Strings("files", paths),
				zap.Duration("elapsed", time.Since(start)),
			)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	sort.Slice(outputs, func(i, j int) bool { return outputs[i].Path < outputs[j].Path })
	return outputs, nil
}

// publish uploads paths when an uploader is set.
func (e *Exporter) publish(ctx context.Context, f Format, paths []string) ([]Output, error) {
	out := make([]Output, 0, len(paths))
	for _, p := range paths {
		o := Output{Format: f, Path: p}
		if e.uploader != nil {
			uri, err := e.uploader.Upload(ctx, p)
			if err != nil {
				return out, err
			}
			o.URI = uri
		}
		out = append(out, o)
	}
	return out, nil
}

func dedupFormats(formats []Format) []Format {
	seen := make(map[Format]bool, len(formats))
	out := make([]Format, 0, len(formats))
	for _, f := range formats {
		if !seen[f] {
			seen[f] = true
			out = append(out, f)
		}
	}
	return out
}

// Package pipeline runs a transcript through the reader, the per-sender
// clock synchronizer and the sample assembler.
package pipeline

import (
	"context"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/logflow/bcilog/internal/model"
	"github.com/logflow/bcilog/pkg/assemble"
	"github.com/logflow/bcilog/pkg/clocksync"
	lferrors "github.com/logflow/bcilog/pkg/errors"
	"github.com/logflow/bcilog/pkg/parser"
	"github.com/logflow/bcilog/pkg/storage"
	"github.com/logflow/bcilog/pkg/telemetry"
)

// Config holds the settings of every stage.
type Config struct {
	Parser   parser.Config
	Clock    clocksync.Options
	Assemble assemble.Options

	// BufferSize is the capacity of the channel between reading and
	// collecting records.
	BufferSize int

	// KeepRecords also returns every corrected record in Result.Records.
	KeepRecords bool
}

// DefaultConfig returns defaults for every stage.
func DefaultConfig() Config {
	return Config{
		Parser:     parser.DefaultConfig(),
		Clock:      clocksync.DefaultOptions(),
		Assemble:   assemble.DefaultOptions(),
		BufferSize: 4096,
	}
}

// Stats summarises one run.
type Stats struct {
	parser.Stats

	Senders int
	Packets int
	Samples int

	StartTime time.Time
	EndTime   time.Time
}

// Duration returns the wall time of the run.
func (s Stats) Duration() time.Duration {
	return s.EndTime.Sub(s.StartTime)
}

// Summary returns a human-readable summary.
func (s Stats) Summary() string {
	return fmt.Sprintf(
		"Read %d lines into %d records (%d skipped) from %d senders; %d packets -> %d samples in %s",
		s.Lines, s.Records, s.Skipped(), s.Senders, s.Packets, s.Samples,
		s.Duration().Round(time.Millisecond),
	)
}

// Result holds the output of a run.
type Result struct {
	RunID  string
	Source string

	// Samples is the assembled table of every data packet.
	Samples *assemble.Table

	// Events are the non-data records, clock corrected, in transcript order.
	Events []model.Record

	// Fits maps each sender to its clock map.
	Fits map[string]clocksync.Fit

	// Records holds every corrected record in transcript order when
	// Config.KeepRecords is set.
	Records []model.Record

	Stats Stats
}

// Orchestrator wires the stages together. It holds no per-run state and can
// be reused for consecutive runs.
type Orchestrator struct {
	cfg     Config
	logger  *zap.Logger
	metrics *telemetry.Metrics
	opener  *storage.Opener
	wrap    func(r io.Reader, size int64) io.Reader
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithMetrics sets the counters the run reports into.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(o *Orchestrator) {
		if m != nil {
			o.metrics = m
		}
	}
}

// WithOpener sets how RunSource resolves URIs.
func WithOpener(op *storage.Opener) Option {
	return func(o *Orchestrator) {
		if op != nil {
			o.opener = op
		}
	}
}

// WithReaderWrap lets the caller wrap the opened source, e.g. with a
// progress bar. size is -1 when unknown.
func WithReaderWrap(fn func(r io.Reader, size int64) io.Reader) Option {
	return func(o *Orchestrator) {
		o.wrap = fn
	}
}

// NewOrchestrator creates a new pipeline orchestrator.
func NewOrchestrator(cfg Config, opts ...Option) *Orchestrator {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = DefaultConfig().BufferSize
	}
	o := &Orchestrator{
		cfg:     cfg,
		logger:  zap.NewNop(),
		metrics: telemetry.NewMetrics(),
		opener:  storage.NewOpener(nil),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Metrics returns the counters the orchestrator reports into.
func (o *Orchestrator) Metrics() *telemetry.Metrics {
	return o.metrics
}

// RunSource opens uri (see storage.Opener.Open) and runs it.
func (o *Orchestrator) RunSource(ctx context.Context, uri string) (*Result, error) {
	src, err := o.opener.Open(ctx, uri)
	if err != nil {
		return nil, err
	}
	defer src.Close()

	var r io.Reader = src
	if o.wrap != nil {
		r = o.wrap(src, src.Size)
	}

	res, err := o.Run(ctx, r)
	if err != nil {
		return nil, err
	}
	res.Source = src.Name
	return res, nil
}

// Run reads the whole transcript, fits and applies one clock map per
// sender, then assembles every data packet into the sample table.
func (o *Orchestrator) Run(ctx context.Context, r io.Reader) (*Result, error) {
	res := &Result{RunID: uuid.NewString()}
	res.Stats.StartTime = time.Now()
	log := o.logger.With(zap.String("run_id", res.RunID))

	records, fits, pstats, err := o.read(ctx, r, log)
	if err != nil {
		return nil, err
	}
	res.Fits = fits
	res.Stats.Stats = pstats
	res.Stats.Senders = len(fits)
	if o.cfg.KeepRecords {
		res.Records = records
	}

	var packets []model.Record
	for _, rec := range records {
		if rec.Kind == model.KindData {
			packets = append(packets, rec)
		} else {
			res.Events = append(res.Events, rec)
		}
	}
	res.Stats.Packets = len(packets)

	_, span := telemetry.StartSpan(ctx, "pipeline.assemble", attribute.Int("packets", len(packets)))
	start := time.Now()
	table, err := assemble.Assemble(packets, o.cfg.Assemble)
	o.metrics.StageSeconds.WithLabelValues("assemble").Observe(time.Since(start).Seconds())
	if err != nil {
		err = lferrors.Wrap(err, lferrors.CodeAssembleFailed, "failed to assemble samples").
			WithContext("packets", len(packets))
		telemetry.EndSpan(span, err)
		return nil, err
	}
	telemetry.EndSpan(span, nil)

	res.Samples = table
	res.Stats.Samples = table.Rows()
	res.Stats.EndTime = time.Now()
	o.metrics.Samples.Add(float64(table.Rows()))
	o.metrics.Runs.Inc()

	log.Info("transcript processed",
		zap.Int("lines", pstats.Lines),
		zap.Int("records", pstats.Records),
		zap.Int("skipped", pstats.Skipped()),
		zap.Int("senders", res.Stats.Senders),
		zap.Int("packets", res.Stats.Packets),
		zap.Int("samples", res.Stats.Samples),
		zap.Duration("elapsed", res.Stats.Duration()),
	)
	return res, nil
}

// ReadRecords returns every record, clock corrected, in transcript order.
func (o *Orchestrator) ReadRecords(ctx context.Context, r io.Reader) ([]model.Record, error) {
	records, _, _, err := o.read(ctx, r, o.logger)
	return records, err
}

func (o *Orchestrator) read(ctx context.Context, r io.Reader, log *zap.Logger) ([]model.Record, map[string]clocksync.Fit, parser.Stats, error) {
	ctx, span := telemetry.StartSpan(ctx, "pipeline.read")
	start := time.Now()

	rd := parser.NewReader(o.cfg.Parser, parser.WithLogger(log))
	ch := make(chan model.Record, o.cfg.BufferSize)

	var (
		records []model.Record
		bySender = make(map[string][]int)
	)

	// Reader -> [ch] -> collector. Records keep their transcript position so
	// corrected copies can be put back in order after per-sender fitting.
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer close(ch)
		return rd.Parse(gctx, r, ch)
	})
	g.Go(func() error {
		for rec := range ch {
			bySender[rec.SenderID] = append(bySender[rec.SenderID], len(records))
			records = append(records, rec)
		}
		return nil
	})
	err := g.Wait()

	stats := rd.Stats()
	o.observeRead(stats)
	o.metrics.StageSeconds.WithLabelValues("read").Observe(time.Since(start).Seconds())
	span.SetAttributes(attribute.Int("lines", stats.Lines), attribute.Int("records", stats.Records))
	telemetry.EndSpan(span, err)
	if err != nil {
		return nil, nil, stats, err
	}

	_, span = telemetry.StartSpan(ctx, "pipeline.synchronize", attribute.Int("senders", len(bySender)))
	start = time.Now()

	groups := make(map[string][]model.Record, len(bySender))
	for sender, idx := range bySender {
		group := make([]model.Record, len(idx))
		for k, i := range idx {
			group[k] = records[i]
		}
		groups[sender] = group
	}

	corrected, fits := clocksync.NewSynchronizer(o.cfg.Clock, log).Synchronize(groups)
	for sender, idx := range bySender {
		for k, i := range idx {
			records[i] = corrected[sender][k]
		}
	}

	for _, fit := range fits {
		o.metrics.Fits.WithLabelValues(fit.Status.String()).Inc()
	}
	o.metrics.StageSeconds.WithLabelValues("synchronize").Observe(time.Since(start).Seconds())
	telemetry.EndSpan(span, nil)

	return records, fits, stats, nil
}

func (o *Orchestrator) observeRead(s parser.Stats) {
	o.metrics.LinesRead.Add(float64(s.Lines))
	for kind, n := range s.ByKind {
		o.metrics.Records.WithLabelValues(kind.String()).Add(float64(n))
	}
	for reason, n := range s.Rejected {
		o.metrics.Rejected.WithLabelValues(reason).Add(float64(n))
	}
}

// Senders returns the senders of fits in sorted order.
func Senders(fits map[string]clocksync.Fit) []string {
	out := make([]string, 0, len(fits))
	for s := range fits {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

package parser

import (
	"bufio"
	"context"
	"errors"
	"io"

	"go.uber.org/zap"

	"github.com/logflow/bcilog/internal/model"
	lferrors "github.com/logflow/bcilog/pkg/errors"
)

// Stats summarises one read of a transcript.
type Stats struct {
	Lines    int
	Records  int
	ByKind   map[model.Kind]int
	Rejected map[string]int
}

func newStats() Stats {
	return Stats{
		ByKind:   make(map[model.Kind]int),
		Rejected: make(map[string]int),
	}
}

// Skipped returns the number of lines that produced no record.
func (s Stats) Skipped() int {
	return s.Lines - s.Records
}

// Reader reads a transcript line by line and emits records in line order.
// Rejected lines are dropped without a gap marker. A Reader is not safe for
// concurrent use; Stats describe the most recent read.
type Reader struct {
	cfg    Config
	lines  *LineParser
	logger *zap.Logger
	stats  Stats
}

// Option configures a Reader.
type Option func(*Reader)

// WithLogger sets the logger used for per-line debug output.
func WithLogger(l *zap.Logger) Option {
	return func(r *Reader) {
		if l != nil {
			r.logger = l
		}
	}
}

// NewReader creates a transcript reader.
func NewReader(cfg Config, opts ...Option) *Reader {
	def := DefaultConfig()
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = def.BufferSize
	}
	if cfg.MaxLineBytes <= 0 {
		cfg.MaxLineBytes = def.MaxLineBytes
	}
	if cfg.Markers == (Markers{}) {
		cfg.Markers = def.Markers
	}

	rd := &Reader{
		cfg:    cfg,
		lines:  NewLineParser(cfg.Markers),
		logger: zap.NewNop(),
		stats:  newStats(),
	}
	for _, opt := range opts {
		opt(rd)
	}
	return rd
}

// Parse reads from r and sends records to out, honouring ctx.
// The caller is responsible for closing out.
func (rd *Reader) Parse(ctx context.Context, r io.Reader, out chan<- model.Record) error {
	return rd.each(ctx, r, func(rec model.Record) error {
		select {
		case out <- rec:
			return nil
		case <-ctx.Done():
			return lferrors.ContextCanceled("parse", ctx.Err())
		}
	})
}

// ReadAll reads the whole transcript into memory.
func (rd *Reader) ReadAll(ctx context.Context, r io.Reader) ([]model.Record, error) {
	var records []model.Record
	err := rd.each(ctx, r, func(rec model.Record) error {
		records = append(records, rec)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}

// Stats returns the counters of the most recent read.
func (rd *Reader) Stats() Stats {
	return rd.stats
}

func (rd *Reader) each(ctx context.Context, r io.Reader, emit func(model.Record) error) error {
	rd.stats = newStats()

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, rd.cfg.BufferSize), rd.cfg.MaxLineBytes)

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return lferrors.ContextCanceled("parse", ctx.Err())
		default:
		}

		rd.stats.Lines++
		rec, err := rd.lines.ParseLine(scanner.Text())
		if err != nil {
			reason := rejectReason(err)
			rd.stats.Rejected[reason]++
			rd.logger.Debug("skipping line",
				zap.Int("line", rd.stats.Lines),
				zap.String("reason", reason),
				zap.Error(err),
			)
			continue
		}

		rd.stats.Records++
		rd.stats.ByKind[rec.Kind]++
		if err := emit(rec); err != nil {
			return err
		}
	}

	if err := scanner.Err(); err != nil {
		if errors.Is(err, bufio.ErrTooLong) {
			return lferrors.Wrap(err, lferrors.CodeLineTooLong, "transcript line exceeds limit").
				WithContext("line", rd.stats.Lines+1).
				WithContext("max_line_bytes", rd.cfg.MaxLineBytes)
		}
		return lferrors.ReadFailed("transcript", rd.stats.Lines+1, err)
	}
	return nil
}

package writer

import (
	"context"
	"fmt"
	"os"

	"github.com/apache/arrow/go/v14/arrow"
	"github.com/apache/arrow/go/v14/arrow/memory"
	"github.com/apache/arrow/go/v14/parquet"
	"github.com/apache/arrow/go/v14/parquet/compress"
	"github.com/apache/arrow/go/v14/parquet/pqarrow"

	lferrors "github.com/logflow/bcilog/pkg/errors"
)

// ParquetWriter writes each part of a Dataset to its own Parquet file using
// Apache Arrow.
type ParquetWriter struct {
	cfg       Config
	allocator memory.Allocator
}

// NewParquetWriter creates a new Parquet writer.
func NewParquetWriter(cfg Config) *ParquetWriter {
	return &ParquetWriter{
		cfg:       cfg.withDefaults(),
		allocator: memory.NewGoAllocator(),
	}
}

// Format returns FormatParquet.
func (w *ParquetWriter) Format() Format { return FormatParquet }

// Write creates <base>.samples.parquet, <base>.events.parquet and
// <base>.clock_fits.parquet.
func (w *ParquetWriter) Write(ctx context.Context, ds *Dataset, base string) ([]string, error) {
	var paths []string
	for _, p := range ds.parts() {
		if err := ctx.Err(); err != nil {
			return paths, lferrors.ContextCanceled("export parquet", err)
		}
		path := partPath(base, p.name, FormatParquet)
		if err := w.writePart(path, p); err != nil {
			return paths, lferrors.Wrap(err, lferrors.CodeWriteFailed, "failed to write parquet").
				WithContext("path", path)
		}
		paths = append(paths, path)
	}
	return paths, nil
}

func (w *ParquetWriter) writePart(path string, p part) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	writerProps := parquet.NewWriterProperties(
		parquet.WithCompression(codec(w.cfg.Compression)),
		parquet.WithDictionaryDefault(true),
		parquet.WithDataPageSize(1024*1024), // 1MB
		parquet.WithAllocator(w.allocator),
	)
	arrowProps := pqarrow.NewArrowWriterProperties(
		pqarrow.WithStoreSchema(),
	)

	fw, err := pqarrow.NewFileWriter(p.schema, f, writerProps, arrowProps)
	if err != nil {
		return fmt.Errorf("failed to create parquet writer: %w", err)
	}

	werr := p.each(w.allocator, w.cfg.BatchSize, func(rec arrow.Record) error {
		return fw.Write(rec)
	})
	if cerr := fw.Close(); werr == nil && cerr != nil {
		werr = fmt.Errorf("failed to close parquet writer: %w", cerr)
	}
	return werr
}

// codec maps a CompressionType to its Parquet codec.
func codec(c CompressionType) compress.Compression {
	switch c {
	case CompressionSnappy:
		return compress.Codecs.Snappy
	case CompressionGzip:
		return compress.Codecs.Gzip
	case CompressionZstd:
		return compress.Codecs.Zstd
	case CompressionLZ4:
		return compress.Codecs.Lz4
	case CompressionBrotli:
		return compress.Codecs.Brotli
	default:
		return compress.Codecs.Uncompressed
	}
}

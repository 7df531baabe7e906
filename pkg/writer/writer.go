// Package writer exports a processed transcript to columnar and tabular
// files.
package writer

import (
	"context"
	"fmt"
	"strings"

	"github.com/logflow/bcilog/internal/model"
	"github.com/logflow/bcilog/pkg/assemble"
	"github.com/logflow/bcilog/pkg/clocksync"
)

// Dataset is everything one run produces.
type Dataset struct {
	Samples *assemble.Table
	Events  []model.Record
	Fits    map[string]clocksync.Fit
}

// Writer writes a Dataset in one format. base is the output path without
// extension; the returned paths are the files created.
type Writer interface {
	Format() Format
	Write(ctx context.Context, ds *Dataset, base string) ([]string, error)
}

// Format names an output format.
type Format string

const (
	FormatParquet Format = "parquet"
	FormatArrow   Format = "arrow"
	FormatDuckDB  Format = "duckdb"
	FormatXLSX    Format = "xlsx"
)

// Formats lists every supported format.
func Formats() []Format {
	return []Format{FormatParquet, FormatArrow, FormatDuckDB, FormatXLSX}
}

// ParseFormat parses a format name.
func ParseFormat(s string) (Format, error) {
	f := Format(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Formats() {
		if f == known {
			return f, nil
		}
	}
	return "", fmt.Errorf("unknown output format %q", s)
}

// Ext returns the file extension including the dot.
func (f Format) Ext() string {
	return "." + string(f)
}

// Config holds writer configuration.
type Config struct {
	// BatchSize is the number of rows per record batch.
	BatchSize int

	// Compression type for Parquet output.
	Compression CompressionType
}

// CompressionType represents Parquet compression options.
type CompressionType uint8

const (
	CompressionNone CompressionType = iota
	CompressionSnappy
	CompressionGzip
	CompressionZstd
	CompressionLZ4
	CompressionBrotli
)

// String returns the compression type name.
func (c CompressionType) String() string {
	switch c {
	case CompressionSnappy:
		return "snappy"
	case CompressionGzip:
		return "gzip"
	case CompressionZstd:
		return "zstd"
	case CompressionLZ4:
		return "lz4"
	case CompressionBrotli:
		return "brotli"
	default:
		return "none"
	}
}

// ParseCompression parses a compression type string. An empty string means
// no compression.
func ParseCompression(s string) (CompressionType, error) {
	switch strings.ToLower(s) {
	case "", "none", "uncompressed":
		return CompressionNone, nil
	case "snappy":
		return CompressionSnappy, nil
	case "gzip":
		return CompressionGzip, nil
	case "zstd":
		return CompressionZstd, nil
	case "lz4":
		return CompressionLZ4, nil
	case "brotli":
		return CompressionBrotli, nil
	default:
		return CompressionNone, fmt.Errorf("unknown compression %q", s)
	}
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		BatchSize:   8192,
		Compression: CompressionSnappy,
	}
}

func (c Config) withDefaults() Config {
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultConfig().BatchSize
	}
	return c
}

// New returns the writer for f.
func New(f Format, cfg Config) (Writer, error) {
	switch f {
	case FormatParquet:
		return NewParquetWriter(cfg), nil
	case FormatArrow:
		return NewArrowIPCWriter(cfg), nil
	case FormatDuckDB:
		return NewDuckDBWriter(cfg), nil
	case FormatXLSX:
		return NewXLSXWriter(), nil
	default:
		return nil, fmt.Errorf("unknown output format %q", f)
	}
}

// partPath returns "<base>.<part><ext>".
func partPath(base, part string, f Format) string {
	return base + "." + part + f.Ext()
}

package writer

import (
	"context"
	"fmt"
	"os"

	"github.com/apache/arrow/go/v14/arrow"
	"github.com/apache/arrow/go/v14/arrow/ipc"
	"github.com/apache/arrow/go/v14/arrow/memory"

	lferrors "github.com/logflow/bcilog/pkg/errors"
)

// ArrowIPCWriter writes each part to an Arrow IPC file, readable without a
// conversion step by Arrow-based tools.
type ArrowIPCWriter struct {
	cfg       Config
	allocator memory.Allocator
}

// NewArrowIPCWriter creates an Arrow IPC writer.
func NewArrowIPCWriter(cfg Config) *ArrowIPCWriter {
	return &ArrowIPCWriter{
		cfg:       cfg.withDefaults(),
		allocator: memory.NewGoAllocator(),
	}
}

// Format returns FormatArrow.
func (w *ArrowIPCWriter) Format() Format { return FormatArrow }

// Write creates one .arrow file per part.
func (w *ArrowIPCWriter) Write(ctx context.Context, ds *Dataset, base string) ([]string, error) {
	var paths []string
	for _, p := range ds.parts() {
		if err := ctx.Err(); err != nil {
			return paths, lferrors.ContextCanceled("export arrow", err)
		}
		path := partPath(base, p.name, FormatArrow)
		if err := w.writePart(path, p); err != nil {
			return paths, lferrors.Wrap(err, lferrors.CodeWriteFailed, "failed to write arrow ipc").
				WithContext("path", path)
		}
		paths = append(paths, path)
	}
	return paths, nil
}

func (w *ArrowIPCWriter) writePart(path string, p part) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer f.Close()

	fw, err := ipc.NewFileWriter(f, ipc.WithSchema(p.schema), ipc.WithAllocator(w.allocator))
	if err != nil {
		return fmt.Errorf("failed to create ipc writer: %w", err)
	}

	werr := p.each(w.allocator, w.cfg.BatchSize, func(rec arrow.Record) error {
		return fw.Write(rec)
	})
	if cerr := fw.Close(); werr == nil && cerr != nil {
		werr = fmt.Errorf("failed to close writer: %w", cerr)
	}
	return werr
}

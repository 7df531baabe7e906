package writer

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"

	lferrors "github.com/logflow/bcilog/pkg/errors"
	"github.com/logflow/bcilog/pkg/pipeline"
)

// XLSXWriter writes events and clock fits to a workbook for manual review.
// The sample table is left out; long recordings exceed the sheet row limit.
type XLSXWriter struct{}

// NewXLSXWriter creates an XLSX writer.
func NewXLSXWriter() *XLSXWriter {
	return &XLSXWriter{}
}

// Format returns FormatXLSX.
func (w *XLSXWriter) Format() Format { return FormatXLSX }

// Write creates <base>.xlsx with sheets events and clock_fits.
func (w *XLSXWriter) Write(ctx context.Context, ds *Dataset, base string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, lferrors.ContextCanceled("export xlsx", err)
	}
	if len(ds.Events)+1 > excelize.TotalRows {
		return nil, lferrors.New(lferrors.CodeWriteFailed, "too many events for one sheet").
			WithContext("events", len(ds.Events)).
			WithContext("limit", excelize.TotalRows-1)
	}

	path := base + FormatXLSX.Ext()
	if err := w.write(ds, path); err != nil {
		return nil, lferrors.Wrap(err, lferrors.CodeWriteFailed, "failed to write xlsx").
			WithContext("path", path)
	}
	return []string{path}, nil
}

func (w *XLSXWriter) write(ds *Dataset, path string) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", PartEvents); err != nil {
		return err
	}
	if _, err := f.NewSheet(PartFits); err != nil {
		return err
	}
	header, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return err
	}

	if err := writeSheet(f, PartEvents, header, eventRows(ds)); err != nil {
		return err
	}
	if err := writeSheet(f, PartFits, header, fitRows(ds)); err != nil {
		return err
	}
	return f.SaveAs(path)
}

// writeSheet streams rows into sheet; the first row is styled as header.
func writeSheet(f *excelize.File, sheet string, headerStyle int, rows [][]interface{}) error {
	sw, err := f.NewStreamWriter(sheet)
	if err != nil {
		return fmt.Errorf("stream %s: %w", sheet, err)
	}
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return err
		}
		var opts []excelize.RowOpts
		if i == 0 {
			opts = append(opts, excelize.RowOpts{StyleID: headerStyle})
		}
		if err := sw.SetRow(cell, row, opts...); err != nil {
			return fmt.Errorf("sheet %s row %d: %w", sheet, i+1, err)
		}
	}
	return sw.Flush()
}

func eventRows(ds *Dataset) [][]interface{} {
	rows := make([][]interface{}, 0, len(ds.Events)+1)
	rows = append(rows, []interface{}{"kind", "timestamp", "raw_timestamp", "server_timestamp", "sender", "object_ids", "states", "mode"})
	for _, ev := range ds.Events {
		row := []interface{}{ev.Kind.String(), ev.Timestamp, ev.RawTimestamp, nil, ev.SenderID, nil, nil, nil}
		if ev.HasServerTimestamp() {
			row[3] = ev.ServerTimestamp
		}
		if ev.Stimulus != nil {
			row[5] = joinInts(ev.Stimulus.ObjectIDs)
			row[6] = joinInts(ev.Stimulus.States)
		}
		if ev.Mode != nil {
			row[7] = ev.Mode.NewMode
		}
		rows = append(rows, row)
	}
	return rows
}

func fitRows(ds *Dataset) [][]interface{} {
	senders := pipeline.Senders(ds.Fits)
	rows := make([][]interface{}, 0, len(senders)+1)
	rows = append(rows, []interface{}{"sender", "slope", "intercept", "pairs", "status", "scale"})
	for _, s := range senders {
		fit := ds.Fits[s]
		rows = append(rows, []interface{}{s, fit.Slope, fit.Intercept, fit.Pairs, fit.Status.String(), fit.Scale})
	}
	return rows
}

func joinInts(vals []int64) string {
	parts := make([]string, len(vals))
	for i, v := range vals {
		parts[i] = strconv.FormatInt(v, 10)
	}
	return strings.Join(parts, ",")
}

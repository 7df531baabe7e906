package writer

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strings"

	_ "github.com/marcboeker/go-duckdb"

	lferrors "github.com/logflow/bcilog/pkg/errors"
	"github.com/logflow/bcilog/pkg/pipeline"
)

// DuckDBWriter stores a Dataset as tables samples, events and clock_fits in
// one DuckDB database file.
type DuckDBWriter struct {
	cfg Config
}

// NewDuckDBWriter creates a DuckDB writer.
func NewDuckDBWriter(cfg Config) *DuckDBWriter {
	return &DuckDBWriter{cfg: cfg.withDefaults()}
}

// Format returns FormatDuckDB.
func (w *DuckDBWriter) Format() Format { return FormatDuckDB }

// Write creates <base>.duckdb, replacing any existing file.
func (w *DuckDBWriter) Write(ctx context.Context, ds *Dataset, base string) ([]string, error) {
	path := base + FormatDuckDB.Ext()
	if err := w.write(ctx, ds, path); err != nil {
		if lferrors.IsCode(err, lferrors.CodeContextCanceled) {
			return nil, err
		}
		return nil, lferrors.Wrap(err, lferrors.CodeWriteFailed, "failed to write duckdb").
			WithContext("path", path)
	}
	return []string{path}, nil
}

func (w *DuckDBWriter) write(ctx context.Context, ds *Dataset, path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}

	db, err := sql.Open("duckdb", path)
	if err != nil {
		return fmt.Errorf("failed to open duckdb: %w", err)
	}
	defer db.Close()

	if err := w.writeSamples(ctx, db, ds); err != nil {
		return err
	}
	if err := w.writeEvents(ctx, db, ds); err != nil {
		return err
	}
	return w.writeFits(ctx, db, ds)
}

func (w *DuckDBWriter) writeSamples(ctx context.Context, db *sql.DB, ds *Dataset) error {
	channels := ds.Samples.Channels()
	cols := make([]string, 0, channels+1)
	defs := make([]string, 0, channels+1)
	for j := 0; j < channels; j++ {
		cols = append(cols, channelName(j))
		defs = append(defs, channelName(j)+" DOUBLE NOT NULL")
	}
	cols = append(cols, `"timestamp"`)
	defs = append(defs, `"timestamp" DOUBLE NOT NULL`)

	create := fmt.Sprintf("CREATE TABLE %s (%s)", PartSamples, strings.Join(defs, ", "))
	if _, err := db.ExecContext(ctx, create); err != nil {
		return fmt.Errorf("failed to create table: %w", err)
	}

	insert := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		PartSamples, strings.Join(cols, ", "), placeholders(len(cols)))

	rows := ds.Samples.Rows()
	args := make([]interface{}, len(cols))
	return w.batched(ctx, db, insert, rows, func(stmt *sql.Stmt, i int) error {
		for j := range args {
			args[j] = ds.Samples.At(i, j)
		}
		_, err := stmt.ExecContext(ctx, args...)
		return err
	})
}

func (w *DuckDBWriter) writeEvents(ctx context.Context, db *sql.DB, ds *Dataset) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE events (
			kind VARCHAR NOT NULL,
			"timestamp" DOUBLE NOT NULL,
			raw_timestamp BIGINT NOT NULL,
			server_timestamp BIGINT,
			sender VARCHAR,
			object_ids BIGINT[],
			states BIGINT[],
			mode VARCHAR
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create table: %w", err)
	}

	insert := `
		INSERT INTO events (kind, "timestamp", raw_timestamp, server_timestamp, sender, object_ids, states, mode)
		VALUES (?, ?, ?, ?, ?, CAST(? AS BIGINT[]), CAST(? AS BIGINT[]), ?)
	`
	return w.batched(ctx, db, insert, len(ds.Events), func(stmt *sql.Stmt, i int) error {
		ev := ds.Events[i]
		var sts, sender, ids, states, mode interface{}
		if ev.HasServerTimestamp() {
			sts = ev.ServerTimestamp
		}
		if ev.HasSender() {
			sender = ev.SenderID
		}
		if ev.Stimulus != nil {
			ids = listLiteral(ev.Stimulus.ObjectIDs)
			states = listLiteral(ev.Stimulus.States)
		}
		if ev.Mode != nil {
			mode = ev.Mode.NewMode
		}
		_, err := stmt.ExecContext(ctx, ev.Kind.String(), ev.Timestamp, ev.RawTimestamp, sts, sender, ids, states, mode)
		return err
	})
}

func (w *DuckDBWriter) writeFits(ctx context.Context, db *sql.DB, ds *Dataset) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE clock_fits (
			sender VARCHAR NOT NULL,
			slope DOUBLE NOT NULL,
			intercept DOUBLE NOT NULL,
			pairs BIGINT NOT NULL,
			status VARCHAR NOT NULL,
			scale DOUBLE NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create table: %w", err)
	}

	senders := pipeline.Senders(ds.Fits)
	insert := `INSERT INTO clock_fits (sender, slope, intercept, pairs, status, scale) VALUES (?, ?, ?, ?, ?, ?)`
	return w.batched(ctx, db, insert, len(senders), func(stmt *sql.Stmt, i int) error {
		fit := ds.Fits[senders[i]]
		_, err := stmt.ExecContext(ctx, senders[i], fit.Slope, fit.Intercept, int64(fit.Pairs), fit.Status.String(), fit.Scale)
		return err
	})
}

// batched runs exec for rows 0..n-1, committing every BatchSize rows.
func (w *DuckDBWriter) batched(ctx context.Context, db *sql.DB, query string, n int, exec func(*sql.Stmt, int) error) error {
	for start := 0; start < n; start += w.cfg.BatchSize {
		if err := ctx.Err(); err != nil {
			return lferrors.ContextCanceled("export duckdb", err)
		}
		end := min(start+w.cfg.BatchSize, n)

		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}
		stmt, err := tx.PrepareContext(ctx, query)
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to prepare insert: %w", err)
		}
		for i := start; i < end; i++ {
			if err := exec(stmt, i); err != nil {
				stmt.Close()
				tx.Rollback()
				return fmt.Errorf("failed to insert row %d: %w", i, err)
			}
		}
		stmt.Close()
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit transaction: %w", err)
		}
	}
	return nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

// listLiteral renders vals as a DuckDB list literal, e.g. "[1,2]".
func listLiteral(vals []int64) string {
	return "[" + joinInts(vals) + "]"
}

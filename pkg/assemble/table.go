// Package assemble folds data packets into one continuous sample table.
package assemble

import (
	"gonum.org/v1/gonum/mat"
)

// Table holds the concatenated samples of a run. The last column carries the
// per-row timestamp; the others are signal channels.
type Table struct {
	data     *mat.Dense
	channels int
}

func emptyTable() *Table {
	return &Table{}
}

// Rows returns the number of samples.
func (t *Table) Rows() int {
	if t == nil || t.data == nil {
		return 0
	}
	r, _ := t.data.Dims()
	return r
}

// Channels returns the number of signal channels, excluding the timestamp.
func (t *Table) Channels() int {
	if t == nil {
		return 0
	}
	return t.channels
}

// Dims returns rows and total columns (channels + 1). An empty table is 0x0.
func (t *Table) Dims() (int, int) {
	if t == nil || t.data == nil {
		return 0, 0
	}
	return t.data.Dims()
}

// Empty reports whether the table holds no samples.
func (t *Table) Empty() bool {
	return t.Rows() == 0
}

// At returns the value at row i, column j. Column Channels() is the timestamp.
// An empty table reads as zero.
func (t *Table) At(i, j int) float64 {
	if t.Empty() {
		return 0
	}
	return t.data.At(i, j)
}

// Row returns a copy of row i including the trailing timestamp. It is nil
// for an empty table.
func (t *Table) Row(i int) []float64 {
	if t.Empty() {
		return nil
	}
	_, c := t.data.Dims()
	return mat.Row(make([]float64, c), i, t.data)
}

// Timestamps returns a copy of the timestamp column.
func (t *Table) Timestamps() []float64 {
	if t.Empty() {
		return nil
	}
	return mat.Col(make([]float64, t.Rows()), t.channels, t.data)
}

// Channel returns a copy of signal channel j.
func (t *Table) Channel(j int) []float64 {
	if t.Empty() {
		return nil
	}
	return mat.Col(make([]float64, t.Rows()), j, t.data)
}

// Matrix exposes the table read-only. It is nil for an empty table.
func (t *Table) Matrix() mat.Matrix {
	if t == nil || t.data == nil {
		return nil
	}
	return t.data
}

package writer

import (
	"fmt"

	"github.com/apache/arrow/go/v14/arrow"
	"github.com/apache/arrow/go/v14/arrow/array"
	"github.com/apache/arrow/go/v14/arrow/memory"

	"github.com/logflow/bcilog/internal/model"
	"github.com/logflow/bcilog/pkg/assemble"
	"github.com/logflow/bcilog/pkg/clocksync"
	"github.com/logflow/bcilog/pkg/pipeline"
)

// Part names, used in file names and table names.
const (
	PartSamples = "samples"
	PartEvents  = "events"
	PartFits    = "clock_fits"
)

// SamplesSchema has one float64 column per channel, ch0..chN-1, followed by
// the row timestamp.
func SamplesSchema(channels int) *arrow.Schema {
	fields := make([]arrow.Field, 0, channels+1)
	for j := 0; j < channels; j++ {
		fields = append(fields, arrow.Field{Name: channelName(j), Type: arrow.PrimitiveTypes.Float64})
	}
	fields = append(fields, arrow.Field{Name: "timestamp", Type: arrow.PrimitiveTypes.Float64})
	return arrow.NewSchema(fields, nil)
}

func channelName(j int) string {
	return fmt.Sprintf("ch%d", j)
}

// EventsSchema describes non-data records. Payload columns a kind does not
// carry are null.
var EventsSchema = arrow.NewSchema([]arrow.Field{
	{Name: "kind", Type: arrow.BinaryTypes.String},
	{Name: "timestamp", Type: arrow.PrimitiveTypes.Float64},
	{Name: "raw_timestamp", Type: arrow.PrimitiveTypes.Int64},
	{Name: "server_timestamp", Type: arrow.PrimitiveTypes.Int64, Nullable: true},
	{Name: "sender", Type: arrow.BinaryTypes.String, Nullable: true},
	{Name: "object_ids", Type: arrow.ListOf(arrow.PrimitiveTypes.Int64), Nullable: true},
	{Name: "states", Type: arrow.ListOf(arrow.PrimitiveTypes.Int64), Nullable: true},
	{Name: "mode", Type: arrow.BinaryTypes.String, Nullable: true},
}, nil)

// FitsSchema describes one clock map per sender.
var FitsSchema = arrow.NewSchema([]arrow.Field{
	{Name: "sender", Type: arrow.BinaryTypes.String},
	{Name: "slope", Type: arrow.PrimitiveTypes.Float64},
	{Name: "intercept", Type: arrow.PrimitiveTypes.Float64},
	{Name: "pairs", Type: arrow.PrimitiveTypes.Int64},
	{Name: "status", Type: arrow.BinaryTypes.String},
	{Name: "scale", Type: arrow.PrimitiveTypes.Float64},
}, nil)

// part is one table of a Dataset as a sequence of record batches.
type part struct {
	name   string
	schema *arrow.Schema
	each   func(mem memory.Allocator, batch int, fn func(arrow.Record) error) error
}

func (ds *Dataset) parts() []part {
	return []part{
		{
			name:   PartSamples,
			schema: SamplesSchema(ds.Samples.Channels()),
			each: func(mem memory.Allocator, batch int, fn func(arrow.Record) error) error {
				return eachSampleBatch(mem, ds.Samples, batch, fn)
			},
		},
		{
			name:   PartEvents,
			schema: EventsSchema,
			each: func(mem memory.Allocator, batch int, fn func(arrow.Record) error) error {
				return eachEventBatch(mem, ds.Events, batch, fn)
			},
		},
		{
			name:   PartFits,
			schema: FitsSchema,
			each: func(mem memory.Allocator, _ int, fn func(arrow.Record) error) error {
				rec := buildFits(mem, ds.Fits)
				defer rec.Release()
				return fn(rec)
			},
		},
	}
}

func eachSampleBatch(mem memory.Allocator, t *assemble.Table, batch int, fn func(arrow.Record) error) error {
	channels := t.Channels()
	rb := array.NewRecordBuilder(mem, SamplesSchema(channels))
	defer rb.Release()

	rows := t.Rows()
	for start := 0; start < rows; start += batch {
		end := min(start+batch, rows)
		for j := 0; j <= channels; j++ {
			b := rb.Field(j).(*array.Float64Builder)
			b.Reserve(end - start)
			for i := start; i < end; i++ {
				b.UnsafeAppend(t.At(i, j))
			}
		}
		if err := emit(rb, fn); err != nil {
			return err
		}
	}
	return nil
}

func eachEventBatch(mem memory.Allocator, events []model.Record, batch int, fn func(arrow.Record) error) error {
	rb := array.NewRecordBuilder(mem, EventsSchema)
	defer rb.Release()

	kind := rb.Field(0).(*array.StringBuilder)
	ts := rb.Field(1).(*array.Float64Builder)
	raw := rb.Field(2).(*array.Int64Builder)
	sts := rb.Field(3).(*array.Int64Builder)
	sender := rb.Field(4).(*array.StringBuilder)
	ids := rb.Field(5).(*array.ListBuilder)
	states := rb.Field(6).(*array.ListBuilder)
	mode := rb.Field(7).(*array.StringBuilder)

	for start := 0; start < len(events); start += batch {
		end := min(start+batch, len(events))
		for _, ev := range events[start:end] {
			kind.Append(ev.Kind.String())
			ts.Append(ev.Timestamp)
			raw.Append(ev.RawTimestamp)
			if ev.HasServerTimestamp() {
				sts.Append(ev.ServerTimestamp)
			} else {
				sts.AppendNull()
			}
			if ev.HasSender() {
				sender.Append(ev.SenderID)
			} else {
				sender.AppendNull()
			}
			if ev.Stimulus != nil {
				appendInt64List(ids, ev.Stimulus.ObjectIDs)
				appendInt64List(states, ev.Stimulus.States)
			} else {
				ids.AppendNull()
				states.AppendNull()
			}
			if ev.Mode != nil {
				mode.Append(ev.Mode.NewMode)
			} else {
				mode.AppendNull()
			}
		}
		if err := emit(rb, fn); err != nil {
			return err
		}
	}
	return nil
}

func appendInt64List(lb *array.ListBuilder, vals []int64) {
	lb.Append(true)
	lb.ValueBuilder().(*array.Int64Builder).AppendValues(vals, nil)
}

func buildFits(mem memory.Allocator, fits map[string]clocksync.Fit) arrow.Record {
	rb := array.NewRecordBuilder(mem, FitsSchema)
	defer rb.Release()

	for _, sender := range pipeline.Senders(fits) {
		fit := fits[sender]
		rb.Field(0).(*array.StringBuilder).Append(sender)
		rb.Field(1).(*array.Float64Builder).Append(fit.Slope)
		rb.Field(2).(*array.Float64Builder).Append(fit.Intercept)
		rb.Field(3).(*array.Int64Builder).Append(int64(fit.Pairs))
		rb.Field(4).(*array.StringBuilder).Append(fit.Status.String())
		rb.Field(5).(*array.Float64Builder).Append(fit.Scale)
	}
	return rb.NewRecord()
}

func emit(rb *array.RecordBuilder, fn func(arrow.Record) error) error {
	rec := rb.NewRecord()
	defer rec.Release()
	return fn(rec)
}

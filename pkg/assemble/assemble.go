package assemble

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/logflow/bcilog/internal/model"
)

var (
	// ErrNotDataPacket is returned when a non-data record is passed in.
	ErrNotDataPacket = errors.New("assemble: record is not a data packet")
	// ErrChannelMismatch is returned when packets disagree on channel count.
	ErrChannelMismatch = errors.New("assemble: channel count mismatch")
)

// Policy decides what happens when a packet timestamp runs backwards.
type Policy string

const (
	// Clamp holds the timestamp at the previous boundary so the column
	// never decreases.
	Clamp Policy = "clamp"
	// Passthrough interpolates towards the earlier timestamp as-is.
	Passthrough Policy = "passthrough"
)

// Options configure Assemble.
type Options struct {
	NonMonotonic Policy `yaml:"non_monotonic"`
}

// DefaultOptions returns the clamp policy.
func DefaultOptions() Options {
	return Options{NonMonotonic: Clamp}
}

// Validate checks the policy name.
func (o Options) Validate() error {
	switch o.NonMonotonic {
	case "", Clamp, Passthrough:
		return nil
	default:
		return fmt.Errorf("assemble: unknown non-monotonic policy %q", o.NonMonotonic)
	}
}

// Assemble concatenates the packets in order and appends a timestamp
// column. Rows of the first packet all take its timestamp. Rows of each
// later packet are spread evenly over (previous, current], so the last row
// lands on the packet timestamp.
func Assemble(packets []model.Record, opts Options) (*Table, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if opts.NonMonotonic == "" {
		opts.NonMonotonic = Clamp
	}

	total, channels := 0, -1
	for i, p := range packets {
		if p.Kind != model.KindData || p.Packet == nil || p.Packet.Samples == nil {
			return nil, fmt.Errorf("%w: index %d is %s", ErrNotDataPacket, i, p.Kind)
		}
		c := p.Packet.Channels()
		if channels < 0 {
			channels = c
		} else if c != channels {
			return nil, fmt.Errorf("%w: packet %d has %d channels, want %d", ErrChannelMismatch, i, c, channels)
		}
		total += p.Packet.Rows()
	}
	if total == 0 {
		return emptyTable(), nil
	}

	data := mat.NewDense(total, channels+1, nil)
	row := 0
	var prev float64
	for i, p := range packets {
		samples := p.Packet.Samples
		n := p.Packet.Rows()
		cur := p.Timestamp

		if i > 0 && cur < prev && opts.NonMonotonic == Clamp {
			cur = prev
		}
		for k := 0; k < n; k++ {
			for j := 0; j < channels; j++ {
				data.Set(row, j, samples.At(k, j))
			}
			ts := cur
			if i > 0 {
				ts = prev + (cur-prev)*float64(k+1)/float64(n)
			}
			data.Set(row, channels, ts)
			row++
		}
		prev = cur
	}
	return &Table{data: data, channels: channels}, nil
}

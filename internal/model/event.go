// Package model defines core data structures for bcilog.
package model

import (
	"fmt"
	"strings"

	"gonum.org/v1/gonum/mat"
)

// NoTimestamp marks an absent or invalid timestamp.
const NoTimestamp int64 = -1

// NoSender marks a record whose line carried no sender identity.
const NoSender = ""

// Kind is the event variant of a Record, decided once at parse time.
type Kind uint8

const (
	KindUnknown Kind = iota
	KindStimulus
	KindData
	KindModeChange
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindStimulus:
		return "stimulus"
	case KindData:
		return "data"
	case KindModeChange:
		return "modechange"
	default:
		return "unknown"
	}
}

// Record is a single event recovered from one transcript line.
//
// Exactly one of Stimulus, Packet or Mode is non-nil and it matches Kind.
// Timestamps are sender-local until a clock map has been applied, after
// which Timestamp is on the server clock and RawTimestamp keeps the value
// that was parsed.
type Record struct {
	Kind Kind

	// RawTimestamp is the sender-local clock value as logged.
	RawTimestamp int64

	// Timestamp is RawTimestamp mapped onto the server clock once Corrected is set.
	Timestamp float64

	// Corrected reports whether a clock map has been applied.
	Corrected bool

	// ServerTimestamp is the receipt time on the server clock, or NoTimestamp.
	ServerTimestamp int64

	// SenderID identifies the originating process, or NoSender.
	SenderID string

	Stimulus *StimulusEvent
	Packet   *DataPacket
	Mode     *ModeChange
}

// StimulusEvent lists the presented objects whose state changed.
// ObjectIDs and States are positionally paired.
type StimulusEvent struct {
	ObjectIDs []int64
	States    []int64
}

// DataPacket is a burst of multi-channel samples. Rows are samples, columns channels.
type DataPacket struct {
	Samples *mat.Dense
}

// Rows returns the number of samples in the packet.
func (p *DataPacket) Rows() int {
	r, _ := p.Samples.Dims()
	return r
}

// Channels returns the number of channels in the packet.
func (p *DataPacket) Channels() int {
	_, c := p.Samples.Dims()
	return c
}

// ModeChange announces a transition of the runtime's operating mode.
type ModeChange struct {
	NewMode string
}

// NewStimulus creates an uncorrected stimulus record.
func NewStimulus(ts int64, objectIDs, states []int64) Record {
	return newRecord(KindStimulus, ts, func(r *Record) {
		r.Stimulus = &StimulusEvent{ObjectIDs: objectIDs, States: states}
	})
}

// NewDataPacket creates an uncorrected data record.
func NewDataPacket(ts int64, samples *mat.Dense) Record {
	return newRecord(KindData, ts, func(r *Record) {
		r.Packet = &DataPacket{Samples: samples}
	})
}

// NewModeChange creates an uncorrected mode change record.
func NewModeChange(ts int64, mode string) Record {
	return newRecord(KindModeChange, ts, func(r *Record) {
		r.Mode = &ModeChange{NewMode: mode}
	})
}

func newRecord(kind Kind, ts int64, fill func(*Record)) Record {
	r := Record{
		Kind:            kind,
		RawTimestamp:    ts,
		Timestamp:       float64(ts),
		ServerTimestamp: NoTimestamp,
		SenderID:        NoSender,
	}
	fill(&r)
	return r
}

// ValidTimestamp reports whether ts is a usable clock value.
func ValidTimestamp(ts int64) bool {
	return ts >= 0
}

// HasServerTimestamp reports whether the line carried a valid receipt time.
func (r Record) HasServerTimestamp() bool {
	return ValidTimestamp(r.ServerTimestamp)
}

// HasSender reports whether the line carried a sender identity.
func (r Record) HasSender() bool {
	return r.SenderID != NoSender
}

// ClockPair returns the (local, server) pair used for clock fitting and
// whether both halves are valid.
func (r Record) ClockPair() (x, y int64, ok bool) {
	return r.RawTimestamp, r.ServerTimestamp, ValidTimestamp(r.RawTimestamp) && ValidTimestamp(r.ServerTimestamp)
}

// String renders a one-line summary of the record.
func (r Record) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s ts:%.3f raw:%d", r.Kind, r.Timestamp, r.RawTimestamp)
	if r.HasServerTimestamp() {
		fmt.Fprintf(&sb, " sts:%d", r.ServerTimestamp)
	}
	switch r.Kind {
	case KindStimulus:
		sb.WriteString(" {")
		for i := range r.Stimulus.ObjectIDs {
			if i > 0 {
				sb.WriteByte(',')
			}
			fmt.Fprintf(&sb, "%d:%d", r.Stimulus.ObjectIDs[i], r.Stimulus.States[i])
		}
		sb.WriteByte('}')
	case KindData:
		fmt.Fprintf(&sb, " samples[%dx%d]", r.Packet.Rows(), r.Packet.Channels())
	case KindModeChange:
		fmt.Fprintf(&sb, " mode:%s", r.Mode.NewMode)
	}
	if r.HasSender() {
		fmt.Fprintf(&sb, " <-%s", r.SenderID)
	}
	return sb.String()
}

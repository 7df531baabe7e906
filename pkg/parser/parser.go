// Package parser turns transcript lines written by the BCI hub into typed
// event records.
//
// A transcript line looks like
//
//	sts:1021 DP ts:517 v[4x2]:[0.1,0.2,0.3,0.4,0.5,0.6,0.7,0.8] <-/192.168.1.7:8400
//
// with an optional server receipt stamp (sts:), a kind marker, the sender's
// own clock (ts:), a shape descriptor and payload for array-bearing kinds, and
// an optional sender suffix. Lines that do not match are skipped, never
// partially decoded.
package parser

// Markers are the tokens that identify each event kind on a line.
type Markers struct {
	Stimulus string `yaml:"stimulus"`
	Data     string `yaml:"data"`
	Mode     string `yaml:"mode"`
}

// DefaultMarkers returns the message names used by the hub.
func DefaultMarkers() Markers {
	return Markers{
		Stimulus: "SE",
		Data:     "DP",
		Mode:     "MC",
	}
}

// Config holds transcript reader configuration.
type Config struct {
	// Markers identify the event kinds.
	Markers Markers `yaml:"markers"`

	// BufferSize is the initial line buffer size in bytes.
	BufferSize int `yaml:"buffer_size"`

	// MaxLineBytes is the longest accepted line. Data packets with many
	// channels produce long lines.
	MaxLineBytes int `yaml:"max_line_bytes"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Markers:      DefaultMarkers(),
		BufferSize:   64 * 1024,
		MaxLineBytes: 16 * 1024 * 1024,
	}
}

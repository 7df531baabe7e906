// Package clocksync maps each sender's local clock onto the server clock.
//
// The map is affine, server ≈ Slope*local + Intercept, fitted per sender by
// least squares. Network delay produces one-sided outliers, so the fit is
// repeated a fixed number of times and after each pass the regression target
// of points whose residual exceeds ClipFactor times the mean absolute
// residual is pulled back onto that bound. Points are clamped, not dropped.
package clocksync

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/logflow/bcilog/internal/model"
)

// Status describes how a Fit was obtained.
type Status uint8

const (
	// StatusIdentity means no usable pairs; the map leaves timestamps unchanged.
	StatusIdentity Status = iota
	// StatusOffsetOnly means the slope could not be identified (one pair, or
	// every pair at the same local time); slope is 1 and only the offset is fitted.
	StatusOffsetOnly
	// StatusRobust is a full clamped least-squares fit.
	StatusRobust
)

// String returns the status name.
func (s Status) String() string {
	switch s {
	case StatusOffsetOnly:
		return "offset_only"
	case StatusRobust:
		return "robust"
	default:
		return "identity"
	}
}

// Options tune the robust fit.
type Options struct {
	// Iterations is the number of fit-and-clamp passes.
	Iterations int `yaml:"iterations"`

	// ClipFactor scales the mean absolute residual into the clamp bound.
	ClipFactor float64 `yaml:"clip_factor"`
}

// DefaultOptions returns three passes with a 3x clamp bound.
func DefaultOptions() Options {
	return Options{
		Iterations: 3,
		ClipFactor: 3,
	}
}

func (o Options) withDefaults() Options {
	def := DefaultOptions()
	if o.Iterations <= 0 {
		o.Iterations = def.Iterations
	}
	if o.ClipFactor <= 0 {
		o.ClipFactor = def.ClipFactor
	}
	return o
}

// Fit is an affine map from a sender's local clock to the server clock.
type Fit struct {
	Slope     float64
	Intercept float64

	// Pairs is the number of valid (local, server) pairs used.
	Pairs int

	// Scale is the mean absolute residual of the final pass.
	Scale float64

	Status Status
}

// Identity returns the map that leaves timestamps unchanged.
func Identity() Fit {
	return Fit{Slope: 1, Status: StatusIdentity}
}

// Map converts one local timestamp.
func (f Fit) Map(local int64) float64 {
	return f.Slope*float64(local) + f.Intercept
}

// Apply returns copies of records with Timestamp mapped from RawTimestamp.
// Every record is mapped, including those whose pair was not valid for the fit.
func (f Fit) Apply(records []model.Record) []model.Record {
	out := make([]model.Record, len(records))
	for i, r := range records {
		r.Timestamp = f.Map(r.RawTimestamp)
		r.Corrected = true
		out[i] = r
	}
	return out
}

// Estimate fits the clock map of one sender's records. Only records whose
// raw and server timestamps are both valid take part. The raw timestamp is
// always the source, so estimating again on corrected records gives the
// same map.
func Estimate(records []model.Record, opts Options) Fit {
	x := make([]float64, 0, len(records))
	y := make([]float64, 0, len(records))
	for _, r := range records {
		local, server, ok := r.ClockPair()
		if !ok {
			continue
		}
		x = append(x, float64(local))
		y = append(y, float64(server))
	}
	return EstimatePairs(x, y, opts)
}

// EstimatePairs fits server ≈ Slope*local + Intercept on paired slices.
func EstimatePairs(x, y []float64, opts Options) Fit {
	opts = opts.withDefaults()

	n := len(x)
	if n == 0 || len(y) != n {
		return Identity()
	}
	if n == 1 || floats.Min(x) == floats.Max(x) {
		diff := make([]float64, n)
		floats.SubTo(diff, y, x)
		fit := Fit{Slope: 1, Intercept: stat.Mean(diff, nil), Pairs: n, Status: StatusOffsetOnly}
		if !isFinite(fit.Intercept) {
			return Identity()
		}
		return fit
	}

	yFit := make([]float64, n)
	copy(yFit, y)
	est := make([]float64, n)
	resid := make([]float64, n)

	var slope, intercept, scale float64
	for it := 0; it < opts.Iterations; it++ {
		intercept, slope = stat.LinearRegression(x, yFit, nil, false)

		scale = 0
		for i := range x {
			est[i] = slope*x[i] + intercept
			resid[i] = y[i] - est[i]
			scale += math.Abs(resid[i])
		}
		scale /= float64(n)

		bound := opts.ClipFactor * scale
		for i := range x {
			switch {
			case resid[i] > bound:
				yFit[i] = est[i] + bound
			case resid[i] < -bound:
				yFit[i] = est[i] - bound
			}
		}
	}

	if !isFinite(slope) || !isFinite(intercept) {
		return Identity()
	}
	return Fit{
		Slope:     slope,
		Intercept: intercept,
		Pairs:     n,
		Scale:     scale,
		Status:    StatusRobust,
	}
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

package clocksync

import (
	"sort"

	"go.uber.org/zap"

	"github.com/logflow/bcilog/internal/model"
)

// Synchronizer fits and applies one clock map per sender.
type Synchronizer struct {
	opts   Options
	logger *zap.Logger
}

// NewSynchronizer creates a Synchronizer. A nil logger disables logging.
func NewSynchronizer(opts Options, logger *zap.Logger) *Synchronizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Synchronizer{opts: opts.withDefaults(), logger: logger}
}

// Synchronize fits each sender group on its own pairs only and returns the
// corrected copies together with the fitted maps, both keyed by sender.
// The input groups are not modified.
func (s *Synchronizer) Synchronize(groups map[string][]model.Record) (map[string][]model.Record, map[string]Fit) {
	corrected := make(map[string][]model.Record, len(groups))
	fits := make(map[string]Fit, len(groups))

	senders := make([]string, 0, len(groups))
	for sender := range groups {
		senders = append(senders, sender)
	}
	sort.Strings(senders)

	for _, sender := range senders {
		group := groups[sender]
		fit := Estimate(group, s.opts)
		corrected[sender] = fit.Apply(group)
		fits[sender] = fit

		fields := []zap.Field{
			zap.String("sender", sender),
			zap.Int("records", len(group)),
			zap.Int("pairs", fit.Pairs),
			zap.Stringer("status", fit.Status),
			zap.Float64("slope", fit.Slope),
			zap.Float64("intercept", fit.Intercept),
			zap.Float64("scale", fit.Scale),
		}
		if fit.Status == StatusRobust {
			s.logger.Debug("clock map fitted", fields...)
		} else {
			s.logger.Warn("clock map degenerate", fields...)
		}
	}
	return corrected, fits
}

package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics are the run counters. Each instance owns its registry so several
// runs (or tests) never share state.
type Metrics struct {
	Registry *prometheus.Registry

	Runs          prometheus.Counter
	LinesRead     prometheus.Counter
	Records       *prometheus.CounterVec
	Rejected      *prometheus.CounterVec
	Fits          *prometheus.CounterVec
	Samples       prometheus.Counter
	ExportedFiles *prometheus.CounterVec
	StageSeconds  *prometheus.HistogramVec
}

// NewMetrics registers the counters on a fresh registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)

	return &Metrics{
		Registry: reg,
		Runs: f.NewCounter(prometheus.CounterOpts{
			Name: "bcilog_runs_total",
			Help: "Completed transcript conversions",
		}),
		LinesRead: f.NewCounter(prometheus.CounterOpts{
			Name: "bcilog_lines_read_total",
			Help: "Transcript lines read",
		}),
		Records: f.NewCounterVec(prometheus.CounterOpts{
			Name: "bcilog_records_total",
			Help: "Records decoded by kind",
		}, []string{"kind"}),
		Rejected: f.NewCounterVec(prometheus.CounterOpts{
			Name: "bcilog_lines_rejected_total",
			Help: "Lines skipped by reason",
		}, []string{"reason"}),
		Fits: f.NewCounterVec(prometheus.CounterOpts{
			Name: "bcilog_clock_fits_total",
			Help: "Per-sender clock fits by status",
		}, []string{"status"}),
		Samples: f.NewCounter(prometheus.CounterOpts{
			Name: "bcilog_samples_assembled_total",
			Help: "Sample rows placed in the assembled table",
		}),
		ExportedFiles: f.NewCounterVec(prometheus.CounterOpts{
			Name: "bcilog_exported_files_total",
			Help: "Output files written by format",
		}, []string{"format"}),
		StageSeconds: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "bcilog_stage_duration_seconds",
			Help:    "Wall time per pipeline stage",
			Buckets: prometheus.ExponentialBuckets(0.001, 4, 8),
		}, []string{"stage"}),
	}
}

// WriteTextfile dumps the registry in the node-exporter textfile format.
func (m *Metrics) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, m.Registry)
}

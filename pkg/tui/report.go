// Package tui renders run reports and progress for the terminal.
// Plain streaming output styled with lipgloss; no full-screen UI.
package tui

import (
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/logflow/bcilog/internal/model"
	"github.com/logflow/bcilog/pkg/clocksync"
	"github.com/logflow/bcilog/pkg/parser"
	"github.com/logflow/bcilog/pkg/pipeline"
	"github.com/logflow/bcilog/pkg/writer"
)

// Colors (Swiss minimal)
var (
	accent  = lipgloss.Color("#FF0000")
	muted   = lipgloss.Color("#666666")
	success = lipgloss.Color("#00CC66")
	white   = lipgloss.Color("#FFFFFF")
)

// Styles
var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(white)
	accentStyle  = lipgloss.NewStyle().Foreground(accent).Bold(true)
	mutedStyle   = lipgloss.NewStyle().Foreground(muted)
	successStyle = lipgloss.NewStyle().Foreground(success).Bold(true)
	codeStyle    = lipgloss.NewStyle().Background(lipgloss.Color("#1a1a1a")).Foreground(white).Padding(0, 1)
	cellStyle    = lipgloss.NewStyle().Width(16)
)

const rule = "  ─────────────────────────────────────"

// Printer writes styled reports to w.
type Printer struct {
	w io.Writer
}

// NewPrinter returns a Printer writing to w.
func NewPrinter(w io.Writer) *Printer {
	return &Printer{w: w}
}

// Header prints the tool banner.
func (p *Printer) Header(version string) {
	fmt.Fprintln(p.w)
	fmt.Fprintln(p.w, titleStyle.Render("  BCILOG")+mutedStyle.Render(" v"+version))
	fmt.Fprintln(p.w, mutedStyle.Render("  BCI transcript reconstruction"))
	fmt.Fprintln(p.w)
}

// Section prints a section title.
func (p *Printer) Section(title string) {
	fmt.Fprintln(p.w)
	fmt.Fprintln(p.w, accentStyle.Render("▸ "+title))
}

func (p *Printer) field(name, value string) {
	fmt.Fprintf(p.w, "  %s %s\n", mutedStyle.Render(cellStyle.Render(name+":")), titleStyle.Render(value))
}

// Source prints the input name and its size when known.
func (p *Printer) Source(name string, size int64) {
	p.field("source", name)
	if size >= 0 {
		p.field("size", formatBytes(size))
	}
}

// Counts prints per-kind record counts and rejects per reason.
func (p *Printer) Counts(s parser.Stats) {
	p.Section("RECORDS")
	p.field("lines", formatNumber(int64(s.Lines)))
	for _, k := range []model.Kind{model.KindStimulus, model.KindData, model.KindModeChange} {
		p.field(k.String(), formatNumber(int64(s.ByKind[k])))
	}
	if len(s.Rejected) == 0 {
		return
	}
	reasons := make([]string, 0, len(s.Rejected))
	for r := range s.Rejected {
		reasons = append(reasons, r)
	}
	sort.Strings(reasons)
	for _, r := range reasons {
		p.field("skipped "+r, formatNumber(int64(s.Rejected[r])))
	}
}

// Fits prints one line per sender clock map.
func (p *Printer) Fits(fits map[string]clocksync.Fit) {
	p.Section("CLOCK MAPS")
	if len(fits) == 0 {
		fmt.Fprintln(p.w, mutedStyle.Render("  none"))
		return
	}
	for _, sender := range pipeline.Senders(fits) {
		f := fits[sender]
		name := sender
		if name == model.NoSender {
			name = "(no sender)"
		}
		status := successStyle.Render(f.Status.String())
		if f.Status != clocksync.StatusRobust {
			status = accentStyle.Render(f.Status.String())
		}
		fmt.Fprintf(p.w, "  %s %s %s\n",
			titleStyle.Render(cellStyle.Render(name)),
			codeStyle.Render(fmt.Sprintf("y = %.9g·x + %.6g", f.Slope, f.Intercept)),
			mutedStyle.Render(fmt.Sprintf("%d pairs ", f.Pairs))+status,
		)
	}
}

// Records prints at most n records.
func (p *Printer) Records(records []model.Record, n int) {
	p.Section(fmt.Sprintf("FIRST %d RECORDS", n))
	if n > len(records) {
		n = len(records)
	}
	for _, r := range records[:n] {
		fmt.Fprintf(p.w, "  %s\n", r.String())
	}
}

// RunReport prints the result of a conversion and the files it produced.
func (p *Printer) RunReport(res *pipeline.Result, outputs []writer.Output) {
	fmt.Fprintln(p.w)
	fmt.Fprintln(p.w, successStyle.Render("  ✓ CONVERSION COMPLETE"))
	fmt.Fprintln(p.w)
	p.field("run", res.RunID)
	if res.Source != "" {
		p.field("source", res.Source)
	}
	p.field("records", formatNumber(int64(res.Stats.Records)))
	p.field("samples", formatNumber(int64(res.Stats.Samples)))
	p.field("events", formatNumber(int64(len(res.Events))))
	p.field("senders", formatNumber(int64(res.Stats.Senders)))
	p.field("time", formatDuration(res.Stats.Duration()))

	if len(outputs) == 0 {
		return
	}
	fmt.Fprintln(p.w, mutedStyle.Render(rule))
	for _, o := range outputs {
		target := o.Path
		if o.URI != "" {
			target = o.URI
		}
		fmt.Fprintf(p.w, "  %s %s\n", mutedStyle.Render(cellStyle.Render(string(o.Format))), codeStyle.Render(target))
	}
}

// Error prints a failure line.
func (p *Printer) Error(msg string) {
	fmt.Fprintln(p.w, accentStyle.Render("  ✗ "+msg))
}

func formatBytes(b int64) string {
	const unit = 1024
	if b < unit {
		return fmt.Sprintf("%d B", b)
	}
	div, exp := int64(unit), 0
	for n := b / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(b)/float64(div), "KMGTPE"[exp])
}

// formatDuration formats a duration in a human-readable way.
func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	return fmt.Sprintf("%dm%ds", int(d.Minutes()), int(d.Seconds())%60)
}

func formatNumber(n int64) string {
	if n < 1000 {
		return fmt.Sprintf("%d", n)
	}
	if n < 1000000 {
		return fmt.Sprintf("%.1fK", float64(n)/1000)
	}
	return fmt.Sprintf("%.1fM", float64(n)/1000000)
}

package tui

import (
	"io"
	"time"

	"github.com/schollz/progressbar/v3"
)

// NewProgressBar returns a byte progress bar writing to out. A negative
// total gives a spinner.
func NewProgressBar(total int64, description string, out io.Writer) *progressbar.ProgressBar {
	return progressbar.NewOptions64(total,
		progressbar.OptionSetDescription(description),
		progressbar.OptionSetWriter(out),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowBytes(true),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "█",
			SaucerHead:    "█",
			SaucerPadding: "░",
			BarStart:      "",
			BarEnd:        "",
		}),
		progressbar.OptionThrottle(100*time.Millisecond),
		progressbar.OptionClearOnFinish(),
	)
}

// ProgressReader wraps r so reads advance a progress bar on out. The bar
// finishes when r reports io.EOF.
func ProgressReader(r io.Reader, size int64, description string, out io.Writer) io.Reader {
	bar := NewProgressBar(size, description, out)
	return &finishingReader{r: r, bar: bar}
}

type finishingReader struct {
	r   io.Reader
	bar *progressbar.ProgressBar
}

func (f *finishingReader) Read(p []byte) (int, error) {
	n, err := f.r.Read(p)
	if n > 0 {
		_ = f.bar.Add(n)
	}
	if err == io.EOF {
		_ = f.bar.Finish()
	}
	return n, err
}

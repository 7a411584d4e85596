package ui

import (
	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"
)

// BatchProgress renders progress bars for a batch run.
type BatchProgress struct {
	progress *mpb.Progress
}

// NewBatchProgress creates a multi-bar progress display.
func NewBatchProgress() *BatchProgress {
	return &BatchProgress{progress: mpb.New(mpb.WithWidth(64))}
}

// AddBar adds a named bar with the given total.
func (b *BatchProgress) AddBar(name string, total int64) *mpb.Bar {
	return b.progress.AddBar(total,
		mpb.BarFillerOnComplete("✓"),
		mpb.PrependDecorators(
			decor.Name(name, decor.WC{W: len(name) + 1, C: decor.DSyncSpaceR}),
			decor.CountersNoUnit("%d / %d", decor.WCSyncWidth),
		),
		mpb.AppendDecorators(
			decor.Percentage(decor.WC{W: 5}),
			decor.Elapsed(decor.ET_STYLE_GO, decor.WC{W: 12}),
		),
	)
}

// Close waits for all bars to render their final state. When output is
// piped the bars cannot render, so shut down without waiting.
func (b *BatchProgress) Close() {
	if IsTerminal() {
		b.progress.Wait()
	} else {
		b.progress.Shutdown()
	}
}

package monitor

import (
	"fmt"
	"io"

	"github.com/schollz/progressbar/v3"

	"github.com/JakeFAU/training-status/internal/progress"
)

// BarRenderer draws a terminal progress bar from successive snapshots.
type BarRenderer struct {
	out io.Writer
	bar *progressbar.ProgressBar
}

// NewBarRenderer returns a renderer writing to out. The bar is created on the
// first snapshot, once the total is known.
func NewBarRenderer(out io.Writer) *BarRenderer {
	return &BarRenderer{out: out}
}

// Render moves the bar to the snapshot's iteration and refreshes its description.
func (r *BarRenderer) Render(snap progress.Snapshot) error {
	total := int64(snap.TotalIterations) //nolint:gosec // iteration budgets fit in int64
	if r.bar == nil {
		r.bar = progressbar.NewOptions64(
			total,
			progressbar.OptionSetWriter(r.out),
			progressbar.OptionSetTheme(progressbar.ThemeASCII),
			progressbar.OptionFullWidth(),
			progressbar.OptionShowCount(),
			progressbar.OptionSetDescription(describe(snap)),
		)
	} else if r.bar.GetMax64() != total {
		r.bar.ChangeMax64(total)
	}
	r.bar.Describe(describe(snap))
	if err := r.bar.Set64(int64(snap.CurrentIteration)); err != nil { //nolint:gosec // bounded by total
		return fmt.Errorf("render progress: %w", err)
	}
	return nil
}

// Current returns the iteration the bar shows, or zero before the first render.
func (r *BarRenderer) Current() int64 {
	if r.bar == nil {
		return 0
	}
	return r.bar.State().CurrentNum
}

// Finish completes the bar and moves the cursor past it.
func (r *BarRenderer) Finish() error {
	if r.bar == nil {
		return nil
	}
	if err := r.bar.Exit(); err != nil {
		return fmt.Errorf("finish progress: %w", err)
	}
	return nil
}

func describe(snap progress.Snapshot) string {
	desc := fmt.Sprintf("%-10s", snap.Phase)
	if snap.LastEvalPSNR != nil {
		desc += fmt.Sprintf(" psnr %.2f", *snap.LastEvalPSNR)
	}
	return desc
}

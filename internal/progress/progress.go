// Package progress renders a terminal progress bar for repository syncs. A nil *Bar is valid and does
// nothing, so callers never need to check whether progress is shown.
package progress

import (
	"io"
	"sync"

	"github.com/schollz/progressbar/v3"
)

type Bar struct {
	mu  sync.Mutex
	max int
	bar *progressbar.ProgressBar
}

// New returns a bar writing to w. With w nil, no bar is shown and nil is returned.
func New(w io.Writer, description string) *Bar {
	if w == nil {
		return nil
	}

	return &Bar{
		bar: progressbar.NewOptions(0,
			progressbar.OptionSetWriter(w),
			progressbar.OptionSetDescription(description),
			progressbar.OptionShowCount(),
			progressbar.OptionClearOnFinish(),
			progressbar.OptionSetPredictTime(false),
		),
	}
}

// AddMax raises the number of steps the bar expects.
func (b *Bar) AddMax(n int) {
	if b == nil {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.max += n
	b.bar.ChangeMax(b.max)
}

func (b *Bar) Add(n int) {
	if b == nil {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	_ = b.bar.Add(n)
}

func (b *Bar) Finish() {
	if b == nil {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	_ = b.bar.Finish()
}

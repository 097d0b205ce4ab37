package cmd

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/schollz/progressbar/v3"

	"github.com/JakeFAU/urlfetch/internal/coordinator"
)

const progressInterval = 200 * time.Millisecond

type progressSource interface {
	Progress() coordinator.Progress
}

// watchProgress renders the pipeline progress of src to w until the returned
// func is called. The total is unknown while the input is still being read,
// so the bar spins and only settles on a length once the run is complete.
func watchProgress(w io.Writer, src progressSource, interval time.Duration) (stop func()) {
	bar := progressbar.NewOptions64(-1,
		progressbar.OptionSetWriter(w),
		progressbar.OptionSetDescription("fetching"),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("url"),
		progressbar.OptionSetWidth(40),
		progressbar.OptionSetSpinnerChangeInterval(0),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "=",
			SaucerHead:    ">",
			SaucerPadding: " ",
			BarStart:      "[",
			BarEnd:        "]",
		}),
	)

	done := make(chan struct{})
	finished := make(chan struct{})
	go func() {
		defer close(finished)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				p := src.Progress()
				bar.Describe(fmt.Sprintf("fetching (%d queued)", p.Enqueued-p.Processed))
				_ = bar.Set64(p.Processed)
			case <-done:
				settle(bar, src.Progress())
				_, _ = fmt.Fprintln(w)
				return
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			close(done)
			<-finished
		})
	}
}

func settle(bar *progressbar.ProgressBar, p coordinator.Progress) {
	if p.Enqueued > 0 && p.Processed == p.Enqueued {
		bar.Describe("done")
		bar.ChangeMax64(p.Enqueued)
		_ = bar.Finish()
		return
	}
	bar.Describe(fmt.Sprintf("stopped after %d of %d", p.Processed, p.Enqueued))
	_ = bar.Exit()
}

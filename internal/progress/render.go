package progress

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"
)

// Renderer draws a Coordinator's aggregate progress as a live bar when
// stdout is a terminal, and falls back to occasional plain-text percentage
// lines otherwise. Grounded on the teacher's internal/ui/progress.go
// ProgressManager, which makes the same isatty.IsTerminal/
// IsCygwinTerminal check to decide between an mpb bar and a bare writer,
// and tags a colorized label the same way via fatih/color.
type Renderer struct {
	w      io.Writer
	isTTY  bool
	prog   *mpb.Progress
	bar    *mpb.Bar
	label  string
	plain  func(pct int64)
	lastPc int64
}

// NewRenderer returns a Renderer labeled name, writing to w.
func NewRenderer(w io.Writer, name string) *Renderer {
	isTTY := isatty.IsTerminal(os.Stdout.Fd()) || isatty.IsCygwinTerminal(os.Stdout.Fd())
	r := &Renderer{w: w, isTTY: isTTY, label: name, lastPc: -1}
	if isTTY {
		r.prog = mpb.New(mpb.WithOutput(w), mpb.WithWidth(40))
		r.bar = r.prog.AddBar(100,
			mpb.PrependDecorators(decor.Name(color.CyanString(name)+" ")),
			mpb.AppendDecorators(decor.Percentage()),
		)
	}
	return r
}

// Watch polls coord every interval until done is closed, driving either the
// mpb bar or a plain percentage line printed on change only.
func (r *Renderer) Watch(coord *Coordinator, done <-chan struct{}, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			r.set(100)
			r.Close()
			return
		case <-ticker.C:
			r.set(coord.Aggregate())
		}
	}
}

func (r *Renderer) set(pct int64) {
	if r.bar != nil {
		r.bar.SetCurrent(pct)
		return
	}
	if pct == r.lastPc {
		return
	}
	r.lastPc = pct
	fmt.Fprintf(r.w, "%s: %d%%\n", r.label, pct)
}

// Close finalizes the underlying mpb progress, if any.
func (r *Renderer) Close() {
	if r.prog != nil {
		r.prog.Wait()
	}
}

// internal/recorder/liveview.go
package recorder

import (
	"io"
	"os"
	"strings"
	"sync"

	"golang.org/x/term"
)

const (
	cursorUp  = "\x1b[1A"
	eraseLine = "\x1b[2K\r"
)

// LiveView redraws the current script in place on a terminal. Anything else
// printed to the same terminal must go through Write so the drawn block
// stays at the bottom.
type LiveView struct {
	mu    sync.Mutex
	out   io.Writer
	drawn []string
}

// NewLiveView returns a view writing to out, or nil when out is not a terminal.
func NewLiveView(out io.Writer) *LiveView {
	f, ok := out.(*os.File)
	if !ok || !term.IsTerminal(int(f.Fd())) {
		return nil
	}
	return newLiveView(out)
}

func newLiveView(out io.Writer) *LiveView {
	return &LiveView{out: out}
}

// Render erases the previously drawn script and writes text in its place.
// A nil view does nothing.
func (v *LiveView) Render(text string) {
	if v == nil {
		return
	}
	v.mu.Lock()
	defer v.mu.Unlock()

	var b strings.Builder
	v.eraseLocked(&b)
	v.drawn = strings.Split(strings.TrimRight(text, "\n"), "\n")
	v.drawLocked(&b)
	_, _ = io.WriteString(v.out, b.String())
}

// Clear erases whatever the view has drawn.
func (v *LiveView) Clear() {
	if v == nil {
		return
	}
	v.mu.Lock()
	defer v.mu.Unlock()

	var b strings.Builder
	v.eraseLocked(&b)
	v.drawn = nil
	_, _ = io.WriteString(v.out, b.String())
}

// Write prints p above the drawn script. The console logger writes through
// it while the view is active.
func (v *LiveView) Write(p []byte) (int, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	var b strings.Builder
	v.eraseLocked(&b)
	b.Write(p)
	if len(p) > 0 && p[len(p)-1] != '\n' {
		b.WriteByte('\n')
	}
	v.drawLocked(&b)
	if _, err := io.WriteString(v.out, b.String()); err != nil {
		return 0, err
	}
	return len(p), nil
}

// Sync flushes the underlying terminal when it supports it.
func (v *LiveView) Sync() error {
	if s, ok := v.out.(interface{ Sync() error }); ok {
		return s.Sync()
	}
	return nil
}

func (v *LiveView) eraseLocked(b *strings.Builder) {
	for range v.drawn {
		b.WriteString(cursorUp)
		b.WriteString(eraseLine)
	}
}

func (v *LiveView) drawLocked(b *strings.Builder) {
	for _, line := range v.drawn {
		b.WriteString(line)
		b.WriteByte('\n')
	}
}

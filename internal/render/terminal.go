package render

import (
	"context"
	"fmt"
	"io"
	"math"
	"strings"
	"sync"

	"github.com/malbeclabs/rttlab/internal/sample"
)

const (
	defaultTerminalWidth  = 60
	defaultTerminalHeight = 10
)

// Terminal draws an ASCII chart of RTT against sample index.
type Terminal struct {
	mu     sync.Mutex
	w      io.Writer
	width  int
	height int
}

func NewTerminal(w io.Writer, width, height int) *Terminal {
	if width <= 0 {
		width = defaultTerminalWidth
	}
	if height < 2 {
		height = defaultTerminalHeight
	}
	return &Terminal{w: w, width: width, height: height}
}

func (t *Terminal) Render(ctx context.Context, stream sample.Stream, title string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s\n", title)
	if stream.Empty() {
		b.WriteString("  no samples\n")
		return t.write(b.String())
	}

	values := series(stream.RTTs(), t.width)
	lo, hi := bounds(values)
	rows := make([]int, len(values))
	for i, v := range values {
		rows[i] = int(math.Round((v - lo) / (hi - lo) * float64(t.height-1)))
	}

	for r := t.height - 1; r >= 0; r-- {
		label := lo + (hi-lo)*float64(r)/float64(t.height-1)
		fmt.Fprintf(&b, "%10.3f |", label)
		for _, row := range rows {
			if row == r {
				b.WriteByte('*')
			} else {
				b.WriteByte(' ')
			}
		}
		b.WriteByte('\n')
	}
	fmt.Fprintf(&b, "%10s +%s\n", "ms", strings.Repeat("-", len(values)))
	fmt.Fprintf(&b, "%10s  1%*d (sample)\n", "", max(len(values)-1, 1), stream.Len())

	return t.write(b.String())
}

func (t *Terminal) write(s string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, err := io.WriteString(t.w, s)
	return err
}

// Package report prints experiment results for an operator.
package report

import (
	"fmt"
	"io"
	"sync"

	"github.com/malbeclabs/rttlab/internal/experiment"
	"github.com/malbeclabs/rttlab/internal/stats"
	"github.com/olekukonko/tablewriter"
)

// Text writes the per-phase statistics block and a comparison table to w.
type Text struct {
	mu      sync.Mutex
	w       io.Writer
	compare bool
}

type TextOption func(*Text)

// WithoutComparison drops the comparison table after both phases.
func WithoutComparison() TextOption {
	return func(t *Text) { t.compare = false }
}

func NewText(w io.Writer, opts ...TextOption) *Text {
	t := &Text{w: w, compare: true}
	for _, o := range opts {
		o(t)
	}
	return t
}

func (t *Text) Stage(stage experiment.Stage) {
	var msg string
	switch stage {
	case experiment.StageStarted:
		msg = "Starting normal and abnormal flow experiments..."
	case experiment.StageCollected:
		msg = "Calculating and plotting RTT statistics..."
	case experiment.StageCompleted:
		msg = "Experiment completed."
	default:
		return
	}
	t.printf("%s\n", msg)
}

func (t *Text) Summary(phase string, s stats.Summary) {
	t.printf("%s_RTT Statistics:\n"+
		"  Average RTT: %.3f ms\n"+
		"  Minimum RTT: %.3f ms\n"+
		"  Maximum RTT: %.3f ms\n"+
		"  Standard Deviation: %.3f ms\n",
		phase, s.Average, s.Minimum, s.Maximum, s.StdDev)
}

func (t *Text) Fault(phase string, err error) {
	t.printf("%s flow failed: %v\n", phase, err)
}

func (t *Text) RenderFailed(phase string, err error) {
	t.printf("%s plot failed: %v\n", phase, err)
}

func (t *Text) Compare(phases []*experiment.PhaseResult) {
	if !t.compare || len(phases) == 0 {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	table := tablewriter.NewWriter(t.w)
	table.SetAutoWrapText(false)
	table.SetHeaderAlignment(tablewriter.ALIGN_CENTER)
	table.SetAutoFormatHeaders(false)
	table.SetBorder(true)
	table.SetRowLine(true)
	table.SetHeader([]string{
		"Phase", "Samples",
		"Avg\n(ms)", "Min\n(ms)", "Max\n(ms)", "StdDev\n(ms)",
		"P95\n(ms)", "Jitter\n(ms)", "Status",
	})
	for _, p := range phases {
		row := []string{p.Name, fmt.Sprintf("%d", p.Stream.Len())}
		if d, ok := stats.Describe(p.Stream.RTTs()); ok {
			row = append(row,
				fmt.Sprintf("%.3f", d.Average),
				fmt.Sprintf("%.3f", d.Minimum),
				fmt.Sprintf("%.3f", d.Maximum),
				fmt.Sprintf("%.3f", d.StdDev),
				fmt.Sprintf("%.3f", d.P95),
				fmt.Sprintf("%.3f", d.JitterAvg),
			)
		} else {
			row = append(row, "-", "-", "-", "-", "-", "-")
		}
		row = append(row, Status(p))
		table.Append(row)
	}
	table.Render()
}

// Status is a one-word outcome of a phase.
func Status(p *experiment.PhaseResult) string {
	switch {
	case p.Stuck:
		return "stuck"
	case p.Fault != nil:
		return "fault"
	case p.Stream.Empty():
		return "empty"
	case p.RenderErr != nil:
		return "render failed"
	default:
		return "ok"
	}
}

func (t *Text) printf(format string, args ...any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	fmt.Fprintf(t.w, format, args...)
}

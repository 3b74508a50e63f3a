package experiment_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/malbeclabs/rttlab/internal/experiment"
	"github.com/malbeclabs/rttlab/internal/sample"
	"github.com/malbeclabs/rttlab/internal/stats"
	"github.com/malbeclabs/rttlab/internal/topology"
)

var launchOrder atomic.Int64

// fakeGenerator appends rtts, then optionally fails or panics. If block is set it waits for it
// to be closed (or ctx to be done when honorCtx is set) before returning.
type fakeGenerator struct {
	name     string
	rtts     []float64
	err      error
	panicMsg string
	block    chan struct{}
	honorCtx bool

	started     chan struct{}
	launchedAt  int64
	appendErrMu sync.Mutex
	appendErr   error
}

func newFakeGenerator(name string, rtts ...float64) *fakeGenerator {
	return &fakeGenerator{name: name, rtts: rtts, started: make(chan struct{})}
}

func (g *fakeGenerator) Name() string { return g.name }

func (g *fakeGenerator) Run(ctx context.Context, _ *topology.Network, w *sample.Writer) error {
	g.launchedAt = launchOrder.Add(1)
	close(g.started)

	for i, rtt := range g.rtts {
		if err := w.Append(sample.Sample{Seq: uint32(i + 1), Timestamp: time.Unix(int64(i), 0), RTT: rtt}); err != nil {
			return err
		}
	}
	if g.panicMsg != "" {
		panic(g.panicMsg)
	}
	if g.block != nil {
		if g.honorCtx {
			select {
			case <-g.block:
			case <-ctx.Done():
				return ctx.Err()
			}
		} else {
			<-g.block
			err := w.Append(sample.Sample{Seq: 999, RTT: 1})
			g.appendErrMu.Lock()
			g.appendErr = err
			g.appendErrMu.Unlock()
		}
	}
	return g.err
}

func (g *fakeGenerator) lateAppendErr() error {
	g.appendErrMu.Lock()
	defer g.appendErrMu.Unlock()
	return g.appendErr
}

type recordingReporter struct {
	mu        sync.Mutex
	stages    []experiment.Stage
	summaries map[string]stats.Summary
	faults    map[string]error
	renders   map[string]error
	order     []string
	compared  []*experiment.PhaseResult
}

func newRecordingReporter() *recordingReporter {
	return &recordingReporter{
		summaries: map[string]stats.Summary{},
		faults:    map[string]error{},
		renders:   map[string]error{},
	}
}

func (r *recordingReporter) Stage(s experiment.Stage) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stages = append(r.stages, s)
}

func (r *recordingReporter) Summary(phase string, s stats.Summary) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.summaries[phase] = s
	r.order = append(r.order, "summary:"+phase)
}

func (r *recordingReporter) Fault(phase string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.faults[phase] = err
	r.order = append(r.order, "fault:"+phase)
}

func (r *recordingReporter) RenderFailed(phase string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.renders[phase] = err
	r.order = append(r.order, "render-failed:"+phase)
}

func (r *recordingReporter) Compare(phases []*experiment.PhaseResult) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.compared = phases
	r.order = append(r.order, "compare")
}

type recordingRenderer struct {
	mu      sync.Mutex
	titles  []string
	lengths []int
	failOn  map[string]error
	panicOn string
}

func (r *recordingRenderer) Render(_ context.Context, s sample.Stream, title string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.titles = append(r.titles, title)
	r.lengths = append(r.lengths, s.Len())
	if title == r.panicOn {
		panic("renderer exploded")
	}
	return r.failOn[title]
}

type recordingExporter struct {
	mu     sync.Mutex
	runIDs []string
	phases []string
	err    error
}

func (e *recordingExporter) Export(_ context.Context, runID string, p *experiment.PhaseResult) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.runIDs = append(e.runIDs, runID)
	e.phases = append(e.phases, p.Name)
	return e.err
}

var errBoom = errors.New("boom")

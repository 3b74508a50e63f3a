// Package experiment runs the two-phase latency experiment: a normal flow, and after a warm-up
// an abnormal flow, each collecting RTT samples into its own stream. Once both have returned
// the streams are sealed, summarized, reported and rendered, normal first.
package experiment

import (
	"context"
	"errors"
	"time"

	"github.com/malbeclabs/rttlab/internal/sample"
	"github.com/malbeclabs/rttlab/internal/stats"
	"github.com/malbeclabs/rttlab/internal/topology"
)

const (
	PhaseNormal   = "Normal"
	PhaseAbnormal = "Abnormal"

	TitleNormal   = "Normal RTT Over Time"
	TitleAbnormal = "Abnormal RTT Over Time"

	DefaultWarmUp     = 5 * time.Second
	DefaultStuckGrace = 5 * time.Second
)

var (
	ErrTopologyInit = topology.ErrTopologyInit
	ErrWorkerFault  = errors.New("experiment: worker fault")
	ErrWorkerStuck  = errors.New("experiment: worker stuck")
	ErrRender       = errors.New("experiment: render failed")
)

// Generator produces the traffic of one phase, appending samples only to w.
type Generator interface {
	Name() string
	Run(ctx context.Context, network *topology.Network, w *sample.Writer) error
}

type Stage int

const (
	// StageStarted is reported before the normal worker is launched.
	StageStarted Stage = iota
	// StageCollected is reported once both workers have been joined and their streams sealed.
	StageCollected
	// StageCompleted is reported after every phase has been reported and rendered.
	StageCompleted
)

type Reporter interface {
	Stage(stage Stage)
	Summary(phase string, s stats.Summary)
	Fault(phase string, err error)
	RenderFailed(phase string, err error)
	Compare(phases []*PhaseResult)
}

type Renderer interface {
	Render(ctx context.Context, stream sample.Stream, title string) error
}

// Exporter receives each finalized phase after it has been reported and rendered.
type Exporter interface {
	Export(ctx context.Context, runID string, phase *PhaseResult) error
}

type PhaseResult struct {
	Name       string
	Title      string
	StartedAt  time.Time
	FinishedAt time.Time
	Stream     sample.Stream

	// Summary is nil when the phase collected no samples.
	Summary *stats.Summary
	// Fault is set when the generator returned an error or panicked. It wraps ErrWorkerFault.
	Fault error
	// RenderErr wraps ErrRender.
	RenderErr error
	// Stuck is set when the generator outlived its deadline by more than the stuck grace.
	Stuck bool
}

type Result struct {
	ID         string
	StartedAt  time.Time
	FinishedAt time.Time
	Normal     *PhaseResult
	Abnormal   *PhaseResult
}

// Phases returns the phases in reporting order.
func (r *Result) Phases() []*PhaseResult {
	return []*PhaseResult{r.Normal, r.Abnormal}
}

// Faulted reports whether any phase faulted.
func (r *Result) Faulted() bool {
	for _, p := range r.Phases() {
		if p.Fault != nil {
			return true
		}
	}
	return false
}

// Err joins the faults of every phase. It is nil when no phase faulted.
func (r *Result) Err() error {
	var errs []error
	for _, p := range r.Phases() {
		if p.Fault != nil {
			errs = append(errs, p.Fault)
		}
	}
	return errors.Join(errs...)
}

package experiment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/malbeclabs/rttlab/internal/metrics"
	"github.com/malbeclabs/rttlab/internal/sample"
	"github.com/malbeclabs/rttlab/internal/stats"
	"github.com/malbeclabs/rttlab/internal/topology"
)

type Config struct {
	Clock clockwork.Clock

	Normal   Generator
	Abnormal Generator

	Reporter  Reporter
	Renderer  Renderer
	Exporters []Exporter

	// WarmUp is how long the normal phase runs alone before the abnormal phase starts.
	WarmUp time.Duration

	// WorkerTimeout bounds each generator through its context. Zero disables the bound.
	WorkerTimeout time.Duration
	// StuckGrace is how long a generator may keep running after its deadline before the run is
	// abandoned with ErrWorkerStuck.
	StuckGrace time.Duration
}

func (c *Config) Validate() error {
	if c.Normal == nil {
		return errors.New("normal generator is required")
	}
	if c.Abnormal == nil {
		return errors.New("abnormal generator is required")
	}
	if c.Reporter == nil {
		return errors.New("reporter is required")
	}
	if c.Renderer == nil {
		return errors.New("renderer is required")
	}
	if c.WarmUp < 0 {
		return fmt.Errorf("warm-up must be non-negative, got %s", c.WarmUp)
	}
	if c.WorkerTimeout < 0 {
		return fmt.Errorf("worker timeout must be non-negative, got %s", c.WorkerTimeout)
	}
	if c.StuckGrace < 0 {
		return fmt.Errorf("stuck grace must be non-negative, got %s", c.StuckGrace)
	}
	for i, e := range c.Exporters {
		if e == nil {
			return fmt.Errorf("exporter %d is nil", i)
		}
	}
	return nil
}

type Orchestrator struct {
	log *slog.Logger
	cfg Config
}

func New(log *slog.Logger, cfg Config) (*Orchestrator, error) {
	if log == nil {
		return nil, errors.New("log is nil")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid experiment config: %w", err)
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.WorkerTimeout > 0 && cfg.StuckGrace == 0 {
		cfg.StuckGrace = DefaultStuckGrace
	}
	return &Orchestrator{log: log, cfg: cfg}, nil
}

type worker struct {
	phase *PhaseResult
	gen   Generator
	w     *sample.Writer

	started  time.Time
	finished time.Time
	done     chan struct{}
	err      error
}

// Run executes one experiment over network. The returned error is non-nil only when the run
// could not complete: ctx was cancelled during the warm-up, or a worker is stuck. Worker faults
// and render failures are recorded on the phases of the returned result.
func (o *Orchestrator) Run(ctx context.Context, network *topology.Network) (*Result, error) {
	if network == nil {
		return nil, errors.New("network is nil")
	}

	res := &Result{
		ID:        uuid.NewString(),
		StartedAt: o.cfg.Clock.Now(),
		Normal:    &PhaseResult{Name: PhaseNormal, Title: TitleNormal},
		Abnormal:  &PhaseResult{Name: PhaseAbnormal, Title: TitleAbnormal},
	}
	log := o.log.With("run", res.ID)
	normal := &worker{phase: res.Normal, gen: o.cfg.Normal, w: sample.NewWriter(0), done: make(chan struct{})}
	abnormal := &worker{phase: res.Abnormal, gen: o.cfg.Abnormal, w: sample.NewWriter(0), done: make(chan struct{})}

	log.Info("Starting normal and abnormal flow experiments", "warmUp", o.cfg.WarmUp)
	o.cfg.Reporter.Stage(StageStarted)

	o.start(ctx, log, network, normal)

	if o.cfg.WarmUp > 0 {
		select {
		case <-ctx.Done():
			log.Warn("Run cancelled during warm-up, waiting for normal flow", "error", ctx.Err())
			stuck := o.join(log, normal)
			normal.w.Seal()
			metrics.RunsTotal.WithLabelValues(metrics.ResultError).Inc()
			if len(stuck) > 0 {
				return nil, errors.Join(ctx.Err(), fmt.Errorf("%w: %s", ErrWorkerStuck, PhaseNormal))
			}
			return nil, ctx.Err()
		case <-o.cfg.Clock.After(o.cfg.WarmUp):
		}
	}

	o.start(ctx, log, network, abnormal)

	stuck := o.join(log, normal, abnormal)

	// Both workers have returned (or are abandoned); nothing may append past this point.
	for _, wk := range []*worker{normal, abnormal} {
		wk.phase.Stream = wk.w.Seal()
		metrics.PhaseSamples.WithLabelValues(phaseLabel(wk.phase.Name)).Set(float64(wk.phase.Stream.Len()))
	}

	for _, wk := range stuck {
		wk.phase.Stuck = true
		wk.phase.Fault = fmt.Errorf("%w: %s", ErrWorkerStuck, wk.phase.Name)
	}
	for _, wk := range []*worker{normal, abnormal} {
		if wk.phase.Stuck {
			continue
		}
		wk.phase.FinishedAt = wk.finished
		if wk.err != nil {
			wk.phase.Fault = fmt.Errorf("%w: %s: %w", ErrWorkerFault, wk.phase.Name, wk.err)
			metrics.WorkerFaultsTotal.WithLabelValues(phaseLabel(wk.phase.Name)).Inc()
		}
	}

	log.Info("Calculating and plotting RTT statistics", "normalSamples", res.Normal.Stream.Len(), "abnormalSamples", res.Abnormal.Stream.Len())
	o.cfg.Reporter.Stage(StageCollected)

	// A stuck phase is reported but not summarized; its stream may be cut mid-flow.
	for _, p := range res.Phases() {
		if p.Stuck {
			o.cfg.Reporter.Fault(p.Name, p.Fault)
			continue
		}
		o.finalize(ctx, log, res.ID, p)
	}
	o.cfg.Reporter.Compare(res.Phases())

	if len(stuck) > 0 {
		names := make([]string, 0, len(stuck))
		for _, wk := range stuck {
			names = append(names, wk.phase.Name)
		}
		res.FinishedAt = o.cfg.Clock.Now()
		metrics.RunsTotal.WithLabelValues(metrics.ResultError).Inc()
		log.Error("Abandoning run with stuck workers", "phases", names)
		return res, fmt.Errorf("%w: %s", ErrWorkerStuck, strings.Join(names, ", "))
	}

	res.FinishedAt = o.cfg.Clock.Now()
	result := metrics.ResultOK
	if res.Faulted() {
		result = metrics.ResultFault
	}
	metrics.RunsTotal.WithLabelValues(result).Inc()
	metrics.RunDuration.Observe(res.FinishedAt.Sub(res.StartedAt).Seconds())

	o.cfg.Reporter.Stage(StageCompleted)
	log.Info("Experiment completed", "duration", res.FinishedAt.Sub(res.StartedAt), "faulted", res.Faulted())
	return res, nil
}

func (o *Orchestrator) start(ctx context.Context, log *slog.Logger, network *topology.Network, wk *worker) {
	wk.phase.StartedAt = o.cfg.Clock.Now()
	wk.started = time.Now()

	wctx, cancel := ctx, context.CancelFunc(func() {})
	if o.cfg.WorkerTimeout > 0 {
		wctx, cancel = context.WithTimeout(ctx, o.cfg.WorkerTimeout)
	}

	log.Info("Phase started", "phase", wk.phase.Name, "generator", wk.gen.Name())
	go func() {
		defer close(wk.done)
		defer cancel()
		defer func() {
			if r := recover(); r != nil {
				wk.err = fmt.Errorf("panic: %v", r)
				log.Error("Generator panicked", "phase", wk.phase.Name, "panic", r, "stack", string(debug.Stack()))
			}
			wk.finished = o.cfg.Clock.Now()
		}()
		wk.err = wk.gen.Run(wctx, network, wk.w)
		if wk.err != nil {
			log.Warn("Phase faulted", "phase", wk.phase.Name, "error", wk.err)
		} else {
			log.Info("Phase finished", "phase", wk.phase.Name, "samples", wk.w.Len())
		}
	}()
}

// join waits for every worker to return. With a worker timeout configured, workers still running
// StuckGrace past their deadline are given up on and returned.
func (o *Orchestrator) join(log *slog.Logger, workers ...*worker) []*worker {
	var stuck []*worker
	for _, wk := range workers {
		if o.cfg.WorkerTimeout <= 0 {
			<-wk.done
			continue
		}
		timer := time.NewTimer(time.Until(wk.started.Add(o.cfg.WorkerTimeout + o.cfg.StuckGrace)))
		select {
		case <-wk.done:
		case <-timer.C:
			log.Error("Worker did not stop after its deadline", "phase", wk.phase.Name, "timeout", o.cfg.WorkerTimeout, "grace", o.cfg.StuckGrace)
			stuck = append(stuck, wk)
		}
		timer.Stop()
	}
	return stuck
}

// finalize summarizes, reports, renders and exports one sealed phase.
func (o *Orchestrator) finalize(ctx context.Context, log *slog.Logger, runID string, p *PhaseResult) {
	if p.Fault != nil {
		o.cfg.Reporter.Fault(p.Name, p.Fault)
	}

	if s, ok := stats.Summarize(p.Stream.RTTs()); ok {
		p.Summary = &s
		o.cfg.Reporter.Summary(p.Name, s)
	} else {
		log.Info("No samples collected", "phase", p.Name)
	}

	if err := o.render(ctx, p); err != nil {
		p.RenderErr = fmt.Errorf("%w: %s: %w", ErrRender, p.Name, err)
		metrics.RenderFailuresTotal.WithLabelValues(phaseLabel(p.Name)).Inc()
		log.Warn("Failed to render phase", "phase", p.Name, "error", err)
		o.cfg.Reporter.RenderFailed(p.Name, p.RenderErr)
	}

	for _, e := range o.cfg.Exporters {
		if err := e.Export(ctx, runID, p); err != nil {
			metrics.ExportFailuresTotal.WithLabelValues(phaseLabel(p.Name)).Inc()
			log.Warn("Failed to export phase", "phase", p.Name, "error", err)
		}
	}
}

func (o *Orchestrator) render(ctx context.Context, p *PhaseResult) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return o.cfg.Renderer.Render(ctx, p.Stream, p.Title)
}

func phaseLabel(name string) string {
	return strings.ToLower(name)
}

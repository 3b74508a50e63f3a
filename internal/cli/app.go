package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/jonboulle/clockwork"
	"github.com/malbeclabs/rttlab/internal/config"
	"github.com/malbeclabs/rttlab/internal/experiment"
	"github.com/malbeclabs/rttlab/internal/export"
	"github.com/malbeclabs/rttlab/internal/flow"
	"github.com/malbeclabs/rttlab/internal/probe"
	"github.com/malbeclabs/rttlab/internal/render"
	"github.com/malbeclabs/rttlab/internal/report"
	"github.com/malbeclabs/rttlab/internal/topology"
)

// app wires config into the topology and orchestrator shared by the run and console commands.
type app struct {
	log   *slog.Logger
	cfg   *config.Config
	out   io.Writer
	clock clockwork.Clock
}

func newApp(log *slog.Logger, cfg *config.Config, out io.Writer) *app {
	return &app{log: log, cfg: cfg, out: out, clock: clockwork.NewRealClock()}
}

func (a *app) provider() (topology.Provider, error) {
	switch a.cfg.Topology.Kind {
	case config.TopologyEmulated:
		return topology.NewEmulated(a.log, a.cfg.Topology.Emulated)
	case config.TopologyStatic:
		static := a.cfg.Topology.Static
		static.ICMP = probe.ICMPConfig{Privileged: a.cfg.Topology.ICMPPrivileged}
		return topology.NewStatic(a.log, static)
	default:
		return nil, fmt.Errorf("unknown topology kind %q", a.cfg.Topology.Kind)
	}
}

func (a *app) buildNetwork(ctx context.Context) (*topology.Network, error) {
	p, err := a.provider()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", topology.ErrTopologyInit, err)
	}
	return p.Build(ctx)
}

func (a *app) renderer() (experiment.Renderer, error) {
	var rs render.Multi
	if a.cfg.Output.Terminal {
		rs = append(rs, render.NewTerminal(a.out, 0, 0))
	}
	if a.cfg.Output.SVGDir != "" {
		svg, err := render.NewSVG(a.cfg.Output.SVGDir)
		if err != nil {
			return nil, err
		}
		rs = append(rs, svg)
	}
	if len(rs) == 0 {
		return render.Nop{}, nil
	}
	return rs, nil
}

// exporters returns the configured exporters and a func flushing them.
func (a *app) exporters() ([]experiment.Exporter, func(), error) {
	if !a.cfg.Output.Influx {
		return nil, func() {}, nil
	}
	influxCfg := export.InfluxConfigFromEnv()
	if !influxCfg.Enabled() {
		a.log.Warn("Influx export enabled but INFLUX_URL, INFLUX_TOKEN, INFLUX_ORG or INFLUX_BUCKET is unset, skipping")
		return nil, func() {}, nil
	}
	api, closeFn, err := export.NewInfluxWriteAPI(influxCfg)
	if err != nil {
		return nil, nil, err
	}
	e, err := export.NewInflux(a.log, api)
	if err != nil {
		closeFn()
		return nil, nil, err
	}
	return []experiment.Exporter{e}, closeFn, nil
}

func (a *app) orchestrator(exporters []experiment.Exporter) (*experiment.Orchestrator, error) {
	normalCfg := a.cfg.Normal
	normalCfg.Clock = a.clock
	normal, err := flow.NewNormal(a.log, normalCfg)
	if err != nil {
		return nil, err
	}

	abnormalCfg := a.cfg.Abnormal
	abnormalCfg.Clock = a.clock
	abnormal, err := flow.NewAbnormal(a.log, abnormalCfg)
	if err != nil {
		return nil, err
	}

	renderer, err := a.renderer()
	if err != nil {
		return nil, err
	}

	var reportOpts []report.TextOption
	if !a.cfg.Output.Compare {
		reportOpts = append(reportOpts, report.WithoutComparison())
	}

	return experiment.New(a.log, experiment.Config{
		Clock:         a.clock,
		Normal:        normal,
		Abnormal:      abnormal,
		Reporter:      report.NewText(a.out, reportOpts...),
		Renderer:      renderer,
		Exporters:     exporters,
		WarmUp:        a.cfg.Experiment.WarmUp,
		WorkerTimeout: a.cfg.Experiment.WorkerTimeout,
		StuckGrace:    a.cfg.Experiment.StuckGrace,
	})
}

// runExperiment runs one experiment on an already built network.
func (a *app) runExperiment(ctx context.Context, network *topology.Network) (*experiment.Result, error) {
	exporters, flush, err := a.exporters()
	if err != nil {
		return nil, fmt.Errorf("failed to set up exporters: %w", err)
	}
	defer flush()

	o, err := a.orchestrator(exporters)
	if err != nil {
		return nil, err
	}
	return o.Run(ctx, network)
}

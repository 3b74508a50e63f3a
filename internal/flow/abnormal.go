package flow

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/malbeclabs/rttlab/internal/metrics"
	"github.com/malbeclabs/rttlab/internal/sample"
	"github.com/malbeclabs/rttlab/internal/topology"
)

const (
	DefaultAbnormalCount = 20

	unlimitedFloodMbps = 100
)

type AbnormalConfig struct {
	Config    `yaml:",inline"`
	Anomalies []Anomaly `yaml:"anomalies"`
}

func (c *AbnormalConfig) Validate() error {
	if err := c.Config.Validate(); err != nil {
		return err
	}
	for _, a := range c.Anomalies {
		if err := a.Validate(); err != nil {
			return fmt.Errorf("invalid anomaly: %w", err)
		}
	}
	return nil
}

// Abnormal probes its server like Normal while inducing the anomalies of its plan on the
// server's link.
type Abnormal struct {
	log *slog.Logger
	cfg AbnormalConfig
}

func NewAbnormal(log *slog.Logger, cfg AbnormalConfig) (*Abnormal, error) {
	if log == nil {
		return nil, fmt.Errorf("log is nil")
	}
	cfg.setDefaults()
	if cfg.Anomalies == nil {
		cfg.Anomalies = DefaultAnomalyPlan(cfg.Count)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid abnormal flow config: %w", err)
	}
	return &Abnormal{log: log.With("flow", "abnormal", "server", cfg.Server), cfg: cfg}, nil
}

func (g *Abnormal) Name() string {
	return "abnormal"
}

func (g *Abnormal) Anomalies() []Anomaly {
	return slices.Clone(g.cfg.Anomalies)
}

func (g *Abnormal) Run(ctx context.Context, network *topology.Network, w *sample.Writer) error {
	prober, err := network.Dial(ctx, g.cfg.Server, g.cfg.Method)
	if err != nil {
		return fmt.Errorf("failed to dial %s: %w", g.cfg.Server, err)
	}
	defer prober.Close()

	inj := &injector{log: g.log, plan: g.cfg.Anomalies}
	if link, ok := network.Link(g.cfg.Server); ok {
		if il, ok := link.(topology.ImpairableLink); ok {
			inj.link = il
			inj.baseline = il.Impairment()
		}
	}
	if inj.link == nil && len(g.cfg.Anomalies) > 0 {
		g.log.Warn("Link has no impairment controls, anomalies will be skipped", "anomalies", len(g.cfg.Anomalies))
	}
	defer inj.restore()

	g.log.Info("Abnormal flow started", "count", g.cfg.Count, "interval", g.cfg.Interval, "method", g.cfg.Method, "anomalies", len(g.cfg.Anomalies))
	loop := &probeLoop{log: g.log, phase: g.Name(), cfg: &g.cfg.Config, prober: prober, w: w, before: inj.apply}
	st, err := loop.run(ctx)
	g.log.Info("Abnormal flow finished", "sent", st.sent, "received", st.received, "lost", st.lost)
	return err
}

// injector keeps the link impairment in line with the anomalies active for the current probe.
type injector struct {
	log      *slog.Logger
	plan     []Anomaly
	link     topology.ImpairableLink
	baseline topology.Impairment

	active []int

	floodCancel context.CancelFunc
	floodWG     sync.WaitGroup
}

func (inj *injector) apply(ctx context.Context, i int) {
	if inj.link == nil {
		return
	}

	var active []int
	for j, a := range inj.plan {
		if a.active(i) {
			active = append(active, j)
		}
	}
	if slices.Equal(active, inj.active) {
		return
	}
	for _, j := range inj.active {
		if !slices.Contains(active, j) {
			inj.log.Info("Anomaly cleared", "anomaly", inj.plan[j].String(), "probe", i)
		}
	}
	for _, j := range active {
		if !slices.Contains(inj.active, j) {
			inj.log.Info("Anomaly started", "anomaly", inj.plan[j].String(), "probe", i)
		}
	}
	inj.setActiveGauges(inj.active, -1)
	inj.setActiveGauges(active, 1)
	inj.active = active

	imp := inj.baseline
	var flood float64
	for _, j := range active {
		a := inj.plan[j]
		imp = imp.Add(a.impairment())
		if a.Kind == AnomalyCongestion {
			flood = max(flood, inj.floodRate(a))
		}
	}
	if err := inj.link.SetImpairment(imp); err != nil {
		inj.log.Warn("Failed to apply impairment", "impairment", imp.String(), "error", err)
	}

	inj.stopFlood()
	if flood > 0 {
		inj.startFlood(ctx, flood)
	}
}

func (inj *injector) floodRate(a Anomaly) float64 {
	if a.RateMbps > 0 {
		return a.RateMbps
	}
	if bw := inj.link.BandwidthMbps(); bw > 0 {
		return 2 * bw
	}
	return unlimitedFloodMbps
}

func (inj *injector) startFlood(ctx context.Context, mbps float64) {
	ctx, cancel := context.WithCancel(ctx)
	inj.floodCancel = cancel
	inj.floodWG.Add(1)
	go func() {
		defer inj.floodWG.Done()
		if err := inj.link.Flood(ctx, mbps); err != nil {
			inj.log.Warn("Flood failed", "rateMbps", mbps, "error", err)
		}
	}()
}

func (inj *injector) stopFlood() {
	if inj.floodCancel != nil {
		inj.floodCancel()
		inj.floodWG.Wait()
		inj.floodCancel = nil
	}
}

func (inj *injector) restore() {
	if inj.link == nil {
		return
	}
	inj.stopFlood()
	inj.setActiveGauges(inj.active, -1)
	inj.active = nil
	if err := inj.link.SetImpairment(inj.baseline); err != nil {
		inj.log.Warn("Failed to restore link impairment", "error", err)
	}
}

func (inj *injector) setActiveGauges(active []int, delta float64) {
	for _, j := range active {
		metrics.AnomaliesActive.WithLabelValues(string(inj.plan[j].Kind)).Add(delta)
	}
}

package flow

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/malbeclabs/rttlab/internal/sample"
	"github.com/malbeclabs/rttlab/internal/topology"
)

const DefaultNormalCount = 30

// Normal probes its server at a steady rate with no induced anomalies.
type Normal struct {
	log *slog.Logger
	cfg Config
}

func NewNormal(log *slog.Logger, cfg Config) (*Normal, error) {
	if log == nil {
		return nil, fmt.Errorf("log is nil")
	}
	cfg.setDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid normal flow config: %w", err)
	}
	return &Normal{log: log.With("flow", "normal", "server", cfg.Server), cfg: cfg}, nil
}

func (g *Normal) Name() string {
	return "normal"
}

func (g *Normal) Run(ctx context.Context, network *topology.Network, w *sample.Writer) error {
	prober, err := network.Dial(ctx, g.cfg.Server, g.cfg.Method)
	if err != nil {
		return fmt.Errorf("failed to dial %s: %w", g.cfg.Server, err)
	}
	defer prober.Close()

	g.log.Info("Normal flow started", "count", g.cfg.Count, "interval", g.cfg.Interval, "method", g.cfg.Method)
	loop := &probeLoop{log: g.log, phase: g.Name(), cfg: &g.cfg, prober: prober, w: w}
	st, err := loop.run(ctx)
	g.log.Info("Normal flow finished", "sent", st.sent, "received", st.received, "lost", st.lost)
	return err
}

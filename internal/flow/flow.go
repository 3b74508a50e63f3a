// Package flow generates the probe traffic of an experiment. Each generator probes one server at
// a fixed interval and appends every measured round trip to the writer it is handed.
package flow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/malbeclabs/rttlab/internal/metrics"
	"github.com/malbeclabs/rttlab/internal/probe"
	"github.com/malbeclabs/rttlab/internal/sample"
	"github.com/malbeclabs/rttlab/internal/topology"
)

const (
	DefaultInterval     = 1 * time.Second
	DefaultProbeTimeout = 1 * time.Second
)

// Generator drives traffic over the network and records RTT samples into w. Run returns once
// its traffic pattern is complete or ctx is done.
type Generator interface {
	Name() string
	Run(ctx context.Context, network *topology.Network, w *sample.Writer) error
}

type Config struct {
	Server       string        `yaml:"server"`
	Method       probe.Method  `yaml:"method"`
	Count        int           `yaml:"count"`
	Interval     time.Duration `yaml:"interval"`
	ProbeTimeout time.Duration `yaml:"probe_timeout"`

	Clock clockwork.Clock `yaml:"-"`
}

func (c *Config) Validate() error {
	if c.Server == "" {
		return errors.New("server is required")
	}
	if _, err := probe.ParseMethod(string(c.Method)); err != nil {
		return err
	}
	if c.Count <= 0 {
		return fmt.Errorf("count must be positive, got %d", c.Count)
	}
	if c.Interval < 0 {
		return fmt.Errorf("interval must be non-negative, got %s", c.Interval)
	}
	if c.ProbeTimeout < 0 {
		return fmt.Errorf("probe timeout must be non-negative, got %s", c.ProbeTimeout)
	}
	return nil
}

func (c *Config) setDefaults() {
	if c.Method == "" {
		c.Method = probe.MethodTWAMP
	}
	if c.Interval == 0 {
		c.Interval = DefaultInterval
	}
	if c.ProbeTimeout == 0 {
		c.ProbeTimeout = DefaultProbeTimeout
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
}

// probeLoop sends Count probes, one per Interval, starting immediately.
type probeLoop struct {
	log    *slog.Logger
	phase  string
	cfg    *Config
	prober probe.Prober
	w      *sample.Writer

	// before runs ahead of probe i.
	before func(ctx context.Context, i int)
}

type loopStats struct {
	sent     int
	received int
	lost     int
}

func (l *probeLoop) run(ctx context.Context) (loopStats, error) {
	var st loopStats

	ticker := l.cfg.Clock.NewTicker(max(l.cfg.Interval, time.Nanosecond))
	defer ticker.Stop()

	for i := range l.cfg.Count {
		if i > 0 {
			select {
			case <-ctx.Done():
				return st, ctx.Err()
			case <-ticker.Chan():
			}
		} else if err := ctx.Err(); err != nil {
			return st, err
		}

		if l.before != nil {
			l.before(ctx, i)
		}

		seq := uint32(i + 1)
		ts := l.cfg.Clock.Now()
		pctx, cancel := context.WithTimeout(ctx, l.cfg.ProbeTimeout)
		rtt, err := l.prober.Probe(pctx)
		cancel()
		st.sent++

		switch {
		case err == nil:
			if err := l.w.Append(sample.FromDuration(seq, ts, rtt)); err != nil {
				return st, fmt.Errorf("failed to record sample %d: %w", seq, err)
			}
			st.received++
			metrics.ProbesTotal.WithLabelValues(l.phase, metrics.ProbeResultOK).Inc()
			metrics.ProbeRTT.WithLabelValues(l.phase).Observe(rtt.Seconds())
		case ctx.Err() != nil:
			return st, ctx.Err()
		case errors.Is(err, probe.ErrLost), errors.Is(err, context.DeadlineExceeded):
			st.lost++
			metrics.ProbesTotal.WithLabelValues(l.phase, metrics.ProbeResultLost).Inc()
			l.log.Debug("Probe lost", "seq", seq)
		default:
			metrics.ProbesTotal.WithLabelValues(l.phase, metrics.ProbeResultError).Inc()
			return st, fmt.Errorf("probe %d failed: %w", seq, err)
		}
	}
	return st, nil
}

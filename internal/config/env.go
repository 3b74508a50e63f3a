package config

import (
	"fmt"
	"strconv"
	"time"

	"github.com/malbeclabs/rttlab/internal/probe"
)

const EnvPrefix = "RTTLAB_"

// ApplyEnv applies RTTLAB_* overrides read through lookup.
func ApplyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	for _, o := range []struct {
		key   string
		apply func(string) error
	}{
		{"TOPOLOGY", func(v string) error { cfg.Topology.Kind = v; return nil }},
		{"WARM_UP", durationSetter(&cfg.Experiment.WarmUp)},
		{"WORKER_TIMEOUT", durationSetter(&cfg.Experiment.WorkerTimeout)},
		{"BANDWIDTH_MBPS", func(v string) error {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return err
			}
			cfg.Topology.Emulated.BandwidthMbps = f
			cfg.Topology.Static.BandwidthMbps = f
			return nil
		}},
		{"NORMAL_COUNT", intSetter(&cfg.Normal.Count)},
		{"ABNORMAL_COUNT", intSetter(&cfg.Abnormal.Count)},
		{"INTERVAL", func(v string) error {
			d, err := time.ParseDuration(v)
			if err != nil {
				return err
			}
			cfg.Normal.Interval = d
			cfg.Abnormal.Interval = d
			return nil
		}},
		{"METHOD", func(v string) error {
			m, err := probe.ParseMethod(v)
			if err != nil {
				return err
			}
			cfg.Normal.Method = m
			cfg.Abnormal.Method = m
			return nil
		}},
		{"SVG_DIR", func(v string) error { cfg.Output.SVGDir = v; return nil }},
		{"METRICS_ADDR", func(v string) error { cfg.MetricsAddr = v; return nil }},
	} {
		v, ok := lookup(EnvPrefix + o.key)
		if !ok || v == "" {
			continue
		}
		if err := o.apply(v); err != nil {
			return fmt.Errorf("invalid %s%s %q: %w", EnvPrefix, o.key, v, err)
		}
	}
	return nil
}

func durationSetter(dst *time.Duration) func(string) error {
	return func(v string) error {
		d, err := time.ParseDuration(v)
		if err != nil {
			return err
		}
		*dst = d
		return nil
	}
}

func intSetter(dst *int) func(string) error {
	return func(v string) error {
		n, err := strconv.Atoi(v)
		if err != nil {
			return err
		}
		*dst = n
		return nil
	}
}

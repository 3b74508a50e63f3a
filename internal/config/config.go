package config

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"time"

	"github.com/malbeclabs/rttlab/internal/experiment"
	"github.com/malbeclabs/rttlab/internal/flow"
	"github.com/malbeclabs/rttlab/internal/topology"
	"gopkg.in/yaml.v3"
)

const (
	TopologyEmulated = "emulated"
	TopologyStatic   = "static"
)

type Config struct {
	Topology   TopologyConfig      `yaml:"topology"`
	Experiment ExperimentConfig    `yaml:"experiment"`
	Normal     flow.Config         `yaml:"normal"`
	Abnormal   flow.AbnormalConfig `yaml:"abnormal"`
	Output     OutputConfig        `yaml:"output"`

	MetricsAddr string `yaml:"metrics_addr"`
}

type TopologyConfig struct {
	Kind     string                  `yaml:"kind"`
	Emulated topology.EmulatedConfig `yaml:"emulated"`
	Static   topology.StaticConfig   `yaml:"static"`

	ICMPPrivileged bool `yaml:"icmp_privileged"`
}

type ExperimentConfig struct {
	WarmUp        time.Duration `yaml:"warm_up"`
	WorkerTimeout time.Duration `yaml:"worker_timeout"`
	StuckGrace    time.Duration `yaml:"stuck_grace"`
}

type OutputConfig struct {
	// Terminal draws ASCII charts on stdout.
	Terminal bool `yaml:"terminal"`
	// SVGDir, when set, receives one SVG plot per phase.
	SVGDir string `yaml:"svg_dir"`
	// Compare prints a comparison table after both phases.
	Compare bool `yaml:"compare"`
	// Influx exports results when INFLUX_* variables are set.
	Influx bool `yaml:"influx"`
}

// Load builds the configuration for the given profile, overlays the YAML file at path (if any),
// then applies RTTLAB_* environment overrides.
func Load(path, profile string) (*Config, error) {
	cfg, err := ProfileConfig(profile)
	if err != nil {
		return nil, err
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := Parse(data, cfg); err != nil {
			return nil, err
		}
	}
	if err := ApplyEnv(cfg, os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Parse overlays YAML data onto cfg. Fields absent from data keep their current value.
func Parse(data []byte, cfg *Config) error {
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config: %w", err)
	}
	return nil
}

func (c *Config) Validate() error {
	var servers []string
	switch c.Topology.Kind {
	case TopologyEmulated:
		if err := c.Topology.Emulated.Validate(); err != nil {
			return fmt.Errorf("topology: %w", err)
		}
		for _, s := range c.Topology.Emulated.Servers {
			servers = append(servers, s.Name)
		}
	case TopologyStatic:
		if err := c.Topology.Static.Validate(); err != nil {
			return fmt.Errorf("topology: %w", err)
		}
		for _, s := range c.Topology.Static.Servers {
			servers = append(servers, s.Name)
		}
	default:
		return fmt.Errorf("unknown topology kind %q", c.Topology.Kind)
	}

	if c.Experiment.WarmUp < 0 {
		return fmt.Errorf("experiment: warm-up must be non-negative, got %s", c.Experiment.WarmUp)
	}
	if c.Experiment.WorkerTimeout < 0 || c.Experiment.StuckGrace < 0 {
		return errors.New("experiment: worker timeout and stuck grace must be non-negative")
	}

	if err := c.Normal.Validate(); err != nil {
		return fmt.Errorf("normal: %w", err)
	}
	if err := c.Abnormal.Validate(); err != nil {
		return fmt.Errorf("abnormal: %w", err)
	}
	for phase, server := range map[string]string{"normal": c.Normal.Server, "abnormal": c.Abnormal.Server} {
		if !slices.Contains(servers, server) {
			return fmt.Errorf("%s: server %q is not in the topology", phase, server)
		}
	}
	if c.Normal.Server == c.Abnormal.Server {
		return fmt.Errorf("normal and abnormal flows must target different servers, both target %q", c.Normal.Server)
	}
	return nil
}

// Default is the local profile: the lab topology with the original experiment timings.
func Default() *Config {
	return &Config{
		Topology: TopologyConfig{
			Kind:     TopologyEmulated,
			Emulated: topology.DefaultEmulatedConfig(),
		},
		Experiment: ExperimentConfig{
			WarmUp: experiment.DefaultWarmUp,
		},
		Normal: flow.Config{
			Server:       "s1",
			Count:        flow.DefaultNormalCount,
			Interval:     flow.DefaultInterval,
			ProbeTimeout: flow.DefaultProbeTimeout,
		},
		Abnormal: flow.AbnormalConfig{
			Config: flow.Config{
				Server:       "s2",
				Count:        flow.DefaultAbnormalCount,
				Interval:     flow.DefaultInterval,
				ProbeTimeout: flow.DefaultProbeTimeout,
			},
		},
		Output: OutputConfig{
			Terminal: true,
			Compare:  true,
		},
	}
}

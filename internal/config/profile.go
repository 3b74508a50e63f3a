package config

import (
	"fmt"
	"time"
)

const (
	ProfileLocal     = "local"
	ProfileCI        = "ci"
	ProfileSlowLinks = "slow-links"
)

var (
	ErrInvalidProfile = fmt.Errorf("invalid profile")
)

func Profiles() []string {
	return []string{ProfileLocal, ProfileCI, ProfileSlowLinks}
}

func ProfileConfig(profile string) (*Config, error) {
	cfg := Default()
	switch profile {
	case ProfileLocal, "":
	case ProfileCI:
		cfg.Experiment.WarmUp = 500 * time.Millisecond
		cfg.Experiment.WorkerTimeout = 30 * time.Second
		cfg.Experiment.StuckGrace = 5 * time.Second
		cfg.Normal.Count = 20
		cfg.Normal.Interval = 50 * time.Millisecond
		cfg.Normal.ProbeTimeout = 250 * time.Millisecond
		cfg.Abnormal.Count = 10
		cfg.Abnormal.Interval = 50 * time.Millisecond
		cfg.Abnormal.ProbeTimeout = 250 * time.Millisecond
		cfg.Topology.Emulated.ReadyTimeout = 5 * time.Second
		cfg.Output.Terminal = false
	case ProfileSlowLinks:
		cfg.Topology.Emulated.BandwidthMbps = 1
		cfg.Topology.Emulated.Impairment.Delay = 20 * time.Millisecond
		cfg.Normal.ProbeTimeout = 2 * time.Second
		cfg.Abnormal.ProbeTimeout = 2 * time.Second
	default:
		return nil, fmt.Errorf("%w: %s", ErrInvalidProfile, profile)
	}
	return cfg, nil
}

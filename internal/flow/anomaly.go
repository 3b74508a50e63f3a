package flow

import (
	"fmt"
	"time"

	"github.com/malbeclabs/rttlab/internal/topology"
)

type AnomalyKind string

const (
	AnomalyLoss       AnomalyKind = "loss"
	AnomalyJitter     AnomalyKind = "jitter"
	AnomalyDelay      AnomalyKind = "delay"
	AnomalyCongestion AnomalyKind = "congestion"
)

// Anomaly is active for probes From (inclusive) to To (exclusive).
type Anomaly struct {
	Kind AnomalyKind `yaml:"kind"`
	From int         `yaml:"from"`
	To   int         `yaml:"to"`

	// Loss is the drop probability for loss anomalies.
	Loss float64 `yaml:"loss"`
	// Delay is the added delay, or the maximum extra delay for jitter anomalies.
	Delay time.Duration `yaml:"delay"`
	// RateMbps is the flood rate for congestion anomalies. Zero floods at twice the link
	// bandwidth.
	RateMbps float64 `yaml:"rate_mbps"`
}

func (a Anomaly) Validate() error {
	if a.From < 0 || a.To <= a.From {
		return fmt.Errorf("%s: invalid probe range [%d, %d)", a.Kind, a.From, a.To)
	}
	switch a.Kind {
	case AnomalyLoss:
		if a.Loss <= 0 || a.Loss > 1 {
			return fmt.Errorf("loss: probability must be within (0, 1], got %v", a.Loss)
		}
	case AnomalyJitter, AnomalyDelay:
		if a.Delay <= 0 {
			return fmt.Errorf("%s: delay must be positive, got %s", a.Kind, a.Delay)
		}
	case AnomalyCongestion:
		if a.RateMbps < 0 {
			return fmt.Errorf("congestion: rate must be non-negative, got %v", a.RateMbps)
		}
	default:
		return fmt.Errorf("unknown anomaly kind %q", a.Kind)
	}
	return nil
}

func (a Anomaly) active(i int) bool {
	return i >= a.From && i < a.To
}

// impairment is the link impairment this anomaly contributes. Congestion contributes none; it
// is induced with filler traffic instead.
func (a Anomaly) impairment() topology.Impairment {
	switch a.Kind {
	case AnomalyLoss:
		return topology.Impairment{Loss: a.Loss}
	case AnomalyJitter:
		return topology.Impairment{Jitter: a.Delay}
	case AnomalyDelay:
		return topology.Impairment{Delay: a.Delay}
	default:
		return topology.Impairment{}
	}
}

func (a Anomaly) String() string {
	switch a.Kind {
	case AnomalyLoss:
		return fmt.Sprintf("loss %.0f%% [%d,%d)", a.Loss*100, a.From, a.To)
	case AnomalyCongestion:
		return fmt.Sprintf("congestion %.1fMbps [%d,%d)", a.RateMbps, a.From, a.To)
	default:
		return fmt.Sprintf("%s %s [%d,%d)", a.Kind, a.Delay, a.From, a.To)
	}
}

// DefaultAnomalyPlan splits count probes into five equal windows: a clean lead-in followed by
// added delay, jitter, loss and congestion.
func DefaultAnomalyPlan(count int) []Anomaly {
	if count < 5 {
		return []Anomaly{{Kind: AnomalyDelay, From: 0, To: max(count, 1), Delay: 50 * time.Millisecond}}
	}
	w := count / 5
	return []Anomaly{
		{Kind: AnomalyDelay, From: w, To: 2 * w, Delay: 50 * time.Millisecond},
		{Kind: AnomalyJitter, From: 2 * w, To: 3 * w, Delay: 40 * time.Millisecond},
		{Kind: AnomalyLoss, From: 3 * w, To: 4 * w, Loss: 0.3},
		{Kind: AnomalyCongestion, From: 4 * w, To: count},
	}
}

package topology

import (
	"fmt"
	"time"
)

// Impairment degrades the traffic crossing a link. Delay and Jitter are added once per round
// trip; Loss is the probability that a packet is dropped on the way to the server.
type Impairment struct {
	Delay  time.Duration `yaml:"delay"`
	Jitter time.Duration `yaml:"jitter"`
	Loss   float64       `yaml:"loss"`
}

func (i Impairment) Validate() error {
	if i.Delay < 0 {
		return fmt.Errorf("delay must be non-negative, got %s", i.Delay)
	}
	if i.Jitter < 0 {
		return fmt.Errorf("jitter must be non-negative, got %s", i.Jitter)
	}
	if i.Loss < 0 || i.Loss > 1 {
		return fmt.Errorf("loss must be within [0, 1], got %v", i.Loss)
	}
	return nil
}

func (i Impairment) IsZero() bool {
	return i == Impairment{}
}

// Add combines two impairments. Delays add up and losses compound as independent drops.
func (i Impairment) Add(o Impairment) Impairment {
	return Impairment{
		Delay:  i.Delay + o.Delay,
		Jitter: i.Jitter + o.Jitter,
		Loss:   1 - (1-i.Loss)*(1-o.Loss),
	}
}

func (i Impairment) String() string {
	return fmt.Sprintf("delay=%s jitter=%s loss=%.1f%%", i.Delay, i.Jitter, i.Loss*100)
}

package probe

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	twamplight "github.com/malbeclabs/rttlab/pkg/twamp"
)

// TWAMPProber probes a TWAMP-light reflector.
type TWAMPProber struct {
	sender twamplight.Sender
}

func NewTWAMPProber(ctx context.Context, log *slog.Logger, remote *net.UDPAddr) (*TWAMPProber, error) {
	if log == nil {
		return nil, fmt.Errorf("log is nil")
	}
	sender, err := twamplight.NewSender(ctx, log, remote)
	if err != nil {
		return nil, fmt.Errorf("failed to create twamp sender: %w", err)
	}
	return &TWAMPProber{sender: sender}, nil
}

// NewTWAMPProberFromSender wraps an existing sender.
func NewTWAMPProberFromSender(sender twamplight.Sender) *TWAMPProber {
	return &TWAMPProber{sender: sender}
}

func (p *TWAMPProber) Probe(ctx context.Context) (time.Duration, error) {
	rtt, err := p.sender.Probe(ctx)
	if err != nil {
		if errors.Is(err, twamplight.ErrTimeout) {
			return 0, ErrLost
		}
		return 0, err
	}
	return rtt, nil
}

func (p *TWAMPProber) Close() error {
	return p.sender.Close()
}

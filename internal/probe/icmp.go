package probe

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	probing "github.com/prometheus-community/pro-bing"
)

const (
	defaultICMPTimeout = 1 * time.Second
	defaultICMPSize    = 56 // 64 bytes - 8 byte ICMP header
)

type ICMPConfig struct {
	// Privileged selects raw ICMP sockets instead of unprivileged UDP pings.
	Privileged bool
	Interface  string
	Size       int
}

// ICMPProber sends a single ICMP echo per Probe call.
type ICMPProber struct {
	log  *slog.Logger
	host string
	cfg  ICMPConfig
}

func NewICMPProber(log *slog.Logger, host string, cfg *ICMPConfig) (*ICMPProber, error) {
	if log == nil {
		return nil, fmt.Errorf("log is nil")
	}
	if host == "" {
		return nil, fmt.Errorf("host is required")
	}
	if cfg == nil {
		cfg = &ICMPConfig{}
	}
	c := *cfg
	if c.Size <= 0 {
		c.Size = defaultICMPSize
	}
	return &ICMPProber{log: log, host: host, cfg: c}, nil
}

func (p *ICMPProber) Probe(ctx context.Context) (time.Duration, error) {
	pinger, err := probing.NewPinger(p.host)
	if err != nil {
		return 0, fmt.Errorf("failed to create pinger: %w", err)
	}
	defer pinger.Stop()
	pinger.SetPrivileged(p.cfg.Privileged)

	timeout := defaultICMPTimeout
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
	}
	pinger.InterfaceName = p.cfg.Interface
	pinger.Count = 1
	pinger.Size = p.cfg.Size
	pinger.Timeout = timeout

	if err := pinger.RunWithContext(ctx); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return 0, ErrLost
		}
		return 0, fmt.Errorf("failed to ping %s: %w", p.host, err)
	}

	stats := pinger.Statistics()
	if stats == nil || stats.PacketsRecv == 0 || len(stats.Rtts) == 0 {
		return 0, ErrLost
	}
	return stats.Rtts[0], nil
}

func (p *ICMPProber) Close() error { return nil }

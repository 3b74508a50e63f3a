package topology

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/malbeclabs/rttlab/internal/probe"
	twamplight "github.com/malbeclabs/rttlab/pkg/twamp"
)

const (
	DefaultBandwidthMbps = 10
	DefaultReadyTimeout  = 10 * time.Second

	defaultReflectorTimeout = 100 * time.Millisecond
	readyProbeTimeout       = 250 * time.Millisecond
)

type Host struct {
	Name string `yaml:"name"`
	IP   string `yaml:"ip"`
}

type EmulatedConfig struct {
	Client  Host   `yaml:"client"`
	Switch  string `yaml:"switch"`
	Servers []Host `yaml:"servers"`

	BandwidthMbps float64    `yaml:"bandwidth_mbps"`
	QueuePackets  int        `yaml:"queue_packets"`
	Impairment    Impairment `yaml:"impairment"`

	// ReadyTimeout bounds how long Build waits for every link to answer a probe.
	ReadyTimeout time.Duration `yaml:"ready_timeout"`
	Seed         uint64        `yaml:"seed"`
}

// DefaultEmulatedConfig mirrors the lab setup the experiment was designed on: h1 and two servers
// on a /24 behind switch sw1, with 10 Mbit/s links including h1's own.
func DefaultEmulatedConfig() EmulatedConfig {
	return EmulatedConfig{
		Client: Host{Name: "h1", IP: "140.115.154.245"},
		Switch: "sw1",
		Servers: []Host{
			{Name: "s1", IP: "140.115.154.246"},
			{Name: "s2", IP: "140.115.154.247"},
		},
		BandwidthMbps: DefaultBandwidthMbps,
		ReadyTimeout:  DefaultReadyTimeout,
	}
}

func (c *EmulatedConfig) Validate() error {
	if c.Client.Name == "" {
		return errors.New("client name is required")
	}
	if c.Switch == "" {
		return errors.New("switch name is required")
	}
	if len(c.Servers) != 2 {
		return fmt.Errorf("exactly two servers are required, got %d", len(c.Servers))
	}
	seen := map[string]bool{c.Client.Name: true, c.Switch: true}
	for _, h := range append([]Host{c.Client}, c.Servers...) {
		if h.IP != "" && net.ParseIP(h.IP) == nil {
			return fmt.Errorf("invalid ip %q for %s", h.IP, h.Name)
		}
	}
	for _, s := range c.Servers {
		if s.Name == "" {
			return errors.New("server name is required")
		}
		if seen[s.Name] {
			return fmt.Errorf("duplicate node name %q", s.Name)
		}
		seen[s.Name] = true
	}
	if c.BandwidthMbps < 0 {
		return fmt.Errorf("bandwidth must be non-negative, got %v", c.BandwidthMbps)
	}
	if c.QueuePackets < 0 {
		return fmt.Errorf("queue size must be non-negative, got %d", c.QueuePackets)
	}
	if c.ReadyTimeout < 0 {
		return fmt.Errorf("ready timeout must be non-negative, got %s", c.ReadyTimeout)
	}
	return c.Impairment.Validate()
}

// Emulated builds the topology in-process: each server is a TWAMP reflector on loopback, each
// switch-to-server link is a RelayLink in front of it, and the client's link to the switch is an
// AccessLink shared by both relays.
type Emulated struct {
	log *slog.Logger
	cfg EmulatedConfig
}

func NewEmulated(log *slog.Logger, cfg EmulatedConfig) (*Emulated, error) {
	if log == nil {
		return nil, errors.New("log is nil")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid emulated topology config: %w", err)
	}
	if cfg.ReadyTimeout == 0 {
		cfg.ReadyTimeout = DefaultReadyTimeout
	}
	return &Emulated{log: log, cfg: cfg}, nil
}

func (e *Emulated) Build(ctx context.Context) (*Network, error) {
	n := &Network{
		log:    e.log,
		client: Endpoint{Name: e.cfg.Client.Name, Role: RoleClient, IP: net.ParseIP(e.cfg.Client.IP)},
		sw:     Endpoint{Name: e.cfg.Switch, Role: RoleSwitch},
		links:  make(map[string]Link),
	}

	access, err := NewAccessLink(ctx, e.log, AccessConfig{
		Name:          e.cfg.Switch + "-" + e.cfg.Client.Name,
		Node:          e.cfg.Client.Name,
		BandwidthMbps: e.cfg.BandwidthMbps,
		QueuePackets:  e.cfg.QueuePackets,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: client link: %w", ErrTopologyInit, err)
	}
	n.onClose(access.Close)
	n.access = access

	for i, h := range e.cfg.Servers {
		reflector, err := twamplight.NewReflector(e.log, "127.0.0.1:0", defaultReflectorTimeout)
		if err != nil {
			_ = n.Close()
			return nil, fmt.Errorf("%w: reflector for %s: %w", ErrTopologyInit, h.Name, err)
		}
		rctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		done := make(chan struct{})
		go func() {
			defer close(done)
			if err := reflector.Run(rctx); err != nil {
				e.log.Error("Reflector failed", "server", h.Name, "error", err)
			}
		}()
		n.onClose(func() error {
			cancel()
			err := reflector.Close()
			<-done
			return err
		})

		seed := e.cfg.Seed
		if seed != 0 {
			seed += uint64(i)
		}
		link, err := NewRelayLink(ctx, e.log, RelayConfig{
			Name:          e.cfg.Switch + "-" + h.Name,
			Server:        h.Name,
			Target:        reflector.LocalAddr(),
			BandwidthMbps: e.cfg.BandwidthMbps,
			QueuePackets:  e.cfg.QueuePackets,
			Impairment:    e.cfg.Impairment,
			Seed:          seed,
			Access:        access,
		})
		if err != nil {
			_ = n.Close()
			return nil, fmt.Errorf("%w: link to %s: %w", ErrTopologyInit, h.Name, err)
		}
		n.onClose(link.Close)

		n.servers = append(n.servers, Endpoint{
			Name:      h.Name,
			Role:      RoleServer,
			IP:        net.ParseIP(h.IP),
			ProbeAddr: link.Addr(),
		})
		n.links[h.Name] = link
	}

	for _, s := range n.servers {
		if err := e.waitReady(ctx, n, n.links[s.Name].(*RelayLink)); err != nil {
			_ = n.Close()
			return nil, fmt.Errorf("%w: %w", ErrTopologyInit, err)
		}
	}

	e.log.Info("Emulated topology ready", "client", n.client.String(), "switch", n.sw.Name, "servers", len(n.servers), "bandwidthMbps", e.cfg.BandwidthMbps)
	return n, nil
}

// waitReady probes the link until a reply comes back. Baseline loss is lifted while waiting so a
// lossy link cannot stall the build.
func (e *Emulated) waitReady(ctx context.Context, n *Network, l *RelayLink) error {
	baseline := l.Impairment()
	if err := l.SetImpairment(Impairment{}); err != nil {
		return err
	}
	defer func() { _ = l.SetImpairment(baseline) }()

	prober, err := n.Dial(ctx, l.Node(), probe.MethodTWAMP)
	if err != nil {
		return fmt.Errorf("dial %s: %w", l.Node(), err)
	}
	defer prober.Close()

	attempt := 0
	_, err = backoff.Retry(ctx, func() (time.Duration, error) {
		if attempt > 1 {
			e.log.Warn("Link not ready, retrying", "link", l.Name(), "attempt", attempt)
		}
		attempt++
		pctx, cancel := context.WithTimeout(ctx, readyProbeTimeout)
		defer cancel()
		return prober.Probe(pctx)
	}, backoff.WithBackOff(backoff.NewExponentialBackOff()), backoff.WithMaxElapsedTime(e.cfg.ReadyTimeout))
	if err != nil {
		return fmt.Errorf("link %s not ready: %w", l.Name(), err)
	}
	return nil
}

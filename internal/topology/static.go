package topology

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"

	"github.com/malbeclabs/rttlab/internal/probe"
)

const DefaultTWAMPPort = 862

type StaticServer struct {
	Name      string `yaml:"name"`
	Host      string `yaml:"host"`
	TWAMPPort int    `yaml:"twamp_port"`
}

type StaticConfig struct {
	Client        Host             `yaml:"client"`
	Switch        string           `yaml:"switch"`
	Servers       []StaticServer   `yaml:"servers"`
	BandwidthMbps float64          `yaml:"bandwidth_mbps"`
	ICMP          probe.ICMPConfig `yaml:"-"`
}

func (c *StaticConfig) Validate() error {
	if len(c.Servers) != 2 {
		return fmt.Errorf("exactly two servers are required, got %d", len(c.Servers))
	}
	seen := map[string]bool{}
	for _, s := range c.Servers {
		if s.Name == "" {
			return errors.New("server name is required")
		}
		if s.Host == "" {
			return fmt.Errorf("host is required for %s", s.Name)
		}
		if s.TWAMPPort < 0 || s.TWAMPPort > 65535 {
			return fmt.Errorf("invalid twamp port %d for %s", s.TWAMPPort, s.Name)
		}
		if seen[s.Name] {
			return fmt.Errorf("duplicate server name %q", s.Name)
		}
		seen[s.Name] = true
	}
	return nil
}

// Static describes servers that already exist, each running a TWAMP reflector. Its links carry
// no impairment controls.
type Static struct {
	log *slog.Logger
	cfg StaticConfig
}

func NewStatic(log *slog.Logger, cfg StaticConfig) (*Static, error) {
	if log == nil {
		return nil, errors.New("log is nil")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid static topology config: %w", err)
	}
	if cfg.Client.Name == "" {
		cfg.Client.Name = "client"
	}
	if cfg.Switch == "" {
		cfg.Switch = "network"
	}
	return &Static{log: log, cfg: cfg}, nil
}

func (s *Static) Build(ctx context.Context) (*Network, error) {
	n := &Network{
		log:    s.log,
		client: Endpoint{Name: s.cfg.Client.Name, Role: RoleClient, IP: net.ParseIP(s.cfg.Client.IP)},
		sw:     Endpoint{Name: s.cfg.Switch, Role: RoleSwitch},
		links:  make(map[string]Link),
		icmp:   s.cfg.ICMP,
	}
	n.access = staticLink{
		name:      s.cfg.Switch + "-" + s.cfg.Client.Name,
		node:      s.cfg.Client.Name,
		bandwidth: s.cfg.BandwidthMbps,
	}

	var resolver net.Resolver
	for _, srv := range s.cfg.Servers {
		port := srv.TWAMPPort
		if port == 0 {
			port = DefaultTWAMPPort
		}
		addrs, err := resolver.LookupIPAddr(ctx, srv.Host)
		if err == nil && len(addrs) == 0 {
			err = errors.New("no addresses")
		}
		if err != nil {
			return nil, fmt.Errorf("%w: resolve %s: %w", ErrTopologyInit, srv.Host, err)
		}
		ip := addrs[0].IP
		n.servers = append(n.servers, Endpoint{
			Name:      srv.Name,
			Role:      RoleServer,
			IP:        ip,
			ProbeAddr: &net.UDPAddr{IP: ip, Port: port},
			Host:      ip.String(),
		})
		n.links[srv.Name] = staticLink{
			name:      s.cfg.Switch + "-" + srv.Name,
			node:      srv.Name,
			bandwidth: s.cfg.BandwidthMbps,
		}
		s.log.Debug("Resolved static server", "server", srv.Name, "addr", net.JoinHostPort(ip.String(), strconv.Itoa(port)))
	}
	return n, nil
}

type staticLink struct {
	name      string
	node      string
	bandwidth float64
}

func (l staticLink) Name() string           { return l.name }
func (l staticLink) Node() string           { return l.node }
func (l staticLink) BandwidthMbps() float64 { return l.bandwidth }

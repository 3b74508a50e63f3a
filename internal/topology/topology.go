// Package topology builds the network an experiment runs on: one client and two servers, each
// attached to one switch over a bandwidth-capped link.
package topology

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"slices"
	"sync"

	"github.com/malbeclabs/rttlab/internal/probe"
)

var (
	ErrTopologyInit    = errors.New("topology: init failed")
	ErrUnknownEndpoint = errors.New("topology: unknown endpoint")
	ErrUnsupported     = errors.New("topology: unsupported")
)

// Provider builds a ready-to-use network. Build fails with ErrTopologyInit if the network cannot
// be brought up.
type Provider interface {
	Build(ctx context.Context) (*Network, error)
}

type Role string

const (
	RoleClient Role = "client"
	RoleSwitch Role = "switch"
	RoleServer Role = "server"
)

type Endpoint struct {
	Name string
	Role Role
	IP   net.IP

	// ProbeAddr is where TWAMP probes for this endpoint are sent.
	ProbeAddr *net.UDPAddr
	// Host is the ICMP target. Empty when the endpoint cannot be pinged.
	Host string
}

// Link connects the switch to a node.
type Link interface {
	Name() string
	Node() string
	BandwidthMbps() float64
}

// ImpairableLink is a Link whose delay, jitter and loss can be changed while it carries traffic.
type ImpairableLink interface {
	Link
	SetImpairment(Impairment) error
	Impairment() Impairment
	// Flood sends filler traffic over the link at the given rate until ctx is done.
	Flood(ctx context.Context, mbps float64) error
}

// Network is a handle to a built topology. It is safe for concurrent use by multiple
// generators.
type Network struct {
	log     *slog.Logger
	client  Endpoint
	sw      Endpoint
	servers []Endpoint
	// access is the client's link; links holds the server links keyed by server.
	access Link
	links  map[string]Link
	icmp   probe.ICMPConfig

	closeOnce sync.Once
	closers   []func() error
}

func (n *Network) Client() Endpoint {
	return n.client
}

func (n *Network) Switch() Endpoint {
	return n.sw
}

func (n *Network) Servers() []Endpoint {
	return slices.Clone(n.servers)
}

// Endpoint returns the node with the given name.
func (n *Network) Endpoint(name string) (Endpoint, bool) {
	switch name {
	case n.client.Name:
		return n.client, true
	case n.sw.Name:
		return n.sw, true
	}
	for _, s := range n.servers {
		if s.Name == name {
			return s, true
		}
	}
	return Endpoint{}, false
}

// Link returns the link attaching the given node to the switch.
func (n *Network) Link(node string) (Link, bool) {
	if n.access != nil && n.access.Node() == node {
		return n.access, true
	}
	l, ok := n.links[node]
	return l, ok
}

// LinkByName returns the link with the given link name.
func (n *Network) LinkByName(name string) (Link, bool) {
	for _, l := range n.Links() {
		if l.Name() == name {
			return l, true
		}
	}
	return nil, false
}

// Links returns the client's link followed by the server links in server order.
func (n *Network) Links() []Link {
	out := make([]Link, 0, len(n.servers)+1)
	if n.access != nil {
		out = append(out, n.access)
	}
	for _, s := range n.servers {
		if l, ok := n.links[s.Name]; ok {
			out = append(out, l)
		}
	}
	return out
}

// Dial returns a prober that measures round trips from the client to the given server.
func (n *Network) Dial(ctx context.Context, server string, method probe.Method) (probe.Prober, error) {
	ep, ok := n.Endpoint(server)
	if !ok || ep.Role != RoleServer {
		return nil, fmt.Errorf("%w: %q", ErrUnknownEndpoint, server)
	}
	switch method {
	case probe.MethodTWAMP, "":
		if ep.ProbeAddr == nil {
			return nil, fmt.Errorf("%w: %s has no twamp address", ErrUnsupported, server)
		}
		return probe.NewTWAMPProber(ctx, n.log, ep.ProbeAddr)
	case probe.MethodICMP:
		if ep.Host == "" {
			return nil, fmt.Errorf("%w: icmp probes to %s", ErrUnsupported, server)
		}
		return probe.NewICMPProber(n.log, ep.Host, &n.icmp)
	default:
		return nil, fmt.Errorf("%w: probe method %q", ErrUnsupported, method)
	}
}

// Close tears the network down. It is idempotent.
func (n *Network) Close() error {
	var errs []error
	n.closeOnce.Do(func() {
		for _, c := range slices.Backward(n.closers) {
			if err := c(); err != nil {
				errs = append(errs, err)
			}
		}
	})
	return errors.Join(errs...)
}

func (n *Network) onClose(f func() error) {
	n.closers = append(n.closers, f)
}

func (e Endpoint) String() string {
	if e.IP == nil {
		return e.Name
	}
	return fmt.Sprintf("%s (%s)", e.Name, e.IP)
}

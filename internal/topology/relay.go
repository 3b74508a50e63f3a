package topology

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/malbeclabs/rttlab/internal/metrics"
	"golang.org/x/time/rate"
)

const (
	relayBufSize        = 2048
	floodPacketSize     = 1200
	defaultQueuePackets = 100
)

type RelayConfig struct {
	Name   string
	Server string
	// Target is the address traffic is relayed to.
	Target *net.UDPAddr
	// BandwidthMbps caps each direction. Zero means unlimited.
	BandwidthMbps float64
	// QueuePackets bounds each direction's queue; packets arriving at a full queue are dropped.
	QueuePackets int
	Impairment   Impairment
	// Seed seeds the loss and jitter generator. Zero picks a random seed.
	Seed uint64
	// Access is the client's shared link to the switch. Nil means clients attach to the switch
	// directly.
	Access *AccessLink
}

func (c *RelayConfig) Validate() error {
	if c.Name == "" {
		return errors.New("name is required")
	}
	if c.Target == nil {
		return errors.New("target is required")
	}
	if c.BandwidthMbps < 0 {
		return fmt.Errorf("bandwidth must be non-negative, got %v", c.BandwidthMbps)
	}
	if c.QueuePackets < 0 {
		return fmt.Errorf("queue size must be non-negative, got %d", c.QueuePackets)
	}
	return c.Impairment.Validate()
}

// RelayLink is an in-process UDP link. Clients send to Addr; the link forwards each datagram to
// the target through a per-client socket and relays the replies back. Both directions are shaped
// to the bandwidth cap, and the impairment is applied on the way to the target. With an access
// link configured, traffic crosses it before and after this link.
type RelayLink struct {
	log  *slog.Logger
	cfg  RelayConfig
	conn *net.UDPConn

	mu  sync.Mutex
	imp Impairment
	rng *rand.Rand

	upstreamsMu sync.Mutex
	upstreams   map[string]*net.UDPConn

	up   *shaper
	down *shaper

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once
}

type datagram struct {
	data    []byte
	deliver func([]byte)
}

func NewRelayLink(ctx context.Context, log *slog.Logger, cfg RelayConfig) (*RelayLink, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid relay config: %w", err)
	}
	if cfg.QueuePackets == 0 {
		cfg.QueuePackets = defaultQueuePackets
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = rand.Uint64()
	}

	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		return nil, fmt.Errorf("failed to listen: %w", err)
	}

	ctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	l := &RelayLink{
		log:       log.With("link", cfg.Name),
		cfg:       cfg,
		conn:      conn,
		imp:       cfg.Impairment,
		rng:       rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
		upstreams: make(map[string]*net.UDPConn),
		ctx:       ctx,
		cancel:    cancel,
	}
	l.up = newShaper(cfg.BandwidthMbps, cfg.QueuePackets)
	l.down = newShaper(cfg.BandwidthMbps, cfg.QueuePackets)

	l.wg.Add(3)
	go func() {
		defer l.wg.Done()
		l.up.run(ctx)
	}()
	go func() {
		defer l.wg.Done()
		l.down.run(ctx)
	}()
	go func() {
		defer l.wg.Done()
		l.readClients()
	}()

	return l, nil
}

func (l *RelayLink) Name() string {
	return l.cfg.Name
}

func (l *RelayLink) Node() string {
	return l.cfg.Server
}

func (l *RelayLink) BandwidthMbps() float64 {
	return l.cfg.BandwidthMbps
}

// Addr is the client-facing address of the link.
func (l *RelayLink) Addr() *net.UDPAddr {
	return l.conn.LocalAddr().(*net.UDPAddr)
}

func (l *RelayLink) SetImpairment(imp Impairment) error {
	if err := imp.Validate(); err != nil {
		return fmt.Errorf("invalid impairment: %w", err)
	}
	l.mu.Lock()
	l.imp = imp
	l.mu.Unlock()
	l.log.Debug("Link impairment updated", "impairment", imp.String())
	return nil
}

func (l *RelayLink) Impairment() Impairment {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.imp
}

// Flood injects non-probe filler datagrams at the switch end of the link at mbps until ctx is
// done. The filler is discarded by the reflector but competes with probes for this link's
// bandwidth and queue. It never crosses the access link.
func (l *RelayLink) Flood(ctx context.Context, mbps float64) error {
	if mbps <= 0 {
		return fmt.Errorf("flood rate must be positive, got %v", mbps)
	}
	conn, err := net.DialUDP("udp", nil, l.cfg.Target)
	if err != nil {
		return fmt.Errorf("failed to dial target: %w", err)
	}
	defer conn.Close()

	limiter := rate.NewLimiter(rate.Limit(mbps*1e6/8), floodPacketSize)
	filler := make([]byte, floodPacketSize)
	deliver := func(b []byte) { _, _ = conn.Write(b) }
	for {
		if err := limiter.WaitN(ctx, floodPacketSize); err != nil {
			return nil
		}
		if !l.up.enqueue(datagram{data: filler, deliver: deliver}) {
			metrics.LinkDroppedPacketsTotal.WithLabelValues(l.cfg.Name, metrics.DropReasonQueue).Inc()
		}
	}
}

// Close stops the link and waits for its goroutines to exit. It is idempotent.
func (l *RelayLink) Close() error {
	var err error
	l.once.Do(func() {
		l.cancel()
		err = l.conn.Close()
		l.upstreamsMu.Lock()
		for _, c := range l.upstreams {
			_ = c.Close()
		}
		l.upstreamsMu.Unlock()
		l.wg.Wait()
	})
	return err
}

func (l *RelayLink) readClients() {
	buf := make([]byte, relayBufSize)
	for {
		n, client, err := l.conn.ReadFromUDP(buf)
		if err != nil {
			if isClosedErr(err) || l.ctx.Err() != nil {
				return
			}
			l.log.Debug("Link read failed", "error", err)
			continue
		}

		if l.drop() {
			metrics.LinkDroppedPacketsTotal.WithLabelValues(l.cfg.Name, metrics.DropReasonLoss).Inc()
			continue
		}

		upstream, err := l.upstream(client)
		if err != nil {
			l.log.Warn("Failed to open upstream", "client", client, "error", err)
			continue
		}

		data := append([]byte(nil), buf[:n]...)
		toServer := datagram{data: data, deliver: func(b []byte) {
			l.afterDelay(func() {
				_, _ = upstream.Write(b)
			})
		}}
		if l.cfg.Access == nil {
			l.enqueueUp(toServer)
			continue
		}
		l.cfg.Access.toSwitch(datagram{data: data, deliver: func([]byte) {
			l.enqueueUp(toServer)
		}})
	}
}

func (l *RelayLink) enqueueUp(d datagram) {
	if !l.up.enqueue(d) {
		metrics.LinkDroppedPacketsTotal.WithLabelValues(l.cfg.Name, metrics.DropReasonQueue).Inc()
	}
}

func (l *RelayLink) upstream(client *net.UDPAddr) (*net.UDPConn, error) {
	key := client.String()

	l.upstreamsMu.Lock()
	defer l.upstreamsMu.Unlock()
	if c, ok := l.upstreams[key]; ok {
		return c, nil
	}
	if l.ctx.Err() != nil {
		return nil, net.ErrClosed
	}
	c, err := net.DialUDP("udp", nil, l.cfg.Target)
	if err != nil {
		return nil, err
	}
	l.upstreams[key] = c

	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		l.readUpstream(c, client)
	}()
	return c, nil
}

func (l *RelayLink) readUpstream(c *net.UDPConn, client *net.UDPAddr) {
	buf := make([]byte, relayBufSize)
	for {
		n, err := c.Read(buf)
		if err != nil {
			if isClosedErr(err) || l.ctx.Err() != nil {
				return
			}
			// A refused write surfaces here when the target is not listening yet.
			continue
		}
		data := append([]byte(nil), buf[:n]...)
		toClient := datagram{data: data, deliver: func(b []byte) {
			_, _ = l.conn.WriteToUDP(b, client)
		}}
		ok := l.down.enqueue(datagram{data: data, deliver: func(b []byte) {
			if l.cfg.Access == nil {
				toClient.deliver(b)
				return
			}
			l.cfg.Access.toClient(toClient)
		}})
		if !ok {
			metrics.LinkDroppedPacketsTotal.WithLabelValues(l.cfg.Name, metrics.DropReasonQueue).Inc()
		}
	}
}

func (l *RelayLink) drop() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.imp.Loss > 0 && l.rng.Float64() < l.imp.Loss
}

func (l *RelayLink) afterDelay(f func()) {
	l.mu.Lock()
	d := l.imp.Delay
	if l.imp.Jitter > 0 {
		d += time.Duration(l.rng.Int64N(int64(l.imp.Jitter) + 1))
	}
	l.mu.Unlock()

	if d <= 0 {
		f()
		return
	}
	time.AfterFunc(d, func() {
		if l.ctx.Err() != nil {
			return
		}
		f()
	})
}

// shaper is a drop-tail FIFO drained at a fixed byte rate.
type shaper struct {
	limiter *rate.Limiter
	queue   chan datagram
}

func newShaper(mbps float64, queue int) *shaper {
	limit := rate.Inf
	if mbps > 0 {
		limit = rate.Limit(mbps * 1e6 / 8)
	}
	return &shaper{
		limiter: rate.NewLimiter(limit, relayBufSize),
		queue:   make(chan datagram, queue),
	}
}

func (s *shaper) enqueue(d datagram) bool {
	select {
	case s.queue <- d:
		return true
	default:
		return false
	}
}

func (s *shaper) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case d := <-s.queue:
			if err := s.limiter.WaitN(ctx, len(d.data)); err != nil {
				return
			}
			d.deliver(d.data)
		}
	}
}

func isClosedErr(err error) bool {
	return errors.Is(err, net.ErrClosed) || strings.Contains(err.Error(), "use of closed network connection")
}

package topology

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/malbeclabs/rttlab/internal/metrics"
)

type AccessConfig struct {
	Name string
	// Node is the client the link attaches to the switch.
	Node          string
	BandwidthMbps float64
	QueuePackets  int
}

func (c *AccessConfig) Validate() error {
	if c.Name == "" {
		return errors.New("name is required")
	}
	if c.Node == "" {
		return errors.New("node is required")
	}
	if c.BandwidthMbps < 0 {
		return fmt.Errorf("bandwidth must be non-negative, got %v", c.BandwidthMbps)
	}
	if c.QueuePackets < 0 {
		return fmt.Errorf("queue size must be non-negative, got %d", c.QueuePackets)
	}
	return nil
}

// AccessLink is the client's link to the switch. Every RelayLink built with it forwards through
// its shapers, so all flows share its bandwidth and queues.
type AccessLink struct {
	log *slog.Logger
	cfg AccessConfig

	up   *shaper
	down *shaper

	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once
}

func NewAccessLink(ctx context.Context, log *slog.Logger, cfg AccessConfig) (*AccessLink, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid access link config: %w", err)
	}
	if cfg.QueuePackets == 0 {
		cfg.QueuePackets = defaultQueuePackets
	}

	ctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	l := &AccessLink{
		log:    log.With("link", cfg.Name),
		cfg:    cfg,
		up:     newShaper(cfg.BandwidthMbps, cfg.QueuePackets),
		down:   newShaper(cfg.BandwidthMbps, cfg.QueuePackets),
		cancel: cancel,
	}
	l.wg.Add(2)
	go func() {
		defer l.wg.Done()
		l.up.run(ctx)
	}()
	go func() {
		defer l.wg.Done()
		l.down.run(ctx)
	}()
	return l, nil
}

func (l *AccessLink) Name() string {
	return l.cfg.Name
}

func (l *AccessLink) Node() string {
	return l.cfg.Node
}

func (l *AccessLink) BandwidthMbps() float64 {
	return l.cfg.BandwidthMbps
}

// Close stops the shapers. Datagrams still queued are discarded. It is idempotent.
func (l *AccessLink) Close() error {
	l.once.Do(func() {
		l.cancel()
		l.wg.Wait()
	})
	return nil
}

// toSwitch queues a datagram from the client towards the switch.
func (l *AccessLink) toSwitch(d datagram) {
	if !l.up.enqueue(d) {
		metrics.LinkDroppedPacketsTotal.WithLabelValues(l.cfg.Name, metrics.DropReasonQueue).Inc()
	}
}

// toClient queues a datagram from the switch towards the client.
func (l *AccessLink) toClient(d datagram) {
	if !l.down.enqueue(d) {
		metrics.LinkDroppedPacketsTotal.WithLabelValues(l.cfg.Name, metrics.DropReasonQueue).Inc()
	}
}

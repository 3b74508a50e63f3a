package twamplight

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"
)

const (
	defaultProbeTimeout = 1 * time.Second
	receivedRetention   = 5 * time.Minute
)

// Sender sends TWAMP probe packets to a given address and returns the round-trip time (RTT).
//
// If a probe times out or fails, it returns a zero duration and a non-nil error.
type Sender interface {
	Probe(ctx context.Context) (time.Duration, error)
	Close() error
}

// UDPSender is a Sender backed by a connected UDP socket. Probes are serialized; concurrent
// callers wait for the in-flight probe to complete.
type UDPSender struct {
	log        *slog.Logger
	remote     *net.UDPAddr
	conn       *net.UDPConn
	once       sync.Once
	cancel     context.CancelFunc
	buf        []byte
	seq        uint32
	mu         sync.Mutex // protects seq and buf
	nowFunc    func() time.Time
	received   map[Packet]struct{}
	receivedMu sync.Mutex
}

func NewSender(ctx context.Context, log *slog.Logger, remoteAddr *net.UDPAddr) (*UDPSender, error) {
	if remoteAddr == nil {
		return nil, errors.New("remote address is required")
	}
	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "udp", remoteAddr.String())
	if err != nil {
		return nil, fmt.Errorf("failed to dial: %w", err)
	}
	ctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s := &UDPSender{
		log:      log,
		remote:   remoteAddr,
		conn:     conn.(*net.UDPConn),
		cancel:   cancel,
		nowFunc:  time.Now,
		buf:      make([]byte, 1500),
		received: make(map[Packet]struct{}),
	}

	go s.cleanUpReceived(ctx)

	return s, nil
}

func (s *UDPSender) Close() error {
	var err error
	s.once.Do(func() {
		s.cancel()
		if s.conn != nil {
			err = s.conn.Close()
		}
	})
	return err
}

// Probe sends a TWAMP probe packet to the remote address and returns the RTT.
//
// Replies to earlier probes that arrive late are discarded. If no matching reply arrives before
// the context deadline (or the default probe timeout), ErrTimeout is returned.
func (s *UDPSender) Probe(ctx context.Context) (time.Duration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.seq++

	sendTime := s.nowFunc()
	sentPacket := NewPacketAt(s.seq, sendTime)
	if err := sentPacket.Marshal(s.buf); err != nil {
		return 0, fmt.Errorf("marshal packet: %w", err)
	}

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(defaultProbeTimeout)
	}
	if err := s.conn.SetDeadline(deadline); err != nil {
		return 0, fmt.Errorf("error setting deadline: %w", err)
	}

	if _, err := s.conn.Write(s.buf[:PacketSize]); err != nil {
		return 0, fmt.Errorf("failed to write to UDP: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return 0, ErrTimeout
			}
			return 0, ctx.Err()
		default:
		}

		n, err := s.conn.Read(s.buf)
		if err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				return 0, ErrTimeout
			}
			return 0, fmt.Errorf("failed to read from UDP: %w", err)
		}
		recvTime := s.nowFunc()

		packet, err := UnmarshalPacket(s.buf[:n])
		if err != nil {
			s.log.Debug("Ignoring malformed reply", "remote", s.remote, "length", n)
			continue
		}

		s.receivedMu.Lock()
		_, dup := s.received[*packet]
		if !dup {
			s.received[*packet] = struct{}{}
		}
		s.receivedMu.Unlock()
		if dup {
			s.log.Debug("Ignoring duplicate packet", "seq", packet.Seq)
			continue
		}

		if *packet != *sentPacket {
			s.log.Debug("Ignoring stale reply", "sentSeq", sentPacket.Seq, "receivedSeq", packet.Seq)
			continue
		}

		rtt := recvTime.Sub(sendTime)
		if rtt < 0 {
			s.log.Warn("Negative RTT detected, clamping to 0", "rtt", rtt)
			rtt = 0
		}
		return rtt, nil
	}
}

// LocalAddr returns the local address of the sender connection.
func (s *UDPSender) LocalAddr() *net.UDPAddr {
	return s.conn.LocalAddr().(*net.UDPAddr)
}

func (s *UDPSender) cleanUpReceived(ctx context.Context) {
	ticker := time.NewTicker(receivedRetention)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.receivedMu.Lock()
			for p := range s.received {
				if time.Since(p.Time()) > receivedRetention {
					delete(s.received, p)
				}
			}
			s.receivedMu.Unlock()
		}
	}
}

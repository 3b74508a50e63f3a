package twamplight

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"sync"
	"time"
)

type Reflector interface {
	Run(ctx context.Context) error
	Close() error
	LocalAddr() *net.UDPAddr
}

// UDPReflector listens for incoming TWAMP probe packets and reflects them back to the sender.
//
// It runs a single-threaded event loop using a UDP socket with a read timeout. Datagrams that
// are not TWAMP-light test packets are dropped without a reply.
//
// UDPReflector is not safe for concurrent use.
type UDPReflector struct {
	log     *slog.Logger
	conn    *net.UDPConn
	timeout time.Duration
	once    sync.Once
}

func NewReflector(log *slog.Logger, addr string, timeout time.Duration) (*UDPReflector, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("resolve addr: %w", err)
	}

	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on UDP port %d: %w", udpAddr.Port, err)
	}
	return &UDPReflector{
		log:     log,
		conn:    conn,
		timeout: timeout,
	}, nil
}

// Run starts the reflector. It blocks until the context is done or the reflector is closed.
func (r *UDPReflector) Run(ctx context.Context) error {
	r.log.Debug("Starting TWAMP reflector", "address", r.conn.LocalAddr())

	go func() {
		<-ctx.Done()
		r.Close()
	}()

	buf := make([]byte, 1500)
	for {
		select {
		case <-ctx.Done():
			r.log.Debug("TWAMP reflector stopped by context", "error", ctx.Err())
			return nil
		default:
		}

		if r.timeout > 0 {
			if err := r.conn.SetReadDeadline(time.Now().Add(r.timeout)); err != nil {
				if isClosedErr(err) {
					return nil
				}
				return fmt.Errorf("error setting read deadline: %w", err)
			}
		}

		n, addr, err := r.conn.ReadFromUDP(buf)
		if err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			if isClosedErr(err) {
				r.log.Debug("TWAMP reflector socket closed")
				return nil
			}
			r.log.Error("error reading from UDP", "address", addr, "error", err)
			continue
		}

		if _, err := UnmarshalPacket(buf[:n]); err != nil {
			continue
		}

		if r.timeout > 0 {
			if err := r.conn.SetWriteDeadline(time.Now().Add(r.timeout)); err != nil {
				r.log.Error("error setting write deadline", "error", err)
				continue
			}
		}

		if _, err := r.conn.WriteToUDP(buf[:n], addr); err != nil {
			if isClosedErr(err) {
				return nil
			}
			r.log.Debug("error writing to UDP", "address", addr, "error", err)
			continue
		}
	}
}

// Close closes the reflector by closing the listener connection.
func (r *UDPReflector) Close() error {
	var err error
	r.once.Do(func() {
		err = r.conn.Close()
	})
	return err
}

// LocalAddr returns the address the reflector is listening on.
func (r *UDPReflector) LocalAddr() *net.UDPAddr {
	return r.conn.LocalAddr().(*net.UDPAddr)
}

func isClosedErr(err error) bool {
	return errors.Is(err, net.ErrClosed) || strings.Contains(err.Error(), "use of closed network connection")
}

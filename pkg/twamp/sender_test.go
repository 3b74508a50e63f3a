package twamplight_test

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	twamplight "github.com/malbeclabs/rttlab/pkg/twamp"
	"github.com/stretchr/testify/require"
)

func TestTWAMP_Sender(t *testing.T) {
	t.Parallel()

	t.Run("probe returns RTT from reflector", func(t *testing.T) {
		t.Parallel()

		reflector := startReflector(t)

		sender, err := twamplight.NewSender(t.Context(), log, reflector.LocalAddr())
		require.NoError(t, err)
		defer sender.Close()

		for range 5 {
			ctx, cancel := context.WithTimeout(t.Context(), time.Second)
			rtt, err := sender.Probe(ctx)
			cancel()
			require.NoError(t, err)
			require.Greater(t, rtt, time.Duration(0))
			require.Less(t, rtt, time.Second)
		}
	})

	t.Run("probe times out without reflector", func(t *testing.T) {
		t.Parallel()

		silent, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
		require.NoError(t, err)
		defer silent.Close()

		sender, err := twamplight.NewSender(t.Context(), log, silent.LocalAddr().(*net.UDPAddr))
		require.NoError(t, err)
		defer sender.Close()

		ctx, cancel := context.WithTimeout(t.Context(), 100*time.Millisecond)
		defer cancel()
		rtt, err := sender.Probe(ctx)
		require.ErrorIs(t, err, twamplight.ErrTimeout)
		require.Zero(t, rtt)
	})

	t.Run("stale replies are ignored", func(t *testing.T) {
		t.Parallel()

		// A reflector that answers each probe twice: first with a reply for an older sequence
		// number, then with the real echo.
		conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
		require.NoError(t, err)
		defer conn.Close()

		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			buf := make([]byte, 1500)
			n, addr, err := conn.ReadFromUDP(buf)
			if err != nil {
				return
			}
			pkt, err := twamplight.UnmarshalPacket(buf[:n])
			if err != nil {
				return
			}
			stale, _ := (&twamplight.Packet{Seq: pkt.Seq + 100, Sec: pkt.Sec, Frac: pkt.Frac}).MarshalBinary()
			_, _ = conn.WriteToUDP(stale, addr)
			_, _ = conn.WriteToUDP(buf[:n], addr)
		}()

		sender, err := twamplight.NewSender(t.Context(), log, conn.LocalAddr().(*net.UDPAddr))
		require.NoError(t, err)
		defer sender.Close()

		ctx, cancel := context.WithTimeout(t.Context(), time.Second)
		defer cancel()
		_, err = sender.Probe(ctx)
		require.NoError(t, err)
		wg.Wait()
	})

	t.Run("close is idempotent", func(t *testing.T) {
		t.Parallel()

		reflector := startReflector(t)
		sender, err := twamplight.NewSender(t.Context(), log, reflector.LocalAddr())
		require.NoError(t, err)
		require.NoError(t, sender.Close())
		require.NoError(t, sender.Close())
	})

	t.Run("requires remote address", func(t *testing.T) {
		t.Parallel()

		_, err := twamplight.NewSender(t.Context(), log, nil)
		require.Error(t, err)
	})
}

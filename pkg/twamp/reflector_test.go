package twamplight_test

import (
	"context"
	"net"
	"testing"
	"time"

	twamplight "github.com/malbeclabs/rttlab/pkg/twamp"
	"github.com/stretchr/testify/require"
)

func TestTWAMP_Reflector(t *testing.T) {
	t.Parallel()

	t.Run("echo", func(t *testing.T) {
		t.Parallel()

		reflector := startReflector(t)

		conn, err := net.DialUDP("udp", nil, reflector.LocalAddr())
		require.NoError(t, err)
		defer conn.Close()

		payload, err := (&twamplight.Packet{Seq: 1, Sec: 1}).MarshalBinary()
		require.NoError(t, err)
		_, err = conn.Write(payload)
		require.NoError(t, err)

		require.NoError(t, conn.SetReadDeadline(time.Now().Add(time.Second)))
		buf := make([]byte, 1500)
		n, err := conn.Read(buf)
		require.NoError(t, err)
		require.Equal(t, payload, buf[:n])
	})

	t.Run("drops non-TWAMP datagrams", func(t *testing.T) {
		t.Parallel()

		reflector := startReflector(t)

		conn, err := net.DialUDP("udp", nil, reflector.LocalAddr())
		require.NoError(t, err)
		defer conn.Close()

		_, err = conn.Write(make([]byte, 1200))
		require.NoError(t, err)

		require.NoError(t, conn.SetReadDeadline(time.Now().Add(200*time.Millisecond)))
		_, err = conn.Read(make([]byte, 1500))
		var ne net.Error
		require.ErrorAs(t, err, &ne)
		require.True(t, ne.Timeout())
	})

	t.Run("graceful shutdown", func(t *testing.T) {
		t.Parallel()

		reflector, err := twamplight.NewReflector(log, "127.0.0.1:0", 100*time.Millisecond)
		require.NoError(t, err)
		t.Cleanup(func() { reflector.Close() })

		ctx, cancel := context.WithCancel(t.Context())
		done := make(chan error, 1)
		go func() { done <- reflector.Run(ctx) }()

		cancel()

		select {
		case err := <-done:
			require.NoError(t, err)
		case <-time.After(2 * time.Second):
			require.FailNow(t, "reflector did not stop after cancel")
		}
		require.NoError(t, reflector.Close())
	})
}

func startReflector(t *testing.T) *twamplight.UDPReflector {
	t.Helper()

	reflector, err := twamplight.NewReflector(log, "127.0.0.1:0", 100*time.Millisecond)
	require.NoError(t, err)
	t.Cleanup(func() { reflector.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() { _ = reflector.Run(ctx) }()

	return reflector
}

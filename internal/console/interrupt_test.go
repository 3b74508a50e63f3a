//go:build unix

package console_test

import (
	"bytes"
	"context"
	"io"
	"syscall"
	"testing"
	"time"

	"github.com/malbeclabs/rttlab/internal/console"
	"github.com/stretchr/testify/require"
)

func TestConsole_Interrupt(t *testing.T) {
	started := make(chan struct{}, 1)
	c, err := console.New(log, console.Config{
		In:  &scriptReader{},
		Out: &bytes.Buffer{},
		Commands: map[string]console.Command{
			"wait": {
				Usage: "wait",
				Help:  "block until cancelled",
				Run: func(ctx context.Context, _ io.Writer, _ []string) error {
					started <- struct{}{}
					select {
					case <-ctx.Done():
						return ctx.Err()
					case <-time.After(5 * time.Second):
						return nil
					}
				},
			},
		},
	})
	require.NoError(t, err)

	go func() {
		<-started
		_ = syscall.Kill(syscall.Getpid(), syscall.SIGINT)
	}()
	exit, err := c.Execute(t.Context(), "wait")
	require.False(t, exit)
	require.ErrorIs(t, err, console.ErrInterrupted)
	require.ErrorIs(t, err, context.Canceled)

	// The console outlives the interrupted command.
	go func() {
		<-started
		_ = syscall.Kill(syscall.Getpid(), syscall.SIGINT)
	}()
	_, err = c.Execute(t.Context(), "wait")
	require.ErrorIs(t, err, console.ErrInterrupted)
}

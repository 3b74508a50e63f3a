package cli

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	twamplight "github.com/malbeclabs/rttlab/pkg/twamp"
	"github.com/spf13/cobra"
)

type ReflectCmd struct {
	root *rootFlags
}

func NewReflectCmd(root *rootFlags) *ReflectCmd {
	return &ReflectCmd{root: root}
}

func (c *ReflectCmd) Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reflect",
		Short: "Run a TWAMP-light reflector for static topologies",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			log := newLogger(c.root.verbose)

			listen, err := cmd.Flags().GetString("listen")
			if err != nil {
				return fmt.Errorf("failed to get listen flag: %w", err)
			}
			timeout, err := cmd.Flags().GetDuration("read-timeout")
			if err != nil {
				return fmt.Errorf("failed to get read-timeout flag: %w", err)
			}

			ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			startMetricsServer(log, c.root.metricsAddr)

			reflector, err := twamplight.NewReflector(log, listen, timeout)
			if err != nil {
				return fmt.Errorf("failed to create reflector: %w", err)
			}
			defer reflector.Close()

			log.Info("TWAMP reflector listening", "address", reflector.LocalAddr().String())
			return reflector.Run(ctx)
		},
	}

	cmd.Flags().String("listen", "0.0.0.0:862", "address to listen on")
	cmd.Flags().Duration("read-timeout", time.Second, "socket read timeout")

	return cmd
}

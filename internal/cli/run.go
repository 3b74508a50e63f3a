package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/malbeclabs/rttlab/internal/experiment"
	"github.com/spf13/cobra"
)

type RunCmd struct {
	root *rootFlags
}

func NewRunCmd(root *rootFlags) *RunCmd {
	return &RunCmd{root: root}
}

func (c *RunCmd) Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Build the network, run one experiment and tear the network down",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			log := newLogger(c.root.verbose)

			cfg, err := loadConfig(c.root)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("warm-up") {
				cfg.Experiment.WarmUp, _ = cmd.Flags().GetDuration("warm-up")
			}
			if cmd.Flags().Changed("svg-dir") {
				cfg.Output.SVGDir, _ = cmd.Flags().GetString("svg-dir")
			}
			if cmd.Flags().Changed("no-chart") {
				noChart, _ := cmd.Flags().GetBool("no-chart")
				cfg.Output.Terminal = !noChart
			}
			if cmd.Flags().Changed("influx") {
				cfg.Output.Influx, _ = cmd.Flags().GetBool("influx")
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid config: %w", err)
			}

			ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			startMetricsServer(log, cfg.MetricsAddr)

			a := newApp(log, cfg, cmd.OutOrStdout())
			network, err := a.buildNetwork(ctx)
			if err != nil {
				return err
			}
			defer network.Close()

			res, err := a.runExperiment(ctx, network)
			if err != nil {
				return err
			}
			return checkResult(log, res)
		},
	}

	cmd.Flags().Duration("warm-up", 5*time.Second, "delay between starting the normal and abnormal flows")
	cmd.Flags().String("svg-dir", "", "write SVG plots to this directory")
	cmd.Flags().Bool("no-chart", false, "do not draw terminal charts")
	cmd.Flags().Bool("influx", false, "export results to InfluxDB (INFLUX_URL, INFLUX_TOKEN, INFLUX_ORG, INFLUX_BUCKET)")

	return cmd
}

// checkResult fails a completed run that has faulted phases so the process exits non-zero.
func checkResult(log *slog.Logger, res *experiment.Result) error {
	if err := res.Err(); err != nil {
		log.Warn("Experiment completed with faults", "run", res.ID)
		return fmt.Errorf("experiment %s completed with faults: %w", res.ID, err)
	}
	return nil
}

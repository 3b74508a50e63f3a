package cli

import (
	"context"
	"fmt"
	"io"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/malbeclabs/rttlab/internal/console"
	"github.com/malbeclabs/rttlab/internal/topology"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

type ConsoleCmd struct {
	root *rootFlags
}

func NewConsoleCmd(root *rootFlags) *ConsoleCmd {
	return &ConsoleCmd{root: root}
}

func (c *ConsoleCmd) Command() *cobra.Command {
	return &cobra.Command{
		Use:   "console",
		Short: "Build the network and open an interactive console on it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			log := newLogger(c.root.verbose)

			cfg, err := loadConfig(c.root)
			if err != nil {
				return err
			}

			ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM)
			defer cancel()

			startMetricsServer(log, cfg.MetricsAddr)

			out := cmd.OutOrStdout()
			a := newApp(log, cfg, out)
			network, err := a.buildNetwork(ctx)
			if err != nil {
				return err
			}
			defer func() {
				fmt.Fprintln(out, "Stopping network...")
				_ = network.Close()
			}()

			fmt.Fprintln(out, "Network started. You can use the CLI to interact with the network.")

			commands, aliases := a.consoleCommands(network)
			names := make([]string, 0, len(commands)+len(aliases)+3)
			for n := range commands {
				names = append(names, n)
			}
			for n := range aliases {
				names = append(names, n)
			}
			names = append(names, "help", "exit", "quit")

			in := console.NewLiner(names)
			defer in.Close()

			con, err := console.New(log, console.Config{
				In:       in,
				Out:      out,
				Commands: commands,
				Aliases:  aliases,
			})
			if err != nil {
				return err
			}
			return con.Run(ctx)
		},
	}
}

// consoleCommands is the command table of the interactive console.
func (a *app) consoleCommands(network *topology.Network) (map[string]console.Command, map[string]string) {
	commands := map[string]console.Command{
		"run_experiment": {
			Usage: "run_experiment",
			Help:  "run the normal and abnormal flows and report their RTT statistics",
			Run: func(ctx context.Context, out io.Writer, args []string) error {
				if len(args) != 0 {
					return console.ErrUsage
				}
				res, err := a.runExperiment(ctx, network)
				if err != nil {
					return err
				}
				if res.Faulted() {
					fmt.Fprintf(out, "run %s completed with faults\n", res.ID)
				}
				return nil
			},
		},
		"nodes": {
			Usage: "nodes",
			Help:  "list the nodes of the network",
			Run: func(_ context.Context, out io.Writer, _ []string) error {
				table := newTable(out, []string{"Node", "Role", "IP", "Probe Address"})
				nodes := append([]topology.Endpoint{network.Client(), network.Switch()}, network.Servers()...)
				for _, n := range nodes {
					ip, addr := "-", "-"
					if n.IP != nil {
						ip = n.IP.String()
					}
					if n.ProbeAddr != nil {
						addr = n.ProbeAddr.String()
					}
					table.Append([]string{n.Name, string(n.Role), ip, addr})
				}
				table.Render()
				return nil
			},
		},
		"links": {
			Usage: "links",
			Help:  "list the links of the network with their bandwidth and impairment",
			Run: func(_ context.Context, out io.Writer, _ []string) error {
				table := newTable(out, []string{"Link", "Node", "Bandwidth\n(Mbit/s)", "Impairment"})
				for _, l := range network.Links() {
					bw := "unlimited"
					if l.BandwidthMbps() > 0 {
						bw = strconv.FormatFloat(l.BandwidthMbps(), 'f', -1, 64)
					}
					imp := "n/a"
					if il, ok := l.(topology.ImpairableLink); ok {
						imp = il.Impairment().String()
					}
					table.Append([]string{l.Name(), l.Node(), bw, imp})
				}
				table.Render()
				return nil
			},
		},
		"impair": {
			Usage: "impair <link|server> <delay> <jitter> <loss>",
			Help:  "set the baseline impairment of a link, e.g. impair s2 20ms 5ms 1%",
			Run: func(_ context.Context, out io.Writer, args []string) error {
				if len(args) != 4 {
					return console.ErrUsage
				}
				link, ok := network.LinkByName(args[0])
				if !ok {
					link, ok = network.Link(args[0])
				}
				if !ok {
					return fmt.Errorf("unknown link %q", args[0])
				}
				il, ok := link.(topology.ImpairableLink)
				if !ok {
					return fmt.Errorf("link %s has no impairment controls", link.Name())
				}
				imp, err := parseImpairment(args[1], args[2], args[3])
				if err != nil {
					return fmt.Errorf("%w: %w", console.ErrUsage, err)
				}
				if err := il.SetImpairment(imp); err != nil {
					return err
				}
				fmt.Fprintf(out, "%s: %s\n", link.Name(), imp)
				return nil
			},
		},
	}
	aliases := map[string]string{"run": "run_experiment"}
	return commands, aliases
}

func parseImpairment(delay, jitter, loss string) (topology.Impairment, error) {
	d, err := time.ParseDuration(delay)
	if err != nil {
		return topology.Impairment{}, fmt.Errorf("invalid delay: %w", err)
	}
	j, err := time.ParseDuration(jitter)
	if err != nil {
		return topology.Impairment{}, fmt.Errorf("invalid jitter: %w", err)
	}
	l, err := parseLoss(loss)
	if err != nil {
		return topology.Impairment{}, err
	}
	imp := topology.Impairment{Delay: d, Jitter: j, Loss: l}
	return imp, imp.Validate()
}

// parseLoss accepts a probability ("0.05") or a percentage ("5%").
func parseLoss(s string) (float64, error) {
	pct := strings.HasSuffix(s, "%")
	v, err := strconv.ParseFloat(strings.TrimSuffix(s, "%"), 64)
	if err != nil {
		return 0, fmt.Errorf("invalid loss: %w", err)
	}
	if pct {
		v /= 100
	}
	return v, nil
}

func newTable(out io.Writer, header []string) *tablewriter.Table {
	table := tablewriter.NewWriter(out)
	table.SetAutoWrapText(false)
	table.SetHeaderAlignment(tablewriter.ALIGN_CENTER)
	table.SetAutoFormatHeaders(false)
	table.SetBorder(true)
	table.SetRowLine(true)
	table.SetHeader(header)
	return table
}

package cli

import (
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/lmittmann/tint"
	"github.com/malbeclabs/rttlab/internal/config"
	"github.com/malbeclabs/rttlab/internal/metrics"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
)

type ExitCode int

const (
	exitCodeSuccess = 0
	exitCodeError   = 1
)

// Set by the linker.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

type rootFlags struct {
	verbose     bool
	configPath  string
	profile     string
	metricsAddr string
}

func Run() ExitCode {
	var flags rootFlags

	rootCmd := &cobra.Command{
		Use:           "rttlab",
		Short:         "Two-phase RTT experiments over an emulated network.",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			err := cmd.Help()
			if err != nil {
				return fmt.Errorf("failed to show help: %w", err)
			}
			return nil
		},
	}

	defaultProfile := os.Getenv("RTTLAB_PROFILE")
	if defaultProfile == "" {
		defaultProfile = config.ProfileLocal
	}

	rootCmd.PersistentFlags().BoolVarP(&flags.verbose, "verbose", "v", false, "set debug logging level")
	rootCmd.PersistentFlags().StringVarP(&flags.configPath, "config", "c", "", "path to a YAML config file")
	rootCmd.PersistentFlags().StringVarP(&flags.profile, "profile", "p", defaultProfile, "config profile (local, ci, slow-links)")
	rootCmd.PersistentFlags().StringVar(&flags.metricsAddr, "metrics-addr", "", "address to serve prometheus metrics on, e.g. :2112")

	rootCmd.AddCommand(
		NewRunCmd(&flags).Command(),
		NewConsoleCmd(&flags).Command(),
		NewReflectCmd(&flags).Command(),
		NewVersionCmd().Command(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return exitCodeError
	}

	return exitCodeSuccess
}

// loadConfig resolves the config from the root flags; the metrics address flag wins over config
// and environment.
func loadConfig(flags *rootFlags) (*config.Config, error) {
	cfg, err := config.Load(flags.configPath, flags.profile)
	if err != nil {
		return nil, err
	}
	if flags.metricsAddr != "" {
		cfg.MetricsAddr = flags.metricsAddr
	}
	return cfg, nil
}

func startMetricsServer(log *slog.Logger, addr string) {
	if addr == "" {
		return
	}
	metrics.BuildInfo.WithLabelValues(version, commit, date).Set(1)
	go func() {
		listener, err := net.Listen("tcp", addr)
		if err != nil {
			log.Error("Failed to start prometheus metrics server listener", "error", err)
			return
		}
		log.Info("Prometheus metrics server listening", "address", listener.Addr().String())
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		if err := http.Serve(listener, mux); err != nil {
			log.Error("Prometheus metrics server stopped", "error", err)
		}
	}()
}

func newLogger(verbose bool) *slog.Logger {
	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}
	return slog.New(tint.NewHandler(os.Stderr, &tint.Options{
		Level: logLevel,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey {
				t := a.Value.Time().UTC()
				a.Value = slog.StringValue(formatRFC3339Millis(t))
			}
			if s, ok := a.Value.Any().(string); ok && s == "" {
				return slog.Attr{}
			}
			return a
		},
	}))
}

func formatRFC3339Millis(t time.Time) string {
	t = t.UTC()
	base := t.Format("2006-01-02T15:04:05")
	ms := t.Nanosecond() / 1_000_000
	return fmt.Sprintf("%s.%03dZ", base, ms)
}

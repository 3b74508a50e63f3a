package cli

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/malbeclabs/rttlab/internal/config"
	"github.com/malbeclabs/rttlab/internal/experiment"
	"github.com/malbeclabs/rttlab/internal/flow"
	"github.com/malbeclabs/rttlab/internal/topology"
	"github.com/stretchr/testify/require"
)

func TestCLI_FormatRFC3339Millis(t *testing.T) {
	t.Parallel()

	ts := time.Date(2025, 3, 4, 5, 6, 7, 891_234_567, time.FixedZone("X", 3600))
	require.Equal(t, "2025-03-04T04:06:07.891Z", formatRFC3339Millis(ts))
}

func TestCLI_ParseImpairment(t *testing.T) {
	t.Parallel()

	imp, err := parseImpairment("20ms", "5ms", "1%")
	require.NoError(t, err)
	require.Equal(t, topology.Impairment{Delay: 20 * time.Millisecond, Jitter: 5 * time.Millisecond, Loss: 0.01}, imp)

	imp, err = parseImpairment("0s", "0s", "0.25")
	require.NoError(t, err)
	require.Equal(t, 0.25, imp.Loss)

	_, err = parseImpairment("fast", "0s", "0")
	require.Error(t, err)
	_, err = parseImpairment("0s", "0s", "150%")
	require.Error(t, err)
	_, err = parseImpairment("0s", "0s", "lots")
	require.Error(t, err)
}

func TestCLI_CheckResult(t *testing.T) {
	t.Parallel()

	res := &experiment.Result{
		ID:       "run-1",
		Normal:   &experiment.PhaseResult{Name: experiment.PhaseNormal},
		Abnormal: &experiment.PhaseResult{Name: experiment.PhaseAbnormal},
	}
	require.NoError(t, checkResult(log, res))

	res.Abnormal.Fault = fmt.Errorf("%w: %s: %w", experiment.ErrWorkerFault, experiment.PhaseAbnormal, errors.New("dial failed"))
	err := checkResult(log, res)
	require.ErrorIs(t, err, experiment.ErrWorkerFault)
	require.ErrorContains(t, err, "run-1")
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Experiment.WarmUp = 30 * time.Millisecond
	cfg.Normal.Count = 4
	cfg.Normal.Interval = 10 * time.Millisecond
	cfg.Abnormal.Count = 3
	cfg.Abnormal.Interval = 10 * time.Millisecond
	cfg.Abnormal.ProbeTimeout = 200 * time.Millisecond
	cfg.Abnormal.Anomalies = []flow.Anomaly{{Kind: flow.AnomalyDelay, From: 1, To: 2, Delay: 20 * time.Millisecond}}
	cfg.Topology.Emulated.Seed = 3
	return cfg
}

func TestCLI_App(t *testing.T) {
	t.Parallel()

	t.Run("runs an experiment end to end", func(t *testing.T) {
		t.Parallel()

		var out bytes.Buffer
		cfg := testConfig()
		cfg.Output.SVGDir = t.TempDir()
		a := newApp(log, cfg, &out)

		network, err := a.buildNetwork(t.Context())
		require.NoError(t, err)
		defer network.Close()

		res, err := a.runExperiment(t.Context(), network)
		require.NoError(t, err)
		require.False(t, res.Faulted())
		require.Equal(t, 4, res.Normal.Stream.Len())
		require.Equal(t, 3, res.Abnormal.Stream.Len())
		require.GreaterOrEqual(t, res.Abnormal.StartedAt.Sub(res.Normal.StartedAt), 30*time.Millisecond)

		s := out.String()
		require.Contains(t, s, "Starting normal and abnormal flow experiments...")
		require.Contains(t, s, "Normal_RTT Statistics:")
		require.Contains(t, s, "Abnormal_RTT Statistics:")
		require.Contains(t, s, "Normal RTT Over Time")
		require.Contains(t, s, "Abnormal RTT Over Time")
		require.Contains(t, s, "Experiment completed.")
		require.Less(t, strings.Index(s, "Normal_RTT Statistics:"), strings.Index(s, "Abnormal_RTT Statistics:"))
	})

	t.Run("console commands", func(t *testing.T) {
		t.Parallel()

		var out bytes.Buffer
		a := newApp(log, testConfig(), &out)
		network, err := a.buildNetwork(t.Context())
		require.NoError(t, err)
		defer network.Close()

		commands, aliases := a.consoleCommands(network)
		require.Equal(t, "run_experiment", aliases["run"])

		require.NoError(t, commands["nodes"].Run(t.Context(), &out, nil))
		require.Contains(t, out.String(), "140.115.154.245")
		require.Contains(t, out.String(), "sw1")

		out.Reset()
		require.NoError(t, commands["impair"].Run(t.Context(), &out, []string{"s2", "10ms", "2ms", "5%"}))
		link, _ := network.Link("s2")
		require.Equal(t, 10*time.Millisecond, link.(topology.ImpairableLink).Impairment().Delay)

		out.Reset()
		require.NoError(t, commands["links"].Run(t.Context(), &out, nil))
		require.Contains(t, out.String(), "sw1-s2")
		require.Contains(t, out.String(), "loss=5.0%")

		require.Error(t, commands["impair"].Run(t.Context(), &out, []string{"s9", "1ms", "0s", "0"}))
		require.Error(t, commands["impair"].Run(t.Context(), &out, []string{"s1"}))
		require.Error(t, commands["run_experiment"].Run(t.Context(), &out, []string{"extra"}))
	})

	t.Run("unknown topology kind fails init", func(t *testing.T) {
		t.Parallel()

		cfg := testConfig()
		cfg.Topology.Kind = "bogus"
		a := newApp(log, cfg, &bytes.Buffer{})
		_, err := a.buildNetwork(t.Context())
		require.ErrorIs(t, err, topology.ErrTopologyInit)
	})
}

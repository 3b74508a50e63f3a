package render_test

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/malbeclabs/rttlab/internal/render"
	"github.com/malbeclabs/rttlab/internal/sample"
	"github.com/stretchr/testify/require"
)

func stream(rtts ...float64) sample.Stream {
	samples := make([]sample.Sample, len(rtts))
	for i, v := range rtts {
		samples[i] = sample.Sample{Seq: uint32(i + 1), RTT: v}
	}
	return sample.NewStream(samples...)
}

func TestRender_Slug(t *testing.T) {
	t.Parallel()

	require.Equal(t, "normal-rtt-over-time", render.Slug("Normal RTT Over Time"))
	require.Equal(t, "abnormal-rtt-over-time", render.Slug("  Abnormal RTT -- Over Time! "))
	require.Equal(t, "plot", render.Slug("***"))
}

func TestRender_Terminal(t *testing.T) {
	t.Parallel()

	t.Run("draws one point per sample", func(t *testing.T) {
		t.Parallel()

		var buf bytes.Buffer
		r := render.NewTerminal(&buf, 40, 5)
		require.NoError(t, r.Render(t.Context(), stream(1, 2, 3, 4, 5), "Normal RTT Over Time"))

		out := buf.String()
		require.True(t, strings.HasPrefix(out, "Normal RTT Over Time\n"))
		require.Equal(t, 5, strings.Count(out, "*"))
		require.Contains(t, out, "5.000 |")
		require.Contains(t, out, "1.000 |")
	})

	t.Run("long streams are bucketed to the width", func(t *testing.T) {
		t.Parallel()

		rtts := make([]float64, 500)
		for i := range rtts {
			rtts[i] = float64(i % 7)
		}
		var buf bytes.Buffer
		require.NoError(t, render.NewTerminal(&buf, 50, 8).Render(t.Context(), stream(rtts...), "t"))
		require.Equal(t, 50, strings.Count(buf.String(), "*"))
	})

	t.Run("empty stream", func(t *testing.T) {
		t.Parallel()

		var buf bytes.Buffer
		require.NoError(t, render.NewTerminal(&buf, 0, 0).Render(t.Context(), sample.Stream{}, "Abnormal RTT Over Time"))
		require.Equal(t, "Abnormal RTT Over Time\n  no samples\n", buf.String())
	})

	t.Run("cancelled context", func(t *testing.T) {
		t.Parallel()

		ctx, cancel := context.WithCancel(t.Context())
		cancel()
		var buf bytes.Buffer
		require.ErrorIs(t, render.NewTerminal(&buf, 0, 0).Render(ctx, stream(1), "t"), context.Canceled)
		require.Empty(t, buf.String())
	})
}

func TestRender_SVG(t *testing.T) {
	t.Parallel()

	t.Run("writes a polyline per stream", func(t *testing.T) {
		t.Parallel()

		dir := filepath.Join(t.TempDir(), "plots")
		r, err := render.NewSVG(dir)
		require.NoError(t, err)
		require.NoError(t, r.Render(t.Context(), stream(3, 1, 4, 1, 5), "Normal RTT Over Time"))

		data, err := os.ReadFile(filepath.Join(dir, "normal-rtt-over-time.svg"))
		require.NoError(t, err)
		out := string(data)
		require.Contains(t, out, "<svg")
		require.Contains(t, out, "<polyline")
		require.Contains(t, out, "Normal RTT Over Time")
		require.Equal(t, 5, len(strings.Fields(between(out, `points="`, `"`))))
	})

	t.Run("empty stream writes an empty plot", func(t *testing.T) {
		t.Parallel()

		r, err := render.NewSVG(t.TempDir())
		require.NoError(t, err)
		require.NoError(t, r.Render(t.Context(), sample.Stream{}, "Abnormal <RTT>"))

		data, err := os.ReadFile(r.Path("Abnormal <RTT>"))
		require.NoError(t, err)
		require.NotContains(t, string(data), "<polyline")
		require.Contains(t, string(data), "no samples")
		require.Contains(t, string(data), "Abnormal &lt;RTT&gt;")
	})

	t.Run("requires a directory", func(t *testing.T) {
		t.Parallel()

		_, err := render.NewSVG("")
		require.Error(t, err)
	})
}

func TestRender_Multi(t *testing.T) {
	t.Parallel()

	var a, b bytes.Buffer
	failing := failingRenderer{err: errors.New("no display")}
	m := render.Multi{render.NewTerminal(&a, 0, 0), failing, render.NewTerminal(&b, 0, 0), render.Nop{}}

	err := m.Render(t.Context(), stream(1, 2), "t")
	require.ErrorIs(t, err, failing.err)
	require.NotEmpty(t, a.String())
	require.NotEmpty(t, b.String())
}

type failingRenderer struct{ err error }

func (f failingRenderer) Render(context.Context, sample.Stream, string) error { return f.err }

func between(s, start, end string) string {
	i := strings.Index(s, start)
	if i < 0 {
		return ""
	}
	s = s[i+len(start):]
	j := strings.Index(s, end)
	if j < 0 {
		return ""
	}
	return s[:j]
}

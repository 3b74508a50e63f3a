package console_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/malbeclabs/rttlab/internal/console"
	"github.com/stretchr/testify/require"
)

// scriptReader replays lines, then returns io.EOF.
type scriptReader struct {
	lines   []string
	errs    map[int]error
	n       int
	history []string
	closed  bool
}

func (r *scriptReader) Prompt(string) (string, error) {
	defer func() { r.n++ }()
	if err, ok := r.errs[r.n]; ok {
		return "", err
	}
	if r.n >= len(r.lines) {
		return "", io.EOF
	}
	return r.lines[r.n], nil
}

func (r *scriptReader) AppendHistory(line string) { r.history = append(r.history, line) }

func (r *scriptReader) Close() error {
	r.closed = true
	return nil
}

func newTestConsole(t *testing.T, in console.LineReader, out io.Writer, calls *[]string) *console.Console {
	t.Helper()

	c, err := console.New(log, console.Config{
		In:  in,
		Out: out,
		Commands: map[string]console.Command{
			"run_experiment": {
				Usage: "run_experiment",
				Help:  "run the experiment",
				Run: func(_ context.Context, out io.Writer, args []string) error {
					*calls = append(*calls, "run_experiment "+strings.Join(args, " "))
					_, err := io.WriteString(out, "ran\n")
					return err
				},
			},
			"impair": {
				Usage: "impair <link> <delay> <jitter> <loss>",
				Help:  "set link impairment",
				Run: func(_ context.Context, _ io.Writer, args []string) error {
					if len(args) != 4 {
						return console.ErrUsage
					}
					*calls = append(*calls, "impair")
					return nil
				},
			},
		},
		Aliases: map[string]string{"run": "run_experiment"},
	})
	require.NoError(t, err)
	return c
}

func TestConsole(t *testing.T) {
	t.Parallel()

	t.Run("dispatches commands and aliases", func(t *testing.T) {
		t.Parallel()

		var out bytes.Buffer
		var calls []string
		in := &scriptReader{lines: []string{"run_experiment", "", "  run fast  ", "nope", "impair a", "exit", "run_experiment"}}
		c := newTestConsole(t, in, &out, &calls)

		require.NoError(t, c.Run(t.Context()))
		require.Equal(t, []string{"run_experiment ", "run_experiment fast"}, calls)
		require.Equal(t, []string{"run_experiment", "run fast", "nope", "impair a", "exit"}, in.history)
		require.Contains(t, out.String(), `unknown command "nope"`)
		require.Contains(t, out.String(), "usage: impair <link> <delay> <jitter> <loss>")
	})

	t.Run("aborted prompt continues and EOF exits", func(t *testing.T) {
		t.Parallel()

		var out bytes.Buffer
		var calls []string
		in := &scriptReader{lines: []string{"", "run"}, errs: map[int]error{0: console.ErrAborted}}
		c := newTestConsole(t, in, &out, &calls)

		require.NoError(t, c.Run(t.Context()))
		require.Len(t, calls, 1)
	})

	t.Run("read errors are returned", func(t *testing.T) {
		t.Parallel()

		var calls []string
		boom := errors.New("tty gone")
		in := &scriptReader{errs: map[int]error{0: boom}}
		c := newTestConsole(t, in, io.Discard, &calls)
		require.ErrorIs(t, c.Run(t.Context()), boom)
	})

	t.Run("help lists commands", func(t *testing.T) {
		t.Parallel()

		var out bytes.Buffer
		var calls []string
		c := newTestConsole(t, &scriptReader{}, &out, &calls)

		exit, err := c.Execute(t.Context(), "help")
		require.NoError(t, err)
		require.False(t, exit)
		require.Contains(t, out.String(), "run_experiment")
		require.Contains(t, out.String(), "impair <link>")
		require.Contains(t, out.String(), "exit, quit")

		out.Reset()
		_, err = c.Execute(t.Context(), "help run")
		require.NoError(t, err)
		require.Contains(t, out.String(), "run the experiment")

		require.Equal(t, []string{"exit", "help", "impair", "quit", "run", "run_experiment"}, c.Names())
	})

	t.Run("quit exits", func(t *testing.T) {
		t.Parallel()

		var calls []string
		c := newTestConsole(t, &scriptReader{}, io.Discard, &calls)
		exit, err := c.Execute(t.Context(), "quit")
		require.NoError(t, err)
		require.True(t, exit)
	})

	t.Run("command table is validated", func(t *testing.T) {
		t.Parallel()

		noop := func(context.Context, io.Writer, []string) error { return nil }
		for name, cfg := range map[string]console.Config{
			"shadows builtin": {Commands: map[string]console.Command{"help": {Run: noop}}},
			"no run func":     {Commands: map[string]console.Command{"x": {}}},
			"dangling alias":  {Commands: map[string]console.Command{"x": {Run: noop}}, Aliases: map[string]string{"y": "z"}},
			"alias shadows":   {Commands: map[string]console.Command{"x": {Run: noop}}, Aliases: map[string]string{"x": "x"}},
			"spaced name":     {Commands: map[string]console.Command{"a b": {Run: noop}}},
		} {
			cfg.In = &scriptReader{}
			cfg.Out = io.Discard
			_, err := console.New(log, cfg)
			require.Error(t, err, name)
		}

		_, err := console.New(log, console.Config{Out: io.Discard})
		require.Error(t, err)
	})
}

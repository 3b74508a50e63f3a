// Package console is an interactive command loop over a fixed command table.
package console

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"slices"
	"strings"
	"text/tabwriter"
)

const DefaultPrompt = "rttlab> "

var (
	// ErrAborted is returned by a LineReader when the operator aborts the current line.
	ErrAborted = errors.New("console: prompt aborted")
	// ErrUsage is returned by a command given bad arguments; the console prints its usage.
	ErrUsage = errors.New("console: bad usage")
	// ErrInterrupted is returned by Execute when the operator interrupts a running command.
	ErrInterrupted = errors.New("console: interrupted")
)

type Command struct {
	Usage string
	Help  string
	Run   func(ctx context.Context, out io.Writer, args []string) error
}

// LineReader reads operator input one line at a time. Prompt returns io.EOF at end of input.
type LineReader interface {
	Prompt(prompt string) (string, error)
	AppendHistory(line string)
	Close() error
}

type Config struct {
	Prompt   string
	In       LineReader
	Out      io.Writer
	Commands map[string]Command
	// Aliases maps alternative names to command names.
	Aliases map[string]string
}

func (c *Config) Validate() error {
	if c.In == nil {
		return errors.New("line reader is required")
	}
	if c.Out == nil {
		return errors.New("output is required")
	}
	for name, cmd := range c.Commands {
		if isBuiltin(name) {
			return fmt.Errorf("command %q shadows a built-in", name)
		}
		if name == "" || strings.ContainsAny(name, " \t") {
			return fmt.Errorf("invalid command name %q", name)
		}
		if cmd.Run == nil {
			return fmt.Errorf("command %q has no run func", name)
		}
	}
	for alias, target := range c.Aliases {
		if isBuiltin(alias) {
			return fmt.Errorf("alias %q shadows a built-in", alias)
		}
		if _, ok := c.Commands[alias]; ok {
			return fmt.Errorf("alias %q shadows a command", alias)
		}
		if _, ok := c.Commands[target]; !ok {
			return fmt.Errorf("alias %q refers to unknown command %q", alias, target)
		}
	}
	return nil
}

// Console dispatches operator lines to the commands it was constructed with. The command table
// cannot change after New.
type Console struct {
	log      *slog.Logger
	prompt   string
	in       LineReader
	out      io.Writer
	commands map[string]Command
	aliases  map[string]string
}

func New(log *slog.Logger, cfg Config) (*Console, error) {
	if log == nil {
		return nil, errors.New("log is nil")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid console config: %w", err)
	}
	if cfg.Prompt == "" {
		cfg.Prompt = DefaultPrompt
	}
	c := &Console{
		log:      log,
		prompt:   cfg.Prompt,
		in:       cfg.In,
		out:      cfg.Out,
		commands: make(map[string]Command, len(cfg.Commands)),
		aliases:  make(map[string]string, len(cfg.Aliases)),
	}
	for k, v := range cfg.Commands {
		c.commands[k] = v
	}
	for k, v := range cfg.Aliases {
		c.aliases[k] = v
	}
	return c, nil
}

// Names returns every command name the console accepts, built-ins and aliases included.
func (c *Console) Names() []string {
	names := []string{"help", "exit", "quit"}
	for name := range c.commands {
		names = append(names, name)
	}
	for alias := range c.aliases {
		names = append(names, alias)
	}
	slices.Sort(names)
	return names
}

// Run reads and executes lines until end of input, an exit command, or ctx is done.
func (c *Console) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return nil
		}
		line, err := c.in.Prompt(c.prompt)
		if errors.Is(err, ErrAborted) {
			continue
		}
		if errors.Is(err, io.EOF) {
			fmt.Fprintln(c.out)
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read input: %w", err)
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		c.in.AppendHistory(line)

		exit, err := c.Execute(ctx, line)
		if err != nil {
			fmt.Fprintf(c.out, "error: %v\n", err)
		}
		if exit {
			return nil
		}
	}
}

// Execute runs a single line. It reports whether the console should exit.
func (c *Console) Execute(ctx context.Context, line string) (bool, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false, nil
	}
	name, args := fields[0], fields[1:]

	switch name {
	case "exit", "quit":
		return true, nil
	case "help":
		c.help(args)
		return false, nil
	}

	if target, ok := c.aliases[name]; ok {
		name = target
	}
	cmd, ok := c.commands[name]
	if !ok {
		return false, fmt.Errorf("unknown command %q, type 'help' for a list", name)
	}

	c.log.Debug("console: running command", "command", name, "args", args)

	// An interrupt cancels only the running command, not the console.
	cmdCtx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()
	err := cmd.Run(cmdCtx, c.out, args)
	if cmdCtx.Err() != nil && ctx.Err() == nil {
		return false, errors.Join(fmt.Errorf("%w: %s", ErrInterrupted, name), err)
	}
	if errors.Is(err, ErrUsage) {
		return false, fmt.Errorf("%w\nusage: %s", err, cmd.Usage)
	}
	return false, err
}

func (c *Console) help(args []string) {
	if len(args) > 0 {
		name := args[0]
		if target, ok := c.aliases[name]; ok {
			name = target
		}
		if cmd, ok := c.commands[name]; ok {
			fmt.Fprintf(c.out, "%s\n  %s\n", cmd.Usage, cmd.Help)
			return
		}
		if isBuiltin(name) {
			fmt.Fprintf(c.out, "%s\n", name)
			return
		}
		fmt.Fprintf(c.out, "unknown command %q\n", args[0])
		return
	}

	names := make([]string, 0, len(c.commands))
	for name := range c.commands {
		names = append(names, name)
	}
	slices.Sort(names)

	tw := tabwriter.NewWriter(c.out, 0, 4, 2, ' ', 0)
	for _, name := range names {
		cmd := c.commands[name]
		fmt.Fprintf(tw, "%s\t%s\n", cmd.Usage, cmd.Help)
	}
	fmt.Fprintf(tw, "help [command]\tshow help\n")
	fmt.Fprintf(tw, "exit, quit\tleave the console\n")
	_ = tw.Flush()
}

func isBuiltin(name string) bool {
	return name == "help" || name == "exit" || name == "quit"
}

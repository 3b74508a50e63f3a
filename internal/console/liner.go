package console

import (
	"errors"
	"strings"

	"github.com/peterh/liner"
)

// Liner is a LineReader with line editing and history on a terminal.
type Liner struct {
	state *liner.State
}

// NewLiner takes over the terminal until Close. Tab completes the given command names.
func NewLiner(names []string) *Liner {
	state := liner.NewLiner()
	state.SetCtrlCAborts(true)
	state.SetTabCompletionStyle(liner.TabPrints)
	state.SetCompleter(func(line string) []string {
		var out []string
		for _, n := range names {
			if strings.HasPrefix(n, line) {
				out = append(out, n)
			}
		}
		return out
	})
	return &Liner{state: state}
}

func (l *Liner) Prompt(prompt string) (string, error) {
	line, err := l.state.Prompt(prompt)
	if errors.Is(err, liner.ErrPromptAborted) {
		return "", ErrAborted
	}
	return line, err
}

func (l *Liner) AppendHistory(line string) {
	l.state.AppendHistory(line)
}

func (l *Liner) Close() error {
	return l.state.Close()
}

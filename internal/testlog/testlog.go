// Package testlog builds the logger shared by package tests.
package testlog

import (
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/lmittmann/tint"
)

// New returns a tint logger on stderr. Debug records are kept only when tests run with -v,
// so flag.Parse must have been called.
func New() *slog.Logger {
	level := slog.LevelInfo
	if testing.Verbose() {
		level = slog.LevelDebug
	}
	return slog.New(tint.NewHandler(os.Stderr, &tint.Options{
		Level:      level,
		TimeFormat: time.TimeOnly,
		AddSource:  true,
	}))
}

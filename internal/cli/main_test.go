package cli

import (
	"flag"
	"log/slog"
	"os"
	"testing"

	"github.com/malbeclabs/rttlab/internal/testlog"
)

var log *slog.Logger

func TestMain(m *testing.M) {
	flag.Parse()
	log = testlog.New()
	os.Exit(m.Run())
}

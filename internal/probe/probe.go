// Package probe measures single round trips to a server endpoint.
package probe

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrLost is returned when a probe was sent but no reply arrived in time.
var ErrLost = errors.New("probe: lost")

// Prober sends one probe per call and returns the measured round-trip time.
type Prober interface {
	Probe(ctx context.Context) (time.Duration, error)
	Close() error
}

type Method string

const (
	MethodTWAMP Method = "twamp"
	MethodICMP  Method = "icmp"
)

func ParseMethod(s string) (Method, error) {
	switch m := Method(strings.ToLower(strings.TrimSpace(s))); m {
	case MethodTWAMP, MethodICMP:
		return m, nil
	case "":
		return MethodTWAMP, nil
	default:
		return "", fmt.Errorf("unknown probe method %q", s)
	}
}

func (m Method) String() string {
	return string(m)
}

// Package render draws RTT streams as time series.
package render

import (
	"context"
	"errors"
	"strings"
	"unicode"

	"github.com/malbeclabs/rttlab/internal/sample"
)

type Renderer interface {
	Render(ctx context.Context, stream sample.Stream, title string) error
}

// Nop renders nothing, for headless runs.
type Nop struct{}

func (Nop) Render(context.Context, sample.Stream, string) error { return nil }

// Multi renders to every renderer in order. One failing does not stop the others.
type Multi []Renderer

func (m Multi) Render(ctx context.Context, stream sample.Stream, title string) error {
	var errs []error
	for _, r := range m {
		if err := r.Render(ctx, stream, title); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Slug turns a title into a file name stem: "Normal RTT Over Time" becomes
// "normal-rtt-over-time".
func Slug(title string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(title) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			dash = false
			continue
		}
		if !dash && b.Len() > 0 {
			b.WriteByte('-')
			dash = true
		}
	}
	s := strings.TrimSuffix(b.String(), "-")
	if s == "" {
		return "plot"
	}
	return s
}

// series reduces rtts to at most n points by averaging consecutive buckets.
func series(rtts []float64, n int) []float64 {
	if n <= 0 || len(rtts) <= n {
		return append([]float64(nil), rtts...)
	}
	out := make([]float64, n)
	for c := range n {
		from, to := c*len(rtts)/n, (c+1)*len(rtts)/n
		var sum float64
		for _, v := range rtts[from:to] {
			sum += v
		}
		out[c] = sum / float64(to-from)
	}
	return out
}

func bounds(values []float64) (lo, hi float64) {
	lo, hi = values[0], values[0]
	for _, v := range values[1:] {
		lo = min(lo, v)
		hi = max(hi, v)
	}
	if hi == lo {
		hi = lo + 1
	}
	return lo, hi
}

package stats

import (
	"math"
	"sort"
)

// Description extends Summary with order statistics and jitter.
type Description struct {
	Summary

	Median   float64 `json:"median"`
	P90      float64 `json:"p90"` // Nearest-rank 90th percentile.
	P95      float64 `json:"p95"`
	P99      float64 `json:"p99"`
	Variance float64 `json:"variance"`
	MAD      float64 `json:"mad"` // median(|RTT - median(RTT)|)

	// Jitter metrics, computed over consecutive samples in stream order.
	JitterAvg  float64 `json:"jitter_avg"`  // mean(|ΔRTT|)
	JitterEWMA float64 `json:"jitter_ewma"` // RFC3550 smoothed |ΔRTT|, α=1/16
	JitterMax  float64 `json:"jitter_max"`  // max(|ΔRTT|)
}

// Describe computes the extended description of the given RTTs, which must be in stream order
// for the jitter metrics to be meaningful. It returns false for an empty input.
func Describe(rtts []float64) (Description, bool) {
	summary, ok := Summarize(rtts)
	if !ok {
		return Description{}, false
	}

	sorted := append([]float64(nil), rtts...)
	sort.Float64s(sorted)
	n := float64(len(sorted))

	median := medianOf(sorted)

	res := make([]float64, len(sorted))
	for i, v := range sorted {
		res[i] = math.Abs(v - median)
	}
	sort.Float64s(res)

	d := Description{
		Summary:  summary,
		Median:   median,
		P90:      sorted[int(math.Ceil(0.90*n))-1],
		P95:      sorted[int(math.Ceil(0.95*n))-1],
		P99:      sorted[int(math.Ceil(0.99*n))-1],
		Variance: summary.StdDev * summary.StdDev,
		MAD:      medianOf(res),
	}

	if len(rtts) > 1 {
		// Seed EWMA with first |ΔRTT| to avoid cold-start bias.
		first := math.Abs(rtts[1] - rtts[0])
		ewma, maxAbs, sumAbs := first, first, first
		for i := 2; i < len(rtts); i++ {
			ad := math.Abs(rtts[i] - rtts[i-1])
			sumAbs += ad
			ewma += (ad - ewma) / 16
			if ad > maxAbs {
				maxAbs = ad
			}
		}
		d.JitterAvg = sumAbs / float64(len(rtts)-1)
		d.JitterEWMA = ewma
		d.JitterMax = maxAbs
	}

	return d, true
}

func medianOf(sorted []float64) float64 {
	mid := len(sorted) / 2
	if len(sorted)%2 == 0 {
		return (sorted[mid-1] + sorted[mid]) / 2
	}
	return sorted[mid]
}

package stats

import "math"

// Summary holds descriptive statistics of an RTT stream, in the stream's unit (milliseconds).
type Summary struct {
	Count   int     `json:"count"`
	Average float64 `json:"average"`
	Minimum float64 `json:"minimum"`
	Maximum float64 `json:"maximum"`
	StdDev  float64 `json:"std_deviation"` // Population standard deviation (divisor = count).
}

// Summarize reduces the given RTTs to summary statistics. It returns false for an empty input,
// which callers treat as nothing to report rather than as an error.
func Summarize(rtts []float64) (Summary, bool) {
	if len(rtts) == 0 {
		return Summary{}, false
	}

	n := float64(len(rtts))
	min, max := rtts[0], rtts[0]
	var sum float64
	for _, v := range rtts {
		sum += v
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
	}

	// Rounding in the sum can push the mean a hair outside [min, max].
	mean := math.Min(math.Max(sum/n, min), max)

	var sqDiff float64
	for _, v := range rtts {
		d := v - mean
		sqDiff += d * d
	}

	return Summary{
		Count:   len(rtts),
		Average: mean,
		Minimum: min,
		Maximum: max,
		StdDev:  math.Sqrt(sqDiff / n),
	}, true
}

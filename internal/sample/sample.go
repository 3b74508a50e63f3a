// Package sample holds RTT samples and the single-writer streams they are collected into.
//
// A Writer is handed to exactly one producer for the duration of a run. Once the producer has
// returned, the owner seals the Writer and gets back a read-only Stream; any later Append fails
// with ErrSealed.
package sample

import (
	"errors"
	"fmt"
	"iter"
	"math"
	"sync"
	"time"
)

var (
	ErrSealed        = errors.New("sample: stream sealed")
	ErrInvalidSample = errors.New("sample: invalid rtt")
)

// Sample is a single RTT measurement, in milliseconds, taken by the probe sent at Timestamp.
type Sample struct {
	Seq       uint32
	Timestamp time.Time
	RTT       float64
}

// FromDuration builds a sample from a measured round-trip duration.
func FromDuration(seq uint32, ts time.Time, rtt time.Duration) Sample {
	return Sample{
		Seq:       seq,
		Timestamp: ts,
		RTT:       float64(rtt) / float64(time.Millisecond),
	}
}

type Writer struct {
	mu      sync.Mutex
	samples []Sample
	sealed  bool
	stream  Stream
}

func NewWriter(capacity int) *Writer {
	return &Writer{samples: make([]Sample, 0, max(capacity, 0))}
}

// Append adds a sample to the end of the stream.
func (w *Writer) Append(s Sample) error {
	if s.RTT < 0 || math.IsNaN(s.RTT) || math.IsInf(s.RTT, 0) {
		return fmt.Errorf("%w: %v", ErrInvalidSample, s.RTT)
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.sealed {
		return ErrSealed
	}
	w.samples = append(w.samples, s)
	return nil
}

func (w *Writer) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.samples)
}

// Seal finalizes the writer and returns the collected stream. Seal is idempotent.
func (w *Writer) Seal() Stream {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.sealed {
		w.sealed = true
		w.stream = Stream{samples: w.samples}
		w.samples = nil
	}
	return w.stream
}

func (w *Writer) Sealed() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.sealed
}

// Stream is an immutable, ordered sequence of samples. The zero value is an empty stream.
type Stream struct {
	samples []Sample
}

// NewStream returns a finalized stream holding a copy of the given samples.
func NewStream(samples ...Sample) Stream {
	return Stream{samples: append([]Sample(nil), samples...)}
}

func (s Stream) Len() int {
	return len(s.samples)
}

func (s Stream) Empty() bool {
	return len(s.samples) == 0
}

func (s Stream) At(i int) Sample {
	return s.samples[i]
}

// RTTs returns the RTT values in stream order.
func (s Stream) RTTs() []float64 {
	out := make([]float64, len(s.samples))
	for i, v := range s.samples {
		out[i] = v.RTT
	}
	return out
}

// Samples returns a copy of the samples in stream order.
func (s Stream) Samples() []Sample {
	return append([]Sample(nil), s.samples...)
}

func (s Stream) All() iter.Seq2[int, Sample] {
	return func(yield func(int, Sample) bool) {
		for i, v := range s.samples {
			if !yield(i, v) {
				return
			}
		}
	}
}

package sample_test

import (
	"math"
	"sync"
	"testing"
	"time"

	"github.com/malbeclabs/rttlab/internal/sample"
	"github.com/stretchr/testify/require"
)

func TestSample_FromDuration(t *testing.T) {
	t.Parallel()

	ts := time.Unix(100, 0)
	s := sample.FromDuration(7, ts, 1500*time.Microsecond)
	require.Equal(t, uint32(7), s.Seq)
	require.Equal(t, ts, s.Timestamp)
	require.InDelta(t, 1.5, s.RTT, 1e-9)
}

func TestSample_Writer(t *testing.T) {
	t.Parallel()

	t.Run("append then seal preserves order", func(t *testing.T) {
		t.Parallel()

		w := sample.NewWriter(4)
		for i, rtt := range []float64{3, 1, 2} {
			require.NoError(t, w.Append(sample.Sample{Seq: uint32(i), RTT: rtt}))
		}
		require.Equal(t, 3, w.Len())

		s := w.Seal()
		require.Equal(t, 3, s.Len())
		require.Equal(t, []float64{3, 1, 2}, s.RTTs())
		require.Equal(t, uint32(1), s.At(1).Seq)
	})

	t.Run("append after seal fails", func(t *testing.T) {
		t.Parallel()

		w := sample.NewWriter(0)
		require.NoError(t, w.Append(sample.Sample{RTT: 1}))
		s := w.Seal()
		require.True(t, w.Sealed())

		require.ErrorIs(t, w.Append(sample.Sample{RTT: 2}), sample.ErrSealed)
		require.Equal(t, 1, s.Len())
	})

	t.Run("seal is idempotent", func(t *testing.T) {
		t.Parallel()

		w := sample.NewWriter(0)
		require.NoError(t, w.Append(sample.Sample{RTT: 5}))
		first := w.Seal()
		second := w.Seal()
		require.Equal(t, first.RTTs(), second.RTTs())
	})

	t.Run("rejects invalid rtt", func(t *testing.T) {
		t.Parallel()

		w := sample.NewWriter(0)
		require.ErrorIs(t, w.Append(sample.Sample{RTT: -1}), sample.ErrInvalidSample)
		require.ErrorIs(t, w.Append(sample.Sample{RTT: math.NaN()}), sample.ErrInvalidSample)
		require.ErrorIs(t, w.Append(sample.Sample{RTT: math.Inf(1)}), sample.ErrInvalidSample)
		require.NoError(t, w.Append(sample.Sample{RTT: 0}))
		require.Equal(t, 1, w.Len())
	})

	t.Run("late writer racing seal never mutates the stream", func(t *testing.T) {
		t.Parallel()

		w := sample.NewWriter(0)
		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range 1000 {
				if err := w.Append(sample.Sample{Seq: uint32(i), RTT: 1}); err != nil {
					return
				}
			}
		}()
		s := w.Seal()
		n := s.Len()
		wg.Wait()
		require.Equal(t, n, s.Len())
	})
}

func TestSample_Stream(t *testing.T) {
	t.Parallel()

	t.Run("zero value is empty", func(t *testing.T) {
		t.Parallel()

		var s sample.Stream
		require.True(t, s.Empty())
		require.Empty(t, s.RTTs())
		require.Empty(t, s.Samples())
	})

	t.Run("NewStream copies input", func(t *testing.T) {
		t.Parallel()

		in := []sample.Sample{{RTT: 1}, {RTT: 2}}
		s := sample.NewStream(in...)
		in[0].RTT = 100
		require.Equal(t, []float64{1, 2}, s.RTTs())

		out := s.Samples()
		out[1].RTT = 200
		require.Equal(t, []float64{1, 2}, s.RTTs())
	})

	t.Run("All iterates in order and stops early", func(t *testing.T) {
		t.Parallel()

		s := sample.NewStream(sample.Sample{RTT: 1}, sample.Sample{RTT: 2}, sample.Sample{RTT: 3})
		var got []float64
		for i, v := range s.All() {
			if i == 2 {
				break
			}
			got = append(got, v.RTT)
		}
		require.Equal(t, []float64{1, 2}, got)
	})
}

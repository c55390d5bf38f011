package cpuref

import (
	"math"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGaussianTapsSumToOneAndMatchLengthFormula(t *testing.T) {
	for _, sigma := range []float64{0.5, 1.0, 1.6, 2.3, 4.0} {
		taps := GaussianTaps(sigma)

		wantLen := int(8*sigma + 1)
		if wantLen%2 == 0 {
			wantLen++
		}
		require.Equal(t, wantLen, len(taps), "sigma=%v", sigma)

		var sum float64
		for _, v := range taps {
			sum += v
		}
		require.InDelta(t, 1.0, sum, 1e-6, "sigma=%v", sigma)
	}
}

func TestConvolveSeparableReflectBoundaryOnUniformRandom(t *testing.T) {
	rows, cols := 15, 14
	rnd := rand.New(rand.NewPCG(1, 2))
	src := make([]float64, rows*cols)
	for i := range src {
		src[i] = rnd.Float64()
	}

	taps := GaussianTaps(1.0)
	out := ConvolveSeparable(src, rows, cols, taps)
	require.Len(t, out, rows*cols)

	// A uniform image convolved with a normalized kernel reproduces the
	// constant value everywhere, reflect boundary included.
	flat := make([]float64, rows*cols)
	for i := range flat {
		flat[i] = 7.0
	}
	flatOut := ConvolveSeparable(flat, rows, cols, taps)
	for _, v := range flatOut {
		require.InDelta(t, 7.0, v, 1e-9)
	}

	// Result must stay bounded by the source's range (no overshoot from
	// a wrongly-normalized kernel).
	var min, max float64 = math.Inf(1), math.Inf(-1)
	for _, v := range src {
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
	}
	for _, v := range out {
		require.GreaterOrEqual(t, v, min-1e-9)
		require.LessOrEqual(t, v, max+1e-9)
	}
}

func TestReflectIndexMirrorsAtBorders(t *testing.T) {
	require.Equal(t, 1, reflectIndex(-1, 5))
	require.Equal(t, 2, reflectIndex(-2, 5))
	require.Equal(t, 3, reflectIndex(5, 5))
	require.Equal(t, 2, reflectIndex(6, 5))
	require.Equal(t, 2, reflectIndex(2, 5))
}

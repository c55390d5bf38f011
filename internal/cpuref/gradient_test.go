package cpuref

import (
	"math"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGradientOrientationZeroOnBorder(t *testing.T) {
	rows, cols := 6, 7
	rnd := rand.New(rand.NewPCG(3, 4))
	src := make([]float64, rows*cols)
	for i := range src {
		src[i] = rnd.Float64()
	}

	mag, angle := GradientOrientation(src, rows, cols)
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			if r == 0 || r == rows-1 || c == 0 || c == cols-1 {
				idx := r*cols + c
				require.Zero(t, mag[idx])
				require.Zero(t, angle[idx])
			}
		}
	}
}

func TestGradientOrientationOnKnownRamp(t *testing.T) {
	rows, cols := 5, 5
	src := make([]float64, rows*cols)
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			src[r*cols+c] = float64(c) // increases purely along columns
		}
	}

	mag, angle := GradientOrientation(src, rows, cols)
	idx := 2*cols + 2
	require.InDelta(t, 2.0, mag[idx], 1e-9)
	require.InDelta(t, 0.0, angle[idx], 1e-9)
}

func TestGradientAnglesStayInRange(t *testing.T) {
	rows, cols := 10, 9
	rnd := rand.New(rand.NewPCG(5, 6))
	src := make([]float64, rows*cols)
	for i := range src {
		src[i] = rnd.Float64()*2 - 1
	}
	_, angle := GradientOrientation(src, rows, cols)
	for _, a := range angle {
		require.GreaterOrEqual(t, a, 0.0)
		require.Less(t, a, 2*math.Pi)
	}
}

// Package cpuref holds independent, pure-Go reference implementations
// of the detector's core numerical steps: separable convolution,
// gradient/orientation, 3x3x3 extremum scanning, and sub-pixel
// quadratic refinement. Nothing here dispatches through a
// compute.Context or shares code with internal/compute/cpu; these
// exist solely so the testable-properties suite has an implementation
// to check the dispatched kernels against, worked in float64 rather
// than the kernels' float32 to keep rounding error out of the
// comparison.
package cpuref

import "math"

// GaussianTaps builds the normalized 1-D Gaussian tap table for sigma:
// length floor(8*sigma)+1 (rounded up to odd), centered, summing to 1.
func GaussianTaps(sigma float64) []float64 {
	size := int(8*sigma + 1)
	if size < 1 {
		size = 1
	}
	if size%2 == 0 {
		size++
	}
	center := float64(size-1) / 2.0
	taps := make([]float64, size)
	var sum float64
	for i := 0; i < size; i++ {
		x := float64(i) - center
		v := math.Exp(-(x / sigma) * (x / sigma) / 2.0)
		taps[i] = v
		sum += v
	}
	for i := range taps {
		taps[i] /= sum
	}
	return taps
}

// reflectIndex mirrors an out-of-range index back into [0, n), the same
// "reflect 101" boundary convention the dispatched convolution kernels
// use.
func reflectIndex(i, n int) int {
	if n == 1 {
		return 0
	}
	for i < 0 || i >= n {
		if i < 0 {
			i = -i
		}
		if i >= n {
			i = 2*n - i - 2
		}
	}
	return i
}

// ConvolveSeparable applies taps as a horizontal pass then a vertical
// pass over a row-major rows x cols image, with reflect-boundary
// handling at every edge.
func ConvolveSeparable(src []float64, rows, cols int, taps []float64) []float64 {
	tmp := convolveHorizontal(src, rows, cols, taps)
	return convolveVertical(tmp, rows, cols, taps)
}

func convolveHorizontal(src []float64, rows, cols int, taps []float64) []float64 {
	r := len(taps) / 2
	out := make([]float64, rows*cols)
	for row := 0; row < rows; row++ {
		base := row * cols
		for c := 0; c < cols; c++ {
			var acc float64
			for k := -r; k <= r; k++ {
				sc := reflectIndex(c+k, cols)
				acc += src[base+sc] * taps[k+r]
			}
			out[base+c] = acc
		}
	}
	return out
}

func convolveVertical(src []float64, rows, cols int, taps []float64) []float64 {
	r := len(taps) / 2
	out := make([]float64, rows*cols)
	for row := 0; row < rows; row++ {
		for c := 0; c < cols; c++ {
			var acc float64
			for k := -r; k <= r; k++ {
				sr := reflectIndex(row+k, rows)
				acc += src[sr*cols+c] * taps[k+r]
			}
			out[row*cols+c] = acc
		}
	}
	return out
}

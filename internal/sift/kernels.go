package sift

import (
	"math"
	"sync"
)

// gaussianTapCache memoizes 1-D Gaussian tap tables by sigma: the same
// few sigmas recur across every octave's scale ladder, so rebuilding the
// table per level is wasted work. It emits the raw tap weights the
// compute backend's horizontal/vertical convolution kernels consume
// directly, rather than handing the blur off to an imaging library.
type gaussianTapCache struct {
	mu    sync.Mutex
	taps  map[float64][]float32
	radii map[float64]int
}

func newGaussianTapCache() *gaussianTapCache {
	return &gaussianTapCache{
		taps:  make(map[float64][]float32),
		radii: make(map[float64]int),
	}
}

// tapsFor returns the normalized 1-D Gaussian taps for sigma and the
// radius r such that len(taps) == 2*r+1, building and caching the table
// on first request. The tap count is tapSize(sigma): floor(8*sigma)+1,
// rounded up to the next odd number when that is even, centered at
// (size-1)/2, matching the fixed allocation size every caller in the
// pipeline assumes for a given sigma.
func (c *gaussianTapCache) tapsFor(sigma float64) ([]float32, int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if taps, ok := c.taps[sigma]; ok {
		return taps, c.radii[sigma]
	}

	size := tapSize(sigma)
	center := float64(size-1) / 2.0
	taps := make([]float32, size)
	var sum float64
	for i := 0; i < size; i++ {
		x := float64(i) - center
		v := math.Exp(-(x / sigma) * (x / sigma) / 2.0)
		taps[i] = float32(v)
		sum += v
	}
	for i := range taps {
		taps[i] = float32(float64(taps[i]) / sum)
	}

	r := size / 2
	c.taps[sigma] = taps
	c.radii[sigma] = r
	return taps, r
}

// tapSize computes the fixed tap-array length for a given sigma: 8*sigma+1,
// truncated to an integer, clamped to a minimum width of 1 and rounded up
// to the nearest odd length so the table has a single center tap the
// symmetric convolution kernels can index as [-radius, radius].
func tapSize(sigma float64) int {
	size := int(8*sigma + 1)
	if size < 1 {
		size = 1
	}
	if size%2 == 0 {
		size++
	}
	return size
}

// sigmaRatio is r = 2^(1/S), the per-level scale increment within an
// octave's S usable DoG levels.
func sigmaRatio(scales int) float64 {
	return math.Pow(2, 1.0/float64(scales))
}

// sqrtRatioMinusOne is sqrt(r^2 - 1), the factor the pyramid builder
// multiplies the running sigma by to get each level's incremental blur.
func sqrtRatioMinusOne(ratio float64) float64 {
	return math.Sqrt(ratio*ratio - 1.0)
}

// sqrtDiffSquares is sqrt(a^2 - b^2), used for the pre-blur sigma that
// brings an image assumed to already carry blur b up to target blur a.
func sqrtDiffSquares(a, b float64) float64 {
	v := a*a - b*b
	if v < 0 {
		v = 0
	}
	return math.Sqrt(v)
}

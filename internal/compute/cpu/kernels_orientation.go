package cpu

import (
	"math"

	"siftgpu/internal/compute"
)

const orientationBins = 36

// computeGradientOrientation precomputes the per-pixel gradient
// magnitude and angle for one pyramid level, so orientationAssignment
// can build histograms by table lookup instead of recomputing central
// differences per keypoint. magOut and angleOut are the same shape as
// the source level; angles are stored in [0, 2*pi).
func computeGradientOrientation(b *Backend, global compute.Shape, args []compute.Arg) error {
	src, err := b.bufferArg(args, 0)
	if err != nil {
		return err
	}
	magOut, err := b.bufferArg(args, 1)
	if err != nil {
		return err
	}
	angleOut, err := b.bufferArg(args, 2)
	if err != nil {
		return err
	}

	src.mu.RLock()
	defer src.mu.RUnlock()
	magOut.mu.Lock()
	angleOut.mu.Lock()
	defer magOut.mu.Unlock()
	defer angleOut.mu.Unlock()

	rows, cols := global.Rows, global.Cols
	parallelRows(rows, b.workers, func(r int) {
		for c := 0; c < cols; c++ {
			idx := r*cols + c
			if r == 0 || r == rows-1 || c == 0 || c == cols-1 {
				magOut.data[idx] = 0
				angleOut.data[idx] = 0
				continue
			}
			dx := src.data[idx+1] - src.data[idx-1]
			dy := src.data[idx+cols] - src.data[idx-cols]
			mag := float32(math.Sqrt(float64(dx*dx + dy*dy)))
			angle := math.Atan2(float64(dy), float64(dx))
			if angle < 0 {
				angle += 2 * math.Pi
			}
			magOut.data[idx] = mag
			angleOut.data[idx] = float32(angle)
		}
	})
	return nil
}

// orientationAssignment builds a 36-bin weighted gradient-orientation
// histogram in a square window around each refined keypoint, smooths it
// over six passes of a 3-tap box filter, and emits one oriented keypoint
// per histogram peak that clears peakRatio of the maximum bin, each with
// its angle parabolically interpolated from its bin and two neighbors. A
// refined keypoint may contribute more than one oriented keypoint when
// multiple peaks clear the ratio. Each refined record is 4 floats
// (peakval, row, col, sigma_abs); each emitted oriented record is 5
// floats, extending the refined record with a trailing angle in
// [0, 2*pi).
//
// Argument order: (mag, angle, refinedIn, orientedOut, counter,
// capacity, count, cols, windowFactor, weightSigmaFactor, peakRatio).
func orientationAssignment(b *Backend, global compute.Shape, args []compute.Arg) error {
	mag, err := b.bufferArg(args, 0)
	if err != nil {
		return err
	}
	angle, err := b.bufferArg(args, 1)
	if err != nil {
		return err
	}
	in, err := b.bufferArg(args, 2)
	if err != nil {
		return err
	}
	out, err := b.bufferArg(args, 3)
	if err != nil {
		return err
	}
	ctr, err := counterArg(args, 4)
	if err != nil {
		return err
	}
	capacity, err := intArg(args, 5)
	if err != nil {
		return err
	}
	count, err := intArg(args, 6)
	if err != nil {
		return err
	}
	cols, err := intArg(args, 7)
	if err != nil {
		return err
	}
	windowFactor, err := floatArg(args, 8)
	if err != nil {
		return err
	}
	weightSigmaFactor, err := floatArg(args, 9)
	if err != nil {
		return err
	}
	peakRatio, err := floatArg(args, 10)
	if err != nil {
		return err
	}

	mag.mu.RLock()
	angle.mu.RLock()
	in.mu.RLock()
	defer mag.mu.RUnlock()
	defer angle.mu.RUnlock()
	defer in.mu.RUnlock()
	out.mu.Lock()
	defer out.mu.Unlock()

	n := int(count)
	c := int(cols)
	rows := len(mag.data) / c

	parallelRows(n, b.workers, func(i int) {
		base := i * refinedStride
		if in.data[base+0] == -1 && in.data[base+3] == -1 {
			return
		}
		kpeak := in.data[base+0]
		krow := in.data[base+1]
		kcol := in.data[base+2]
		ksigma := in.data[base+3]

		hist := buildOrientationHistogram(mag.data, angle.data, krow, kcol, c, rows, ksigma, windowFactor, weightSigmaFactor)
		smoothHistogram(&hist)

		maxVal := hist[0]
		for _, v := range hist {
			if v > maxVal {
				maxVal = v
			}
		}
		if maxVal <= 0 {
			return
		}

		for bin := 0; bin < orientationBins; bin++ {
			v := hist[bin]
			if v < peakRatio*maxVal {
				continue
			}
			left := hist[(bin+orientationBins-1)%orientationBins]
			right := hist[(bin+1)%orientationBins]
			if v <= left || v <= right {
				continue
			}

			peakBin := float64(bin) + 0.5*(float64(left)-float64(right))/(float64(left)-2*float64(v)+float64(right))
			orientation := peakBin * (2 * math.Pi / orientationBins)

			slot := ctr.Add(1)
			if slot >= capacity {
				continue
			}
			obase := int(slot) * orientedStride
			out.data[obase+0] = kpeak
			out.data[obase+1] = krow
			out.data[obase+2] = kcol
			out.data[obase+3] = ksigma
			out.data[obase+4] = float32(orientation)
		}
	})
	return nil
}

func buildOrientationHistogram(mag, angle []float32, krow, kcol float32, cols, rows int, sigma, windowFactor, weightSigmaFactor float32) [orientationBins]float32 {
	var hist [orientationBins]float32
	radius := int(windowFactor * sigma)
	if radius < 1 {
		radius = 1
	}
	weightSigma := weightSigmaFactor * sigma
	expDenom := 2 * weightSigma * weightSigma

	r0, c0 := int(krow), int(kcol)
	for dr := -radius; dr <= radius; dr++ {
		r := r0 + dr
		if r < 1 || r >= rows-1 {
			continue
		}
		for dc := -radius; dc <= radius; dc++ {
			c := c0 + dc
			if c < 1 || c >= cols-1 {
				continue
			}
			idx := r*cols + c
			weight := float32(math.Exp(-float64(dr*dr+dc*dc) / float64(expDenom)))
			bin := int(angle[idx] / (2 * math.Pi / orientationBins))
			if bin < 0 {
				bin = 0
			}
			if bin >= orientationBins {
				bin = orientationBins - 1
			}
			hist[bin] += weight * mag[idx]
		}
	}
	return hist
}

// smoothHistogram applies six passes of a 3-tap circular box average to
// suppress spurious bin-boundary peaks.
func smoothHistogram(hist *[orientationBins]float32) {
	for pass := 0; pass < 6; pass++ {
		var next [orientationBins]float32
		for i := 0; i < orientationBins; i++ {
			prev := hist[(i+orientationBins-1)%orientationBins]
			cur := hist[i]
			nextV := hist[(i+1)%orientationBins]
			next[i] = (prev + cur + nextV) / 3
		}
		*hist = next
	}
}

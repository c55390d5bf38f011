package cpu

import (
	"math"

	"siftgpu/internal/compute"
)

// Candidate records produced by localMaxMin and consumed by
// interpKeypoint are packed 4 floats wide: (v, r, c, s_index), where v
// is the DoG value at that pixel. Refined records produced by
// interpKeypoint reuse the same 4-float slot, reinterpreted as
// (peakval, r+deltaR, c+deltaC, sigma_abs), with a leading value of -1
// marking a slot interpKeypoint discarded. Octave association is never
// part of the tuple: a single octave's DoG stack is scanned per call, so
// the caller already knows which octave a buffer belongs to.
const (
	candidateStride = 4
	refinedStride   = 4
	orientedStride  = 5
)

// localMaxMin scans the interior of the middle DoG level for 3x3x3
// scale-space extrema: a pixel must clear the 0.8*PeakThresh pre-filter,
// must be strictly greater (or strictly less) than all 26 neighbors
// across the below, cur, and above levels, must clear the row/col
// border distance, and must pass the 2x2 spatial Hessian edge-response
// test (det < edgeThresh*trace^2 rejects).
//
// Argument order: (below, cur, above, candidatesOut, counter,
// capacity, borderDist, peakThresh, edgeThresh, scaleIdx).
func localMaxMin(b *Backend, global compute.Shape, args []compute.Arg) error {
	below, err := b.bufferArg(args, 0)
	if err != nil {
		return err
	}
	cur, err := b.bufferArg(args, 1)
	if err != nil {
		return err
	}
	above, err := b.bufferArg(args, 2)
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
	borderDist, err := intArg(args, 6)
	if err != nil {
		return err
	}
	peakThresh, err := floatArg(args, 7)
	if err != nil {
		return err
	}
	edgeThresh, err := floatArg(args, 8)
	if err != nil {
		return err
	}
	scaleIdx, err := intArg(args, 9)
	if err != nil {
		return err
	}

	below.mu.RLock()
	cur.mu.RLock()
	above.mu.RLock()
	defer below.mu.RUnlock()
	defer cur.mu.RUnlock()
	defer above.mu.RUnlock()
	out.mu.Lock()
	defer out.mu.Unlock()

	rows, cols := global.Rows, global.Cols
	border := int(borderDist)
	preFilter := 0.8 * peakThresh

	parallelRows(rows, b.workers, func(r int) {
		if r < border || r >= rows-border {
			return
		}
		for c := border; c < cols-border; c++ {
			v := cur.data[r*cols+c]
			if math.Abs(float64(v)) <= float64(preFilter) {
				continue
			}
			if !isScaleExtremum(below.data, cur.data, above.data, r, c, cols, v) {
				continue
			}
			if failsEdgeResponse(cur.data, r, c, cols, edgeThresh) {
				continue
			}

			slot := ctr.Add(1)
			if slot >= capacity {
				continue
			}
			base := int(slot) * candidateStride
			out.data[base+0] = v
			out.data[base+1] = float32(r)
			out.data[base+2] = float32(c)
			out.data[base+3] = float32(scaleIdx)
		}
	})
	return nil
}

func isScaleExtremum(below, cur, above []float32, r, c, cols int, v float32) bool {
	isMax, isMin := true, true
	for dr := -1; dr <= 1; dr++ {
		for dc := -1; dc <= 1; dc++ {
			idx := (r+dr)*cols + (c + dc)
			if dr == 0 && dc == 0 {
				if isMax && (below[idx] >= v || above[idx] >= v) {
					isMax = false
				}
				if isMin && (below[idx] <= v || above[idx] <= v) {
					isMin = false
				}
				continue
			}
			n := cur[idx]
			if isMax && n >= v {
				isMax = false
			}
			if isMin && n <= v {
				isMin = false
			}
			if isMax && (below[idx] >= v || above[idx] >= v) {
				isMax = false
			}
			if isMin && (below[idx] <= v || above[idx] <= v) {
				isMin = false
			}
			if !isMax && !isMin {
				return false
			}
		}
	}
	return isMax || isMin
}

// failsEdgeResponse applies the 2x2 spatial Hessian edge-response test
// against the DoG level at (r, c): reject a candidate whose principal
// curvatures are too anisotropic to be a stable corner-like extremum.
func failsEdgeResponse(cur []float32, r, c, cols int, edgeThresh float32) bool {
	idx := r * cols
	dxx := cur[idx+c+1] + cur[idx+c-1] - 2*cur[idx+c]
	dyy := cur[idx+cols+c] + cur[idx-cols+c] - 2*cur[idx+c]
	dxy := (cur[idx+cols+c+1] - cur[idx+cols+c-1] - cur[idx-cols+c+1] + cur[idx-cols+c-1]) / 4

	trace := dxx + dyy
	det := dxx*dyy - dxy*dxy
	return det < edgeThresh*trace*trace
}

// interpKeypoint performs sub-pixel refinement: fits a 3-D quadratic to
// the DoG scale-space around each candidate from its Hessian and
// gradient, solves for the offset, re-centers on the discrete pixel the
// offset points to when |deltaRow| or |deltaCol| exceeds 0.6 (spending
// one unit of moveBudget per re-centering; the scale index is never
// re-centered), and accepts the result only if the final offsets are
// all below 1.5 in magnitude and the interpolated contrast clears
// peakThresh. sigma_abs is reported as initSigma*2^((scaleIdx+deltaS)/S).
//
// Argument order: (below, cur, above, candidatesIn, refinedOut, count,
// moveBudget, peakThresh, borderDist, cols, initSigma, scalesS).
func interpKeypoint(b *Backend, global compute.Shape, args []compute.Arg) error {
	below, err := b.bufferArg(args, 0)
	if err != nil {
		return err
	}
	cur, err := b.bufferArg(args, 1)
	if err != nil {
		return err
	}
	above, err := b.bufferArg(args, 2)
	if err != nil {
		return err
	}
	in, err := b.bufferArg(args, 3)
	if err != nil {
		return err
	}
	out, err := b.bufferArg(args, 4)
	if err != nil {
		return err
	}
	count, err := intArg(args, 5)
	if err != nil {
		return err
	}
	moveBudget, err := intArg(args, 6)
	if err != nil {
		return err
	}
	peakThresh, err := floatArg(args, 7)
	if err != nil {
		return err
	}
	borderDist, err := intArg(args, 8)
	if err != nil {
		return err
	}
	cols, err := intArg(args, 9)
	if err != nil {
		return err
	}
	initSigma, err := floatArg(args, 10)
	if err != nil {
		return err
	}
	scalesS, err := intArg(args, 11)
	if err != nil {
		return err
	}

	below.mu.RLock()
	cur.mu.RLock()
	above.mu.RLock()
	in.mu.RLock()
	defer below.mu.RUnlock()
	defer cur.mu.RUnlock()
	defer above.mu.RUnlock()
	defer in.mu.RUnlock()
	out.mu.Lock()
	defer out.mu.Unlock()

	n := int(count)
	c := int(cols)
	rows := len(cur.data) / c
	border := int(borderDist)

	parallelRows(n, b.workers, func(i int) {
		base := i * candidateStride
		row := int(in.data[base+1])
		col := int(in.data[base+2])
		scaleIdx := in.data[base+3]

		outBase := i * refinedStride
		offR, offC, offS, contrast, ok := refineOffset(below.data, cur.data, above.data, &row, &col, rows, c, border, int(moveBudget), peakThresh)
		if !ok {
			out.data[outBase+0] = -1
			out.data[outBase+1] = -1
			out.data[outBase+2] = -1
			out.data[outBase+3] = -1
			return
		}
		sigmaAbs := float64(initSigma) * math.Pow(2, (float64(scaleIdx)+float64(offS))/float64(scalesS))
		out.data[outBase+0] = contrast
		out.data[outBase+1] = float32(row) + offR
		out.data[outBase+2] = float32(col) + offC
		out.data[outBase+3] = float32(sigmaAbs)
	})
	return nil
}

// refineOffset solves the local quadratic, and for as long as
// moveBudget allows, shifts the integer pixel center by one when a row
// or column offset exceeds 0.6 and refits. It returns the final offsets
// and peak value once they converge (no further shift needed) or once
// the budget is exhausted, applying the acceptance bound (all offsets
// below 1.5, contrast above peakThresh) only at that point.
func refineOffset(below, cur, above []float32, row, col *int, rows, cols, border, moveBudget int, peakThresh float32) (offR, offC, offS, contrast float32, ok bool) {
	for attempt := 0; ; attempt++ {
		r, c := *row, *col
		if r < 1 || c < 1 || r >= rows-1 || c >= cols-1 {
			return 0, 0, 0, 0, false
		}

		dx := (cur[r*cols+c+1] - cur[r*cols+c-1]) / 2
		dy := (cur[(r+1)*cols+c] - cur[(r-1)*cols+c]) / 2
		ds := (above[r*cols+c] - below[r*cols+c]) / 2

		dxx := cur[r*cols+c+1] + cur[r*cols+c-1] - 2*cur[r*cols+c]
		dyy := cur[(r+1)*cols+c] + cur[(r-1)*cols+c] - 2*cur[r*cols+c]
		dss := above[r*cols+c] + below[r*cols+c] - 2*cur[r*cols+c]
		dxy := (cur[(r+1)*cols+c+1] - cur[(r+1)*cols+c-1] - cur[(r-1)*cols+c+1] + cur[(r-1)*cols+c-1]) / 4
		dxs := (above[r*cols+c+1] - above[r*cols+c-1] - below[r*cols+c+1] + below[r*cols+c-1]) / 4
		dys := (above[(r+1)*cols+c] - above[(r-1)*cols+c] - below[(r+1)*cols+c] + below[(r-1)*cols+c]) / 4

		h := [3][3]float64{
			{float64(dxx), float64(dxy), float64(dxs)},
			{float64(dxy), float64(dyy), float64(dys)},
			{float64(dxs), float64(dys), float64(dss)},
		}
		g := [3]float64{float64(dx), float64(dy), float64(ds)}

		x, solved := solve3x3(h, g)
		if !solved {
			return 0, 0, 0, 0, false
		}
		// x holds (deltaCol, deltaRow, deltaScale); the fit minimizes the
		// quadratic, so the offset is the negative of the solved step.
		x[0], x[1], x[2] = -x[0], -x[1], -x[2]

		needShift := (math.Abs(x[1]) > 0.6 || math.Abs(x[0]) > 0.6) && attempt < moveBudget
		if needShift {
			nr, nc := r, c
			if math.Abs(x[1]) > 0.6 {
				if x[1] > 0 {
					nr++
				} else {
					nr--
				}
			}
			if math.Abs(x[0]) > 0.6 {
				if x[0] > 0 {
					nc++
				} else {
					nc--
				}
			}
			if nr < border || nr >= rows-border || nc < border || nc >= cols-border {
				return 0, 0, 0, 0, false
			}
			*row, *col = nr, nc
			continue
		}

		if math.Abs(x[0]) >= 1.5 || math.Abs(x[1]) >= 1.5 || math.Abs(x[2]) >= 1.5 {
			return 0, 0, 0, 0, false
		}
		peak := float64(cur[r*cols+c]) + 0.5*(g[0]*x[0]+g[1]*x[1]+g[2]*x[2])
		if math.Abs(peak) <= float64(peakThresh) {
			return 0, 0, 0, 0, false
		}
		return float32(x[1]), float32(x[0]), float32(x[2]), float32(peak), true
	}
}

// solve3x3 solves Hx = g via Cramer's rule, returning ok=false when the
// system is singular (degenerate Hessian).
func solve3x3(h [3][3]float64, g [3]float64) (x [3]float64, ok bool) {
	det := h[0][0]*(h[1][1]*h[2][2]-h[1][2]*h[2][1]) -
		h[0][1]*(h[1][0]*h[2][2]-h[1][2]*h[2][0]) +
		h[0][2]*(h[1][0]*h[2][1]-h[1][1]*h[2][0])
	if math.Abs(det) < 1e-12 {
		return x, false
	}

	replace := func(col int) [3][3]float64 {
		m := h
		for row := 0; row < 3; row++ {
			m[row][col] = g[row]
		}
		return m
	}
	det3 := func(m [3][3]float64) float64 {
		return m[0][0]*(m[1][1]*m[2][2]-m[1][2]*m[2][1]) -
			m[0][1]*(m[1][0]*m[2][2]-m[1][2]*m[2][0]) +
			m[0][2]*(m[1][0]*m[2][1]-m[1][1]*m[2][0])
	}

	x[0] = det3(replace(0)) / det
	x[1] = det3(replace(1)) / det
	x[2] = det3(replace(2)) / det
	return x, true
}

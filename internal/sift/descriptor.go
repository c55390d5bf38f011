package sift

import "math"

const (
	descriptorGrid   = 4
	descriptorBins   = 8
	descriptorLength = descriptorGrid * descriptorGrid * descriptorBins
	descriptorScale  = 3.0 // cell width in source pixels, per unit sigma
	descriptorClip   = 0.2
)

// buildDescriptor computes the 128-float appearance vector for one
// oriented keypoint: samples a square patch around (row, col) in the
// keypoint's rotated frame (rotated by -theta), accumulates each
// sample's image gradient into a 4x4 grid of 8-bin orientation
// histograms with trilinear weighting across row, column, and
// orientation, flattens the grid to 128 floats, L2-normalizes, clips
// every component at 0.2, and re-normalizes. level is the octave-local
// Gaussian plane the keypoint was oriented against; row/col/sigma are
// octave-local pixel coordinates (not the cross-octave absolute scale).
func buildDescriptor(level []float32, rows, cols int, row, col, sigma, theta float64) []float32 {
	hist := make([]float64, descriptorLength)

	histWidth := descriptorScale * sigma
	radius := int(histWidth * math.Sqrt2 * (descriptorGrid + 1) / 2)
	if radius < 1 {
		radius = 1
	}
	cosT, sinT := math.Cos(theta), math.Sin(theta)
	weightDenom := 2 * (0.5 * descriptorGrid) * (0.5 * descriptorGrid)
	binsPerRad := descriptorBins / (2 * math.Pi)

	for di := -radius; di <= radius; di++ {
		for dj := -radius; dj <= radius; dj++ {
			// Rotate the sample offset into the keypoint's frame so the
			// histogram grid is orientation-invariant.
			cRot := float64(dj)*cosT - float64(di)*sinT
			rRot := float64(dj)*sinT + float64(di)*cosT

			rBin := rRot/histWidth + descriptorGrid/2.0 - 0.5
			cBin := cRot/histWidth + descriptorGrid/2.0 - 0.5
			if rBin <= -1 || rBin >= descriptorGrid || cBin <= -1 || cBin >= descriptorGrid {
				continue
			}

			r := int(math.Round(row)) + di
			c := int(math.Round(col)) + dj
			if r < 1 || r >= rows-1 || c < 1 || c >= cols-1 {
				continue
			}

			dx := level[r*cols+c+1] - level[r*cols+c-1]
			dy := level[(r+1)*cols+c] - level[(r-1)*cols+c]
			mag := math.Sqrt(float64(dx*dx + dy*dy))
			angle := math.Atan2(float64(dy), float64(dx))
			if angle < 0 {
				angle += 2 * math.Pi
			}

			relAngle := angle - theta
			for relAngle < 0 {
				relAngle += 2 * math.Pi
			}
			for relAngle >= 2*math.Pi {
				relAngle -= 2 * math.Pi
			}
			oBin := relAngle * binsPerRad

			weight := math.Exp(-(rRot*rRot + cRot*cRot) / (weightDenom * histWidth * histWidth))
			accumulateTrilinear(hist, rBin, cBin, oBin, weight*mag)
		}
	}

	return finalizeDescriptor(hist)
}

// accumulateTrilinear spreads one weighted sample across its eight
// neighboring (row, col, orientation) histogram bins, proportional to
// how close the sample's fractional bin coordinates sit to each.
func accumulateTrilinear(hist []float64, rBin, cBin, oBin, mag float64) {
	r0 := int(math.Floor(rBin))
	c0 := int(math.Floor(cBin))
	o0 := int(math.Floor(oBin))
	dr := rBin - float64(r0)
	dc := cBin - float64(c0)
	do := oBin - float64(o0)

	for _, ri := range [2]int{r0, r0 + 1} {
		if ri < 0 || ri >= descriptorGrid {
			continue
		}
		wr := 1 - dr
		if ri != r0 {
			wr = dr
		}
		for _, ci := range [2]int{c0, c0 + 1} {
			if ci < 0 || ci >= descriptorGrid {
				continue
			}
			wc := 1 - dc
			if ci != c0 {
				wc = dc
			}
			for _, oi := range [2]int{o0, o0 + 1} {
				wo := 1 - do
				if oi != o0 {
					wo = do
				}
				bin := ((oi % descriptorBins) + descriptorBins) % descriptorBins
				idx := (ri*descriptorGrid+ci)*descriptorBins + bin
				hist[idx] += mag * wr * wc * wo
			}
		}
	}
}

// finalizeDescriptor L2-normalizes hist, clips every component at
// descriptorClip to reduce the influence of large gradient outliers
// from non-linear illumination change, and re-normalizes.
func finalizeDescriptor(hist []float64) []float32 {
	normalizeL2(hist)
	for i, v := range hist {
		if v > descriptorClip {
			hist[i] = descriptorClip
		}
	}
	normalizeL2(hist)

	out := make([]float32, len(hist))
	for i, v := range hist {
		out[i] = float32(v)
	}
	return out
}

func normalizeL2(v []float64) {
	var sumSq float64
	for _, x := range v {
		sumSq += x * x
	}
	if sumSq <= 0 {
		return
	}
	norm := math.Sqrt(sumSq)
	for i := range v {
		v[i] /= norm
	}
}

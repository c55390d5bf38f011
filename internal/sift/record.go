package sift

// Keypoint is one oriented, refined SIFT detection: a sub-pixel
// location, the octave and absolute scale it was found at, a dominant
// orientation in radians, the interpolated DoG contrast at that
// location, and (if the descriptor stage ran) its 128-float appearance
// vector.
type Keypoint struct {
	Row        float64
	Col        float64
	Octave     int
	Sigma      float64
	Angle      float64
	Contrast   float64
	Descriptor []float32
}

// candidateRecord mirrors the 4-float packing local_maxmin writes into a
// candidate buffer: (v, row, col, scaleIndex). Octave association isn't
// carried in the tuple: one octave's DoG stack is scanned per call, so
// the caller already knows which octave a given buffer belongs to.
type candidateRecord struct {
	Value      float64
	Row, Col   float64
	ScaleIndex int
}

// refinedRecord mirrors the 4-float packing interp_keypoint writes into
// its output buffer, reusing the candidate slot's width: (peakval, row,
// col, sigmaAbs). A PeakVal of -1 marks a slot the refinement step
// discarded.
type refinedRecord struct {
	PeakVal  float64
	Row, Col float64
	SigmaAbs float64
	Valid    bool
}

// orientedRecord mirrors the 5-float packing orientation_assignment
// writes into its output buffer: the refined record extended with a
// dominant orientation angle in [0, 2*pi). A single location may appear
// more than once, once per histogram peak it produced.
type orientedRecord struct {
	PeakVal  float64
	Row, Col float64
	SigmaAbs float64
	Theta    float64
}

func decodeCandidates(data []float32, n int) []candidateRecord {
	out := make([]candidateRecord, 0, n)
	for i := 0; i < n; i++ {
		base := i * candidateStrideHost
		out = append(out, candidateRecord{
			Value:      float64(data[base+0]),
			Row:        float64(data[base+1]),
			Col:        float64(data[base+2]),
			ScaleIndex: int(data[base+3]),
		})
	}
	return out
}

func decodeRefined(data []float32, n int) []refinedRecord {
	out := make([]refinedRecord, 0, n)
	for i := 0; i < n; i++ {
		base := i * refinedStrideHost
		if data[base+0] == -1 && data[base+3] == -1 {
			out = append(out, refinedRecord{Valid: false})
			continue
		}
		out = append(out, refinedRecord{
			PeakVal:  float64(data[base+0]),
			Row:      float64(data[base+1]),
			Col:      float64(data[base+2]),
			SigmaAbs: float64(data[base+3]),
			Valid:    true,
		})
	}
	return out
}

func decodeOriented(data []float32, n int) []orientedRecord {
	out := make([]orientedRecord, 0, n)
	for i := 0; i < n; i++ {
		base := i * orientedStrideHost
		out = append(out, orientedRecord{
			PeakVal:  float64(data[base+0]),
			Row:      float64(data[base+1]),
			Col:      float64(data[base+2]),
			SigmaAbs: float64(data[base+3]),
			Theta:    float64(data[base+4]),
		})
	}
	return out
}

// candidateStrideHost, refinedStrideHost and orientedStrideHost must
// stay in lockstep with the candidateStride/refinedStride/orientedStride
// constants the compute/cpu kernel bundle packs its buffers with.
const (
	candidateStrideHost = 4
	refinedStrideHost   = 4
	orientedStrideHost  = 5
)

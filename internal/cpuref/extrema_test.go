package cpuref

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// flatPlane builds a rows x cols image that is constant except for one
// bump at (pr, pc), isolated enough not to trip the neighbor tests.
func flatPlane(rows, cols int, base, bump float64, pr, pc int) []float64 {
	out := make([]float64, rows*cols)
	for i := range out {
		out[i] = base
	}
	out[pr*cols+pc] = bump
	return out
}

func TestFindExtremaRejectsBelowPreFilter(t *testing.T) {
	rows, cols := 20, 20
	below := flatPlane(rows, cols, 0, 0, 10, 10)
	above := flatPlane(rows, cols, 0, 0, 10, 10)
	cur := flatPlane(rows, cols, 0, 0.1, 10, 10)

	cands := FindExtrema(below, cur, above, rows, cols, 2, 1.0, 0.09)
	require.Empty(t, cands, "0.1 must not clear 0.8*1.0")
}

func TestFindExtremaDetectsIsolatedMaximum(t *testing.T) {
	rows, cols := 20, 20
	below := flatPlane(rows, cols, 0, 0, 10, 10)
	above := flatPlane(rows, cols, 0, 0, 10, 10)
	cur := flatPlane(rows, cols, 0, 50, 10, 10)

	cands := FindExtrema(below, cur, above, rows, cols, 2, 1.0, 0.09)
	require.Len(t, cands, 1)
	require.Equal(t, 10, cands[0].Row)
	require.Equal(t, 10, cands[0].Col)
	require.InDelta(t, 50.0, cands[0].Value, 1e-9)
}

func TestFindExtremaRejectsEdgeLikeResponse(t *testing.T) {
	// A ridge along a column has near-zero curvature along the ridge and
	// sharp curvature across it: a highly anisotropic Hessian that the
	// edge-response test must reject regardless of its peak magnitude.
	// The ridge falls off slightly away from row 10, so (10, 10) is a
	// strict 3x3x3 maximum and only the edge-response test can reject it.
	rows, cols := 20, 20
	level := make([]float64, rows*cols)
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			if c == 10 {
				level[r*cols+c] = 50 - 0.01*float64((r-10)*(r-10))
			}
		}
	}
	below := make([]float64, rows*cols)
	above := make([]float64, rows*cols)

	cands := FindExtrema(below, level, above, rows, cols, 2, 1.0, 0.09)
	require.Empty(t, cands, "ridge must fail the edge-response test")
}

func TestFindExtremaRespectsBorder(t *testing.T) {
	rows, cols := 20, 20
	below := flatPlane(rows, cols, 0, 0, 1, 1)
	above := flatPlane(rows, cols, 0, 0, 1, 1)
	cur := flatPlane(rows, cols, 0, 50, 1, 1)

	cands := FindExtrema(below, cur, above, rows, cols, 5, 1.0, 0.09)
	require.Empty(t, cands, "a bump inside the border margin must never be scanned")
}

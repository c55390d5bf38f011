package sift

import (
	"context"
	"sort"
	"testing"

	"github.com/stretchr/testify/require"

	"siftgpu/internal/compute"
	"siftgpu/internal/compute/cpu"
	"siftgpu/internal/cpuref"
)

// toFloat64 and toFloat32 convert between the dispatched kernels'
// float32 buffers and the cpuref package's float64 arithmetic.
func toFloat64(v []float32) []float64 {
	out := make([]float64, len(v))
	for i, x := range v {
		out[i] = float64(x)
	}
	return out
}

func toFloat32(v []float64) []float32 {
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(x)
	}
	return out
}

// TestDispatchedExtremaMatchReferenceSet dispatches local_maxmin
// directly against a synthetic three-level DoG stack seeded with
// several isolated bumps, and checks the dispatched candidate set
// agrees with internal/cpuref.FindExtrema's independent implementation
// once both are sorted by (value, row, col), satisfying the round-trip
// law in the testable-properties list.
func TestDispatchedExtremaMatchReferenceSet(t *testing.T) {
	rows, cols := 40, 40
	below := flatPlaneF64(rows, cols, 0)
	above := flatPlaneF64(rows, cols, 0)
	cur := flatPlaneF64(rows, cols, 0)
	bumps := [][3]int{{10, 10, 40}, {25, 30, 35}, {30, 8, -45}}
	for _, b := range bumps {
		cur[b[0]*cols+b[1]] = float64(b[2])
	}

	peakThresh, edgeThresh := 1.0, 0.09
	border := 5

	refCands := cpuref.FindExtrema(below, cur, above, rows, cols, border, peakThresh, edgeThresh)

	backend := cpu.New(nil)
	t.Cleanup(backend.Teardown)
	ctx := context.Background()

	geom := compute.Shape{Rows: rows, Cols: cols}
	belowBuf, _ := backend.Alloc("below", geom)
	curBuf, _ := backend.Alloc("cur", geom)
	aboveBuf, _ := backend.Alloc("above", geom)
	require.NoError(t, backend.WriteFloats(belowBuf, toFloat32(below)))
	require.NoError(t, backend.WriteFloats(curBuf, toFloat32(cur)))
	require.NoError(t, backend.WriteFloats(aboveBuf, toFloat32(above)))

	candBuf, _ := backend.Alloc("candidates", compute.Shape{Rows: 1, Cols: 100 * candidateStrideHost})
	ctr, err := backend.NewCounter("counter")
	require.NoError(t, err)

	require.NoError(t, backend.Launch(ctx, "local_maxmin", geom,
		compute.BufArg(belowBuf), compute.BufArg(curBuf), compute.BufArg(aboveBuf),
		compute.BufArg(candBuf), compute.CounterArg(ctr), compute.IArg(100),
		compute.IArg(int32(border)), compute.FArg(float32(peakThresh)), compute.FArg(float32(edgeThresh)), compute.IArg(1)))

	count := int(ctr.Load())
	require.Equal(t, len(refCands), count, "dispatched and reference candidate counts must match")

	candData, err := backend.ReadFloats(candBuf)
	require.NoError(t, err)
	gotCands := decodeCandidates(candData, count)

	sort.Slice(refCands, func(i, j int) bool {
		if refCands[i].Value != refCands[j].Value {
			return refCands[i].Value < refCands[j].Value
		}
		if refCands[i].Row != refCands[j].Row {
			return refCands[i].Row < refCands[j].Row
		}
		return refCands[i].Col < refCands[j].Col
	})
	sort.Slice(gotCands, func(i, j int) bool {
		if gotCands[i].Value != gotCands[j].Value {
			return gotCands[i].Value < gotCands[j].Value
		}
		if gotCands[i].Row != gotCands[j].Row {
			return gotCands[i].Row < gotCands[j].Row
		}
		return gotCands[i].Col < gotCands[j].Col
	})
	for i := range refCands {
		require.InDelta(t, refCands[i].Value, gotCands[i].Value, 1e-4)
		require.InDelta(t, float64(refCands[i].Row), gotCands[i].Row, 1e-4)
		require.InDelta(t, float64(refCands[i].Col), gotCands[i].Col, 1e-4)
	}
}

func flatPlaneF64(rows, cols int, v float64) []float64 {
	out := make([]float64, rows*cols)
	for i := range out {
		out[i] = v
	}
	return out
}

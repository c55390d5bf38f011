package cpu

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	"siftgpu/internal/compute"
)

// TestOrientationAssignmentRecoversDominantGradientDirection runs the
// gradient precompute and orientation assignment over a pure horizontal
// ramp: every interior pixel's gradient points along +x, so the
// histogram collapses into one bin and the assigned orientation must
// come back as (close to) zero radians, with the keypoint's location
// fields carried through unchanged.
func TestOrientationAssignmentRecoversDominantGradientDirection(t *testing.T) {
	rows, cols := 32, 32
	src := make([]float32, rows*cols)
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			src[r*cols+c] = float32(2 * c)
		}
	}

	b := New(nil)
	t.Cleanup(b.Teardown)
	ctx := context.Background()
	geom := compute.Shape{Rows: rows, Cols: cols}

	srcBuf := uploaded(t, b, "src", geom, src)
	magBuf, err := b.Alloc("mag", geom)
	require.NoError(t, err)
	angleBuf, err := b.Alloc("angle", geom)
	require.NoError(t, err)
	require.NoError(t, b.Launch(ctx, "compute_gradient_orientation", geom,
		compute.BufArg(srcBuf), compute.BufArg(magBuf), compute.BufArg(angleBuf)))

	refined := []float32{5.0, 16, 16, 1.5}
	refinedBuf := uploaded(t, b, "refined", compute.Shape{Rows: 1, Cols: refinedStride}, refined)

	const capacity = 8
	orientedBuf, err := b.Alloc("oriented", compute.Shape{Rows: 1, Cols: capacity * orientedStride})
	require.NoError(t, err)
	ctr, err := b.NewCounter("oriented_counter")
	require.NoError(t, err)

	require.NoError(t, b.Launch(ctx, "orientation_assignment", compute.Shape{Rows: 1, Cols: 1},
		compute.BufArg(magBuf), compute.BufArg(angleBuf), compute.BufArg(refinedBuf), compute.BufArg(orientedBuf),
		compute.CounterArg(ctr), compute.IArg(capacity), compute.IArg(1), compute.IArg(int32(cols)),
		compute.FArg(4.5), compute.FArg(1.5), compute.FArg(0.8)))

	require.Equal(t, int32(1), ctr.Load(), "a single-direction field has exactly one histogram peak")

	out, err := b.ReadFloats(orientedBuf)
	require.NoError(t, err)
	require.InDelta(t, 5.0, float64(out[0]), 1e-6)
	require.InDelta(t, 16.0, float64(out[1]), 1e-6)
	require.InDelta(t, 16.0, float64(out[2]), 1e-6)
	require.InDelta(t, 1.5, float64(out[3]), 1e-6)

	theta := float64(out[4])
	diff := math.Min(theta, 2*math.Pi-theta)
	require.Less(t, diff, 0.1, "orientation must point along +x")
}

// TestOrientationAssignmentSkipsInvalidRecords feeds the sentinel
// record and expects nothing emitted.
func TestOrientationAssignmentSkipsInvalidRecords(t *testing.T) {
	rows, cols := 16, 16
	zero := make([]float32, rows*cols)

	b := New(nil)
	t.Cleanup(b.Teardown)
	geom := compute.Shape{Rows: rows, Cols: cols}
	magBuf := uploaded(t, b, "mag", geom, zero)
	angleBuf := uploaded(t, b, "angle", geom, zero)

	refined := []float32{-1, -1, -1, -1}
	refinedBuf := uploaded(t, b, "refined", compute.Shape{Rows: 1, Cols: refinedStride}, refined)
	orientedBuf, err := b.Alloc("oriented", compute.Shape{Rows: 1, Cols: 4 * orientedStride})
	require.NoError(t, err)
	ctr, err := b.NewCounter("ctr")
	require.NoError(t, err)

	require.NoError(t, b.Launch(context.Background(), "orientation_assignment", compute.Shape{Rows: 1, Cols: 1},
		compute.BufArg(magBuf), compute.BufArg(angleBuf), compute.BufArg(refinedBuf), compute.BufArg(orientedBuf),
		compute.CounterArg(ctr), compute.IArg(4), compute.IArg(1), compute.IArg(int32(cols)),
		compute.FArg(4.5), compute.FArg(1.5), compute.FArg(0.8)))

	require.Equal(t, int32(0), ctr.Load())
}

package cpu

import (
	"context"
	"math"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/require"

	"siftgpu/internal/compute"
	"siftgpu/internal/cpuref"
)

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

func uploaded(t *testing.T, b *Backend, name string, shape compute.Shape, data []float32) compute.Buffer {
	t.Helper()
	buf, err := b.Alloc(name, shape)
	require.NoError(t, err)
	require.NoError(t, b.WriteFloats(buf, data))
	return buf
}

// TestSeparableConvolutionMatchesReference dispatches the horizontal
// then vertical convolution kernels over uniform random floats and
// checks the result against internal/cpuref's reflect-boundary CPU
// convolution.
func TestSeparableConvolutionMatchesReference(t *testing.T) {
	rows, cols := 15, 14
	rnd := rand.New(rand.NewPCG(11, 12))
	src := make([]float32, rows*cols)
	for i := range src {
		src[i] = rnd.Float32()
	}

	taps64 := cpuref.GaussianTaps(1.0)
	want := cpuref.ConvolveSeparable(toFloat64(src), rows, cols, taps64)

	b := New(nil)
	t.Cleanup(b.Teardown)
	ctx := context.Background()
	geom := compute.Shape{Rows: rows, Cols: cols}

	srcBuf := uploaded(t, b, "src", geom, src)
	taps := toFloat32(taps64)
	tapBuf := uploaded(t, b, "taps", compute.Shape{Rows: 1, Cols: len(taps)}, taps)
	scratch, err := b.Alloc("scratch", geom)
	require.NoError(t, err)
	dst, err := b.Alloc("dst", geom)
	require.NoError(t, err)

	radius := int32(len(taps) / 2)
	require.NoError(t, b.Launch(ctx, "horizontal_convolution", geom,
		compute.BufArg(srcBuf), compute.BufArg(scratch), compute.BufArg(tapBuf), compute.IArg(radius)))
	require.NoError(t, b.Launch(ctx, "vertical_convolution", geom,
		compute.BufArg(scratch), compute.BufArg(dst), compute.BufArg(tapBuf), compute.IArg(radius)))

	got, err := b.ReadFloats(dst)
	require.NoError(t, err)
	for i := range want {
		require.InDelta(t, want[i], float64(got[i]), 1e-4, "pixel %d", i)
	}
}

// TestGradientOrientationKernelMatchesReference checks the dispatched
// centered-difference gradient against internal/cpuref on random input.
// Angles are compared circularly so a value straddling the 0/2*pi wrap
// doesn't report a spurious 2*pi error.
func TestGradientOrientationKernelMatchesReference(t *testing.T) {
	rows, cols := 13, 12
	rnd := rand.New(rand.NewPCG(21, 22))
	src := make([]float32, rows*cols)
	for i := range src {
		src[i] = rnd.Float32()*2 - 1
	}

	wantMag, wantAngle := cpuref.GradientOrientation(toFloat64(src), rows, cols)

	b := New(nil)
	t.Cleanup(b.Teardown)
	geom := compute.Shape{Rows: rows, Cols: cols}
	srcBuf := uploaded(t, b, "src", geom, src)
	magBuf, err := b.Alloc("mag", geom)
	require.NoError(t, err)
	angleBuf, err := b.Alloc("angle", geom)
	require.NoError(t, err)

	require.NoError(t, b.Launch(context.Background(), "compute_gradient_orientation", geom,
		compute.BufArg(srcBuf), compute.BufArg(magBuf), compute.BufArg(angleBuf)))

	gotMag, err := b.ReadFloats(magBuf)
	require.NoError(t, err)
	gotAngle, err := b.ReadFloats(angleBuf)
	require.NoError(t, err)

	for i := range wantMag {
		require.InDelta(t, wantMag[i], float64(gotMag[i]), 1e-4, "mag %d", i)
		diff := math.Abs(wantAngle[i] - float64(gotAngle[i]))
		if diff > math.Pi {
			diff = 2*math.Pi - diff
		}
		require.Less(t, diff, 1e-4, "angle %d", i)
	}
}

// paraboloidStack32 builds three DoG levels where cur is an exact 2-D
// paraboloid peaking at (rc, cc); below and above sit a constant m
// lower, giving a clean scale-axis curvature.
func paraboloidStack32(rows, cols int, base, rc, cc, m float64) (below, cur, above []float32) {
	cur = make([]float32, rows*cols)
	below = make([]float32, rows*cols)
	above = make([]float32, rows*cols)
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			v := base - (float64(r)-rc)*(float64(r)-rc) - (float64(c)-cc)*(float64(c)-cc)
			idx := r*cols + c
			cur[idx] = float32(v)
			below[idx] = float32(v - m)
			above[idx] = float32(v - m)
		}
	}
	return below, cur, above
}

// TestInterpKeypointMatchesReferenceRefinement dispatches the
// interp_keypoint kernel over a fixed synthetic DoG stack and checks
// the refined record against internal/cpuref.Refine on the same
// (float32-rounded) data.
func TestInterpKeypointMatchesReferenceRefinement(t *testing.T) {
	rows, cols := 11, 11
	below, cur, above := paraboloidStack32(rows, cols, 2.0, 5.3, 4.8, 0.5)

	const (
		border     = 2
		moveBudget = 5
		peakThresh = 0.5
		scaleIdx   = 1
		initSigma  = 1.6
		scales     = 3
	)

	want := cpuref.Refine(toFloat64(below), toFloat64(cur), toFloat64(above),
		5, 5, rows, cols, border, moveBudget, peakThresh)
	require.True(t, want.Ok)

	b := New(nil)
	t.Cleanup(b.Teardown)
	ctx := context.Background()
	geom := compute.Shape{Rows: rows, Cols: cols}

	belowBuf := uploaded(t, b, "below", geom, below)
	curBuf := uploaded(t, b, "cur", geom, cur)
	aboveBuf := uploaded(t, b, "above", geom, above)

	cand := make([]float32, candidateStride)
	cand[0] = cur[5*cols+5]
	cand[1], cand[2], cand[3] = 5, 5, scaleIdx
	candBuf := uploaded(t, b, "candidates", compute.Shape{Rows: 1, Cols: candidateStride}, cand)
	refinedBuf, err := b.Alloc("refined", compute.Shape{Rows: 1, Cols: refinedStride})
	require.NoError(t, err)

	require.NoError(t, b.Launch(ctx, "interp_keypoint", compute.Shape{Rows: 1, Cols: 1},
		compute.BufArg(belowBuf), compute.BufArg(curBuf), compute.BufArg(aboveBuf),
		compute.BufArg(candBuf), compute.BufArg(refinedBuf), compute.IArg(1),
		compute.IArg(moveBudget), compute.FArg(peakThresh), compute.IArg(border),
		compute.IArg(int32(cols)), compute.FArg(initSigma), compute.IArg(scales)))

	got, err := b.ReadFloats(refinedBuf)
	require.NoError(t, err)

	require.InDelta(t, want.PeakVal, float64(got[0]), 1e-4)
	require.InDelta(t, want.Row, float64(got[1]), 1e-4)
	require.InDelta(t, want.Col, float64(got[2]), 1e-4)
	wantSigma := initSigma * math.Pow(2, (scaleIdx+want.ScaleOff)/scales)
	require.InDelta(t, wantSigma, float64(got[3]), 1e-4)
}

// TestInterpKeypointMarksRejectedCandidatesInvalid feeds a flat stack
// whose Hessian is singular and expects the sentinel record back.
func TestInterpKeypointMarksRejectedCandidatesInvalid(t *testing.T) {
	rows, cols := 11, 11
	flat := make([]float32, rows*cols)
	for i := range flat {
		flat[i] = 1
	}

	b := New(nil)
	t.Cleanup(b.Teardown)
	geom := compute.Shape{Rows: rows, Cols: cols}
	belowBuf := uploaded(t, b, "below", geom, flat)
	curBuf := uploaded(t, b, "cur", geom, flat)
	aboveBuf := uploaded(t, b, "above", geom, flat)

	cand := []float32{1, 5, 5, 1}
	candBuf := uploaded(t, b, "candidates", compute.Shape{Rows: 1, Cols: candidateStride}, cand)
	refinedBuf, err := b.Alloc("refined", compute.Shape{Rows: 1, Cols: refinedStride})
	require.NoError(t, err)

	require.NoError(t, b.Launch(context.Background(), "interp_keypoint", compute.Shape{Rows: 1, Cols: 1},
		compute.BufArg(belowBuf), compute.BufArg(curBuf), compute.BufArg(aboveBuf),
		compute.BufArg(candBuf), compute.BufArg(refinedBuf), compute.IArg(1),
		compute.IArg(5), compute.FArg(0.01), compute.IArg(2),
		compute.IArg(int32(cols)), compute.FArg(1.6), compute.IArg(3)))

	got, err := b.ReadFloats(refinedBuf)
	require.NoError(t, err)
	require.Equal(t, []float32{-1, -1, -1, -1}, got)
}

// TestMinMaxReduction pins the read-back reduction rescaling depends on.
func TestMinMaxReduction(t *testing.T) {
	b := New(nil)
	t.Cleanup(b.Teardown)
	buf := uploaded(t, b, "buf", compute.Shape{Rows: 2, Cols: 3}, []float32{4, -2, 7, 0, 3, 1})

	min, max, err := b.MinMax(buf)
	require.NoError(t, err)
	require.Equal(t, float32(-2), min)
	require.Equal(t, float32(7), max)
}

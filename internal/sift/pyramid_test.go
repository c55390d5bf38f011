package sift

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"siftgpu/internal/compute/cpu"
	"siftgpu/internal/computil/buffers"
	"siftgpu/internal/logger"
)

func TestOctaveCountDropsLastCountedOctave(t *testing.T) {
	// border=5 => minSize=12. The halving loop counts 256,128,64,32,16
	// (5 shapes exceeding 12; it stops at 8), then the final pop drops
	// one, leaving 4.
	require.Equal(t, 4, octaveCount(256, 256, 5))
	require.Equal(t, 0, octaveCount(12, 12, 5), "a base shape that never clears minSize must not go negative")
}

func TestOctaveCountNonSquareUsesSmallerDimension(t *testing.T) {
	require.Equal(t, octaveCount(64, 64, 5), octaveCount(64, 512, 5))
}

func TestPyramidBuildProducesExpectedLevelCounts(t *testing.T) {
	backend := cpu.New(nil)
	t.Cleanup(backend.Teardown)
	reg := buffers.New(backend, logger.Nop{})
	t.Cleanup(reg.Teardown)

	params, err := NewParams()
	require.NoError(t, err)

	img := gaussianBlobImage(128, 128, 64, 64, 3, 180)
	pyr, err := newPyramidBuilder(backend, reg, params, nil).Build(context.Background(), img)
	require.NoError(t, err)
	require.Greater(t, pyr.Octaves, 0)

	for o := 0; o < pyr.Octaves; o++ {
		for i := 0; i <= params.Scales+2; i++ {
			_, ok := pyr.Gaussian(o, i)
			require.True(t, ok, "missing gaussian o=%d i=%d", o, i)
		}
		for i := 0; i <= params.Scales+1; i++ {
			_, ok := pyr.DoG(o, i)
			require.True(t, ok, "missing dog o=%d i=%d", o, i)
		}
	}
}

func TestPyramidDoGEqualsGaussianDifference(t *testing.T) {
	backend := cpu.New(nil)
	t.Cleanup(backend.Teardown)
	reg := buffers.New(backend, logger.Nop{})
	t.Cleanup(reg.Teardown)

	params, err := NewParams()
	require.NoError(t, err)

	img := gaussianBlobImage(64, 64, 32, 32, 2, 180)
	pyr, err := newPyramidBuilder(backend, reg, params, nil).Build(context.Background(), img)
	require.NoError(t, err)

	for i := 0; i <= params.Scales+1; i++ {
		gCur, ok := pyr.Gaussian(0, i)
		require.True(t, ok)
		gNext, ok := pyr.Gaussian(0, i+1)
		require.True(t, ok)
		dog, ok := pyr.DoG(0, i)
		require.True(t, ok)

		curData, err := backend.ReadFloats(gCur)
		require.NoError(t, err)
		nextData, err := backend.ReadFloats(gNext)
		require.NoError(t, err)
		dogData, err := backend.ReadFloats(dog)
		require.NoError(t, err)

		for idx := range dogData {
			want := nextData[idx] - curData[idx]
			require.InDelta(t, want, dogData[idx], 1e-4)
		}
	}
}

package sift

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestImageValidateDetectsShapeMismatch(t *testing.T) {
	img := Image{Rows: 4, Cols: 4, Type: PixelF32, Data: make([]float32, 10)}
	err := img.validate()
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrShapeMismatch))
}

func TestImageValidateAccountsForRGBTripleWidth(t *testing.T) {
	img := Image{Rows: 2, Cols: 3, Type: PixelRGB, Data: make([]float32, 2*3*3)}
	require.NoError(t, img.validate())

	short := Image{Rows: 2, Cols: 3, Type: PixelRGB, Data: make([]float32, 2*3)}
	require.Error(t, short.validate())
}

func TestPixelTypeKernelForEveryDType(t *testing.T) {
	cases := map[PixelType]string{
		PixelU8:  "u8_to_float",
		PixelU16: "u16_to_float",
		PixelS32: "s32_to_float",
		PixelS64: "s64_to_float",
		PixelF32: "u8_to_float",
		PixelRGB: "rgb_to_float",
	}
	for dtype, want := range cases {
		got, err := dtype.kernelFor()
		require.NoError(t, err)
		require.Equal(t, want, got)
	}
}

func TestPixelTypeKernelForUnknownDTypeErrors(t *testing.T) {
	_, err := PixelType(99).kernelFor()
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrUnsupportedDType))
}

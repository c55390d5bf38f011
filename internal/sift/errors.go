package sift

import (
	"errors"
	"fmt"
)

var (
	// ErrUnsupportedDType is returned when an Image's pixel type maps to
	// none of the preprocessing kernels (see PixelType.kernelFor).
	ErrUnsupportedDType = errors.New("sift: unsupported pixel dtype")

	// ErrShapeMismatch is returned when an image's declared Rows/Cols
	// disagree with the length of its backing data.
	ErrShapeMismatch = errors.New("sift: image shape does not match data length")

	// ErrAllocationFailed wraps a buffer registry or compute.Context
	// allocation failure encountered while a Keypoints call allocates
	// its buffers.
	ErrAllocationFailed = errors.New("sift: buffer allocation failed")

	// ErrTooSmall is returned when an input image is too small to seed a
	// single octave at the configured BorderDist.
	ErrTooSmall = errors.New("sift: image smaller than minimum pyramid size")
)

// wrapAlloc tags a buffer allocation failure so callers can match it
// with errors.Is(err, ErrAllocationFailed) regardless of which stage's
// allocation fell over.
func wrapAlloc(err error) error {
	return fmt.Errorf("%w: %w", ErrAllocationFailed, err)
}

package sift

import (
	"fmt"

	"gocv.io/x/gocv"
)

// PixelType names the dtype of an Image's backing data; each value
// dispatches to its own upconversion kernel in the compute backend.
type PixelType int

const (
	PixelU8 PixelType = iota
	PixelU16
	PixelS32
	PixelS64
	PixelF32
	PixelRGB
)

// kernelFor names the preprocessing kernel that upconverts this dtype to
// the pipeline's float32 working buffer.
func (t PixelType) kernelFor() (string, error) {
	switch t {
	case PixelU8:
		return "u8_to_float", nil
	case PixelU16:
		return "u16_to_float", nil
	case PixelS32:
		return "s32_to_float", nil
	case PixelS64:
		return "s64_to_float", nil
	case PixelF32:
		return "u8_to_float", nil // identity cast, same copy kernel
	case PixelRGB:
		return "rgb_to_float", nil
	default:
		return "", fmt.Errorf("%w: %d", ErrUnsupportedDType, t)
	}
}

// Image is the host-side description of one pipeline input: row-major
// pixel data of a declared dtype, plus the shape it claims to have.
// RGB images carry three interleaved channels per pixel (Cols*3 floats
// per row); every other dtype is single-channel.
type Image struct {
	Rows, Cols int
	Type       PixelType
	Data       []float32
}

func (img Image) validate() error {
	expected := img.Rows * img.Cols
	if img.Type == PixelRGB {
		expected *= 3
	}
	if len(img.Data) != expected {
		return fmt.Errorf("%w: rows=%d cols=%d type=%d data_len=%d", ErrShapeMismatch, img.Rows, img.Cols, img.Type, len(img.Data))
	}
	return nil
}

// LoadImage decodes image bytes via gocv and returns a single-channel
// Image of PixelU8 pixel values packed into float32 (grayscale, the
// detector's default single-channel input).
func LoadImage(data []byte) (Image, error) {
	mat, err := gocv.IMDecode(data, gocv.IMReadGrayScale)
	if err != nil {
		return Image{}, fmt.Errorf("sift: decode image: %w", err)
	}
	defer mat.Close()

	rows, cols := mat.Rows(), mat.Cols()
	out := make([]float32, rows*cols)
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			out[r*cols+c] = float32(mat.GetUCharAt(r, c))
		}
	}

	return Image{Rows: rows, Cols: cols, Type: PixelU8, Data: out}, nil
}

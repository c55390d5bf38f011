package cpu

import (
	"fmt"

	"siftgpu/internal/compute"
)

// defaultKernels returns the named entry-point bundle the detection
// pipeline dispatches by name. A real GPU backend would compile
// equivalent kernels from an externally supplied .cl/.ptx source set;
// here each entry is a Go closure over the Backend's buffer table.
func defaultKernels() map[string]KernelFunc {
	return map[string]KernelFunc{
		"u8_to_float":                  castToFloat,
		"u16_to_float":                 castToFloat,
		"s32_to_float":                 castToFloat,
		"s64_to_float":                 castToFloat,
		"rgb_to_float":                 rgbToFloat,
		"normalizes":                   normalizes,
		"horizontal_convolution":       horizontalConvolution,
		"vertical_convolution":         verticalConvolution,
		"combine":                      combine,
		"shrink":                       shrink,
		"local_maxmin":                 localMaxMin,
		"interp_keypoint":              interpKeypoint,
		"compute_gradient_orientation": computeGradientOrientation,
		"orientation_assignment":       orientationAssignment,
	}
}

func (b *Backend) bufferArg(args []compute.Arg, idx int) (*bufferData, error) {
	if idx >= len(args) {
		return nil, fmt.Errorf("compute/cpu: missing argument %d", idx)
	}
	buf, ok := args[idx].Buffer()
	if !ok {
		return nil, fmt.Errorf("compute/cpu: argument %d is not a buffer", idx)
	}
	return b.bufferFor(buf)
}

func floatArg(args []compute.Arg, idx int) (float32, error) {
	if idx >= len(args) {
		return 0, fmt.Errorf("compute/cpu: missing argument %d", idx)
	}
	v, ok := args[idx].Float()
	if !ok {
		return 0, fmt.Errorf("compute/cpu: argument %d is not a float", idx)
	}
	return v, nil
}

func intArg(args []compute.Arg, idx int) (int32, error) {
	if idx >= len(args) {
		return 0, fmt.Errorf("compute/cpu: missing argument %d", idx)
	}
	v, ok := args[idx].Int()
	if !ok {
		return 0, fmt.Errorf("compute/cpu: argument %d is not an int", idx)
	}
	return v, nil
}

func counterArg(args []compute.Arg, idx int) (compute.Counter, error) {
	if idx >= len(args) {
		return nil, fmt.Errorf("compute/cpu: missing argument %d", idx)
	}
	c, ok := args[idx].CounterVal()
	if !ok {
		return nil, fmt.Errorf("compute/cpu: argument %d is not a counter", idx)
	}
	return c, nil
}

// castToFloat implements the u8_to_float/u16_to_float/s32_to_float/
// s64_to_float entry points. The host already packs each source dtype
// into the raw buffer's float32 representation on upload (this backend
// has no typed device buffers — every buffer here is float32
// throughout); the kernel's job is purely the identity copy that on a
// real device would additionally reinterpret the byte layout.
func castToFloat(b *Backend, global compute.Shape, args []compute.Arg) error {
	raw, err := b.bufferArg(args, 0)
	if err != nil {
		return err
	}
	out, err := b.bufferArg(args, 1)
	if err != nil {
		return err
	}
	raw.mu.RLock()
	defer raw.mu.RUnlock()
	out.mu.Lock()
	defer out.mu.Unlock()
	parallelRows(global.Rows, b.workers, func(r int) {
		rowStart := r * global.Cols
		copy(out.data[rowStart:rowStart+global.Cols], raw.data[rowStart:rowStart+global.Cols])
	})
	return nil
}

// rgbToFloat collapses an interleaved 3-channel raw buffer (shape
// rows x cols*3) into luminance using ITU-R BT.601 weights.
func rgbToFloat(b *Backend, global compute.Shape, args []compute.Arg) error {
	raw, err := b.bufferArg(args, 0)
	if err != nil {
		return err
	}
	out, err := b.bufferArg(args, 1)
	if err != nil {
		return err
	}
	raw.mu.RLock()
	defer raw.mu.RUnlock()
	out.mu.Lock()
	defer out.mu.Unlock()
	parallelRows(global.Rows, b.workers, func(r int) {
		for c := 0; c < global.Cols; c++ {
			base := (r*global.Cols + c) * 3
			rVal, gVal, bVal := raw.data[base], raw.data[base+1], raw.data[base+2]
			out.data[r*global.Cols+c] = 0.299*rVal + 0.587*gVal + 0.114*bVal
		}
	})
	return nil
}

// normalizes rescales buf in place from the observed [min, max] range to
// [0, target]. Applied unconditionally after upload regardless of source
// dtype, including float32 input (see DESIGN.md for the rationale).
func normalizes(b *Backend, global compute.Shape, args []compute.Arg) error {
	buf, err := b.bufferArg(args, 0)
	if err != nil {
		return err
	}
	minVal, err := floatArg(args, 1)
	if err != nil {
		return err
	}
	maxVal, err := floatArg(args, 2)
	if err != nil {
		return err
	}
	target, err := floatArg(args, 3)
	if err != nil {
		return err
	}

	span := maxVal - minVal
	buf.mu.Lock()
	defer buf.mu.Unlock()
	parallelRows(global.Rows, b.workers, func(r int) {
		rowStart := r * global.Cols
		for c := 0; c < global.Cols; c++ {
			if span <= 0 {
				buf.data[rowStart+c] = 0
				continue
			}
			buf.data[rowStart+c] = (buf.data[rowStart+c] - minVal) / span * target
		}
	})
	return nil
}

// MinMax computes the observed range of buf. This is a read-back
// reduction: one of the few points where the host blocks on a device
// fence instead of simply enqueuing the next kernel.
func (b *Backend) MinMax(buf compute.Buffer) (min, max float32, err error) {
	bd, err := b.bufferFor(buf)
	if err != nil {
		return 0, 0, err
	}
	bd.mu.RLock()
	defer bd.mu.RUnlock()
	if len(bd.data) == 0 {
		return 0, 0, fmt.Errorf("compute/cpu: empty buffer")
	}
	min, max = bd.data[0], bd.data[0]
	for _, v := range bd.data[1:] {
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
	}
	return min, max, nil
}

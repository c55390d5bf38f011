package cpu

import (
	"siftgpu/internal/compute"
)

// horizontalConvolution and verticalConvolution implement the two
// separable passes of Gaussian blurring: a horizontal pass then a
// vertical pass. Both use reflect boundary handling at the edges
// (mirroring the sample index without repeating the edge pixel),
// matching the reference convolution in internal/cpuref.
//
// Argument order: (src, dst, taps) with taps uploaded as a 1-row buffer,
// plus a radius scalar.
func horizontalConvolution(b *Backend, global compute.Shape, args []compute.Arg) error {
	src, err := b.bufferArg(args, 0)
	if err != nil {
		return err
	}
	dst, err := b.bufferArg(args, 1)
	if err != nil {
		return err
	}
	taps, err := b.bufferArg(args, 2)
	if err != nil {
		return err
	}
	radius, err := intArg(args, 3)
	if err != nil {
		return err
	}

	src.mu.RLock()
	taps.mu.RLock()
	defer src.mu.RUnlock()
	defer taps.mu.RUnlock()
	dst.mu.Lock()
	defer dst.mu.Unlock()

	cols := global.Cols
	r := int(radius)
	tapData := taps.data

	parallelRows(global.Rows, b.workers, func(row int) {
		rowBase := row * cols
		for c := 0; c < cols; c++ {
			var acc float32
			for k := -r; k <= r; k++ {
				sc := reflectIndex(c+k, cols)
				acc += src.data[rowBase+sc] * tapData[k+r]
			}
			dst.data[rowBase+c] = acc
		}
	})
	return nil
}

func verticalConvolution(b *Backend, global compute.Shape, args []compute.Arg) error {
	src, err := b.bufferArg(args, 0)
	if err != nil {
		return err
	}
	dst, err := b.bufferArg(args, 1)
	if err != nil {
		return err
	}
	taps, err := b.bufferArg(args, 2)
	if err != nil {
		return err
	}
	radius, err := intArg(args, 3)
	if err != nil {
		return err
	}

	src.mu.RLock()
	taps.mu.RLock()
	defer src.mu.RUnlock()
	defer taps.mu.RUnlock()
	dst.mu.Lock()
	defer dst.mu.Unlock()

	rows := global.Rows
	cols := global.Cols
	r := int(radius)
	tapData := taps.data

	parallelRows(rows, b.workers, func(row int) {
		for c := 0; c < cols; c++ {
			var acc float32
			for k := -r; k <= r; k++ {
				sr := reflectIndex(row+k, rows)
				acc += src.data[sr*cols+c] * tapData[k+r]
			}
			dst.data[row*cols+c] = acc
		}
	})
	return nil
}

// reflectIndex maps an out-of-range index back into [0, n) by mirroring
// at the border, the same "reflect 101" convention gocv/OpenCV uses for
// BorderReflect101.
func reflectIndex(i, n int) int {
	if n == 1 {
		return 0
	}
	for i < 0 || i >= n {
		if i < 0 {
			i = -i
		}
		if i >= n {
			i = 2*n - i - 2
		}
	}
	return i
}

// combine computes dst = alphaA*a + alphaB*b element-wise, used both to
// take the Difference-of-Gaussians (alphaA=1, alphaB=-1) and, with
// alphaB=0, to copy the pyramid's base level.
func combine(b *Backend, global compute.Shape, args []compute.Arg) error {
	a, err := b.bufferArg(args, 0)
	if err != nil {
		return err
	}
	bb, err := b.bufferArg(args, 1)
	if err != nil {
		return err
	}
	dst, err := b.bufferArg(args, 2)
	if err != nil {
		return err
	}
	alphaA, err := floatArg(args, 3)
	if err != nil {
		return err
	}
	alphaB, err := floatArg(args, 4)
	if err != nil {
		return err
	}

	// The copy-base-level call passes the same buffer as both sources;
	// taking its read lock twice would deadlock against a queued writer.
	a.mu.RLock()
	defer a.mu.RUnlock()
	if bb != a {
		bb.mu.RLock()
		defer bb.mu.RUnlock()
	}
	dst.mu.Lock()
	defer dst.mu.Unlock()

	parallelRows(global.Rows, b.workers, func(row int) {
		base := row * global.Cols
		for c := 0; c < global.Cols; c++ {
			dst.data[base+c] = alphaA*a.data[base+c] + alphaB*bb.data[base+c]
		}
	})
	return nil
}

// shrink decimates src by 2 along both axes by nearest-sample rather
// than box-filtering, since the source has already been Gaussian-blurred
// at the octave's final scale before this call.
func shrink(b *Backend, global compute.Shape, args []compute.Arg) error {
	src, err := b.bufferArg(args, 0)
	if err != nil {
		return err
	}
	dst, err := b.bufferArg(args, 1)
	if err != nil {
		return err
	}
	srcCols, err := intArg(args, 2)
	if err != nil {
		return err
	}

	src.mu.RLock()
	defer src.mu.RUnlock()
	dst.mu.Lock()
	defer dst.mu.Unlock()

	sc := int(srcCols)
	parallelRows(global.Rows, b.workers, func(row int) {
		srcRow := row * 2
		dstBase := row * global.Cols
		srcBase := srcRow * sc
		for c := 0; c < global.Cols; c++ {
			dst.data[dstBase+c] = src.data[srcBase+c*2]
		}
	})
	return nil
}

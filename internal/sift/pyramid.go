package sift

import (
	"context"
	"fmt"

	"siftgpu/internal/compute"
	"siftgpu/internal/computil/buffers"
	"siftgpu/internal/logger"
)

// octaveShape is the (rows, cols) geometry one octave's levels share.
type octaveShape struct {
	Rows, Cols int
}

// octaveCount returns the number of octaves built for an image of the
// given base shape: starting from (rows, cols) and halving both
// dimensions each step, count every shape whose smaller dimension
// exceeds 2*border+2, then drop the last (smallest) one counted, so the
// smallest octave kept is never the one closest to the minimum size.
func octaveCount(rows, cols, border int) int {
	minSize := 2*border + 2
	count := 0
	r, c := rows, cols
	for min(r, c) > minSize {
		count++
		r, c = r/2, c/2
	}
	count--
	if count < 0 {
		count = 0
	}
	return count
}

// Pyramid is the built set of Gaussian and Difference-of-Gaussian
// buffers for one image: Octaves octaves, each with Scales+3 Gaussian
// levels (index 0..Scales+2) and Scales+2 DoG levels (index 0..Scales+1).
type Pyramid struct {
	Octaves int
	Shapes  []octaveShape
	gauss   map[buffers.Key]compute.Buffer
	dog     map[buffers.Key]compute.Buffer
}

// Gaussian returns the Gaussian-level buffer for (octave, level).
func (p *Pyramid) Gaussian(octave, level int) (compute.Buffer, bool) {
	buf, ok := p.gauss[buffers.Key{Octave: octave, Level: level, Kind: buffers.KindGaussian}]
	return buf, ok
}

// DoG returns the Difference-of-Gaussian level buffer for (octave, level).
func (p *Pyramid) DoG(octave, level int) (compute.Buffer, bool) {
	buf, ok := p.dog[buffers.Key{Octave: octave, Level: level, Kind: buffers.KindDoG}]
	return buf, ok
}

// pyramidBuilder holds the collaborators needed to build a Pyramid:
// the compute backend, the buffer registry tracking everything it
// allocates, the frozen parameter set, and the Gaussian tap cache shared
// across every blur this build issues.
type pyramidBuilder struct {
	ctx    compute.Context
	reg    *buffers.Registry
	params Params
	taps   *gaussianTapCache
	tapBuf map[float64]compute.Buffer
	log    logger.Logger
}

func newPyramidBuilder(ctx compute.Context, reg *buffers.Registry, params Params, log logger.Logger) *pyramidBuilder {
	if log == nil {
		log = logger.Nop{}
	}
	return &pyramidBuilder{
		ctx:    ctx,
		reg:    reg,
		params: params,
		taps:   newGaussianTapCache(),
		tapBuf: make(map[float64]compute.Buffer),
		log:    log,
	}
}

// Build converts, rescales, and blurs img into a complete Pyramid,
// dispatching every step through the builder's compute.Context.
func (pb *pyramidBuilder) Build(ctx context.Context, img Image) (*Pyramid, error) {
	if err := img.validate(); err != nil {
		return nil, err
	}

	rows, cols := img.Rows, img.Cols
	border := pb.params.BorderDist
	octaves := octaveCount(rows, cols, border)
	if octaves <= 0 {
		return nil, fmt.Errorf("%w: image %dx%d too small for BorderDist=%d", ErrTooSmall, rows, cols, border)
	}

	rawCols := cols
	if img.Type == PixelRGB {
		rawCols = cols * 3
	}
	raw, err := pb.reg.Alloc("raw", compute.Shape{Rows: rows, Cols: rawCols})
	if err != nil {
		return nil, wrapAlloc(err)
	}
	if err := pb.ctx.WriteFloats(raw, img.Data); err != nil {
		return nil, fmt.Errorf("sift: upload raw image: %w", err)
	}

	working, err := pb.reg.Alloc("working", compute.Shape{Rows: rows, Cols: cols})
	if err != nil {
		return nil, wrapAlloc(err)
	}
	castKernel, err := img.Type.kernelFor()
	if err != nil {
		return nil, err
	}
	if err := pb.ctx.Launch(ctx, castKernel, compute.Shape{Rows: rows, Cols: cols}, compute.BufArg(raw), compute.BufArg(working)); err != nil {
		return nil, fmt.Errorf("sift: convert to float: %w", err)
	}

	if err := pb.rescale(ctx, working, rows, cols); err != nil {
		return nil, err
	}

	pb.log.Debug("pyramid", "octave count computed", map[string]interface{}{
		"rows": rows, "cols": cols, "octaves": octaves, "border": border,
	})

	p := &Pyramid{
		Octaves: octaves,
		Shapes:  make([]octaveShape, octaves),
		gauss:   make(map[buffers.Key]compute.Buffer),
		dog:     make(map[buffers.Key]compute.Buffer),
	}

	shape := octaveShape{Rows: rows, Cols: cols}
	curSigma := pb.params.curSigma()
	base0Key := buffers.Key{Octave: 0, Level: 0, Kind: buffers.KindGaussian}
	if pb.params.InitSigma > curSigma {
		sigma := sqrtDiffSquares(pb.params.InitSigma, curSigma)
		base0, err := pb.blur(ctx, working, shape, sigma, base0Key)
		if err != nil {
			return nil, err
		}
		p.gauss[base0Key] = base0
	} else {
		base0, err := pb.copyInto(ctx, working, shape, base0Key)
		if err != nil {
			return nil, err
		}
		p.gauss[base0Key] = base0
	}

	ratio := sigmaRatio(pb.params.Scales)
	for o := 0; o < octaves; o++ {
		p.Shapes[o] = shape

		prevSigma := pb.params.InitSigma
		for i := 0; i <= pb.params.Scales+1; i++ {
			incSigma := prevSigma * sqrtRatioMinusOne(ratio)
			gKey := buffers.Key{Octave: o, Level: i + 1, Kind: buffers.KindGaussian}
			srcKey := buffers.Key{Octave: o, Level: i, Kind: buffers.KindGaussian}
			src, ok := p.gauss[srcKey]
			if !ok {
				return nil, fmt.Errorf("sift: missing gaussian level o=%d i=%d", o, i)
			}
			dst, err := pb.blur(ctx, src, shape, incSigma, gKey)
			if err != nil {
				return nil, err
			}
			p.gauss[gKey] = dst

			dogKey := buffers.Key{Octave: o, Level: i, Kind: buffers.KindDoG}
			dogBuf, err := pb.reg.AllocKeyed(dogKey, compute.Shape{Rows: shape.Rows, Cols: shape.Cols})
			if err != nil {
				return nil, wrapAlloc(err)
			}
			if err := pb.ctx.Launch(ctx, "combine", compute.Shape{Rows: shape.Rows, Cols: shape.Cols},
				compute.BufArg(dst), compute.BufArg(src), compute.BufArg(dogBuf), compute.FArg(1), compute.FArg(-1)); err != nil {
				return nil, fmt.Errorf("sift: compute DoG o=%d i=%d: %w", o, i, err)
			}
			p.dog[dogKey] = dogBuf

			prevSigma *= ratio
		}

		if o+1 < octaves {
			seedKey := buffers.Key{Octave: o, Level: pb.params.Scales, Kind: buffers.KindGaussian}
			seed, ok := p.gauss[seedKey]
			if !ok {
				return nil, fmt.Errorf("sift: missing decimation seed o=%d", o)
			}
			nextShape := octaveShape{Rows: shape.Rows / 2, Cols: shape.Cols / 2}
			nextKey := buffers.Key{Octave: o + 1, Level: 0, Kind: buffers.KindGaussian}
			nextBuf, err := pb.reg.AllocKeyed(nextKey, compute.Shape{Rows: nextShape.Rows, Cols: nextShape.Cols})
			if err != nil {
				return nil, wrapAlloc(err)
			}
			if err := pb.ctx.Launch(ctx, "shrink", compute.Shape{Rows: nextShape.Rows, Cols: nextShape.Cols},
				compute.BufArg(seed), compute.BufArg(nextBuf), compute.IArg(int32(shape.Cols))); err != nil {
				return nil, fmt.Errorf("sift: decimate into octave %d: %w", o+1, err)
			}
			p.gauss[nextKey] = nextBuf
			shape = nextShape
		}
	}

	return p, nil
}

// minMaxer is the optional reduction a backend may provide so the range
// scan runs device-side; without it rescale falls back to a full host
// read-back.
type minMaxer interface {
	MinMax(buf compute.Buffer) (min, max float32, err error)
}

// rescale computes buf's observed [min, max], then dispatches the
// normalizes kernel to map that range linearly onto [0, 255]. Applied
// unconditionally, including for already-float input. The min/max
// reduction is one of the pipeline's few synchronization points: the
// host blocks on its result before the next launch.
func (pb *pyramidBuilder) rescale(ctx context.Context, buf compute.Buffer, rows, cols int) error {
	var minVal, maxVal float32
	if mm, ok := pb.ctx.(minMaxer); ok {
		var err error
		minVal, maxVal, err = mm.MinMax(buf)
		if err != nil {
			return fmt.Errorf("sift: min/max reduction: %w", err)
		}
	} else {
		data, err := pb.ctx.ReadFloats(buf)
		if err != nil {
			return fmt.Errorf("sift: read back for rescale: %w", err)
		}
		if len(data) == 0 {
			return fmt.Errorf("%w: empty buffer", ErrShapeMismatch)
		}
		minVal, maxVal = data[0], data[0]
		for _, v := range data[1:] {
			if v < minVal {
				minVal = v
			}
			if v > maxVal {
				maxVal = v
			}
		}
	}
	return pb.ctx.Launch(ctx, "normalizes", compute.Shape{Rows: rows, Cols: cols},
		compute.BufArg(buf), compute.FArg(minVal), compute.FArg(maxVal), compute.FArg(255))
}

// blur allocates the keyed destination buffer, fetching (or building and
// uploading) sigma's tap table, and dispatches the horizontal-then-
// vertical separable convolution pair into it.
func (pb *pyramidBuilder) blur(ctx context.Context, src compute.Buffer, shape octaveShape, sigma float64, dstKey buffers.Key) (compute.Buffer, error) {
	tapBuf, radius, err := pb.tapsBuffer(sigma)
	if err != nil {
		return compute.Buffer{}, err
	}

	scratch, err := pb.reg.Alloc(fmt.Sprintf("scratch_%dx%d", shape.Rows, shape.Cols), compute.Shape{Rows: shape.Rows, Cols: shape.Cols})
	if err != nil {
		return compute.Buffer{}, wrapAlloc(err)
	}
	dst, err := pb.reg.AllocKeyed(dstKey, compute.Shape{Rows: shape.Rows, Cols: shape.Cols})
	if err != nil {
		return compute.Buffer{}, wrapAlloc(err)
	}

	geom := compute.Shape{Rows: shape.Rows, Cols: shape.Cols}
	if err := pb.ctx.Launch(ctx, "horizontal_convolution", geom,
		compute.BufArg(src), compute.BufArg(scratch), compute.BufArg(tapBuf), compute.IArg(int32(radius))); err != nil {
		return compute.Buffer{}, fmt.Errorf("sift: horizontal blur sigma=%v: %w", sigma, err)
	}
	if err := pb.ctx.Launch(ctx, "vertical_convolution", geom,
		compute.BufArg(scratch), compute.BufArg(dst), compute.BufArg(tapBuf), compute.IArg(int32(radius))); err != nil {
		return compute.Buffer{}, fmt.Errorf("sift: vertical blur sigma=%v: %w", sigma, err)
	}
	return dst, nil
}

// copyInto writes src into a freshly keyed buffer via the combine kernel
// with a zero second term, avoiding a dedicated copy entry point.
func (pb *pyramidBuilder) copyInto(ctx context.Context, src compute.Buffer, shape octaveShape, dstKey buffers.Key) (compute.Buffer, error) {
	dst, err := pb.reg.AllocKeyed(dstKey, compute.Shape{Rows: shape.Rows, Cols: shape.Cols})
	if err != nil {
		return compute.Buffer{}, wrapAlloc(err)
	}
	geom := compute.Shape{Rows: shape.Rows, Cols: shape.Cols}
	if err := pb.ctx.Launch(ctx, "combine", geom,
		compute.BufArg(src), compute.BufArg(src), compute.BufArg(dst), compute.FArg(1), compute.FArg(0)); err != nil {
		return compute.Buffer{}, fmt.Errorf("sift: copy base level: %w", err)
	}
	return dst, nil
}

// tapsBuffer returns the uploaded tap buffer and radius for sigma,
// building and uploading it once and reusing it for every subsequent
// request at the same sigma.
func (pb *pyramidBuilder) tapsBuffer(sigma float64) (compute.Buffer, int, error) {
	taps, radius := pb.taps.tapsFor(sigma)
	if buf, ok := pb.tapBuf[sigma]; ok {
		return buf, radius, nil
	}
	buf, err := pb.reg.Alloc(fmt.Sprintf("gaussian_taps_%v", sigma), compute.Shape{Rows: 1, Cols: len(taps)})
	if err != nil {
		return compute.Buffer{}, 0, wrapAlloc(err)
	}
	if err := pb.ctx.WriteFloats(buf, taps); err != nil {
		return compute.Buffer{}, 0, fmt.Errorf("sift: upload gaussian taps sigma=%v: %w", sigma, err)
	}
	pb.tapBuf[sigma] = buf
	return buf, radius, nil
}

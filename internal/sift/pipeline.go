package sift

import (
	"context"
	"fmt"
	"math"
	"time"

	"siftgpu/internal/compute"
	"siftgpu/internal/computil/buffers"
	"siftgpu/internal/logger"
)

// Pipeline is the single entry point a caller constructs once per
// compute.Context and reuses across images: it owns the buffer registry
// and coordinates the pyramid builder, extremum detector, orientation
// assigner, and descriptor builder in sequence.
type Pipeline struct {
	ctx    compute.Context
	params Params
	log    logger.Logger
}

// NewPipeline builds a Pipeline over ctx with the given options applied
// on top of the documented defaults.
func NewPipeline(ctx compute.Context, log logger.Logger, opts ...Option) (*Pipeline, error) {
	params, err := NewParams(opts...)
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = logger.Nop{}
	}
	return &Pipeline{ctx: ctx, params: params, log: log}, nil
}

// Keypoints runs the full detection pipeline over img and returns every
// accepted, oriented, descriptored keypoint. Each run allocates its own
// buffer registry and tears it down before returning, so buffers from
// one call never leak into the next.
func (p *Pipeline) Keypoints(ctx context.Context, img Image) ([]Keypoint, error) {
	reg := buffers.New(p.ctx, p.log)
	defer reg.Teardown()

	timer := p.stageTimer()

	pyr, err := newPyramidBuilder(p.ctx, reg, p.params, p.log).Build(ctx, img)
	if err != nil {
		return nil, fmt.Errorf("sift: build pyramid: %w", err)
	}
	timer("pyramid")

	extrema, err := newExtremumDetector(p.ctx, reg, p.params, p.log).Detect(ctx, pyr)
	if err != nil {
		return nil, fmt.Errorf("sift: detect extrema: %w", err)
	}
	timer("extrema")
	if len(extrema) == 0 {
		return nil, nil
	}

	oriented, err := newOrientationAssigner(p.ctx, reg, p.params, p.log).Assign(ctx, pyr, extrema)
	if err != nil {
		return nil, fmt.Errorf("sift: assign orientation: %w", err)
	}
	timer("orientation")

	kps, err := p.describe(pyr, oriented)
	timer("descriptor")
	return kps, err
}

// stageTimer returns a func that reports the elapsed time since the
// previous stage boundary at info level. When profiling is off it
// returns a no-op and no timestamps are taken at all.
func (p *Pipeline) stageTimer() func(stage string) {
	if !p.params.Profile {
		return func(string) {}
	}
	last := time.Now()
	return func(stage string) {
		now := time.Now()
		p.log.Info("pipeline", "stage timing", map[string]interface{}{
			"stage": stage, "elapsed": now.Sub(last).String(),
		})
		last = now
	}
}

// describe builds each oriented point's descriptor by reading back the
// Gaussian level it was oriented against (cached per octave/scale index
// so a level shared by many keypoints is only read back once) and
// converting octave-local coordinates to full-image coordinates.
func (p *Pipeline) describe(pyr *Pyramid, oriented []orientedPoint) ([]Keypoint, error) {
	type levelData struct {
		data       []float32
		rows, cols int
	}
	cache := make(map[scaleKey]levelData)

	out := make([]Keypoint, 0, len(oriented))
	for _, pt := range oriented {
		key := scaleKey{pt.Octave, pt.ScaleIndex}
		ld, ok := cache[key]
		if !ok {
			buf, ok := pyr.Gaussian(pt.Octave, pt.ScaleIndex)
			if !ok {
				return nil, fmt.Errorf("sift: missing gaussian level o=%d s=%d for descriptor", pt.Octave, pt.ScaleIndex)
			}
			data, err := p.ctx.ReadFloats(buf)
			if err != nil {
				return nil, fmt.Errorf("sift: read gaussian level for descriptor: %w", err)
			}
			shape := pyr.Shapes[pt.Octave]
			ld = levelData{data: data, rows: shape.Rows, cols: shape.Cols}
			cache[key] = ld
		}

		// The record's sigma is already expressed in the octave's own
		// pixel grid, the grid the descriptor samples in.
		desc := buildDescriptor(ld.data, ld.rows, ld.cols, pt.Row, pt.Col, pt.SigmaAbs, pt.Theta)

		scaleFactor := math.Pow(2, float64(pt.Octave))
		out = append(out, Keypoint{
			Row:        pt.Row * scaleFactor,
			Col:        pt.Col * scaleFactor,
			Octave:     pt.Octave,
			Sigma:      pt.SigmaAbs,
			Angle:      pt.Theta,
			Contrast:   pt.PeakVal,
			Descriptor: desc,
		})
	}
	return out, nil
}

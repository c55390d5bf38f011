package sift

import (
	"context"
	"fmt"

	"siftgpu/internal/compute"
	"siftgpu/internal/computil/buffers"
	"siftgpu/internal/logger"
)

// extremum is one refined scale-space extremum, tagged with the octave
// and DoG level it was found at. Octave/level association is tracked
// here on the host rather than read back from a device buffer, since
// local_maxmin and interp_keypoint each process a single octave's DoG
// stack per call.
type extremum struct {
	Octave     int
	ScaleIndex int
	PeakVal    float64
	Row, Col   float64
	SigmaAbs   float64
}

// extremumDetector runs the detect-then-refine pass octave by octave,
// DoG level by DoG level.
type extremumDetector struct {
	ctx    compute.Context
	reg    *buffers.Registry
	params Params
	log    logger.Logger
}

func newExtremumDetector(ctx compute.Context, reg *buffers.Registry, params Params, log logger.Logger) *extremumDetector {
	if log == nil {
		log = logger.Nop{}
	}
	return &extremumDetector{ctx: ctx, reg: reg, params: params, log: log}
}

// Detect scans every interior DoG level of every octave in p, running
// local_maxmin to find candidates and interp_keypoint to refine them,
// and returns every accepted extremum across the whole pyramid.
func (d *extremumDetector) Detect(ctx context.Context, p *Pyramid) ([]extremum, error) {
	var out []extremum
	capacity := int32(d.params.MaxCandidatesPerLevel)

	for o := 0; o < p.Octaves; o++ {
		shape := p.Shapes[o]
		edgeThresh := d.params.edgeThreshFor(o)

		for i := 1; i <= d.params.Scales; i++ {
			below, ok := p.DoG(o, i-1)
			if !ok {
				return nil, fmt.Errorf("sift: missing DoG level o=%d i=%d", o, i-1)
			}
			cur, ok := p.DoG(o, i)
			if !ok {
				return nil, fmt.Errorf("sift: missing DoG level o=%d i=%d", o, i)
			}
			above, ok := p.DoG(o, i+1)
			if !ok {
				return nil, fmt.Errorf("sift: missing DoG level o=%d i=%d", o, i+1)
			}

			found, err := d.scanLevel(ctx, o, i, shape, below, cur, above, capacity, edgeThresh)
			if err != nil {
				return nil, err
			}
			out = append(out, found...)
		}
	}

	d.log.Debug("extrema", "detection complete", map[string]interface{}{"count": len(out)})
	return out, nil
}

func (d *extremumDetector) scanLevel(ctx context.Context, o, i int, shape octaveShape, below, cur, above compute.Buffer, capacity int32, edgeThresh float64) ([]extremum, error) {
	candBuf, err := d.reg.Alloc(fmt.Sprintf("candidates_o%d_i%d", o, i), compute.Shape{Rows: 1, Cols: int(capacity) * candidateStrideHost})
	if err != nil {
		return nil, wrapAlloc(err)
	}
	ctr, err := d.ctx.NewCounter(fmt.Sprintf("candidate_counter_o%d_i%d", o, i))
	if err != nil {
		return nil, err
	}

	geom := compute.Shape{Rows: shape.Rows, Cols: shape.Cols}
	if err := d.ctx.Launch(ctx, "local_maxmin", geom,
		compute.BufArg(below), compute.BufArg(cur), compute.BufArg(above),
		compute.BufArg(candBuf), compute.CounterArg(ctr), compute.IArg(capacity),
		compute.IArg(int32(d.params.BorderDist)), compute.FArg(float32(d.params.PeakThresh)),
		compute.FArg(float32(edgeThresh)), compute.IArg(int32(i))); err != nil {
		return nil, fmt.Errorf("sift: local_maxmin o=%d i=%d: %w", o, i, err)
	}

	count := ctr.Load()
	if count > capacity {
		d.log.Warning("extrema", "candidate buffer overflowed, truncating", map[string]interface{}{
			"octave": o, "level": i, "found": count, "capacity": capacity,
		})
		count = capacity
	}
	if count == 0 {
		return nil, nil
	}

	refinedBuf, err := d.reg.Alloc(fmt.Sprintf("refined_o%d_i%d", o, i), compute.Shape{Rows: 1, Cols: int(count) * refinedStrideHost})
	if err != nil {
		return nil, wrapAlloc(err)
	}

	if err := d.ctx.Launch(ctx, "interp_keypoint", compute.Shape{Rows: 1, Cols: int(count)},
		compute.BufArg(below), compute.BufArg(cur), compute.BufArg(above),
		compute.BufArg(candBuf), compute.BufArg(refinedBuf), compute.IArg(count),
		compute.IArg(int32(d.params.MoveBudget)), compute.FArg(float32(d.params.PeakThresh)),
		compute.IArg(int32(d.params.BorderDist)), compute.IArg(int32(shape.Cols)),
		compute.FArg(float32(d.params.InitSigma)), compute.IArg(int32(d.params.Scales))); err != nil {
		return nil, fmt.Errorf("sift: interp_keypoint o=%d i=%d: %w", o, i, err)
	}

	data, err := d.ctx.ReadFloats(refinedBuf)
	if err != nil {
		return nil, err
	}

	var found []extremum
	for _, rec := range decodeRefined(data, int(count)) {
		if !rec.Valid {
			continue
		}
		found = append(found, extremum{
			Octave:     o,
			ScaleIndex: i,
			PeakVal:    rec.PeakVal,
			Row:        rec.Row,
			Col:        rec.Col,
			SigmaAbs:   rec.SigmaAbs,
		})
	}
	return found, nil
}

package sift

import (
	"context"
	"fmt"
	"sort"

	"siftgpu/internal/compute"
	"siftgpu/internal/computil/buffers"
	"siftgpu/internal/logger"
)

// orientedPoint is one oriented keypoint: a refined extremum plus a
// dominant gradient orientation. A single extremum may expand into more
// than one orientedPoint when its histogram has multiple qualifying
// peaks.
type orientedPoint struct {
	Octave     int
	ScaleIndex int
	PeakVal    float64
	Row, Col   float64
	SigmaAbs   float64
	Theta      float64
}

// orientationAssigner runs the gradient precompute and histogram-peak
// pass over groups of extrema that share an octave and scale index,
// since they share the same gradient/angle maps.
type orientationAssigner struct {
	ctx    compute.Context
	reg    *buffers.Registry
	params Params
	log    logger.Logger
}

func newOrientationAssigner(ctx compute.Context, reg *buffers.Registry, params Params, log logger.Logger) *orientationAssigner {
	if log == nil {
		log = logger.Nop{}
	}
	return &orientationAssigner{ctx: ctx, reg: reg, params: params, log: log}
}

type scaleKey struct {
	octave, scaleIdx int
}

// Assign groups extrema by (octave, scaleIndex), precomputes a gradient
// magnitude/angle map once per group from the matching Gaussian level,
// and dispatches orientation_assignment over the whole group at once.
func (a *orientationAssigner) Assign(ctx context.Context, p *Pyramid, extrema []extremum) ([]orientedPoint, error) {
	groups := make(map[scaleKey][]extremum)
	for _, e := range extrema {
		key := scaleKey{e.Octave, e.ScaleIndex}
		groups[key] = append(groups[key], e)
	}
	keys := make([]scaleKey, 0, len(groups))
	for key := range groups {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].octave != keys[j].octave {
			return keys[i].octave < keys[j].octave
		}
		return keys[i].scaleIdx < keys[j].scaleIdx
	})

	var out []orientedPoint
	for _, key := range keys {
		found, err := a.assignGroup(ctx, p, key, groups[key])
		if err != nil {
			return nil, err
		}
		out = append(out, found...)
	}

	// Slot indices inside a group follow atomic arrival order, which
	// varies run to run; pin the output order so reruns on the same
	// image return the same slice, not just the same set.
	sort.Slice(out, func(i, j int) bool {
		if out[i].Octave != out[j].Octave {
			return out[i].Octave < out[j].Octave
		}
		if out[i].ScaleIndex != out[j].ScaleIndex {
			return out[i].ScaleIndex < out[j].ScaleIndex
		}
		if out[i].Row != out[j].Row {
			return out[i].Row < out[j].Row
		}
		if out[i].Col != out[j].Col {
			return out[i].Col < out[j].Col
		}
		return out[i].Theta < out[j].Theta
	})

	a.log.Debug("orientation", "assignment complete", map[string]interface{}{"count": len(out)})
	return out, nil
}

func (a *orientationAssigner) assignGroup(ctx context.Context, p *Pyramid, key scaleKey, group []extremum) ([]orientedPoint, error) {
	o, s := key.octave, key.scaleIdx
	shape := p.Shapes[o]
	gauss, ok := p.Gaussian(o, s)
	if !ok {
		return nil, fmt.Errorf("sift: missing gaussian level o=%d s=%d for orientation", o, s)
	}

	geom := compute.Shape{Rows: shape.Rows, Cols: shape.Cols}
	magBuf, err := a.reg.Alloc(fmt.Sprintf("grad_mag_o%d_s%d", o, s), geom)
	if err != nil {
		return nil, wrapAlloc(err)
	}
	angleBuf, err := a.reg.Alloc(fmt.Sprintf("grad_angle_o%d_s%d", o, s), geom)
	if err != nil {
		return nil, wrapAlloc(err)
	}
	if err := a.ctx.Launch(ctx, "compute_gradient_orientation", geom,
		compute.BufArg(gauss), compute.BufArg(magBuf), compute.BufArg(angleBuf)); err != nil {
		return nil, fmt.Errorf("sift: gradient precompute o=%d s=%d: %w", o, s, err)
	}

	n := len(group)
	refinedIn := make([]float32, n*refinedStrideHost)
	for idx, e := range group {
		base := idx * refinedStrideHost
		refinedIn[base+0] = float32(e.PeakVal)
		refinedIn[base+1] = float32(e.Row)
		refinedIn[base+2] = float32(e.Col)
		refinedIn[base+3] = float32(e.SigmaAbs)
	}
	refinedBuf, err := a.reg.Alloc(fmt.Sprintf("refined_in_o%d_s%d", o, s), compute.Shape{Rows: 1, Cols: n * refinedStrideHost})
	if err != nil {
		return nil, wrapAlloc(err)
	}
	if err := a.ctx.WriteFloats(refinedBuf, refinedIn); err != nil {
		return nil, fmt.Errorf("sift: upload refined group o=%d s=%d: %w", o, s, err)
	}

	capacity := int32(a.params.MaxCandidatesPerLevel)
	orientedBuf, err := a.reg.Alloc(fmt.Sprintf("oriented_o%d_s%d", o, s), compute.Shape{Rows: 1, Cols: int(capacity) * orientedStrideHost})
	if err != nil {
		return nil, wrapAlloc(err)
	}
	ctr, err := a.ctx.NewCounter(fmt.Sprintf("oriented_counter_o%d_s%d", o, s))
	if err != nil {
		return nil, err
	}

	if err := a.ctx.Launch(ctx, "orientation_assignment", compute.Shape{Rows: 1, Cols: n},
		compute.BufArg(magBuf), compute.BufArg(angleBuf), compute.BufArg(refinedBuf), compute.BufArg(orientedBuf),
		compute.CounterArg(ctr), compute.IArg(capacity), compute.IArg(int32(n)), compute.IArg(int32(shape.Cols)),
		compute.FArg(float32(a.params.OrientationWindowFactor)), compute.FArg(float32(a.params.OrientationWeightSigmaFactor)),
		compute.FArg(float32(a.params.OrientationPeakRatio))); err != nil {
		return nil, fmt.Errorf("sift: orientation_assignment o=%d s=%d: %w", o, s, err)
	}

	count := ctr.Load()
	if count > capacity {
		a.log.Warning("orientation", "oriented buffer overflowed, truncating", map[string]interface{}{
			"octave": o, "scale_index": s, "found": count, "capacity": capacity,
		})
		count = capacity
	}
	if count == 0 {
		return nil, nil
	}

	data, err := a.ctx.ReadFloats(orientedBuf)
	if err != nil {
		return nil, err
	}

	result := make([]orientedPoint, 0, count)
	for _, rec := range decodeOriented(data, int(count)) {
		result = append(result, orientedPoint{
			Octave:     o,
			ScaleIndex: s,
			PeakVal:    rec.PeakVal,
			Row:        rec.Row,
			Col:        rec.Col,
			SigmaAbs:   rec.SigmaAbs,
			Theta:      rec.Theta,
		})
	}
	return result, nil
}

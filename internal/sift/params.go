package sift

import "fmt"

// Params holds the tunable constants of one SIFT detection run. Values
// are frozen at construction time via NewParams: build once, validate
// once, then treat as read-only for the life of the pipeline.
type Params struct {
	// Scales is S, the number of usable DoG levels per octave.
	Scales int
	// InitSigma is sigma-0, the target blur of the first Gaussian level.
	InitSigma float64
	// DoubleImSize selects the assumed starting blur: 1.0 if true (the
	// caller already upsampled 2x), 0.5 otherwise.
	DoubleImSize bool
	// BorderDist is the ignored pixel margin on every side.
	BorderDist int
	// PeakThresh is the minimum |DoG| for a refined keypoint; the
	// detector's pre-filter uses 0.8*PeakThresh.
	PeakThresh float64
	// EdgeThresh0 is the Hessian ratio threshold applied in octave 0.
	EdgeThresh0 float64
	// EdgeThresh is the Hessian ratio threshold applied in every later
	// octave.
	EdgeThresh float64
	// MoveBudget bounds how many times sub-pixel refinement may
	// re-center a candidate before giving up.
	MoveBudget int
	// OrientationWindowFactor scales a keypoint's sigma_abs into the
	// orientation histogram's sampling radius: radius = floor(factor *
	// sigma_abs). The documented value is 3*1.5 = 4.5.
	OrientationWindowFactor float64
	// OrientationWeightSigmaFactor scales sigma_abs into the Gaussian
	// weighting sigma used when accumulating histogram samples. The
	// documented value is 1.5.
	OrientationWeightSigmaFactor float64
	// OrientationPeakRatio is the fraction of the histogram's tallest bin
	// a secondary peak must clear to emit its own oriented keypoint.
	OrientationPeakRatio float64
	// MaxCandidatesPerLevel bounds how many extrema a single DoG level
	// may emit before local_maxmin starts silently dropping the rest;
	// this bounds worst-case buffer size, not detection quality, for
	// typical natural images.
	MaxCandidatesPerLevel int
	// Profile enables per-stage timing capture: when set, the pipeline
	// records each stage's wall-clock duration and reports it at info
	// level. When unset no timers are created.
	Profile bool
}

// Option mutates a Params under construction. The zero value of Params
// is never used directly; always go through NewParams so defaults are
// applied first.
type Option func(*Params)

func WithScales(s int) Option                { return func(p *Params) { p.Scales = s } }
func WithInitSigma(sigma float64) Option     { return func(p *Params) { p.InitSigma = sigma } }
func WithDoubleImSize(double bool) Option    { return func(p *Params) { p.DoubleImSize = double } }
func WithBorderDist(border int) Option       { return func(p *Params) { p.BorderDist = border } }
func WithPeakThresh(thresh float64) Option   { return func(p *Params) { p.PeakThresh = thresh } }
func WithEdgeThresh0(thresh float64) Option  { return func(p *Params) { p.EdgeThresh0 = thresh } }
func WithEdgeThresh(thresh float64) Option   { return func(p *Params) { p.EdgeThresh = thresh } }
func WithMoveBudget(budget int) Option       { return func(p *Params) { p.MoveBudget = budget } }
func WithMaxCandidatesPerLevel(n int) Option { return func(p *Params) { p.MaxCandidatesPerLevel = n } }
func WithProfiling(enabled bool) Option      { return func(p *Params) { p.Profile = enabled } }
func WithOrientationWindowFactor(f float64) Option {
	return func(p *Params) { p.OrientationWindowFactor = f }
}
func WithOrientationWeightSigmaFactor(f float64) Option {
	return func(p *Params) { p.OrientationWeightSigmaFactor = f }
}
func WithOrientationPeakRatio(r float64) Option {
	return func(p *Params) { p.OrientationPeakRatio = r }
}

// defaultParams mirrors the reference detector's documented constants.
func defaultParams() Params {
	return Params{
		Scales:                       3,
		InitSigma:                    1.6,
		DoubleImSize:                 false,
		BorderDist:                   5,
		PeakThresh:                   255. * 0.04 / 3,
		EdgeThresh0:                  0.06,
		EdgeThresh:                   0.09,
		MoveBudget:                   5,
		OrientationWindowFactor:      4.5,
		OrientationWeightSigmaFactor: 1.5,
		OrientationPeakRatio:         0.8,
		MaxCandidatesPerLevel:        100000,
	}
}

// NewParams applies opts over defaultParams and validates the result.
func NewParams(opts ...Option) (Params, error) {
	p := defaultParams()
	for _, opt := range opts {
		opt(&p)
	}
	if err := p.validate(); err != nil {
		return Params{}, err
	}
	return p, nil
}

func (p Params) validate() error {
	if p.Scales <= 0 {
		return fmt.Errorf("sift: Scales must be positive, got %d", p.Scales)
	}
	if p.InitSigma <= 0 {
		return fmt.Errorf("sift: InitSigma must be positive, got %f", p.InitSigma)
	}
	if p.BorderDist < 1 {
		return fmt.Errorf("sift: BorderDist must be at least 1, got %d", p.BorderDist)
	}
	if p.PeakThresh < 0 {
		return fmt.Errorf("sift: PeakThresh must be non-negative, got %f", p.PeakThresh)
	}
	if p.EdgeThresh0 <= 0 || p.EdgeThresh <= 0 {
		return fmt.Errorf("sift: EdgeThresh0/EdgeThresh must be positive, got %f/%f", p.EdgeThresh0, p.EdgeThresh)
	}
	if p.MoveBudget < 0 {
		return fmt.Errorf("sift: MoveBudget must be non-negative, got %d", p.MoveBudget)
	}
	if p.MaxCandidatesPerLevel <= 0 {
		return fmt.Errorf("sift: MaxCandidatesPerLevel must be positive, got %d", p.MaxCandidatesPerLevel)
	}
	return nil
}

// curSigma is the assumed blur of the incoming image before any of this
// pipeline's own Gaussian blurring is applied.
func (p Params) curSigma() float64 {
	if p.DoubleImSize {
		return 1.0
	}
	return 0.5
}

// edgeThreshFor returns the Hessian ratio threshold for octave o (octave
// 0 uses EdgeThresh0, every later octave uses EdgeThresh).
func (p Params) edgeThreshFor(octave int) float64 {
	if octave == 0 {
		return p.EdgeThresh0
	}
	return p.EdgeThresh
}

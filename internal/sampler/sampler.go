// Package sampler integrates the reverse-time diffusion equation: starting
// from pure noise at a high sigma, it walks a decreasing noise schedule and
// asks a score adapter for the denoising direction at each level, producing a
// finite sequence of states that ends in a clean sample. The stepping rule is
// Euler with an optional Heun second-order correction and optional stochastic
// churn that re-injects noise mid-run to counteract discretization bias.
package sampler

import (
	"context"
	"fmt"
	"math"
	"math/rand"

	"github.com/samcharles93/drift/internal/schedule"
	"github.com/samcharles93/drift/internal/score"
	"github.com/samcharles93/drift/internal/tensor"
)

// Config controls one sampling run. Start from DefaultConfig and override;
// the zero value is rejected by New.
type Config struct {
	// Steps is the number of integration steps. The run emits Steps+1
	// states, the initial noise included.
	Steps int
	// Batch is the number of samples integrated together.
	Batch int
	// SigmaMax caps the starting noise level; the effective value is the
	// smaller of this and the adapter's trained maximum.
	SigmaMax float64
	// Rho is the exponent of the Karras schedule spacing rule.
	Rho float64
	// ClsScaling multiplies the classifier-guidance term when the adapter
	// asks for guidance.
	ClsScaling float64
	// InitXS, when set, seeds the run with a caller-supplied state instead
	// of fresh noise. Its batch and shape must match the run.
	InitXS *tensor.Tensor
	// Heun enables the second-order correction, one extra adapter query per
	// non-terminal step.
	Heun bool
	// Langevin enables stochastic churn between SMin and SMax.
	Langevin bool

	SChurn float64
	SMin   float64
	SMax   float64
	SNoise float64

	// Seed fixes the run's random stream. Two runs with the same adapter,
	// config and seed emit bit-identical states.
	Seed int64
}

// DefaultConfig returns the standard settings: Heun on, churn off, and the
// stochasticity constants tuned for image-scale models.
func DefaultConfig() Config {
	return Config{
		Steps:      18,
		Batch:      1,
		SigmaMax:   80,
		Rho:        schedule.DefaultRho,
		ClsScaling: 1,
		Heun:       true,
		Langevin:   false,
		SChurn:     80,
		SMin:       0.05,
		SMax:       50,
		SNoise:     1.003,
	}
}

// Run is one in-progress sampling run. Advance it with Next and read the
// current state with State; the sequence is finite and cannot be rewound,
// re-invoke New to start over. A Run is not safe for concurrent use.
type Run struct {
	cfg  Config
	ad   score.Adapter
	cond *score.Cond
	rng  *rand.Rand

	ts    []float64 // snapped levels, terminal 0 appended
	ticks []int
	gamma float64

	xs      *tensor.Tensor
	emitted int // index of the last emitted state, -1 before the first Next
	err     error
}

// New validates the configuration, builds and snaps the schedule, prepares
// the conditioning bundle and the initial state. No adapter score queries
// happen until the first integration step.
func New(a score.Adapter, cfg Config) (*Run, error) {
	if a == nil {
		return nil, fmt.Errorf("sampler: nil adapter")
	}
	if cfg.Steps < 1 {
		return nil, fmt.Errorf("sampler: %w: need at least 1 step, got %d", schedule.ErrStepCount, cfg.Steps)
	}
	if cfg.Batch < 1 {
		return nil, fmt.Errorf("sampler: batch must be positive, got %d", cfg.Batch)
	}
	if cfg.SigmaMax <= 0 {
		return nil, fmt.Errorf("sampler: sigmaMax must be positive, got %g", cfg.SigmaMax)
	}
	sigMin, sigMax := a.SigmaMin(), a.SigmaMax()
	if sigMin <= 0 || sigMax <= sigMin {
		return nil, fmt.Errorf("sampler: adapter reports invalid sigma range [%g, %g]", sigMin, sigMax)
	}
	effMax := math.Min(cfg.SigmaMax, sigMax)
	if cfg.Steps > 1 && effMax <= sigMin {
		return nil, fmt.Errorf("sampler: effective sigmaMax %g not above adapter sigmaMin %g", effMax, sigMin)
	}
	shape := a.DataShape()
	if cfg.InitXS != nil {
		if cfg.InitXS.Batch != cfg.Batch {
			return nil, fmt.Errorf("sampler: init state batch %d does not match run batch %d", cfg.InitXS.Batch, cfg.Batch)
		}
		if !tensor.ShapeEq(cfg.InitXS.Shape, shape) {
			return nil, fmt.Errorf("sampler: init state shape %v does not match model shape %v", cfg.InitXS.Shape, shape)
		}
	}

	// A single step has no interior levels to interpolate, so the schedule
	// degenerates to the starting level alone.
	var raw []float64
	if cfg.Steps == 1 {
		raw = []float64{effMax}
	} else {
		var err error
		raw, err = schedule.Karras(cfg.Rho, cfg.Steps, effMax, sigMin)
		if err != nil {
			return nil, fmt.Errorf("sampler: %w", err)
		}
	}

	ts := make([]float64, 0, len(raw)+1)
	ticks := make([]int, 0, len(raw)+1)
	for _, t := range raw {
		snapped, tick := a.SnapToTick(t)
		ts = append(ts, snapped)
		ticks = append(ticks, tick)
	}
	// Terminal clean target. Never queried, only stepped toward.
	ts = append(ts, 0)
	ticks = append(ticks, score.NoTick)

	cond, err := a.CondInfo(cfg.Batch)
	if err != nil {
		return nil, fmt.Errorf("sampler: conditioning: %w", err)
	}

	rng := rand.New(rand.NewSource(cfg.Seed))
	var xs *tensor.Tensor
	if cfg.InitXS != nil {
		xs = cfg.InitXS.To(a.Device())
	} else {
		// ts[0] rather than effMax: snapping may have moved the top level,
		// and the initial noise scale has to match the level the first
		// query runs at.
		xs = tensor.Randn(cfg.Batch, shape, a.Device(), rng)
		tensor.Scale(xs, ts[0])
	}

	return &Run{
		cfg:     cfg,
		ad:      a,
		cond:    cond,
		rng:     rng,
		ts:      ts,
		ticks:   ticks,
		gamma:   math.Min(math.Sqrt2-1, cfg.SChurn/float64(cfg.Steps)),
		xs:      xs,
		emitted: -1,
	}, nil
}

// Next advances the run by one emission and reports whether a state is
// available. The first call emits the initial state without any adapter
// query; each later call performs one integration step. Next returns false
// once the sequence is exhausted or a step failed, and Err tells which.
func (r *Run) Next() bool {
	if r.err != nil || r.emitted >= r.cfg.Steps {
		return false
	}
	if r.emitted < 0 {
		r.emitted = 0
		return true
	}

	i := r.emitted
	t := r.ts[i]
	next := r.ts[i+1]
	xs := r.xs

	if r.cfg.Langevin && r.cfg.SMin < t && t < r.cfg.SMax {
		tHat, _ := r.ad.SnapToTick(t * (1 + r.gamma))
		noise := tensor.Randn(xs.Batch, xs.Shape, xs.Device, r.rng)
		xs = xs.Clone()
		tensor.AddScaled(xs, noise, r.cfg.SNoise*math.Sqrt(tHat*tHat-t*t))
		t = tHat
	}

	deltaT := next - t

	d, err := r.direction(xs, t)
	if err != nil {
		r.err = err
		return false
	}
	x1 := xs.Clone()
	tensor.AddScaled(x1, d, deltaT)

	if !r.cfg.Heun || next == 0 {
		r.xs = x1
	} else {
		d2, err := r.direction(x1, next)
		if err != nil {
			r.err = err
			return false
		}
		x2 := xs.Clone()
		tensor.AddScaled(x2, d, deltaT/2)
		tensor.AddScaled(x2, d2, deltaT/2)
		r.xs = x2
	}

	r.emitted = i + 1
	return true
}

// direction computes the step direction d = -t * (score + guidance) at one
// level. Conditioning is threaded through only for conditional models; the
// guidance term is added whenever the adapter asks for it, scaled by the
// configured factor.
func (r *Run) direction(xs *tensor.Tensor, t float64) (*tensor.Tensor, error) {
	var cond *score.Cond
	if r.ad.UNetIsCond() {
		cond = r.cond
	}
	g, err := score.Eval(r.ad, xs, t, cond)
	if err != nil {
		return nil, fmt.Errorf("sampler: score at sigma %g: %w", t, err)
	}
	if r.ad.UseClsGuidance() {
		cg, err := r.ad.ClassifierGrad(xs, t, r.cond)
		if err != nil {
			return nil, fmt.Errorf("sampler: classifier guidance at sigma %g: %w", t, err)
		}
		tensor.AddScaled(g, cg, r.cfg.ClsScaling)
	}
	tensor.Scale(g, -t)
	return g, nil
}

// State returns the most recently emitted state. It is valid after Next has
// reported true and is never mutated by later steps, so callers may keep
// every emission alive at once.
func (r *Run) State() *tensor.Tensor { return r.xs }

// Sigma returns the noise level of the current state; 0 for the final one.
func (r *Run) Sigma() float64 { return r.ts[max(r.emitted, 0)] }

// Tick returns the adapter tick index of the current level, or score.NoTick
// for continuous models and the terminal state.
func (r *Run) Tick() int { return r.ticks[max(r.emitted, 0)] }

// Step returns the index of the current emission, 0 through Steps.
func (r *Run) Step() int { return r.emitted }

// Schedule returns a copy of the snapped noise levels the run visits,
// terminal 0 included.
func (r *Run) Schedule() []float64 {
	out := make([]float64, len(r.ts))
	copy(out, r.ts)
	return out
}

// Err returns the first error encountered while stepping, if any.
func (r *Run) Err() error { return r.err }

// Final runs a whole sampling run and returns only the last state. The
// context is checked between steps, so a cancelled run stops without waiting
// for the remaining adapter calls.
func Final(ctx context.Context, a score.Adapter, cfg Config) (*tensor.Tensor, error) {
	run, err := New(a, cfg)
	if err != nil {
		return nil, err
	}
	for run.Next() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}
	if err := run.Err(); err != nil {
		return nil, err
	}
	return run.State(), nil
}

package sampler

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"testing"

	"github.com/samcharles93/drift/internal/schedule"
	"github.com/samcharles93/drift/internal/score"
	"github.com/samcharles93/drift/internal/tensor"
)

// identity denoises to the input itself, so the gradient is zero everywhere
// and the trajectory only moves when churn injects noise.
type identity struct {
	score.Base
	min, max float64
	shape    []int
	calls    int
}

func (a *identity) Denoise(xs *tensor.Tensor, sigma float64, cond *score.Cond) (*tensor.Tensor, error) {
	a.calls++
	return xs.Clone(), nil
}

func (a *identity) DataShape() []int  { return a.shape }
func (a *identity) SigmaMin() float64 { return a.min }
func (a *identity) SigmaMax() float64 { return a.max }

// toZero denoises toward the origin, giving a nontrivial trajectory.
type toZero struct {
	score.Base
	min, max float64
	shape    []int
	calls    int
}

func (a *toZero) Denoise(xs *tensor.Tensor, sigma float64, cond *score.Cond) (*tensor.Tensor, error) {
	a.calls++
	return tensor.New(xs.Batch, xs.Shape, xs.Device), nil
}

func (a *toZero) DataShape() []int  { return a.shape }
func (a *toZero) SigmaMin() float64 { return a.min }
func (a *toZero) SigmaMax() float64 { return a.max }

// guided is toZero plus a constant classifier gradient.
type guided struct {
	toZero
	useGuidance bool
	grad        float32
}

func (a *guided) UseClsGuidance() bool { return a.useGuidance }

func (a *guided) ClassifierGrad(xs *tensor.Tensor, sigma float64, cond *score.Cond) (*tensor.Tensor, error) {
	g := tensor.New(xs.Batch, xs.Shape, xs.Device)
	for i := range g.Data {
		g.Data[i] = a.grad
	}
	return g, nil
}

// ticked snaps onto a fixed ladder.
type ticked struct {
	score.Base
	ladder *schedule.Ladder
}

func (a *ticked) Denoise(xs *tensor.Tensor, sigma float64, cond *score.Cond) (*tensor.Tensor, error) {
	return tensor.New(xs.Batch, xs.Shape, xs.Device), nil
}

func (a *ticked) DataShape() []int  { return []int{2} }
func (a *ticked) SigmaMin() float64 { return a.ladder.Min() }
func (a *ticked) SigmaMax() float64 { return a.ladder.Max() }

func (a *ticked) SnapToTick(t float64) (float64, int) { return a.ladder.Snap(t) }

func manualInit(seed int64, batch int, shape []int, sigma float64) *tensor.Tensor {
	rng := rand.New(rand.NewSource(seed))
	xs := tensor.Randn(batch, shape, tensor.DeviceCPU, rng)
	tensor.Scale(xs, sigma)
	return xs
}

func collect(t *testing.T, run *Run) []*tensor.Tensor {
	t.Helper()
	var states []*tensor.Tensor
	for run.Next() {
		states = append(states, run.State())
	}
	if err := run.Err(); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	return states
}

func equalData(a, b []float32) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestScheduleShapeAndClamp(t *testing.T) {
	ad := &toZero{min: 0.002, max: 80, shape: []int{3}}
	cfg := DefaultConfig()
	cfg.Steps = 5
	cfg.SigmaMax = 200 // above the adapter's range, must clamp to 80
	run, err := New(ad, cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ts := run.Schedule()
	if len(ts) != cfg.Steps+1 {
		t.Fatalf("schedule length %d, want %d", len(ts), cfg.Steps+1)
	}
	if ts[0] != 80 {
		t.Fatalf("ts[0] = %g, want clamped 80", ts[0])
	}
	if ts[len(ts)-1] != 0 {
		t.Fatalf("terminal level = %g, want 0", ts[len(ts)-1])
	}
	if ts[len(ts)-2] != 0.002 {
		t.Fatalf("pre-terminal level = %g, want sigmaMin 0.002", ts[len(ts)-2])
	}
	for i := 1; i < len(ts); i++ {
		if ts[i] >= ts[i-1] {
			t.Fatalf("schedule not strictly decreasing at %d: %v", i, ts)
		}
	}
}

func TestZeroGradientSingleStep(t *testing.T) {
	ad := &identity{min: 0.1, max: 1.0, shape: []int{4}}
	cfg := DefaultConfig()
	cfg.Steps = 1
	cfg.Batch = 2
	cfg.SigmaMax = 1.0
	cfg.Heun = false
	cfg.Langevin = false
	cfg.Seed = 11

	run, err := New(ad, cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if ts := run.Schedule(); len(ts) != 2 || ts[0] != 1.0 || ts[1] != 0 {
		t.Fatalf("schedule = %v, want [1 0]", ts)
	}
	states := collect(t, run)
	if len(states) != 2 {
		t.Fatalf("emitted %d states, want 2", len(states))
	}
	want := manualInit(11, 2, []int{4}, 1.0)
	if !equalData(states[0].Data, want.Data) {
		t.Fatal("initial state does not match seeded noise")
	}
	// Zero gradient: the single step moves nothing.
	if !equalData(states[1].Data, states[0].Data) {
		t.Fatal("final state differs from initial despite zero gradient")
	}
}

func TestDeterminism(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Steps = 6
	cfg.Batch = 2
	cfg.SigmaMax = 10
	cfg.Langevin = true
	cfg.Seed = 42

	runOnce := func() [][]float32 {
		ad := &toZero{min: 0.01, max: 10, shape: []int{3}}
		run, err := New(ad, cfg)
		if err != nil {
			t.Fatalf("New: %v", err)
		}
		var out [][]float32
		for _, s := range collect(t, run) {
			out = append(out, s.Data)
		}
		return out
	}

	a, b := runOnce(), runOnce()
	if len(a) != len(b) {
		t.Fatalf("emission counts differ: %d vs %d", len(a), len(b))
	}
	for i := range a {
		if !equalData(a[i], b[i]) {
			t.Fatalf("emission %d differs between identically seeded runs", i)
		}
	}
}

func TestHeunQueryParity(t *testing.T) {
	const steps = 4
	runWith := func(heun bool) (int, int) {
		ad := &toZero{min: 0.1, max: 10, shape: []int{2}}
		cfg := DefaultConfig()
		cfg.Steps = steps
		cfg.SigmaMax = 10
		cfg.Heun = heun
		cfg.Seed = 3
		run, err := New(ad, cfg)
		if err != nil {
			t.Fatalf("New: %v", err)
		}
		states := collect(t, run)
		return len(states), ad.calls
	}

	eulerStates, eulerCalls := runWith(false)
	heunStates, heunCalls := runWith(true)
	if eulerStates != steps+1 || heunStates != steps+1 {
		t.Fatalf("states = %d and %d, want both %d", eulerStates, heunStates, steps+1)
	}
	if eulerCalls != steps {
		t.Fatalf("euler queries = %d, want %d", eulerCalls, steps)
	}
	// One extra query per step except the terminal one.
	if heunCalls != 2*steps-1 {
		t.Fatalf("heun queries = %d, want %d", heunCalls, 2*steps-1)
	}
}

func TestChurnOffUsesNoRandomness(t *testing.T) {
	init := manualInit(7, 1, []int{3}, 5)
	runWithSeed := func(seed int64) []float32 {
		ad := &toZero{min: 0.1, max: 10, shape: []int{3}}
		cfg := DefaultConfig()
		cfg.Steps = 4
		cfg.SigmaMax = 5
		cfg.Langevin = false
		cfg.InitXS = init
		cfg.Seed = seed
		final, err := Final(context.Background(), ad, cfg)
		if err != nil {
			t.Fatalf("Final: %v", err)
		}
		return final.Data
	}

	// With a supplied initial state and churn off, the seed must not matter.
	if !equalData(runWithSeed(1), runWithSeed(999)) {
		t.Fatal("outputs differ across seeds even though no randomness should be consumed")
	}
}

func TestChurnInjectsSeededNoise(t *testing.T) {
	ad := &identity{min: 0.01, max: 1.0, shape: []int{4}}
	cfg := DefaultConfig()
	cfg.Steps = 1
	cfg.SigmaMax = 1.0
	cfg.Heun = false
	cfg.Langevin = true
	cfg.Seed = 5

	run, err := New(ad, cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	states := collect(t, run)

	// Reproduce by hand: init noise, then one churn draw from the same
	// stream. gamma = sqrt(2)-1 since SChurn/steps is huge, tHat = t*(1+g),
	// and the injected noise has scale SNoise*sqrt(tHat^2 - t^2).
	rng := rand.New(rand.NewSource(5))
	xs := tensor.Randn(1, []int{4}, tensor.DeviceCPU, rng)
	tensor.Scale(xs, 1.0)
	if !equalData(states[0].Data, xs.Data) {
		t.Fatal("initial emission does not match seeded stream")
	}
	noise := tensor.Randn(1, []int{4}, tensor.DeviceCPU, rng)
	want := xs.Clone()
	gamma := math.Sqrt2 - 1 // SChurn/steps far exceeds the cap
	tHat := 1 * (1 + gamma)
	tensor.AddScaled(want, noise, cfg.SNoise*math.Sqrt(tHat*tHat-1))
	if !equalData(states[1].Data, want.Data) {
		t.Fatal("churned state does not match hand-computed value")
	}
	if equalData(states[1].Data, states[0].Data) {
		t.Fatal("churn changed nothing")
	}
}

func TestGuidanceZeroScalingMatchesDisabled(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Steps = 5
	cfg.SigmaMax = 8
	cfg.ClsScaling = 0
	cfg.Seed = 21

	on := &guided{toZero: toZero{min: 0.05, max: 8, shape: []int{3}}, useGuidance: true, grad: 50}
	off := &guided{toZero: toZero{min: 0.05, max: 8, shape: []int{3}}, useGuidance: false, grad: 50}

	a, err := Final(context.Background(), on, cfg)
	if err != nil {
		t.Fatalf("guided run: %v", err)
	}
	b, err := Final(context.Background(), off, cfg)
	if err != nil {
		t.Fatalf("plain run: %v", err)
	}
	if !equalData(a.Data, b.Data) {
		t.Fatal("zero-scaled guidance changed the output")
	}

	// Sanity: a nonzero scaling must actually steer.
	cfg.ClsScaling = 2
	c, err := Final(context.Background(), on, cfg)
	if err != nil {
		t.Fatalf("scaled run: %v", err)
	}
	if equalData(a.Data, c.Data) {
		t.Fatal("nonzero scaling had no effect")
	}
}

func TestGuidanceUnsupported(t *testing.T) {
	// UseClsGuidance is on but ClassifierGrad is Base's, so the first step
	// must fail, not the constructor.
	ad := &guidanceWithoutGrad{toZero{min: 0.1, max: 10, shape: []int{2}}}
	cfg := DefaultConfig()
	cfg.Steps = 3
	cfg.SigmaMax = 10
	run, err := New(ad, cfg)
	if err != nil {
		t.Fatalf("New should defer the capability check, got %v", err)
	}
	if !run.Next() {
		t.Fatal("first emission is the initial state and must succeed")
	}
	if run.Next() {
		t.Fatal("step should have failed")
	}
	if !errors.Is(run.Err(), score.ErrNotImplemented) {
		t.Fatalf("Err = %v, want ErrNotImplemented", run.Err())
	}
}

type guidanceWithoutGrad struct{ toZero }

func (a *guidanceWithoutGrad) UseClsGuidance() bool { return true }

func TestConfigValidation(t *testing.T) {
	ad := &toZero{min: 0.1, max: 10, shape: []int{2}}

	cfg := DefaultConfig()
	cfg.Steps = 0
	if _, err := New(ad, cfg); !errors.Is(err, schedule.ErrStepCount) {
		t.Fatalf("steps=0: err = %v, want ErrStepCount", err)
	}

	cfg = DefaultConfig()
	cfg.Batch = 0
	if _, err := New(ad, cfg); err == nil {
		t.Fatal("batch=0: expected error")
	}

	cfg = DefaultConfig()
	cfg.SigmaMax = -1
	if _, err := New(ad, cfg); err == nil {
		t.Fatal("negative sigmaMax: expected error")
	}

	cfg = DefaultConfig()
	cfg.InitXS = tensor.New(2, []int{5}, tensor.DeviceCPU)
	cfg.Batch = 2
	if _, err := New(ad, cfg); err == nil {
		t.Fatal("shape mismatch: expected error")
	}

	cfg = DefaultConfig()
	cfg.InitXS = tensor.New(3, []int{2}, tensor.DeviceCPU)
	cfg.Batch = 2
	if _, err := New(ad, cfg); err == nil {
		t.Fatal("batch mismatch: expected error")
	}

	if _, err := New(nil, DefaultConfig()); err == nil {
		t.Fatal("nil adapter: expected error")
	}
}

func TestTickSnapping(t *testing.T) {
	ladder, err := schedule.NewLadder([]float64{8, 4, 2, 1})
	if err != nil {
		t.Fatalf("NewLadder: %v", err)
	}
	ad := &ticked{ladder: ladder}
	cfg := DefaultConfig()
	cfg.Steps = 3
	cfg.SigmaMax = 100 // clamps to the ladder top
	run, err := New(ad, cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	wantSigmas := []float64{8, 4, 1, 0}
	wantTicks := []int{0, 1, 3, score.NoTick}
	i := 0
	for run.Next() {
		if run.Sigma() != wantSigmas[i] {
			t.Fatalf("emission %d: Sigma = %g, want %g", i, run.Sigma(), wantSigmas[i])
		}
		if run.Tick() != wantTicks[i] {
			t.Fatalf("emission %d: Tick = %d, want %d", i, run.Tick(), wantTicks[i])
		}
		if run.Step() != i {
			t.Fatalf("emission %d: Step = %d", i, run.Step())
		}
		i++
	}
	if err := run.Err(); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if i != 4 {
		t.Fatalf("emitted %d states, want 4", i)
	}
}

func TestEmittedStatesNotMutated(t *testing.T) {
	ad := &toZero{min: 0.05, max: 10, shape: []int{3}}
	cfg := DefaultConfig()
	cfg.Steps = 5
	cfg.SigmaMax = 10
	cfg.Langevin = true
	cfg.Seed = 9

	run, err := New(ad, cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	var live []*tensor.Tensor
	var snaps [][]float32
	for run.Next() {
		s := run.State()
		live = append(live, s)
		cp := make([]float32, len(s.Data))
		copy(cp, s.Data)
		snaps = append(snaps, cp)
	}
	if err := run.Err(); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	for i := range live {
		if !equalData(live[i].Data, snaps[i]) {
			t.Fatalf("emission %d was mutated by a later step", i)
		}
	}
}

func TestFinalMatchesScan(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Steps = 4
	cfg.SigmaMax = 10
	cfg.Seed = 13

	scanAd := &toZero{min: 0.1, max: 10, shape: []int{2}}
	run, err := New(scanAd, cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	states := collect(t, run)

	finalAd := &toZero{min: 0.1, max: 10, shape: []int{2}}
	final, err := Final(context.Background(), finalAd, cfg)
	if err != nil {
		t.Fatalf("Final: %v", err)
	}
	if !equalData(final.Data, states[len(states)-1].Data) {
		t.Fatal("Final disagrees with the scanned terminal state")
	}
}

func TestFinalCancelled(t *testing.T) {
	ad := &toZero{min: 0.1, max: 10, shape: []int{2}}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := Final(ctx, ad, DefaultConfig()); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

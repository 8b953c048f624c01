package toy

import (
	"context"
	"math"
	"testing"

	"github.com/samcharles93/drift/internal/sampler"
	"github.com/samcharles93/drift/internal/score"
	"github.com/samcharles93/drift/internal/tensor"
)

func tensorOf(vals ...float32) *tensor.Tensor {
	t := tensor.New(1, []int{len(vals)}, tensor.DeviceCPU)
	copy(t.Data, vals)
	return t
}

func TestSingleComponentDenoisesToMean(t *testing.T) {
	m, err := NewMixture([][]float64{{2, -1}}, nil)
	if err != nil {
		t.Fatalf("NewMixture: %v", err)
	}
	xs := tensorOf(17, 4)
	for _, sigma := range []float64{0.01, 1, 50} {
		den, err := m.Denoise(xs, sigma, nil)
		if err != nil {
			t.Fatalf("Denoise: %v", err)
		}
		if den.Data[0] != 2 || den.Data[1] != -1 {
			t.Fatalf("sigma %g: denoised = %v, want the component mean", sigma, den.Data)
		}
	}
}

func TestNearestComponentDominatesAtLowSigma(t *testing.T) {
	m, err := NewMixture([][]float64{{-5}, {5}}, nil)
	if err != nil {
		t.Fatalf("NewMixture: %v", err)
	}
	den, err := m.Denoise(tensorOf(-4.5), 0.1, nil)
	if err != nil {
		t.Fatalf("Denoise: %v", err)
	}
	if d := math.Abs(float64(den.Data[0]) + 5); d > 1e-6 {
		t.Fatalf("denoised = %g, want -5 within 1e-6", den.Data[0])
	}
}

func TestEquidistantBlendsToMidpoint(t *testing.T) {
	m, err := NewMixture([][]float64{{-3}, {3}}, nil)
	if err != nil {
		t.Fatalf("NewMixture: %v", err)
	}
	den, err := m.Denoise(tensorOf(0), 2, nil)
	if err != nil {
		t.Fatalf("Denoise: %v", err)
	}
	if d := math.Abs(float64(den.Data[0])); d > 1e-7 {
		t.Fatalf("denoised = %g, want 0", den.Data[0])
	}
}

func TestWeightsShiftTheBlend(t *testing.T) {
	m, err := NewMixture([][]float64{{-3}, {3}}, []float64{3, 1})
	if err != nil {
		t.Fatalf("NewMixture: %v", err)
	}
	den, err := m.Denoise(tensorOf(0), 2, nil)
	if err != nil {
		t.Fatalf("Denoise: %v", err)
	}
	if den.Data[0] >= 0 {
		t.Fatalf("denoised = %g, want negative pull toward the heavier component", den.Data[0])
	}
}

func TestClassifierGradPointsAtTarget(t *testing.T) {
	m, err := NewMixture([][]float64{{-3}, {3}}, nil)
	if err != nil {
		t.Fatalf("NewMixture: %v", err)
	}
	xs := tensorOf(0)
	cond := &score.Cond{Labels: []int{1}}
	g, err := m.ClassifierGrad(xs, 2, cond)
	if err != nil {
		t.Fatalf("ClassifierGrad: %v", err)
	}
	// Posterior mean at 0 is 0, so the gradient is (3 - 0)/4.
	if d := math.Abs(float64(g.Data[0]) - 0.75); d > 1e-6 {
		t.Fatalf("grad = %g, want 0.75", g.Data[0])
	}

	cond.Labels[0] = 0
	g, err = m.ClassifierGrad(xs, 2, cond)
	if err != nil {
		t.Fatalf("ClassifierGrad: %v", err)
	}
	if d := math.Abs(float64(g.Data[0]) + 0.75); d > 1e-6 {
		t.Fatalf("grad = %g, want -0.75", g.Data[0])
	}
}

func TestClassifierGradNeedsLabels(t *testing.T) {
	m, err := NewMixture([][]float64{{-3}, {3}}, nil)
	if err != nil {
		t.Fatalf("NewMixture: %v", err)
	}
	if _, err := m.ClassifierGrad(tensorOf(0), 2, nil); err == nil {
		t.Fatal("expected error without labels")
	}
	if _, err := m.ClassifierGrad(tensorOf(0), 2, &score.Cond{Labels: []int{7}}); err == nil {
		t.Fatal("expected error for out-of-range label")
	}
}

func TestNewMixtureValidation(t *testing.T) {
	if _, err := NewMixture(nil, nil); err == nil {
		t.Fatal("expected error for no components")
	}
	if _, err := NewMixture([][]float64{{1, 2}, {1}}, nil); err == nil {
		t.Fatal("expected error for ragged means")
	}
	if _, err := NewMixture([][]float64{{1}}, []float64{1, 2}); err == nil {
		t.Fatal("expected error for weight count mismatch")
	}
	if _, err := NewMixture([][]float64{{1}, {2}}, []float64{1, 0}); err == nil {
		t.Fatal("expected error for zero weight")
	}
}

func TestSamplingConvergesToComponent(t *testing.T) {
	m, err := NewMixture([][]float64{{2, -1}}, nil)
	if err != nil {
		t.Fatalf("NewMixture: %v", err)
	}
	cfg := sampler.DefaultConfig()
	cfg.Steps = 30
	cfg.Batch = 4
	cfg.Seed = 1

	final, err := sampler.Final(context.Background(), m, cfg)
	if err != nil {
		t.Fatalf("Final: %v", err)
	}
	// The terminal step of the exact denoiser lands on the posterior mean,
	// which for one component is the component itself.
	for s := 0; s < final.Batch; s++ {
		v := final.Sample(s)
		if math.Abs(float64(v[0])-2) > 1e-4 || math.Abs(float64(v[1])+1) > 1e-4 {
			t.Fatalf("sample %d = %v, want (2, -1)", s, v)
		}
	}
}

func TestGuidanceSelectsComponent(t *testing.T) {
	runTo := func(target int) float64 {
		m, err := NewMixture([][]float64{{-3}, {3}}, nil)
		if err != nil {
			t.Fatalf("NewMixture: %v", err)
		}
		m.Guidance = true
		m.Target = target

		cfg := sampler.DefaultConfig()
		cfg.Steps = 20
		cfg.ClsScaling = 4
		cfg.Seed = 77
		final, err := sampler.Final(context.Background(), m, cfg)
		if err != nil {
			t.Fatalf("Final: %v", err)
		}
		return float64(final.Data[0])
	}

	toLeft := runTo(0)
	toRight := runTo(1)
	if !(math.Abs(toLeft+3) < math.Abs(toLeft-3)) {
		t.Fatalf("target 0 landed at %g, not nearer -3", toLeft)
	}
	if !(math.Abs(toRight-3) < math.Abs(toRight+3)) {
		t.Fatalf("target 1 landed at %g, not nearer 3", toRight)
	}
}

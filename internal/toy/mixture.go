// Package toy provides a tiny analytic score model used for testing and
// demonstration. Its data distribution is a mixture of point masses, for
// which the optimal denoiser has a closed form, so sampler behaviour can be
// checked against exact math instead of a trained network.
package toy

import (
	"fmt"
	"math"

	"github.com/samcharles93/drift/internal/score"
	"github.com/samcharles93/drift/internal/tensor"
)

// Mixture models data drawn from a weighted set of fixed points in R^dim.
// Noised with level sigma, the marginal is a Gaussian mixture, and the exact
// posterior mean is a responsibility-weighted blend of the component means.
// Only Denoise is implemented; the score falls out of the standard
// derivation. With Guidance enabled the mixture also exposes the exact
// classifier gradient toward the Target component.
type Mixture struct {
	score.Base

	Means   [][]float64 // K x dim component locations
	Weights []float64   // K prior weights, normalised to sum 1

	MinSigma float64
	MaxSigma float64

	Guidance bool
	Target   int
}

var _ score.Adapter = (*Mixture)(nil)

// NewMixture builds a mixture over the given component means. A nil weights
// slice means uniform. Noise bounds default to [0.002, 80].
func NewMixture(means [][]float64, weights []float64) (*Mixture, error) {
	if len(means) == 0 {
		return nil, fmt.Errorf("toy: mixture needs at least one component")
	}
	dim := len(means[0])
	if dim == 0 {
		return nil, fmt.Errorf("toy: component 0 has no dimensions")
	}
	for k, mu := range means {
		if len(mu) != dim {
			return nil, fmt.Errorf("toy: component %d has %d dims, component 0 has %d", k, len(mu), dim)
		}
	}
	if weights == nil {
		weights = make([]float64, len(means))
		for k := range weights {
			weights[k] = 1
		}
	}
	if len(weights) != len(means) {
		return nil, fmt.Errorf("toy: %d weights for %d components", len(weights), len(means))
	}
	var sum float64
	for k, w := range weights {
		if w <= 0 {
			return nil, fmt.Errorf("toy: weight %d is %g, want positive", k, w)
		}
		sum += w
	}
	norm := make([]float64, len(weights))
	for k, w := range weights {
		norm[k] = w / sum
	}
	return &Mixture{
		Means:    means,
		Weights:  norm,
		MinSigma: 0.002,
		MaxSigma: 80,
	}, nil
}

func (m *Mixture) DataShape() []int  { return []int{len(m.Means[0])} }
func (m *Mixture) SigmaMin() float64 { return m.MinSigma }
func (m *Mixture) SigmaMax() float64 { return m.MaxSigma }

func (m *Mixture) UseClsGuidance() bool { return m.Guidance }

// SampsCentered is false: mixture samples are raw coordinates, not signals
// normalised into [-1,1], so exports must not rescale them.
func (m *Mixture) SampsCentered() bool { return false }

// CondInfo labels every sample with the guidance target. Without guidance
// the mixture is unconditional and returns no bundle.
func (m *Mixture) CondInfo(batch int) (*score.Cond, error) {
	if !m.Guidance {
		return nil, nil
	}
	if m.Target < 0 || m.Target >= len(m.Means) {
		return nil, fmt.Errorf("toy: target %d outside %d components", m.Target, len(m.Means))
	}
	labels := make([]int, batch)
	for i := range labels {
		labels[i] = m.Target
	}
	return &score.Cond{Labels: labels}, nil
}

// Denoise returns the exact posterior mean E[x0|xs] at noise level sigma.
func (m *Mixture) Denoise(xs *tensor.Tensor, sigma float64, cond *score.Cond) (*tensor.Tensor, error) {
	if sigma <= 0 {
		return nil, fmt.Errorf("toy: denoise at non-positive sigma %g", sigma)
	}
	out := tensor.New(xs.Batch, xs.Shape, xs.Device)
	dim := xs.SampleSize()
	resp := make([]float64, len(m.Means))
	for s := 0; s < xs.Batch; s++ {
		x := xs.Sample(s)
		m.responsibilities(x, sigma, resp)
		o := out.Sample(s)
		for j := 0; j < dim; j++ {
			var v float64
			for k, r := range resp {
				v += r * m.Means[k][j]
			}
			o[j] = float32(v)
		}
	}
	return out, nil
}

// ClassifierGrad returns grad_x log p(label|xs), which for a point-mass
// mixture reduces to (mu_label - E[x0|xs]) / sigma^2.
func (m *Mixture) ClassifierGrad(xs *tensor.Tensor, sigma float64, cond *score.Cond) (*tensor.Tensor, error) {
	if cond == nil || len(cond.Labels) != xs.Batch {
		return nil, fmt.Errorf("toy: classifier gradient needs one label per sample")
	}
	den, err := m.Denoise(xs, sigma, nil)
	if err != nil {
		return nil, err
	}
	out := tensor.New(xs.Batch, xs.Shape, xs.Device)
	dim := xs.SampleSize()
	inv := 1 / (sigma * sigma)
	for s := 0; s < xs.Batch; s++ {
		y := cond.Labels[s]
		if y < 0 || y >= len(m.Means) {
			return nil, fmt.Errorf("toy: label %d outside %d components", y, len(m.Means))
		}
		d := den.Sample(s)
		o := out.Sample(s)
		for j := 0; j < dim; j++ {
			o[j] = float32((m.Means[y][j] - float64(d[j])) * inv)
		}
	}
	return out, nil
}

// responsibilities fills resp with the posterior component probabilities of
// one noisy sample, computed through a log-sum-exp so widely separated
// components do not underflow.
func (m *Mixture) responsibilities(x []float32, sigma float64, resp []float64) {
	inv := 1 / (2 * sigma * sigma)
	maxLog := math.Inf(-1)
	for k, mu := range m.Means {
		var d2 float64
		for j, v := range mu {
			d := float64(x[j]) - v
			d2 += d * d
		}
		resp[k] = math.Log(m.Weights[k]) - d2*inv
		if resp[k] > maxLog {
			maxLog = resp[k]
		}
	}
	var denom float64
	for k := range resp {
		resp[k] = math.Exp(resp[k] - maxLog)
		denom += resp[k]
	}
	for k := range resp {
		resp[k] /= denom
	}
}

// Package score defines the contract between the sampler and a pretrained
// denoising model. An adapter wraps one checkpoint and answers the handful of
// questions the integrator asks: evaluate the model at a noise level, report
// the trained sigma range, and describe optional capabilities such as
// conditioning, classifier guidance and discrete-tick snapping.
package score

import (
	"errors"
	"fmt"

	"github.com/samcharles93/drift/internal/tensor"
)

// NoTick is the tick index reported by adapters that operate on a continuous
// noise range and never snap.
const NoTick = -1

// ErrNotImplemented marks a capability the adapter does not provide. Base
// returns it from every optional method; callers test with errors.Is and
// either fall back or refuse the run.
var ErrNotImplemented = errors.New("score: not implemented")

// Cond is the conditioning bundle prepared once per run and handed back to
// the adapter on every model call. Labels carries per-sample class targets
// for label-conditioned models; Values holds whatever else the adapter
// stashed, such as encoded prompt embeddings. The sampler never looks
// inside, it only keeps the bundle alive for the duration of the run.
type Cond struct {
	Labels []int
	Values map[string]any
}

// Adapter is the capability surface a model checkpoint exposes to the
// sampler.
//
// Denoise and Score are two views of the same model: Denoise returns the
// expected clean data E[x0|xs] at noise level sigma, Score the gradient of
// the log density. Implementations override at least one; Eval bridges to
// whichever is present. The remaining methods describe the checkpoint:
// DataShape is the per-sample shape, SigmaMin and SigmaMax the trained noise
// range, and Device where the adapter wants its tensors.
//
// CondInfo builds the conditioning bundle for a batch; it runs once per run,
// before the first step. UNetIsCond reports whether the model consumes that
// bundle at all. UseClsGuidance asks for classifier guidance, in which case
// ClassifierGrad must return grad_x log p(label|xs) at the given level.
// SnapToTick quantises a requested noise level onto the model's trained
// ticks, returning the snapped level and tick index, or the level unchanged
// and NoTick for continuous models.
type Adapter interface {
	Denoise(xs *tensor.Tensor, sigma float64, cond *Cond) (*tensor.Tensor, error)
	Score(xs *tensor.Tensor, sigma float64, cond *Cond) (*tensor.Tensor, error)

	DataShape() []int
	SigmaMin() float64
	SigmaMax() float64
	Device() tensor.Device

	CondInfo(batch int) (*Cond, error)
	UNetIsCond() bool

	UseClsGuidance() bool
	ClassifierGrad(xs *tensor.Tensor, sigma float64, cond *Cond) (*tensor.Tensor, error)

	SnapToTick(sigma float64) (float64, int)
	SampsCentered() bool
}

// Base supplies defaults for every optional capability: no conditioning, no
// classifier guidance, continuous noise levels, centered samples, CPU
// placement, and neither model view implemented. Embed it and override what
// the checkpoint actually supports.
type Base struct{}

func (Base) Denoise(*tensor.Tensor, float64, *Cond) (*tensor.Tensor, error) {
	return nil, fmt.Errorf("denoise: %w", ErrNotImplemented)
}

func (Base) Score(*tensor.Tensor, float64, *Cond) (*tensor.Tensor, error) {
	return nil, fmt.Errorf("score: %w", ErrNotImplemented)
}

func (Base) CondInfo(int) (*Cond, error) { return nil, nil }

func (Base) UNetIsCond() bool { return false }

func (Base) UseClsGuidance() bool { return false }

func (Base) ClassifierGrad(*tensor.Tensor, float64, *Cond) (*tensor.Tensor, error) {
	return nil, fmt.Errorf("classifier grad: %w", ErrNotImplemented)
}

func (Base) SnapToTick(sigma float64) (float64, int) { return sigma, NoTick }

func (Base) SampsCentered() bool { return true }

func (Base) Device() tensor.Device { return tensor.DeviceCPU }

// FromDenoise converts a denoiser output into a score estimate,
// (denoised - xs) / sigma^2, allocating the result.
func FromDenoise(denoised, xs *tensor.Tensor, sigma float64) *tensor.Tensor {
	out := denoised.Clone()
	tensor.Sub(out, xs)
	tensor.Scale(out, 1/(sigma*sigma))
	return out
}

// Denormalize prepares samples for export: adapters whose samples are
// centered in [-1,1] get mapped to [0,1], everything else passes through
// untouched. The input tensor is never modified.
func Denormalize(a Adapter, t *tensor.Tensor) *tensor.Tensor {
	if !a.SampsCentered() {
		return t
	}
	out := t.Clone()
	tensor.Shift(out, 1)
	tensor.Scale(out, 0.5)
	return out
}

// Eval returns the score of a at (xs, sigma), using the adapter's own Score
// when present and otherwise deriving it from Denoise. An adapter that
// implements neither is a configuration error.
func Eval(a Adapter, xs *tensor.Tensor, sigma float64, cond *Cond) (*tensor.Tensor, error) {
	s, err := a.Score(xs, sigma, cond)
	if err == nil {
		return s, nil
	}
	if !errors.Is(err, ErrNotImplemented) {
		return nil, err
	}
	d, derr := a.Denoise(xs, sigma, cond)
	if derr != nil {
		if errors.Is(derr, ErrNotImplemented) {
			return nil, fmt.Errorf("score: adapter implements neither Score nor Denoise: %w", ErrNotImplemented)
		}
		return nil, derr
	}
	return FromDenoise(d, xs, sigma), nil
}

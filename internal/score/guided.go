package score

import "github.com/samcharles93/drift/internal/tensor"

// Guided applies classifier-free guidance around a conditional adapter. Both
// model views are evaluated twice per call, once with the run's conditioning
// and once with Uncond, and blended as uncond + Scale*(cond - uncond). Scale
// 1 reduces to the conditional branch and skips the second evaluation.
//
// The wrapped adapter must be safe to call twice per step; everything else
// passes through unchanged.
type Guided struct {
	Adapter
	Scale  float64
	Uncond *Cond
}

var _ Adapter = (*Guided)(nil)

func (g *Guided) Denoise(xs *tensor.Tensor, sigma float64, cond *Cond) (*tensor.Tensor, error) {
	c, err := g.Adapter.Denoise(xs, sigma, cond)
	if err != nil {
		return nil, err
	}
	if g.Scale == 1 {
		return c, nil
	}
	u, err := g.Adapter.Denoise(xs, sigma, g.Uncond)
	if err != nil {
		return nil, err
	}
	return blend(u, c, g.Scale), nil
}

func (g *Guided) Score(xs *tensor.Tensor, sigma float64, cond *Cond) (*tensor.Tensor, error) {
	c, err := Eval(g.Adapter, xs, sigma, cond)
	if err != nil {
		return nil, err
	}
	if g.Scale == 1 {
		return c, nil
	}
	u, err := Eval(g.Adapter, xs, sigma, g.Uncond)
	if err != nil {
		return nil, err
	}
	return blend(u, c, g.Scale), nil
}

// blend returns u + scale*(c-u) without mutating either input.
func blend(u, c *tensor.Tensor, scale float64) *tensor.Tensor {
	out := c.Clone()
	tensor.Sub(out, u)
	tensor.Scale(out, scale)
	tensor.Add(out, u)
	return out
}

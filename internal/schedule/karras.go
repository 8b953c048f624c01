// Package schedule produces the noise-level sequences a sampling run visits:
// continuous generators (Karras power rule, geometric interpolation) and the
// discrete tick ladders used by models that only operate at fixed levels.
package schedule

import (
	"errors"
	"fmt"
	"math"
)

// DefaultRho is the exponent of the Karras spacing rule. Larger values put
// more of the step budget near the low-noise end.
const DefaultRho = 7.0

// ErrStepCount is returned when a generator is asked for fewer points than
// its spacing rule can produce.
var ErrStepCount = errors.New("schedule: invalid step count")

// Karras returns n noise levels from sigmaMax down to sigmaMin spaced by the
// rho power rule:
//
//	t_i = (sigmaMax^(1/rho) + i/(n-1)*(sigmaMin^(1/rho) - sigmaMax^(1/rho)))^rho
//
// The sequence is strictly decreasing with t_0 = sigmaMax and t_{n-1} =
// sigmaMin exactly. n must be at least 2: the i/(n-1) ramp is undefined for a
// single point, and callers wanting one level already know which one.
func Karras(rho float64, n int, sigmaMax, sigmaMin float64) ([]float64, error) {
	if n < 2 {
		return nil, fmt.Errorf("%w: need at least 2 points, got %d", ErrStepCount, n)
	}
	if rho <= 0 {
		return nil, fmt.Errorf("schedule: rho must be positive, got %g", rho)
	}
	if sigmaMin <= 0 || sigmaMax <= sigmaMin {
		return nil, fmt.Errorf("schedule: need sigmaMax > sigmaMin > 0, got %g and %g", sigmaMax, sigmaMin)
	}

	maxInv := math.Pow(sigmaMax, 1/rho)
	minInv := math.Pow(sigmaMin, 1/rho)
	ts := make([]float64, n)
	for i := range ts {
		u := float64(i) / float64(n-1)
		ts[i] = math.Pow(maxInv+u*(minInv-maxInv), rho)
	}
	// The pow round trip can miss the bounds by a few ulps; the endpoints are
	// contractual, so pin them.
	ts[0] = sigmaMax
	ts[n-1] = sigmaMin
	return ts, nil
}

// Power returns a geometric ladder of stages levels from sigmaMax down to
// sigmaMin: log-linear interpolation with both endpoints included. A single
// stage yields just sigmaMax. Used by staged samplers that anneal in coarse
// phases rather than per-step.
func Power(sigmaMax, sigmaMin float64, stages int) ([]float64, error) {
	if stages < 1 {
		return nil, fmt.Errorf("%w: need at least 1 stage, got %d", ErrStepCount, stages)
	}
	if sigmaMin <= 0 || sigmaMax < sigmaMin {
		return nil, fmt.Errorf("schedule: need sigmaMax >= sigmaMin > 0, got %g and %g", sigmaMax, sigmaMin)
	}
	if stages == 1 {
		return []float64{sigmaMax}, nil
	}

	logMax := math.Log(sigmaMax)
	logMin := math.Log(sigmaMin)
	sigmas := make([]float64, stages)
	for i := range sigmas {
		u := float64(i) / float64(stages-1)
		sigmas[i] = math.Exp(logMax + u*(logMin-logMax))
	}
	sigmas[0] = sigmaMax
	sigmas[stages-1] = sigmaMin
	return sigmas, nil
}

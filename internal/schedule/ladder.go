package schedule

import (
	"fmt"
	"math"
)

// Ladder is a fixed, strictly decreasing set of noise levels ("ticks").
// Models trained on a discrete diffusion process only know how to denoise at
// these levels, so continuous schedules get snapped onto the nearest tick
// before the model ever sees them.
type Ladder struct {
	us []float64
}

// NewLadder wraps a strictly decreasing sequence of positive levels. The
// slice is not copied; callers hand ownership over.
func NewLadder(us []float64) (*Ladder, error) {
	if len(us) == 0 {
		return nil, fmt.Errorf("schedule: empty ladder")
	}
	for i, u := range us {
		if u <= 0 {
			return nil, fmt.Errorf("schedule: ladder level %d is %g, want positive", i, u)
		}
		if i > 0 && u >= us[i-1] {
			return nil, fmt.Errorf("schedule: ladder not strictly decreasing at level %d", i)
		}
	}
	return &Ladder{us: us}, nil
}

// Len reports the number of ticks.
func (l *Ladder) Len() int { return len(l.us) }

// Level returns the noise level of tick j. Tick 0 is the highest level.
func (l *Ladder) Level(j int) float64 { return l.us[j] }

// Max returns the highest level on the ladder.
func (l *Ladder) Max() float64 { return l.us[0] }

// Min returns the lowest level on the ladder.
func (l *Ladder) Min() float64 { return l.us[len(l.us)-1] }

// Snap returns the tick closest to t in absolute distance, and its index.
// Ties resolve to the lower index, i.e. the higher level.
func (l *Ladder) Snap(t float64) (float64, int) {
	best := 0
	bestDist := abs(t - l.us[0])
	for j := 1; j < len(l.us); j++ {
		if d := abs(t - l.us[j]); d < bestDist {
			best, bestDist = j, d
		}
	}
	return l.us[best], best
}

// TimeIndex converts a tick index into the timestep the underlying diffusion
// model was trained with. Tick 0 (highest noise) maps to the last timestep.
func (l *Ladder) TimeIndex(j int) int { return len(l.us) - 1 - j }

func abs(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}

// Default variance endpoints of the scaled-linear beta ramp used by latent
// diffusion checkpoints.
const (
	linearBetaStart = 0.00085
	linearBetaEnd   = 0.0120
)

// LinearLadder builds the m-tick ladder of a scaled-linear DDPM forward
// process: betas interpolated in sqrt space, cumulative alpha products, and
// levels sqrt((1-a)/a), ordered from highest noise down. Stable Diffusion
// style checkpoints use m = 1000.
func LinearLadder(m int) (*Ladder, error) {
	if m < 2 {
		return nil, fmt.Errorf("%w: need at least 2 ticks, got %d", ErrStepCount, m)
	}
	sqrtStart := math.Sqrt(linearBetaStart)
	sqrtEnd := math.Sqrt(linearBetaEnd)

	us := make([]float64, m)
	alpha := 1.0
	for i := 0; i < m; i++ {
		b := sqrtStart + float64(i)/float64(m-1)*(sqrtEnd-sqrtStart)
		alpha *= 1 - b*b
		// Timestep i becomes tick m-1-i: the ladder runs high to low.
		us[m-1-i] = math.Sqrt((1 - alpha) / alpha)
	}
	return &Ladder{us: us}, nil
}

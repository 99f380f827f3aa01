package neuralgpu

import (
	"math"

	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anynet/anysgd"
	"github.com/unixpickle/neuralgpu/cgru"
)

// newAdam creates the model's optimizer.
//
// anysgd.Adam adds its damping under the square root of
// the second moment, so epsilon is squared to keep the
// usual sqrt(v)+epsilon magnitude.
func newAdam(epsilon float64) *anysgd.Adam {
	return &anysgd.Adam{
		DecayRate1: 0.9,
		DecayRate2: 0.999,
		Damping:    epsilon * epsilon,
	}
}

// adamStep applies one Adam update to the variables of g.
// The gradient is overwritten.
func adamStep(a *anysgd.Adam, g anydiff.Grad, lr float64) {
	if len(g) == 0 {
		return
	}
	step := a.Transform(g)
	for _, v := range step {
		step.Scale(v.Creator().MakeNumeric(-lr))
		break
	}
	step.AddToVars()
}

// clipGlobalNorm scales the gradient so that its global
// norm is at most max.
// It returns the norm from before clipping.
func clipGlobalNorm(g anydiff.Grad, max float64) float64 {
	var sqSum float64
	for _, vec := range g {
		sqSum += cgru.Float(vec.Dot(vec))
	}
	norm := math.Sqrt(sqSum)
	if norm > max {
		for _, vec := range g {
			vec.Scale(vec.Creator().MakeNumeric(max / norm))
		}
	}
	return norm
}

package rx

import (
	"math"

	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/neuralgpu/cgru"
)

// A Quantizer rounds values in [-MaxValue, MaxValue] to a
// grid with Scale points per unit.
//
// As a cgru.DualOp, it passes gradients straight through
// the rounding step.
type Quantizer struct {
	Scale    float64
	MaxValue float64
}

// Forward clamps and rounds x.
func (q *Quantizer) Forward(x float64) float64 {
	t := math.Min(q.MaxValue, math.Max(x, -q.MaxValue))
	big := q.Scale*(t+q.MaxValue) + 0.5
	return math.Floor(big)/q.Scale - q.MaxValue
}

// BackwardSurrogate is the derivative of the clamp alone.
func (q *Quantizer) BackwardSurrogate(x float64) float64 {
	if x >= -q.MaxValue && x <= q.MaxValue {
		return 1
	}
	return 0
}

// Apply quantizes every component of in.
func (q *Quantizer) Apply(in anydiff.Res) anydiff.Res {
	return cgru.ApplyDual(in, q)
}

// QuantizeVars quantizes the variables in place.
func (q *Quantizer) QuantizeVars(vars []*anydiff.Var) {
	for _, v := range vars {
		v.Vector.Set(q.Apply(v).Output())
	}
}

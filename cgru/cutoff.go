package cgru

import (
	"fmt"
	"math"

	"github.com/unixpickle/anydiff"
)

// Bounds is a closed interval.
type Bounds struct {
	Lo float64
	Hi float64
}

// clip is a DualOp that clamps to Valid in the forward
// pass and differentiates like a clamp to Grad.
type clip struct {
	Valid Bounds
	Grad  Bounds
}

func (c *clip) Forward(x float64) float64 {
	return math.Max(c.Valid.Lo, math.Min(c.Valid.Hi, x))
}

func (c *clip) BackwardSurrogate(x float64) float64 {
	if x >= c.Grad.Lo && x <= c.Grad.Hi {
		return 1
	}
	return 0
}

// Cutoff clamps in to the valid range.
//
// If valid is nil, in is returned unchanged.
// If grad is non-nil, the forward value is still clamped
// to the valid range, but gradients flow as though the
// value were clamped to the wider grad range instead.
//
// Cutoff panics unless grad.Hi >= valid.Hi > valid.Lo >=
// grad.Lo.
func Cutoff(in anydiff.Res, valid, grad *Bounds) anydiff.Res {
	if valid == nil {
		return in
	}
	op := &clip{Valid: *valid, Grad: *valid}
	if grad != nil {
		if !(grad.Hi >= valid.Hi && valid.Hi > valid.Lo && valid.Lo >= grad.Lo) {
			panic(fmt.Sprintf("invalid cutoff bounds: valid %v, grad %v", *valid, *grad))
		}
		op.Grad = *grad
	}
	return ApplyDual(in, op)
}

// PlainCutoff is the largest cutoff for which the bounded
// activations reduce to their plain counterparts.
const PlainCutoff = 1.01

// BoundedSigmoid computes a sigmoid stretched by cutoff
// and clamped back to [0, 1], e.g. 1.2*sigmoid(x)-0.1.
//
// If smooth is non-zero, gradients flow as though the
// clamp were to [-(smooth-1)/2, 1+(smooth-1)/2].
func BoundedSigmoid(x anydiff.Res, cutoff, smooth float64) anydiff.Res {
	y := anydiff.Sigmoid(x)
	if cutoff <= PlainCutoff {
		return y
	}
	c := y.Output().Creator()
	d := (cutoff - 1) / 2
	z := anydiff.AddScalar(anydiff.Scale(y, c.MakeNumeric(cutoff)), c.MakeNumeric(-d))
	var grad *Bounds
	if smooth != 0 {
		dd := (smooth - 1) / 2
		grad = &Bounds{Lo: -dd, Hi: 1 + dd}
	}
	return Cutoff(z, &Bounds{Lo: 0, Hi: 1}, grad)
}

// BoundedTanh computes cutoff*tanh(x) clamped to [-1, 1].
//
// If smooth is non-zero, gradients flow as though the
// clamp were to [-smooth, smooth].
func BoundedTanh(x anydiff.Res, cutoff, smooth float64) anydiff.Res {
	y := anydiff.Tanh(x)
	if cutoff <= PlainCutoff {
		return y
	}
	c := y.Output().Creator()
	z := anydiff.Scale(y, c.MakeNumeric(cutoff))
	var grad *Bounds
	if smooth != 0 {
		grad = &Bounds{Lo: -smooth, Hi: smooth}
	}
	return Cutoff(z, &Bounds{Lo: -1, Hi: 1}, grad)
}

// Activations stores the cutoff configuration for the
// gates of a convolutional GRU.
type Activations struct {
	// Cutoff applies to the reset and update gates.
	Cutoff     float64
	SmoothGrad float64

	// CutoffTanh applies to the candidate.
	CutoffTanh     float64
	SmoothGradTanh float64
}

// Sigmoid applies the gate activation.
func (a *Activations) Sigmoid(x anydiff.Res) anydiff.Res {
	return BoundedSigmoid(x, a.Cutoff, a.SmoothGrad)
}

// Tanh applies the candidate activation.
func (a *Activations) Tanh(x anydiff.Res) anydiff.Res {
	return BoundedTanh(x, a.CutoffTanh, a.SmoothGradTanh)
}

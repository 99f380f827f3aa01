package neuralgpu

import (
	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anyvec"
	"github.com/unixpickle/neuralgpu/cgru"
)

type crossEntropy struct {
	Loss     anydiff.Res
	LogProbs anydiff.Res

	// Count is the number of unmasked positions.
	Count float64
}

// maskedCrossEntropy computes the mean softmax
// cross-entropy between rows of logits and target
// classes, ignoring rows where the mask is zero.
//
// The mean is taken over unmasked positions only, rather
// than over every position of the padded batch, so
// padding does not shrink the loss or its gradient.
// If every row is masked, the loss is zero.
func maskedCrossEntropy(logits anydiff.Res, targets []int, mask []float64,
	numClass int) *crossEntropy {
	res := &crossEntropy{}
	weights := make([]float64, len(targets)*numClass)
	for pos, target := range targets {
		if mask[pos] == 0 {
			continue
		}
		weights[pos*numClass+target] = mask[pos]
		res.Count += mask[pos]
	}
	norm := res.Count
	if norm == 0 {
		norm = 1
	}

	c := logits.Output().Creator()
	res.LogProbs = anydiff.LogSoftmax(logits, numClass)
	dots := anydiff.Mul(res.LogProbs, anydiff.NewConst(cgru.MakeVector(c, weights)))
	res.Loss = anydiff.Scale(anydiff.Sum(dots), c.MakeNumeric(-1/norm))
	return res
}

// Value returns the loss as a float.
func (x *crossEntropy) Value() float64 {
	return cgru.Float64s(x.Loss.Output())[0]
}

// Probs returns the softmax of every row of the logits.
func (x *crossEntropy) Probs() []float64 {
	probs := x.LogProbs.Output().Copy()
	anyvec.Exp(probs)
	return cgru.Float64s(probs)
}

// softmax computes the softmax of every row in a
// row-major matrix.
func softmax(v anyvec.Vector, cols int) []float64 {
	v = v.Copy()
	anyvec.LogSoftmax(v, cols)
	anyvec.Exp(v)
	return cgru.Float64s(v)
}

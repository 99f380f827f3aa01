package neuralgpu

import (
	"math"
	"testing"

	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anyvec/anyvec64"
)

func TestCrossEntropyValue(t *testing.T) {
	c := anyvec64.DefaultCreator{}
	logits := anydiff.NewVar(c.MakeVectorData([]float64{
		0, 0,
		math.Log(3), 0,
		5, -2,
	}))
	res := maskedCrossEntropy(logits, []int{1, 0, 1}, []float64{1, 1, 0}, 2)

	// The masked row does not count towards the mean.
	expected := (math.Log(2) + math.Log(4.0/3)) / 2
	if actual := res.Value(); math.Abs(actual-expected) > 1e-8 {
		t.Errorf("expected %f but got %f", expected, actual)
	}
	if res.Count != 2 {
		t.Errorf("expected count 2 but got %f", res.Count)
	}
	probs := res.Probs()
	for i, x := range []float64{0.5, 0.5, 0.75, 0.25} {
		if math.Abs(probs[i]-x) > 1e-8 {
			t.Errorf("probability %d: expected %f got %f", i, x, probs[i])
		}
	}
}

func TestCrossEntropyMasked(t *testing.T) {
	c := anyvec64.DefaultCreator{}
	logits := testVar(c, 6)
	res := maskedCrossEntropy(logits, []int{0, 1, 1}, []float64{0, 0, 0}, 2)
	if res.Value() != 0 {
		t.Errorf("expected zero loss but got %f", res.Value())
	}
	grad := anydiff.NewGrad(logits)
	res.Loss.Propagate(c.MakeVectorData([]float64{1}), grad)
	for i, x := range grad[logits].Data().([]float64) {
		if math.Abs(x) > 1e-12 {
			t.Errorf("gradient %d should be zero but is %f", i, x)
		}
	}
}

func TestCrossEntropyGradient(t *testing.T) {
	c := anyvec64.DefaultCreator{}
	logits := testVar(c, 12)
	testFiniteDiff(t, func() anydiff.Res {
		return maskedCrossEntropy(logits, []int{0, 3, 2}, []float64{1, 0, 1}, 4).Loss
	})
}

func TestSoftmax(t *testing.T) {
	c := anyvec64.DefaultCreator{}
	probs := softmax(c.MakeVectorData([]float64{1000, 1000, 0, math.Log(3)}), 2)
	expected := []float64{0.5, 0.5, 0.25, 0.75}
	for i, x := range expected {
		if math.Abs(probs[i]-x) > 1e-8 {
			t.Errorf("entry %d: expected %f got %f", i, x, probs[i])
		}
	}
}

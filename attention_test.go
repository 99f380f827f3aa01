package neuralgpu

import (
	"math"
	"testing"

	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anyvec/anyvec64"
)

func TestAttendOutput(t *testing.T) {
	c := anyvec64.DefaultCreator{}

	// One batch element, k=2, states of size 2.
	in := anydiff.NewVar(c.MakeVectorData([]float64{
		1, 0, // key 0
		0, 1, // key 1
		3, 4, // value 0
		5, 6, // value 1
		math.Log(3), 0, // query
	}))
	res := attend(in, 2, 1, 2)
	if math.Abs(res.Probs[0]-0.75) > 1e-8 || math.Abs(res.Probs[1]-0.25) > 1e-8 {
		t.Errorf("unexpected probabilities: %v", res.Probs)
	}
	expected := []float64{0.75*3 + 0.25*5, 0.75*4 + 0.25*6}
	actual := res.Output().Data().([]float64)
	for i, x := range expected {
		if math.Abs(actual[i]-x) > 1e-8 {
			t.Errorf("entry %d: expected %f got %f", i, x, actual[i])
		}
	}
}

func TestAttendGradient(t *testing.T) {
	c := anyvec64.DefaultCreator{}
	const (
		k     = 3
		batch = 2
		size  = 4
	)
	in := testVar(c, (2*k+1)*batch*size)
	testFiniteDiff(t, func() anydiff.Res {
		return attend(in, k, batch, size)
	})
}

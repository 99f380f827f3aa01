package rx

import (
	"math"
	"math/rand"
	"testing"

	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anyvec/anyvec64"
)

func TestQuantizeIdempotent(t *testing.T) {
	q := &Quantizer{Scale: 512, MaxValue: 8}
	rng := rand.New(rand.NewSource(1337))
	for i := 0; i < 1000; i++ {
		x := (rng.Float64()*2 - 1) * q.MaxValue
		once := q.Forward(x)
		if twice := q.Forward(once); twice != once {
			t.Fatalf("quantize(%f) = %f but quantize(%f) = %f", x, once, once, twice)
		}
		if math.Abs(once-x) > 0.5/q.Scale+1e-12 {
			t.Fatalf("quantize(%f) = %f is too far", x, once)
		}
	}
}

func TestQuantizeClamp(t *testing.T) {
	q := &Quantizer{Scale: 4, MaxValue: 2}
	for _, test := range [][2]float64{{5, 2}, {-5, -2}, {0.3, 0.25}, {0.4, 0.5}} {
		if actual := q.Forward(test[0]); actual != test[1] {
			t.Errorf("quantize(%f): expected %f got %f", test[0], test[1], actual)
		}
	}
}

func TestQuantizeGradient(t *testing.T) {
	c := anyvec64.DefaultCreator{}
	q := &Quantizer{Scale: 4, MaxValue: 2}
	in := anydiff.NewVar(c.MakeVectorData([]float64{-3, -1.9, 0.3, 1.1, 2.5}))
	res := q.Apply(in)
	grad := anydiff.NewGrad(in)
	res.Propagate(c.MakeVectorData([]float64{1, 2, 3, 4, 5}), grad)
	expected := []float64{0, 2, 3, 4, 0}
	actual := grad[in].Data().([]float64)
	for i, x := range expected {
		if actual[i] != x {
			t.Errorf("component %d: expected %f got %f", i, x, actual[i])
		}
	}
}

func TestQuantizeVars(t *testing.T) {
	c := anyvec64.DefaultCreator{}
	q := &Quantizer{Scale: 4, MaxValue: 2}
	v := anydiff.NewVar(c.MakeVectorData([]float64{0.3, 7}))
	q.QuantizeVars([]*anydiff.Var{v})
	data := v.Vector.Data().([]float64)
	if data[0] != 0.25 || data[1] != 2 {
		t.Errorf("unexpected values: %v", data)
	}
}

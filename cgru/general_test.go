package cgru

import (
	"math"
	"math/rand"
	"testing"

	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anyvec"
)

// testVar creates a normally distributed variable.
func testVar(c anyvec.Creator, size int) *anydiff.Var {
	vec := c.MakeVector(size)
	anyvec.Rand(vec, anyvec.Normal, nil)
	return anydiff.NewVar(vec)
}

// testEquivalentRes ensures that two ways of producing an
// anydiff.Res are equivalent.
func testEquivalentRes(t *testing.T, actual, expected func() anydiff.Res) {
	t.Run("Vars", func(t *testing.T) {
		vars1 := actual().Vars()
		vars2 := expected().Vars()
		if len(vars1) != len(vars2) {
			t.Error("variable mismatch")
			return
		}
		for x := range vars1 {
			if !vars2.Has(x) {
				t.Error("variable mismatch")
			}
		}
	})
	t.Run("Out", func(t *testing.T) {
		v1 := actual().Output().Copy()
		v2 := expected().Output()
		if v1.Len() != v2.Len() {
			t.Fatalf("length: expected %d got %d", v2.Len(), v1.Len())
		}
		v1.Sub(v2)
		if maxDiff := anyvec.AbsMax(v1).(float64); maxDiff > 1e-4 {
			t.Errorf("output mismatch: expected %v got %v", v2.Data(), actual().Output().Data())
		}
	})
	t.Run("Grad", func(t *testing.T) {
		actGrad := computeGradient(actual(), nil)
		expGrad := computeGradient(expected(), nil)
		gradientsEquivalent(t, actGrad, expGrad)
	})
}

func computeGradient(r anydiff.Res, vars anydiff.VarSet) anydiff.Grad {
	if vars == nil {
		vars = r.Vars()
	}
	grad := anydiff.NewGrad(vars.Slice()...)
	r.Propagate(testUpstream(r), grad)
	return grad
}

func testUpstream(r anydiff.Res) anyvec.Vector {
	upstreamGen := rand.New(rand.NewSource(1337))
	data := make([]float64, r.Output().Len())
	for i := range data {
		data[i] = upstreamGen.NormFloat64()
	}
	c := r.Output().Creator()
	return c.MakeVectorData(c.MakeNumericList(data))
}

func gradientsEquivalent(t *testing.T, actGrad, expGrad anydiff.Grad) {
	for variable, vec := range actGrad {
		expVec := expGrad[variable]
		if expVec == nil {
			t.Error("excess variable")
			continue
		}
		diff := expVec.Copy()
		diff.Sub(vec)
		maxDiff := anyvec.AbsMax(diff).(float64)
		if maxDiff > 1e-4 {
			t.Errorf("gradient mismatch: expected %v got %v", expVec.Data(),
				vec.Data())
			return
		}
	}
}

// testFiniteDiff compares the gradient of f with respect
// to its variables to a numerical approximation.
func testFiniteDiff(t *testing.T, f func() anydiff.Res) {
	const epsilon = 1e-6

	res := f()
	c := res.Output().Creator()
	objective := func() float64 {
		return f().Output().Dot(testUpstream(res)).(float64)
	}

	grad := computeGradient(res, nil)
	for v, actualVec := range grad {
		actual := actualVec.Data().([]float64)
		data := v.Vector.Data().([]float64)
		for i, orig := range data {
			data[i] = orig + epsilon
			v.Vector.SetData(c.MakeNumericList(data))
			plus := objective()
			data[i] = orig - epsilon
			v.Vector.SetData(c.MakeNumericList(data))
			minus := objective()
			data[i] = orig
			v.Vector.SetData(c.MakeNumericList(data))

			expected := (plus - minus) / (2 * epsilon)
			if math.Abs(expected-actual[i]) > 1e-4 {
				t.Errorf("component %d: expected %f got %f", i, expected, actual[i])
				return
			}
		}
	}
}

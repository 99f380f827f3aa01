package neuralgpu

import (
	"math/rand"
	"reflect"
	"testing"
)

func TestPositionMask(t *testing.T) {
	inputs := [][]int{{1, 2, 0, 0}, {3, 1, 2, 1}, {0, 0, 0, 0}}
	targets := [][]int{{2, 1, 1, 0}, {1, 1, 1, 1}, {0, 0, 0, 0}}
	mask, scale := positionMask(inputs, targets, 4)
	expectedMask := []float64{
		1, 1, 1, 0,
		1, 1, 1, 1,
		0, 0, 0, 0,
	}
	if !reflect.DeepEqual(mask, expectedMask) {
		t.Errorf("expected mask %v but got %v", expectedMask, mask)
	}
	// Step-major: step 2 for the first sequence, step 3
	// for the second, nothing for the empty one.
	expectedScale := []float64{
		0, 0, 0,
		0, 0, 0,
		1, 0, 0,
		0, 1, 0,
	}
	if !reflect.DeepEqual(scale, expectedScale) {
		t.Errorf("expected scale %v but got %v", expectedScale, scale)
	}
}

func TestScaleOneHot(t *testing.T) {
	rng := rand.New(rand.NewSource(1337))
	for trial := 0; trial < 20; trial++ {
		length := rng.Intn(10) + 1
		b := testBatch(rng, 5, length, 4)
		mask, scale := positionMask(b.Inputs, b.Targets, length)
		for i := 0; i < b.Size(); i++ {
			var count int
			var last int
			for l := 0; l < length; l++ {
				if mask[i*length+l] == 1 {
					last = l
					if l > 0 && mask[i*length+l-1] == 0 {
						t.Fatal("mask has a gap")
					}
				}
				if scale[l*b.Size()+i] == 1 {
					count++
					if l != last {
						t.Errorf("scale at step %d but last position is %d", l, last)
					}
				} else if scale[l*b.Size()+i] != 0 {
					t.Errorf("scale is not binary")
				}
			}
			if count != 1 {
				t.Errorf("sequence %d: %d steps selected", i, count)
			}
		}
	}
}

// Package cgru implements the convolutional gated
// recurrent units used by the Neural GPU, along with the
// bounded activations and shape utilities they rely on.
package cgru

import (
	"fmt"

	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anyvec"
)

// A Tensor is a differentiable value together with the
// row-major shape of its output vector.
type Tensor struct {
	Res   anydiff.Res
	Shape []int
}

// NewTensor creates a Tensor, verifying that the shape
// matches the size of the output.
func NewTensor(r anydiff.Res, shape ...int) *Tensor {
	if size := shapeSize(shape); size != r.Output().Len() {
		panic(fmt.Sprintf("shape %v has %d entries but vector has %d", shape, size,
			r.Output().Len()))
	}
	return &Tensor{Res: r, Shape: append([]int{}, shape...)}
}

// Reshape creates a Tensor with the same value but a new
// shape.
func (t *Tensor) Reshape(shape ...int) *Tensor {
	return NewTensor(t.Res, shape...)
}

// An Op is a shape-aware tensor operation.
type Op func(t *Tensor) *Tensor

// FixBatching makes f support extra leading dimensions.
//
// The operation f expects tensors of rank k+1, where the
// first dimension is a batch dimension.
// The result accepts tensors of any rank >= k by merging
// all of the leading dimensions into a single batch
// dimension before calling f.
// The leading dimensions are restored afterwards, with
// the trailing dimensions taken from the output of f.
func FixBatching(f Op, k int) Op {
	return func(t *Tensor) *Tensor {
		if len(t.Shape) < k {
			panic(fmt.Sprintf("rank %d is too small for %d trailing dims", len(t.Shape), k))
		}
		prefix := t.Shape[:len(t.Shape)-k]
		used := t.Shape[len(t.Shape)-k:]
		flat := append([]int{shapeSize(prefix)}, used...)
		out := f(t.Reshape(flat...))
		newShape := append(append([]int{}, prefix...), out.Shape[1:]...)
		return out.Reshape(newShape...)
	}
}

func shapeSize(shape []int) int {
	size := 1
	for _, x := range shape {
		size *= x
	}
	return size
}

// Float64s returns the components of a vector.
//
// The result may alias the vector's internal storage, so
// it should be treated as read-only unless it is written
// back with SetData.
func Float64s(v anyvec.Vector) []float64 {
	switch data := v.Data().(type) {
	case []float64:
		return data
	case []float32:
		res := make([]float64, len(data))
		for i, x := range data {
			res[i] = float64(x)
		}
		return res
	default:
		panic(fmt.Sprintf("unsupported numeric list: %T", data))
	}
}

// MakeVector creates a vector from float64 components.
func MakeVector(c anyvec.Creator, data []float64) anyvec.Vector {
	return c.MakeVectorData(c.MakeNumericList(data))
}

// Float converts a numeric to a float64.
func Float(n anyvec.Numeric) float64 {
	switch n := n.(type) {
	case float64:
		return n
	case float32:
		return float64(n)
	default:
		panic(fmt.Sprintf("unsupported numeric: %T", n))
	}
}

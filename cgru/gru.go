package cgru

import (
	"fmt"

	"github.com/unixpickle/anydiff"
)

// Gate bias starts for the convolutional GRU.
// Positive gate biases favor passing the memory through.
const (
	GateBiasStart      = 1.0
	CandidateBiasStart = 0.0
)

// A Gate is a convolutional GRU.
//
// It computes
//
//     r = sigmoid(Reset(mem))
//     c = tanh(Candidate(r*mem))
//     g = sigmoid(Update(mem))
//     out = g*mem + (1-g)*c
//
// where sigmoid and tanh are bounded by the Activations.
type Gate struct {
	Reset     *Conv
	Candidate *Conv
	Update    *Conv
}

// Apply applies the gate to a grid.
func (g *Gate) Apply(mem *Tensor, act *Activations) *Tensor {
	out := anydiff.Pool(mem.Res, func(m anydiff.Res) anydiff.Res {
		memT := &Tensor{Res: m, Shape: mem.Shape}
		reset := act.Sigmoid(g.Reset.Apply(memT).Res)
		gated := &Tensor{Res: anydiff.Mul(reset, m), Shape: mem.Shape}
		candidate := act.Tanh(g.Candidate.Apply(gated).Res)
		update := act.Sigmoid(g.Update.Apply(memT).Res)
		return anydiff.Pool(update, func(update anydiff.Res) anydiff.Res {
			return anydiff.Add(
				anydiff.Mul(update, m),
				anydiff.Mul(anydiff.Complement(update), candidate),
			)
		})
	})
	return &Tensor{Res: out, Shape: mem.Shape}
}

// A Block applies a sequence of Gates, masking the result
// of each one to keep padding at zero.
type Block struct {
	Gates []*Gate
}

// Apply applies the gates in order.
func (b *Block) Apply(cur *Tensor, mask *Mask, act *Activations) *Tensor {
	for _, gate := range b.Gates {
		cur = mask.Apply(gate.Apply(cur, act))
	}
	return cur
}

// A Mask zeroes out padding positions in grids.
//
// The mask stores one entry per (batch, length) position.
// It is broadcast over the height and depth axes, as well
// as any dimensions before the batch axis.
type Mask struct {
	Batch  int
	Length int
	Data   []float64
}

// NewMask creates a mask from per-position values.
func NewMask(batch, length int, data []float64) *Mask {
	if len(data) != batch*length {
		panic("mask size mismatch")
	}
	return &Mask{Batch: batch, Length: length, Data: data}
}

// Apply multiplies t by the mask.
//
// The shape of t must end with (batch, length, height,
// depth).
func (m *Mask) Apply(t *Tensor) *Tensor {
	rank := len(t.Shape)
	if rank < 4 || t.Shape[rank-4] != m.Batch || t.Shape[rank-3] != m.Length {
		panic(fmt.Sprintf("mask of %dx%d cannot apply to shape %v", m.Batch, m.Length, t.Shape))
	}
	inner := t.Shape[rank-2] * t.Shape[rank-1]
	size := shapeSize(t.Shape)
	expanded := make([]float64, size)
	for i := range expanded {
		expanded[i] = m.Data[(i/inner)%len(m.Data)]
	}
	c := t.Res.Output().Creator()
	masked := anydiff.Mul(t.Res, anydiff.NewConst(MakeVector(c, expanded)))
	return &Tensor{Res: masked, Shape: t.Shape}
}

// Vars returns the parameters of every gate in the block.
func (b *Block) Vars() []*anydiff.Var {
	var res []*anydiff.Var
	for _, gate := range b.Gates {
		for _, conv := range []*Conv{gate.Reset, gate.Candidate, gate.Update} {
			res = append(res, conv.Kernel)
			if conv.Bias != nil {
				res = append(res, conv.Bias)
			}
		}
	}
	return res
}


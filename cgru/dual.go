package cgru

import (
	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anyvec"
)

// A DualOp is an elementwise function whose backward pass
// uses a surrogate derivative instead of the derivative of
// the forward function.
//
// This makes it possible to train through functions that
// are flat or discontinuous, such as rounding.
type DualOp interface {
	Forward(x float64) float64
	BackwardSurrogate(x float64) float64
}

type dualRes struct {
	In  anydiff.Res
	Op  DualOp
	Out anyvec.Vector
}

// ApplyDual applies op to every component of in.
func ApplyDual(in anydiff.Res, op DualOp) anydiff.Res {
	data := Float64s(in.Output())
	for i, x := range data {
		data[i] = op.Forward(x)
	}
	return &dualRes{
		In:  in,
		Op:  op,
		Out: MakeVector(in.Output().Creator(), data),
	}
}

func (d *dualRes) Output() anyvec.Vector {
	return d.Out
}

func (d *dualRes) Vars() anydiff.VarSet {
	return d.In.Vars()
}

func (d *dualRes) Propagate(u anyvec.Vector, g anydiff.Grad) {
	if !g.Intersects(d.In.Vars()) {
		return
	}
	inData := Float64s(d.In.Output())
	upData := Float64s(u)
	for i, x := range inData {
		upData[i] *= d.Op.BackwardSurrogate(x)
	}
	d.In.Propagate(MakeVector(u.Creator(), upData), g)
}

package neuralgpu

import (
	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anyvec"
	"github.com/unixpickle/neuralgpu/cgru"
)

// A depthStep records one recurrent step so that it can
// be back-propagated through later.
type depthStep struct {
	// In holds the state before the step.
	In    *anydiff.Var
	State anydiff.Res

	// Head holds the state after the step, as seen by the
	// output projection.
	Head   *anydiff.Var
	Logits anydiff.Res
}

type unrollRes struct {
	Start anydiff.Res
	Steps []*depthStep

	// Scale is a (steps x Batch) matrix selecting the
	// step from which each batch element is read.
	Scale []float64
	Batch int

	Out anyvec.Vector
	V   anydiff.VarSet
}

// unroll applies step repeatedly to the start state and
// reads every intermediate state with head.
//
// The output for batch element b is the sum over steps
// of scale[step*batch+b] times the head output at that
// step.
// With a one-hot scale, this selects the output of a
// single step per sequence.
//
// Every state is back-propagated through exactly once,
// even though it feeds both the head and the next step.
func unroll(start anydiff.Res, depth int, scale []float64, batch int,
	step func(it int, in anydiff.Res) anydiff.Res,
	head func(state anydiff.Res) anydiff.Res) *unrollRes {
	res := &unrollRes{
		Start: start,
		Scale: scale,
		Batch: batch,
		V:     anydiff.MergeVarSets(start.Vars()),
	}
	var internal []*anydiff.Var
	cur := start.Output()
	for it := 0; it < depth; it++ {
		s := &depthStep{In: anydiff.NewVar(cur)}
		s.State = step(it, s.In)
		s.Head = anydiff.NewVar(s.State.Output())
		s.Logits = head(s.Head)
		res.Steps = append(res.Steps, s)
		res.V = anydiff.MergeVarSets(res.V, s.State.Vars())
		res.V = anydiff.MergeVarSets(res.V, s.Logits.Vars())
		internal = append(internal, s.In, s.Head)
		cur = s.State.Output()
	}
	for _, v := range internal {
		res.V.Del(v)
	}

	var out []float64
	for it, s := range res.Steps {
		logits := cgru.Float64s(s.Logits.Output())
		if out == nil {
			out = make([]float64, len(logits))
		}
		chunk := len(logits) / batch
		for b := 0; b < batch; b++ {
			sc := scale[it*batch+b]
			if sc == 0 {
				continue
			}
			for i := b * chunk; i < (b+1)*chunk; i++ {
				out[i] += sc * logits[i]
			}
		}
	}
	res.Out = cgru.MakeVector(start.Output().Creator(), out)
	return res
}

func (u *unrollRes) Output() anyvec.Vector {
	return u.Out
}

func (u *unrollRes) Vars() anydiff.VarSet {
	return u.V
}

func (u *unrollRes) Propagate(up anyvec.Vector, g anydiff.Grad) {
	c := up.Creator()
	upData := cgru.Float64s(up)
	chunk := len(upData) / u.Batch

	headGrads := make([]anyvec.Vector, len(u.Steps))
	for it, s := range u.Steps {
		scaled, nonZero := u.scaleUpstream(upData, it, chunk)
		if !nonZero {
			continue
		}
		g[s.Head] = c.MakeVector(s.Head.Vector.Len())
		s.Logits.Propagate(cgru.MakeVector(c, scaled), g)
		headGrads[it] = g[s.Head]
		delete(g, s.Head)
	}

	var next anyvec.Vector
	for it := len(u.Steps) - 1; it >= 0; it-- {
		s := u.Steps[it]
		stateUp := headGrads[it]
		if stateUp == nil {
			stateUp = next
		} else if next != nil {
			stateUp.Add(next)
		}
		if stateUp == nil {
			next = nil
			continue
		}
		g[s.In] = c.MakeVector(s.In.Vector.Len())
		s.State.Propagate(stateUp, g)
		next = g[s.In]
		delete(g, s.In)
	}

	if next != nil && g.Intersects(u.Start.Vars()) {
		u.Start.Propagate(next, g)
	}
}

// scaleUpstream computes the upstream gradient for the
// head output of one step.
// It reports false if the step's scale is zero for every
// batch element.
func (u *unrollRes) scaleUpstream(upData []float64, it, chunk int) ([]float64, bool) {
	var nonZero bool
	res := make([]float64, len(upData))
	for b := 0; b < u.Batch; b++ {
		sc := u.Scale[it*u.Batch+b]
		if sc == 0 {
			continue
		}
		nonZero = true
		for i := b * chunk; i < (b+1)*chunk; i++ {
			res[i] = sc * upData[i]
		}
	}
	return res, nonZero
}

// StepOutputs returns the head output at every step.
func (u *unrollRes) StepOutputs() []anyvec.Vector {
	res := make([]anyvec.Vector, len(u.Steps))
	for i, s := range u.Steps {
		res[i] = s.Logits.Output()
	}
	return res
}

// States returns the state after every step.
func (u *unrollRes) States() []anyvec.Vector {
	res := make([]anyvec.Vector, len(u.Steps))
	for i, s := range u.Steps {
		res[i] = s.State.Output()
	}
	return res
}

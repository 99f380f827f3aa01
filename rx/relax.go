package rx

import (
	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anyvec"
	"github.com/unixpickle/neuralgpu/cgru"
)

// Average computes the elementwise mean of the copies in
// a group.
func Average(g *Group) anyvec.Vector {
	if len(g.Vars) == 0 {
		panic("empty group")
	}
	sum := g.Vars[0].Vector.Copy()
	for _, v := range g.Vars[1:] {
		sum.Add(v.Vector)
	}
	sum.Scale(sum.Creator().MakeNumeric(1 / float64(len(g.Vars))))
	return sum
}

type penaltyRes struct {
	Groups []*Group
	Avgs   []anyvec.Vector
	Out    anyvec.Vector
	V      anydiff.VarSet
}

// Penalty computes the total squared distance between the
// copies in each group and the group's average.
//
// The result is a single-component vector which is zero
// exactly when the copies in every group are identical.
func Penalty(c anyvec.Creator, groups []*Group) anydiff.Res {
	res := &penaltyRes{Groups: groups, V: anydiff.VarSet{}}
	var total float64
	for _, g := range groups {
		avg := Average(g)
		res.Avgs = append(res.Avgs, avg)
		for _, v := range g.Vars {
			diff := v.Vector.Copy()
			diff.Sub(avg)
			total += cgru.Float(diff.Dot(diff))
		}
		res.V = anydiff.MergeVarSets(res.V, anydiff.NewVarSet(g.Vars...))
	}
	res.Out = c.MakeVectorData(c.MakeNumericList([]float64{total}))
	return res
}

func (p *penaltyRes) Output() anyvec.Vector {
	return p.Out
}

func (p *penaltyRes) Vars() anydiff.VarSet {
	return p.V
}

// Propagate uses the fact that the deviations in a group
// sum to zero, so d/dv_i sum_j |v_j-avg|^2 = 2(v_i-avg).
func (p *penaltyRes) Propagate(u anyvec.Vector, g anydiff.Grad) {
	scale := 2 * cgru.Float64s(u)[0]
	for i, group := range p.Groups {
		for _, v := range group.Vars {
			if grad, ok := g[v]; ok {
				diff := v.Vector.Copy()
				diff.Sub(p.Avgs[i])
				diff.Scale(diff.Creator().MakeNumeric(scale))
				grad.Add(diff)
			}
		}
	}
}

// Snap sets every copy in every group to its group's
// average, making the penalty zero.
func Snap(groups []*Group) {
	for _, g := range groups {
		avg := Average(g)
		for _, v := range g.Vars {
			v.Vector.Set(avg)
		}
	}
}

package neuralgpu

import (
	"math"

	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anyvec"
	"github.com/unixpickle/neuralgpu/cgru"
	"gonum.org/v1/gonum/floats"
)

type attentionRes struct {
	In    anydiff.Res
	K     int
	Batch int
	Size  int

	// Probs is a K x Batch matrix of attention weights.
	Probs []float64

	Out anyvec.Vector
}

// attend combines 2k+1 replicas of a batch of states.
//
// The first k replicas are keys, the next k are values,
// and the last one is the query.
// For each batch element, the keys are dotted with the
// query, the dot products are fed through a softmax, and
// the result is the corresponding weighted sum of values.
//
// Each state has size entries.
func attend(in anydiff.Res, k, batch, size int) *attentionRes {
	data := cgru.Float64s(in.Output())
	res := &attentionRes{
		In:    in,
		K:     k,
		Batch: batch,
		Size:  size,
		Probs: make([]float64, k*batch),
	}
	out := make([]float64, batch*size)
	for b := 0; b < batch; b++ {
		query := res.state(data, 2*k, b)
		maxLogit := math.Inf(-1)
		for j := 0; j < k; j++ {
			logit := floats.Dot(res.state(data, j, b), query)
			res.Probs[j*batch+b] = logit
			maxLogit = math.Max(maxLogit, logit)
		}
		var sum float64
		for j := 0; j < k; j++ {
			p := math.Exp(res.Probs[j*batch+b] - maxLogit)
			res.Probs[j*batch+b] = p
			sum += p
		}
		outState := out[b*size : (b+1)*size]
		for j := 0; j < k; j++ {
			res.Probs[j*batch+b] /= sum
			p := res.Probs[j*batch+b]
			for i, x := range res.state(data, k+j, b) {
				outState[i] += p * x
			}
		}
	}
	res.Out = cgru.MakeVector(in.Output().Creator(), out)
	return res
}

func (a *attentionRes) Output() anyvec.Vector {
	return a.Out
}

func (a *attentionRes) Vars() anydiff.VarSet {
	return a.In.Vars()
}

func (a *attentionRes) Propagate(u anyvec.Vector, g anydiff.Grad) {
	if !g.Intersects(a.In.Vars()) {
		return
	}
	data := cgru.Float64s(a.In.Output())
	upData := cgru.Float64s(u)
	down := make([]float64, len(data))
	k := a.K
	for b := 0; b < a.Batch; b++ {
		up := upData[b*a.Size : (b+1)*a.Size]
		query := a.state(data, 2*k, b)

		probGrads := make([]float64, k)
		var weighted float64
		for j := 0; j < k; j++ {
			p := a.Probs[j*a.Batch+b]
			probGrads[j] = floats.Dot(a.state(data, k+j, b), up)
			weighted += p * probGrads[j]
			for i, x := range up {
				a.state(down, k+j, b)[i] += p * x
			}
		}

		queryDown := a.state(down, 2*k, b)
		for j := 0; j < k; j++ {
			p := a.Probs[j*a.Batch+b]
			logitGrad := p * (probGrads[j] - weighted)
			key := a.state(data, j, b)
			keyDown := a.state(down, j, b)
			for i := range keyDown {
				keyDown[i] += logitGrad * query[i]
				queryDown[i] += logitGrad * key[i]
			}
		}
	}
	a.In.Propagate(cgru.MakeVector(u.Creator(), down), g)
}

// state returns the slice of data for a replica and batch
// element.
func (a *attentionRes) state(data []float64, replica, b int) []float64 {
	start := (replica*a.Batch + b) * a.Size
	return data[start : start+a.Size]
}

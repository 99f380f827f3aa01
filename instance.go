package neuralgpu

import (
	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anynet"
	"github.com/unixpickle/essentials"
	"github.com/unixpickle/neuralgpu/cgru"
)

// minKeep bounds the dropout keep probability for very
// short lengths.
const minKeep = 0.1

// An Instance runs the model on batches padded to one
// fixed length.
//
// Instances do not own parameters; every Instance of a
// Model uses the Model's parameters.
type Instance struct {
	Length int

	// Trainable is true if the instance supports a
	// backward pass.
	Trainable bool

	model *Model
}

func newInstance(m *Model, length int) *Instance {
	inst := &Instance{
		Length:    length,
		Trainable: m.Config.Trains(length),
		model:     m,
	}
	if inst.Trainable {
		m.Config.logf("Creating backward for bin of length %d.", length)
	}

	// Every step's block is created up front so that the
	// parameters exist before the first update.
	for it := 0; it < essentials.MinInt(length, m.Config.RXStep); it++ {
		m.blockForStep(it)
	}
	return inst
}

// A pass is the result of running an Instance forward.
type pass struct {
	Batch  *Batch
	Mask   []float64
	Scale  []float64
	Unroll *unrollRes
	Cost   *crossEntropy

	// Attention stores a K x Batch matrix of weights for
	// every step.
	Attention [][]float64
}

// forward runs the model on a batch whose length matches
// the instance.
func (i *Instance) forward(b *Batch, training bool) *pass {
	m := i.model
	cfg := m.Config
	batch := b.Size()
	length := i.Length
	positions := batch * length

	mask, scale := positionMask(b.Inputs, b.Targets, length)
	gridMask := cgru.NewMask(batch, length, mask)
	act := cfg.activations()
	res := &pass{Batch: b, Mask: mask, Scale: scale}

	m.zeroPadEmbedding()
	var tokens, targets []int
	for j := 0; j < batch; j++ {
		tokens = append(tokens, b.Inputs[j]...)
		targets = append(targets, b.Targets[j]...)
	}
	start := embed(m.Embedding, tokens, cfg.NMaps)
	start = anynet.Tanh.Apply(start, positions)
	start = m.InputFC.Apply(start, positions)
	start = padHeight(start, positions, cfg.Height, cfg.NMaps)

	keep := dropoutKeep(cfg.Dropout, length, training)

	step := func(it int, in anydiff.Res) anydiff.Res {
		state := cgru.NewTensor(in, batch, length, cfg.Height, cfg.NMaps)
		if keep < 1 {
			state = m.dropout(state, keep)
		}
		state = gridMask.Apply(state)
		block := m.blockForStep(it)
		k := cfg.NumAttention
		if k == 0 {
			return block.Apply(state, gridMask, act).Res
		}
		return anydiff.Pool(state.Res, func(s anydiff.Res) anydiff.Res {
			copies := make([]anydiff.Res, 2*k+1)
			for j := range copies {
				copies[j] = s
			}
			joint := cgru.NewTensor(anydiff.Concat(copies...), 2*k+1, batch, length,
				cfg.Height, cfg.NMaps)
			out := block.Apply(joint, gridMask, act)
			att := attend(out.Res, k, batch, length*cfg.Height*cfg.NMaps)
			res.Attention = append(res.Attention, att.Probs)
			return att
		})
	}
	head := func(state anydiff.Res) anydiff.Res {
		top := topRow(state, positions, cfg.Height, cfg.NMaps)
		return m.OutputFC.Apply(top, positions)
	}

	res.Unroll = unroll(start, length, scale, batch, step, head)
	res.Cost = maskedCrossEntropy(res.Unroll, targets, mask, cfg.NOClass)
	return res
}

// dropoutKeep returns the probability that a state entry
// survives dropout at the given length.
// Shorter lengths drop more, down to minKeep.
func dropoutKeep(dropout float64, length int, training bool) float64 {
	if !training {
		return 1
	}
	keep := 1 - dropout*8/float64(length)
	if keep < minKeep {
		keep = minKeep
	}
	return keep
}

// dropout zeroes random entries of a tensor and scales
// the remaining ones by 1/keep.
func (m *Model) dropout(t *cgru.Tensor, keep float64) *cgru.Tensor {
	size := t.Res.Output().Len()
	mask := make([]float64, size)
	for i := range mask {
		if m.rng.Float64() < keep {
			mask[i] = 1 / keep
		}
	}
	c := t.Res.Output().Creator()
	dropped := anydiff.Mul(t.Res, anydiff.NewConst(cgru.MakeVector(c, mask)))
	return &cgru.Tensor{Res: dropped, Shape: t.Shape}
}

// zeroPadEmbedding resets the embedding of the pad symbol.
func (m *Model) zeroPadEmbedding() {
	data := append([]float64{}, cgru.Float64s(m.Embedding.Vector)...)
	for i := 0; i < m.Config.NMaps; i++ {
		data[i] = 0
	}
	m.Embedding.Vector.SetData(m.Creator.MakeNumericList(data))
}

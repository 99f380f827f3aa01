package neuralgpu

import (
	"github.com/pkg/errors"
	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/essentials"
	"github.com/unixpickle/neuralgpu/cgru"
	"github.com/unixpickle/neuralgpu/rx"
)

// ErrForwardOnly is returned when a backward pass is
// requested for a length that has none.
var ErrForwardOnly = errors.New("instance is forward-only")

// A Batch is a set of equal-length input and target
// sequences.
//
// Token 0 is the pad symbol.
type Batch struct {
	Inputs  [][]int
	Targets [][]int

	// Tasks stores a task id per sequence.
	// It is passed through to the Result.
	Tasks []int
}

// Size returns the number of sequences.
func (b *Batch) Size() int {
	return len(b.Inputs)
}

// Len returns the length of the sequences.
func (b *Batch) Len() int {
	if len(b.Inputs) == 0 {
		return 0
	}
	return len(b.Inputs[0])
}

func (b *Batch) validate(numIn, numOut int) error {
	if b.Size() == 0 {
		return errors.New("empty batch")
	}
	if len(b.Targets) != b.Size() {
		return errors.Errorf("%d inputs but %d targets", b.Size(), len(b.Targets))
	}
	if b.Tasks != nil && len(b.Tasks) != b.Size() {
		return errors.Errorf("%d inputs but %d task ids", b.Size(), len(b.Tasks))
	}
	for i := range b.Inputs {
		if len(b.Inputs[i]) != b.Len() || len(b.Targets[i]) != b.Len() {
			return errors.Errorf("sequence %d does not have length %d", i, b.Len())
		}
		for j, x := range b.Inputs[i] {
			if x < 0 || x >= numIn {
				return errors.Errorf("input %d of sequence %d out of range: %d", j, i, x)
			}
		}
		for j, x := range b.Targets[i] {
			if x < 0 || x >= numOut {
				return errors.Errorf("target %d of sequence %d out of range: %d", j, i, x)
			}
		}
	}
	return nil
}

// padded returns a batch with zeros appended to every
// sequence to reach the given length.
func (b *Batch) padded(length int) *Batch {
	if b.Len() == length {
		return b
	}
	pad := func(seqs [][]int) [][]int {
		res := make([][]int, len(seqs))
		for i, seq := range seqs {
			res[i] = make([]int, length)
			copy(res[i], seq)
		}
		return res
	}
	return &Batch{Inputs: pad(b.Inputs), Targets: pad(b.Targets), Tasks: b.Tasks}
}

// A Result stores the outputs of a Step.
type Result struct {
	Batch *Batch

	// Loss is the masked cross-entropy, without the
	// relaxation penalty.
	Loss float64

	// GradNorm is the global gradient norm before
	// clipping, or 0 without a backward pass.
	GradNorm float64

	// Output stores softmax distributions, indexed by
	// batch, position and class.
	Output [][][]float64

	// LayerOutputs stores the Output that would be
	// selected at every step, indexed by step first.
	LayerOutputs [][][][]float64

	// Steps stores the flattened grid state after every
	// step, if it was requested.
	Steps [][]float64

	// Attention stores the attention weights at every
	// step, indexed by step, slot and batch.
	// It is nil for models without attention.
	Attention [][][]float64
}

// Argmax returns the most likely class at every position.
func (r *Result) Argmax() [][]int {
	res := make([][]int, len(r.Output))
	for i, seq := range r.Output {
		res[i] = make([]int, len(seq))
		for j, dist := range seq {
			for k, p := range dist {
				if p > dist[res[i][j]] {
					res[i][j] = k
				}
			}
		}
	}
	return res
}

// Accuracy returns the fraction of non-pad target
// positions that the output predicts correctly.
func (r *Result) Accuracy() float64 {
	var total, correct int
	for i, seq := range r.Argmax() {
		for j, pred := range seq {
			target := r.Batch.Targets[i][j]
			if target == 0 {
				continue
			}
			total++
			if pred == target {
				correct++
			}
		}
	}
	if total == 0 {
		return 1
	}
	return float64(correct) / float64(total)
}

// Step runs the model on a batch.
//
// The batch is routed to the shortest instance that fits
// it and padded to that instance's length.
// If doBackward is set, the parameters are updated.
// If getSteps is set, the Result includes the state after
// every step.
func (m *Model) Step(b *Batch, doBackward, getSteps bool) (res *Result, err error) {
	defer essentials.AddCtxTo("step", &err)
	if err := b.validate(m.Config.NIClass, m.Config.NOClass); err != nil {
		return nil, err
	}
	inst, err := m.InstanceForLength(b.Len())
	if err != nil {
		return nil, err
	}
	if doBackward && !inst.Trainable {
		return nil, errors.Wrapf(ErrForwardOnly, "length %d", inst.Length)
	}

	p := inst.forward(b.padded(inst.Length), doBackward)
	res = &Result{Batch: b, Loss: p.Cost.Value()}
	if doBackward {
		res.GradNorm = m.backward(p)
	}

	n := b.Len()
	res.Output = splitOutput(p.Cost.Probs(), b.Size(), inst.Length, n)
	for _, logits := range p.Unroll.StepOutputs() {
		probs := softmax(logits, m.Config.NOClass)
		res.LayerOutputs = append(res.LayerOutputs, splitOutput(probs, b.Size(),
			inst.Length, n))
	}
	if getSteps {
		for _, state := range p.Unroll.States() {
			res.Steps = append(res.Steps, cgru.Float64s(state))
		}
	}
	for _, probs := range p.Attention {
		var step [][]float64
		for slot := 0; slot < m.Config.NumAttention; slot++ {
			step = append(step, probs[slot*b.Size():(slot+1)*b.Size()])
		}
		res.Attention = append(res.Attention, step)
	}
	return res, nil
}

// backward updates the parameters using the gradient of
// the penalized loss and returns the gradient norm.
func (m *Model) backward(p *pass) float64 {
	c := m.Creator
	penalty := rx.Penalty(c, m.Params.Groups())
	objective := anydiff.Add(p.Cost.Loss, anydiff.Scale(penalty, c.MakeNumeric(m.pull)))

	grad := anydiff.NewGrad(m.Parameters()...)
	objective.Propagate(cgru.MakeVector(c, []float64{1}), grad)

	norm := clipGlobalNorm(grad, m.Config.MaxGradNorm)
	m.globalStep++
	adamStep(m.optimizer, grad, m.Config.LR)
	return norm
}

// SimpleStep runs the model on one sequence.
//
// The sequence is reversed before it is fed to the model
// and the output is reversed back, so that callers can
// use little-endian inputs.
// The input is also used as the target.
func (m *Model) SimpleStep(seq []int) ([]int, error) {
	reversed := append([]int{}, seq...)
	essentials.Reverse(reversed)
	inst, err := m.InstanceForLength(len(seq))
	if err != nil {
		return nil, err
	}
	b := (&Batch{
		Inputs:  [][]int{reversed},
		Targets: [][]int{reversed},
		Tasks:   []int{0},
	}).padded(inst.Length)
	res, err := m.Step(b, false, false)
	if err != nil {
		return nil, err
	}
	out := res.Argmax()[0][:len(seq)]
	essentials.Reverse(out)
	return out, nil
}

// splitOutput turns a flat (batch, length, classes)
// matrix into nested slices, keeping n positions of each
// sequence.
func splitOutput(data []float64, batch, length, n int) [][][]float64 {
	classes := len(data) / (batch * length)
	res := make([][][]float64, batch)
	for b := range res {
		res[b] = make([][]float64, n)
		for l := range res[b] {
			start := (b*length + l) * classes
			res[b][l] = data[start : start+classes]
		}
	}
	return res
}

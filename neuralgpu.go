// Package neuralgpu implements the Neural GPU, a model
// which learns algorithms by repeatedly applying gated
// convolutions to a 2-D grid of feature vectors.
//
// A Model owns one set of parameters and builds an
// Instance for every length bucket.
// All instances share the same parameters, so a model
// trained on short sequences can be evaluated on long
// ones.
package neuralgpu

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/pkg/errors"
	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anynet"
	"github.com/unixpickle/anynet/anysgd"
	"github.com/unixpickle/anyvec"
	"github.com/unixpickle/neuralgpu/cgru"
	"github.com/unixpickle/neuralgpu/rx"
)

// ErrLengthExceeded is returned when no instance is long
// enough for a sequence.
var ErrLengthExceeded = errors.New("length exceeds every bucket")

// A Model is a Neural GPU with one instance per length
// bucket.
//
// A Model is not safe for concurrent use.
type Model struct {
	Config  *Config
	Creator anyvec.Creator

	// Params owns every trainable variable.
	Params *rx.Registry

	Embedding *anydiff.Var
	InputFC   *anynet.FC
	OutputFC  *anynet.FC

	// Instances are sorted by ascending length.
	Instances []*Instance

	pull       float64
	globalStep int
	optimizer  *anysgd.Adam
	rng        *rand.Rand
	blocks     []*cgru.Block
}

// New creates a Model and builds all of its instances.
func New(c anyvec.Creator, cfg *Config) (*Model, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "new model")
	}
	m := &Model{
		Config:    cfg,
		Creator:   c,
		Params:    rx.NewRegistry(c, cfg.RXStep),
		pull:      cfg.Pull,
		optimizer: newAdam(cfg.AdamEpsilon),
		rng:       rand.New(rand.NewSource(cfg.Seed)),
		blocks:    make([]*cgru.Block, cfg.RXStep),
	}
	m.Embedding = m.Params.Param(rx.Shared, "embedding", func() anyvec.Vector {
		return m.uniform(cfg.NIClass*cfg.NMaps, 1.7)
	})
	m.InputFC = m.fc("input", cfg.NMaps, cfg.NMaps)
	m.OutputFC = m.fc("output", cfg.NMaps, cfg.NOClass)

	for _, length := range cfg.Lengths() {
		cfg.logf("Creating model for bin of length %d.", length)
		start := time.Now()
		m.Instances = append(m.Instances, newInstance(m, length))
		cfg.logf("Created model for bin of length %d in %.2f s.", length,
			time.Since(start).Seconds())
	}
	return m, nil
}

// InstanceForLength finds the shortest instance that can
// fit a sequence of length n.
func (m *Model) InstanceForLength(n int) (*Instance, error) {
	for _, inst := range m.Instances {
		if inst.Length >= n {
			return inst, nil
		}
	}
	max := m.Instances[len(m.Instances)-1].Length
	return nil, errors.Wrapf(ErrLengthExceeded, "max instance size %d; %d is too large", max, n)
}

// Parameters returns every trainable variable.
func (m *Model) Parameters() []*anydiff.Var {
	return m.Params.Vars()
}

// GlobalStep returns the number of updates applied so far.
func (m *Model) GlobalStep() int {
	return m.globalStep
}

// Pull returns the current relaxation coefficient.
func (m *Model) Pull() float64 {
	return m.pull
}

// SetPull changes the relaxation coefficient, e.g. to
// anneal it over the course of training.
func (m *Model) SetPull(pull float64) {
	m.pull = pull
}

// RelaxationPenalty computes the current distance between
// the RX slot copies and their averages.
func (m *Model) RelaxationPenalty() float64 {
	return cgru.Float64s(rx.Penalty(m.Creator, m.Params.Groups()).Output())[0]
}

// SnapRelaxed sets every RX slot copy of a parameter to
// the average of its copies.
func (m *Model) SnapRelaxed() {
	rx.Snap(m.Params.Groups())
}

// QuantizeWeights rounds every parameter to the fixed
// point grid given by the configuration.
func (m *Model) QuantizeWeights() {
	q := &rx.Quantizer{Scale: m.Config.QuantScale, MaxValue: m.Config.QuantMax}
	q.QuantizeVars(m.Parameters())
}

// blockForStep returns the gated block for a recurrent
// step, creating the block for the step's slot on first
// use.
// Steps that share a slot share the same *cgru.Block.
func (m *Model) blockForStep(step int) *cgru.Block {
	slot := m.Params.SlotForStep(step)
	if m.blocks[slot] != nil {
		return m.blocks[slot]
	}
	suffix := "lookup"
	if m.Config.NumAttention > 0 {
		suffix = "grublocks"
	}
	block := &cgru.Block{}
	for layer := 0; layer < m.Config.NConvs; layer++ {
		prefix := fmt.Sprintf("cgru_%d_%s", layer, suffix)
		block.Gates = append(block.Gates, &cgru.Gate{
			Reset:     m.conv(slot, prefix+"/r", cgru.GateBiasStart),
			Candidate: m.conv(slot, prefix+"/c", cgru.CandidateBiasStart),
			Update:    m.conv(slot, prefix+"/g", cgru.GateBiasStart),
		})
	}
	m.blocks[slot] = block
	return block
}

func (m *Model) conv(slot int, prefix string, biasStart float64) *cgru.Conv {
	cfg := m.Config
	return &cgru.Conv{
		KW:       cfg.KW,
		KH:       cfg.KH,
		InDepth:  cfg.NMaps,
		OutDepth: cfg.NMaps,
		Kernel: m.Params.Param(slot, prefix+"/CvK", func() anyvec.Vector {
			return cgru.GlorotKernel(m.Creator, m.rng, cfg.KW, cfg.KH, cfg.NMaps, cfg.NMaps)
		}),
		Bias: m.Params.Param(slot, prefix+"/CvB", func() anyvec.Vector {
			return m.Creator.MakeVector(cfg.NMaps)
		}),
		BiasStart: biasStart,
	}
}

// fc creates a 1x1 convolution, which is a dense layer
// applied to every grid position.
func (m *Model) fc(name string, in, out int) *anynet.FC {
	return &anynet.FC{
		InCount:  in,
		OutCount: out,
		Weights: m.Params.Param(rx.Shared, name+"/CvK", func() anyvec.Vector {
			return cgru.GlorotKernel(m.Creator, m.rng, 1, 1, in, out)
		}),
		Biases: m.Params.Param(rx.Shared, name+"/CvB", func() anyvec.Vector {
			return m.Creator.MakeVector(out)
		}),
	}
}

func (m *Model) uniform(size int, limit float64) anyvec.Vector {
	data := make([]float64, size)
	for i := range data {
		data[i] = limit * (m.rng.Float64()*2 - 1)
	}
	return cgru.MakeVector(m.Creator, data)
}

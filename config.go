package neuralgpu

import (
	"encoding/json"
	"io/ioutil"
	"log"
	"sort"

	"github.com/pkg/errors"
	"github.com/unixpickle/essentials"
	"github.com/unixpickle/neuralgpu/cgru"
)

// A TrainMode decides which length buckets get a backward
// pass.
type TrainMode int

const (
	// TrainAll trains every bucket up to the largest one.
	TrainAll TrainMode = iota

	// TrainSmallest trains only the smallest bucket; the
	// others are used to evaluate generalization.
	TrainSmallest
)

// Config stores the hyper-parameters of a Model.
type Config struct {
	// NMaps is the number of channels in the grid state.
	NMaps int `json:"nmaps"`

	// KW and KH are the kernel sizes along the length
	// and height axes.
	KW int `json:"kw"`
	KH int `json:"kh"`

	Height int `json:"height"`

	// NConvs is the number of gated convolutions applied
	// per recurrent step.
	NConvs int `json:"nconvs"`

	// RXStep is the number of parameter slots shared
	// between recurrent steps.
	RXStep int `json:"rx_step"`

	Dropout     float64 `json:"dropout"`
	MaxGradNorm float64 `json:"max_grad_norm"`

	Cutoff         float64 `json:"cutoff"`
	CutoffTanh     float64 `json:"cutoff_tanh"`
	SmoothGrad     float64 `json:"smooth_grad"`
	SmoothGradTanh float64 `json:"smooth_grad_tanh"`

	// NumAttention is the number of attention slots.
	// Zero disables attention.
	NumAttention int `json:"num_attention"`

	NIClass int `json:"niclass"`
	NOClass int `json:"noclass"`

	LR          float64 `json:"lr"`
	AdamEpsilon float64 `json:"adam_epsilon"`

	// Pull scales the relaxation penalty.
	Pull float64 `json:"pull"`

	// Buckets are the training lengths.
	// ForwardMax is an extra, usually larger, length that
	// is built for evaluation.
	Buckets    []int     `json:"buckets"`
	ForwardMax int       `json:"forward_max"`
	Mode       TrainMode `json:"mode"`

	QuantScale float64 `json:"quant_scale"`
	QuantMax   float64 `json:"quant_max"`

	Seed int64 `json:"seed"`

	// Logger receives progress messages while a Model is
	// built. It may be nil.
	Logger *log.Logger `json:"-"`
}

// DefaultConfig returns the configuration used for the
// binary arithmetic tasks.
func DefaultConfig() *Config {
	return &Config{
		NMaps:       24,
		KW:          3,
		KH:          3,
		Height:      4,
		NConvs:      2,
		RXStep:      6,
		Dropout:     0.15,
		MaxGradNorm: 1,
		Cutoff:      1.2,
		NIClass:     33,
		NOClass:     33,
		LR:          0.001,
		AdamEpsilon: 1e-4,
		Pull:        0.0005,
		Buckets:     []int{8, 12, 16, 20, 24, 28, 32, 36, 40},
		ForwardMax:  41,
		Mode:        TrainAll,
		QuantScale:  512,
		QuantMax:    8,
	}
}

// LoadConfig reads a JSON configuration file.
// Fields missing from the file keep their defaults.
func LoadConfig(path string) (cfg *Config, err error) {
	defer essentials.AddCtxTo("load config", &err)
	data, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg = DefaultConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, errors.Wrap(err, path)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration for contradictions.
func (c *Config) Validate() error {
	positive := []struct {
		name  string
		value int
	}{
		{"nmaps", c.NMaps},
		{"kw", c.KW},
		{"kh", c.KH},
		{"height", c.Height},
		{"nconvs", c.NConvs},
		{"rx_step", c.RXStep},
		{"niclass", c.NIClass},
		{"noclass", c.NOClass},
	}
	for _, p := range positive {
		if p.value <= 0 {
			return errors.Errorf("%s must be positive (got %d)", p.name, p.value)
		}
	}
	if c.NumAttention < 0 {
		return errors.Errorf("num_attention must not be negative (got %d)", c.NumAttention)
	}
	if c.Dropout < 0 || c.Dropout >= 1 {
		return errors.Errorf("dropout must be in [0, 1) (got %f)", c.Dropout)
	}
	if c.MaxGradNorm <= 0 {
		return errors.Errorf("max_grad_norm must be positive (got %f)", c.MaxGradNorm)
	}
	if c.Cutoff > cgru.PlainCutoff && c.SmoothGrad != 0 && c.SmoothGrad < 1 {
		return errors.Errorf("smooth_grad %f would clamp gradients inside [0, 1]", c.SmoothGrad)
	}
	if c.CutoffTanh > cgru.PlainCutoff && c.SmoothGradTanh != 0 && c.SmoothGradTanh < 1 {
		return errors.Errorf("smooth_grad_tanh %f would clamp gradients inside [-1, 1]",
			c.SmoothGradTanh)
	}
	if len(c.Buckets) == 0 {
		return errors.New("no buckets")
	}
	if !sort.IntsAreSorted(c.Buckets) {
		return errors.Errorf("buckets must be sorted: %v", c.Buckets)
	}
	if c.Buckets[0] <= 0 {
		return errors.Errorf("bucket lengths must be positive: %v", c.Buckets)
	}
	if c.QuantScale <= 0 || c.QuantMax <= 0 {
		return errors.New("quantization scale and max must be positive")
	}
	return nil
}

// Lengths returns the distinct lengths for which instances
// are built, in ascending order.
func (c *Config) Lengths() []int {
	seen := map[int]bool{}
	var res []int
	for _, l := range append(append([]int{}, c.Buckets...), c.ForwardMax) {
		if l > 0 && !seen[l] {
			seen[l] = true
			res = append(res, l)
		}
	}
	sort.Ints(res)
	return res
}

// Trains reports whether instances of the given length
// get a backward pass.
func (c *Config) Trains(length int) bool {
	smallest := c.Buckets[0]
	largest := c.Buckets[len(c.Buckets)-1]
	return length == smallest || (c.Mode == TrainAll && length <= largest)
}

func (c *Config) activations() *cgru.Activations {
	return &cgru.Activations{
		Cutoff:         c.Cutoff,
		SmoothGrad:     c.SmoothGrad,
		CutoffTanh:     c.CutoffTanh,
		SmoothGradTanh: c.SmoothGradTanh,
	}
}

func (c *Config) logf(format string, args ...interface{}) {
	if c.Logger != nil {
		c.Logger.Printf(format, args...)
	}
}

// Package cnn implements the small convolutional network that scores MFCC
// matrices for snoring:
//
//	Conv(16, 3x3, relu) -> BatchNorm -> MaxPool(2x2) -> Dropout
//	Conv(32, 3x3, relu) -> BatchNorm -> MaxPool(2x2) -> Dropout
//	Flatten -> Dense(64, relu) -> BatchNorm -> Dropout -> Dense(1, sigmoid)
//
// Inputs are single channel matrices flattened row by row.
package cnn

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"sync"
)

// ErrInputSize is returned when an input does not match the network's input shape.
var ErrInputSize = errors.New("input size does not match network")

// Config describes the network topology.
type Config struct {
	InputHeight       int     `msgpack:"input_height"`
	InputWidth        int     `msgpack:"input_width"`
	Conv1Filters      int     `msgpack:"conv1_filters"`
	Conv2Filters      int     `msgpack:"conv2_filters"`
	KernelSize        int     `msgpack:"kernel_size"`
	DenseUnits        int     `msgpack:"dense_units"`
	ConvDropout       float64 `msgpack:"conv_dropout"`
	DenseDropout      float64 `msgpack:"dense_dropout"`
	BatchNormMomentum float64 `msgpack:"bn_momentum"`
	BatchNormEpsilon  float64 `msgpack:"bn_epsilon"`
	Seed              uint64  `msgpack:"seed"`
}

// DefaultConfig returns the production topology for height x width inputs.
func DefaultConfig(height, width int) Config {
	return Config{
		InputHeight:       height,
		InputWidth:        width,
		Conv1Filters:      16,
		Conv2Filters:      32,
		KernelSize:        3,
		DenseUnits:        64,
		ConvDropout:       0.25,
		DenseDropout:      0.5,
		BatchNormMomentum: 0.99,
		BatchNormEpsilon:  1e-3,
		Seed:              42,
	}
}

func (c Config) validate() error {
	if c.InputHeight <= 0 || c.InputWidth <= 0 {
		return fmt.Errorf("invalid input shape %dx%d", c.InputHeight, c.InputWidth)
	}
	if c.Conv1Filters <= 0 || c.Conv2Filters <= 0 || c.DenseUnits <= 0 || c.KernelSize <= 0 {
		return errors.New("layer sizes must be positive")
	}
	// Two conv+pool stages must leave at least one position.
	h := ((c.InputHeight-c.KernelSize+1)/2 - c.KernelSize + 1) / 2
	w := ((c.InputWidth-c.KernelSize+1)/2 - c.KernelSize + 1) / 2
	if h <= 0 || w <= 0 {
		return fmt.Errorf("input %dx%d is too small for two %dx%d conv blocks", c.InputHeight, c.InputWidth, c.KernelSize, c.KernelSize)
	}
	if c.ConvDropout < 0 || c.ConvDropout >= 1 || c.DenseDropout < 0 || c.DenseDropout >= 1 {
		return errors.New("dropout rates must be in [0, 1)")
	}
	if c.BatchNormMomentum < 0 || c.BatchNormMomentum >= 1 || c.BatchNormEpsilon <= 0 {
		return errors.New("invalid batch norm settings")
	}
	return nil
}

// Network is the binary classifier. Predict is safe for concurrent use; Fit
// must not run concurrently with anything else.
type Network struct {
	cfg    Config
	layers []layer
	rng    *rand.Rand
	mu     sync.Mutex
}

// New builds a network with Glorot initialised weights drawn from cfg.Seed.
func New(cfg Config) (*Network, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	rng := rand.New(rand.NewPCG(cfg.Seed, cfg.Seed^0x5eed))
	n := &Network{cfg: cfg, rng: rng}

	s := shape{h: cfg.InputHeight, w: cfg.InputWidth, c: 1}
	add := func(l layer) {
		n.layers = append(n.layers, l)
		s = l.outShape()
	}

	for _, filters := range []int{cfg.Conv1Filters, cfg.Conv2Filters} {
		add(newConv2D(s, filters, cfg.KernelSize, rng))
		add(newBatchNorm(s, cfg.BatchNormMomentum, cfg.BatchNormEpsilon))
		add(newMaxPool2D(s))
		add(newDropout(s, cfg.ConvDropout, rng))
	}
	add(newDense(s.size(), cfg.DenseUnits, true, rng))
	add(newBatchNorm(s, cfg.BatchNormMomentum, cfg.BatchNormEpsilon))
	add(newDropout(s, cfg.DenseDropout, rng))
	add(newDense(s.size(), 1, false, rng))
	return n, nil
}

// Config returns the topology the network was built with.
func (n *Network) Config() Config {
	return n.cfg
}

// InputShape returns (height, width).
func (n *Network) InputShape() (int, int) {
	return n.cfg.InputHeight, n.cfg.InputWidth
}

// ParamCount is the number of trainable scalars.
func (n *Network) ParamCount() int {
	total := 0
	for _, l := range n.layers {
		for _, p := range l.params() {
			total += len(p.w)
		}
	}
	return total
}

// Predict returns the snoring probability of one flattened input.
func (n *Network) Predict(input []float64) (float64, error) {
	probs, err := n.PredictBatch([][]float64{input})
	if err != nil {
		return 0, err
	}
	return probs[0], nil
}

// PredictBatch scores several inputs in inference mode.
func (n *Network) PredictBatch(inputs [][]float64) ([]float64, error) {
	if err := n.checkInputs(inputs); err != nil {
		return nil, err
	}
	n.mu.Lock()
	logits := n.forward(inputs, false)
	n.mu.Unlock()

	probs := make([]float64, len(logits))
	for i, z := range logits {
		probs[i] = sigmoid(z)
	}
	return probs, nil
}

func (n *Network) checkInputs(inputs [][]float64) error {
	want := n.cfg.InputHeight * n.cfg.InputWidth
	for i, x := range inputs {
		if len(x) != want {
			return fmt.Errorf("%w: input %d has %d values, want %d", ErrInputSize, i, len(x), want)
		}
	}
	return nil
}

// forward returns one logit per input.
func (n *Network) forward(batch [][]float64, training bool) []float64 {
	act := batch
	for _, l := range n.layers {
		act = l.forward(act, training)
	}
	logits := make([]float64, len(act))
	for i, a := range act {
		logits[i] = a[0]
	}
	return logits
}

func (n *Network) backward(dLogits []float64) {
	grad := make([][]float64, len(dLogits))
	for i, d := range dLogits {
		grad[i] = []float64{d}
	}
	for i := len(n.layers) - 1; i >= 0; i-- {
		grad = n.layers[i].backward(grad)
	}
}

func (n *Network) zeroGrad() {
	for _, l := range n.layers {
		for _, p := range l.params() {
			clear(p.g)
		}
	}
}

func (n *Network) trainable() []*param {
	var ps []*param
	for _, l := range n.layers {
		ps = append(ps, l.params()...)
	}
	return ps
}

// snapshot copies every persisted tensor, batch norm statistics included.
func (n *Network) snapshot() [][]float64 {
	var out [][]float64
	for _, l := range n.layers {
		for _, t := range l.state() {
			out = append(out, append([]float64(nil), t...))
		}
	}
	return out
}

func (n *Network) restore(tensors [][]float64) error {
	i := 0
	for _, l := range n.layers {
		for _, t := range l.state() {
			if i >= len(tensors) {
				return fmt.Errorf("missing tensor %d", i)
			}
			if len(tensors[i]) != len(t) {
				return fmt.Errorf("tensor %d has %d values, want %d", i, len(tensors[i]), len(t))
			}
			copy(t, tensors[i])
			i++
		}
	}
	if i != len(tensors) {
		return fmt.Errorf("got %d tensors, want %d", len(tensors), i)
	}
	return nil
}

func sigmoid(z float64) float64 {
	if z >= 0 {
		return 1 / (1 + math.Exp(-z))
	}
	e := math.Exp(z)
	return e / (1 + e)
}

// bceWithLogits is binary cross-entropy written in terms of the logit to
// stay finite for saturated outputs.
func bceWithLogits(z, y float64) float64 {
	return math.Max(z, 0) - z*y + math.Log1p(math.Exp(-math.Abs(z)))
}

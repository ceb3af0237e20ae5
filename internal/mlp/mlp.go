// Package mlp implements the per-disease classifier head as a plain
// fully-connected network evaluated on the host.
package mlp

import (
	"errors"
	"fmt"
	"sync"

	"github.com/Brownie44l1/chainrad/internal/model"
)

// Dense is one fully-connected layer. Weights are stored row-major as
// [Out][In].
type Dense struct {
	In      int
	Out     int
	Weights []float32
	Biases  []float32
}

func (d Dense) validate() error {
	if d.In <= 0 || d.Out <= 0 {
		return fmt.Errorf("invalid layer shape %dx%d", d.Out, d.In)
	}
	if len(d.Weights) != d.In*d.Out {
		return fmt.Errorf("layer %dx%d has %d weights", d.Out, d.In, len(d.Weights))
	}
	if len(d.Biases) != d.Out {
		return fmt.Errorf("layer %dx%d has %d biases", d.Out, d.In, len(d.Biases))
	}
	return nil
}

func (d Dense) forward(in, out []float32, activate bool) {
	for j := 0; j < d.Out; j++ {
		row := d.Weights[j*d.In : (j+1)*d.In]
		sum := d.Biases[j]
		for k, w := range row {
			sum += w * in[k]
		}
		if activate && sum < 0 {
			sum = 0
		}
		out[j] = sum
	}
}

// Network is a stack of Dense layers with ReLU between them. The last layer
// has no activation and emits one raw score.
type Network struct {
	layers []Dense

	mu        sync.Mutex
	residency model.Residency
	closed    bool
}

// New checks that the layers chain and end in a single output.
func New(layers ...Dense) (*Network, error) {
	if len(layers) == 0 {
		return nil, errors.New("network has no layers")
	}
	for i, l := range layers {
		if err := l.validate(); err != nil {
			return nil, fmt.Errorf("layer %d: %w", i, err)
		}
		if i > 0 && layers[i-1].Out != l.In {
			return nil, fmt.Errorf("layer %d expects %d inputs, previous layer emits %d", i, l.In, layers[i-1].Out)
		}
	}
	if last := layers[len(layers)-1]; last.Out != 1 {
		return nil, fmt.Errorf("final layer emits %d values, want 1", last.Out)
	}
	return &Network{layers: layers}, nil
}

// Layers returns the layer stack.
func (n *Network) Layers() []Dense { return n.layers }

func (n *Network) InputWidth() int { return n.layers[0].In }

// Relocate records the requested residency. Evaluation always happens on
// the host.
func (n *Network) Relocate(to model.Residency) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return errors.New("network is closed")
	}
	n.residency = to
	return nil
}

// Score returns one raw score per vector.
func (n *Network) Score(batch []model.FeatureVector) ([]float32, error) {
	n.mu.Lock()
	closed := n.closed
	n.mu.Unlock()
	if closed {
		return nil, errors.New("network is closed")
	}

	widest := 0
	for _, l := range n.layers {
		widest = max(widest, l.Out)
	}
	a := make([]float32, widest)
	b := make([]float32, widest)

	scores := make([]float32, len(batch))
	for i, vec := range batch {
		if len(vec) != n.InputWidth() {
			return nil, fmt.Errorf("vector %d has %d features, want %d", i, len(vec), n.InputWidth())
		}
		in := []float32(vec)
		for li, l := range n.layers {
			out := a[:l.Out]
			l.forward(in, out, li < len(n.layers)-1)
			in, a, b = out, b, a
		}
		scores[i] = in[0]
	}
	return scores, nil
}

func (n *Network) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.closed = true
	return nil
}

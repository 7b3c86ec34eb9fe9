// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package smap

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"

	"github.com/openfluke/loom/nn"

	"github.com/curioloop/rosenbrock/problem"
)

// linear is the identity activation of the output layer.
const linear = nn.ActivationType(-1)

// MLPConfig describes a fully connected network.
type MLPConfig struct {
	In     int   // input width
	Out    int   // output width
	Hidden []int // hidden layer widths
}

// MLP is a stack of dense layers: leaky ReLU on hidden layers, linear output.
// An MLP keeps activations between Forward and the following backward
// pass, so it is not safe for concurrent use.
type MLP struct {
	cfg   MLPConfig
	net   *nn.Network
	sizes []int // fan-in of each layer followed by the output width
}

// Weights is a flat copy of every kernel then bias, layer by layer.
type Weights []float64

// NewMLP builds a network for cfg with weights drawn from rng.
func NewMLP(cfg MLPConfig, rng *rand.Rand) (m *MLP, err error) {
	switch {
	case cfg.In <= 0 || cfg.Out <= 0:
		err = fmt.Errorf("smap: network width %d -> %d", cfg.In, cfg.Out)
	case rng == nil:
		err = errors.New("smap: random generator is required")
	}
	for _, h := range cfg.Hidden {
		if err == nil && h <= 0 {
			err = fmt.Errorf("smap: hidden width %d", h)
		}
	}
	if err != nil {
		return
	}

	sizes := append(append([]int{cfg.In}, cfg.Hidden...), cfg.Out)
	layers := len(sizes) - 1

	net := nn.NewNetwork(cfg.In, 1, 1, layers)
	net.BatchSize = 1
	for i := 0; i < layers; i++ {
		act := nn.ActivationLeakyReLU
		if i == layers-1 {
			act = linear
		}
		net.SetLayer(0, 0, i, nn.InitDenseLayer(sizes[i], sizes[i+1], act))
	}

	m = &MLP{cfg: cfg, net: net, sizes: sizes}
	m.initialize(rng)
	return
}

// initialize draws kernels from U(-√(6/fan_in), √(6/fan_in)) and zeroes biases.
func (m *MLP) initialize(rng *rand.Rand) {
	for i := range m.net.Layers {
		layer := &m.net.Layers[i]
		limit := math.Sqrt(6 / float64(m.sizes[i]))
		for k := range layer.Kernel {
			layer.Kernel[k] = float32(limit * (2*rng.Float64() - 1))
		}
		clear(layer.Bias)
	}
}

// Config returns the shape of the network.
func (m *MLP) Config() MLPConfig { return m.cfg }

// NumParams returns the number of trainable weights.
func (m *MLP) NumParams() (n int) {
	for _, layer := range m.net.Layers {
		n += len(layer.Kernel) + len(layer.Bias)
	}
	return
}

// Snapshot copies the current weights.
func (m *MLP) Snapshot() Weights {
	w := make(Weights, 0, m.NumParams())
	for _, layer := range m.net.Layers {
		for _, v := range layer.Kernel {
			w = append(w, float64(v))
		}
		for _, v := range layer.Bias {
			w = append(w, float64(v))
		}
	}
	return w
}

// Load overwrites the weights with w.
func (m *MLP) Load(w Weights) error {
	if len(w) != m.NumParams() {
		return fmt.Errorf("smap: %d weights, want %d", len(w), m.NumParams())
	}
	k := 0
	for i := range m.net.Layers {
		layer := &m.net.Layers[i]
		for j := range layer.Kernel {
			layer.Kernel[j] = float32(w[k])
			k++
		}
		for j := range layer.Bias {
			layer.Bias[j] = float32(w[k])
			k++
		}
	}
	return nil
}

// decayMask marks kernels for weight decay and exempts biases.
func (m *MLP) decayMask() []bool {
	mask := make([]bool, 0, m.NumParams())
	for _, layer := range m.net.Layers {
		for range layer.Kernel {
			mask = append(mask, true)
		}
		for range layer.Bias {
			mask = append(mask, false)
		}
	}
	return mask
}

// Forward evaluates the network at in.
func (m *MLP) Forward(in []float64) ([]float64, error) {
	if len(in) != m.cfg.In {
		return nil, fmt.Errorf("smap: input width %d, want %d", len(in), m.cfg.In)
	}
	x := make([]float32, len(in))
	for i, v := range in {
		x[i] = float32(v)
	}
	y, _ := m.net.ForwardCPU(x)
	if len(y) != m.cfg.Out {
		return nil, fmt.Errorf("smap: output width %d, want %d", len(y), m.cfg.Out)
	}
	out := make([]float64, len(y))
	for i, v := range y {
		out[i] = float64(v)
	}
	return out, nil
}

// backward propagates grad, the loss gradient at the output of the last
// Forward call, and adds the weight gradient into acc in Snapshot order.
// Each call replaces the gradients the network keeps per layer.
func (m *MLP) backward(grad []float64, acc []float64) error {
	if len(grad) != m.cfg.Out || len(acc) != m.NumParams() {
		return fmt.Errorf("smap: backward with %d outputs and %d weights, want %d and %d",
			len(grad), len(acc), m.cfg.Out, m.NumParams())
	}
	g := make([]float32, len(grad))
	for i, v := range grad {
		g[i] = float32(v)
	}
	m.net.BackwardCPU(g)

	kernels, biases := m.net.KernelGradients(), m.net.BiasGradients()
	if len(kernels) != len(m.net.Layers) || len(biases) != len(m.net.Layers) {
		return fmt.Errorf("smap: gradients for %d/%d layers, want %d",
			len(kernels), len(biases), len(m.net.Layers))
	}
	k := 0
	for i, layer := range m.net.Layers {
		nk, nb := len(layer.Kernel), len(layer.Bias)
		if len(kernels[i]) != nk || len(biases[i]) != nb {
			return fmt.Errorf("smap: layer %d gradient shape %d+%d, want %d+%d",
				i, len(kernels[i]), len(biases[i]), nk, nb)
		}
		for j, v := range kernels[i] {
			acc[k+j] += float64(v)
		}
		k += nk
		for j, v := range biases[i] {
			acc[k+j] += float64(v)
		}
		k += nb
	}
	return nil
}

// Node maps named parameters to a decision variable through an MLP.
type Node struct {
	Inputs []string // parameter names, in feature order
	Output string   // decision variable name
	Map    *MLP
}

// NewNode builds the solution map of prob: (p, a) -> x.
func NewNode(prob *problem.Problem, hidden []int, rng *rand.Rand) (*Node, error) {
	sym := prob.Symbols
	m, err := NewMLP(MLPConfig{In: prob.NumVars, Out: prob.NumVars, Hidden: hidden}, rng)
	if err != nil {
		return nil, err
	}
	return &Node{
		Inputs: []string{sym.P.Name, sym.A.Name},
		Output: sym.X.Name,
		Map:    m,
	}, nil
}

// Predict returns the decision vector the map assigns to inst.
func (n *Node) Predict(inst problem.Instance) ([]float64, error) {
	return n.Map.Forward(inst.Features())
}

// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package config holds the settings of one solution-map experiment.
//
// An experiment is selected by a problem size and a training-set size.
// The size picks the dependent hyperparameters from a lookup Table and
// fixes the width of the decision vector. Every random source of the
// experiment is derived from a single seed through named streams.
package config

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"slices"

	"github.com/curioloop/rosenbrock/dataset"
	"github.com/curioloop/rosenbrock/problem"
)

// ErrConfig reports an unsupported or inconsistent experiment setting.
var ErrConfig = errors.New("config: invalid experiment")

// Variant selects the parameter sampling ranges.
type Variant string

const (
	// Submit samples p from [1, 8) and a from [0.5, 4.5).
	Submit Variant = "submit"
	// Demo samples p from [0.5, 6) and a from [0.2, 1.2).
	Demo Variant = "demo"
)

// Ranges returns the sampling ranges of p and a for v.
func (v Variant) Ranges() (p, a dataset.Range, err error) {
	switch v {
	case Submit:
		p, a = dataset.Range{Low: 1.0, High: 8.0}, dataset.Range{Low: 0.5, High: 4.5}
	case Demo:
		p, a = dataset.Range{Low: 0.5, High: 6.0}, dataset.Range{Low: 0.2, High: 1.2}
	default:
		err = fmt.Errorf("%w: unknown variant %q", ErrConfig, string(v))
	}
	return
}

// Stream identifies an independent random source of an experiment.
type Stream uint64

const (
	StreamSampling Stream = iota + 1 // parameter draws
	StreamInit                       // solution-map weights
	StreamShuffle                    // train batch order
	StreamCompare                    // single-point comparison
	StreamShuffleDev                 // dev batch order
)

// Symbol names shared by the problem and the sampled dataset.
const (
	VarX   = "x"
	ParamP = "p"
	ParamA = "a"
)

// Experiment is a fully resolved experiment configuration.
type Experiment struct {
	Size     int // number of blocks
	Samples  int // training-set size
	TestSize int
	ValSize  int
	NumVars  int // width of x, Size+1

	HiddenLayers  int
	HiddenSize    int
	BatchSize     int
	LearningRate  float64
	WeightDecay   float64
	PenaltyWeight float64

	Epochs   int
	Warmup   int
	Patience int

	Seed    uint64
	Variant Variant
}

// New resolves an experiment for size and samples against table using
// the default schedule. A nil table means DefaultTable.
func New(size, samples int, variant Variant, table *Table) (*Experiment, error) {
	if table == nil {
		table = DefaultTable()
	}
	if !slices.Contains(Sizes, size) {
		return nil, fmt.Errorf("%w: size %d not in %v", ErrConfig, size, Sizes)
	}
	entry, err := table.Lookup(size)
	if err != nil {
		return nil, err
	}
	exp := &Experiment{
		Size:          size,
		Samples:       samples,
		TestSize:      100,
		ValSize:       1000,
		NumVars:       size + 1,
		HiddenLayers:  5,
		HiddenSize:    entry.HiddenSize,
		BatchSize:     entry.BatchSize,
		LearningRate:  entry.LearningRate,
		PenaltyWeight: entry.PenaltyWeight,
		Epochs:        200,
		Warmup:        50,
		Patience:      50,
		Seed:          42,
		Variant:       variant,
	}
	return exp, exp.Validate()
}

// Validate checks the experiment for consistency.
func (e *Experiment) Validate() (err error) {
	_, _, verr := e.Variant.Ranges()
	switch {
	case !slices.Contains(Sizes, e.Size):
		err = fmt.Errorf("%w: size %d not in %v", ErrConfig, e.Size, Sizes)
	case !slices.Contains(SampleCounts, e.Samples):
		err = fmt.Errorf("%w: samples %d not in %v", ErrConfig, e.Samples, SampleCounts)
	case e.NumVars != e.Size+1:
		err = fmt.Errorf("%w: %d variables for size %d", ErrConfig, e.NumVars, e.Size)
	case e.TestSize <= 0 || e.ValSize <= 0:
		err = fmt.Errorf("%w: test size %d, val size %d", ErrConfig, e.TestSize, e.ValSize)
	case e.HiddenLayers <= 0 || e.HiddenSize <= 0:
		err = fmt.Errorf("%w: %d hidden layers of width %d", ErrConfig, e.HiddenLayers, e.HiddenSize)
	case e.BatchSize <= 0:
		err = fmt.Errorf("%w: batch size %d", ErrConfig, e.BatchSize)
	case !(e.LearningRate > 0):
		err = fmt.Errorf("%w: learning rate %v", ErrConfig, e.LearningRate)
	case e.WeightDecay < 0:
		err = fmt.Errorf("%w: weight decay %v", ErrConfig, e.WeightDecay)
	case e.Epochs <= 0:
		err = fmt.Errorf("%w: %d epochs", ErrConfig, e.Epochs)
	case e.Warmup < 0 || e.Patience <= 0:
		err = fmt.Errorf("%w: warmup %d, patience %d", ErrConfig, e.Warmup, e.Patience)
	case verr != nil:
		err = verr
	}
	return
}

// RNG returns a generator for stream s seeded from the experiment seed.
// Repeated calls return generators that replay the same sequence.
func (e *Experiment) RNG(s Stream) *rand.Rand {
	return rand.New(rand.NewPCG(e.Seed, uint64(s)))
}

// Fields returns the sampled parameters: p of width 1 and a of width NumVars-1.
func (e *Experiment) Fields() []dataset.Field {
	p, a, _ := e.Variant.Ranges()
	return []dataset.Field{
		{Name: ParamP, Width: 1, Range: p},
		{Name: ParamA, Width: e.NumVars - 1, Range: a},
	}
}

// SplitSizes returns the per-split sample counts.
func (e *Experiment) SplitSizes() dataset.Sizes {
	return dataset.Sizes{Train: e.Samples, Test: e.TestSize, Val: e.ValSize}
}

// ProblemSpec returns the problem definition for the experiment.
func (e *Experiment) ProblemSpec() problem.Spec {
	return problem.Spec{
		Vars:          []string{VarX},
		Params:        []string{ParamP, ParamA},
		PenaltyWeight: e.PenaltyWeight,
		NumVars:       e.NumVars,
	}
}

// Hidden returns the hidden layer widths of the solution map.
func (e *Experiment) Hidden() []int {
	hidden := make([]int, e.HiddenLayers)
	for i := range hidden {
		hidden[i] = e.HiddenSize
	}
	return hidden
}

func (e *Experiment) String() string {
	return fmt.Sprintf("size=%d samples=%d variant=%s seed=%d", e.Size, e.Samples, e.Variant, e.Seed)
}

// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package problem

import (
	"fmt"
	"math"
	"slices"

	"github.com/curioloop/rosenbrock/expr"
)

// Instance is one datapoint: the parameter values of a problem and a label.
type Instance struct {
	Name string
	P    float64   // scalar bound 𝐩
	A    []float64 // coefficients 𝐚, width NumVars-1
}

// Rows is a source of sampled parameter rows, such as a dataset batch.
type Rows interface {
	Row(name string, i int) []float64
}

// Validate checks inst against the dimensions of prob.
func (inst Instance) Validate(prob *Problem) (err error) {
	switch {
	case math.IsNaN(inst.P) || math.IsInf(inst.P, 0):
		err = fmt.Errorf("%w: instance %q has non-finite %s", ErrConfig, inst.Name, prob.Symbols.P.Name)
	case len(inst.A) != prob.NumVars-1:
		err = fmt.Errorf("%w: instance %q has %s of width %d, want %d",
			ErrConfig, inst.Name, prob.Symbols.A.Name, len(inst.A), prob.NumVars-1)
	}
	return
}

// Env binds x and the parameters of inst to the symbols of prob.
func (prob *Problem) Env(x []float64, inst Instance) (expr.Env, error) {
	if len(x) != prob.NumVars {
		return nil, fmt.Errorf("%w: %s has width %d, want %d", ErrDimension, prob.Symbols.X.Name, len(x), prob.NumVars)
	}
	if err := inst.Validate(prob); err != nil {
		return nil, err
	}
	return expr.Env{
		prob.Symbols.X.Name: x,
		prob.Symbols.P.Name: {inst.P},
		prob.Symbols.A.Name: inst.A,
	}, nil
}

// InstanceAt reads row i of src as an instance labelled name.
func (prob *Problem) InstanceAt(src Rows, i int, name string) (Instance, error) {
	p := src.Row(prob.Symbols.P.Name, i)
	a := src.Row(prob.Symbols.A.Name, i)
	if len(p) != 1 {
		return Instance{}, fmt.Errorf("%w: %s row has width %d, want 1", ErrConfig, prob.Symbols.P.Name, len(p))
	}
	inst := Instance{Name: name, P: p[0], A: slices.Clone(a)}
	return inst, inst.Validate(prob)
}

// Features concatenates the parameters of inst in positional order (𝐩, 𝐚).
func (inst Instance) Features() []float64 {
	return append([]float64{inst.P}, inst.A...)
}

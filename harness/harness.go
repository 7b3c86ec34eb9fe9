// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package harness compares a learned solution map with classical solvers
// on the same problem instances.
//
// Compare evaluates a single instance and reports, per method, the decision
// vector, its objective, its constraint violation, and the wall time.
// Sweep repeats the comparison over every datapoint of a loader and aggregates
// the rows into per-method summaries. Neither enforces feasibility; they
// only observe it.
package harness

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/curioloop/rosenbrock/dataset"
	"github.com/curioloop/rosenbrock/problem"
	"github.com/curioloop/rosenbrock/solver"
)

// ErrConfig reports an invalid harness setup.
var ErrConfig = errors.New("harness: configuration error")

// Predictor is a learned solution map.
type Predictor interface {
	Predict(inst problem.Instance) ([]float64, error)
}

// Reference is a classical solver that accepts explicit parameter values.
type Reference interface {
	SetParamVal(inst problem.Instance) error
	Solve(x0 []float64) (*solver.Solution, error)
}

// Method is a named way of producing a decision vector. Exactly one of
// Predictor and Reference is set.
type Method struct {
	Name      string
	Predictor Predictor
	Reference Reference
}

// Learned returns a method backed by a solution map.
func Learned(name string, p Predictor) Method {
	return Method{Name: name, Predictor: p}
}

// Classical returns a method backed by a solver.
func Classical(name string, r Reference) Method {
	return Method{Name: name, Reference: r}
}

// Row is the outcome of one method on one instance.
type Row struct {
	Method    string
	Instance  string
	X         []float64
	Objective float64
	Violation float64
	Feasible  bool
	Elapsed   time.Duration
	Status    string // solver status, empty for learned methods
}

// Sink receives every row produced by a sweep.
type Sink interface {
	Record(row Row) error
}

// Harness evaluates a fixed set of methods against one problem.
type Harness struct {
	prob    *problem.Problem
	methods []Method
	tol     float64
}

// New returns a harness that deems a point feasible when every constraint
// residual is at least -tol.
func New(prob *problem.Problem, tol float64, methods ...Method) (h *Harness, err error) {
	switch {
	case prob == nil:
		err = fmt.Errorf("%w: problem is required", ErrConfig)
	case len(methods) == 0:
		err = fmt.Errorf("%w: no methods to compare", ErrConfig)
	case tol < 0:
		err = fmt.Errorf("%w: feasibility tolerance %v", ErrConfig, tol)
	}
	seen := make(map[string]bool, len(methods))
	for _, m := range methods {
		if err != nil {
			break
		}
		switch {
		case m.Name == "":
			err = fmt.Errorf("%w: method name is empty", ErrConfig)
		case seen[m.Name]:
			err = fmt.Errorf("%w: duplicate method %q", ErrConfig, m.Name)
		case (m.Predictor == nil) == (m.Reference == nil):
			err = fmt.Errorf("%w: method %q needs exactly one of predictor and reference", ErrConfig, m.Name)
		}
		seen[m.Name] = true
	}
	if err != nil {
		return
	}
	h = &Harness{prob: prob, methods: append([]Method(nil), methods...), tol: tol}
	return
}

// Methods returns the names of the compared methods in order.
func (h *Harness) Methods() []string {
	names := make([]string, len(h.methods))
	for i, m := range h.methods {
		names[i] = m.Name
	}
	return names
}

// Compare runs every method on inst.
func (h *Harness) Compare(inst problem.Instance) (*Report, error) {
	if err := inst.Validate(h.prob); err != nil {
		return nil, err
	}
	rep := &Report{Instance: inst, Rows: make([]Row, 0, len(h.methods))}
	for _, m := range h.methods {
		row, err := h.run(m, inst)
		if err != nil {
			return nil, fmt.Errorf("harness: %s on %q: %w", m.Name, inst.Name, err)
		}
		rep.Rows = append(rep.Rows, row)
	}
	return rep, nil
}

func (h *Harness) run(m Method, inst problem.Instance) (row Row, err error) {
	row = Row{Method: m.Name, Instance: inst.Name}

	start := time.Now()
	if m.Predictor != nil {
		row.X, err = m.Predictor.Predict(inst)
	} else if err = m.Reference.SetParamVal(inst); err == nil {
		var sol *solver.Solution
		if sol, err = m.Reference.Solve(nil); err == nil {
			row.X, row.Status = sol.X, sol.Status
		}
	}
	row.Elapsed = time.Since(start)
	if err != nil {
		return
	}

	if row.Objective, err = h.prob.ObjectiveValue(row.X, inst); err != nil {
		return
	}
	if row.Violation, err = h.prob.Violation(row.X, inst); err != nil {
		return
	}
	row.Feasible, err = h.prob.Feasible(row.X, inst, h.tol)
	return
}

// Sweep compares every method on each datapoint of one pass of l,
// forwarding rows to sink when it is non-nil. Datapoints are labelled with
// the split name and their dataset row.
func (h *Harness) Sweep(ctx context.Context, l *dataset.Loader, sink Sink) ([]Summary, error) {
	acc := make([]accumulator, len(h.methods))
	for b := range l.Batches() {
		for i := 0; i < b.Len(); i++ {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			label := fmt.Sprintf("%s/%d", b.Split, b.Rows[i])
			inst, err := h.prob.InstanceAt(b, i, label)
			if err != nil {
				return nil, err
			}
			rep, err := h.Compare(inst)
			if err != nil {
				return nil, err
			}
			for k, row := range rep.Rows {
				acc[k].add(row)
				if sink == nil {
					continue
				}
				if err = sink.Record(row); err != nil {
					return nil, fmt.Errorf("harness: record %s on %q: %w", row.Method, row.Instance, err)
				}
			}
		}
	}

	sums := make([]Summary, len(h.methods))
	for k, m := range h.methods {
		sums[k] = acc[k].summary(m.Name)
	}
	return sums, nil
}

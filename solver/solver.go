// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package solver solves single instances of a problem with classical
// methods, as a reference for the learned solution map.
//
// Two methods are available:
//   - SLSQP   : the constrained program, each constraint 𝒄ⱼ(𝐱) ≥ 0 handed to the solver
//   - Penalty : the unconstrained penalty loss 𝓛(𝐱) minimized by L-BFGS-B
//
// Derivatives are taken from the expression tree, or estimated by forward
// or central finite differences.
package solver

import (
	"errors"
	"fmt"
	"math"
	"slices"

	"github.com/curioloop/optimizer/lbfgsb"
	"github.com/curioloop/optimizer/numdiff"
	"github.com/curioloop/optimizer/slsqp"

	"github.com/curioloop/rosenbrock/problem"
)

var (
	// ErrNoParams reports a solve before any parameter assignment.
	ErrNoParams = errors.New("solver: parameters not set")
	// ErrConfig reports invalid solver options.
	ErrConfig = errors.New("solver: configuration error")
)

// Method selects the solving algorithm.
type Method int

const (
	SLSQP Method = iota
	Penalty
)

func (m Method) String() string {
	switch m {
	case SLSQP:
		return "slsqp"
	case Penalty:
		return "penalty"
	}
	return fmt.Sprintf("method(%d)", int(m))
}

// Diff selects how derivatives are obtained.
type Diff int

const (
	Analytic Diff = iota
	Forward
	Central
)

// Stop is the termination rule shared by both methods.
type Stop struct {
	MaxIterations int     // zero means 100
	Accuracy      float64 // SLSQP solution accuracy, zero means 1e-8
	ProjGradTol   float64 // L-BFGS-B projected gradient tolerance, zero means 1e-5
}

// Options configures a Model.
type Options struct {
	Method Method
	Diff   Diff
	Stop   Stop
	// Feasibility tolerance on constraint residuals, zero means 1e-6.
	Tol float64
	// Progress output of the L-BFGS-B iterations, nil for none.
	Logger *lbfgsb.Logger
}

// Solution is the outcome of one solve.
type Solution struct {
	X          []float64
	Objective  float64 // unweighted objective at X
	Violation  float64 // summed raw constraint violation at X
	Feasible   bool
	Converged  bool
	Iterations int
	Status     string
}

// Model solves a problem for explicitly assigned parameter values.
// A Model is not safe for concurrent use.
type Model struct {
	prob *problem.Problem
	opts Options
	inst *problem.Instance
	err  error // first evaluation failure of the current solve
}

// NewModel validates opts and fills in defaults.
func NewModel(prob *problem.Problem, opts Options) (m *Model, err error) {
	stop := &opts.Stop
	if stop.MaxIterations == 0 {
		stop.MaxIterations = 100
	}
	if stop.Accuracy == 0 {
		stop.Accuracy = 1e-8
	}
	if stop.ProjGradTol == 0 {
		stop.ProjGradTol = 1e-5
	}
	if opts.Tol == 0 {
		opts.Tol = 1e-6
	}

	switch {
	case prob == nil:
		err = fmt.Errorf("%w: problem is required", ErrConfig)
	case opts.Method != SLSQP && opts.Method != Penalty:
		err = fmt.Errorf("%w: unknown method %v", ErrConfig, opts.Method)
	case opts.Diff != Analytic && opts.Diff != Forward && opts.Diff != Central:
		err = fmt.Errorf("%w: unknown derivative mode %d", ErrConfig, opts.Diff)
	case stop.MaxIterations < 0:
		err = fmt.Errorf("%w: max iterations %d", ErrConfig, stop.MaxIterations)
	case !(stop.Accuracy > 0) || stop.ProjGradTol < 0:
		err = fmt.Errorf("%w: accuracy %v, projected gradient tolerance %v", ErrConfig, stop.Accuracy, stop.ProjGradTol)
	case opts.Tol < 0:
		err = fmt.Errorf("%w: feasibility tolerance %v", ErrConfig, opts.Tol)
	}
	if err != nil {
		return
	}
	m = &Model{prob: prob, opts: opts}
	return
}

// Name identifies the method of the model.
func (m *Model) Name() string { return m.opts.Method.String() }

// SetParamVal assigns the parameter values used by subsequent solves.
func (m *Model) SetParamVal(inst problem.Instance) error {
	if err := inst.Validate(m.prob); err != nil {
		return err
	}
	inst.A = slices.Clone(inst.A)
	m.inst = &inst
	return nil
}

// Params returns the assigned parameter values.
func (m *Model) Params() (problem.Instance, bool) {
	if m.inst == nil {
		return problem.Instance{}, false
	}
	return *m.inst, true
}

// DefaultStart returns 𝐱 = t·𝟏 with ∑ 𝐱ᵢ² = 3p/4, the middle of the
// feasible annulus p/2 ≤ ∑ 𝐱ᵢ² ≤ p. It satisfies c0 for every width.
func (m *Model) DefaultStart() ([]float64, error) {
	if m.inst == nil {
		return nil, ErrNoParams
	}
	n := m.prob.NumVars
	t := math.Sqrt(max(0.75*m.inst.P, 0) / float64(n))
	x := make([]float64, n)
	for i := range x {
		x[i] = t
	}
	return x, nil
}

// Solve runs the configured method from x0, or from DefaultStart when x0
// is nil. Non-convergence is reported in the solution, not as an error.
func (m *Model) Solve(x0 []float64) (*Solution, error) {
	if m.inst == nil {
		return nil, ErrNoParams
	}
	if x0 == nil {
		x0, _ = m.DefaultStart()
	}
	if len(x0) != m.prob.NumVars {
		return nil, fmt.Errorf("%w: start point has width %d, want %d", problem.ErrDimension, len(x0), m.prob.NumVars)
	}
	x0 = slices.Clone(x0)
	m.err = nil

	var (
		sol *Solution
		err error
	)
	switch m.opts.Method {
	case SLSQP:
		sol, err = m.solveSLSQP(x0)
	case Penalty:
		sol, err = m.solvePenalty(x0)
	}
	if err == nil {
		err = m.err
	}
	if err != nil {
		return nil, fmt.Errorf("solver: %s: %w", m.Name(), err)
	}
	if err = m.finish(sol); err != nil {
		return nil, err
	}
	return sol, nil
}

func (m *Model) solveSLSQP(x0 []float64) (*Solution, error) {
	inst, n := *m.inst, m.prob.NumVars

	cons := make([]slsqp.Evaluation, len(m.prob.Constraints))
	for j := range cons {
		cons[j] = m.evaluation(func(x, g []float64) (float64, error) {
			return m.prob.Residual(j, x, inst, g)
		})
	}
	p := slsqp.Problem{
		N: n,
		Stop: slsqp.Termination{
			Accuracy:      m.opts.Stop.Accuracy,
			MaxIterations: m.opts.Stop.MaxIterations,
		},
		Object: m.evaluation(func(x, g []float64) (float64, error) {
			return m.prob.ObjectiveTerm(x, inst, g)
		}),
		NeqCons: cons,
	}
	opt, err := p.New()
	if err != nil {
		return nil, err
	}
	res := opt.Fit(x0, opt.Init())
	return &Solution{
		X:          res.X,
		Converged:  res.OK,
		Iterations: res.NumIter,
		Status:     sqpStatus(res),
	}, nil
}

func (m *Model) solvePenalty(x0 []float64) (*Solution, error) {
	inst := *m.inst
	loss := m.evaluation(func(x, g []float64) (float64, error) {
		if g == nil {
			l, err := m.prob.Loss(x, inst)
			return l.Total, err
		}
		return m.prob.LossGrad(x, inst, g)
	})
	p := lbfgsb.Problem{
		N:    m.prob.NumVars,
		M:    10,
		Eval: loss,
		Stop: lbfgsb.Termination{
			MaxIterations:     m.opts.Stop.MaxIterations,
			EpsAccuracyFactor: 1e7,
			ProjGradTolerance: m.opts.Stop.ProjGradTol,
		},
	}
	opt, err := p.New(m.opts.Logger)
	if err != nil {
		return nil, err
	}
	res := opt.Fit(x0, opt.Init())
	status := "converged"
	if !res.OK {
		status = fmt.Sprintf("stopped (task %v)", res.Status)
	}
	return &Solution{
		X:          res.X,
		Converged:  res.OK,
		Iterations: res.NumIter,
		Status:     status,
	}, nil
}

// finish scores sol against the problem.
func (m *Model) finish(sol *Solution) (err error) {
	inst := *m.inst
	if sol.Objective, err = m.prob.ObjectiveValue(sol.X, inst); err != nil {
		return
	}
	if sol.Violation, err = m.prob.Violation(sol.X, inst); err != nil {
		return
	}
	sol.Feasible, err = m.prob.Feasible(sol.X, inst, m.opts.Tol)
	return
}

// evaluation adapts fn to the solver callback convention, where a nil g
// asks for the value only. With finite differences the gradient of fn is
// never requested. Failures are recorded in m.err and reported as NaN.
func (m *Model) evaluation(fn func(x, g []float64) (float64, error)) func(x, g []float64) float64 {
	value := func(x []float64) float64 {
		v, err := fn(x, nil)
		if err != nil {
			m.fail(err)
			return math.NaN()
		}
		return v
	}

	var spec *numdiff.ApproxSpec
	if m.opts.Diff != Analytic {
		method := numdiff.Forward
		if m.opts.Diff == Central {
			method = numdiff.Central
		}
		spec = &numdiff.ApproxSpec{
			N: m.prob.NumVars, M: 1,
			Method: method,
			Object: func(x, y []float64) { y[0] = value(x) },
		}
	}

	return func(x, g []float64) float64 {
		switch {
		case g == nil:
			return value(x)
		case spec == nil:
			v, err := fn(x, g)
			if err != nil {
				m.fail(err)
				return math.NaN()
			}
			return v
		}
		if err := spec.Diff(slices.Clone(x), g[:m.prob.NumVars]); err != nil {
			m.fail(err)
		}
		return value(x)
	}
}

func (m *Model) fail(err error) {
	if m.err == nil {
		m.err = err
	}
}

func sqpStatus(res *slsqp.Result) string {
	switch res.Status {
	case slsqp.OK:
		return "converged"
	case slsqp.HasSolution:
		return "solved"
	case slsqp.BadArgument:
		return "bad argument"
	case slsqp.NNLSExceedMaxIter:
		return "nnls iteration limit"
	case slsqp.ConsIncompatible:
		return "incompatible constraints"
	case slsqp.LSISingularE:
		return "singular E in LSI"
	case slsqp.LSEISingularC:
		return "singular C in LSEI"
	case slsqp.HFTIRankDefect:
		return "rank-deficient equality constraints"
	case slsqp.SearchNotDescent:
		return "line search not descent"
	case slsqp.SQPExceedMaxIter:
		return "iteration limit"
	}
	return fmt.Sprintf("status %d", res.Status)
}

// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package problem

import (
	"fmt"

	"github.com/curioloop/rosenbrock/expr"
)

// Loss is the penalty loss of one decision vector broken down by term.
//
//	𝓛(𝐱) = 𝐰·𝒇(𝐱) + ∑ⱼ 𝛒ⱼ·𝚟𝚒𝚘ⱼ(𝐱)ᵖ
type Loss struct {
	Objective float64            // unweighted objective value
	Penalty   float64            // weighted sum of constraint violations
	Total     float64            // objective term plus penalty
	Violation map[string]float64 // raw violation of each constraint
}

// ObjectiveValue evaluates the objective at x.
func (prob *Problem) ObjectiveValue(x []float64, inst Instance) (float64, error) {
	env, err := prob.Env(x, inst)
	if err != nil {
		return 0, err
	}
	return expr.Eval(prob.Objective.Expr, env)
}

// Loss evaluates the penalty loss at x.
func (prob *Problem) Loss(x []float64, inst Instance) (loss Loss, err error) {
	env, err := prob.Env(x, inst)
	if err != nil {
		return
	}
	if loss.Objective, err = expr.Eval(prob.Objective.Expr, env); err != nil {
		return
	}
	loss.Violation = make(map[string]float64, len(prob.Constraints))
	for _, c := range prob.Constraints {
		var v, w float64
		if v, err = expr.Eval(c.Cmp, env); err != nil {
			return
		}
		if w, err = expr.Eval(c.Penalty, env); err != nil {
			return
		}
		loss.Violation[c.Name] = v
		loss.Penalty += w
	}
	loss.Total = prob.objectiveTerm(loss.Objective) + loss.Penalty
	return
}

// LossGrad overwrites g with ∂𝓛/∂𝐱 and returns 𝓛(𝐱).
func (prob *Problem) LossGrad(x []float64, inst Instance, g []float64) (float64, error) {
	env, err := prob.Env(x, inst)
	if err != nil {
		return 0, err
	}
	clear(g)

	wrt := prob.Symbols.X.Name
	f, err := expr.Eval(prob.Objective.Expr, env)
	if err != nil {
		return 0, err
	}
	total := prob.objectiveTerm(f)
	if err = expr.Grad(expr.Scale(prob.objectiveSign(), prob.Objective.Expr), env, wrt, g); err != nil {
		return 0, err
	}
	for _, c := range prob.Constraints {
		w, err := expr.Eval(c.Penalty, env)
		if err != nil {
			return 0, err
		}
		total += w
		if w == 0 {
			continue
		}
		if err = expr.Grad(c.Penalty, env, wrt, g); err != nil {
			return 0, err
		}
	}
	return total, nil
}

// ObjectiveTerm returns the weighted objective at x, negated for
// maximization, and overwrites g with its gradient when g is non-nil.
func (prob *Problem) ObjectiveTerm(x []float64, inst Instance, g []float64) (float64, error) {
	env, err := prob.Env(x, inst)
	if err != nil {
		return 0, err
	}
	f, err := expr.Eval(prob.Objective.Expr, env)
	if err != nil || g == nil {
		return prob.objectiveTerm(f), err
	}
	clear(g)
	err = expr.Grad(expr.Scale(prob.objectiveSign(), prob.Objective.Expr), env, prob.Symbols.X.Name, g)
	return prob.objectiveTerm(f), err
}

// Residual returns the slack of constraint j at x, which is non-negative
// iff the constraint holds, and overwrites g with its gradient when g is
// non-nil.
func (prob *Problem) Residual(j int, x []float64, inst Instance, g []float64) (float64, error) {
	if j < 0 || j >= len(prob.Constraints) {
		return 0, fmt.Errorf("%w: constraint %d of %d", ErrConfig, j, len(prob.Constraints))
	}
	env, err := prob.Env(x, inst)
	if err != nil {
		return 0, err
	}
	c := prob.Constraints[j].Cmp
	r, err := expr.Residual(c, env)
	if err != nil || g == nil {
		return r, err
	}
	clear(g)
	return r, expr.ResidualGrad(c, env, prob.Symbols.X.Name, g)
}

// Violation returns the summed raw violation of all constraints at x.
func (prob *Problem) Violation(x []float64, inst Instance) (float64, error) {
	env, err := prob.Env(x, inst)
	if err != nil {
		return 0, err
	}
	sum := 0.0
	for _, c := range prob.Constraints {
		v, err := expr.Eval(c.Cmp, env)
		if err != nil {
			return 0, err
		}
		sum += v
	}
	return sum, nil
}

// Feasible reports whether every constraint holds within tol at x.
func (prob *Problem) Feasible(x []float64, inst Instance, tol float64) (bool, error) {
	env, err := prob.Env(x, inst)
	if err != nil {
		return false, err
	}
	for _, c := range prob.Constraints {
		r, err := expr.Residual(c.Cmp, env)
		if err != nil {
			return false, err
		}
		if r < -tol {
			return false, nil
		}
	}
	return true, nil
}

func (prob *Problem) objectiveSign() float64 {
	if prob.Objective.Sense == Maximize {
		return -prob.Objective.Weight
	}
	return prob.Objective.Weight
}

func (prob *Problem) objectiveTerm(f float64) float64 {
	return prob.objectiveSign() * f
}

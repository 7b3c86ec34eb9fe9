// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package problem defines the parametric Rosenbrock program
//
//	minimize   𝒇(𝐱; 𝐚) = ∑ᵢ (1 - 𝐱ᵢ)² + 𝐚ᵢ(𝐱ᵢ₊₁ - 𝐱ᵢ²)²   (i = 0 ··· n-2)
//	subject to
//	  - c0 : ∑ (-1)ⁱ 𝐱ᵢ ≥ 0
//	  - c1 : ∑ 𝐱ᵢ² ≥ p/2
//	  - c2 : ∑ 𝐱ᵢ² ≤ p
//
// as an objective and penalty-weighted constraints over expression trees.
// The same definition drives the penalty loss of the solution map and
// the constraint functions handed to classical solvers.
package problem

import (
	"errors"
	"fmt"
	"math"

	"github.com/curioloop/rosenbrock/expr"
)

var (
	// ErrConfig reports a malformed problem specification.
	ErrConfig = errors.New("problem: configuration error")
	// ErrDimension reports too few decision variables for the recurrence.
	ErrDimension = errors.New("problem: dimension error")
)

// Sense is the optimization direction of an objective.
type Sense int

const (
	Minimize Sense = iota
	Maximize
)

// Spec describes a Rosenbrock problem to build.
type Spec struct {
	// Decision variable names. Exactly one: the vector 𝐱.
	Vars []string
	// Parameter names, in positional order: the scalar bound 𝐩 then the coefficients 𝐚.
	Params []string
	// Penalty weight applied to every constraint.
	PenaltyWeight float64
	// Width of 𝐱.
	NumVars int
	// Exponent applied to constraint violations (1 or 2, zero means 1).
	Norm int
}

// Symbols holds the placeholders of a problem by role.
type Symbols struct {
	X expr.Symbol // decision vector, width NumVars
	P expr.Symbol // scalar bound, width 1
	A expr.Symbol // coefficients, width NumVars-1
}

// Objective is a named scalar term with a direction and weight.
type Objective struct {
	Name   string
	Sense  Sense
	Weight float64
	Expr   expr.Expr
}

// Constraint is a named penalty-weighted inequality.
type Constraint struct {
	Name string
	expr.Penalty
}

// Problem is a built Rosenbrock problem.
type Problem struct {
	NumVars     int
	Symbols     Symbols
	Objective   Objective
	Constraints []Constraint
}

// Rosenbrock builds the objective and the constraints c0, c1, c2 for spec.
func Rosenbrock(spec Spec) (prob *Problem, err error) {

	switch {
	case len(spec.Vars) != 1:
		err = fmt.Errorf("%w: expect 1 decision variable, got %d", ErrConfig, len(spec.Vars))
	case len(spec.Params) != 2:
		err = fmt.Errorf("%w: expect 2 parameters, got %d", ErrConfig, len(spec.Params))
	case spec.Vars[0] == "" || spec.Params[0] == "" || spec.Params[1] == "":
		err = fmt.Errorf("%w: empty symbol name", ErrConfig)
	case spec.Params[0] == spec.Params[1] || spec.Vars[0] == spec.Params[0] || spec.Vars[0] == spec.Params[1]:
		err = fmt.Errorf("%w: symbol names must be distinct", ErrConfig)
	case spec.NumVars < 2:
		err = fmt.Errorf("%w: need at least 2 variables, got %d", ErrDimension, spec.NumVars)
	case math.IsNaN(spec.PenaltyWeight) || math.IsInf(spec.PenaltyWeight, 0) || spec.PenaltyWeight < 0:
		err = fmt.Errorf("%w: penalty weight %v", ErrConfig, spec.PenaltyWeight)
	case spec.Norm < 0 || spec.Norm > 2:
		err = fmt.Errorf("%w: violation norm %d", ErrConfig, spec.Norm)
	}
	if err != nil {
		return
	}

	sym := Symbols{
		X: expr.Symbol{Name: spec.Vars[0], Kind: expr.Variable},
		P: expr.Symbol{Name: spec.Params[0], Kind: expr.Parameter},
		A: expr.Symbol{Name: spec.Params[1], Kind: expr.Parameter},
	}
	norm := max(spec.Norm, 1)

	prob = &Problem{
		NumVars: spec.NumVars,
		Symbols: sym,
		Objective: Objective{
			Name:   "obj",
			Sense:  Minimize,
			Weight: 1.0,
			Expr:   objective(sym, spec.NumVars),
		},
	}
	for _, c := range constraints(sym, spec.NumVars) {
		c.Weight, c.Norm = spec.PenaltyWeight, norm
		prob.Constraints = append(prob.Constraints, c)
	}
	return
}

// objective builds ∑ (1 - 𝐱ᵢ)² + 𝐚ᵢ(𝐱ᵢ₊₁ - 𝐱ᵢ²)² over i = 0 ··· n-2.
func objective(sym Symbols, n int) expr.Expr {
	x, a := sym.X, sym.A
	terms := make([]expr.Expr, 0, n-1)
	for i := 0; i < n-1; i++ {
		terms = append(terms, expr.Sum(
			expr.Square(expr.Sub(expr.Const{Value: 1}, x.At(i))),
			expr.Prod(a.At(i), expr.Square(expr.Sub(x.At(i+1), expr.Square(x.At(i))))),
		))
	}
	return expr.Add{Terms: terms}
}

func constraints(sym Symbols, n int) []Constraint {
	x, p := sym.X, sym.P

	// c0 leaves 𝐩 unreferenced.
	alt := make([]expr.Expr, n)
	for i := range alt {
		if i%2 == 0 {
			alt[i] = x.At(i)
		} else {
			alt[i] = expr.Neg(x.At(i))
		}
	}

	sq := make([]expr.Expr, n)
	for i := range sq {
		sq[i] = expr.Square(x.At(i))
	}
	norm2 := expr.Add{Terms: sq}

	return []Constraint{
		{Name: "c0", Penalty: expr.Penalty{Cmp: expr.Compare{
			Left: expr.Add{Terms: alt}, Op: expr.GE, Right: expr.Const{},
		}}},
		{Name: "c1", Penalty: expr.Penalty{Cmp: expr.Compare{
			Left: norm2, Op: expr.GE, Right: expr.Scale(0.5, p.At(0)),
		}}},
		{Name: "c2", Penalty: expr.Penalty{Cmp: expr.Compare{
			Left: norm2, Op: expr.LE, Right: p.At(0),
		}}},
	}
}

// Constraint returns the constraint with the given name.
func (prob *Problem) Constraint(name string) (Constraint, bool) {
	for _, c := range prob.Constraints {
		if c.Name == name {
			return c, true
		}
	}
	return Constraint{}, false
}

// Widths returns the expected width of each parameter by name.
func (prob *Problem) Widths() map[string]int {
	return map[string]int{
		prob.Symbols.P.Name: 1,
		prob.Symbols.A.Name: prob.NumVars - 1,
	}
}

// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package expr implements a small symbolic expression tree over indexed
// tensor symbols, with pure evaluation and reverse-mode gradients.
//
// An expression is one of the following nodes:
//   - Const   : a literal 𝒄
//   - Ref     : an element 𝐬ᵢ of a named symbol 𝐬
//   - Add     : 𝒆₁ + 𝒆₂ + ··· + 𝒆ₖ
//   - Mul     : 𝒆₁ · 𝒆₂ · ··· · 𝒆ₖ
//   - Pow     : 𝒆ᵏ for an integer k
//   - Compare : 𝒍 ≥ 𝒓 or 𝒍 ≤ 𝒓, valued by its violation
//   - Penalty : 𝛒 · 𝚟𝚒𝚘(𝒍 ⋛ 𝒓)ᵖ with penalty weight 𝛒 and norm p
//
// Symbols are resolved against an Env when evaluated, so the same tree
// serves every sample of a dataset.
package expr

import (
	"errors"
	"strconv"
	"strings"
)

var (
	// ErrUnbound reports a symbol missing from the environment.
	ErrUnbound = errors.New("expr: unbound symbol")
	// ErrIndex reports a reference outside the bound tensor.
	ErrIndex = errors.New("expr: index out of range")
)

// Kind distinguishes decision variables from parameters.
type Kind int

const (
	// Variable is an unknown produced by a solver or a solution map.
	Variable Kind = iota
	// Parameter is a mutable input fixed per datapoint.
	Parameter
)

func (k Kind) String() string {
	if k == Parameter {
		return "param"
	}
	return "var"
}

// Symbol is a named tensor placeholder.
type Symbol struct {
	Name string
	Kind Kind
}

// At returns a reference to the i-th element of s.
func (s Symbol) At(i int) Ref {
	return Ref{Sym: s, Index: i}
}

// Env binds symbol names to values.
type Env map[string][]float64

// Expr is a node of the expression tree.
type Expr interface {
	String() string
	node()
}

// Const is a literal value.
type Const struct {
	Value float64
}

// Ref is the element Index of symbol Sym.
type Ref struct {
	Sym   Symbol
	Index int
}

// Add is the sum of its terms.
type Add struct {
	Terms []Expr
}

// Mul is the product of its factors.
type Mul struct {
	Factors []Expr
}

// Pow raises Base to an integer exponent.
type Pow struct {
	Base Expr
	Exp  int
}

// Op is a comparison direction.
type Op int

const (
	// GE requires Left ≥ Right.
	GE Op = iota
	// LE requires Left ≤ Right.
	LE
)

func (op Op) String() string {
	if op == LE {
		return "<="
	}
	return ">="
}

// Compare is an inequality. As an expression it evaluates to the
// magnitude of its violation, which is zero when the inequality holds.
type Compare struct {
	Left  Expr
	Op    Op
	Right Expr
}

// Penalty scales the violation of Cmp, raised to Norm, by Weight.
// A zero Norm is treated as 1.
type Penalty struct {
	Weight float64
	Norm   int
	Cmp    Compare
}

func (Const) node()   {}
func (Ref) node()     {}
func (Add) node()     {}
func (Mul) node()     {}
func (Pow) node()     {}
func (Compare) node() {}
func (Penalty) node() {}

func (c Const) String() string {
	return strconv.FormatFloat(c.Value, 'g', -1, 64)
}

func (r Ref) String() string {
	return r.Sym.Name + "[" + strconv.Itoa(r.Index) + "]"
}

func (a Add) String() string {
	return join(a.Terms, " + ")
}

func (m Mul) String() string {
	return join(m.Factors, " * ")
}

func (p Pow) String() string {
	return p.Base.String() + "^" + strconv.Itoa(p.Exp)
}

func (c Compare) String() string {
	return c.Left.String() + " " + c.Op.String() + " " + c.Right.String()
}

func (p Penalty) String() string {
	s := strconv.FormatFloat(p.Weight, 'g', -1, 64) + " * (" + p.Cmp.String() + ")"
	if p.norm() != 1 {
		s += "^" + strconv.Itoa(p.norm())
	}
	return s
}

func (p Penalty) norm() int {
	if p.Norm <= 0 {
		return 1
	}
	return p.Norm
}

func join(es []Expr, sep string) string {
	var b strings.Builder
	b.WriteByte('(')
	for i, e := range es {
		if i > 0 {
			b.WriteString(sep)
		}
		b.WriteString(e.String())
	}
	b.WriteByte(')')
	return b.String()
}

// Sum returns the sum of terms. A single term is returned unchanged.
func Sum(terms ...Expr) Expr {
	switch len(terms) {
	case 0:
		return Const{}
	case 1:
		return terms[0]
	}
	return Add{Terms: terms}
}

// Prod returns the product of factors. A single factor is returned unchanged.
func Prod(factors ...Expr) Expr {
	switch len(factors) {
	case 0:
		return Const{Value: 1}
	case 1:
		return factors[0]
	}
	return Mul{Factors: factors}
}

// Scale returns c·e.
func Scale(c float64, e Expr) Expr {
	return Mul{Factors: []Expr{Const{Value: c}, e}}
}

// Neg returns -e.
func Neg(e Expr) Expr {
	return Scale(-1, e)
}

// Sub returns a - b.
func Sub(a, b Expr) Expr {
	return Add{Terms: []Expr{a, Neg(b)}}
}

// Square returns e².
func Square(e Expr) Expr {
	return Pow{Base: e, Exp: 2}
}

// Walk visits e and all its descendants in depth-first order.
func Walk(e Expr, fn func(Expr)) {
	fn(e)
	switch n := e.(type) {
	case Add:
		for _, t := range n.Terms {
			Walk(t, fn)
		}
	case Mul:
		for _, f := range n.Factors {
			Walk(f, fn)
		}
	case Pow:
		Walk(n.Base, fn)
	case Compare:
		Walk(n.Left, fn)
		Walk(n.Right, fn)
	case Penalty:
		Walk(n.Cmp, fn)
	}
}

// Symbols returns the distinct symbols referenced by e, in order of first use.
func Symbols(e Expr) []Symbol {
	var syms []Symbol
	seen := make(map[Symbol]bool)
	Walk(e, func(n Expr) {
		if r, ok := n.(Ref); ok && !seen[r.Sym] {
			seen[r.Sym] = true
			syms = append(syms, r.Sym)
		}
	})
	return syms
}

// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package expr

import (
	"fmt"
	"math"
)

// Eval computes the value of e under env.
func Eval(e Expr, env Env) (float64, error) {
	switch n := e.(type) {
	case Const:
		return n.Value, nil
	case Ref:
		return lookup(n, env)
	case Add:
		sum := 0.0
		for _, t := range n.Terms {
			v, err := Eval(t, env)
			if err != nil {
				return 0, err
			}
			sum += v
		}
		return sum, nil
	case Mul:
		prod := 1.0
		for _, f := range n.Factors {
			v, err := Eval(f, env)
			if err != nil {
				return 0, err
			}
			prod *= v
		}
		return prod, nil
	case Pow:
		v, err := Eval(n.Base, env)
		if err != nil {
			return 0, err
		}
		return ipow(v, n.Exp), nil
	case Compare:
		r, err := Residual(n, env)
		if err != nil {
			return 0, err
		}
		return math.Max(0, -r), nil
	case Penalty:
		v, err := Eval(n.Cmp, env)
		if err != nil {
			return 0, err
		}
		return n.Weight * ipow(v, n.norm()), nil
	}
	panic(fmt.Sprintf("expr: unknown node %T", e))
}

// Residual returns the signed slack of c:
//   - 𝒍 - 𝒓 for 𝒍 ≥ 𝒓
//   - 𝒓 - 𝒍 for 𝒍 ≤ 𝒓
//
// The inequality holds iff the residual is non-negative.
func Residual(c Compare, env Env) (float64, error) {
	l, err := Eval(c.Left, env)
	if err != nil {
		return 0, err
	}
	r, err := Eval(c.Right, env)
	if err != nil {
		return 0, err
	}
	if c.Op == LE {
		return r - l, nil
	}
	return l - r, nil
}

// Grad accumulates ∂e/∂wrt into g, where wrt names a bound symbol
// and len(g) equals the width of that symbol.
func Grad(e Expr, env Env, wrt string, g []float64) error {
	if v, ok := env[wrt]; !ok {
		return fmt.Errorf("%w: %s", ErrUnbound, wrt)
	} else if len(v) != len(g) {
		return fmt.Errorf("%w: gradient of %s has %d entries, want %d", ErrIndex, wrt, len(g), len(v))
	}
	return backward(e, env, wrt, 1, g)
}

// ResidualGrad accumulates the gradient of Residual(c) into g.
func ResidualGrad(c Compare, env Env, wrt string, g []float64) error {
	if c.Op == LE {
		return Grad(Sub(c.Right, c.Left), env, wrt, g)
	}
	return Grad(Sub(c.Left, c.Right), env, wrt, g)
}

// backward propagates the adjoint seed from e down to the references of wrt.
func backward(e Expr, env Env, wrt string, seed float64, g []float64) error {
	switch n := e.(type) {
	case Const:
		return nil
	case Ref:
		if _, err := lookup(n, env); err != nil {
			return err
		}
		if n.Sym.Name == wrt {
			g[n.Index] += seed
		}
		return nil
	case Add:
		for _, t := range n.Terms {
			if err := backward(t, env, wrt, seed, g); err != nil {
				return err
			}
		}
		return nil
	case Mul:
		vals := make([]float64, len(n.Factors))
		for i, f := range n.Factors {
			v, err := Eval(f, env)
			if err != nil {
				return err
			}
			vals[i] = v
		}
		for i, f := range n.Factors {
			rest := seed
			for j, v := range vals {
				if j != i {
					rest *= v
				}
			}
			if rest == 0 {
				continue
			}
			if err := backward(f, env, wrt, rest, g); err != nil {
				return err
			}
		}
		return nil
	case Pow:
		if n.Exp == 0 {
			return nil
		}
		v, err := Eval(n.Base, env)
		if err != nil {
			return err
		}
		return backward(n.Base, env, wrt, seed*float64(n.Exp)*ipow(v, n.Exp-1), g)
	case Compare:
		r, err := Residual(n, env)
		if err != nil {
			return err
		}
		if r >= 0 {
			return nil
		}
		// violation = -residual
		if n.Op == LE {
			if err := backward(n.Left, env, wrt, seed, g); err != nil {
				return err
			}
			return backward(n.Right, env, wrt, -seed, g)
		}
		if err := backward(n.Right, env, wrt, seed, g); err != nil {
			return err
		}
		return backward(n.Left, env, wrt, -seed, g)
	case Penalty:
		v, err := Eval(n.Cmp, env)
		if err != nil {
			return err
		}
		p := n.norm()
		return backward(n.Cmp, env, wrt, seed*n.Weight*float64(p)*ipow(v, p-1), g)
	}
	panic(fmt.Sprintf("expr: unknown node %T", e))
}

func lookup(r Ref, env Env) (float64, error) {
	v, ok := env[r.Sym.Name]
	switch {
	case !ok:
		return 0, fmt.Errorf("%w: %s", ErrUnbound, r.Sym.Name)
	case r.Index < 0 || r.Index >= len(v):
		return 0, fmt.Errorf("%w: %s has width %d", ErrIndex, r, len(v))
	}
	return v[r.Index], nil
}

func ipow(v float64, k int) float64 {
	switch k {
	case 0:
		return 1
	case 1:
		return v
	case 2:
		return v * v
	}
	return math.Pow(v, float64(k))
}

// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package problem

import (
	"errors"
	"math"
	"reflect"
	"testing"

	"github.com/curioloop/optimizer/numdiff"
	"github.com/curioloop/rosenbrock/expr"
)

func build(t *testing.T, n int) *Problem {
	t.Helper()
	prob, err := Rosenbrock(Spec{
		Vars:          []string{"x"},
		Params:        []string{"p", "a"},
		PenaltyWeight: 100,
		NumVars:       n,
	})
	if err != nil {
		t.Fatal(err)
	}
	return prob
}

func TestObjectiveMinimum(t *testing.T) {
	prob := build(t, 3)
	f, err := prob.ObjectiveValue([]float64{1, 1, 1}, Instance{P: 3, A: []float64{1, 1}})
	switch {
	case err != nil:
		t.Fatal(err)
	case f != 0:
		t.Fatalf("TestObjectiveMinimum: got %v", f)
	case prob.Objective.Name != "obj" || prob.Objective.Sense != Minimize || prob.Objective.Weight != 1:
		t.Fatalf("TestObjectiveMinimum: bad objective metadata %+v", prob.Objective)
	}
}

func TestObjectiveValue(t *testing.T) {
	prob := build(t, 3)
	// (1-0)² + 2(1-0)² + (1-1)² + 3(4-1)² = 1 + 2 + 0 + 27
	f, err := prob.ObjectiveValue([]float64{0, 1, 4}, Instance{P: 1, A: []float64{2, 3}})
	if err != nil {
		t.Fatal(err)
	}
	if f != 30 {
		t.Fatalf("TestObjectiveValue: got %v want 30", f)
	}
}

func TestConstraintNames(t *testing.T) {
	prob := build(t, 4)
	names := make([]string, len(prob.Constraints))
	for i, c := range prob.Constraints {
		names[i] = c.Name
		if c.Weight != 100 || c.Norm != 1 {
			t.Fatalf("TestConstraintNames: %s has weight %v norm %d", c.Name, c.Weight, c.Norm)
		}
	}
	if !reflect.DeepEqual(names, []string{"c0", "c1", "c2"}) {
		t.Fatalf("TestConstraintNames: got %v", names)
	}
}

func TestAlternatingConstraint(t *testing.T) {
	prob := build(t, 3)
	c0, _ := prob.Constraint("c0")
	env, err := prob.Env([]float64{1, -1, 1}, Instance{P: 3, A: []float64{1, 1}})
	if err != nil {
		t.Fatal(err)
	}

	lhs, _ := expr.Eval(c0.Cmp.Left, env)
	res, _ := expr.Residual(c0.Cmp, env)
	switch {
	case lhs != 3:
		t.Fatalf("TestAlternatingConstraint: alternating sum %v want 3", lhs)
	case res < 0:
		t.Fatalf("TestAlternatingConstraint: c0 violated, residual %v", res)
	}

	for _, s := range expr.Symbols(c0.Cmp) {
		if s.Name == "p" {
			t.Fatal("TestAlternatingConstraint: c0 must not reference p")
		}
	}
}

func TestNormConstraints(t *testing.T) {
	prob := build(t, 3)
	inst := Instance{P: 3, A: []float64{1, 1}}
	env, _ := prob.Env([]float64{1, 1, 1}, inst)

	c1, _ := prob.Constraint("c1")
	c2, _ := prob.Constraint("c2")
	r1, _ := expr.Residual(c1.Cmp, env)
	r2, _ := expr.Residual(c2.Cmp, env)
	lhs, _ := expr.Eval(c1.Cmp.Left, env)

	switch {
	case lhs != 3:
		t.Fatalf("TestNormConstraints: Σx² = %v want 3", lhs)
	case r1 != 1.5:
		t.Fatalf("TestNormConstraints: c1 residual %v want 1.5", r1)
	case r2 != 0:
		t.Fatalf("TestNormConstraints: c2 residual %v want 0 (boundary)", r2)
	}

	ok, err := prob.Feasible([]float64{1, 1, 1}, inst, 0)
	if err != nil || !ok {
		t.Fatalf("TestNormConstraints: feasible=%v err=%v", ok, err)
	}
}

func TestArityErrors(t *testing.T) {
	cases := []struct {
		spec Spec
		want error
	}{
		{Spec{Vars: []string{"x", "y"}, Params: []string{"p", "a"}, PenaltyWeight: 1, NumVars: 3}, ErrConfig},
		{Spec{Vars: nil, Params: []string{"p", "a"}, PenaltyWeight: 1, NumVars: 3}, ErrConfig},
		{Spec{Vars: []string{"x"}, Params: []string{"p"}, PenaltyWeight: 1, NumVars: 3}, ErrConfig},
		{Spec{Vars: []string{"x"}, Params: []string{"p", "a", "b"}, PenaltyWeight: 1, NumVars: 3}, ErrConfig},
		{Spec{Vars: []string{"x"}, Params: []string{"p", "p"}, PenaltyWeight: 1, NumVars: 3}, ErrConfig},
		{Spec{Vars: []string{"x"}, Params: []string{"p", "a"}, PenaltyWeight: -1, NumVars: 3}, ErrConfig},
		{Spec{Vars: []string{"x"}, Params: []string{"p", "a"}, PenaltyWeight: math.NaN(), NumVars: 3}, ErrConfig},
		{Spec{Vars: []string{"x"}, Params: []string{"p", "a"}, PenaltyWeight: 1, NumVars: 3, Norm: 3}, ErrConfig},
		{Spec{Vars: []string{"x"}, Params: []string{"p", "a"}, PenaltyWeight: 1, NumVars: 1}, ErrDimension},
		{Spec{Vars: []string{"x"}, Params: []string{"p", "a"}, PenaltyWeight: 1, NumVars: 0}, ErrDimension},
	}
	for i, tc := range cases {
		prob, err := Rosenbrock(tc.spec)
		switch {
		case prob != nil:
			t.Fatalf("case %d: expected no problem", i)
		case !errors.Is(err, tc.want):
			t.Fatalf("case %d: got %v want %v", i, err, tc.want)
		}
	}
}

func TestStructurallyIdentical(t *testing.T) {
	a, b := build(t, 5), build(t, 5)
	if !reflect.DeepEqual(a, b) {
		t.Fatal("TestStructurallyIdentical: builds differ")
	}
	if a.Objective.Expr.String() != b.Objective.Expr.String() {
		t.Fatal("TestStructurallyIdentical: rendered objectives differ")
	}
}

func TestInstanceValidation(t *testing.T) {
	prob := build(t, 4)
	if _, err := prob.Env([]float64{1, 1, 1, 1}, Instance{P: 1, A: []float64{1}}); !errors.Is(err, ErrConfig) {
		t.Fatalf("short a: got %v", err)
	}
	if _, err := prob.Env([]float64{1, 1}, Instance{P: 1, A: []float64{1, 1, 1}}); !errors.Is(err, ErrDimension) {
		t.Fatalf("short x: got %v", err)
	}
	if _, err := prob.Env([]float64{1, 1, 1, 1}, Instance{P: math.Inf(1), A: []float64{1, 1, 1}}); !errors.Is(err, ErrConfig) {
		t.Fatalf("infinite p: got %v", err)
	}
}

type rows map[string][][]float64

func (r rows) Row(name string, i int) []float64 { return r[name][i] }

func TestInstanceAt(t *testing.T) {
	prob := build(t, 3)
	src := rows{
		"p": {{2}, {5}},
		"a": {{1, 2}, {3, 4}},
	}
	inst, err := prob.InstanceAt(src, 1, "second")
	switch {
	case err != nil:
		t.Fatal(err)
	case inst.Name != "second" || inst.P != 5 || !reflect.DeepEqual(inst.A, []float64{3, 4}):
		t.Fatalf("TestInstanceAt: got %+v", inst)
	case !reflect.DeepEqual(inst.Features(), []float64{5, 3, 4}):
		t.Fatalf("TestInstanceAt: features %v", inst.Features())
	}
	src["a"][1][0] = 9
	if inst.A[0] != 3 {
		t.Fatal("TestInstanceAt: instance aliases source row")
	}
}

func TestLoss(t *testing.T) {
	prob := build(t, 3)
	inst := Instance{P: 1, A: []float64{1, 1}}
	// Σx² = 3 > p, alternating sum = -1 + ... : x = [-1, 1, 1] gives -1 - 1 + 1 = -1
	loss, err := prob.Loss([]float64{-1, 1, 1}, inst)
	if err != nil {
		t.Fatal(err)
	}
	// objective: (1+1)² + (1-1)² + 0 + (1-1)² = 4
	switch {
	case loss.Objective != 4:
		t.Fatalf("TestLoss: objective %v", loss.Objective)
	case loss.Violation["c0"] != 1 || loss.Violation["c1"] != 0 || loss.Violation["c2"] != 2:
		t.Fatalf("TestLoss: violations %v", loss.Violation)
	case loss.Penalty != 300:
		t.Fatalf("TestLoss: penalty %v", loss.Penalty)
	case loss.Total != 304:
		t.Fatalf("TestLoss: total %v", loss.Total)
	}

	v, _ := prob.Violation([]float64{-1, 1, 1}, inst)
	ok, _ := prob.Feasible([]float64{-1, 1, 1}, inst, 1e-9)
	if v != 3 || ok {
		t.Fatalf("TestLoss: violation %v feasible %v", v, ok)
	}
}

func TestLossGrad(t *testing.T) {
	prob, err := Rosenbrock(Spec{
		Vars: []string{"x"}, Params: []string{"p", "a"},
		PenaltyWeight: 10, NumVars: 5, Norm: 2,
	})
	if err != nil {
		t.Fatal(err)
	}
	inst := Instance{P: 2, A: []float64{0.5, 1.5, 2.5, 1}}
	x0 := []float64{-0.7, 0.4, 1.3, -0.2, 0.9}

	g := []float64{9, 9, 9, 9, 9}
	f, err := prob.LossGrad(x0, inst, g)
	if err != nil {
		t.Fatal(err)
	}
	loss, _ := prob.Loss(x0, inst)
	if math.Abs(f-loss.Total) > 1e-12 {
		t.Fatalf("TestLossGrad: value %v want %v", f, loss.Total)
	}

	spec := numdiff.ApproxSpec{
		N: 5, M: 1,
		Method: numdiff.Central,
		Object: func(x, y []float64) {
			l, _ := prob.Loss(x, inst)
			y[0] = l.Total
		},
	}
	want := make([]float64, 5)
	if err := spec.Diff(x0, want); err != nil {
		t.Fatal(err)
	}
	for i := range want {
		if math.Abs(g[i]-want[i]) > 1e-5*math.Max(1, math.Abs(want[i])) {
			t.Fatalf("TestLossGrad: ∂/∂x%d got %v want %v", i, g[i], want[i])
		}
	}
}

func TestResidualAndObjectiveTerm(t *testing.T) {
	prob := build(t, 3)
	inst := Instance{P: 1, A: []float64{1, 1}}
	x := []float64{-1, 1, 1}

	want := []struct {
		r float64
		g []float64
	}{
		{-1, []float64{1, -1, 1}},  // c0: alternating sum
		{2.5, []float64{-2, 2, 2}}, // c1: Σx² - p/2
		{-2, []float64{2, -2, -2}}, // c2: p - Σx²
	}
	for j, w := range want {
		g := []float64{7, 7, 7}
		r, err := prob.Residual(j, x, inst, g)
		switch {
		case err != nil:
			t.Fatal(err)
		case r != w.r:
			t.Fatalf("constraint %d: residual %v, want %v", j, r, w.r)
		case !reflect.DeepEqual(g, w.g):
			t.Fatalf("constraint %d: gradient %v, want %v", j, g, w.g)
		}
	}
	if _, err := prob.Residual(3, x, inst, nil); !errors.Is(err, ErrConfig) {
		t.Fatalf("TestResidualAndObjectiveTerm: got %v", err)
	}

	g := make([]float64, 3)
	f, err := prob.ObjectiveTerm(x, inst, g)
	switch {
	case err != nil:
		t.Fatal(err)
	case f != 4:
		t.Fatalf("TestResidualAndObjectiveTerm: objective %v", f)
	}
	// ∂f/∂x0 = -2(1-x0) - 4a0·x0(x1-x0²) = -4, ∂f/∂x1 = 2a0(x1-x0²) - 2(1-x1) - 4a1·x1(x2-x1²) = 0
	if g[0] != -4 || g[1] != 0 || g[2] != 0 {
		t.Fatalf("TestResidualAndObjectiveTerm: gradient %v", g)
	}
}

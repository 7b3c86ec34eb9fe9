// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package config

import (
	"errors"
	"slices"
	"testing"

	"github.com/curioloop/rosenbrock/problem"
)

func TestDefaultTable(t *testing.T) {
	table := DefaultTable()
	if !slices.Equal(table.Sizes(), Sizes) {
		t.Fatalf("TestDefaultTable: sizes %v", table.Sizes())
	}
	want := map[int]int{1: 4, 10: 16, 100: 64, 1000: 256, 10000: 4096}
	for size, width := range want {
		e, err := table.Lookup(size)
		switch {
		case err != nil:
			t.Fatal(err)
		case e.HiddenSize != width:
			t.Fatalf("size %d: hidden %d, want %d", size, e.HiddenSize, width)
		case e.BatchSize != 64 || e.LearningRate != 1e-3 || e.PenaltyWeight != 100:
			t.Fatalf("size %d: entry %+v", size, e)
		}
	}
}

func TestTableRejectsDuplicate(t *testing.T) {
	_, err := NewTable(
		Entry{Size: 10, HiddenSize: 16, BatchSize: 64, LearningRate: 1e-3, PenaltyWeight: 100},
		Entry{Size: 10, HiddenSize: 32, BatchSize: 64, LearningRate: 1e-3, PenaltyWeight: 100},
	)
	if !errors.Is(err, ErrConfig) {
		t.Fatalf("TestTableRejectsDuplicate: got %v", err)
	}
}

func TestTableRejectsInvalidEntry(t *testing.T) {
	bad := []Entry{
		{Size: 7, HiddenSize: 16, BatchSize: 64, LearningRate: 1e-3},
		{Size: 10, HiddenSize: 0, BatchSize: 64, LearningRate: 1e-3},
		{Size: 10, HiddenSize: 16, BatchSize: 0, LearningRate: 1e-3},
		{Size: 10, HiddenSize: 16, BatchSize: 64, LearningRate: 0},
		{Size: 10, HiddenSize: 16, BatchSize: 64, LearningRate: 1e-3, PenaltyWeight: -1},
	}
	for i, e := range bad {
		if _, err := NewTable(e); !errors.Is(err, ErrConfig) {
			t.Fatalf("case %d: got %v", i, err)
		}
	}
}

func TestNewExperiment(t *testing.T) {
	exp, err := New(10, 800, Demo, nil)
	switch {
	case err != nil:
		t.Fatal(err)
	case exp.NumVars != 11:
		t.Fatalf("TestNewExperiment: num vars %d", exp.NumVars)
	case exp.HiddenSize != 16 || len(exp.Hidden()) != 5:
		t.Fatalf("TestNewExperiment: hidden %v", exp.Hidden())
	case exp.TestSize != 100 || exp.ValSize != 1000:
		t.Fatalf("TestNewExperiment: test %d val %d", exp.TestSize, exp.ValSize)
	case exp.Epochs != 200 || exp.Warmup != 50 || exp.Patience != 50 || exp.Seed != 42:
		t.Fatalf("TestNewExperiment: schedule %+v", exp)
	}

	fields := exp.Fields()
	switch {
	case len(fields) != 2:
		t.Fatalf("TestNewExperiment: %d fields", len(fields))
	case fields[0].Name != ParamP || fields[0].Width != 1 || fields[0].Range.Low != 0.5 || fields[0].Range.High != 6.0:
		t.Fatalf("TestNewExperiment: p field %+v", fields[0])
	case fields[1].Name != ParamA || fields[1].Width != 10 || fields[1].Range.Low != 0.2 || fields[1].Range.High != 1.2:
		t.Fatalf("TestNewExperiment: a field %+v", fields[1])
	}

	prob, err := problem.Rosenbrock(exp.ProblemSpec())
	if err != nil {
		t.Fatal(err)
	}
	if prob.NumVars != 11 || prob.Constraints[0].Weight != 100 {
		t.Fatalf("TestNewExperiment: problem %d vars, weight %v", prob.NumVars, prob.Constraints[0].Weight)
	}
}

func TestNewExperimentErrors(t *testing.T) {
	cases := []struct {
		size, samples int
		variant       Variant
	}{
		{size: 2, samples: 800, variant: Demo},
		{size: 10, samples: 900, variant: Demo},
		{size: 10, samples: 800, variant: "other"},
	}
	for _, tc := range cases {
		if _, err := New(tc.size, tc.samples, tc.variant, nil); !errors.Is(err, ErrConfig) {
			t.Fatalf("case %+v: got %v", tc, err)
		}
	}

	partial, _ := NewTable(Entry{Size: 1, HiddenSize: 4, BatchSize: 64, LearningRate: 1e-3})
	if _, err := New(10, 800, Demo, partial); !errors.Is(err, ErrConfig) {
		t.Fatalf("missing entry: got %v", err)
	}
}

func TestValidate(t *testing.T) {
	mutations := []func(*Experiment){
		func(e *Experiment) { e.NumVars = e.Size },
		func(e *Experiment) { e.Epochs = 0 },
		func(e *Experiment) { e.Patience = 0 },
		func(e *Experiment) { e.Warmup = -1 },
		func(e *Experiment) { e.BatchSize = 0 },
		func(e *Experiment) { e.WeightDecay = -1 },
	}
	for i, mutate := range mutations {
		exp, err := New(1, 800, Submit, nil)
		if err != nil {
			t.Fatal(err)
		}
		mutate(exp)
		if err := exp.Validate(); !errors.Is(err, ErrConfig) {
			t.Fatalf("mutation %d: got %v", i, err)
		}
	}
}

func TestRNGStreams(t *testing.T) {
	exp, _ := New(1, 800, Submit, nil)
	a := exp.RNG(StreamSampling).Uint64()
	b := exp.RNG(StreamSampling).Uint64()
	c := exp.RNG(StreamShuffle).Uint64()
	d := exp.RNG(StreamShuffleDev).Uint64()
	switch {
	case a != b:
		t.Fatal("TestRNGStreams: same stream differs")
	case a == c || c == d || a == d:
		t.Fatal("TestRNGStreams: distinct streams coincide")
	}

	exp2, _ := New(1, 800, Submit, nil)
	exp2.Seed = 7
	if exp2.RNG(StreamSampling).Uint64() == a {
		t.Fatal("TestRNGStreams: seed ignored")
	}
}

func TestVariantRanges(t *testing.T) {
	p, a, err := Submit.Ranges()
	switch {
	case err != nil:
		t.Fatal(err)
	case p.Low != 1 || p.High != 8 || a.Low != 0.5 || a.High != 4.5:
		t.Fatalf("TestVariantRanges: submit %+v %+v", p, a)
	}
	if _, _, err := Variant("x").Ranges(); !errors.Is(err, ErrConfig) {
		t.Fatalf("TestVariantRanges: got %v", err)
	}
}

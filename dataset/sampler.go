// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package dataset

import (
	"fmt"
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/mat"
)

// Range is a half-open sampling interval [Low, High).
type Range struct {
	Low, High float64
}

// Field describes one sampled parameter.
type Field struct {
	Name  string
	Width int
	Range Range
}

// Sampler draws i.i.d. uniform parameter samples from an owned generator.
// A Sampler is not safe for concurrent use.
type Sampler struct {
	fields []Field
	rng    *rand.Rand
}

// NewSampler validates fields and returns a sampler drawing from rng.
func NewSampler(rng *rand.Rand, fields ...Field) (s *Sampler, err error) {

	switch {
	case rng == nil:
		err = fmt.Errorf("%w: random generator is required", ErrConfig)
	case len(fields) == 0:
		err = fmt.Errorf("%w: no fields to sample", ErrConfig)
	}

	seen := make(map[string]bool, len(fields))
	for _, f := range fields {
		if err != nil {
			break
		}
		lo, hi := f.Range.Low, f.Range.High
		switch {
		case f.Name == "":
			err = fmt.Errorf("%w: field name is empty", ErrConfig)
		case seen[f.Name]:
			err = fmt.Errorf("%w: duplicate field %q", ErrConfig, f.Name)
		case f.Width <= 0:
			err = fmt.Errorf("%w: field %q has width %d", ErrConfig, f.Name, f.Width)
		case math.IsNaN(lo) || math.IsNaN(hi) || math.IsInf(lo, 0) || math.IsInf(hi, 0) || lo >= hi:
			err = fmt.Errorf("%w: field %q has range [%v, %v)", ErrConfig, f.Name, lo, hi)
		}
		seen[f.Name] = true
	}

	if err != nil {
		return
	}
	s = &Sampler{fields: append([]Field(nil), fields...), rng: rng}
	return
}

// Fields returns the sampled field descriptions.
func (s *Sampler) Fields() []Field {
	return append([]Field(nil), s.fields...)
}

// Sample draws n datapoints tagged with name. Fields are drawn one after
// another in declaration order, each row-major.
func (s *Sampler) Sample(name Split, n int) (*DictDataset, error) {
	if n <= 0 {
		return nil, fmt.Errorf("%w: sample count %d", ErrConfig, n)
	}
	data := make(map[string]*mat.Dense, len(s.fields))
	for _, f := range s.fields {
		data[f.Name] = s.draw(f, n)
	}
	return NewDictDataset(name, data)
}

// Sizes is the cardinality of each split drawn by SampleSplits.
type Sizes struct {
	Train, Test, Val int
}

// SampleSplits draws each split independently with its own size.
// For every field the train rows are drawn first, then test, then dev.
func (s *Sampler) SampleSplits(sizes Sizes) (train, test, dev *DictDataset, err error) {
	if sizes.Train <= 0 || sizes.Test <= 0 || sizes.Val <= 0 {
		err = fmt.Errorf("%w: split sizes must be positive, got %+v", ErrConfig, sizes)
		return
	}
	parts := [3]map[string]*mat.Dense{{}, {}, {}}
	counts := [3]int{sizes.Train, sizes.Test, sizes.Val}
	for _, f := range s.fields {
		for k, n := range counts {
			parts[k][f.Name] = s.draw(f, n)
		}
	}
	if train, err = NewDictDataset(Train, parts[0]); err != nil {
		return
	}
	if test, err = NewDictDataset(Test, parts[1]); err != nil {
		return
	}
	dev, err = NewDictDataset(Dev, parts[2])
	return
}

func (s *Sampler) draw(f Field, n int) *mat.Dense {
	lo, span := f.Range.Low, f.Range.High-f.Range.Low
	vals := make([]float64, n*f.Width)
	for i := range vals {
		v := lo + span*s.rng.Float64()
		if v >= f.Range.High { // rounding
			v = math.Nextafter(f.Range.High, lo)
		}
		vals[i] = v
	}
	return mat.NewDense(n, f.Width, vals)
}

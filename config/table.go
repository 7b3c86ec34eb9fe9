// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package config

import (
	"fmt"
	"math"
	"slices"
)

// Sizes lists the supported problem sizes.
var Sizes = []int{1, 10, 100, 1000, 10000}

// SampleCounts lists the supported training-set sizes.
var SampleCounts = []int{800, 8000, 80000}

// Entry holds the hyperparameters selected by one problem size.
type Entry struct {
	Size          int
	HiddenSize    int
	BatchSize     int
	LearningRate  float64
	PenaltyWeight float64
}

func (e Entry) validate() (err error) {
	switch {
	case !slices.Contains(Sizes, e.Size):
		err = fmt.Errorf("%w: size %d not in %v", ErrConfig, e.Size, Sizes)
	case e.HiddenSize <= 0:
		err = fmt.Errorf("%w: size %d: hidden size %d", ErrConfig, e.Size, e.HiddenSize)
	case e.BatchSize <= 0:
		err = fmt.Errorf("%w: size %d: batch size %d", ErrConfig, e.Size, e.BatchSize)
	case !(e.LearningRate > 0) || math.IsInf(e.LearningRate, 0):
		err = fmt.Errorf("%w: size %d: learning rate %v", ErrConfig, e.Size, e.LearningRate)
	case !(e.PenaltyWeight >= 0) || math.IsInf(e.PenaltyWeight, 0):
		err = fmt.Errorf("%w: size %d: penalty weight %v", ErrConfig, e.Size, e.PenaltyWeight)
	}
	return
}

// Table is a hyperparameter lookup keyed by problem size.
type Table struct {
	entries map[int]Entry
}

// NewTable builds a lookup table. A size listed twice is rejected rather
// than letting the later entry silently win.
func NewTable(entries ...Entry) (*Table, error) {
	t := &Table{entries: make(map[int]Entry, len(entries))}
	for _, e := range entries {
		if err := e.validate(); err != nil {
			return nil, err
		}
		if _, dup := t.entries[e.Size]; dup {
			return nil, fmt.Errorf("%w: duplicate table entry for size %d", ErrConfig, e.Size)
		}
		t.entries[e.Size] = e
	}
	return t, nil
}

// Lookup returns the entry for size.
func (t *Table) Lookup(size int) (Entry, error) {
	e, ok := t.entries[size]
	if !ok {
		return Entry{}, fmt.Errorf("%w: no table entry for size %d", ErrConfig, size)
	}
	return e, nil
}

// Sizes returns the sizes present in the table in ascending order.
func (t *Table) Sizes() []int {
	sizes := make([]int, 0, len(t.entries))
	for s := range t.entries {
		sizes = append(sizes, s)
	}
	slices.Sort(sizes)
	return sizes
}

const (
	defaultBatchSize     = 64
	defaultLearningRate  = 1e-3
	defaultPenaltyWeight = 100
)

// DefaultTable returns the shipped lookup table.
func DefaultTable() *Table {
	hidden := []struct{ size, width int }{
		{1, 4}, {10, 16}, {100, 64}, {1000, 256}, {10000, 4096},
	}
	entries := make([]Entry, len(hidden))
	for i, h := range hidden {
		entries[i] = Entry{
			Size:          h.size,
			HiddenSize:    h.width,
			BatchSize:     defaultBatchSize,
			LearningRate:  defaultLearningRate,
			PenaltyWeight: defaultPenaltyWeight,
		}
	}
	t, err := NewTable(entries...)
	if err != nil {
		panic(err)
	}
	return t
}

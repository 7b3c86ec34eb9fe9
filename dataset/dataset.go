// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package dataset samples parametric datapoints and serves them in batches.
//
// A DictDataset maps each parameter name to a matrix whose rows are
// samples and whose columns are the parameter width. A Loader cuts a
// dataset into batches, reshuffling rows on every pass over the train and
// dev splits and keeping the test split in its original order.
package dataset

import (
	"errors"
	"fmt"
	"slices"

	"gonum.org/v1/gonum/mat"
)

// ErrConfig reports invalid sampling, splitting, or batching settings.
var ErrConfig = errors.New("dataset: configuration error")

// Split names a partition of a sampled dataset.
type Split string

const (
	Train Split = "train"
	Test  Split = "test"
	Dev   Split = "dev"
)

// DictDataset is a named set of parameter matrices sharing one row count.
type DictDataset struct {
	Name   Split
	n      int
	names  []string
	widths map[string]int
	data   map[string]*mat.Dense // nil when n == 0
}

// NewDictDataset wraps data, which must be non-empty and agree on the row count.
func NewDictDataset(name Split, data map[string]*mat.Dense) (*DictDataset, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: dataset %q has no fields", ErrConfig, name)
	}
	ds := &DictDataset{
		Name:   name,
		n:      -1,
		widths: make(map[string]int, len(data)),
		data:   make(map[string]*mat.Dense, len(data)),
	}
	for k, m := range data {
		if m == nil {
			return nil, fmt.Errorf("%w: field %q is nil", ErrConfig, k)
		}
		r, c := m.Dims()
		if ds.n >= 0 && r != ds.n {
			return nil, fmt.Errorf("%w: field %q has %d rows, want %d", ErrConfig, k, r, ds.n)
		}
		ds.n = r
		ds.names = append(ds.names, k)
		ds.widths[k] = c
		ds.data[k] = m
	}
	slices.Sort(ds.names)
	return ds, nil
}

// emptyLike returns a dataset with no rows and the fields of widths.
func emptyLike(name Split, widths map[string]int) *DictDataset {
	ds := &DictDataset{Name: name, widths: make(map[string]int, len(widths)), data: map[string]*mat.Dense{}}
	for k, w := range widths {
		ds.names = append(ds.names, k)
		ds.widths[k] = w
	}
	slices.Sort(ds.names)
	return ds
}

// Len returns the number of datapoints.
func (ds *DictDataset) Len() int { return ds.n }

// Fields returns the parameter names in sorted order.
func (ds *DictDataset) Fields() []string { return slices.Clone(ds.names) }

// Width returns the column count of a field, or 0 if absent.
func (ds *DictDataset) Width(name string) int { return ds.widths[name] }

// Matrix returns the samples of a field. It is nil for an empty dataset.
func (ds *DictDataset) Matrix(name string) *mat.Dense { return ds.data[name] }

// Row returns a copy of row i of field name, or nil if the field is absent.
func (ds *DictDataset) Row(name string, i int) []float64 {
	m, ok := ds.data[name]
	if !ok || m == nil {
		return nil
	}
	return mat.Row(nil, i, m)
}

// rows copies the rows selected by idx into a new matrix per field.
func (ds *DictDataset) rows(idx []int) map[string]*mat.Dense {
	out := make(map[string]*mat.Dense, len(ds.names))
	for _, k := range ds.names {
		src := ds.data[k]
		dst := mat.NewDense(len(idx), ds.widths[k], nil)
		for r, i := range idx {
			dst.SetRow(r, src.RawRowView(i))
		}
		out[k] = dst
	}
	return out
}

// slice copies rows [lo, hi) into a new dataset.
func (ds *DictDataset) slice(name Split, lo, hi int) *DictDataset {
	if lo == hi {
		return emptyLike(name, ds.widths)
	}
	data := make(map[string]*mat.Dense, len(ds.names))
	for _, k := range ds.names {
		data[k] = mat.DenseCopyOf(ds.data[k].Slice(lo, hi, 0, ds.widths[k]))
	}
	sub, _ := NewDictDataset(name, data)
	return sub
}

// SplitSizes requests the size of the held-out partitions.
type SplitSizes struct {
	Test, Val int
}

// Partition cuts ds into train, test, and dev datasets of sizes
// N-Test-Val, Test, and Val. Rows are taken in order: train first, then
// test, then dev. Partition fails unless Test+Val < N.
func Partition(ds *DictDataset, sizes SplitSizes) (train, test, dev *DictDataset, err error) {
	n := ds.Len()
	switch {
	case sizes.Test < 0 || sizes.Val < 0:
		err = fmt.Errorf("%w: negative split size %+v", ErrConfig, sizes)
	case sizes.Test+sizes.Val >= n:
		err = fmt.Errorf("%w: test %d + val %d must be less than %d samples", ErrConfig, sizes.Test, sizes.Val, n)
	}
	if err != nil {
		return
	}
	nt := n - sizes.Test - sizes.Val
	train = ds.slice(Train, 0, nt)
	test = ds.slice(Test, nt, nt+sizes.Test)
	dev = ds.slice(Dev, nt+sizes.Test, n)
	return
}

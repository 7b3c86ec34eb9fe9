// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package dataset

import (
	"fmt"
	"iter"
	"math/rand/v2"

	"gonum.org/v1/gonum/mat"
)

// Batch is a group of at most batch-size rows from one split.
type Batch struct {
	Split  Split
	Rows   []int                 // dataset row of each batch row
	Fields map[string]*mat.Dense // parameter name to batch rows
}

// Len returns the number of rows in the batch.
func (b Batch) Len() int { return len(b.Rows) }

// Row returns a copy of row i of field name, or nil if the field is absent.
func (b Batch) Row(name string, i int) []float64 {
	m, ok := b.Fields[name]
	if !ok {
		return nil
	}
	return mat.Row(nil, i, m)
}

// Loader serves a dataset in batches.
//
// The shuffle state is owned by the loader, so a loader must not be
// iterated by more than one goroutine at a time.
type Loader struct {
	ds        *DictDataset
	batchSize int
	shuffle   bool
	rng       *rand.Rand
}

// NewLoader returns a loader over ds. Train and dev datasets are
// reshuffled with rng on every pass; test datasets keep their order
// and rng may be nil.
func NewLoader(ds *DictDataset, batchSize int, rng *rand.Rand) (l *Loader, err error) {
	shuffle := ds != nil && ds.Name != Test
	switch {
	case ds == nil:
		err = fmt.Errorf("%w: dataset is required", ErrConfig)
	case batchSize <= 0:
		err = fmt.Errorf("%w: batch size %d", ErrConfig, batchSize)
	case shuffle && rng == nil:
		err = fmt.Errorf("%w: %s split needs a random generator to shuffle", ErrConfig, ds.Name)
	}
	if err != nil {
		return
	}
	l = &Loader{ds: ds, batchSize: batchSize, shuffle: shuffle, rng: rng}
	return
}

// Dataset returns the underlying dataset.
func (l *Loader) Dataset() *DictDataset { return l.ds }

// BatchSize returns the maximum number of rows per batch.
func (l *Loader) BatchSize() int { return l.batchSize }

// Shuffled reports whether passes reorder rows.
func (l *Loader) Shuffled() bool { return l.shuffle }

// NumBatches returns the number of batches in one pass.
func (l *Loader) NumBatches() int {
	return (l.ds.Len() + l.batchSize - 1) / l.batchSize
}

// Batches returns one pass over the dataset. Each call starts a new pass
// and, for shuffled splits, draws a new row order when iteration begins.
// The final batch holds the remaining rows and may be short.
func (l *Loader) Batches() iter.Seq[Batch] {
	return func(yield func(Batch) bool) {
		n := l.ds.Len()
		order := make([]int, n)
		for i := range order {
			order[i] = i
		}
		if l.shuffle {
			l.rng.Shuffle(n, func(i, j int) {
				order[i], order[j] = order[j], order[i]
			})
		}
		for lo := 0; lo < n; lo += l.batchSize {
			idx := order[lo:min(lo+l.batchSize, n)]
			b := Batch{
				Split:  l.ds.Name,
				Rows:   append([]int(nil), idx...),
				Fields: l.ds.rows(idx),
			}
			if !yield(b) {
				return
			}
		}
	}
}

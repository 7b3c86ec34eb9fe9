// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package store

import "time"

// RunRecord describes one experiment run.
type RunRecord struct {
	RunID      string
	Size       int
	Samples    int
	Variant    string
	Seed       uint64
	ConfigJSON string // full experiment configuration
	CreatedAt  time.Time
}

// TrainingRecord is the outcome of training the solution map of a run.
type TrainingRecord struct {
	RunID       string
	BestEpoch   int
	Epochs      int
	BestDevLoss float64
	TestLoss    float64 // NaN when the run had no test split
	Stopped     bool
}

// ResultRecord is one method evaluated on one datapoint.
type ResultRecord struct {
	RunID     string
	Method    string
	Instance  string
	X         []float64
	Objective float64
	Violation float64
	Feasible  bool
	Elapsed   time.Duration
	Status    string
	CreatedAt time.Time
}

// SummaryRecord aggregates the results of one method in a run.
type SummaryRecord struct {
	RunID         string
	Method        string
	Count         int
	MeanObjective float64
	MeanViolation float64
	FeasibleRatio float64
	MeanElapsed   time.Duration
}

// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package store

import (
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/curioloop/rosenbrock/harness"
)

func tempDB(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := NewStore(filepath.Join(dir, "test.db"))
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func createRun(t *testing.T, s *Store) RunRecord {
	t.Helper()
	run, err := s.CreateRun(RunRecord{Size: 10, Samples: 8000, Variant: "submit", Seed: 42, ConfigJSON: `{"size":10}`})
	if err != nil {
		t.Fatalf("CreateRun: %v", err)
	}
	return run
}

func TestCreateAndGetRun(t *testing.T) {
	s := tempDB(t)
	run := createRun(t, s)
	if run.RunID == "" || run.CreatedAt.IsZero() {
		t.Fatalf("CreateRun: %+v", run)
	}

	got, err := s.GetRun(run.RunID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	switch {
	case got.Size != 10 || got.Samples != 8000 || got.Variant != "submit":
		t.Fatalf("GetRun: %+v", got)
	case got.Seed != 42 || got.ConfigJSON != `{"size":10}`:
		t.Fatalf("GetRun: %+v", got)
	case !got.CreatedAt.Equal(run.CreatedAt):
		t.Fatalf("GetRun: created %v, want %v", got.CreatedAt, run.CreatedAt)
	}

	other := createRun(t, s)
	if other.RunID == run.RunID {
		t.Fatal("CreateRun: reused run id")
	}
	if _, err := s.GetRun("missing"); err == nil {
		t.Fatal("GetRun: missing run found")
	}
}

func TestRecordTraining(t *testing.T) {
	s := tempDB(t)
	run := createRun(t, s)

	rec := TrainingRecord{RunID: run.RunID, BestEpoch: 3, Epochs: 10, BestDevLoss: 0.5, TestLoss: math.NaN()}
	if err := s.RecordTraining(rec); err != nil {
		t.Fatalf("RecordTraining: %v", err)
	}
	got, err := s.GetTraining(run.RunID)
	if err != nil {
		t.Fatalf("GetTraining: %v", err)
	}
	if got.BestEpoch != 3 || got.BestDevLoss != 0.5 || !math.IsNaN(got.TestLoss) || got.Stopped {
		t.Fatalf("GetTraining: %+v", got)
	}

	rec.TestLoss, rec.Stopped = 0.25, true
	if err := s.RecordTraining(rec); err != nil {
		t.Fatalf("RecordTraining: %v", err)
	}
	got, _ = s.GetTraining(run.RunID)
	if got.TestLoss != 0.25 || !got.Stopped {
		t.Fatalf("GetTraining after update: %+v", got)
	}

	if err := s.RecordTraining(TrainingRecord{RunID: "missing"}); err == nil {
		t.Fatal("RecordTraining: accepted unknown run")
	}
}

func TestRecordAndListResults(t *testing.T) {
	s := tempDB(t)
	run := createRun(t, s)

	recs := []ResultRecord{
		{RunID: run.RunID, Method: "learned", Instance: "test/0", X: []float64{1, 0.5}, Objective: 0.1, Feasible: true, Elapsed: time.Millisecond},
		{RunID: run.RunID, Method: "slsqp", Instance: "test/0", X: []float64{1, 1}, Objective: math.NaN(), Violation: 2, Status: "OK"},
	}
	for _, rec := range recs {
		if err := s.RecordResult(rec); err != nil {
			t.Fatalf("RecordResult: %v", err)
		}
	}

	got, err := s.ListResults(run.RunID)
	if err != nil {
		t.Fatalf("ListResults: %v", err)
	}
	switch {
	case len(got) != 2:
		t.Fatalf("ListResults: %d records", len(got))
	case got[0].Method != "learned" || got[0].X[1] != 0.5 || !got[0].Feasible || got[0].Elapsed != time.Millisecond:
		t.Fatalf("ListResults: %+v", got[0])
	case !math.IsNaN(got[1].Objective) || got[1].Violation != 2 || got[1].Status != "OK":
		t.Fatalf("ListResults: %+v", got[1])
	case got[0].CreatedAt.IsZero():
		t.Fatal("ListResults: missing timestamp")
	}

	if err := s.RecordResult(ResultRecord{RunID: "missing", Method: "x"}); err == nil {
		t.Fatal("RecordResult: accepted unknown run")
	}
	empty, err := s.ListResults("missing")
	if err != nil || len(empty) != 0 {
		t.Fatalf("ListResults missing: %v %v", empty, err)
	}
}

func TestSink(t *testing.T) {
	s := tempDB(t)
	run := createRun(t, s)

	sink := s.Sink(run.RunID)
	row := harness.Row{Method: "penalty", Instance: "test/4", X: []float64{0.3}, Objective: 1, Violation: 0, Feasible: true, Status: "converged"}
	if err := sink.Record(row); err != nil {
		t.Fatalf("Record: %v", err)
	}
	got, err := s.ListResults(run.RunID)
	if err != nil {
		t.Fatalf("ListResults: %v", err)
	}
	if len(got) != 1 || got[0].Method != "penalty" || got[0].Instance != "test/4" || got[0].Status != "converged" {
		t.Fatalf("Sink: %+v", got)
	}
}

func TestSummaries(t *testing.T) {
	s := tempDB(t)
	run := createRun(t, s)

	sums := []harness.Summary{
		{Method: "slsqp", Count: 100, MeanObjective: 1, MeanViolation: 0, FeasibleRatio: 1, MeanElapsed: time.Second},
		{Method: "learned", Count: 0, MeanObjective: math.NaN(), MeanViolation: math.NaN(), FeasibleRatio: math.NaN()},
	}
	for _, sum := range sums {
		if err := s.RecordSummary(Summary(run.RunID, sum)); err != nil {
			t.Fatalf("RecordSummary: %v", err)
		}
	}
	sums[0].Count = 200
	if err := s.RecordSummary(Summary(run.RunID, sums[0])); err != nil {
		t.Fatalf("RecordSummary: %v", err)
	}

	got, err := s.ListSummaries(run.RunID)
	if err != nil {
		t.Fatalf("ListSummaries: %v", err)
	}
	switch {
	case len(got) != 2:
		t.Fatalf("ListSummaries: %d records", len(got))
	case got[0].Method != "learned" || !math.IsNaN(got[0].MeanObjective) || !math.IsNaN(got[0].FeasibleRatio):
		t.Fatalf("ListSummaries: %+v", got[0])
	case got[1].Method != "slsqp" || got[1].Count != 200 || got[1].MeanElapsed != time.Second:
		t.Fatalf("ListSummaries: %+v", got[1])
	}
}

func TestReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := NewStore(path)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	run := createRun(t, s)
	s.Close()

	s, err = NewStore(path)
	if err != nil {
		t.Fatalf("NewStore reopen: %v", err)
	}
	defer s.Close()
	if _, err := s.GetRun(run.RunID); err != nil {
		t.Fatalf("GetRun after reopen: %v", err)
	}
}

func TestListRuns(t *testing.T) {
	s := tempDB(t)
	if runs, err := s.ListRuns(); err != nil || len(runs) != 0 {
		t.Fatalf("ListRuns empty: %v %v", runs, err)
	}
	first, second := createRun(t, s), createRun(t, s)
	runs, err := s.ListRuns()
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	switch {
	case len(runs) != 2:
		t.Fatalf("ListRuns: %d runs", len(runs))
	case runs[0].RunID != first.RunID || runs[1].RunID != second.RunID:
		t.Fatalf("ListRuns: order %s %s", runs[0].RunID, runs[1].RunID)
	case runs[1].Seed != 42 || runs[1].CreatedAt.IsZero():
		t.Fatalf("ListRuns: %+v", runs[1])
	}
}

func TestMalformedTimestamp(t *testing.T) {
	s := tempDB(t)
	run := createRun(t, s)
	if err := s.RecordResult(ResultRecord{RunID: run.RunID, Method: "learned", Instance: "test/0"}); err != nil {
		t.Fatalf("RecordResult: %v", err)
	}
	if _, err := s.db.Exec(`UPDATE runs SET created_at = 'yesterday'`); err != nil {
		t.Fatal(err)
	}
	if _, err := s.db.Exec(`UPDATE results SET created_at = 'yesterday'`); err != nil {
		t.Fatal(err)
	}

	if _, err := s.GetRun(run.RunID); err == nil {
		t.Fatal("GetRun: accepted malformed timestamp")
	}
	if _, err := s.ListRuns(); err == nil {
		t.Fatal("ListRuns: accepted malformed timestamp")
	}
	if _, err := s.ListResults(run.RunID); err == nil {
		t.Fatal("ListResults: accepted malformed timestamp")
	}
}

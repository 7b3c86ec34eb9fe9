// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package store persists experiment runs and their per-datapoint results
// in SQLite.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/curioloop/rosenbrock/harness"
)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	run_id        TEXT PRIMARY KEY,
	size          INTEGER NOT NULL,
	samples       INTEGER NOT NULL,
	variant       TEXT NOT NULL,
	seed          INTEGER NOT NULL,
	config_json   TEXT,
	created_at    TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS training (
	run_id        TEXT PRIMARY KEY,
	best_epoch    INTEGER NOT NULL,
	epochs        INTEGER NOT NULL,
	best_dev_loss REAL,
	test_loss     REAL,
	stopped       INTEGER NOT NULL,
	FOREIGN KEY (run_id) REFERENCES runs(run_id)
);

CREATE TABLE IF NOT EXISTS results (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id        TEXT NOT NULL,
	method        TEXT NOT NULL,
	instance      TEXT NOT NULL,
	x_json        TEXT NOT NULL,
	objective     REAL,
	violation     REAL,
	feasible      INTEGER NOT NULL,
	elapsed_ns    INTEGER NOT NULL,
	status        TEXT,
	created_at    TEXT NOT NULL,
	FOREIGN KEY (run_id) REFERENCES runs(run_id)
);

CREATE INDEX IF NOT EXISTS results_run ON results(run_id, method);

CREATE TABLE IF NOT EXISTS summaries (
	run_id         TEXT NOT NULL,
	method         TEXT NOT NULL,
	count          INTEGER NOT NULL,
	mean_objective REAL,
	mean_violation REAL,
	feasible_ratio REAL,
	mean_elapsed_ns INTEGER NOT NULL,
	PRIMARY KEY (run_id, method),
	FOREIGN KEY (run_id) REFERENCES runs(run_id)
);
`

// Store manages experiment results in SQLite.
// It is safe for concurrent use.
type Store struct {
	db *sql.DB
}

// NewStore opens a SQLite database and runs migrations.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma fk: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// CreateRun stores rec under a fresh run id and returns the stored record.
func (s *Store) CreateRun(rec RunRecord) (RunRecord, error) {
	rec.RunID = uuid.New().String()
	rec.CreatedAt = time.Now().UTC()
	_, err := s.db.Exec(
		`INSERT INTO runs (run_id, size, samples, variant, seed, config_json, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.RunID, rec.Size, rec.Samples, rec.Variant, int64(rec.Seed), rec.ConfigJSON,
		rec.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return RunRecord{}, fmt.Errorf("insert run: %w", err)
	}
	return rec, nil
}

// GetRun loads a run by id.
func (s *Store) GetRun(runID string) (RunRecord, error) {
	var (
		rec        RunRecord
		seed       int64
		configJSON sql.NullString
		createdStr string
	)
	err := s.db.QueryRow(
		`SELECT run_id, size, samples, variant, seed, config_json, created_at
		 FROM runs WHERE run_id = ?`, runID,
	).Scan(&rec.RunID, &rec.Size, &rec.Samples, &rec.Variant, &seed, &configJSON, &createdStr)
	if err != nil {
		return RunRecord{}, fmt.Errorf("get run %s: %w", runID, err)
	}
	rec.Seed = uint64(seed)
	rec.ConfigJSON = configJSON.String
	if rec.CreatedAt, err = time.Parse(time.RFC3339Nano, createdStr); err != nil {
		return RunRecord{}, fmt.Errorf("parse run time: %w", err)
	}
	return rec, nil
}

// ListRuns returns all runs, oldest first.
func (s *Store) ListRuns() ([]RunRecord, error) {
	rows, err := s.db.Query(
		`SELECT run_id, size, samples, variant, seed, config_json, created_at
		 FROM runs ORDER BY rowid`,
	)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var records []RunRecord
	for rows.Next() {
		var (
			rec        RunRecord
			seed       int64
			configJSON sql.NullString
			createdStr string
		)
		if err := rows.Scan(&rec.RunID, &rec.Size, &rec.Samples, &rec.Variant, &seed, &configJSON, &createdStr); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		rec.Seed = uint64(seed)
		rec.ConfigJSON = configJSON.String
		if rec.CreatedAt, err = time.Parse(time.RFC3339Nano, createdStr); err != nil {
			return nil, fmt.Errorf("parse run time: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// RecordTraining stores the training outcome of a run, replacing any
// earlier one.
func (s *Store) RecordTraining(rec TrainingRecord) error {
	_, err := s.db.Exec(
		`INSERT INTO training (run_id, best_epoch, epochs, best_dev_loss, test_loss, stopped)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(run_id) DO UPDATE SET
		   best_epoch = excluded.best_epoch, epochs = excluded.epochs,
		   best_dev_loss = excluded.best_dev_loss, test_loss = excluded.test_loss,
		   stopped = excluded.stopped`,
		rec.RunID, rec.BestEpoch, rec.Epochs, nullFloat(rec.BestDevLoss), nullFloat(rec.TestLoss), rec.Stopped,
	)
	if err != nil {
		return fmt.Errorf("insert training: %w", err)
	}
	return nil
}

// GetTraining loads the training outcome of a run.
func (s *Store) GetTraining(runID string) (TrainingRecord, error) {
	rec := TrainingRecord{RunID: runID}
	var dev, test sql.NullFloat64
	err := s.db.QueryRow(
		`SELECT best_epoch, epochs, best_dev_loss, test_loss, stopped FROM training WHERE run_id = ?`, runID,
	).Scan(&rec.BestEpoch, &rec.Epochs, &dev, &test, &rec.Stopped)
	if err != nil {
		return TrainingRecord{}, fmt.Errorf("get training %s: %w", runID, err)
	}
	rec.BestDevLoss, rec.TestLoss = floatOrNaN(dev), floatOrNaN(test)
	return rec, nil
}

// RecordResult appends one result row.
func (s *Store) RecordResult(rec ResultRecord) error {
	xJSON, err := json.Marshal(rec.X)
	if err != nil {
		return fmt.Errorf("marshal x: %w", err)
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	_, err = s.db.Exec(
		`INSERT INTO results (run_id, method, instance, x_json, objective, violation, feasible, elapsed_ns, status, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.RunID, rec.Method, rec.Instance, string(xJSON),
		nullFloat(rec.Objective), nullFloat(rec.Violation), rec.Feasible,
		rec.Elapsed.Nanoseconds(), rec.Status, rec.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("insert result: %w", err)
	}
	return nil
}

// ListResults returns the results of a run in insertion order.
func (s *Store) ListResults(runID string) ([]ResultRecord, error) {
	rows, err := s.db.Query(
		`SELECT run_id, method, instance, x_json, objective, violation, feasible, elapsed_ns, status, created_at
		 FROM results WHERE run_id = ? ORDER BY id`, runID,
	)
	if err != nil {
		return nil, fmt.Errorf("list results: %w", err)
	}
	defer rows.Close()

	var records []ResultRecord
	for rows.Next() {
		var (
			rec        ResultRecord
			xJSON      string
			obj, vio   sql.NullFloat64
			elapsed    int64
			status     sql.NullString
			createdStr string
		)
		if err := rows.Scan(&rec.RunID, &rec.Method, &rec.Instance, &xJSON, &obj, &vio,
			&rec.Feasible, &elapsed, &status, &createdStr); err != nil {
			return nil, fmt.Errorf("scan result: %w", err)
		}
		if err := json.Unmarshal([]byte(xJSON), &rec.X); err != nil {
			return nil, fmt.Errorf("unmarshal x: %w", err)
		}
		rec.Objective, rec.Violation = floatOrNaN(obj), floatOrNaN(vio)
		rec.Elapsed = time.Duration(elapsed)
		rec.Status = status.String
		if rec.CreatedAt, err = time.Parse(time.RFC3339Nano, createdStr); err != nil {
			return nil, fmt.Errorf("parse result time: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// RecordSummary stores the aggregate of one method, replacing any earlier one.
func (s *Store) RecordSummary(rec SummaryRecord) error {
	_, err := s.db.Exec(
		`INSERT INTO summaries (run_id, method, count, mean_objective, mean_violation, feasible_ratio, mean_elapsed_ns)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(run_id, method) DO UPDATE SET
		   count = excluded.count, mean_objective = excluded.mean_objective,
		   mean_violation = excluded.mean_violation, feasible_ratio = excluded.feasible_ratio,
		   mean_elapsed_ns = excluded.mean_elapsed_ns`,
		rec.RunID, rec.Method, rec.Count,
		nullFloat(rec.MeanObjective), nullFloat(rec.MeanViolation), nullFloat(rec.FeasibleRatio),
		rec.MeanElapsed.Nanoseconds(),
	)
	if err != nil {
		return fmt.Errorf("insert summary: %w", err)
	}
	return nil
}

// ListSummaries returns the summaries of a run ordered by method.
func (s *Store) ListSummaries(runID string) ([]SummaryRecord, error) {
	rows, err := s.db.Query(
		`SELECT method, count, mean_objective, mean_violation, feasible_ratio, mean_elapsed_ns
		 FROM summaries WHERE run_id = ? ORDER BY method`, runID,
	)
	if err != nil {
		return nil, fmt.Errorf("list summaries: %w", err)
	}
	defer rows.Close()

	var records []SummaryRecord
	for rows.Next() {
		rec := SummaryRecord{RunID: runID}
		var obj, vio, ratio sql.NullFloat64
		var elapsed int64
		if err := rows.Scan(&rec.Method, &rec.Count, &obj, &vio, &ratio, &elapsed); err != nil {
			return nil, fmt.Errorf("scan summary: %w", err)
		}
		rec.MeanObjective, rec.MeanViolation, rec.FeasibleRatio = floatOrNaN(obj), floatOrNaN(vio), floatOrNaN(ratio)
		rec.MeanElapsed = time.Duration(elapsed)
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Sink returns a harness sink that appends rows to the run.
func (s *Store) Sink(runID string) harness.Sink {
	return runSink{s: s, runID: runID}
}

type runSink struct {
	s     *Store
	runID string
}

func (r runSink) Record(row harness.Row) error {
	return r.s.RecordResult(ResultRecord{
		RunID:     r.runID,
		Method:    row.Method,
		Instance:  row.Instance,
		X:         row.X,
		Objective: row.Objective,
		Violation: row.Violation,
		Feasible:  row.Feasible,
		Elapsed:   row.Elapsed,
		Status:    row.Status,
	})
}

// Summary converts a harness summary for storage under runID.
func Summary(runID string, sum harness.Summary) SummaryRecord {
	return SummaryRecord{
		RunID:         runID,
		Method:        sum.Method,
		Count:         sum.Count,
		MeanObjective: sum.MeanObjective,
		MeanViolation: sum.MeanViolation,
		FeasibleRatio: sum.FeasibleRatio,
		MeanElapsed:   sum.MeanElapsed,
	}
}

// nullFloat maps NaN to SQL NULL.
func nullFloat(v float64) sql.NullFloat64 {
	return sql.NullFloat64{Float64: v, Valid: !math.IsNaN(v)}
}

func floatOrNaN(v sql.NullFloat64) float64 {
	if !v.Valid {
		return math.NaN()
	}
	return v.Float64
}

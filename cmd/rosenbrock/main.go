// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command rosenbrock trains a solution map for the parametric Rosenbrock
// problem and compares it with classical solvers on the test split.
//
// Usage:
//
//	rosenbrock -size 10 -samples 8000 [-variant submit] [-method all] [-db runs.db]
//
// The database path may also be given through ROSENBROCK_DB.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strings"

	"github.com/curioloop/optimizer/lbfgsb"

	"github.com/curioloop/rosenbrock/config"
	"github.com/curioloop/rosenbrock/dataset"
	"github.com/curioloop/rosenbrock/harness"
	"github.com/curioloop/rosenbrock/problem"
	"github.com/curioloop/rosenbrock/smap"
	"github.com/curioloop/rosenbrock/solver"
	"github.com/curioloop/rosenbrock/store"
)

func main() {
	var (
		size     = flag.Int("size", 10, "number of blocks, one of 1, 10, 100, 1000, 10000")
		samples  = flag.Int("samples", 8000, "training-set size, one of 800, 8000, 80000")
		variant  = flag.String("variant", string(config.Submit), "sampling ranges, submit or demo")
		epochs   = flag.Int("epochs", 0, "maximum epochs, 0 keeps the default")
		warmup   = flag.Int("warmup", -1, "warmup epochs, -1 keeps the default")
		patience = flag.Int("patience", 0, "early-stopping patience, 0 keeps the default")
		decay    = flag.Float64("wd", 0, "AdamW weight decay")
		seed     = flag.Uint64("seed", 42, "experiment seed")
		method   = flag.String("method", "all", "compared methods: learned, slsqp, penalty or all")
		dbPath   = flag.String("db", envOr("ROSENBROCK_DB", ""), "SQLite file for results, empty to skip")
		verbose  = flag.Int("v", 1, "trainer log level: -1 silent, 0 last, 1 epochs, 99 batches")
	)
	flag.Parse()

	exp, err := config.New(*size, *samples, config.Variant(*variant), nil)
	if err == nil {
		if *epochs > 0 {
			exp.Epochs = *epochs
		}
		if *warmup >= 0 {
			exp.Warmup = *warmup
		}
		if *patience > 0 {
			exp.Patience = *patience
		}
		exp.WeightDecay, exp.Seed = *decay, *seed
		err = exp.Validate()
	}
	if err != nil {
		fail(err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := run(ctx, exp, *method, *dbPath, smap.LogLevel(*verbose), os.Stdout); err != nil {
		fail(err)
	}
}

// run trains the solution map of exp, compares it with the chosen methods
// on the test split and writes the tables to out.
func run(ctx context.Context, exp *config.Experiment, methods, dbPath string, level smap.LogLevel, out io.Writer) error {
	log.Printf("experiment %s", exp)

	sampler, err := dataset.NewSampler(exp.RNG(config.StreamSampling), exp.Fields()...)
	if err != nil {
		return err
	}
	train, test, dev, err := sampler.SampleSplits(exp.SplitSizes())
	if err != nil {
		return err
	}
	prob, err := problem.Rosenbrock(exp.ProblemSpec())
	if err != nil {
		return err
	}

	trainLoader, err := dataset.NewLoader(train, exp.BatchSize, exp.RNG(config.StreamShuffle))
	if err != nil {
		return err
	}
	devLoader, err := dataset.NewLoader(dev, exp.BatchSize, exp.RNG(config.StreamShuffleDev))
	if err != nil {
		return err
	}
	testLoader, err := dataset.NewLoader(test, exp.BatchSize, nil)
	if err != nil {
		return err
	}

	node, err := smap.NewNode(prob, exp.Hidden(), exp.RNG(config.StreamInit))
	if err != nil {
		return err
	}
	trainer, err := smap.NewTrainer(prob, node, trainLoader, devLoader, testLoader, smap.Config{
		LR:          exp.LearningRate,
		WeightDecay: exp.WeightDecay,
		Epochs:      exp.Epochs,
		Warmup:      exp.Warmup,
		Patience:    exp.Patience,
		Logger:      &smap.Logger{Level: level, Msg: os.Stderr},
	})
	if err != nil {
		return err
	}
	res, err := trainer.Train(ctx)
	if err != nil {
		return fmt.Errorf("train: %w", err)
	}

	h, err := newHarness(prob, node, methods)
	if err != nil {
		return err
	}

	// Compare on one random test datapoint before the full sweep.
	pick := exp.RNG(config.StreamCompare).IntN(test.Len())
	inst, err := prob.InstanceAt(test, pick, fmt.Sprintf("%s/%d", dataset.Test, pick))
	if err != nil {
		return err
	}
	rep, err := h.Compare(inst)
	if err != nil {
		return err
	}
	if err := rep.Print(out); err != nil {
		return err
	}
	fmt.Fprintln(out)

	var (
		db    *store.Store
		runID string
		sink  harness.Sink
	)
	if dbPath != "" {
		if db, err = store.NewStore(dbPath); err != nil {
			return err
		}
		defer db.Close()
		if runID, err = persistRun(db, exp, res); err != nil {
			return err
		}
		sink = db.Sink(runID)
		log.Printf("recording results under run %s in %s", runID, dbPath)
	}

	sums, err := h.Sweep(ctx, testLoader, sink)
	if err != nil {
		return fmt.Errorf("sweep: %w", err)
	}
	if err := harness.PrintSummaries(out, sums); err != nil {
		return err
	}
	if db != nil {
		for _, sum := range sums {
			if err := db.RecordSummary(store.Summary(runID, sum)); err != nil {
				return err
			}
		}
	}
	return nil
}

func newHarness(prob *problem.Problem, node *smap.Node, methods string) (*harness.Harness, error) {
	var picked []harness.Method
	for name := range strings.SplitSeq(methods, ",") {
		switch name = strings.TrimSpace(name); name {
		case "all":
			for _, m := range []string{"learned", "slsqp", "penalty"} {
				hm, err := newMethod(prob, node, m)
				if err != nil {
					return nil, err
				}
				picked = append(picked, hm)
			}
		default:
			hm, err := newMethod(prob, node, name)
			if err != nil {
				return nil, err
			}
			picked = append(picked, hm)
		}
	}
	return harness.New(prob, 1e-6, picked...)
}

func newMethod(prob *problem.Problem, node *smap.Node, name string) (harness.Method, error) {
	opts := solver.Options{Logger: &lbfgsb.Logger{Level: lbfgsb.LogNoop, Msg: os.Stderr, Out: os.Stderr}}
	switch name {
	case "learned":
		return harness.Learned(name, node), nil
	case "slsqp":
		opts.Method = solver.SLSQP
	case "penalty":
		opts.Method = solver.Penalty
	default:
		return harness.Method{}, fmt.Errorf("%w: unknown method %q", config.ErrConfig, name)
	}
	m, err := solver.NewModel(prob, opts)
	if err != nil {
		return harness.Method{}, err
	}
	return harness.Classical(name, m), nil
}

func persistRun(db *store.Store, exp *config.Experiment, res *smap.Result) (string, error) {
	cfg, err := json.Marshal(exp)
	if err != nil {
		return "", fmt.Errorf("marshal config: %w", err)
	}
	run, err := db.CreateRun(store.RunRecord{
		Size:       exp.Size,
		Samples:    exp.Samples,
		Variant:    string(exp.Variant),
		Seed:       exp.Seed,
		ConfigJSON: string(cfg),
	})
	if err != nil {
		return "", err
	}
	err = db.RecordTraining(store.TrainingRecord{
		RunID:       run.RunID,
		BestEpoch:   res.BestEpoch,
		Epochs:      len(res.History),
		BestDevLoss: res.BestDevLoss,
		TestLoss:    res.TestLoss,
		Stopped:     res.Stopped,
	})
	return run.RunID, err
}

func fail(err error) {
	log.Print(err)
	os.Exit(exitCode(err))
}

// exitCode is 2 for configuration errors and 1 otherwise.
func exitCode(err error) int {
	for _, target := range []error{
		config.ErrConfig, dataset.ErrConfig, problem.ErrConfig, problem.ErrDimension,
		smap.ErrConfig, solver.ErrConfig, harness.ErrConfig,
	} {
		if errors.Is(err, target) {
			return 2
		}
	}
	return 1
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

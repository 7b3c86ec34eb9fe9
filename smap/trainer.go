// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package smap trains a parametric solution map: a network that reads the
// parameters of a problem instance and predicts its decision vector.
//
// The map is trained on the penalty loss
//
//	𝓛(𝐱) = 𝒇(𝐱; 𝐚) + ∑ⱼ 𝛒ⱼ·𝚟𝚒𝚘ⱼ(𝐱; 𝐩)
//
// where 𝐱 is the network output. Each batch averages the loss gradient,
// chained through the network, and takes one AdamW step. The dev loss
// after every epoch drives early stopping and the selection of the
// returned weights.
package smap

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/n0madic/go-adamw"

	"github.com/curioloop/rosenbrock/dataset"
	"github.com/curioloop/rosenbrock/problem"
)

// ErrConfig reports invalid trainer settings.
var ErrConfig = errors.New("smap: configuration error")

// Config holds the optimizer hyperparameters and the stopping rule.
type Config struct {
	LR          float64 // AdamW step size
	WeightDecay float64 // decoupled decay applied to kernels only
	Epochs      int     // maximum number of passes over the train split
	// Epochs during which non-improvement is not counted.
	Warmup int
	// Non-improving epochs tolerated after warmup.
	Patience int
	// Minimum decrease of the dev loss that counts as improvement.
	MinDelta float64
	Logger   *Logger
}

// Epoch records the losses of one pass.
type Epoch struct {
	Epoch     int
	TrainLoss float64 // mean loss over train batches, before each step
	DevLoss   float64
	Improved  bool
	Elapsed   time.Duration
}

// Result is the outcome of training.
type Result struct {
	Best        Weights // weights with the lowest dev loss, loaded into the map
	BestEpoch   int
	BestDevLoss float64
	TestLoss    float64 // mean loss of Best on the test split, NaN without one
	Stopped     bool    // early stopping fired before Epochs
	History     []Epoch
}

// Trainer fits a Node to a problem.
type Trainer struct {
	cfg  Config
	prob *problem.Problem
	node *Node

	train, dev, test *dataset.Loader
}

// NewTrainer validates its inputs. The test loader is optional.
func NewTrainer(prob *problem.Problem, node *Node, train, dev, test *dataset.Loader, cfg Config) (t *Trainer, err error) {
	switch {
	case prob == nil || node == nil || node.Map == nil:
		err = fmt.Errorf("%w: problem and node are required", ErrConfig)
	case train == nil || dev == nil:
		err = fmt.Errorf("%w: train and dev loaders are required", ErrConfig)
	case train.Dataset().Len() == 0 || dev.Dataset().Len() == 0:
		err = fmt.Errorf("%w: train and dev splits must not be empty", ErrConfig)
	case node.Map.Config().In != prob.NumVars || node.Map.Config().Out != prob.NumVars:
		err = fmt.Errorf("%w: map %d -> %d does not fit %d variables",
			ErrConfig, node.Map.Config().In, node.Map.Config().Out, prob.NumVars)
	case !(cfg.LR > 0) || math.IsInf(cfg.LR, 0):
		err = fmt.Errorf("%w: learning rate %v", ErrConfig, cfg.LR)
	case cfg.WeightDecay < 0:
		err = fmt.Errorf("%w: weight decay %v", ErrConfig, cfg.WeightDecay)
	case cfg.Epochs <= 0:
		err = fmt.Errorf("%w: %d epochs", ErrConfig, cfg.Epochs)
	case cfg.Warmup < 0 || cfg.Patience <= 0:
		err = fmt.Errorf("%w: warmup %d, patience %d", ErrConfig, cfg.Warmup, cfg.Patience)
	case cfg.MinDelta < 0:
		err = fmt.Errorf("%w: min delta %v", ErrConfig, cfg.MinDelta)
	}
	if err != nil {
		return
	}
	t = &Trainer{cfg: cfg, prob: prob, node: node, train: train, dev: dev, test: test}
	return
}

// Train runs until Epochs passes or early stopping, whichever is first,
// then loads the best weights into the map. It returns ctx.Err() if the
// context is cancelled between batches.
func (t *Trainer) Train(ctx context.Context) (*Result, error) {
	m := t.node.Map
	theta := m.Snapshot()
	opt, err := adamw.New(theta, adamw.Options{
		Alpha:       t.cfg.LR,
		WeightDecay: t.cfg.WeightDecay,
		DecayMask:   m.decayMask(),
	})
	if err != nil {
		return nil, fmt.Errorf("smap: %w", err)
	}

	log := t.cfg.Logger
	stop := earlyStop{warmup: t.cfg.Warmup, patience: t.cfg.Patience, minDelta: t.cfg.MinDelta, best: math.Inf(1)}
	res := &Result{TestLoss: math.NaN(), BestDevLoss: math.Inf(1)}
	grad := make([]float64, len(theta))

	for epoch := 1; epoch <= t.cfg.Epochs; epoch++ {
		start := time.Now()
		sum, count := 0.0, 0
		for b := range t.train.Batches() {
			if err = ctx.Err(); err != nil {
				return nil, err
			}
			var loss float64
			if loss, err = t.batchGrad(b, grad); err != nil {
				return nil, err
			}
			if err = opt.Step(theta, grad); err != nil {
				return nil, fmt.Errorf("smap: epoch %d: %w", epoch, err)
			}
			if err = m.Load(theta); err != nil {
				return nil, err
			}
			sum += loss * float64(b.Len())
			count += b.Len()
			if log.enable(LogBatch) {
				log.log("epoch %4d batch %4d rows %4d loss %.6e\n", epoch, opt.CurrentStep(), b.Len(), loss)
			}
		}

		var dev float64
		if dev, err = t.Evaluate(ctx, t.dev); err != nil {
			return nil, err
		}
		improved, halt := stop.observe(epoch, dev)
		if improved {
			res.Best, res.BestEpoch, res.BestDevLoss = m.Snapshot(), epoch, dev
		}
		res.History = append(res.History, Epoch{
			Epoch:     epoch,
			TrainLoss: sum / float64(count),
			DevLoss:   dev,
			Improved:  improved,
			Elapsed:   time.Since(start),
		})
		if log.enable(LogEpoch) {
			log.log("epoch %4d train %.6e dev %.6e best %.6e (epoch %d) wait %d\n",
				epoch, sum/float64(count), dev, res.BestDevLoss, res.BestEpoch, stop.wait)
		}
		if halt {
			res.Stopped = epoch < t.cfg.Epochs
			break
		}
	}

	if res.Best == nil {
		return nil, errors.New("smap: dev loss never became finite")
	}
	if err = m.Load(res.Best); err != nil {
		return nil, err
	}
	if t.test != nil && t.test.Dataset().Len() > 0 {
		if res.TestLoss, err = t.Evaluate(ctx, t.test); err != nil {
			return nil, err
		}
	}
	if log.enable(LogLast) {
		log.log("best epoch %d of %d: dev %.6e test %.6e\n",
			res.BestEpoch, len(res.History), res.BestDevLoss, res.TestLoss)
	}
	return res, nil
}

// batchGrad overwrites grad with the mean weight gradient of the batch
// and returns the mean loss.
func (t *Trainer) batchGrad(b dataset.Batch, grad []float64) (float64, error) {
	clear(grad)
	m := t.node.Map
	gx := make([]float64, t.prob.NumVars)
	total := 0.0
	for i := 0; i < b.Len(); i++ {
		inst, err := t.prob.InstanceAt(b, i, string(b.Split))
		if err != nil {
			return 0, err
		}
		x, err := m.Forward(inst.Features())
		if err != nil {
			return 0, err
		}
		loss, err := t.prob.LossGrad(x, inst, gx)
		if err != nil {
			return 0, err
		}
		if err := m.backward(gx, grad); err != nil {
			return 0, err
		}
		total += loss
	}
	scale := 1 / float64(b.Len())
	for i := range grad {
		grad[i] *= scale
	}
	return total * scale, nil
}

// Evaluate returns the mean penalty loss of the map over one pass of l.
func (t *Trainer) Evaluate(ctx context.Context, l *dataset.Loader) (float64, error) {
	total, count := 0.0, 0
	for b := range l.Batches() {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		for i := 0; i < b.Len(); i++ {
			inst, err := t.prob.InstanceAt(b, i, string(b.Split))
			if err != nil {
				return 0, err
			}
			x, err := t.node.Predict(inst)
			if err != nil {
				return 0, err
			}
			loss, err := t.prob.Loss(x, inst)
			if err != nil {
				return 0, err
			}
			total += loss.Total
			count++
		}
	}
	if count == 0 {
		return math.NaN(), nil
	}
	return total / float64(count), nil
}

// earlyStop tracks the best monitored value. Epochs up to warmup never
// count against patience.
type earlyStop struct {
	warmup, patience int
	minDelta         float64
	best             float64
	wait             int
}

func (e *earlyStop) observe(epoch int, value float64) (improved, halt bool) {
	if value < e.best-e.minDelta {
		e.best, e.wait = value, 0
		return true, false
	}
	if epoch > e.warmup {
		e.wait++
	}
	return false, e.wait >= e.patience
}

// Copyright 2024 gorse Project Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package bpmf

import (
	"context"
	"fmt"
	"time"

	"github.com/gorse-io/bpmf/base"
	"github.com/gorse-io/bpmf/base/log"
	"github.com/gorse-io/bpmf/base/progress"
	"github.com/gorse-io/bpmf/collective"
	"github.com/gorse-io/bpmf/common/parallel"
	"github.com/gorse-io/bpmf/dataset"
	"github.com/gorse-io/bpmf/model"
	"github.com/juju/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("github.com/gorse-io/bpmf/model/bpmf")

type FitConfig struct {
	Jobs int
}

func NewFitConfig() *FitConfig {
	return &FitConfig{Jobs: 1}
}

func (config *FitConfig) SetJobs(jobs int) *FitConfig {
	config.Jobs = jobs
	return config
}

// Diagnostics summarize one Gibbs iteration.
type Diagnostics struct {
	Iteration int
	// BurnIn is set for iterations before burn-in completes.
	BurnIn bool
	Score
	UserNorm      float64
	ItemNorm      float64
	SamplesPerSec float64
	Elapsed       time.Duration
}

func (d Diagnostics) String() string {
	return fmt.Sprintf("Iteration %d:\t num_correct: %3.2f%%\tavg_diff: %3.2f\tFU(%6.2f)\tFM(%6.2f)\tSamples/sec: %6.2f",
		d.Iteration, 100*d.Accuracy, d.MAE, d.UserNorm, d.ItemNorm, d.SamplesPerSec)
}

// BPMF is Bayesian probabilistic matrix factorization trained by Gibbs sampling [1].
// Latent vectors of users and items have Gaussian priors whose means and precisions
// have Normal-Wishart hyper-priors. Each iteration resamples item hyper-parameters,
// user hyper-parameters, all item vectors and then all user vectors.
//
//	[1] Salakhutdinov, Ruslan, and Andriy Mnih. "Bayesian probabilistic matrix
//	factorization using Markov chain Monte Carlo." Proceedings of the 25th
//	international conference on Machine learning. 2008.
//
// Hyper-parameters:
//
//	NumLatent   - The number of latent dimensions. Required.
//	Alpha       - The precision of observed ratings. Default is 2.
//	NSims       - The number of samples after burn-in. Default is 20.
//	BurnIn      - The number of burn-in samples. Default is 5.
//	RandomState - The random seed. Default is 0.
//	Threshold   - The rating threshold of accuracy. Default is log10(200).
type BPMF struct {
	params    model.Params
	numLatent int
	alpha     float64
	nSims     int
	burnIn    int
	seed      int64
	threshold float64

	users     *model.LatentMatrix
	items     *model.LatentMatrix
	userHyper *HyperParams
	itemHyper *HyperParams
}

// NewBPMF creates a BPMF model.
func NewBPMF(params model.Params) *BPMF {
	b := new(BPMF)
	b.SetParams(params)
	return b
}

// SetParams sets hyper-parameters.
func (b *BPMF) SetParams(params model.Params) {
	b.params = params
	b.numLatent = b.params.GetInt(model.NumLatent, 0)
	b.alpha = b.params.GetFloat64(model.Alpha, 2)
	b.nSims = b.params.GetInt(model.NSims, 20)
	b.burnIn = b.params.GetInt(model.BurnIn, 5)
	b.seed = b.params.GetInt64(model.RandomState, 0)
	b.threshold = b.params.GetFloat64(model.Threshold, DefaultThreshold)
}

// GetParams returns hyper-parameters.
func (b *BPMF) GetParams() model.Params {
	return b.params
}

func (b *BPMF) UserFactors() *model.LatentMatrix {
	return b.users
}

func (b *BPMF) ItemFactors() *model.LatentMatrix {
	return b.items
}

func (b *BPMF) UserHyper() *HyperParams {
	return b.userHyper
}

func (b *BPMF) ItemHyper() *HyperParams {
	return b.itemHyper
}

// Iterations returns the number of Gibbs iterations.
func (b *BPMF) Iterations() int {
	return b.burnIn + b.nSims
}

func (b *BPMF) factors(side model.Side) *model.LatentMatrix {
	if side == model.Users {
		return b.users
	}
	return b.items
}

func (b *BPMF) hyper(side model.Side) *HyperParams {
	if side == model.Users {
		return b.userHyper
	}
	return b.itemHyper
}

func (b *BPMF) validate() error {
	if b.numLatent <= 0 {
		return errors.NotValidf("number of latent dimensions %d", b.numLatent)
	}
	if b.alpha <= 0 {
		return errors.NotValidf("alpha %v", b.alpha)
	}
	if b.nSims < 0 || b.burnIn < 0 {
		return errors.NotValidf("%d samples after %d burn-in samples", b.nSims, b.burnIn)
	}
	return nil
}

// Fit samples latent matrices for the partition of coll. report is called after every
// iteration if not nil. The returned score is that of the last iteration.
func (b *BPMF) Fit(ctx context.Context, data *dataset.Dataset, coll collective.Collective, config *FitConfig,
	report func(Diagnostics)) (Score, error) {
	if err := b.validate(); err != nil {
		return Score{}, errors.Trace(err)
	}
	jobs := max(config.Jobs, 1)
	ownedUsers, err := collective.Partition(data.CountUsers(), coll.Size(), coll.Rank())
	if err != nil {
		return Score{}, errors.Trace(err)
	}
	ownedItems, err := collective.Partition(data.CountItems(), coll.Size(), coll.Rank())
	if err != nil {
		return Score{}, errors.Trace(err)
	}
	owned := map[model.Side]collective.Range{model.Users: ownedUsers, model.Items: ownedItems}
	log.Logger().Info("fit bpmf",
		zap.Int("n_users", data.CountUsers()),
		zap.Int("n_items", data.CountItems()),
		zap.Int("n_train", data.Train.Nnz()),
		zap.Int("n_probe", data.Probe.Nnz()),
		zap.String("params", b.GetParams().ToString()),
		zap.Any("config", config),
		zap.Int("rank", coll.Rank()),
		zap.Int("size", coll.Size()))

	ctx, span := tracer.Start(ctx, "BPMF.Fit")
	defer span.End()
	ctx, fitSpan := progress.Start(ctx, "BPMF.Fit", b.Iterations())
	_, userSpan := progress.Start(ctx, "sample users", b.Iterations()*ownedUsers.Len())
	_, itemSpan := progress.Start(ctx, "sample items", b.Iterations()*ownedItems.Len())
	sideSpans := map[model.Side]*progress.Span{model.Users: userSpan, model.Items: itemSpan}
	fail := func(err error) (Score, error) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		fitSpan.Fail(err)
		userSpan.Fail(err)
		itemSpan.Fail(err)
		return Score{}, errors.Trace(err)
	}

	// initialize
	if b.users, err = model.NewLatentMatrix(b.numLatent, data.CountUsers()); err != nil {
		return fail(err)
	}
	if b.items, err = model.NewLatentMatrix(b.numLatent, data.CountItems()); err != nil {
		return fail(err)
	}
	b.userHyper = NewHyperParams(b.numLatent)
	b.itemHyper = NewHyperParams(b.numLatent)
	rng := base.NewRandomGenerator(uint64(b.seed))
	samplers := make([]*EntitySampler, jobs)
	for i := range samplers {
		samplers[i] = NewEntitySampler(b.numLatent, b.alpha)
	}
	evaluator := NewEvaluator(data, b.threshold)
	stats := make(map[model.Side]model.Stats)
	for _, side := range []model.Side{model.Items, model.Users} {
		r := owned[side]
		if stats[side], err = coll.Reduce(ctx, side, -1, b.factors(side).PartialStats(r.Begin, r.End)); err != nil {
			return fail(errors.Annotatef(err, "reduce initial %s", side))
		}
	}

	// sampling
	var score Score
	start := time.Now()
	for iteration := 0; iteration < b.Iterations(); iteration++ {
		iterCtx, iterSpan := tracer.Start(ctx, "iteration", trace.WithAttributes(attribute.Int("iteration", iteration)))
		for _, side := range []model.Side{model.Items, model.Users} {
			hyperRng := rng.Derive(uint64(iteration), uint64(side))
			if err = b.hyper(side).Sample(stats[side], hyperRng); err != nil {
				iterSpan.End()
				return fail(errors.Annotatef(err, "sample %s hyper-parameters", side))
			}
		}
		for _, side := range []model.Side{model.Items, model.Users} {
			if stats[side], err = b.sampleSide(iterCtx, side, iteration, data, coll, owned[side], samplers, rng, sideSpans[side]); err != nil {
				iterSpan.End()
				return fail(err)
			}
		}
		iterSpan.End()
		fitSpan.Add(1)

		// evaluate
		burnIn := iteration < b.burnIn
		score = evaluator.Evaluate(b.users, b.items, !burnIn)
		elapsed := time.Since(start)
		diagnostics := Diagnostics{
			Iteration: iteration,
			BurnIn:    burnIn,
			Score:     score,
			UserNorm:  b.users.Norm(),
			ItemNorm:  b.items.Norm(),
			Elapsed:   elapsed,
		}
		if elapsed > 0 {
			diagnostics.SamplesPerSec = float64(userSpan.Count()+itemSpan.Count()) / elapsed.Seconds()
		}
		IterationTotal.Set(float64(iteration + 1))
		Accuracy.Set(score.Accuracy)
		MAE.Set(score.MAE)
		RMSE.Set(score.RMSE)
		RMSEAvg.Set(score.RMSEAvg)
		PredictionVariance.Set(score.Variance)
		LatentNormVec.WithLabelValues(model.Users.String()).Set(diagnostics.UserNorm)
		LatentNormVec.WithLabelValues(model.Items.String()).Set(diagnostics.ItemNorm)
		SamplesPerSecond.Set(diagnostics.SamplesPerSec)
		log.Logger().Debug(fmt.Sprintf("fit bpmf %v/%v", iteration+1, b.Iterations()),
			zap.Bool("burn_in", burnIn),
			zap.Float64("accuracy", score.Accuracy),
			zap.Float64("mae", score.MAE),
			zap.Float64("rmse", score.RMSE),
			zap.Float64("rmse_avg", score.RMSEAvg),
			zap.Float64("variance", score.Variance),
			zap.Float64("user_norm", diagnostics.UserNorm),
			zap.Float64("item_norm", diagnostics.ItemNorm),
			zap.Duration("elapsed", elapsed))
		if report != nil {
			report(diagnostics)
		}
	}
	userSpan.End()
	itemSpan.End()
	fitSpan.End()
	log.Logger().Info("fit bpmf complete",
		zap.Float64("accuracy", score.Accuracy),
		zap.Float64("mae", score.MAE),
		zap.Float64("rmse", score.RMSE),
		zap.Float64("rmse_avg", score.RMSEAvg),
		zap.Int("n_cold", score.NCold),
		zap.Duration("elapsed", time.Since(start)))
	return score, nil
}

// sampleSide samples owned entities of a side, then synchronizes the side with other
// partitions and returns its reduced statistics.
func (b *BPMF) sampleSide(ctx context.Context, side model.Side, iteration int, data *dataset.Dataset,
	coll collective.Collective, owned collective.Range, samplers []*EntitySampler, rng base.RandomGenerator,
	span *progress.Span) (model.Stats, error) {
	dst, other, hyper := b.factors(side), b.factors(side.Opposite()), b.hyper(side)
	ratings := data.Ratings(side)
	sampleStart := time.Now()
	err := parallel.Parallel(ctx, owned.Len(), len(samplers), func(workerId, jobId int) error {
		j := owned.Begin + jobId
		indices, values := ratings.Col(j)
		entityRng := rng.Derive(uint64(iteration), uint64(side), uint64(j))
		if err := samplers[workerId].Sample(dst, j, indices, values, other, data.MeanRating, hyper, entityRng); err != nil {
			return errors.Annotatef(err, "sample %s %d", side, j)
		}
		span.Add(1)
		return nil
	})
	if err != nil {
		return model.Stats{}, errors.Trace(err)
	}
	SampleSecondsVec.WithLabelValues(side.String()).Set(time.Since(sampleStart).Seconds())

	syncStart := time.Now()
	if err = coll.Broadcast(ctx, side, iteration, dst, owned); err != nil {
		return model.Stats{}, errors.Annotatef(err, "broadcast %s", side)
	}
	stats, err := coll.Reduce(ctx, side, iteration, dst.PartialStats(owned.Begin, owned.End))
	if err != nil {
		return model.Stats{}, errors.Annotatef(err, "reduce %s", side)
	}
	SyncSecondsVec.WithLabelValues(side.String()).Set(time.Since(syncStart).Seconds())
	return stats, nil
}

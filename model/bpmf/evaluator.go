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
	"math"

	"github.com/gorse-io/bpmf/dataset"
	"github.com/gorse-io/bpmf/model"
	"gonum.org/v1/gonum/mat"
)

// DefaultThreshold separates low ratings from high ratings in the accuracy metric.
var DefaultThreshold = math.Log10(200)

// Score is the result of evaluating the probe set.
type Score struct {
	// Accuracy is the fraction of probe ratings whose prediction falls on the same side of the threshold.
	Accuracy float64
	// MAE is the mean absolute error.
	MAE float64
	// RMSE is the root mean squared error.
	RMSE float64
	// RMSEAvg is the root mean squared error of predictions averaged over accumulated samples.
	RMSEAvg float64
	// Variance is the sample variance of accumulated predictions, averaged over the probe set.
	Variance float64
	// NCold is the number of probe ratings involving users or items without training ratings.
	NCold int
	// N is the number of probe ratings.
	N int
}

// Evaluator scores latent matrices against the probe set. It keeps the running average
// of predictions over accumulated samples.
type Evaluator struct {
	data      *dataset.Dataset
	threshold float64
	avg       []float64
	m2        []float64
	nSamples  int
}

// NewEvaluator creates an evaluator for the probe set of data.
func NewEvaluator(data *dataset.Dataset, threshold float64) *Evaluator {
	return &Evaluator{
		data:      data,
		threshold: threshold,
		avg:       make([]float64, data.Probe.Nnz()),
		m2:        make([]float64, data.Probe.Nnz()),
	}
}

// Predict returns the predicted rating of item by user.
func Predict(users, items *model.LatentMatrix, user, item int, meanRating float64) float64 {
	return mat.Dot(items.Vector(item), users.Vector(user)) + meanRating
}

// Evaluate scores the current latent matrices. If accumulate is set, predictions are
// added to the running mean and second moment used by RMSEAvg and Variance.
func (e *Evaluator) Evaluate(users, items *model.LatentMatrix, accumulate bool) Score {
	var (
		score   Score
		correct int
		absDiff float64
		sqDiff  float64
		sqAvg   float64
		m2      float64
		k       int
	)
	if accumulate {
		e.nSamples++
	}
	e.data.Probe.ForEach(func(user, item int, value float64) {
		prediction := Predict(users, items, user, item, e.data.MeanRating)
		if (value < e.threshold) == (prediction < e.threshold) {
			correct++
		}
		diff := value - prediction
		absDiff += math.Abs(diff)
		sqDiff += diff * diff
		if accumulate {
			delta := prediction - e.avg[k]
			e.avg[k] += delta / float64(e.nSamples)
			e.m2[k] += delta * (prediction - e.avg[k])
		}
		m2 += e.m2[k]
		if e.nSamples > 0 {
			diff = value - e.avg[k]
		}
		sqAvg += diff * diff
		if e.data.ColdUsers.Test(uint(user)) || e.data.ColdItems.Test(uint(item)) {
			score.NCold++
		}
		k++
	})
	score.N = k
	if k > 0 {
		n := float64(k)
		score.Accuracy = float64(correct) / n
		score.MAE = absDiff / n
		score.RMSE = math.Sqrt(sqDiff / n)
		score.RMSEAvg = math.Sqrt(sqAvg / n)
		if e.nSamples > 1 {
			score.Variance = m2 / float64(e.nSamples-1) / n
		}
	}
	return score
}

// Averaged returns the mean and sample variance of accumulated predictions of the k-th
// probe rating, in the order of Probe.ForEach.
func (e *Evaluator) Averaged(k int) (mean, variance float64) {
	if e.nSamples > 1 {
		variance = e.m2[k] / float64(e.nSamples-1)
	}
	return e.avg[k], variance
}

// NumSamples returns the number of accumulated samples.
func (e *Evaluator) NumSamples() int {
	return e.nSamples
}

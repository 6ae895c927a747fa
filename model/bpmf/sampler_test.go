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
	"testing"

	"github.com/gorse-io/bpmf/base"
	"github.com/gorse-io/bpmf/dataset"
	"github.com/gorse-io/bpmf/model"
	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func newLatentMatrix(t *testing.T, columns ...[]float64) *model.LatentMatrix {
	m, err := model.NewLatentMatrix(len(columns[0]), len(columns))
	require.NoError(t, err)
	for j, column := range columns {
		m.SetCol(j, column)
	}
	return m
}

func newHyperParams(t *testing.T, mu []float64, lambda float64) *HyperParams {
	h := NewHyperParams(len(mu))
	l := identity(len(mu))
	l.ScaleSym(lambda, l)
	require.NoError(t, h.Set(mat.NewVecDense(len(mu), mu), l))
	return h
}

func TestEntitySampler_Posterior(t *testing.T) {
	s := NewEntitySampler(2, 2)
	users := newLatentMatrix(t, []float64{1, 0}, []float64{0, 1})
	// ratings 4 and 3 with mean 3.5
	mean, cov, err := s.Posterior([]int{0, 1}, []float64{4, 3}, users, 3.5, newHyperParams(t, []float64{0, 0}, 0.5))
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{0.4, -0.4}, mean.RawVector().Data, 1e-12)
	assert.True(t, mat.EqualApprox(mat.NewSymDense(2, []float64{0.4, 0, 0, 0.4}), cov, 1e-12))

	// non-zero prior mean
	mean, _, err = s.Posterior([]int{0, 1}, []float64{4, 3}, users, 3.5, newHyperParams(t, []float64{1, 1}, 0.5))
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{0.6, -0.2}, mean.RawVector().Data, 1e-12)

	// correlated neighbors
	users = newLatentMatrix(t, []float64{1, 0}, []float64{1, 1})
	mean, cov, err = s.Posterior([]int{0, 1}, []float64{4, 3}, users, 3.5, newHyperParams(t, []float64{0, 0}, 0.5))
	require.NoError(t, err)
	det := 4.5*2.5 - 2*2
	assert.InDeltaSlice(t, []float64{2 / det, -4.5 / det}, mean.RawVector().Data, 1e-12)
	assert.True(t, mat.EqualApprox(mat.NewSymDense(2, []float64{2.5 / det, -2 / det, -2 / det, 4.5 / det}), cov, 1e-12))

	// mismatched input
	_, _, err = s.Posterior([]int{0, 1}, []float64{4}, users, 3.5, newHyperParams(t, []float64{0, 0}, 0.5))
	assert.True(t, errors.Is(err, errors.NotValid))
	_, _, err = s.Posterior(nil, nil, users, 3.5, newHyperParams(t, []float64{0, 0, 0}, 0.5))
	assert.True(t, errors.Is(err, errors.NotValid))
}

func TestEntitySampler_ToyMatrix(t *testing.T) {
	data := newDataset(t, 2, 2,
		[]dataset.Entry{
			{Row: 0, Col: 0, Value: 4},
			{Row: 0, Col: 1, Value: 2},
			{Row: 1, Col: 0, Value: 3},
			{Row: 1, Col: 1, Value: 5},
		}, nil)
	require.Equal(t, 3.5, data.MeanRating)
	s := NewEntitySampler(2, 2)
	hyper := newHyperParams(t, []float64{0, 0}, 0.5)

	// items given users e0 and e1: P = 2.5·I, Σ = 0.4·I
	users := newLatentMatrix(t, []float64{1, 0}, []float64{0, 1})
	items := newLatentMatrix(t, []float64{0, 0}, []float64{0, 0})
	ratings := data.Ratings(model.Items)
	indices, values := ratings.Col(0)
	mean, cov, err := s.Posterior(indices, values, users, data.MeanRating, hyper)
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{0.4, -0.4}, mean.RawVector().Data, 1e-12)
	assert.True(t, mat.EqualApprox(mat.NewSymDense(2, []float64{0.4, 0, 0, 0.4}), cov, 1e-12))
	require.NoError(t, s.SampleWith(items, 0, indices, values, users, data.MeanRating, hyper, []float64{1, -1}))
	assert.InDeltaSlice(t, []float64{0.4 + math.Sqrt(0.4), -0.4 - math.Sqrt(0.4)}, items.Column(nil, 0), 1e-12)
	indices, values = ratings.Col(1)
	require.NoError(t, s.SampleWith(items, 1, indices, values, users, data.MeanRating, hyper, []float64{0, 0}))
	assert.InDeltaSlice(t, []float64{-1.2, 1.2}, items.Column(nil, 1), 1e-12)

	// users given items (1, 1) and (1, -1): P = 4.5·I
	items = newLatentMatrix(t, []float64{1, 1}, []float64{1, -1})
	ratings = data.Ratings(model.Users)
	indices, values = ratings.Col(0)
	assert.Equal(t, []int{0, 1}, indices)
	assert.Equal(t, []float64{4, 2}, values)
	mean, cov, err = s.Posterior(indices, values, items, data.MeanRating, hyper)
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{-2 / 4.5, 4 / 4.5}, mean.RawVector().Data, 1e-12)
	assert.True(t, mat.EqualApprox(mat.NewSymDense(2, []float64{1 / 4.5, 0, 0, 1 / 4.5}), cov, 1e-12))
	indices, values = ratings.Col(1)
	require.NoError(t, s.SampleWith(users, 1, indices, values, items, data.MeanRating, hyper, []float64{0, 0}))
	assert.InDeltaSlice(t, []float64{2 / 4.5, -4 / 4.5}, users.Column(nil, 1), 1e-12)
}

func TestEntitySampler_SampleWith(t *testing.T) {
	s := NewEntitySampler(2, 2)
	users := newLatentMatrix(t, []float64{1, 0}, []float64{0, 1})
	items := newLatentMatrix(t, []float64{7, 7}, []float64{8, 8}, []float64{9, 9})
	err := s.SampleWith(items, 1, []int{0, 1}, []float64{4, 3}, users, 3.5, newHyperParams(t, []float64{0, 0}, 0.5),
		[]float64{0.25, 0.25})
	require.NoError(t, err)
	shift := 0.25 * math.Sqrt(0.4)
	assert.InDeltaSlice(t, []float64{0.4 + shift, -0.4 + shift}, items.Column(nil, 1), 1e-12)
	// other columns are untouched
	assert.Equal(t, []float64{7, 7}, items.Column(nil, 0))
	assert.Equal(t, []float64{9, 9}, items.Column(nil, 2))

	// zero noise yields the mean
	err = s.SampleWith(items, 2, []int{0, 1}, []float64{4, 3}, users, 3.5, newHyperParams(t, []float64{1, 1}, 0.5),
		[]float64{0, 0})
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{0.6, -0.2}, items.Column(nil, 2), 1e-12)

	// wrong noise dimension
	err = s.SampleWith(items, 2, nil, nil, users, 3.5, newHyperParams(t, []float64{1, 1}, 0.5), []float64{0})
	assert.True(t, errors.Is(err, errors.NotValid))
}

func TestEntitySampler_NoRatings(t *testing.T) {
	s := NewEntitySampler(2, 2)
	users := newLatentMatrix(t, []float64{1, 0}, []float64{0, 1})
	hyper := newHyperParams(t, []float64{1, -2}, 4)
	mean, cov, err := s.Posterior(nil, nil, users, 3.5, hyper)
	require.NoError(t, err)
	// the prior
	assert.InDeltaSlice(t, []float64{1, -2}, mean.RawVector().Data, 1e-12)
	assert.True(t, mat.EqualApprox(mat.NewSymDense(2, []float64{0.25, 0, 0, 0.25}), cov, 1e-12))

	items := newLatentMatrix(t, []float64{0, 0})
	require.NoError(t, s.SampleWith(items, 0, nil, nil, users, 3.5, hyper, []float64{2, -2}))
	assert.InDeltaSlice(t, []float64{2, -3}, items.Column(nil, 0), 1e-12)
}

func TestEntitySampler_NotPositiveDefinite(t *testing.T) {
	s := NewEntitySampler(2, 2)
	users := newLatentMatrix(t, []float64{1, 0})
	hyper := NewHyperParams(2)
	assert.True(t, errors.Is(hyper.Set(mat.NewVecDense(2, nil), mat.NewSymDense(2, nil)), ErrNotPositiveDefinite))
	hyper.Lambda.Zero()
	// rank one update of a zero precision is singular
	items := newLatentMatrix(t, []float64{0, 0})
	err := s.Sample(items, 0, []int{0}, []float64{4}, users, 3.5, hyper, base.NewRandomGenerator(0))
	assert.True(t, errors.Is(err, ErrNotPositiveDefinite))
}

func TestEntitySampler_Sample(t *testing.T) {
	users := newLatentMatrix(t, []float64{1, 0.5, -1}, []float64{0, 1, 2}, []float64{0.3, 0.3, 0.3})
	hyper := newHyperParams(t, []float64{0.1, 0.2, 0.3}, 2)
	indices, values := []int{0, 2}, []float64{5, 1}
	a := newLatentMatrix(t, []float64{0, 0, 0})
	b := newLatentMatrix(t, []float64{0, 0, 0})
	require.NoError(t, NewEntitySampler(3, 2).Sample(a, 0, indices, values, users, 3, hyper, base.NewRandomGenerator(5)))
	require.NoError(t, NewEntitySampler(3, 2).Sample(b, 0, indices, values, users, 3, hyper, base.NewRandomGenerator(5)))
	assert.Equal(t, a.Column(nil, 0), b.Column(nil, 0))

	// sample moments approach the posterior
	s := NewEntitySampler(3, 2)
	expectedMean, _, err := s.Posterior(indices, values, users, 3, hyper)
	require.NoError(t, err)
	expected := mat.VecDenseCopyOf(expectedMean)
	rng := base.NewRandomGenerator(6)
	sum := make([]float64, 3)
	const n = 10000
	for i := 0; i < n; i++ {
		require.NoError(t, s.Sample(a, 0, indices, values, users, 3, hyper, rng))
		for k, v := range a.Column(nil, 0) {
			sum[k] += v
		}
	}
	for k := range sum {
		assert.InDelta(t, expected.AtVec(k), sum[k]/n, 0.035)
	}
}

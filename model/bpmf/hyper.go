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
	"github.com/gorse-io/bpmf/base"
	"github.com/gorse-io/bpmf/model"
	"github.com/juju/errors"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distmat"
	"gonum.org/v1/gonum/stat/distmv"
)

// ErrNotPositiveDefinite is returned when a precision or scale matrix fails to factorize.
var ErrNotPositiveDefinite = errors.New("matrix is not positive definite")

// NormalWishart is a Normal-Wishart distribution over (mu, Lambda):
//
//	Lambda ~ Wishart(T, DF)
//	mu ~ Normal(Mu, (Kappa·Lambda)⁻¹)
type NormalWishart struct {
	Mu    *mat.VecDense
	Kappa float64
	T     *mat.SymDense
	DF    float64
}

// NormalWishartPosterior updates the prior (mu0, b0, wi, df) by n vectors with mean um
// and population covariance c:
//
//	kappa' = b0 + n
//	mu'    = (b0·mu0 + n·um) / kappa'
//	T'⁻¹   = wi⁻¹ + n·c + (b0·n/kappa')·(mu0 - um)(mu0 - um)ᵀ
//	df'    = df + n
//
// The prior is returned unchanged if n is zero.
func NormalWishartPosterior(n int, um mat.Vector, c mat.Symmetric, mu0 mat.Vector, b0 float64, wi mat.Symmetric, df float64) (NormalWishart, error) {
	dim := wi.SymmetricDim()
	if n == 0 {
		post := NormalWishart{
			Mu:    mat.NewVecDense(dim, nil),
			Kappa: b0,
			T:     mat.NewSymDense(dim, nil),
			DF:    df,
		}
		post.Mu.CopyVec(mu0)
		post.T.CopySym(wi)
		return post, nil
	}
	count := float64(n)
	kappa := b0 + count

	mu := mat.NewVecDense(dim, nil)
	mu.AddScaledVec(mu, b0, mu0)
	mu.AddScaledVec(mu, count, um)
	mu.ScaleVec(1/kappa, mu)

	var chol mat.Cholesky
	if ok := chol.Factorize(wi); !ok {
		return NormalWishart{}, errors.Annotate(ErrNotPositiveDefinite, "prior scale matrix")
	}
	tInv := mat.NewSymDense(dim, nil)
	if err := chol.InverseTo(tInv); err != nil {
		return NormalWishart{}, errors.Annotate(ErrNotPositiveDefinite, err.Error())
	}
	scaled := mat.NewSymDense(dim, nil)
	scaled.ScaleSym(count, c)
	tInv.AddSym(tInv, scaled)
	diff := mat.NewVecDense(dim, nil)
	diff.SubVec(mu0, um)
	tInv.SymRankOne(tInv, b0*count/kappa, diff)

	if ok := chol.Factorize(tInv); !ok {
		return NormalWishart{}, errors.Annotate(ErrNotPositiveDefinite, "posterior scale matrix")
	}
	t := mat.NewSymDense(dim, nil)
	if err := chol.InverseTo(t); err != nil {
		return NormalWishart{}, errors.Annotate(ErrNotPositiveDefinite, err.Error())
	}
	return NormalWishart{Mu: mu, Kappa: kappa, T: t, DF: df + count}, nil
}

// Sample draws (mu, Lambda) from the distribution.
func (nw NormalWishart) Sample(rng base.RandomGenerator) (*mat.VecDense, *mat.SymDense, error) {
	dim := nw.T.SymmetricDim()
	wishart, ok := distmat.NewWishart(nw.T, nw.DF, rng.Rand)
	if !ok {
		return nil, nil, errors.Annotate(ErrNotPositiveDefinite, "wishart scale matrix")
	}
	lambda := mat.NewSymDense(dim, nil)
	wishart.RandSymTo(lambda)
	prec := mat.NewSymDense(dim, nil)
	prec.ScaleSym(nw.Kappa, lambda)
	normal, ok := distmv.NewNormalPrecision(mat.Col(nil, 0, nw.Mu), prec, rng.Rand)
	if !ok {
		return nil, nil, errors.Annotate(ErrNotPositiveDefinite, "normal precision matrix")
	}
	return mat.NewVecDense(dim, normal.Rand(nil)), lambda, nil
}

// HyperParams are the Normal-Wishart prior of one side and the (mu, Lambda) drawn from
// its posterior.
type HyperParams struct {
	// fixed prior
	Mu0 *mat.VecDense
	B0  float64
	WI  *mat.SymDense
	DF  float64

	// sampled
	Mu     *mat.VecDense
	Lambda *mat.SymDense
	// LambdaL is the lower Cholesky factor of Lambda.
	LambdaL  *mat.TriDense
	LambdaMu *mat.VecDense
}

// NewHyperParams creates hyper-parameters with mu0 = 0, b0 = 2, WI = I and df = numLatent.
// The initial draw is mu = 0 and Lambda = I.
func NewHyperParams(numLatent int) *HyperParams {
	wi := mat.NewSymDense(numLatent, nil)
	lambda := mat.NewSymDense(numLatent, nil)
	lambdaL := mat.NewTriDense(numLatent, mat.Lower, nil)
	for i := 0; i < numLatent; i++ {
		wi.SetSym(i, i, 1)
		lambda.SetSym(i, i, 1)
		lambdaL.SetTri(i, i, 1)
	}
	return &HyperParams{
		Mu0:      mat.NewVecDense(numLatent, nil),
		B0:       2,
		WI:       wi,
		DF:       float64(numLatent),
		Mu:       mat.NewVecDense(numLatent, nil),
		Lambda:   lambda,
		LambdaL:  lambdaL,
		LambdaMu: mat.NewVecDense(numLatent, nil),
	}
}

// NumLatent returns the number of latent dimensions.
func (h *HyperParams) NumLatent() int {
	return h.Mu0.Len()
}

// Set replaces the sampled mu and Lambda. Lambda must be positive definite, otherwise
// ErrNotPositiveDefinite is returned and nothing is replaced.
func (h *HyperParams) Set(mu mat.Vector, lambda mat.Symmetric) error {
	var chol mat.Cholesky
	if ok := chol.Factorize(lambda); !ok {
		return errors.Annotate(ErrNotPositiveDefinite, "lambda")
	}
	h.Mu.CopyVec(mu)
	h.Lambda.CopySym(lambda)
	chol.LTo(h.LambdaL)
	h.LambdaMu.MulVec(h.Lambda, h.Mu)
	return nil
}

// Posterior returns the Normal-Wishart posterior given aggregated latent vectors.
func (h *HyperParams) Posterior(stats model.Stats) (NormalWishart, error) {
	return NormalWishartPosterior(stats.N, stats.Mean(), stats.Covariance(), h.Mu0, h.B0, h.WI, h.DF)
}

// Sample draws new mu and Lambda from the posterior given aggregated latent vectors.
func (h *HyperParams) Sample(stats model.Stats, rng base.RandomGenerator) error {
	if stats.NumLatent() != h.NumLatent() {
		return errors.NotValidf("stats of %d dimensions for hyper-parameters of %d dimensions",
			stats.NumLatent(), h.NumLatent())
	}
	post, err := h.Posterior(stats)
	if err != nil {
		return errors.Trace(err)
	}
	mu, lambda, err := post.Sample(rng)
	if err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(h.Set(mu, lambda))
}

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
)

// EntitySampler draws latent vectors from their conditional posteriors. Buffers are
// reused across calls, so a sampler must not be shared between goroutines.
type EntitySampler struct {
	alpha float64

	prec  *mat.SymDense
	cov   *mat.SymDense
	rhs   *mat.VecDense
	mean  *mat.VecDense
	lower *mat.TriDense
	chol  mat.Cholesky
	vec   []float64
	z     []float64
	x     *mat.VecDense
}

// NewEntitySampler creates a sampler for numLatent dimensions and observation precision alpha.
func NewEntitySampler(numLatent int, alpha float64) *EntitySampler {
	vec := make([]float64, numLatent)
	return &EntitySampler{
		alpha: alpha,
		prec:  mat.NewSymDense(numLatent, nil),
		cov:   mat.NewSymDense(numLatent, nil),
		rhs:   mat.NewVecDense(numLatent, nil),
		mean:  mat.NewVecDense(numLatent, nil),
		lower: mat.NewTriDense(numLatent, mat.Lower, nil),
		vec:   vec,
		z:     make([]float64, numLatent),
		x:     mat.NewVecDense(numLatent, nil),
	}
}

// Posterior computes the conditional posterior of an entity given its ratings (indices
// into other, values) and the hyper-parameters of its side:
//
//	P = Lambda + alpha·Σ v·vᵀ
//	Σ = P⁻¹
//	m = Σ·(alpha·Σ (r - meanRating)·v + Lambda·mu)
//
// The returned mean and covariance are owned by the sampler and overwritten by the next call.
func (s *EntitySampler) Posterior(indices []int, values []float64, other *model.LatentMatrix, meanRating float64,
	hyper *HyperParams) (*mat.VecDense, *mat.SymDense, error) {
	if len(indices) != len(values) {
		return nil, nil, errors.NotValidf("%d indices with %d values", len(indices), len(values))
	}
	if other.NumLatent() != len(s.vec) || hyper.NumLatent() != len(s.vec) {
		return nil, nil, errors.NotValidf("latent dimension mismatch")
	}
	s.prec.CopySym(hyper.Lambda)
	s.rhs.CopyVec(hyper.LambdaMu)
	v := mat.NewVecDense(len(s.vec), s.vec)
	for k, j := range indices {
		other.Column(s.vec, j)
		s.prec.SymRankOne(s.prec, s.alpha, v)
		s.rhs.AddScaledVec(s.rhs, s.alpha*(values[k]-meanRating), v)
	}
	if ok := s.chol.Factorize(s.prec); !ok {
		return nil, nil, errors.Trace(ErrNotPositiveDefinite)
	}
	if err := s.chol.InverseTo(s.cov); err != nil {
		return nil, nil, errors.Annotate(ErrNotPositiveDefinite, err.Error())
	}
	s.mean.MulVec(s.cov, s.rhs)
	return s.mean, s.cov, nil
}

// SampleWith writes x = chol(Σ)·z + m into column i of dst, where (m, Σ) is the
// conditional posterior and chol(Σ) its lower Cholesky factor.
func (s *EntitySampler) SampleWith(dst *model.LatentMatrix, i int, indices []int, values []float64,
	other *model.LatentMatrix, meanRating float64, hyper *HyperParams, z []float64) error {
	if len(z) != len(s.vec) {
		return errors.NotValidf("noise of %d dimensions", len(z))
	}
	mean, cov, err := s.Posterior(indices, values, other, meanRating, hyper)
	if err != nil {
		return errors.Trace(err)
	}
	if ok := s.chol.Factorize(cov); !ok {
		return errors.Annotate(ErrNotPositiveDefinite, "posterior covariance")
	}
	s.chol.LTo(s.lower)
	s.x.MulVec(s.lower, mat.NewVecDense(len(z), z))
	s.x.AddVec(s.x, mean)
	dst.SetCol(i, s.x.RawVector().Data)
	return nil
}

// Sample draws the latent vector of entity i with standard normal noise from rng.
func (s *EntitySampler) Sample(dst *model.LatentMatrix, i int, indices []int, values []float64,
	other *model.LatentMatrix, meanRating float64, hyper *HyperParams, rng base.RandomGenerator) error {
	rng.FillNormal(s.z, 0, 1)
	return s.SampleWith(dst, i, indices, values, other, meanRating, hyper, s.z)
}

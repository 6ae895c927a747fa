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

package model

import (
	"math"

	"github.com/juju/errors"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Side identifies one of the two factor matrices.
type Side int

const (
	Users Side = iota
	Items
)

func (side Side) String() string {
	switch side {
	case Users:
		return "users"
	case Items:
		return "items"
	default:
		return "unknown"
	}
}

// Opposite returns the other side.
func (side Side) Opposite() Side {
	if side == Users {
		return Items
	}
	return Users
}

// LatentMatrix stores one latent vector per entity as columns of a dense matrix.
type LatentMatrix struct {
	*mat.Dense
}

// NewLatentMatrix creates a zero matrix of numLatent rows and n columns.
func NewLatentMatrix(numLatent, n int) (*LatentMatrix, error) {
	if numLatent <= 0 || n <= 0 {
		return nil, errors.NotValidf("latent matrix of size %dx%d", numLatent, n)
	}
	return &LatentMatrix{Dense: mat.NewDense(numLatent, n, nil)}, nil
}

// NumLatent returns the number of latent dimensions.
func (m *LatentMatrix) NumLatent() int {
	r, _ := m.Dims()
	return r
}

// Len returns the number of entities.
func (m *LatentMatrix) Len() int {
	_, c := m.Dims()
	return c
}

// Vector returns a view of the latent vector of entity j.
func (m *LatentMatrix) Vector(j int) mat.Vector {
	return m.ColView(j)
}

// Column copies the latent vector of entity j into dst, allocating if dst is nil.
func (m *LatentMatrix) Column(dst []float64, j int) []float64 {
	return mat.Col(dst, j, m.Dense)
}

// Norm returns the Frobenius norm.
func (m *LatentMatrix) Norm() float64 {
	return mat.Norm(m.Dense, 2)
}

// PartialStats aggregates the latent vectors of entities in [begin, end).
func (m *LatentMatrix) PartialStats(begin, end int) Stats {
	stats := NewStats(m.NumLatent())
	vec := make([]float64, m.NumLatent())
	x := mat.NewVecDense(len(vec), vec)
	for j := begin; j < end; j++ {
		m.Column(vec, j)
		stats.N++
		floats.Add(stats.Sum, vec)
		stats.Scatter.SymRankOne(stats.Scatter, 1, x)
		stats.SqNorm += floats.Dot(vec, vec)
	}
	return stats
}

// Stats are sufficient statistics of a set of latent vectors. Stats of disjoint sets
// are merged by Add.
type Stats struct {
	N       int
	Sum     []float64
	Scatter *mat.SymDense
	SqNorm  float64
}

// NewStats creates empty statistics.
func NewStats(numLatent int) Stats {
	return Stats{
		Sum:     make([]float64, numLatent),
		Scatter: mat.NewSymDense(numLatent, nil),
	}
}

// NumLatent returns the number of latent dimensions.
func (s Stats) NumLatent() int {
	return len(s.Sum)
}

// Add merges other into s.
func (s *Stats) Add(other Stats) {
	s.N += other.N
	floats.Add(s.Sum, other.Sum)
	s.Scatter.AddSym(s.Scatter, other.Scatter)
	s.SqNorm += other.SqNorm
}

// Clone returns a deep copy.
func (s Stats) Clone() Stats {
	c := NewStats(s.NumLatent())
	c.Add(s)
	return c
}

// Mean returns the empirical mean. Zero if N is zero.
func (s Stats) Mean() *mat.VecDense {
	mean := mat.NewVecDense(s.NumLatent(), nil)
	if s.N > 0 {
		mean.ScaleVec(1/float64(s.N), mat.NewVecDense(s.NumLatent(), s.Sum))
	}
	return mean
}

// Covariance returns the population covariance. Zero if N is zero.
//
//	C = Scatter/N - mean·meanᵀ
func (s Stats) Covariance() *mat.SymDense {
	cov := mat.NewSymDense(s.NumLatent(), nil)
	if s.N > 0 {
		cov.ScaleSym(1/float64(s.N), s.Scatter)
		cov.SymRankOne(cov, -1, s.Mean())
	}
	return cov
}

// Norm returns the Frobenius norm of the aggregated vectors.
func (s Stats) Norm() float64 {
	return math.Sqrt(s.SqNorm)
}

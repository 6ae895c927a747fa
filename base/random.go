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

package base

import (
	"math/rand/v2"
)

// RandomGenerator is the random generator for gorse. The embedded *rand.Rand also
// satisfies rand.Source, so a RandomGenerator can be handed to gonum distributions.
type RandomGenerator struct {
	*rand.Rand
	seed uint64
}

// NewRandomGenerator creates a RandomGenerator.
func NewRandomGenerator(seed uint64) RandomGenerator {
	return RandomGenerator{
		Rand: rand.New(rand.NewPCG(seed, splitMix64(seed))),
		seed: seed,
	}
}

// Seed returns the seed of the generator.
func (rng RandomGenerator) Seed() uint64 {
	return rng.seed
}

// Derive creates an independent generator for a sub-stream identified by keys. The
// derived stream depends only on the seed and the keys, not on how many values have
// been drawn from rng, so concurrent jobs can draw reproducible numbers in any order.
func (rng RandomGenerator) Derive(keys ...uint64) RandomGenerator {
	state := splitMix64(rng.seed)
	for _, key := range keys {
		state = splitMix64(state ^ splitMix64(key))
	}
	return RandomGenerator{
		Rand: rand.New(rand.NewPCG(state, splitMix64(state))),
		seed: state,
	}
}

// NormalVector64 makes a vec filled with normal random floats.
func (rng RandomGenerator) NormalVector64(size int, mean, stdDev float64) []float64 {
	ret := make([]float64, size)
	rng.FillNormal(ret, mean, stdDev)
	return ret
}

// FillNormal fills vec with normal random floats.
func (rng RandomGenerator) FillNormal(vec []float64, mean, stdDev float64) {
	for i := range vec {
		vec[i] = rng.NormFloat64()*stdDev + mean
	}
}

// NormalMatrix64 makes a matrix filled with normal random floats.
func (rng RandomGenerator) NormalMatrix64(row, col int, mean, stdDev float64) [][]float64 {
	ret := make([][]float64, row)
	for i := range ret {
		ret[i] = rng.NormalVector64(col, mean, stdDev)
	}
	return ret
}

// splitMix64 is the finalizer of the SplitMix64 generator.
func splitMix64(x uint64) uint64 {
	x += 0x9e3779b97f4a7c15
	x = (x ^ (x >> 30)) * 0xbf58476d1ce4e5b9
	x = (x ^ (x >> 27)) * 0x94d049bb133111eb
	return x ^ (x >> 31)
}

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

package collective

import (
	"context"

	"github.com/gorse-io/bpmf/common/parallel"
	"github.com/gorse-io/bpmf/model"
	"github.com/juju/errors"
	"github.com/samber/lo"
)

// Collective synchronizes latent matrices and their statistics between partitions of
// a sampling run. Each partition samples the entities in its owned range and holds a
// replica of the rest.
type Collective interface {
	// Rank returns the index of this partition.
	Rank() int
	// Size returns the number of partitions.
	Size() int
	// Broadcast publishes owned columns of m and fills the other columns with those
	// published by other partitions. It returns once m is complete.
	Broadcast(ctx context.Context, side model.Side, iteration int, m *model.LatentMatrix, owned Range) error
	// Reduce merges partial statistics of all partitions. Every partition receives
	// identical results.
	Reduce(ctx context.Context, side model.Side, iteration int, local model.Stats) (model.Stats, error)
	Close() error
}

// Range is the half-open interval [Begin, End).
type Range struct {
	Begin int
	End   int
}

// Len returns the number of indices.
func (r Range) Len() int {
	return r.End - r.Begin
}

// Contains checks whether i is in the range.
func (r Range) Contains(i int) bool {
	return r.Begin <= i && i < r.End
}

// Partition splits [0, n) into size contiguous ranges of balanced lengths and returns
// the range of rank.
func Partition(n, size, rank int) (Range, error) {
	if size <= 0 || rank < 0 || rank >= size {
		return Range{}, errors.NotValidf("partition %d of %d", rank, size)
	}
	chunks := parallel.Split(lo.Range(n), size)
	if rank >= len(chunks) {
		// fewer entities than partitions
		return Range{Begin: n, End: n}, nil
	}
	chunk := chunks[rank]
	return Range{Begin: chunk[0], End: chunk[len(chunk)-1] + 1}, nil
}

// Local is the collective of a single partition.
type Local struct{}

func NewLocal() *Local {
	return &Local{}
}

func (l *Local) Rank() int {
	return 0
}

func (l *Local) Size() int {
	return 1
}

// Broadcast does nothing since the partition owns every column.
func (l *Local) Broadcast(ctx context.Context, _ model.Side, _ int, m *model.LatentMatrix, owned Range) error {
	if owned.Begin != 0 || owned.End != m.Len() {
		return errors.NotValidf("range [%d, %d) of %d columns", owned.Begin, owned.End, m.Len())
	}
	return errors.Trace(ctx.Err())
}

// Reduce returns the local statistics.
func (l *Local) Reduce(ctx context.Context, _ model.Side, _ int, local model.Stats) (model.Stats, error) {
	if err := ctx.Err(); err != nil {
		return model.Stats{}, errors.Trace(err)
	}
	return local, nil
}

func (l *Local) Close() error {
	return nil
}

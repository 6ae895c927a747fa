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
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gorse-io/bpmf/model"
	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/mat"
)

func TestPartition(t *testing.T) {
	var ranges []Range
	for rank := 0; rank < 3; rank++ {
		r, err := Partition(10, 3, rank)
		require.NoError(t, err)
		ranges = append(ranges, r)
	}
	assert.Equal(t, []Range{{0, 4}, {4, 7}, {7, 10}}, ranges)
	assert.Equal(t, 4, ranges[0].Len())
	assert.True(t, ranges[1].Contains(4))
	assert.False(t, ranges[1].Contains(7))

	// more partitions than entities
	r, err := Partition(2, 3, 2)
	require.NoError(t, err)
	assert.Equal(t, Range{2, 2}, r)
	assert.Zero(t, r.Len())

	_, err = Partition(10, 0, 0)
	assert.True(t, errors.Is(err, errors.NotValid))
	_, err = Partition(10, 2, 2)
	assert.True(t, errors.Is(err, errors.NotValid))
}

func newLatent(t *testing.T, columns ...[]float64) *model.LatentMatrix {
	m, err := model.NewLatentMatrix(len(columns[0]), len(columns))
	require.NoError(t, err)
	for j, column := range columns {
		m.SetCol(j, column)
	}
	return m
}

func TestLocal(t *testing.T) {
	l := NewLocal()
	assert.Equal(t, 0, l.Rank())
	assert.Equal(t, 1, l.Size())
	m := newLatent(t, []float64{1, 2}, []float64{3, 4})
	assert.NoError(t, l.Broadcast(context.Background(), model.Items, 0, m, Range{0, 2}))
	assert.True(t, errors.Is(l.Broadcast(context.Background(), model.Items, 0, m, Range{0, 1}), errors.NotValid))
	stats := m.PartialStats(0, 2)
	reduced, err := l.Reduce(context.Background(), model.Items, 0, stats)
	assert.NoError(t, err)
	assert.Equal(t, stats, reduced)
	// canceled
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, l.Broadcast(ctx, model.Users, 0, m, Range{0, 2}), context.Canceled)
	_, err = l.Reduce(ctx, model.Users, 0, stats)
	assert.ErrorIs(t, err, context.Canceled)
	assert.NoError(t, l.Close())
}

func TestEncodeStats(t *testing.T) {
	m := newLatent(t, []float64{1, 2, 3}, []float64{-1, 0.5, 2})
	stats := m.PartialStats(0, 2)
	decoded, err := DecodeStats(EncodeStats(stats), 3)
	require.NoError(t, err)
	assert.Equal(t, stats.N, decoded.N)
	assert.Equal(t, stats.Sum, decoded.Sum)
	assert.Equal(t, stats.SqNorm, decoded.SqNorm)
	assert.True(t, mat.Equal(stats.Scatter, decoded.Scatter))
	// wrong dimension
	_, err = DecodeStats(EncodeStats(stats), 2)
	assert.True(t, errors.Is(err, errors.NotValid))
}

func newRedisGroup(t *testing.T, server *miniredis.Miniredis, size int, timeout time.Duration) []*Redis {
	group := make([]*Redis, size)
	for rank := range group {
		r, err := NewRedis(RedisOptions{
			URL:     "redis://" + server.Addr(),
			RunID:   t.Name(),
			Rank:    rank,
			Size:    size,
			Timeout: timeout,
		})
		require.NoError(t, err)
		t.Cleanup(func() { assert.NoError(t, r.Close()) })
		group[rank] = r
	}
	return group
}

func TestNewRedis(t *testing.T) {
	_, err := NewRedis(RedisOptions{URL: "redis://localhost:6379", RunID: "a", Rank: 2, Size: 2})
	assert.True(t, errors.Is(err, errors.NotValid))
	_, err = NewRedis(RedisOptions{URL: "redis://localhost:6379", Size: 1})
	assert.True(t, errors.Is(err, errors.NotValid))
	_, err = NewRedis(RedisOptions{URL: "mysql://localhost:3306", RunID: "a", Size: 1})
	assert.Error(t, err)
	r, err := NewRedis(RedisOptions{URL: "redis://localhost:6379", RunID: "a", Rank: 1, Size: 2})
	require.NoError(t, err)
	assert.Equal(t, 1, r.Rank())
	assert.Equal(t, 2, r.Size())
	assert.Equal(t, DefaultPrefix, r.opts.Prefix)
	assert.Equal(t, DefaultTTL, r.opts.TTL)
	assert.Equal(t, "bpmf:a:items:3:columns", r.key(model.Items, 3, "columns"))
	assert.NoError(t, r.Close())
}

func TestRedis_Broadcast(t *testing.T) {
	server := miniredis.RunT(t)
	group := newRedisGroup(t, server, 2, time.Minute)
	// each partition only knows its own columns
	replicas := []*model.LatentMatrix{
		newLatent(t, []float64{1, 2}, []float64{3, 4}, []float64{0, 0}),
		newLatent(t, []float64{0, 0}, []float64{0, 0}, []float64{5, 6}),
	}
	owned := []Range{{0, 2}, {2, 3}}
	var g errgroup.Group
	for rank := range group {
		g.Go(func() error {
			return group[rank].Broadcast(context.Background(), model.Items, 7, replicas[rank], owned[rank])
		})
	}
	require.NoError(t, g.Wait())
	expected := newLatent(t, []float64{1, 2}, []float64{3, 4}, []float64{5, 6})
	for _, replica := range replicas {
		assert.True(t, mat.Equal(expected, replica))
	}
	// keys expire
	assert.Greater(t, server.TTL("bpmf:"+t.Name()+":items:7:columns"), time.Duration(0))
	assert.Greater(t, server.TTL("bpmf:"+t.Name()+":items:7:columns:barrier"), time.Duration(0))
}

func TestRedis_Reduce(t *testing.T) {
	server := miniredis.RunT(t)
	group := newRedisGroup(t, server, 3, time.Minute)
	m := newLatent(t, []float64{1, 2}, []float64{3, 4}, []float64{-1, 0}, []float64{2, 2})
	owned := []Range{{0, 2}, {2, 3}, {3, 4}}
	results := make([]model.Stats, len(group))
	var g errgroup.Group
	for rank := range group {
		g.Go(func() error {
			var err error
			results[rank], err = group[rank].Reduce(context.Background(), model.Users, 0,
				m.PartialStats(owned[rank].Begin, owned[rank].End))
			return err
		})
	}
	require.NoError(t, g.Wait())
	expected := m.PartialStats(0, 4)
	for _, stats := range results {
		assert.Equal(t, expected.N, stats.N)
		assert.InDeltaSlice(t, expected.Sum, stats.Sum, 1e-12)
		assert.InDelta(t, expected.SqNorm, stats.SqNorm, 1e-12)
		assert.True(t, mat.EqualApprox(expected.Scatter, stats.Scatter, 1e-12))
		// identical on every partition
		assert.Equal(t, results[0], stats)
	}
}

func TestRedis_Timeout(t *testing.T) {
	server := miniredis.RunT(t)
	group := newRedisGroup(t, server, 2, 100*time.Millisecond)
	m := newLatent(t, []float64{1, 2}, []float64{3, 4})
	// the other partition never arrives
	err := group[0].Broadcast(context.Background(), model.Users, 0, m, Range{0, 1})
	assert.True(t, errors.Is(err, errors.Timeout), err)
	_, err = group[0].Reduce(context.Background(), model.Users, 0, m.PartialStats(0, 1))
	assert.True(t, errors.Is(err, errors.Timeout), err)
}

func TestRedis_Cancel(t *testing.T) {
	server := miniredis.RunT(t)
	group := newRedisGroup(t, server, 2, time.Minute)
	m := newLatent(t, []float64{1, 2}, []float64{3, 4})
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	err := group[1].Broadcast(ctx, model.Users, 0, m, Range{1, 2})
	assert.Error(t, err)
}

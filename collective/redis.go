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
	"fmt"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/gorse-io/bpmf/base/encoding"
	"github.com/gorse-io/bpmf/base/log"
	"github.com/gorse-io/bpmf/model"
	"github.com/juju/errors"
	"github.com/redis/go-redis/extra/redisotel/v9"
	"github.com/redis/go-redis/v9"
	"github.com/samber/lo"
	"go.uber.org/zap"
)

const (
	DefaultPrefix       = "bpmf"
	DefaultTTL          = time.Hour
	DefaultTimeout      = 10 * time.Minute
	DefaultPollInterval = 10 * time.Millisecond
)

type RedisOptions struct {
	URL          string
	Prefix       string
	RunID        string
	Rank         int
	Size         int
	TTL          time.Duration
	Timeout      time.Duration
	PollInterval time.Duration
}

// Redis synchronizes partitions through a Redis server. Columns and statistics of
// every (side, iteration) are published into hashes keyed by entity index or rank,
// and partitions rendezvous on a set of arrived ranks.
type Redis struct {
	client *redis.Client
	opts   RedisOptions
}

// NewRedis connects to the Redis server at opts.URL.
func NewRedis(opts RedisOptions) (*Redis, error) {
	if opts.Size <= 0 || opts.Rank < 0 || opts.Rank >= opts.Size {
		return nil, errors.NotValidf("partition %d of %d", opts.Rank, opts.Size)
	}
	if opts.RunID == "" {
		return nil, errors.NotValidf("empty run id")
	}
	opts.Prefix = lo.CoalesceOrEmpty(opts.Prefix, DefaultPrefix)
	opts.TTL = lo.CoalesceOrEmpty(opts.TTL, DefaultTTL)
	opts.Timeout = lo.CoalesceOrEmpty(opts.Timeout, DefaultTimeout)
	opts.PollInterval = lo.CoalesceOrEmpty(opts.PollInterval, DefaultPollInterval)
	redisOpts, err := redis.ParseURL(opts.URL)
	if err != nil {
		return nil, errors.Annotatef(err, "parse redis url %s", opts.URL)
	}
	client := redis.NewClient(redisOpts)
	if err = redisotel.InstrumentTracing(client); err != nil {
		return nil, errors.Trace(err)
	}
	return &Redis{client: client, opts: opts}, nil
}

func (r *Redis) Rank() int {
	return r.opts.Rank
}

func (r *Redis) Size() int {
	return r.opts.Size
}

func (r *Redis) Close() error {
	return r.client.Close()
}

func (r *Redis) key(side model.Side, iteration int, kind string) string {
	return fmt.Sprintf("%s:%s:%s:%d:%s", r.opts.Prefix, r.opts.RunID, side, iteration, kind)
}

// barrier waits until all partitions have arrived at key. Arrivals are stored in a set
// so a retried arrival is counted once.
func (r *Redis) barrier(ctx context.Context, key string) error {
	pipe := r.client.TxPipeline()
	pipe.SAdd(ctx, key, r.opts.Rank)
	pipe.Expire(ctx, key, r.opts.TTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return errors.Trace(err)
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.opts.PollInterval
	b.MaxInterval = time.Second
	start := time.Now()
	_, err := backoff.Retry(ctx, func() (int64, error) {
		n, err := r.client.SCard(ctx, key).Result()
		if err != nil {
			return 0, backoff.Permanent(errors.Trace(err))
		}
		if n < int64(r.opts.Size) {
			return n, errors.Timeoutf("%d of %d partitions at barrier %s", n, r.opts.Size, key)
		}
		return n, nil
	}, backoff.WithBackOff(b), backoff.WithMaxElapsedTime(r.opts.Timeout))
	if err != nil {
		return errors.Trace(err)
	}
	log.Logger().Debug("pass barrier", zap.String("key", key), zap.Duration("wait", time.Since(start)))
	return nil
}

func (r *Redis) Broadcast(ctx context.Context, side model.Side, iteration int, m *model.LatentMatrix, owned Range) error {
	if owned.Begin < 0 || owned.End > m.Len() || owned.Begin > owned.End {
		return errors.NotValidf("range [%d, %d) of %d columns", owned.Begin, owned.End, m.Len())
	}
	key := r.key(side, iteration, "columns")
	// publish owned columns
	vec := make([]float64, m.NumLatent())
	pipe := r.client.TxPipeline()
	if owned.Len() > 0 {
		values := make([]any, 0, 2*owned.Len())
		for j := owned.Begin; j < owned.End; j++ {
			values = append(values, strconv.Itoa(j), encoding.EncodeVector(m.Column(vec, j)))
		}
		pipe.HSet(ctx, key, values...)
	}
	pipe.Expire(ctx, key, r.opts.TTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return errors.Annotatef(err, "publish %s", key)
	}
	if err := r.barrier(ctx, key+":barrier"); err != nil {
		return errors.Trace(err)
	}
	// fetch foreign columns
	fields := make([]string, 0, m.Len()-owned.Len())
	for j := 0; j < m.Len(); j++ {
		if !owned.Contains(j) {
			fields = append(fields, strconv.Itoa(j))
		}
	}
	if len(fields) == 0 {
		return nil
	}
	values, err := r.client.HMGet(ctx, key, fields...).Result()
	if err != nil {
		return errors.Annotatef(err, "fetch %s", key)
	}
	for i, value := range values {
		data, ok := value.(string)
		if !ok {
			return errors.NotFoundf("column %s of %s", fields[i], key)
		}
		if err = encoding.DecodeVector([]byte(data), vec); err != nil {
			return errors.Annotatef(err, "column %s of %s", fields[i], key)
		}
		j, _ := strconv.Atoi(fields[i])
		m.SetCol(j, vec)
	}
	return nil
}

func (r *Redis) Reduce(ctx context.Context, side model.Side, iteration int, local model.Stats) (model.Stats, error) {
	key := r.key(side, iteration, "stats")
	pipe := r.client.TxPipeline()
	pipe.HSet(ctx, key, strconv.Itoa(r.opts.Rank), EncodeStats(local))
	pipe.Expire(ctx, key, r.opts.TTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return model.Stats{}, errors.Annotatef(err, "publish %s", key)
	}
	if err := r.barrier(ctx, key+":barrier"); err != nil {
		return model.Stats{}, errors.Trace(err)
	}
	ranks := lo.Map(lo.Range(r.opts.Size), func(rank int, _ int) string {
		return strconv.Itoa(rank)
	})
	values, err := r.client.HMGet(ctx, key, ranks...).Result()
	if err != nil {
		return model.Stats{}, errors.Annotatef(err, "fetch %s", key)
	}
	// sum in rank order so that every partition gets identical results
	total := model.NewStats(local.NumLatent())
	for rank, value := range values {
		data, ok := value.(string)
		if !ok {
			return model.Stats{}, errors.NotFoundf("stats of partition %d in %s", rank, key)
		}
		stats, err := DecodeStats([]byte(data), local.NumLatent())
		if err != nil {
			return model.Stats{}, errors.Annotatef(err, "stats of partition %d in %s", rank, key)
		}
		total.Add(stats)
	}
	return total, nil
}

// EncodeStats encodes statistics as little-endian float64s:
//
//	N, SqNorm, Sum[0..n), Scatter[0..n·n)
func EncodeStats(stats model.Stats) []byte {
	n := stats.NumLatent()
	v := make([]float64, 0, 2+n+n*n)
	v = append(v, float64(stats.N), stats.SqNorm)
	v = append(v, stats.Sum...)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			v = append(v, stats.Scatter.At(i, j))
		}
	}
	return encoding.EncodeVector(v)
}

// DecodeStats decodes statistics of numLatent dimensions.
func DecodeStats(data []byte, numLatent int) (model.Stats, error) {
	n := numLatent
	v := make([]float64, 2+n+n*n)
	if err := encoding.DecodeVector(data, v); err != nil {
		return model.Stats{}, errors.Trace(err)
	}
	stats := model.NewStats(n)
	stats.N = int(v[0])
	stats.SqNorm = v[1]
	copy(stats.Sum, v[2:2+n])
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			stats.Scatter.SetSym(i, j, v[2+n+i*n+j])
		}
	}
	return stats, nil
}

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

package progress

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/atomic"
)

type spanKeyType string

var spanKeyName = spanKeyType(uuid.New().String())

type Status string

const (
	StatusRunning  Status = "Running"
	StatusComplete Status = "Complete"
	StatusFailed   Status = "Failed"
)

// Tracer keeps root spans by name.
type Tracer struct {
	name  string
	spans sync.Map
}

func NewTracer(name string) *Tracer {
	return &Tracer{name: name}
}

// Start creates a root span.
func (t *Tracer) Start(ctx context.Context, name string, total int) (context.Context, *Span) {
	span := newSpan(name, total)
	t.spans.Store(name, span)
	return context.WithValue(ctx, spanKeyName, span), span
}

// List returns progress of root spans.
func (t *Tracer) List() []Progress {
	var progress []Progress
	t.spans.Range(func(_, value interface{}) bool {
		p := value.(*Span).Progress()
		p.Tracer = t.name
		progress = append(progress, p)
		return true
	})
	return progress
}

// Span tracks a unit of work. Counters may be updated from multiple goroutines.
type Span struct {
	name     string
	total    int
	status   atomic.String
	count    atomic.Int64
	err      atomic.Error
	start    time.Time
	finish   atomic.Time
	mu       sync.Mutex
	children []*Span
}

func newSpan(name string, total int) *Span {
	span := &Span{name: name, total: total, start: time.Now()}
	span.status.Store(string(StatusRunning))
	return span
}

func (s *Span) Add(n int) {
	s.count.Add(int64(n))
}

func (s *Span) End() {
	if Status(s.status.Load()) == StatusRunning {
		s.status.Store(string(StatusComplete))
		s.finish.Store(time.Now())
	}
}

func (s *Span) Fail(err error) {
	s.err.Store(err)
	s.status.Store(string(StatusFailed))
	s.finish.Store(time.Now())
}

func (s *Span) Count() int {
	return int(s.count.Load())
}

// Elapsed returns the duration from start to finish, or to now if the span is running.
func (s *Span) Elapsed() time.Duration {
	if Status(s.status.Load()) == StatusRunning {
		return time.Since(s.start)
	}
	return s.finish.Load().Sub(s.start)
}

// Throughput returns count per second.
func (s *Span) Throughput() float64 {
	elapsed := s.Elapsed().Seconds()
	if elapsed <= 0 {
		return 0
	}
	return float64(s.Count()) / elapsed
}

func (s *Span) Progress() Progress {
	p := Progress{
		Name:      s.name,
		Status:    Status(s.status.Load()),
		Count:     s.Count(),
		Total:     s.total,
		StartTime: s.start,
	}
	if err := s.err.Load(); err != nil {
		p.Error = err.Error()
	}
	if p.Status != StatusRunning {
		p.FinishTime = s.finish.Load()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, child := range s.children {
		p.Children = append(p.Children, child.Progress())
	}
	return p
}

// Start creates a span under the span carried by ctx. The span is detached if ctx
// carries none.
func Start(ctx context.Context, name string, total int) (context.Context, *Span) {
	childSpan := newSpan(name, total)
	if span, ok := ctx.Value(spanKeyName).(*Span); ok {
		span.mu.Lock()
		span.children = append(span.children, childSpan)
		span.mu.Unlock()
	}
	return context.WithValue(ctx, spanKeyName, childSpan), childSpan
}

// Fail marks the span carried by ctx as failed.
func Fail(ctx context.Context, err error) {
	if span, ok := ctx.Value(spanKeyName).(*Span); ok {
		span.Fail(err)
	}
}

type Progress struct {
	Tracer     string
	Name       string
	Status     Status
	Error      string
	Count      int
	Total      int
	StartTime  time.Time
	FinishTime time.Time
	Children   []Progress
}

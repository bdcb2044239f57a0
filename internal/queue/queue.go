// Copyright 2023 The Cockroach Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
//
// SPDX-License-Identifier: Apache-2.0

// Package queue is the single-producer/single-consumer handoff between
// the Grabber and the SQL Writer (spec §4.5). The original C
// implementation linked Updates onto a manually locked list and signaled
// a counting semaphore; here a buffered channel plays both roles at
// once, with a gauge tracking depth for observability.
package queue

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/Smithsonian/smax-postgres/internal/types"
)

var queueDepth = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "smax_postgres",
	Subsystem: "queue",
	Name:      "depth",
	Help:      "Number of samples waiting to be written to the database.",
})

// Queue is a bounded FIFO of samples awaiting a database write.
type Queue struct {
	ch chan *types.Sample
}

// New returns a Queue that can hold up to capacity unconsumed samples
// before Push blocks.
func New(capacity int) *Queue {
	return &Queue{ch: make(chan *types.Sample, capacity)}
}

// Push enqueues sample, blocking if the queue is full, until ctx is
// done. Ownership of sample passes to the queue; the caller must not
// retain a reference to it afterwards.
func (q *Queue) Push(ctx context.Context, sample *types.Sample) error {
	select {
	case q.ch <- sample:
		queueDepth.Set(float64(len(q.ch)))
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Pop removes and returns the next sample, blocking until one is
// available or ctx is done.
func (q *Queue) Pop(ctx context.Context) (*types.Sample, error) {
	select {
	case s := <-q.ch:
		queueDepth.Set(float64(len(q.ch)))
		return s, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Len reports the number of samples currently queued.
func (q *Queue) Len() int {
	return len(q.ch)
}

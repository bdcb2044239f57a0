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

package writer

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	rowsWritten = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "smax_postgres",
		Subsystem: "writer",
		Name:      "rows_written_total",
		Help:      "Number of data rows successfully committed.",
	})

	samplesDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "smax_postgres",
		Subsystem: "writer",
		Name:      "samples_dropped_total",
		Help:      "Number of samples discarded instead of written, by reason.",
	}, []string{"reason"})

	schemaChanges = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "smax_postgres",
		Subsystem: "writer",
		Name:      "schema_changes_total",
		Help:      "Number of schema-evolution statements executed, by kind.",
	}, []string{"kind"})

	writeLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "smax_postgres",
		Subsystem: "writer",
		Name:      "write_seconds",
		Help:      "Time to fully process one sample, from dequeue to commit.",
		Buckets:   prometheus.DefBuckets,
	})
)

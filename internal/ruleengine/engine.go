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

// Package ruleengine wraps a config.RuleSet with a per-id result cache
// (spec §4.1, invariant I6): pattern matching against the rule lists
// is comparatively expensive, but a given variable id's properties
// don't change between rule-set reloads, so the first resolution for
// an id is memoized.
package ruleengine

import (
	"sync"
	"time"

	"github.com/Smithsonian/smax-postgres/internal/config"
	"github.com/Smithsonian/smax-postgres/internal/types"
)

// Engine answers "is this variable logged, and at what stride" queries
// against a rule set, caching the answer per id until the rule set is
// swapped out wholesale by Reload.
type Engine struct {
	mu    sync.RWMutex
	rules *config.RuleSet
	cache map[string]types.LoggingProperties
}

// New returns an Engine backed by rules. The Engine keeps a pointer to
// rules and does not copy it; callers must not mutate rules directly
// after handing it to an Engine — use Reload instead.
func New(rules *config.RuleSet) *Engine {
	return &Engine{
		rules: rules,
		cache: make(map[string]types.LoggingProperties),
	}
}

// Reload swaps in a new rule set and discards the cache, since stale
// entries would otherwise outlive the rules that produced them
// (spec §4.1, "reconfig" / R2).
func (e *Engine) Reload(rules *config.RuleSet) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rules = rules
	e.cache = make(map[string]types.LoggingProperties)
}

// Properties returns the cached (or freshly resolved) LoggingProperties
// for id.
func (e *Engine) Properties(id string) types.LoggingProperties {
	e.mu.RLock()
	if p, ok := e.cache[id]; ok {
		e.mu.RUnlock()
		return p
	}
	e.mu.RUnlock()

	e.mu.Lock()
	defer e.mu.Unlock()
	if p, ok := e.cache[id]; ok {
		return p
	}
	force, exclude, sampling := e.rules.Resolve(id)
	p := types.LoggingProperties{Force: force, Exclude: exclude, Sampling: sampling}
	e.cache[id] = p
	return p
}

// IsLogging reports whether id should be logged given its update age.
// A forced variable is always logged; an excluded variable never is;
// otherwise a variable is logged as long as it was updated within
// maxAge of now (spec §4.6, UpdateChanged's "from" filter). maxAge <= 0
// disables the age filter.
func (e *Engine) IsLogging(id string, updateTime time.Time, now time.Time, maxAge time.Duration) bool {
	p := e.Properties(id)
	if p.Force {
		return true
	}
	if p.Exclude {
		return false
	}
	if maxAge <= 0 {
		return true
	}
	return now.Sub(updateTime) <= maxAge
}

// SampleCount returns the number of values that will actually be
// written for sample, after applying this id's configured downsampling
// stride (spec P6). The sample's own Sampling field is overwritten with
// the resolved stride as a side effect, since the Grabber constructs
// samples before it knows the rule engine's verdict.
func (e *Engine) SampleCount(sample *types.Sample) int {
	p := e.Properties(sample.ID)
	if p.Sampling < 1 {
		p.Sampling = 1
	}
	sample.Sampling = p.Sampling
	return sample.SampleCount()
}

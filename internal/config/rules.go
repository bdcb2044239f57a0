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

package config

import (
	"github.com/gobwas/glob"
	"github.com/pkg/errors"
)

// compiledRule pairs a parsed glob with the integer value carried by
// the rule that produced it (a boolean flag for excludes/force rules,
// a stride for sampling rules).
type compiledRule struct {
	pattern string
	g       glob.Glob
	value   int
}

// ruleList is an ordered, prepend-only list of pattern rules: the head
// of the list is tried first, so the most recently added rule takes
// priority (spec §3, Pattern rule; this mirrors logger-config.c's
// add_rule(), which links new entries at the head of the chain).
type ruleList struct {
	rules []compiledRule
}

// prepend compiles pattern and inserts it at the head of the list. An
// invalid glob pattern is reported but otherwise ignored, matching the
// config parser's posture of warning and continuing (spec §7).
func (l *ruleList) prepend(pattern string, value int) error {
	g, err := glob.Compile(pattern, '/')
	if err != nil {
		return errors.Wrapf(err, "invalid pattern %q", pattern)
	}
	l.rules = append([]compiledRule{{pattern: pattern, g: g, value: value}}, l.rules...)
	return nil
}

// firstMatch scans head to tail and returns the value of the first
// rule whose pattern matches id, and whether any rule matched.
func (l *ruleList) firstMatch(id string) (int, bool) {
	for _, r := range l.rules {
		if r.g.Match(id) {
			return r.value, true
		}
	}
	return 0, false
}

// RuleSet holds the three independent ordered rule lists described by
// spec §3/§4.1: excludes, forces and samplings. The zero value is
// usable but has no hardcoded excludes until Reset is called.
type RuleSet struct {
	excludes  ruleList
	forces    ruleList
	samplings ruleList
}

// idSeparator is the character joining a variable's table and key
// components, e.g. "weather:temperature". Reset uses it to build the
// hardcoded exclude patterns.
const idSeparator = ":"

// Reset discards all rules and re-installs the two hardcoded exclude
// patterns that always apply unless overridden by a later include or
// always rule (spec §4.1): "_*"/"*<sep>_*" for temp variables, and
// "<*"/"*<sep><*" for meta variables.
func (rs *RuleSet) Reset() {
	rs.excludes = ruleList{}
	rs.forces = ruleList{}
	rs.samplings = ruleList{}

	_ = rs.excludes.prepend("*"+idSeparator+"<*", 1)
	_ = rs.excludes.prepend("<*", 1)
	_ = rs.excludes.prepend("*"+idSeparator+"_*", 1)
	_ = rs.excludes.prepend("_*", 1)
}

// AddExclude adds an exclude (ival=1) or include (ival=0) rule.
func (rs *RuleSet) AddExclude(pattern string, excluded bool) error {
	v := 0
	if excluded {
		v = 1
	}
	return rs.excludes.prepend(pattern, v)
}

// AddForce adds an "always log" rule.
func (rs *RuleSet) AddForce(pattern string) error {
	return rs.forces.prepend(pattern, 1)
}

// AddSampling adds a downsampling-stride rule.
func (rs *RuleSet) AddSampling(pattern string, stride int) error {
	return rs.samplings.prepend(pattern, stride)
}

// Resolve computes the logging properties for id by scanning all three
// rule lists, first-match-wins (spec P7). Missing matches default to
// sampling=1, force=false, exclude=false.
func (rs *RuleSet) Resolve(id string) (force, exclude bool, sampling int) {
	sampling = 1
	if v, ok := rs.samplings.firstMatch(id); ok {
		sampling = v
	}
	if v, ok := rs.forces.firstMatch(id); ok {
		force = v != 0
	}
	if !force {
		if v, ok := rs.excludes.firstMatch(id); ok {
			exclude = v != 0
		}
	}
	return force, exclude, sampling
}

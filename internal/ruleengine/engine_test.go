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

package ruleengine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Smithsonian/smax-postgres/internal/config"
	"github.com/Smithsonian/smax-postgres/internal/types"
)

func newRules(t *testing.T) *config.RuleSet {
	t.Helper()
	rs := &config.RuleSet{}
	rs.Reset()
	return rs
}

func TestPropertiesCached(t *testing.T) {
	rs := newRules(t)
	require.NoError(t, rs.AddExclude("weather:skip", true))
	require.NoError(t, rs.AddSampling("weather:array", 5))

	e := New(rs)
	p := e.Properties("weather:skip")
	require.True(t, p.Exclude)

	p2 := e.Properties("weather:skip")
	require.Equal(t, p, p2)

	p3 := e.Properties("weather:array")
	require.Equal(t, 5, p3.Sampling)
}

func TestIsLogging(t *testing.T) {
	rs := newRules(t)
	require.NoError(t, rs.AddExclude("skip:*", true))
	require.NoError(t, rs.AddForce("forced:*"))

	e := New(rs)
	now := time.Unix(1_700_000_000, 0)

	require.False(t, e.IsLogging("skip:x", now, now, time.Hour))
	require.True(t, e.IsLogging("forced:x", now.Add(-48*time.Hour), now, time.Hour))
	require.True(t, e.IsLogging("plain:x", now, now, time.Hour))
	require.False(t, e.IsLogging("plain:x", now.Add(-2*time.Hour), now, time.Hour))
	require.True(t, e.IsLogging("plain:x", now.Add(-2*time.Hour), now, 0))
}

func TestReloadClearsCache(t *testing.T) {
	rs := newRules(t)
	e := New(rs)
	_ = e.Properties("x:y")
	require.Len(t, e.cache, 1)

	rs2 := newRules(t)
	e.Reload(rs2)
	require.Len(t, e.cache, 0)
}

func TestSampleCountAppliesStride(t *testing.T) {
	rs := newRules(t)
	require.NoError(t, rs.AddSampling("weather:array", 3))
	e := New(rs)

	s := &types.Sample{ID: "weather:array", NDim: 1, Shape: [types.MaxDims]int{10}}
	require.Equal(t, 4, e.SampleCount(s))
	require.Equal(t, 3, s.Sampling)
}

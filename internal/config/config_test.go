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
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseTimeSpec(t *testing.T) {
	cases := []struct {
		in   string
		want float64
	}{
		{"30", 30},
		{"30s", 30},
		{"2m", 120},
		{"1h", Hour},
		{"1d", Day},
		{"1w", Week},
		{"1y", Year},
		{"none", -1},
		{"NONE", -1},
	}
	for _, c := range cases {
		got, err := ParseTimeSpec(c.in)
		require.NoError(t, err, c.in)
		require.Equal(t, c.want, got, c.in)
	}
}

func TestParseTimeSpecInvalid(t *testing.T) {
	_, err := ParseTimeSpec("abc")
	require.Error(t, err)

	_, err = ParseTimeSpec("5q")
	require.Error(t, err)

	_, err = ParseTimeSpec("")
	require.Error(t, err)
}

func TestParseBoolCorrectsOriginalBug(t *testing.T) {
	b, err := parseBool("true")
	require.NoError(t, err)
	require.True(t, b)

	b, err = parseBool("1")
	require.NoError(t, err)
	require.True(t, b)

	b, err = parseBool("false")
	require.NoError(t, err)
	require.False(t, b)

	b, err = parseBool("0")
	require.NoError(t, err)
	require.False(t, b)

	_, err = parseBool("yes")
	require.Error(t, err)
}

func TestLoadParsesGrammar(t *testing.T) {
	cfg := New()
	body := `
# a comment
smax_server  redis.local
sql_server = pg.local
sql_db engdb2
use_hyper_tables = true
update_interval 2m
snapshot_interval none
max_size 4096
max_age 7d
exclude junk:*
include junk:keepme
always important:*
sample 4 bigarray:*
`
	err := cfg.parse(strings.NewReader(body), "test")
	require.NoError(t, err)

	require.Equal(t, "redis.local", cfg.SMAXServer)
	require.Equal(t, "pg.local", cfg.SQLServer)
	require.Equal(t, "engdb2", cfg.SQLDB)
	require.True(t, cfg.UseHyperTables)
	require.Equal(t, 120, cfg.UpdateIntervalSeconds)
	require.Equal(t, -1, cfg.SnapshotIntervalSeconds)
	require.Equal(t, 4096, cfg.MaxSizeBytes)
	require.Equal(t, 7*Day, cfg.MaxAgeSeconds)

	force, exclude, sampling := cfg.Rules.Resolve("junk:keepme")
	require.False(t, force)
	require.False(t, exclude)
	require.Equal(t, 1, sampling)

	force, exclude, _ = cfg.Rules.Resolve("junk:other")
	require.False(t, force)
	require.True(t, exclude)

	force, _, _ = cfg.Rules.Resolve("important:x")
	require.True(t, force)

	_, _, sampling = cfg.Rules.Resolve("bigarray:x")
	require.Equal(t, 4, sampling)
}

func TestLoadIgnoresInvalidLinesWithWarning(t *testing.T) {
	cfg := New()
	err := cfg.parse(strings.NewReader("not_an_option\nsql_db good\n"), "test")
	require.NoError(t, err)
	require.Equal(t, "good", cfg.SQLDB)
}

func TestValidate(t *testing.T) {
	cfg := New()
	require.NoError(t, cfg.Validate())

	cfg.UpdateIntervalSeconds = 0
	cfg.SnapshotIntervalSeconds = 0
	require.Error(t, cfg.Validate())

	cfg = New()
	cfg.MaxSizeBytes = 1
	require.Error(t, cfg.Validate())
}

func TestHardcodedExcludesApply(t *testing.T) {
	cfg := New()
	_, exclude, _ := cfg.Rules.Resolve("_temp")
	require.True(t, exclude)

	_, exclude, _ = cfg.Rules.Resolve("weather:_temp")
	require.True(t, exclude)

	_, exclude, _ = cfg.Rules.Resolve("<meta>")
	require.True(t, exclude)

	_, exclude, _ = cfg.Rules.Resolve("weather:<meta>")
	require.True(t, exclude)

	_, exclude, _ = cfg.Rules.Resolve("weather:temperature")
	require.False(t, exclude)
}

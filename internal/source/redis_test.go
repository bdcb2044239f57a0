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

package source

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestSource(t *testing.T) (*RedisSource, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisSource(client), mr
}

func TestScanTimestampsFiltersByPattern(t *testing.T) {
	s, mr := newTestSource(t)
	ctx := context.Background()

	require.NoError(t, mr.HSet(timestampsTable, "weather:temperature", "1700000000.5"))
	require.NoError(t, mr.HSet(timestampsTable, "weather:humidity", "1700000001.25"))
	require.NoError(t, mr.HSet(timestampsTable, "traffic:count", "1700000002"))

	got, err := s.ScanTimestamps(ctx, "weather:*")
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Contains(t, got, "weather:temperature")
	require.Contains(t, got, "weather:humidity")
	require.NotContains(t, got, "traffic:count")

	require.Equal(t, int64(1700000000), got["weather:temperature"].Unix())
}

func TestScanUnits(t *testing.T) {
	s, mr := newTestSource(t)
	ctx := context.Background()

	require.NoError(t, mr.HSet(unitsTable, "weather:temperature", "K"))
	require.NoError(t, mr.HSet(unitsTable, "weather:pressure", "Pa"))

	got, err := s.ScanUnits(ctx, "weather:*")
	require.NoError(t, err)
	require.Equal(t, "K", got["weather:temperature"])
	require.Equal(t, "Pa", got["weather:pressure"])
}

func TestFetchBatchParsesFields(t *testing.T) {
	s, mr := newTestSource(t)
	ctx := context.Background()

	require.NoError(t, mr.HSet(varKeyPrefix+"weather:temperature",
		fieldType, TypeFloat64, fieldNDim, "0", fieldShape, "", fieldValues, "293.15"))
	require.NoError(t, mr.HSet(varKeyPrefix+"weather:wind",
		fieldType, TypeFloat32, fieldNDim, "1", fieldShape, "3", fieldValues, "1.0,2.0,3.0"))

	units := map[string]string{"weather:temperature": "K"}
	watermark := time.Unix(1700000000, 0).UTC()
	timestamps := map[string]time.Time{"weather:temperature": watermark}
	got, err := s.FetchBatch(ctx, []string{"weather:temperature", "weather:wind", "weather:missing"}, units, timestamps)
	require.NoError(t, err)
	require.Len(t, got, 2)

	byID := map[string]*RawSample{}
	for _, rs := range got {
		byID[rs.ID] = rs
	}

	temp := byID["weather:temperature"]
	require.Equal(t, TypeFloat64, temp.Type)
	require.Equal(t, "K", temp.Unit)
	require.Equal(t, []string{"293.15"}, temp.Values)
	require.Equal(t, watermark, temp.UpdateTime)

	wind := byID["weather:wind"]
	require.Equal(t, 1, wind.NDim)
	require.Equal(t, 3, wind.Shape[0])
	require.Equal(t, []string{"1.0", "2.0", "3.0"}, wind.Values)
}

func TestFetchBatchEmptyIDs(t *testing.T) {
	s, _ := newTestSource(t)
	got, err := s.FetchBatch(context.Background(), nil, nil, nil)
	require.NoError(t, err)
	require.Nil(t, got)
}

func TestServerTime(t *testing.T) {
	s, _ := newTestSource(t)
	got, err := s.ServerTime(context.Background())
	require.NoError(t, err)
	require.False(t, got.IsZero())
}

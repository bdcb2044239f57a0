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
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// Well-known hash keys mirroring the source store's own "<timestamps>"
// and "<units>" master tables (spec §4.6, smax-collector.c's
// UpdateChanged). Per-variable values live under varKeyPrefix+id.
const (
	timestampsTable = "<timestamps>"
	unitsTable      = "<units>"
	varKeyPrefix    = "smax:"

	fieldType   = "type"
	fieldNDim   = "ndim"
	fieldShape  = "shape"
	fieldValues = "values"

	hscanBatch = 200
)

// RedisSource is a Source backed by a Redis-protocol server.
type RedisSource struct {
	client redis.UniversalClient
}

// NewRedisSource wraps an already-connected redis client.
func NewRedisSource(client redis.UniversalClient) *RedisSource {
	return &RedisSource{client: client}
}

// ScanTimestamps implements Source.
func (s *RedisSource) ScanTimestamps(ctx context.Context, pattern string) (map[string]time.Time, error) {
	out := make(map[string]time.Time)
	var cursor uint64
	for {
		fields, next, err := s.client.HScan(ctx, timestampsTable, cursor, pattern, hscanBatch).Result()
		if err != nil {
			return nil, errors.Wrap(err, "hscan <timestamps>")
		}
		for i := 0; i+1 < len(fields); i += 2 {
			id, raw := fields[i], fields[i+1]
			secs, err := strconv.ParseFloat(raw, 64)
			if err != nil {
				continue
			}
			out[id] = secondsToTime(secs)
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return out, nil
}

// ScanUnits implements Source.
func (s *RedisSource) ScanUnits(ctx context.Context, pattern string) (map[string]string, error) {
	out := make(map[string]string)
	var cursor uint64
	for {
		fields, next, err := s.client.HScan(ctx, unitsTable, cursor, pattern, hscanBatch).Result()
		if err != nil {
			return nil, errors.Wrap(err, "hscan <units>")
		}
		for i := 0; i+1 < len(fields); i += 2 {
			out[fields[i]] = fields[i+1]
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return out, nil
}

// FetchBatch implements Source. It pipelines one HGETALL per id so the
// whole batch costs a single round trip to the store, matching the
// original's bulk-fetch step in UpdateChanged. Each RawSample's
// UpdateTime comes from timestamps, the per-id watermark already read
// by ScanTimestamps, not from the time of this call — the value and
// its timestamp are fetched via two operations rather than one, so
// using wall-clock time here would make every sample look fresh
// regardless of how stale its actual update_time is (smax-collector.c
// sets v->updateTime from the scanned metadata, never from gettimeofday
// at fetch time).
func (s *RedisSource) FetchBatch(ctx context.Context, ids []string, units map[string]string, timestamps map[string]time.Time) ([]*RawSample, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	pipe := s.client.Pipeline()
	cmds := make(map[string]*redis.MapStringStringCmd, len(ids))
	for _, id := range ids {
		cmds[id] = pipe.HGetAll(ctx, varKeyPrefix+id)
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, errors.Wrap(err, "pipelined hgetall")
	}

	samples := make([]*RawSample, 0, len(ids))
	for _, id := range ids {
		fields, err := cmds[id].Result()
		if err != nil || len(fields) == 0 {
			continue
		}
		ndim, _ := strconv.Atoi(fields[fieldNDim])
		rs := &RawSample{
			ID:         id,
			Type:       fields[fieldType],
			NDim:       ndim,
			Unit:       units[id],
			UpdateTime: timestamps[id],
		}
		parseShapeField(fields[fieldShape], &rs.Shape)
		if v := fields[fieldValues]; v != "" {
			rs.Values = strings.Split(v, ",")
		}
		samples = append(samples, rs)
	}
	return samples, nil
}

// ServerTime implements Source.
func (s *RedisSource) ServerTime(ctx context.Context) (time.Time, error) {
	t, err := s.client.Time(ctx).Result()
	if err != nil {
		return time.Time{}, errors.Wrap(err, "reading server time")
	}
	return t.UTC(), nil
}

func secondsToTime(secs float64) time.Time {
	whole := int64(secs)
	frac := secs - float64(whole)
	return time.Unix(whole, int64(frac*1e9)).UTC()
}

func parseShapeField(s string, dst *[8]int) {
	if s == "" {
		return
	}
	for i, f := range strings.Split(s, ",") {
		if i >= len(dst) {
			break
		}
		v, err := strconv.Atoi(strings.TrimSpace(f))
		if err != nil {
			continue
		}
		dst[i] = v
	}
}

var _ Source = (*RedisSource)(nil)

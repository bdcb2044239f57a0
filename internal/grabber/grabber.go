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

// Package grabber is the poller that walks the source store on a fixed
// cadence, decides which variables changed (or, on a snapshot round,
// takes all of them), and submits one types.Sample per variable to the
// Queue (spec §4.6, smax-collector.c's GrabberThread/UpdateChanged).
package grabber

import (
	"context"
	"strconv"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/Smithsonian/smax-postgres/internal/config"
	"github.com/Smithsonian/smax-postgres/internal/queue"
	"github.com/Smithsonian/smax-postgres/internal/ruleengine"
	"github.com/Smithsonian/smax-postgres/internal/sdnotify"
	"github.com/Smithsonian/smax-postgres/internal/source"
	"github.com/Smithsonian/smax-postgres/internal/types"
)

// syncTimeout bounds a single grab round's bulk fetch, mirroring
// UPDATE_TIMEOUT (10s) in smax-collector.c.
const syncTimeout = 10 * time.Second

// scanBudget caps how many ids a single UpdateChanged round will fetch
// in one batch, so one extremely busy poll doesn't starve the writer
// for the full syncTimeout.
const scanBudget = 10000

// Grabber polls the source store and submits changed or snapshotted
// variables onto a Queue.
type Grabber struct {
	Source source.Source
	Queue  *queue.Queue
	Rules  *ruleengine.Engine
	Config *config.Config

	lastScan time.Time
}

// New returns a Grabber wired to the given collaborators.
func New(src source.Source, q *queue.Queue, rules *ruleengine.Engine, cfg *config.Config) *Grabber {
	return &Grabber{Source: src, Queue: q, Rules: rules, Config: cfg}
}

// NextRound returns the smallest instant >= now that falls on an exact
// multiple of interval since the Unix epoch.
func NextRound(now time.Time, interval time.Duration) time.Time {
	if interval <= 0 {
		return now
	}
	step := interval.Nanoseconds()
	rem := now.UnixNano() % step
	if rem == 0 {
		return now
	}
	return now.Add(time.Duration(step - rem))
}

// SleepToRound blocks until the next interval boundary, re-checking the
// clock near the target instead of sleeping the whole remaining
// duration in one shot, so that scheduler slack doesn't push the
// wakeup past the boundary by more than a few milliseconds
// (SleepToRound in smax-collector.c).
func SleepToRound(ctx context.Context, interval time.Duration) (time.Time, error) {
	target := NextRound(time.Now(), interval)
	for {
		now := time.Now()
		remaining := target.Sub(now)
		if remaining <= 0 {
			return now, nil
		}
		wait := remaining
		if wait > 50*time.Millisecond {
			wait -= 10 * time.Millisecond
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return time.Time{}, ctx.Err()
		case <-timer.C:
		}
	}
}

// Run polls forever, alternating between incremental and snapshot
// rounds, until ctx is done.
func (g *Grabber) Run(ctx context.Context) error {
	updateInterval := g.Config.EffectiveUpdateInterval()
	snapshotInterval := time.Duration(g.Config.SnapshotIntervalSeconds) * time.Second

	for {
		target, err := SleepToRound(ctx, updateInterval)
		if err != nil {
			return err
		}

		isSnapshot := snapshotInterval > 0 &&
			target.Unix()%int64(snapshotInterval.Seconds()) < int64(updateInterval.Seconds())

		var grabErr error
		if isSnapshot {
			log.Debug("snapshot round")
			sdnotify.Status(sdnotify.StateSnapshot)
			grabErr = g.Snapshot(ctx, target)
		} else {
			sdnotify.Status(sdnotify.StateUpdate)
			grabErr = g.UpdateChanged(ctx, target)
		}
		sdnotify.Status(sdnotify.StateIdle)
		if grabErr != nil {
			log.WithError(grabErr).Error("grab round failed")
		}
	}
}

// UpdateChanged scans the store for variables whose timestamp advanced
// since the last successful round and submits each onto the Queue
// (UpdateChanged in smax-collector.c). On success the watermark for the
// next round is the store's server time read at the start of this one.
func (g *Grabber) UpdateChanged(ctx context.Context, now time.Time) error {
	ctx, cancel := context.WithTimeout(ctx, syncTimeout)
	defer cancel()

	start, err := g.Source.ServerTime(ctx)
	if err != nil {
		return err
	}
	since := g.lastScan
	ids, units, timestamps, err := g.scanCandidates(ctx, now, func(id string, ts time.Time) bool {
		return !ts.Before(since)
	})
	if err != nil {
		return err
	}
	if err := g.grabAndSubmit(ctx, ids, units, timestamps, now); err != nil {
		return err
	}
	g.lastScan = start
	return nil
}

// Snapshot submits every non-excluded variable regardless of its
// timestamp (Snapshot in smax-collector.c).
func (g *Grabber) Snapshot(ctx context.Context, now time.Time) error {
	ctx, cancel := context.WithTimeout(ctx, syncTimeout)
	defer cancel()

	start, err := g.Source.ServerTime(ctx)
	if err != nil {
		return err
	}
	ids, units, timestamps, err := g.scanCandidates(ctx, now, func(string, time.Time) bool { return true })
	if err != nil {
		return err
	}
	if err := g.grabAndSubmit(ctx, ids, units, timestamps, now); err != nil {
		return err
	}
	g.lastScan = start
	return nil
}

// scanCandidates lists the ids eligible for this round: present in the
// "<timestamps>" table, not internal ("_"/"<" prefixed), passing keep,
// and logging per the rule engine's verdict for (id, ts, now) — forced
// ids are always kept, excluded ids are always dropped, and everything
// else is dropped once it has gone stale for longer than max_age
// (spec §4.1 is_logging, P7).
func (g *Grabber) scanCandidates(ctx context.Context, now time.Time, keep func(id string, ts time.Time) bool) ([]string, map[string]string, map[string]time.Time, error) {
	timestamps, err := g.Source.ScanTimestamps(ctx, "*")
	if err != nil {
		return nil, nil, nil, err
	}
	units, err := g.Source.ScanUnits(ctx, "*")
	if err != nil {
		return nil, nil, nil, err
	}

	maxAge := time.Duration(g.Config.MaxAgeSeconds) * time.Second

	ids := make([]string, 0, len(timestamps))
	for id, ts := range timestamps {
		if strings.HasPrefix(id, "_") || strings.HasPrefix(id, "<") {
			continue
		}
		if !keep(id, ts) {
			continue
		}
		if !g.Rules.IsLogging(id, ts, now, maxAge) {
			continue
		}
		ids = append(ids, id)
		if len(ids) >= scanBudget {
			log.Warnf("grab round truncated at %d ids", scanBudget)
			break
		}
	}
	return ids, units, timestamps, nil
}

func (g *Grabber) grabAndSubmit(ctx context.Context, ids []string, units map[string]string, timestamps map[string]time.Time, grabTime time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	raw, err := g.Source.FetchBatch(ctx, ids, units, timestamps)
	if err != nil {
		return err
	}

	for _, rs := range raw {
		sample := g.finalize(rs, grabTime)

		if !sample.Force && oversized(rs, g.Config.MaxSizeBytes) {
			log.WithField("id", rs.ID).Warn("dropping oversize sample")
			continue
		}

		if err := g.Queue.Push(ctx, sample); err != nil {
			return err
		}
	}
	return nil
}

// finalize converts a wire-level RawSample into the types.Sample the
// writer expects, demoting opaque raw payloads to a single string
// element and applying the configured downsampling stride.
func (g *Grabber) finalize(rs *source.RawSample, grabTime time.Time) *types.Sample {
	s := &types.Sample{
		ID:         rs.ID,
		Unit:       rs.Unit,
		UpdateTime: rs.UpdateTime,
		GrabTime:   grabTime,
		Sampling:   1,
		Force:      g.Rules.Properties(rs.ID).Force,
	}

	if rs.Type == source.TypeRaw {
		s.Type = types.ElementString
		s.NDim = 1
		s.Shape[0] = 1
		s.Values = []any{strings.Join(rs.Values, "")}
		return s
	}

	s.Type = elementTypeFor(rs.Type)
	s.NDim = rs.NDim
	s.Shape = rs.Shape
	s.Values = make([]any, 0, len(rs.Values))
	for _, v := range rs.Values {
		s.Values = append(s.Values, parseValue(s.Type, v))
	}

	g.Rules.SampleCount(s)
	return s
}

func elementTypeFor(t string) types.ElementType {
	switch t {
	case source.TypeBoolean:
		return types.ElementBoolean
	case source.TypeInt8:
		return types.ElementInt8
	case source.TypeInt16:
		return types.ElementInt16
	case source.TypeInt32:
		return types.ElementInt32
	case source.TypeInt64:
		return types.ElementInt64
	case source.TypeFloat32:
		return types.ElementFloat32
	case source.TypeFloat64:
		return types.ElementFloat64
	default:
		return types.ElementString
	}
}

func parseValue(t types.ElementType, raw string) any {
	switch t {
	case types.ElementBoolean:
		return raw == "1" || strings.EqualFold(raw, "true")
	case types.ElementInt8, types.ElementInt16, types.ElementInt32, types.ElementInt64:
		v, _ := strconv.ParseInt(raw, 10, 64)
		return v
	case types.ElementFloat32, types.ElementFloat64:
		v, _ := strconv.ParseFloat(raw, 64)
		return v
	default:
		return raw
	}
}

// oversized estimates the wire size of rs and reports whether it
// exceeds maxBytes (the oversize re-check SubmitUpdate performs right
// before queuing, spec §4.6).
func oversized(rs *source.RawSample, maxBytes int) bool {
	if maxBytes <= 0 {
		return false
	}
	total := 0
	for _, v := range rs.Values {
		if rs.Type == source.TypeString || rs.Type == source.TypeRaw {
			total += len(v)
		} else {
			total += 8
		}
	}
	return total > maxBytes
}

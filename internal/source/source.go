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

// Package source abstracts the external shared-variable store (spec §1,
// "the source variable store" — a Redis-like key/value server with
// pattern scan, bulk get, and server-time primitives). The Grabber only
// needs these four operations; the wire protocol and data layout of the
// real store are implementation details of the concrete Source.
package source

import (
	"context"
	"time"
)

// Raw element type tags as reported by the store, before the Grabber's
// finalization step maps them onto types.ElementType. TypeRaw stands in
// for the original's X_RAW: an opaque serialized blob that gets demoted
// to a single-element string (SUPPLEMENTED FEATURES #3).
const (
	TypeBoolean = "bool"
	TypeInt8    = "i8"
	TypeInt16   = "i16"
	TypeInt32   = "i32"
	TypeInt64   = "i64"
	TypeFloat32 = "f32"
	TypeFloat64 = "f64"
	TypeString  = "str"
	TypeRaw     = "raw"
)

// RawSample is a variable's value as fetched from the store, still in
// its wire-serialized form: every element is a string, to be parsed by
// the Grabber into the Go type types.Sample.Values expects.
type RawSample struct {
	ID         string
	Type       string
	NDim       int
	Shape      [8]int
	Values     []string
	Unit       string
	UpdateTime time.Time
}

// Source is the set of operations the Grabber performs against the
// external store (spec §4.6).
type Source interface {
	// ScanTimestamps returns the per-id last-update server time for
	// every id matching pattern in the store's "<timestamps>" table.
	ScanTimestamps(ctx context.Context, pattern string) (map[string]time.Time, error)

	// ScanUnits returns the per-id physical unit string for every id
	// matching pattern in the store's "<units>" table.
	ScanUnits(ctx context.Context, pattern string) (map[string]string, error)

	// FetchBatch bulk-fetches the current serialized value and
	// metadata for each id in ids, within a single round trip where
	// the underlying store supports it. units supplies the physical
	// unit (if any), and timestamps the authoritative last-update time
	// (from ScanTimestamps) to attach to each returned RawSample.
	FetchBatch(ctx context.Context, ids []string, units map[string]string, timestamps map[string]time.Time) ([]*RawSample, error)

	// ServerTime returns the store's own clock, used as the
	// authoritative "last updated at" watermark for incremental grabs.
	ServerTime(ctx context.Context) (time.Time, error)
}

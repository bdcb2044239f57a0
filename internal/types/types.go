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

// Package types contains the data types shared across the
// smax-postgres pipeline: the sample that flows from the Grabber
// through the Queue to the SQL Writer, and the logging properties
// computed by the rule engine.
package types

import (
	"fmt"
	"time"
)

// ElementType enumerates the scalar element types a Sample's payload
// may hold, mirroring the XType enumeration of the source store.
type ElementType int

// Element type constants. The authoritative order for SQL widening
// lives in package sqltype; this enumeration only distinguishes kinds.
const (
	ElementUnknown ElementType = iota
	ElementBoolean
	ElementInt8
	ElementInt16
	ElementInt32
	ElementInt64
	ElementFloat32
	ElementFloat64
	ElementChars  // fixed-length character array
	ElementString // variable-length string
)

// String implements fmt.Stringer for log messages.
func (t ElementType) String() string {
	switch t {
	case ElementBoolean:
		return "boolean"
	case ElementInt8:
		return "int8"
	case ElementInt16:
		return "int16"
	case ElementInt32:
		return "int32"
	case ElementInt64:
		return "int64"
	case ElementFloat32:
		return "float32"
	case ElementFloat64:
		return "float64"
	case ElementChars:
		return "chars"
	case ElementString:
		return "string"
	default:
		return "unknown"
	}
}

// MaxDims bounds the number of dimensions a Sample's Shape can record.
const MaxDims = 8

// Sample is the unit of work that flows from the Grabber, through the
// Queue, to the SQL Writer. It is created by the Grabber and consumed
// (and then discarded) by the Writer; ownership never shared.
type Sample struct {
	// ID is "table<sep>key", the variable's aggregate identifier.
	ID string

	// Type is the scalar element type of the payload.
	Type ElementType

	// CharLen is the fixed length of a single element, in bytes, when
	// Type is ElementChars; unused for ElementString, whose enclosing
	// length is derived from the Values themselves.
	CharLen int

	// NDim is 0 for a scalar, >=1 for an array.
	NDim int

	// Shape holds the array extent along each of the first NDim
	// dimensions. Unused entries are zero.
	Shape [MaxDims]int

	// Values holds the decoded element values, length == FieldCount().
	// Concrete element representation depends on Type:
	//   ElementBoolean -> bool
	//   ElementInt8/16/32/64 -> int64
	//   ElementFloat32/64 -> float64
	//   ElementChars/ElementString -> string
	Values []any

	// Unit is the physical unit string, or "" if none was recorded.
	Unit string

	// UpdateTime is the source-store timestamp of the variable's last
	// change.
	UpdateTime time.Time

	// GrabTime is the poller's timestamp for this sampling round.
	GrabTime time.Time

	// Sampling is the stride at which array elements are kept; always
	// >= 1. A value of 1 keeps every element.
	Sampling int

	// Force reports whether this id is covered by an "always" rule,
	// which exempts it from the Writer's oversize-drop check (spec §4.4
	// step 2).
	Force bool
}

// FieldCount returns the total number of scalar elements the variable
// held at grab time (before downsampling), i.e. the product of the
// recorded Shape along NDim dimensions, or 1 for a scalar.
func (s *Sample) FieldCount() int {
	if s.NDim <= 0 {
		return 1
	}
	n := 1
	for i := 0; i < s.NDim; i++ {
		if s.Shape[i] > 0 {
			n *= s.Shape[i]
		}
	}
	return n
}

// SampleCount returns ceil(FieldCount / max(1, Sampling)), the number of
// values actually written to the database for this sample (spec P6).
func (s *Sample) SampleCount() int {
	n := s.FieldCount()
	if n <= 0 {
		return 0
	}
	stride := s.Sampling
	if stride < 1 {
		stride = 1
	}
	return (n + stride - 1) / stride
}

// CanonicalNDim folds a singular one-element array down to a scalar,
// the same normalization postgres-backend.c's isMetaUpdate/sqlAddMeta
// apply before comparing or storing shape metadata.
func (s *Sample) CanonicalNDim() int {
	if s.NDim < 1 {
		return 0
	}
	if s.NDim == 1 && s.Shape[0] <= 1 {
		return 0
	}
	return s.NDim
}

// Age returns GrabTime - UpdateTime rounded to whole seconds, the value
// stored in a data row's "age" column.
func (s *Sample) Age() int {
	return int(s.GrabTime.Sub(s.UpdateTime).Round(time.Second).Seconds())
}

// LoggingProperties is the per-id decision computed by the rule engine:
// whether a variable is always logged, always excluded, and at what
// downsampling stride.
type LoggingProperties struct {
	Force    bool
	Exclude  bool
	Sampling int
}

// PatternRule is a single {glob pattern, integer} rule as parsed from
// the config file's exclude/include/always/sample directives.
type PatternRule struct {
	Pattern string
	Value   int
}

// ErrInvalidArgument is a sentinel error for a nil/zero-value argument
// where one is required (spec §7, "programming-invariant failures").
// No function in this module returns it; nil arguments are not checked.
var ErrInvalidArgument = fmt.Errorf("invalid argument")

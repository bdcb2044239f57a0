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

// Package sqltype maps the pipeline's element types to PostgreSQL
// column types, compares two column types for widening order, and
// formats Go values as SQL literals (spec §4.2 Encoder).
package sqltype

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/Smithsonian/smax-postgres/internal/types"
)

// PostgreSQL column type names, matching include/sql-types.h's POSTGRES
// branch.
const (
	Boolean        = "BOOLEAN"
	SmallInt       = "SMALLINT"
	Integer        = "INTEGER"
	BigInt         = "BIGINT"
	Real           = "REAL"
	DoublePrec     = "DOUBLE PRECISION"
	Text           = "TEXT"
	TimestampTZ    = "TIMESTAMPTZ"
	Serial         = "SERIAL"
	DefaultStrWide = 16
)

// widening lists numeric types from narrowest to widest. BOOLEAN and
// TEXT never appear here: booleans never widen, and TEXT is already
// the widest possible string representation in PostgreSQL.
var widening = []string{SmallInt, Integer, BigInt, Real, DoublePrec}

// ColumnType returns the PostgreSQL column type for a scalar element
// type. Strings (fixed Chars or variable String) always map to TEXT:
// unlike SQL Server or MS Access, PostgreSQL's TEXT has no declared
// width, so there is no benefit to a VARCHAR(n) column (printSQLType /
// getStringType in the original source).
func ColumnType(t types.ElementType) (string, error) {
	switch t {
	case types.ElementBoolean:
		return Boolean, nil
	case types.ElementInt8, types.ElementInt16:
		return SmallInt, nil
	case types.ElementInt32:
		return Integer, nil
	case types.ElementInt64:
		return BigInt, nil
	case types.ElementFloat32:
		return Real, nil
	case types.ElementFloat64:
		return DoublePrec, nil
	case types.ElementChars, types.ElementString:
		return Text, nil
	default:
		return "", fmt.Errorf("sqltype: no SQL type for element type %s", t)
	}
}

// Compare orders two column type strings by widening precedence:
// negative if a is narrower than b, zero if equal, positive if a is
// wider than b (cmpSQLType in the original source). VARCHAR(n) types
// are compared by declared width even though this implementation never
// emits them, preserving the original's "just in case" generality for
// descriptors inherited from a pre-existing database.
func Compare(a, b string) int {
	if a == b {
		return 0
	}

	if na, ok := varcharWidth(a); ok {
		if nb, ok := varcharWidth(b); ok {
			return na - nb
		}
		return -1
	}
	if _, ok := varcharWidth(b); ok {
		return 1
	}

	ia := indexOf(widening, a)
	ib := indexOf(widening, b)
	return ia - ib
}

func indexOf(list []string, s string) int {
	for i, v := range list {
		if v == s {
			return i
		}
	}
	return -1
}

func varcharWidth(s string) (int, bool) {
	if !strings.HasPrefix(s, "VARCHAR(") || !strings.HasSuffix(s, ")") {
		return 0, false
	}
	n, err := strconv.Atoi(s[len("VARCHAR(") : len(s)-1])
	if err != nil {
		return 0, false
	}
	return n, true
}

// Widens reports whether candidate is strictly wider than current,
// i.e. whether a column declared as current would need to be altered
// to candidate to hold a value of the new type.
func Widens(current, candidate string) bool {
	return Compare(candidate, current) > 0
}

// EnclosingStringLength returns the smallest power of two, at least
// DefaultStrWide, that is >= the longest string in values
// (getEnclosingStringLength in the original source). This length has
// no bearing on the PostgreSQL column type (always TEXT), but is kept
// so string-column sizing decisions remain auditable in logs and so a
// future non-PostgreSQL backend could reuse it for VARCHAR(n) sizing.
func EnclosingStringLength(values []string) int {
	max := DefaultStrWide
	for _, s := range values {
		l := len(s)
		for l > max {
			max <<= 1
		}
	}
	return max
}

// BytesPerElement estimates the on-disk footprint of a single element
// of type t (getTypeSize in the original source), used by the Writer's
// oversize check (spec §4.4 step 2: sample_count(u) * bytes_per_element
// (u.type) > max_size). String and char elements have no fixed width,
// so DefaultStrWide stands in for their typical size.
func BytesPerElement(t types.ElementType) int {
	switch t {
	case types.ElementBoolean, types.ElementInt8:
		return 1
	case types.ElementInt16:
		return 2
	case types.ElementInt32, types.ElementFloat32:
		return 4
	case types.ElementInt64, types.ElementFloat64:
		return 8
	case types.ElementChars, types.ElementString:
		return DefaultStrWide
	default:
		return 8
	}
}

// FormatLiteral renders v (of element type t) as a SQL literal
// suitable for direct inclusion in an INSERT statement's VALUES list
// (appendValue in the original source). v must be nil or the Go type
// documented on types.Sample.Values for t.
func FormatLiteral(v any, t types.ElementType) string {
	if v == nil {
		return "NULL"
	}

	switch t {
	case types.ElementBoolean:
		if v.(bool) {
			return "true"
		}
		return "false"

	case types.ElementInt8, types.ElementInt16, types.ElementInt32, types.ElementInt64:
		return strconv.FormatInt(v.(int64), 10)

	case types.ElementFloat32:
		f := float32(v.(float64))
		if math.IsNaN(float64(f)) || math.IsInf(float64(f), 0) {
			return "'NaN'"
		}
		return strconv.FormatFloat(float64(f), 'g', 7, 32)

	case types.ElementFloat64:
		d := v.(float64)
		if math.IsNaN(d) || math.IsInf(d, 0) {
			return "'NaN'"
		}
		a := math.Abs(d)
		if a < 1e-100 {
			return "0.0"
		}
		if a > 1e100 {
			return "'NaN'"
		}
		return strconv.FormatFloat(d, 'g', 16, 64)

	case types.ElementChars, types.ElementString:
		return quoteString(v.(string))

	default:
		return "NULL"
	}
}

// quoteString single-quotes s and doubles any embedded single quotes
// (printSQLString in the original source).
func quoteString(s string) string {
	var b strings.Builder
	b.WriteByte('\'')
	for i := 0; i < len(s); i++ {
		c := s[i]
		b.WriteByte(c)
		if c == '\'' {
			b.WriteByte('\'')
		}
	}
	b.WriteByte('\'')
	return b.String()
}

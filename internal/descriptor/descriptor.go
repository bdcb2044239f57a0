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

// Package descriptor holds the in-memory Table Descriptor Cache (spec
// §4.3): a per-variable record of the data table's identity, column
// layout, SQL element type, and most recently stored metadata, kept in
// sync with the database as the schema evolves.
package descriptor

import (
	"github.com/Smithsonian/smax-postgres/internal/types"
)

// MaxDims re-exports types.MaxDims, the size of a Descriptor's Shape
// array.
const MaxDims = types.MaxDims

// Descriptor is the cached record for one logged variable: its numeric
// table id, current column layout and SQL element type, and the most
// recently persisted metadata snapshot (used to decide whether a new
// metadata row is needed, spec I4/I5).
type Descriptor struct {
	ID string // the SMA-X variable id, e.g. "weather:temperature"

	TableID int // numeric id / serial primary key in the titles table
	Columns int // number of array-data columns currently defined
	SQLType string // current column SQL type, e.g. "REAL"

	HasMeta     bool // whether a metadata row has ever been written
	MetaVersion int  // serial id of the most recently written metadata row
	Sampling    int  // sampling stride recorded in the last metadata row
	NDim        int  // array dimensionality recorded in the last metadata row
	Shape       [MaxDims]int
	Unit        string
}

// NeedsMetaUpdate reports whether sample's metadata differs from the
// descriptor's cached metadata snapshot (isMetaUpdate in the original
// source): a first write, a changed sampling stride, a changed
// dimensionality or shape, or a changed physical unit all trigger a new
// metadata row (spec I4).
func (d *Descriptor) NeedsMetaUpdate(sample *types.Sample) bool {
	if !d.HasMeta {
		return true
	}
	if d.Sampling != sample.Sampling {
		return true
	}

	ndim := sample.CanonicalNDim()
	if ndim != d.NDim {
		return true
	}
	for i := 0; i < d.NDim; i++ {
		if d.Shape[i] != sample.Shape[i] {
			return true
		}
	}

	return d.Unit != sample.Unit
}

// RecordMeta updates the descriptor's cached metadata snapshot after a
// metadata row has been successfully written, mirroring the bookkeeping
// at the end of sqlAddMeta in the original source.
func (d *Descriptor) RecordMeta(sample *types.Sample) {
	d.Sampling = sample.Sampling
	d.NDim = sample.CanonicalNDim()
	d.Shape = sample.Shape
	d.Unit = sample.Unit
	d.HasMeta = true
	d.MetaVersion++
}

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

package sqltype

import (
	"fmt"
	"math"
)

// MasterTable is the table that maps a variable's id to its numeric
// table id (Descriptor.TableID in package descriptor).
const MasterTable = "titles"

// VarNameColumn is the column of MasterTable holding the variable id.
const VarNameColumn = "name"

// colNameStem prefixes array-data columns, e.g. "c0", "c00", "c001".
const colNameStem = "c"

// DataTableName returns the name of the table holding a variable's
// time-series data, e.g. "var_000042" (TABLE_NAME_PATTERN).
func DataTableName(tableID int) string {
	return fmt.Sprintf("var_%06d", tableID)
}

// MetaTableName returns the name of the table holding a variable's
// metadata history, e.g. "var_000042_meta" (META_NAME_PATTERN).
func MetaTableName(tableID int) string {
	return DataTableName(tableID) + "_meta"
}

// ColumnDigits returns the zero-padding width used for canonical
// array-data column names given the total number of columns (cols),
// mirroring printColumnFormat's digit-count calculation. A single
// scalar column (cols <= 1) always gets one digit ("c0").
func ColumnDigits(cols int) int {
	n := cols
	if n <= 1 {
		n = 1
	} else {
		n--
	}
	return 1 + int(math.Floor(math.Log10(float64(n))))
}

// ColumnName returns the canonical name of array-data column index i
// (0-based) given the total column count cols currently defined on the
// table, e.g. ColumnName(0, 1) -> "c0", ColumnName(3, 12) -> "c03".
func ColumnName(i, cols int) string {
	digits := ColumnDigits(cols)
	return fmt.Sprintf("%s%0*d", colNameStem, digits, i)
}

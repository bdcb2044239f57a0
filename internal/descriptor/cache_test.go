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

package descriptor

import (
	"context"
	"fmt"
	"testing"

	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/require"

	"github.com/Smithsonian/smax-postgres/internal/types"
)

func TestCachePutRespectsLimit(t *testing.T) {
	c := New(1)
	c.Put(&Descriptor{ID: "a"})
	c.Put(&Descriptor{ID: "b"})

	_, ok := c.Get("a")
	require.True(t, ok)
	_, ok = c.Get("b")
	require.False(t, ok)
	require.Equal(t, 1, c.Len())
}

func TestCachePutUnbounded(t *testing.T) {
	c := New(0)
	for i := 0; i < 5; i++ {
		c.Put(&Descriptor{ID: string(rune('a' + i))})
	}
	require.Equal(t, 5, c.Len())
}

func TestNeedsMetaUpdate(t *testing.T) {
	d := &Descriptor{}
	s := &types.Sample{ID: "x", Sampling: 1, Unit: "K"}
	require.True(t, d.NeedsMetaUpdate(s)) // no meta yet

	d.RecordMeta(s)
	require.False(t, d.NeedsMetaUpdate(s))

	s.Sampling = 2
	require.True(t, d.NeedsMetaUpdate(s))
	d.RecordMeta(s)

	s.Unit = "C"
	require.True(t, d.NeedsMetaUpdate(s))
	d.RecordMeta(s)

	s.NDim = 1
	s.Shape[0] = 4
	require.True(t, d.NeedsMetaUpdate(s))
}

func TestRebuildScansTitlesAndColumns(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery("SELECT name, tid FROM titles").
		WillReturnRows(pgxmock.NewRows([]string{"name", "tid"}).
			AddRow("weather:temperature", 1))

	mock.ExpectQuery("SELECT column_name, data_type FROM information_schema.columns").
		WithArgs("var_000001").
		WillReturnRows(pgxmock.NewRows([]string{"column_name", "data_type"}).
			AddRow("time", "timestamp with time zone").
			AddRow("age", "integer").
			AddRow("c0", "real"))

	mock.ExpectQuery("SELECT meta_id, sampling, ndim, shape, unit FROM var_000001_meta").
		WillReturnRows(pgxmock.NewRows([]string{"meta_id", "sampling", "ndim", "shape", "unit"}).
			AddRow(1, 1, 0, nil, "K"))

	c := New(0)
	err = c.Rebuild(context.Background(), mock)
	require.NoError(t, err)

	d, ok := c.Get("weather:temperature")
	require.True(t, ok)
	require.Equal(t, 1, d.TableID)
	require.Equal(t, 1, d.Columns)
	require.Equal(t, "REAL", d.SQLType)
	require.True(t, d.HasMeta)
	require.Equal(t, "K", d.Unit)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRebuildRepairsColumnNames(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery("SELECT name, tid FROM titles").
		WillReturnRows(pgxmock.NewRows([]string{"name", "tid"}).
			AddRow("weather:array", 2))

	mock.ExpectQuery("SELECT column_name, data_type FROM information_schema.columns").
		WithArgs("var_000002").
		WillReturnRows(pgxmock.NewRows([]string{"column_name", "data_type"}).
			AddRow("time", "timestamp with time zone").
			AddRow("age", "integer").
			AddRow("c0", "double precision").
			AddRow("c1", "double precision").
			AddRow("c2", "double precision").
			AddRow("c3", "double precision").
			AddRow("c4", "double precision").
			AddRow("c5", "double precision").
			AddRow("c6", "double precision").
			AddRow("c7", "double precision").
			AddRow("c8", "double precision").
			AddRow("c9", "double precision").
			AddRow("c10", "double precision"))

	for i := 0; i < 10; i++ {
		mock.ExpectExec(fmt.Sprintf("ALTER TABLE var_000002 RENAME COLUMN c%d TO c%02d", i, i)).
			WillReturnResult(pgxmock.NewResult("ALTER", 0))
	}

	mock.ExpectQuery("SELECT meta_id, sampling, ndim, shape, unit FROM var_000002_meta").
		WillReturnError(pgxmock.ErrCancelled)

	c := New(0)
	err = c.Rebuild(context.Background(), mock)
	require.NoError(t, err)

	d, ok := c.Get("weather:array")
	require.True(t, ok)
	require.Equal(t, 11, d.Columns)
	require.Equal(t, sqltypeDoublePrec, d.SQLType)

	require.NoError(t, mock.ExpectationsWereMet())
}

const sqltypeDoublePrec = "DOUBLE PRECISION"

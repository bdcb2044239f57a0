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

package writer

import (
	"context"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/require"

	"github.com/Smithsonian/smax-postgres/internal/descriptor"
	"github.com/Smithsonian/smax-postgres/internal/types"
)

func newTestWriter(t *testing.T) (*Writer, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return New(mock, descriptor.New(0), false, 1024), mock
}

// S1: first sight of a scalar float64 variable creates a titles row,
// a one-column data table, a time index and a metadata table.
func TestFirstSightScalarDouble(t *testing.T) {
	w, mock := newTestWriter(t)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectQuery("INSERT INTO titles").
		WithArgs("weather:temperature").
		WillReturnRows(pgxmock.NewRows([]string{"tid"}).AddRow(1))
	mock.ExpectExec("CREATE TABLE var_000001").WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectExec("CREATE UNIQUE INDEX var_000001_time_idx").WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectExec("CREATE TABLE var_000001_meta").WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectCommit()

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO var_000001").WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO var_000001_meta").WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	now := time.Now().UTC()
	sample := &types.Sample{
		ID: "weather:temperature", Type: types.ElementFloat64, Sampling: 1,
		Values: []any{293.15}, GrabTime: now, UpdateTime: now,
	}

	require.NoError(t, w.Write(ctx, sample))

	d, ok := w.Cache.Get("weather:temperature")
	require.True(t, ok)
	require.Equal(t, 1, d.TableID)
	require.Equal(t, "DOUBLE PRECISION", d.SQLType)
	require.True(t, d.HasMeta)

	require.NoError(t, mock.ExpectationsWereMet())
}

// S3: a later sample with a wider element type triggers an
// ALTER COLUMN TYPE on every existing column.
func TestWidenTypePromotesSmallIntToBigInt(t *testing.T) {
	w, mock := newTestWriter(t)
	ctx := context.Background()

	d := &descriptor.Descriptor{ID: "counter:value", TableID: 2, Columns: 1, SQLType: "SMALLINT", HasMeta: true, Sampling: 1}
	w.Cache.Put(d)

	mock.ExpectBegin()
	mock.ExpectExec("ALTER TABLE var_000002 ALTER COLUMN c0 TYPE BIGINT").
		WillReturnResult(pgxmock.NewResult("ALTER", 0))
	mock.ExpectCommit()

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO var_000002").WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	now := time.Now().UTC()
	sample := &types.Sample{
		ID: "counter:value", Type: types.ElementInt64, Sampling: 1,
		Values: []any{int64(1 << 40)}, GrabTime: now, UpdateTime: now,
	}

	require.NoError(t, w.Write(ctx, sample))
	require.Equal(t, "BIGINT", d.SQLType)
	require.NoError(t, mock.ExpectationsWereMet())
}

// S2: an array that grows from 9 to 12 elements needs its existing
// single-digit columns renamed to two digits before the new columns
// are added.
func TestGrowColumnsRenamesBeforeAdding(t *testing.T) {
	w, mock := newTestWriter(t)
	ctx := context.Background()

	d := &descriptor.Descriptor{ID: "array:var", TableID: 3, Columns: 9, SQLType: "REAL", HasMeta: true, NDim: 1, Shape: [8]int{9}, Sampling: 1}
	w.Cache.Put(d)

	mock.ExpectBegin()
	for i := 0; i < 9; i++ {
		mock.ExpectExec("ALTER TABLE var_000003 RENAME COLUMN").WillReturnResult(pgxmock.NewResult("ALTER", 0))
	}
	for i := 9; i < 12; i++ {
		mock.ExpectExec("ALTER TABLE var_000003 ADD COLUMN").WillReturnResult(pgxmock.NewResult("ALTER", 0))
	}
	mock.ExpectCommit()

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO var_000003").WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO var_000003_meta").WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	values := make([]any, 12)
	for i := range values {
		values[i] = float64(i)
	}
	now := time.Now().UTC()
	sample := &types.Sample{
		ID: "array:var", Type: types.ElementFloat32, Sampling: 1, NDim: 1, Shape: [8]int{12},
		Values: values, GrabTime: now, UpdateTime: now,
	}

	require.NoError(t, w.Write(ctx, sample))
	require.Equal(t, 12, d.Columns)
	require.NoError(t, mock.ExpectationsWereMet())
}

// P6/S4: a sampling stride of 3 over 10 raw elements keeps 4 values
// (indices 0, 3, 6, 9), not 10.
func TestWriteAppliesSamplingStride(t *testing.T) {
	w, mock := newTestWriter(t)
	ctx := context.Background()

	d := &descriptor.Descriptor{ID: "array:stride", TableID: 4, Columns: 4, SQLType: "REAL", HasMeta: true, NDim: 1, Shape: [8]int{10}, Sampling: 3}
	w.Cache.Put(d)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO var_000004 \\(time, age, c0, c1, c2, c3\\)").WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	values := make([]any, 10)
	for i := range values {
		values[i] = float64(i)
	}
	now := time.Now().UTC()
	sample := &types.Sample{
		ID: "array:stride", Type: types.ElementFloat32, Sampling: 3, NDim: 1, Shape: [8]int{10},
		Values: values, GrabTime: now, UpdateTime: now,
	}
	require.Equal(t, 4, sample.SampleCount())

	require.NoError(t, w.Write(ctx, sample))
	require.NoError(t, mock.ExpectationsWereMet())
}

// S5: a non-forced sample whose estimated footprint exceeds MaxSizeBytes
// is dropped without issuing any statement against the database.
func TestWriteDropsOversizeNonForcedSample(t *testing.T) {
	w, mock := newTestWriter(t)
	ctx := context.Background()

	values := make([]any, 200)
	for i := range values {
		values[i] = "0123456789"
	}
	now := time.Now().UTC()
	sample := &types.Sample{
		ID: "weather:huge", Type: types.ElementString, Sampling: 1, NDim: 1, Shape: [8]int{200},
		Values: values, GrabTime: now, UpdateTime: now,
	}

	require.NoError(t, w.Write(ctx, sample))
	require.NoError(t, mock.ExpectationsWereMet())

	_, ok := w.Cache.Get("weather:huge")
	require.False(t, ok)
}

// Unchanged metadata across samples must not produce a new metadata
// row (spec I4).
func TestWriteSkipsMetaWhenUnchanged(t *testing.T) {
	w, mock := newTestWriter(t)
	ctx := context.Background()

	d := &descriptor.Descriptor{
		ID: "weather:temperature", TableID: 1, Columns: 1, SQLType: "DOUBLE PRECISION",
		HasMeta: true, Sampling: 1, Unit: "K",
	}
	w.Cache.Put(d)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO var_000001").WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	now := time.Now().UTC()
	sample := &types.Sample{
		ID: "weather:temperature", Type: types.ElementFloat64, Sampling: 1, Unit: "K",
		Values: []any{294.0}, GrabTime: now, UpdateTime: now,
	}

	require.NoError(t, w.Write(ctx, sample))
	require.NoError(t, mock.ExpectationsWereMet())
}

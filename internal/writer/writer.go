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

// Package writer is the SQL Writer (spec §4.4): it consumes samples
// from the Queue and persists each to PostgreSQL, evolving the target
// schema as needed along the way. The original's sqlInsertVariable /
// sqlAddColumns / sqlChangeType / sqlAddValues / sqlAddMeta each ran
// their own transaction; this package keeps that grouping so a failure
// partway through never leaves a table half-altered.
package writer

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/Smithsonian/smax-postgres/internal/descriptor"
	"github.com/Smithsonian/smax-postgres/internal/queue"
	"github.com/Smithsonian/smax-postgres/internal/sqltype"
	"github.com/Smithsonian/smax-postgres/internal/types"
)

// pooler is the subset of pgxpool.Pool this package calls directly; all
// other statements run against the pgx.Tx it hands back, so tests can
// supply a pgxmock pool in its place.
type pooler interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

var _ pooler = (*pgxpool.Pool)(nil)

// timestampLayout matches PostgreSQL's default timestamptz text output
// closely enough for direct literal embedding in an INSERT statement.
const timestampLayout = "2006-01-02 15:04:05.999999Z07:00"

// Writer persists queued samples to PostgreSQL, creating and evolving
// each variable's table as needed (spec §4.4).
type Writer struct {
	DB             pooler
	Cache          *descriptor.Cache
	UseHyperTables bool

	// MaxSizeBytes is the size ceiling a non-forced sample's estimated
	// footprint must stay under to be written (spec §4.4 step 2). <= 0
	// disables the check.
	MaxSizeBytes int
}

// New returns a Writer backed by db and cache.
func New(db pooler, cache *descriptor.Cache, useHyperTables bool, maxSizeBytes int) *Writer {
	return &Writer{DB: db, Cache: cache, UseHyperTables: useHyperTables, MaxSizeBytes: maxSizeBytes}
}

// Run drains q until ctx is done, writing each sample in turn. A sample
// that fails to write is logged and dropped; the original source's
// writer never retries a rolled-back sample (spec §7).
func (w *Writer) Run(ctx context.Context, q *queue.Queue) error {
	for {
		sample, err := q.Pop(ctx)
		if err != nil {
			return err
		}

		start := time.Now()
		if err := w.Write(ctx, sample); err != nil {
			log.WithError(err).WithField("id", sample.ID).Error("dropping sample: write failed")
			samplesDropped.WithLabelValues("write_error").Inc()
		}
		writeLatency.Observe(time.Since(start).Seconds())
	}
}

// Write resolves sample's table descriptor (creating it on first
// sight), evolves the schema to fit sample's type and shape, and
// commits the data row plus, if the metadata changed, a new metadata
// row, all in one transaction (spec §4.4 steps 1-8).
func (w *Writer) Write(ctx context.Context, sample *types.Sample) error {
	if !sample.Force && w.oversized(sample) {
		log.WithField("id", sample.ID).Warn("dropping oversize sample")
		samplesDropped.WithLabelValues("oversize").Inc()
		return nil
	}

	d, ok := w.Cache.Get(sample.ID)
	if !ok {
		var err error
		d, err = w.firstSight(ctx, sample)
		if err != nil {
			return errors.Wrap(err, "first sight")
		}
		w.Cache.Put(d)
	}

	wantType, err := sqltype.ColumnType(sample.Type)
	if err != nil {
		return err
	}

	if sqltype.Widens(d.SQLType, wantType) {
		if err := w.widenType(ctx, d, wantType); err != nil {
			return errors.Wrap(err, "widening column type")
		}
		schemaChanges.WithLabelValues("widen_type").Inc()
	}

	needCols := sample.SampleCount()
	if needCols > d.Columns {
		if err := w.growColumns(ctx, d, needCols); err != nil {
			return errors.Wrap(err, "growing columns")
		}
		schemaChanges.WithLabelValues("grow_columns").Inc()
	}

	needMeta := d.NeedsMetaUpdate(sample)

	tx, err := w.DB.Begin(ctx)
	if err != nil {
		return errors.Wrap(err, "begin write transaction")
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback(ctx)
		}
	}()

	if err := insertRow(ctx, tx, d, sample); err != nil {
		return errors.Wrap(err, "inserting data row")
	}
	if needMeta {
		if err := insertMeta(ctx, tx, d, sample); err != nil {
			return errors.Wrap(err, "inserting metadata row")
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return errors.Wrap(err, "commit write transaction")
	}
	committed = true

	if needMeta {
		d.RecordMeta(sample)
	}
	rowsWritten.Inc()
	return nil
}

// oversized reports whether sample's post-stride footprint exceeds
// w.MaxSizeBytes (spec §4.4 step 2).
func (w *Writer) oversized(sample *types.Sample) bool {
	if w.MaxSizeBytes <= 0 {
		return false
	}
	return sample.SampleCount()*sqltype.BytesPerElement(sample.Type) > w.MaxSizeBytes
}

// firstSight creates a new variable: a titles row, its data table, an
// optional hypertable conversion, a uniqueness index on time, and its
// metadata table, all in one transaction (sqlInsertVariable in the
// original source).
func (w *Writer) firstSight(ctx context.Context, sample *types.Sample) (*descriptor.Descriptor, error) {
	tx, err := w.DB.Begin(ctx)
	if err != nil {
		return nil, err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback(ctx)
		}
	}()

	var tableID int
	err = tx.QueryRow(ctx,
		fmt.Sprintf("INSERT INTO %s (%s) VALUES ($1) RETURNING tid;", sqltype.MasterTable, sqltype.VarNameColumn),
		sample.ID).Scan(&tableID)
	if err != nil {
		return nil, errors.Wrap(err, "inserting title")
	}

	sqlType, err := sqltype.ColumnType(sample.Type)
	if err != nil {
		return nil, err
	}

	tableName := sqltype.DataTableName(tableID)
	colName := sqltype.ColumnName(0, 1)
	createSQL := fmt.Sprintf(
		"CREATE TABLE %s (time TIMESTAMPTZ NOT NULL, age INTEGER NOT NULL, %s %s);",
		tableName, colName, sqlType)
	if _, err := tx.Exec(ctx, createSQL); err != nil {
		return nil, errors.Wrap(err, "creating data table")
	}

	if w.UseHyperTables {
		hyperSQL := fmt.Sprintf(
			"SELECT create_hypertable('%s', 'time', chunk_time_interval => INTERVAL '3 days');", tableName)
		if _, err := tx.Exec(ctx, hyperSQL); err != nil {
			return nil, errors.Wrap(err, "converting to hypertable")
		}
	}

	idxSQL := fmt.Sprintf("CREATE UNIQUE INDEX %s_time_idx ON %s (time);", tableName, tableName)
	if _, err := tx.Exec(ctx, idxSQL); err != nil {
		return nil, errors.Wrap(err, "creating time index")
	}

	metaTable := sqltype.MetaTableName(tableID)
	metaSQL := fmt.Sprintf(
		"CREATE TABLE %s (meta_id SERIAL PRIMARY KEY, sampling INTEGER NOT NULL, ndim INTEGER NOT NULL, shape TEXT, unit TEXT, valid_from TIMESTAMPTZ NOT NULL DEFAULT now());",
		metaTable)
	if _, err := tx.Exec(ctx, metaSQL); err != nil {
		return nil, errors.Wrap(err, "creating metadata table")
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, errors.Wrap(err, "commit first sight")
	}
	committed = true

	return &descriptor.Descriptor{
		ID:      sample.ID,
		TableID: tableID,
		Columns: 1,
		SQLType: sqlType,
	}, nil
}

// widenType alters every existing array-data column to newType, in its
// own transaction (sqlChangeType in the original source).
func (w *Writer) widenType(ctx context.Context, d *descriptor.Descriptor, newType string) error {
	tx, err := w.DB.Begin(ctx)
	if err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback(ctx)
		}
	}()

	tableName := sqltype.DataTableName(d.TableID)
	for i := 0; i < d.Columns; i++ {
		col := sqltype.ColumnName(i, d.Columns)
		stmt := fmt.Sprintf("ALTER TABLE %s ALTER COLUMN %s TYPE %s USING %s::%s;",
			tableName, col, newType, col, newType)
		if _, err := tx.Exec(ctx, stmt); err != nil {
			return errors.Wrapf(err, "widening column %s", col)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return err
	}
	committed = true
	d.SQLType = newType
	return nil
}

// growColumns renames the existing array-data columns if the new
// column count needs a wider digit width, then adds columns up to
// needCols, in its own transaction (sqlAddColumns in the original
// source).
func (w *Writer) growColumns(ctx context.Context, d *descriptor.Descriptor, needCols int) error {
	tx, err := w.DB.Begin(ctx)
	if err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback(ctx)
		}
	}()

	tableName := sqltype.DataTableName(d.TableID)
	if sqltype.ColumnDigits(needCols) != sqltype.ColumnDigits(d.Columns) {
		for i := 0; i < d.Columns; i++ {
			oldName := sqltype.ColumnName(i, d.Columns)
			newName := sqltype.ColumnName(i, needCols)
			if oldName == newName {
				continue
			}
			stmt := fmt.Sprintf("ALTER TABLE %s RENAME COLUMN %s TO %s;", tableName, oldName, newName)
			if _, err := tx.Exec(ctx, stmt); err != nil {
				return errors.Wrapf(err, "renaming column %s", oldName)
			}
		}
	}
	for i := d.Columns; i < needCols; i++ {
		col := sqltype.ColumnName(i, needCols)
		stmt := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s;", tableName, col, d.SQLType)
		if _, err := tx.Exec(ctx, stmt); err != nil {
			return errors.Wrapf(err, "adding column %s", col)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return err
	}
	committed = true
	d.Columns = needCols
	return nil
}

// sampledValues applies sample's downsampling stride to its Values,
// returning the subset that is actually written to the database
// (spec P6).
func sampledValues(sample *types.Sample) []any {
	stride := sample.Sampling
	if stride < 1 {
		stride = 1
	}
	out := make([]any, 0, (len(sample.Values)+stride-1)/stride)
	for i := 0; i < len(sample.Values); i += stride {
		out = append(out, sample.Values[i])
	}
	return out
}

func insertRow(ctx context.Context, tx pgx.Tx, d *descriptor.Descriptor, sample *types.Sample) error {
	tableName := sqltype.DataTableName(d.TableID)
	values := sampledValues(sample)

	colNames := make([]string, 0, len(values)+2)
	lits := make([]string, 0, len(values)+2)
	colNames = append(colNames, "time", "age")
	lits = append(lits, sqltype.FormatLiteral(sample.GrabTime.UTC().Format(timestampLayout), types.ElementString),
		strconv.Itoa(sample.Age()))

	for i, v := range values {
		colNames = append(colNames, sqltype.ColumnName(i, d.Columns))
		lits = append(lits, sqltype.FormatLiteral(v, sample.Type))
	}

	stmt := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s);",
		tableName, strings.Join(colNames, ", "), strings.Join(lits, ", "))
	_, err := tx.Exec(ctx, stmt)
	return err
}

func insertMeta(ctx context.Context, tx pgx.Tx, d *descriptor.Descriptor, sample *types.Sample) error {
	metaTable := sqltype.MetaTableName(d.TableID)
	ndim := sample.CanonicalNDim()

	shapeLit := "NULL"
	if ndim > 0 {
		parts := make([]string, ndim)
		for i := 0; i < ndim; i++ {
			parts[i] = strconv.Itoa(sample.Shape[i])
		}
		shapeLit = sqltype.FormatLiteral(strings.Join(parts, ","), types.ElementString)
	}

	unitLit := "NULL"
	if sample.Unit != "" {
		unitLit = sqltype.FormatLiteral(sample.Unit, types.ElementString)
	}

	stmt := fmt.Sprintf(
		"INSERT INTO %s (sampling, ndim, shape, unit) VALUES (%d, %d, %s, %s);",
		metaTable, sample.Sampling, ndim, shapeLit, unitLit)
	_, err := tx.Exec(ctx, stmt)
	return err
}

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
	"strconv"
	"strings"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/Smithsonian/smax-postgres/internal/sqltype"
)

// querier is the subset of pgxpool.Pool (or pgx.Tx) used by this
// package, so tests can exercise it against pgxmock.
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgx.CommandTag, error)
}

// Cache is the in-memory Table Descriptor Cache described by spec
// §4.3: a bounded map from variable id to Descriptor, rebuilt at
// startup from the master titles table and information_schema, and
// kept up to date as samples flow through the writer.
//
// The cache has no eviction; exceeding Limit is a logged warning, not
// an error — variables past the ceiling are still written to the
// database on every sample, they are simply never cached, so each
// write re-resolves the descriptor from the database (Design Notes,
// Open Question resolution).
type Cache struct {
	mu    sync.RWMutex
	byID  map[string]*Descriptor
	Limit int
}

// New returns an empty Cache with the given entry-count ceiling. A
// limit <= 0 means unbounded.
func New(limit int) *Cache {
	return &Cache{byID: make(map[string]*Descriptor), Limit: limit}
}

// Get returns the cached descriptor for id, if any.
func (c *Cache) Get(id string) (*Descriptor, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	d, ok := c.byID[id]
	return d, ok
}

// Put inserts or replaces the cached descriptor for d.ID. If the cache
// is already at its limit and d.ID is not already present, the entry is
// dropped and a warning logged (still usable uncached by the caller).
func (c *Cache) Put(d *Descriptor) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.byID[d.ID]; !exists && c.Limit > 0 && len(c.byID) >= c.Limit {
		log.WithField("id", d.ID).Warn("descriptor cache at capacity, not caching new variable")
		return
	}
	c.byID[d.ID] = d
}

// Delete removes id from the cache, if present (used by
// DeleteVariables when a variable's tables are dropped).
func (c *Cache) Delete(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.byID, id)
}

// Len returns the number of cached descriptors.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.byID)
}

// Rebuild scans the master titles table and information_schema to
// reconstruct the cache from the database's current state at startup
// (initCache in the original source). For each titled variable it
// determines the current column count and SQL element type from the
// first data column (the first column whose name starts with "c"),
// repairs any column names that don't match
// the canonical digit-width naming for that column count (an
// ALTER TABLE ... RENAME COLUMN per mismatched column, spec §4.3), and
// fetches the most recently written metadata row.
func (c *Cache) Rebuild(ctx context.Context, db querier) error {
	rows, err := db.Query(ctx, fmt.Sprintf("SELECT %s, tid FROM %s;", sqltype.VarNameColumn, sqltype.MasterTable))
	if err != nil {
		return errors.Wrap(err, "querying titles")
	}
	defer rows.Close()

	type titleRow struct {
		id      string
		tableID int
	}
	var titles []titleRow
	for rows.Next() {
		var r titleRow
		if err := rows.Scan(&r.id, &r.tableID); err != nil {
			return errors.Wrap(err, "scanning titles row")
		}
		titles = append(titles, r)
	}
	if err := rows.Err(); err != nil {
		return errors.Wrap(err, "reading titles")
	}

	log.Infof("found %d titles in database", len(titles))

	for _, title := range titles {
		if err := c.rebuildOne(ctx, db, title.id, title.tableID); err != nil {
			log.WithError(err).WithField("id", title.id).Warn("could not rebuild descriptor")
		}
	}
	return nil
}

func (c *Cache) rebuildOne(ctx context.Context, db querier, id string, tableID int) error {
	tableName := sqltype.DataTableName(tableID)

	rows, err := db.Query(ctx,
		`SELECT column_name, data_type FROM information_schema.columns WHERE table_name = $1 ORDER BY ordinal_position;`,
		tableName)
	if err != nil {
		return errors.Wrap(err, "querying information_schema.columns")
	}

	type col = struct {
		name string
		typ  string
	}
	var cols []col
	for rows.Next() {
		var cl col
		if err := rows.Scan(&cl.name, &cl.typ); err != nil {
			rows.Close()
			return errors.Wrap(err, "scanning column row")
		}
		cols = append(cols, cl)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return errors.Wrap(err, "reading columns")
	}

	firstDataCol := -1
	for i, cl := range cols {
		if strings.HasPrefix(cl.name, "c") {
			firstDataCol = i
			break
		}
	}
	if firstDataCol < 0 {
		// Not a data table (no array columns yet, or not a variable table).
		return nil
	}

	dataCols := cols[firstDataCol:]
	sqlType := strings.ToUpper(dataCols[0].typ)
	sqlType = canonicalizeInformationSchemaType(sqlType)

	if err := c.repairColumnNames(ctx, db, tableID, tableName, dataCols); err != nil {
		return err
	}

	d := &Descriptor{
		ID:      id,
		TableID: tableID,
		Columns: len(dataCols),
		SQLType: sqlType,
	}

	if err := fetchLastMeta(ctx, db, d); err != nil {
		log.WithError(err).WithField("id", id).Debug("no metadata row found")
	}

	c.Put(d)
	return nil
}

// canonicalizeInformationSchemaType maps PostgreSQL's
// information_schema.columns.data_type spelling (e.g. "double
// precision", "character varying") to the SQL type names this package
// emits elsewhere (shorten() in the original source).
func canonicalizeInformationSchemaType(t string) string {
	switch t {
	case "DOUBLE PRECISION":
		return sqltype.DoublePrec
	case "REAL":
		return sqltype.Real
	case "SMALLINT":
		return sqltype.SmallInt
	case "INTEGER":
		return sqltype.Integer
	case "BIGINT":
		return sqltype.BigInt
	case "BOOLEAN":
		return sqltype.Boolean
	case "TEXT":
		return sqltype.Text
	default:
		if strings.HasPrefix(t, "CHARACTER VARYING") {
			return strings.Replace(t, "CHARACTER VARYING", "VARCHAR", 1)
		}
		return t
	}
}

// repairColumnNames renames any data column whose name doesn't match
// the canonical c<NNN> form for the current column count.
func (c *Cache) repairColumnNames(ctx context.Context, db querier, tableID int, tableName string, cols []struct {
	name string
	typ  string
}) error {
	n := len(cols)
	for i, cl := range cols {
		want := sqltype.ColumnName(i, n)
		if cl.name == want {
			continue
		}
		log.Warnf("repairing column name %s.%s -> %s", tableName, cl.name, want)
		_, err := db.Exec(ctx, fmt.Sprintf("ALTER TABLE %s RENAME COLUMN %s TO %s;", tableName, cl.name, want))
		if err != nil {
			return errors.Wrapf(err, "renaming column %s.%s", tableName, cl.name)
		}
	}
	_ = tableID
	return nil
}

// fetchLastMeta loads the most recently inserted metadata row for d's
// table into d (sqlGetLastMeta in the original source).
func fetchLastMeta(ctx context.Context, db querier, d *Descriptor) error {
	metaTable := sqltype.MetaTableName(d.TableID)
	row := db.QueryRow(ctx, fmt.Sprintf(
		"SELECT meta_id, sampling, ndim, shape, unit FROM %s ORDER BY meta_id DESC LIMIT 1;", metaTable))

	var metaVersion, sampling, ndim int
	var shape, unit *string
	if err := row.Scan(&metaVersion, &sampling, &ndim, &shape, &unit); err != nil {
		return err
	}

	d.HasMeta = true
	d.MetaVersion = metaVersion
	d.Sampling = sampling
	d.NDim = ndim
	if ndim > 0 && shape != nil {
		parseShapeInto(*shape, &d.Shape)
	}
	if unit != nil {
		d.Unit = *unit
	}
	return nil
}

// parseShapeInto parses a comma-separated dimension list, e.g. "4,8",
// into dst, leaving any unfilled entries at zero (xParseDims in the
// original source).
func parseShapeInto(s string, dst *[MaxDims]int) {
	fields := strings.Split(s, ",")
	for i, f := range fields {
		if i >= MaxDims {
			break
		}
		v, err := strconv.Atoi(strings.TrimSpace(f))
		if err != nil {
			continue
		}
		dst[i] = v
	}
}

var _ querier = (*pgxpool.Pool)(nil)

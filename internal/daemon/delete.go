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

package daemon

import (
	"context"
	"fmt"

	"github.com/gobwas/glob"
	"github.com/pkg/errors"

	"github.com/Smithsonian/smax-postgres/internal/sqltype"
)

// newPatternMatcher compiles pattern with the same no-op separator as
// config.RuleSet's glob rules: ids are "table:key" strings and never
// contain '/', so '*' must be free to cross the ':' the way fnmatch's
// default flags do in the original source, and glob.Compile(pattern,
// ':') would wrongly stop '*' at every separator.
func newPatternMatcher(pattern string) (glob.Glob, error) {
	g, err := glob.Compile(pattern, '/')
	if err != nil {
		return nil, errors.Wrapf(err, "invalid pattern %q", pattern)
	}
	return g, nil
}

// deleteOne drops tableID's data and metadata tables and its titles
// row in a single transaction, so a crash mid-delete never leaves a
// dangling data table with no titles entry.
func (d *Daemon) deleteOne(ctx context.Context, id string, tableID int) error {
	tx, err := d.DB.Begin(ctx)
	if err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback(ctx)
		}
	}()

	metaTable := sqltype.MetaTableName(tableID)
	dataTable := sqltype.DataTableName(tableID)

	if _, err := tx.Exec(ctx, fmt.Sprintf("DROP TABLE IF EXISTS %s;", metaTable)); err != nil {
		return errors.Wrapf(err, "dropping %s", metaTable)
	}
	if _, err := tx.Exec(ctx, fmt.Sprintf("DROP TABLE IF EXISTS %s;", dataTable)); err != nil {
		return errors.Wrapf(err, "dropping %s", dataTable)
	}
	if _, err := tx.Exec(ctx, fmt.Sprintf("DELETE FROM %s WHERE tid = $1;", sqltype.MasterTable), tableID); err != nil {
		return errors.Wrapf(err, "deleting titles row for %s", id)
	}

	if err := tx.Commit(ctx); err != nil {
		return err
	}
	committed = true
	return nil
}

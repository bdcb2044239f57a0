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

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/Smithsonian/smax-postgres/internal/sdnotify"
	"github.com/Smithsonian/smax-postgres/internal/sqltype"
)

// Bootstrap ensures the master titles table (and, if configured, the
// TimescaleDB extension) exist, then rebuilds the descriptor cache from
// whatever variables are already in the database.
func (d *Daemon) Bootstrap(ctx context.Context) error {
	sdnotify.Status(sdnotify.StateBootstrap)

	if d.Config.UseHyperTables {
		if _, err := d.DB.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS timescaledb;"); err != nil {
			return errors.Wrap(err, "creating timescaledb extension")
		}
	}

	titlesSQL := fmt.Sprintf(
		"CREATE TABLE IF NOT EXISTS %s (tid SERIAL PRIMARY KEY, %s TEXT NOT NULL UNIQUE);",
		sqltype.MasterTable, sqltype.VarNameColumn)
	if _, err := d.DB.Exec(ctx, titlesSQL); err != nil {
		return errors.Wrap(err, "creating titles table")
	}

	if err := d.Cache.Rebuild(ctx, d.DB); err != nil {
		return errors.Wrap(err, "rebuilding descriptor cache")
	}
	log.Infof("descriptor cache warm with %d variables", d.Cache.Len())
	return nil
}

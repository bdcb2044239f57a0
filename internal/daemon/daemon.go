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

// Package daemon wires together the Grabber, Queue, SQL Writer, Table
// Descriptor Cache and Rule Engine into the running smax-postgres
// process (spec §1, §5), handling startup connection retries, the
// schema bootstrap, and graceful shutdown.
package daemon

import (
	"context"
	"fmt"
	"net/url"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/Smithsonian/smax-postgres/internal/config"
	"github.com/Smithsonian/smax-postgres/internal/connect"
	"github.com/Smithsonian/smax-postgres/internal/descriptor"
	"github.com/Smithsonian/smax-postgres/internal/grabber"
	"github.com/Smithsonian/smax-postgres/internal/queue"
	"github.com/Smithsonian/smax-postgres/internal/ruleengine"
	"github.com/Smithsonian/smax-postgres/internal/sdnotify"
	"github.com/Smithsonian/smax-postgres/internal/source"
	"github.com/Smithsonian/smax-postgres/internal/sqltype"
	"github.com/Smithsonian/smax-postgres/internal/writer"
)

// queueCapacity bounds the number of samples the Grabber may get ahead
// of the Writer by before Push blocks.
const queueCapacity = 4096

// Daemon owns every long-lived collaborator in the pipeline.
type Daemon struct {
	Config *config.Config

	DB          *pgxpool.Pool
	RedisClient redis.UniversalClient
	Source      source.Source

	Cache   *descriptor.Cache
	Rules   *ruleengine.Engine
	Queue   *queue.Queue
	Grabber *grabber.Grabber
	Writer  *writer.Writer
}

// New builds a Daemon from cfg. Source and SQL connections are
// established separately by Connect, so construction never blocks or
// fails on network state.
func New(cfg *config.Config) *Daemon {
	d := &Daemon{
		Config: cfg,
		Cache:  descriptor.New(cfg.DescriptorCacheLimit),
		Rules:  ruleengine.New(&cfg.Rules),
		Queue:  queue.New(queueCapacity),
	}
	return d
}

// Connect establishes the PostgreSQL and source-store connections,
// retrying each at its own fixed interval/attempt budget (spec §7)
// before giving up. It must succeed before Bootstrap or Run are called.
func (d *Daemon) Connect(ctx context.Context) error {
	if err := connect.Retry(ctx, "PostgreSQL", connect.SQLRetryInterval, connect.SQLMaxAttempts,
		func(ctx context.Context) error {
			pool, err := pgxpool.New(ctx, dsn(d.Config))
			if err != nil {
				return errors.WithStack(err)
			}
			if err := pool.Ping(ctx); err != nil {
				pool.Close()
				return errors.WithStack(err)
			}
			d.DB = pool
			return nil
		}); err != nil {
		return err
	}

	if err := connect.Retry(ctx, "source store", connect.SourceRetryInterval, connect.SourceMaxAttempts,
		func(ctx context.Context) error {
			client := redis.NewClient(&redis.Options{Addr: d.Config.SMAXServer})
			if err := client.Ping(ctx).Err(); err != nil {
				_ = client.Close()
				return errors.WithStack(err)
			}
			d.RedisClient = client
			d.Source = source.NewRedisSource(client)
			return nil
		}); err != nil {
		return err
	}

	d.Grabber = grabber.New(d.Source, d.Queue, d.Rules, d.Config)
	d.Writer = writer.New(d.DB, d.Cache, d.Config.UseHyperTables, d.Config.MaxSizeBytes)
	return nil
}

// dsn renders cfg's SQL connection fields as a libpq connection URI.
func dsn(cfg *config.Config) string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(cfg.SQLUser, cfg.SQLAuth),
		Host:   cfg.SQLServer,
		Path:   "/" + cfg.SQLDB,
	}
	return u.String()
}

// Run starts the Grabber and Writer and blocks until ctx is done or
// either one returns an error. Connect and Bootstrap must have
// succeeded first.
func (d *Daemon) Run(ctx context.Context) error {
	eg, ctx := errgroup.WithContext(ctx)

	eg.Go(func() error { return d.Writer.Run(ctx, d.Queue) })
	eg.Go(func() error { return d.Grabber.Run(ctx) })

	sdnotify.Ready()
	sdnotify.Status(sdnotify.StateIdle)
	log.Info("smax-postgres running")

	err := eg.Wait()
	sdnotify.Stopping()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Close releases the daemon's connections.
func (d *Daemon) Close() {
	if d.DB != nil {
		d.DB.Close()
	}
	if d.RedisClient != nil {
		_ = d.RedisClient.Close()
	}
}

// DeleteVariables drops every variable whose id matches pattern: its
// data table, its metadata table, its titles row and its cache entry,
// each within one transaction (deleteVars/sqlDeleteVar in the original
// source). It returns the number of variables removed.
func (d *Daemon) DeleteVariables(ctx context.Context, pattern string) (int, error) {
	ids, err := d.matchingTitles(ctx, pattern)
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, v := range ids {
		if err := d.deleteOne(ctx, v.id, v.tableID); err != nil {
			log.WithError(err).WithField("id", v.id).Error("could not delete variable")
			continue
		}
		d.Cache.Delete(v.id)
		removed++
	}
	return removed, nil
}

type titleMatch struct {
	id      string
	tableID int
}

func (d *Daemon) matchingTitles(ctx context.Context, pattern string) ([]titleMatch, error) {
	g, err := newPatternMatcher(pattern)
	if err != nil {
		return nil, err
	}

	rows, err := d.DB.Query(ctx, fmt.Sprintf("SELECT %s, tid FROM %s;", sqltype.VarNameColumn, sqltype.MasterTable))
	if err != nil {
		return nil, errors.Wrap(err, "querying titles")
	}
	defer rows.Close()

	var out []titleMatch
	for rows.Next() {
		var m titleMatch
		if err := rows.Scan(&m.id, &m.tableID); err != nil {
			return nil, errors.Wrap(err, "scanning titles row")
		}
		if g.Match(m.id) {
			out = append(out, m)
		}
	}
	return out, rows.Err()
}

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

// Package connect is the Connection Manager (spec §7): it retries a
// failed connection attempt at a fixed interval, for a bounded number
// of attempts, logging each failure, before giving up.
package connect

import (
	"context"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// Retry calls attempt repeatedly, waiting interval between failures,
// until it succeeds, ctx is done, or maxAttempts have been made. what
// names the target in log messages ("PostgreSQL", "source store").
func Retry(ctx context.Context, what string, interval time.Duration, maxAttempts int, attempt func(ctx context.Context) error) error {
	var lastErr error
	for n := 1; n <= maxAttempts; n++ {
		if err := attempt(ctx); err == nil {
			return nil
		} else {
			lastErr = err
			log.WithError(err).WithField("attempt", n).Warnf("could not connect to %s, retrying", what)
		}

		if n == maxAttempts {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}
	}
	return errors.Wrapf(lastErr, "could not connect to %s after %d attempts", what, maxAttempts)
}

// SQL connection-retry parameters (spec §7): the SQL backend gets a
// full minute between attempts for up to an hour, since a PostgreSQL
// restart or failover can legitimately take that long.
const (
	SQLRetryInterval = 60 * time.Second
	SQLMaxAttempts   = 60
)

// Source store connection-retry parameters (spec §7): a much shorter
// budget, since the source store restarting is not expected to take
// more than a minute.
const (
	SourceRetryInterval = 3 * time.Second
	SourceMaxAttempts   = 20
)
